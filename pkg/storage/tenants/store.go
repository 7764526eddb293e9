// Package tenants implements the configuration store on top of GORM.
package tenants

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jakedev796/github-notifier/pkg/storage"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Config mirrors the storage section of the application configuration.
type Config struct {
	Driver      string
	DSN         string
	AutoMigrate bool
}

// Store implements storage.Store on top of GORM.
type Store struct {
	db *gorm.DB
}

type tenantRow struct {
	ID            uint      `gorm:"column:id;primaryKey;autoIncrement"`
	RepoName      string    `gorm:"column:repo_name;size:255;not null;uniqueIndex:idx_tenant,priority:1"`
	GuildID       int64     `gorm:"column:guild_id;not null;uniqueIndex:idx_tenant,priority:2"`
	WebhookSecret string    `gorm:"column:webhook_secret;size:255;not null"`
	CategoryID    *int64    `gorm:"column:category_id"`
	Enabled       bool      `gorm:"column:enabled;default:true"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (tenantRow) TableName() string { return "tenants" }

type destinationRow struct {
	ID        uint      `gorm:"column:id;primaryKey;autoIncrement"`
	TenantID  uint      `gorm:"column:tenant_id;not null;uniqueIndex:idx_destination,priority:1"`
	EventType string    `gorm:"column:event_type;size:64;not null;uniqueIndex:idx_destination,priority:2"`
	ChannelID int64     `gorm:"column:channel_id;not null"`
	Enabled   bool      `gorm:"column:enabled;default:true"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (destinationRow) TableName() string { return "notification_channels" }

type filterRow struct {
	ID           uint      `gorm:"column:id;primaryKey;autoIncrement"`
	TenantID     uint      `gorm:"column:tenant_id;not null;uniqueIndex"`
	BranchFilter string    `gorm:"column:branch_filter;size:512"`
	LabelFilter  string    `gorm:"column:label_filter;size:512"`
	AuthorFilter string    `gorm:"column:author_filter;size:512"`
	MentionRoles string    `gorm:"column:mention_roles;size:512"`
	MentionUsers string    `gorm:"column:mention_users;size:512"`
	RuleExpr     string    `gorm:"column:rule_expr;size:1024"`
	EmbedColor   string    `gorm:"column:embed_color;size:16"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (filterRow) TableName() string { return "webhook_configs" }

// Open creates a GORM-backed configuration store.
func Open(cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, errors.New("storage dsn is required")
	}
	driver := normalizeDriver(cfg.Driver)
	if driver == "" {
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.Driver)
	}

	gormDB, err := openGorm(driver, cfg.DSN)
	if err != nil {
		return nil, err
	}

	store := &Store{db: gormDB}
	if cfg.AutoMigrate {
		if err := store.migrate(); err != nil {
			return nil, err
		}
	}
	return store, nil
}

// Close closes the underlying DB connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// FindTenantsByRepoName returns every tenant monitoring the given repository
// full name, across all guilds. No enabled or secret filtering happens here;
// authorization is the dispatcher's concern.
func (s *Store) FindTenantsByRepoName(ctx context.Context, repoName string) ([]storage.TenantRecord, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	var rows []tenantRow
	err := s.db.WithContext(ctx).
		Where("repo_name = ?", repoName).
		Order("guild_id").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	records := make([]storage.TenantRecord, 0, len(rows))
	for _, item := range rows {
		records = append(records, tenantFromRow(item))
	}
	return records, nil
}

// GetDestination fetches the channel mapping for a (tenant, event type) pair.
// Returns nil when no mapping exists.
func (s *Store) GetDestination(ctx context.Context, tenantID uint, eventType string) (*storage.DestinationRecord, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	var data destinationRow
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND event_type = ?", tenantID, eventType).
		Take(&data).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	record := destinationFromRow(data)
	return &record, nil
}

// GetFilterConfig fetches a tenant's filter configuration, or nil if the
// tenant has none.
func (s *Store) GetFilterConfig(ctx context.Context, tenantID uint) (*storage.FilterRecord, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	var data filterRow
	err := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Take(&data).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	record := filterFromRow(data)
	return &record, nil
}

// CreateTenant inserts a new tenant record.
func (s *Store) CreateTenant(ctx context.Context, record storage.TenantRecord) (*storage.TenantRecord, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	if record.RepoName == "" || record.GuildID == 0 {
		return nil, errors.New("repo_name and guild_id are required")
	}
	if record.WebhookSecret == "" {
		return nil, errors.New("webhook_secret is required")
	}
	data := tenantToRow(record)
	data.ID = 0
	if err := s.db.WithContext(ctx).Create(&data).Error; err != nil {
		return nil, err
	}
	created := tenantFromRow(data)
	return &created, nil
}

// GetTenant fetches a tenant by its (repo_name, guild_id) key.
func (s *Store) GetTenant(ctx context.Context, repoName string, guildID int64) (*storage.TenantRecord, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	var data tenantRow
	err := s.db.WithContext(ctx).
		Where("repo_name = ? AND guild_id = ?", repoName, guildID).
		Take(&data).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	record := tenantFromRow(data)
	return &record, nil
}

// GetTenantByID fetches a tenant by primary key.
func (s *Store) GetTenantByID(ctx context.Context, tenantID uint) (*storage.TenantRecord, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	var data tenantRow
	err := s.db.WithContext(ctx).
		Where("id = ?", tenantID).
		Take(&data).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	record := tenantFromRow(data)
	return &record, nil
}

// ListTenants lists a guild's tenants ordered by repository name.
func (s *Store) ListTenants(ctx context.Context, guildID int64) ([]storage.TenantRecord, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	var rows []tenantRow
	err := s.db.WithContext(ctx).
		Where("guild_id = ?", guildID).
		Order("repo_name").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	records := make([]storage.TenantRecord, 0, len(rows))
	for _, item := range rows {
		records = append(records, tenantFromRow(item))
	}
	return records, nil
}

// UpdateTenant updates a tenant's mutable fields by primary key.
func (s *Store) UpdateTenant(ctx context.Context, record storage.TenantRecord) error {
	if s == nil || s.db == nil {
		return errors.New("store is not initialized")
	}
	if record.ID == 0 {
		return errors.New("tenant id is required")
	}
	updates := map[string]interface{}{
		"webhook_secret": record.WebhookSecret,
		"category_id":    record.CategoryID,
		"enabled":        record.Enabled,
		"updated_at":     time.Now().UTC(),
	}
	return s.db.WithContext(ctx).
		Model(&tenantRow{}).
		Where("id = ?", record.ID).
		Updates(updates).Error
}

// DeleteTenant removes a tenant and cascades its destinations and filter
// config in one transaction.
func (s *Store) DeleteTenant(ctx context.Context, tenantID uint) error {
	if s == nil || s.db == nil {
		return errors.New("store is not initialized")
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("tenant_id = ?", tenantID).Delete(&destinationRow{}).Error; err != nil {
			return err
		}
		if err := tx.Where("tenant_id = ?", tenantID).Delete(&filterRow{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", tenantID).Delete(&tenantRow{}).Error
	})
}

// UpsertDestination inserts or replaces the channel mapping for a
// (tenant, event type) pair.
func (s *Store) UpsertDestination(ctx context.Context, record storage.DestinationRecord) error {
	if s == nil || s.db == nil {
		return errors.New("store is not initialized")
	}
	if record.TenantID == 0 || record.EventType == "" {
		return errors.New("tenant_id and event_type are required")
	}
	data := destinationToRow(record)
	data.ID = 0
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "event_type"}},
			DoUpdates: clause.AssignmentColumns([]string{"channel_id", "enabled"}),
		}).
		Create(&data).Error
}

// ListDestinations lists a tenant's channel mappings.
func (s *Store) ListDestinations(ctx context.Context, tenantID uint) ([]storage.DestinationRecord, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	var rows []destinationRow
	err := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("event_type").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	records := make([]storage.DestinationRecord, 0, len(rows))
	for _, item := range rows {
		records = append(records, destinationFromRow(item))
	}
	return records, nil
}

// DeleteDestination removes the mapping for a (tenant, event type) pair.
func (s *Store) DeleteDestination(ctx context.Context, tenantID uint, eventType string) error {
	if s == nil || s.db == nil {
		return errors.New("store is not initialized")
	}
	return s.db.WithContext(ctx).
		Where("tenant_id = ? AND event_type = ?", tenantID, eventType).
		Delete(&destinationRow{}).Error
}

// UpsertFilterConfig inserts or replaces a tenant's filter configuration.
func (s *Store) UpsertFilterConfig(ctx context.Context, record storage.FilterRecord) error {
	if s == nil || s.db == nil {
		return errors.New("store is not initialized")
	}
	if record.TenantID == 0 {
		return errors.New("tenant_id is required")
	}
	data := filterToRow(record)
	data.ID = 0
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "tenant_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"branch_filter", "label_filter", "author_filter",
				"mention_roles", "mention_users", "rule_expr", "embed_color", "updated_at",
			}),
		}).
		Create(&data).Error
}

func (s *Store) migrate() error {
	return s.db.AutoMigrate(&tenantRow{}, &destinationRow{}, &filterRow{})
}

func tenantToRow(record storage.TenantRecord) tenantRow {
	return tenantRow{
		ID:            record.ID,
		RepoName:      record.RepoName,
		GuildID:       record.GuildID,
		WebhookSecret: record.WebhookSecret,
		CategoryID:    record.CategoryID,
		Enabled:       record.Enabled,
		CreatedAt:     record.CreatedAt,
		UpdatedAt:     record.UpdatedAt,
	}
}

func tenantFromRow(data tenantRow) storage.TenantRecord {
	return storage.TenantRecord{
		ID:            data.ID,
		RepoName:      data.RepoName,
		GuildID:       data.GuildID,
		WebhookSecret: data.WebhookSecret,
		CategoryID:    data.CategoryID,
		Enabled:       data.Enabled,
		CreatedAt:     data.CreatedAt,
		UpdatedAt:     data.UpdatedAt,
	}
}

func destinationToRow(record storage.DestinationRecord) destinationRow {
	return destinationRow{
		ID:        record.ID,
		TenantID:  record.TenantID,
		EventType: record.EventType,
		ChannelID: record.ChannelID,
		Enabled:   record.Enabled,
		CreatedAt: record.CreatedAt,
	}
}

func destinationFromRow(data destinationRow) storage.DestinationRecord {
	return storage.DestinationRecord{
		ID:        data.ID,
		TenantID:  data.TenantID,
		EventType: data.EventType,
		ChannelID: data.ChannelID,
		Enabled:   data.Enabled,
		CreatedAt: data.CreatedAt,
	}
}

func filterToRow(record storage.FilterRecord) filterRow {
	return filterRow{
		ID:           record.ID,
		TenantID:     record.TenantID,
		BranchFilter: record.BranchFilter,
		LabelFilter:  record.LabelFilter,
		AuthorFilter: record.AuthorFilter,
		MentionRoles: record.MentionRoles,
		MentionUsers: record.MentionUsers,
		RuleExpr:     record.RuleExpr,
		EmbedColor:   record.EmbedColor,
		CreatedAt:    record.CreatedAt,
		UpdatedAt:    record.UpdatedAt,
	}
}

func filterFromRow(data filterRow) storage.FilterRecord {
	return storage.FilterRecord{
		ID:           data.ID,
		TenantID:     data.TenantID,
		BranchFilter: data.BranchFilter,
		LabelFilter:  data.LabelFilter,
		AuthorFilter: data.AuthorFilter,
		MentionRoles: data.MentionRoles,
		MentionUsers: data.MentionUsers,
		RuleExpr:     data.RuleExpr,
		EmbedColor:   data.EmbedColor,
		CreatedAt:    data.CreatedAt,
		UpdatedAt:    data.UpdatedAt,
	}
}

func normalizeDriver(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	switch value {
	case "postgres", "postgresql", "pgx":
		return "postgres"
	case "mysql":
		return "mysql"
	case "sqlite", "sqlite3":
		return "sqlite"
	default:
		return ""
	}
}

func openGorm(driver, dsn string) (*gorm.DB, error) {
	switch driver {
	case "postgres":
		return gorm.Open(postgres.Open(dsn), &gorm.Config{})
	case "mysql":
		return gorm.Open(mysql.Open(dsn), &gorm.Config{})
	case "sqlite":
		return gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", driver)
	}
}
