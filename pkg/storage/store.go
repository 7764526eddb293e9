package storage

import (
	"context"
	"time"
)

// TenantRecord is one guild's configuration for monitoring a single GitHub
// repository. The same repo_name may appear in many guilds; inbound payloads
// carry no guild ID, so every enabled tenant for a repository is a candidate
// for one delivery.
type TenantRecord struct {
	ID            uint
	RepoName      string
	GuildID       int64
	WebhookSecret string
	CategoryID    *int64
	Enabled       bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// DestinationRecord routes one (tenant, event type) pair to a Discord channel.
type DestinationRecord struct {
	ID        uint
	TenantID  uint
	EventType string
	ChannelID int64
	Enabled   bool
	CreatedAt time.Time
}

// FilterRecord holds a tenant's optional inclusion rules and display
// preferences. Filters are comma-separated allow-lists; empty means allow
// everything, "*" matches everything.
type FilterRecord struct {
	ID           uint
	TenantID     uint
	BranchFilter string
	LabelFilter  string
	AuthorFilter string
	MentionRoles string
	MentionUsers string
	RuleExpr     string
	EmbedColor   string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ConfigReader is the read-only view of the configuration store consumed by
// the dispatch pipeline. Implementations must support concurrent reads.
type ConfigReader interface {
	FindTenantsByRepoName(ctx context.Context, repoName string) ([]TenantRecord, error)
	GetDestination(ctx context.Context, tenantID uint, eventType string) (*DestinationRecord, error)
	GetFilterConfig(ctx context.Context, tenantID uint) (*FilterRecord, error)
}

// Store is the full persistence interface. Writes originate only from the
// administration surface, never from the dispatch pipeline.
type Store interface {
	ConfigReader

	CreateTenant(ctx context.Context, record TenantRecord) (*TenantRecord, error)
	GetTenant(ctx context.Context, repoName string, guildID int64) (*TenantRecord, error)
	GetTenantByID(ctx context.Context, tenantID uint) (*TenantRecord, error)
	ListTenants(ctx context.Context, guildID int64) ([]TenantRecord, error)
	UpdateTenant(ctx context.Context, record TenantRecord) error
	// DeleteTenant removes a tenant along with its destinations and filter config.
	DeleteTenant(ctx context.Context, tenantID uint) error

	UpsertDestination(ctx context.Context, record DestinationRecord) error
	ListDestinations(ctx context.Context, tenantID uint) ([]DestinationRecord, error)
	DeleteDestination(ctx context.Context, tenantID uint, eventType string) error

	UpsertFilterConfig(ctx context.Context, record FilterRecord) error

	Close() error
}
