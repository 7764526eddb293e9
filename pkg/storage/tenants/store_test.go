package tenants

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/jakedev796/github-notifier/pkg/storage"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(Config{
		Driver:      "sqlite",
		DSN:         filepath.Join(t.TempDir(), "notifier.db"),
		AutoMigrate: true,
	})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// TestTenantLifecycle tests create, fetch, list, update, and delete of a
// tenant record.
func TestTenantLifecycle(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	created, err := store.CreateTenant(ctx, storage.TenantRecord{
		RepoName:      "acme/widgets",
		GuildID:       100,
		WebhookSecret: "secret",
		Enabled:       true,
	})
	if err != nil {
		t.Fatalf("create tenant: %v", err)
	}
	if created.ID == 0 {
		t.Fatalf("expected a generated tenant ID")
	}

	got, err := store.GetTenant(ctx, "acme/widgets", 100)
	if err != nil {
		t.Fatalf("get tenant: %v", err)
	}
	if got == nil || got.ID != created.ID {
		t.Fatalf("expected tenant %d, got %+v", created.ID, got)
	}

	byID, err := store.GetTenantByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("get tenant by id: %v", err)
	}
	if byID == nil || byID.RepoName != "acme/widgets" {
		t.Fatalf("unexpected tenant %+v", byID)
	}

	listed, err := store.ListTenants(ctx, 100)
	if err != nil {
		t.Fatalf("list tenants: %v", err)
	}
	if len(listed) != 1 {
		t.Fatalf("expected 1 tenant, got %d", len(listed))
	}

	created.WebhookSecret = "rotated"
	created.Enabled = false
	if err := store.UpdateTenant(ctx, *created); err != nil {
		t.Fatalf("update tenant: %v", err)
	}
	updated, _ := store.GetTenantByID(ctx, created.ID)
	if updated.WebhookSecret != "rotated" || updated.Enabled {
		t.Fatalf("expected updated secret and disabled flag, got %+v", updated)
	}

	if err := store.DeleteTenant(ctx, created.ID); err != nil {
		t.Fatalf("delete tenant: %v", err)
	}
	gone, err := store.GetTenantByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("get deleted tenant: %v", err)
	}
	if gone != nil {
		t.Fatalf("expected tenant to be gone, got %+v", gone)
	}
}

// TestCreateTenantValidation tests the required-field checks.
func TestCreateTenantValidation(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	if _, err := store.CreateTenant(ctx, storage.TenantRecord{GuildID: 100, WebhookSecret: "s"}); err == nil {
		t.Fatalf("expected missing repo_name to fail")
	}
	if _, err := store.CreateTenant(ctx, storage.TenantRecord{RepoName: "acme/widgets", WebhookSecret: "s"}); err == nil {
		t.Fatalf("expected missing guild_id to fail")
	}
	if _, err := store.CreateTenant(ctx, storage.TenantRecord{RepoName: "acme/widgets", GuildID: 100}); err == nil {
		t.Fatalf("expected missing webhook_secret to fail")
	}
}

// TestCreateTenantDuplicateKey tests that the (repo_name, guild_id) pair is
// unique while the same repository can exist in another guild.
func TestCreateTenantDuplicateKey(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	record := storage.TenantRecord{RepoName: "acme/widgets", GuildID: 100, WebhookSecret: "s", Enabled: true}
	if _, err := store.CreateTenant(ctx, record); err != nil {
		t.Fatalf("create tenant: %v", err)
	}
	if _, err := store.CreateTenant(ctx, record); err == nil {
		t.Fatalf("expected duplicate (repo, guild) to fail")
	}

	record.GuildID = 200
	if _, err := store.CreateTenant(ctx, record); err != nil {
		t.Fatalf("expected same repo in another guild to succeed: %v", err)
	}

	tenants, err := store.FindTenantsByRepoName(ctx, "acme/widgets")
	if err != nil {
		t.Fatalf("find tenants: %v", err)
	}
	if len(tenants) != 2 {
		t.Fatalf("expected 2 tenants for the repo, got %d", len(tenants))
	}
}

// TestDestinationUpsert tests that upserting the same (tenant, event type)
// pair replaces the channel instead of inserting a second row.
func TestDestinationUpsert(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	tenant, err := store.CreateTenant(ctx, storage.TenantRecord{
		RepoName: "acme/widgets", GuildID: 100, WebhookSecret: "s", Enabled: true,
	})
	if err != nil {
		t.Fatalf("create tenant: %v", err)
	}

	dest := storage.DestinationRecord{TenantID: tenant.ID, EventType: "push", ChannelID: 555, Enabled: true}
	if err := store.UpsertDestination(ctx, dest); err != nil {
		t.Fatalf("upsert destination: %v", err)
	}

	dest.ChannelID = 777
	if err := store.UpsertDestination(ctx, dest); err != nil {
		t.Fatalf("re-upsert destination: %v", err)
	}

	got, err := store.GetDestination(ctx, tenant.ID, "push")
	if err != nil {
		t.Fatalf("get destination: %v", err)
	}
	if got == nil || got.ChannelID != 777 {
		t.Fatalf("expected channel 777, got %+v", got)
	}

	listed, err := store.ListDestinations(ctx, tenant.ID)
	if err != nil {
		t.Fatalf("list destinations: %v", err)
	}
	if len(listed) != 1 {
		t.Fatalf("expected a single destination row, got %d", len(listed))
	}

	if err := store.DeleteDestination(ctx, tenant.ID, "push"); err != nil {
		t.Fatalf("delete destination: %v", err)
	}
	gone, err := store.GetDestination(ctx, tenant.ID, "push")
	if err != nil {
		t.Fatalf("get deleted destination: %v", err)
	}
	if gone != nil {
		t.Fatalf("expected destination to be gone")
	}
}

// TestFilterConfigUpsert tests the single-row-per-tenant filter config.
func TestFilterConfigUpsert(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	tenant, err := store.CreateTenant(ctx, storage.TenantRecord{
		RepoName: "acme/widgets", GuildID: 100, WebhookSecret: "s", Enabled: true,
	})
	if err != nil {
		t.Fatalf("create tenant: %v", err)
	}

	none, err := store.GetFilterConfig(ctx, tenant.ID)
	if err != nil {
		t.Fatalf("get filter config: %v", err)
	}
	if none != nil {
		t.Fatalf("expected no filter config yet")
	}

	cfg := storage.FilterRecord{TenantID: tenant.ID, BranchFilter: "main", EmbedColor: "0x112233"}
	if err := store.UpsertFilterConfig(ctx, cfg); err != nil {
		t.Fatalf("upsert filter config: %v", err)
	}

	cfg.BranchFilter = "main,develop"
	if err := store.UpsertFilterConfig(ctx, cfg); err != nil {
		t.Fatalf("re-upsert filter config: %v", err)
	}

	got, err := store.GetFilterConfig(ctx, tenant.ID)
	if err != nil {
		t.Fatalf("get filter config: %v", err)
	}
	if got == nil || got.BranchFilter != "main,develop" || got.EmbedColor != "0x112233" {
		t.Fatalf("unexpected filter config %+v", got)
	}
}

// TestDeleteTenantCascades tests that deleting a tenant removes its
// destinations and filter config.
func TestDeleteTenantCascades(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	tenant, err := store.CreateTenant(ctx, storage.TenantRecord{
		RepoName: "acme/widgets", GuildID: 100, WebhookSecret: "s", Enabled: true,
	})
	if err != nil {
		t.Fatalf("create tenant: %v", err)
	}
	if err := store.UpsertDestination(ctx, storage.DestinationRecord{
		TenantID: tenant.ID, EventType: "push", ChannelID: 555, Enabled: true,
	}); err != nil {
		t.Fatalf("upsert destination: %v", err)
	}
	if err := store.UpsertFilterConfig(ctx, storage.FilterRecord{
		TenantID: tenant.ID, BranchFilter: "main",
	}); err != nil {
		t.Fatalf("upsert filter config: %v", err)
	}

	if err := store.DeleteTenant(ctx, tenant.ID); err != nil {
		t.Fatalf("delete tenant: %v", err)
	}

	dest, err := store.GetDestination(ctx, tenant.ID, "push")
	if err != nil {
		t.Fatalf("get destination: %v", err)
	}
	if dest != nil {
		t.Fatalf("expected destinations to be cascaded")
	}
	cfg, err := store.GetFilterConfig(ctx, tenant.ID)
	if err != nil {
		t.Fatalf("get filter config: %v", err)
	}
	if cfg != nil {
		t.Fatalf("expected filter config to be cascaded")
	}
}

// TestNormalizeDriver tests the driver alias handling.
func TestNormalizeDriver(t *testing.T) {
	cases := map[string]string{
		"sqlite":     "sqlite",
		"sqlite3":    "sqlite",
		"Postgres":   "postgres",
		"postgresql": "postgres",
		"pgx":        "postgres",
		"mysql":      "mysql",
		"oracle":     "",
	}
	for input, want := range cases {
		if got := normalizeDriver(input); got != want {
			t.Fatalf("normalizeDriver(%q) = %q, want %q", input, got, want)
		}
	}
}
