// Package api is the tenant administration surface. It is a client of the
// configuration store only; the dispatch pipeline never goes through it.
package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/jakedev796/github-notifier/pkg/format"
	"github.com/jakedev796/github-notifier/pkg/storage"
)

// TenantsHandler manages tenant records.
type TenantsHandler struct {
	Store  storage.Store
	Token  string
	Logger *log.Logger
}

func (h *TenantsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !authorized(w, r, h.Token) {
		return
	}
	if h.Store == nil {
		http.Error(w, "storage not configured", http.StatusServiceUnavailable)
		return
	}

	switch r.Method {
	case http.MethodGet:
		guildID, err := strconv.ParseInt(r.URL.Query().Get("guild_id"), 10, 64)
		if err != nil {
			http.Error(w, "missing or invalid guild_id", http.StatusBadRequest)
			return
		}
		tenants, err := h.Store.ListTenants(r.Context(), guildID)
		if err != nil {
			h.fail(w, "list tenants", err)
			return
		}
		writeJSON(w, http.StatusOK, tenantViews(tenants))
	case http.MethodPost:
		var req struct {
			RepoName      string `json:"repo_name"`
			GuildID       int64  `json:"guild_id"`
			WebhookSecret string `json:"webhook_secret"`
			CategoryID    *int64 `json:"category_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid JSON body", http.StatusBadRequest)
			return
		}
		created, err := h.Store.CreateTenant(r.Context(), storage.TenantRecord{
			RepoName:      req.RepoName,
			GuildID:       req.GuildID,
			WebhookSecret: req.WebhookSecret,
			CategoryID:    req.CategoryID,
			Enabled:       true,
		})
		if err != nil {
			h.fail(w, "create tenant", err)
			return
		}
		writeJSON(w, http.StatusCreated, tenantView(*created))
	case http.MethodPatch:
		var req struct {
			ID            uint    `json:"id"`
			WebhookSecret *string `json:"webhook_secret"`
			CategoryID    *int64  `json:"category_id"`
			Enabled       *bool   `json:"enabled"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid JSON body", http.StatusBadRequest)
			return
		}
		tenant, err := h.Store.GetTenantByID(r.Context(), req.ID)
		if err != nil {
			h.fail(w, "load tenant", err)
			return
		}
		if tenant == nil {
			http.Error(w, "tenant not found", http.StatusNotFound)
			return
		}
		if req.WebhookSecret != nil {
			tenant.WebhookSecret = *req.WebhookSecret
		}
		if req.CategoryID != nil {
			tenant.CategoryID = req.CategoryID
		}
		if req.Enabled != nil {
			tenant.Enabled = *req.Enabled
		}
		if err := h.Store.UpdateTenant(r.Context(), *tenant); err != nil {
			h.fail(w, "update tenant", err)
			return
		}
		writeJSON(w, http.StatusOK, tenantView(*tenant))
	case http.MethodDelete:
		id, err := strconv.ParseUint(r.URL.Query().Get("id"), 10, 32)
		if err != nil {
			http.Error(w, "missing or invalid id", http.StatusBadRequest)
			return
		}
		if err := h.Store.DeleteTenant(r.Context(), uint(id)); err != nil {
			h.fail(w, "delete tenant", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *TenantsHandler) fail(w http.ResponseWriter, op string, err error) {
	if h.Logger != nil {
		h.Logger.Printf("%s failed: %v", op, err)
	}
	http.Error(w, op+" failed", http.StatusInternalServerError)
}

// DestinationsHandler manages (tenant, event type) → channel mappings.
type DestinationsHandler struct {
	Store  storage.Store
	Token  string
	Logger *log.Logger
}

func (h *DestinationsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !authorized(w, r, h.Token) {
		return
	}
	if h.Store == nil {
		http.Error(w, "storage not configured", http.StatusServiceUnavailable)
		return
	}

	switch r.Method {
	case http.MethodGet:
		tenantID, err := strconv.ParseUint(r.URL.Query().Get("tenant_id"), 10, 32)
		if err != nil {
			http.Error(w, "missing or invalid tenant_id", http.StatusBadRequest)
			return
		}
		destinations, err := h.Store.ListDestinations(r.Context(), uint(tenantID))
		if err != nil {
			h.fail(w, "list destinations", err)
			return
		}
		writeJSON(w, http.StatusOK, destinations)
	case http.MethodPut:
		var req struct {
			TenantID  uint   `json:"tenant_id"`
			EventType string `json:"event_type"`
			ChannelID int64  `json:"channel_id"`
			Enabled   *bool  `json:"enabled"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid JSON body", http.StatusBadRequest)
			return
		}
		if !format.Supported(req.EventType) {
			http.Error(w, "unsupported event type", http.StatusBadRequest)
			return
		}
		enabled := true
		if req.Enabled != nil {
			enabled = *req.Enabled
		}
		err := h.Store.UpsertDestination(r.Context(), storage.DestinationRecord{
			TenantID:  req.TenantID,
			EventType: req.EventType,
			ChannelID: req.ChannelID,
			Enabled:   enabled,
		})
		if err != nil {
			h.fail(w, "upsert destination", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case http.MethodDelete:
		tenantID, err := strconv.ParseUint(r.URL.Query().Get("tenant_id"), 10, 32)
		if err != nil {
			http.Error(w, "missing or invalid tenant_id", http.StatusBadRequest)
			return
		}
		eventType := r.URL.Query().Get("event_type")
		if eventType == "" {
			http.Error(w, "missing event_type", http.StatusBadRequest)
			return
		}
		if err := h.Store.DeleteDestination(r.Context(), uint(tenantID), eventType); err != nil {
			h.fail(w, "delete destination", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *DestinationsHandler) fail(w http.ResponseWriter, op string, err error) {
	if h.Logger != nil {
		h.Logger.Printf("%s failed: %v", op, err)
	}
	http.Error(w, op+" failed", http.StatusInternalServerError)
}

// FiltersHandler manages per-tenant filter configuration.
type FiltersHandler struct {
	Store  storage.Store
	Token  string
	Logger *log.Logger
}

func (h *FiltersHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !authorized(w, r, h.Token) {
		return
	}
	if h.Store == nil {
		http.Error(w, "storage not configured", http.StatusServiceUnavailable)
		return
	}

	switch r.Method {
	case http.MethodGet:
		tenantID, err := strconv.ParseUint(r.URL.Query().Get("tenant_id"), 10, 32)
		if err != nil {
			http.Error(w, "missing or invalid tenant_id", http.StatusBadRequest)
			return
		}
		cfg, err := h.Store.GetFilterConfig(r.Context(), uint(tenantID))
		if err != nil {
			h.fail(w, "load filter config", err)
			return
		}
		if cfg == nil {
			http.Error(w, "filter config not found", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, cfg)
	case http.MethodPut:
		var req struct {
			TenantID     uint   `json:"tenant_id"`
			BranchFilter string `json:"branch_filter"`
			LabelFilter  string `json:"label_filter"`
			AuthorFilter string `json:"author_filter"`
			MentionRoles string `json:"mention_roles"`
			MentionUsers string `json:"mention_users"`
			RuleExpr     string `json:"rule_expr"`
			EmbedColor   string `json:"embed_color"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid JSON body", http.StatusBadRequest)
			return
		}
		if req.EmbedColor != "" {
			if _, err := format.ParseColor(req.EmbedColor); err != nil {
				http.Error(w, "invalid embed_color", http.StatusBadRequest)
				return
			}
		}
		err := h.Store.UpsertFilterConfig(r.Context(), storage.FilterRecord{
			TenantID:     req.TenantID,
			BranchFilter: req.BranchFilter,
			LabelFilter:  req.LabelFilter,
			AuthorFilter: req.AuthorFilter,
			MentionRoles: req.MentionRoles,
			MentionUsers: req.MentionUsers,
			RuleExpr:     req.RuleExpr,
			EmbedColor:   req.EmbedColor,
		})
		if err != nil {
			h.fail(w, "upsert filter config", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *FiltersHandler) fail(w http.ResponseWriter, op string, err error) {
	if h.Logger != nil {
		h.Logger.Printf("%s failed: %v", op, err)
	}
	http.Error(w, op+" failed", http.StatusInternalServerError)
}

// tenantView hides the webhook secret from list/read responses.
type tenantViewModel struct {
	ID         uint   `json:"id"`
	RepoName   string `json:"repo_name"`
	GuildID    int64  `json:"guild_id"`
	CategoryID *int64 `json:"category_id,omitempty"`
	Enabled    bool   `json:"enabled"`
}

func tenantView(record storage.TenantRecord) tenantViewModel {
	return tenantViewModel{
		ID:         record.ID,
		RepoName:   record.RepoName,
		GuildID:    record.GuildID,
		CategoryID: record.CategoryID,
		Enabled:    record.Enabled,
	}
}

func tenantViews(records []storage.TenantRecord) []tenantViewModel {
	views := make([]tenantViewModel, 0, len(records))
	for _, record := range records {
		views = append(views, tenantView(record))
	}
	return views
}

func authorized(w http.ResponseWriter, r *http.Request, token string) bool {
	if token == "" {
		http.Error(w, "admin api disabled", http.StatusForbidden)
		return false
	}
	header := r.Header.Get("Authorization")
	if strings.TrimPrefix(header, "Bearer ") == token {
		return true
	}
	if r.Header.Get("X-Admin-Token") == token {
		return true
	}
	http.Error(w, "unauthorized", http.StatusUnauthorized)
	return false
}

func writeJSON(w http.ResponseWriter, status int, value interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}
