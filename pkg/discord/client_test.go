package discord

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jakedev796/github-notifier/pkg/format"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(Config{Token: "bot-token", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

// TestNewClientRequiresToken tests that the client refuses to start without
// a bot token.
func TestNewClientRequiresToken(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Fatalf("expected missing token to fail")
	}
}

// TestChannel tests the channel lookup, including the auth header.
func TestChannel(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/channels/555" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bot bot-token" {
			t.Fatalf("unexpected auth header %q", r.Header.Get("Authorization"))
		}
		_ = json.NewEncoder(w).Encode(Channel{ID: "555", GuildID: "100", Name: "releases"})
	})

	channel, err := client.Channel(context.Background(), 555)
	if err != nil {
		t.Fatalf("channel: %v", err)
	}
	if channel.GuildID != "100" || channel.Name != "releases" {
		t.Fatalf("unexpected channel %+v", channel)
	}
}

// TestGuildRoles tests the role listing.
func TestGuildRoles(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/guilds/100/roles" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode([]Role{{ID: "900", Name: "oncall"}})
	})

	roles, err := client.GuildRoles(context.Background(), 100)
	if err != nil {
		t.Fatalf("guild roles: %v", err)
	}
	if len(roles) != 1 || roles[0].Name != "oncall" {
		t.Fatalf("unexpected roles %+v", roles)
	}
}

// TestSearchMembers tests the member search query encoding.
func TestSearchMembers(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/guilds/100/members/search" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("query"); got != "alice b" {
			t.Fatalf("unexpected query %q", got)
		}
		var member Member
		member.User.ID = "800"
		member.User.Username = "alice b"
		_ = json.NewEncoder(w).Encode([]Member{member})
	})

	members, err := client.SearchMembers(context.Background(), 100, "alice b")
	if err != nil {
		t.Fatalf("search members: %v", err)
	}
	if len(members) != 1 || members[0].User.ID != "800" {
		t.Fatalf("unexpected members %+v", members)
	}
}

// TestCreateMessage tests the message payload: content, embed fields, and
// the RFC3339 timestamp.
func TestCreateMessage(t *testing.T) {
	var captured map[string]interface{}
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/channels/555/messages" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode request body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	})

	msg := &format.Message{
		Title:     "Push to main",
		Color:     0x112233,
		Timestamp: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Footer:    "acme/widgets",
		Fields:    []format.Field{{Name: "Branch", Value: "main", Inline: true}},
	}
	if err := client.CreateMessage(context.Background(), 555, "<@&900>", msg); err != nil {
		t.Fatalf("create message: %v", err)
	}

	if captured["content"] != "<@&900>" {
		t.Fatalf("unexpected content %v", captured["content"])
	}
	embeds, _ := captured["embeds"].([]interface{})
	if len(embeds) != 1 {
		t.Fatalf("expected 1 embed, got %v", captured["embeds"])
	}
	embed, _ := embeds[0].(map[string]interface{})
	if embed["title"] != "Push to main" {
		t.Fatalf("unexpected embed title %v", embed["title"])
	}
	if embed["timestamp"] != "2024-05-01T12:00:00Z" {
		t.Fatalf("unexpected timestamp %v", embed["timestamp"])
	}
	footer, _ := embed["footer"].(map[string]interface{})
	if footer["text"] != "acme/widgets" {
		t.Fatalf("unexpected footer %v", embed["footer"])
	}
}

// TestCreateMessageRequiresEmbed tests that a nil message is rejected client
// side.
func TestCreateMessageRequiresEmbed(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("no request should be made")
	})
	if err := client.CreateMessage(context.Background(), 555, "", nil); err == nil {
		t.Fatalf("expected nil message to fail")
	}
}

// TestErrorIncludesBodySnippet tests that non-2xx responses surface the
// status and a snippet of the body.
func TestErrorIncludesBodySnippet(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"message":"Missing Access"}`))
	})

	_, err := client.Channel(context.Background(), 555)
	if err == nil {
		t.Fatalf("expected an error")
	}
	if got := err.Error(); !strings.Contains(got, "403") || !strings.Contains(got, "Missing Access") {
		t.Fatalf("expected status and body in error, got %q", got)
	}
}
