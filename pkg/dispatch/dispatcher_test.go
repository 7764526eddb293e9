package dispatch

import (
	"context"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/jakedev796/github-notifier/internal"
	"github.com/jakedev796/github-notifier/pkg/storage"
)

// stubReader serves canned tenant config to the dispatcher.
type stubReader struct {
	tenants      map[string][]storage.TenantRecord
	destinations map[uint]*storage.DestinationRecord
	filters      map[uint]*storage.FilterRecord
	err          error
}

func (s *stubReader) FindTenantsByRepoName(_ context.Context, repoName string) ([]storage.TenantRecord, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.tenants[repoName], nil
}

func (s *stubReader) GetDestination(_ context.Context, tenantID uint, _ string) (*storage.DestinationRecord, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.destinations[tenantID], nil
}

func (s *stubReader) GetFilterConfig(_ context.Context, tenantID uint) (*storage.FilterRecord, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.filters[tenantID], nil
}

// capturePublisher records published messages instead of queueing them.
type capturePublisher struct {
	topic    string
	messages []*message.Message
	err      error
}

func (p *capturePublisher) Publish(topic string, msgs ...*message.Message) error {
	if p.err != nil {
		return p.err
	}
	p.topic = topic
	p.messages = append(p.messages, msgs...)
	return nil
}

func (p *capturePublisher) Close() error { return nil }

func signedHeaders(body []byte, secret string) InboundHeaders {
	return InboundHeaders{
		EventType:  "push",
		DeliveryID: "delivery-1",
		Signature:  internal.SignBody(body, secret),
	}
}

// TestReceiveRejectsInvalidJSON tests that an unparseable body is rejected
// before any tenant lookup.
func TestReceiveRejectsInvalidJSON(t *testing.T) {
	d := NewDispatcher(&stubReader{}, &capturePublisher{}, "tasks", nil)

	_, err := d.Receive(context.Background(), []byte(`{not json`), InboundHeaders{EventType: "push"})
	if !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload, got %v", err)
	}
}

// TestReceiveRejectsMissingRepository tests that a payload without a
// repository full name is rejected.
func TestReceiveRejectsMissingRepository(t *testing.T) {
	d := NewDispatcher(&stubReader{}, &capturePublisher{}, "tasks", nil)

	_, err := d.Receive(context.Background(), []byte(`{"action":"opened"}`), InboundHeaders{EventType: "push"})
	if !errors.Is(err, ErrNoRepository) {
		t.Fatalf("expected ErrNoRepository, got %v", err)
	}
}

// TestReceiveRejectsUnknownRepository tests that a repository no tenant
// monitors is rejected.
func TestReceiveRejectsUnknownRepository(t *testing.T) {
	d := NewDispatcher(&stubReader{tenants: map[string][]storage.TenantRecord{}}, &capturePublisher{}, "tasks", nil)

	body := []byte(`{"repository":{"full_name":"acme/widgets"}}`)
	_, err := d.Receive(context.Background(), body, signedHeaders(body, "secret"))
	if !errors.Is(err, ErrUnknownRepository) {
		t.Fatalf("expected ErrUnknownRepository, got %v", err)
	}
}

// TestReceiveRejectsMissingEventType tests that a request without an event
// type header is rejected after tenant resolution.
func TestReceiveRejectsMissingEventType(t *testing.T) {
	store := &stubReader{tenants: map[string][]storage.TenantRecord{
		"acme/widgets": {{ID: 1, RepoName: "acme/widgets", GuildID: 100, WebhookSecret: "secret", Enabled: true}},
	}}
	d := NewDispatcher(store, &capturePublisher{}, "tasks", nil)

	body := []byte(`{"repository":{"full_name":"acme/widgets"}}`)
	_, err := d.Receive(context.Background(), body, InboundHeaders{})
	if !errors.Is(err, ErrNoEventType) {
		t.Fatalf("expected ErrNoEventType, got %v", err)
	}
}

// TestReceiveRejectsMissingSignature tests that a missing signature rejects
// the whole request and queues nothing.
func TestReceiveRejectsMissingSignature(t *testing.T) {
	store := &stubReader{tenants: map[string][]storage.TenantRecord{
		"acme/widgets": {{ID: 1, RepoName: "acme/widgets", GuildID: 100, WebhookSecret: "secret", Enabled: true}},
	}}
	pub := &capturePublisher{}
	d := NewDispatcher(store, pub, "tasks", nil)

	body := []byte(`{"repository":{"full_name":"acme/widgets"}}`)
	_, err := d.Receive(context.Background(), body, InboundHeaders{EventType: "push"})
	if !errors.Is(err, ErrMissingSignature) {
		t.Fatalf("expected ErrMissingSignature, got %v", err)
	}
	if len(pub.messages) != 0 {
		t.Fatalf("expected no tasks queued, got %d", len(pub.messages))
	}
}

// TestReceiveQueuesPerAuthenticatedTenant tests the fan-out: with two tenants
// sharing a repository but only one matching the signature, exactly one task
// is queued and the receipt reports it.
func TestReceiveQueuesPerAuthenticatedTenant(t *testing.T) {
	store := &stubReader{tenants: map[string][]storage.TenantRecord{
		"acme/widgets": {
			{ID: 1, RepoName: "acme/widgets", GuildID: 100, WebhookSecret: "right", Enabled: true},
			{ID: 2, RepoName: "acme/widgets", GuildID: 200, WebhookSecret: "wrong", Enabled: true},
		},
	}}
	pub := &capturePublisher{}
	d := NewDispatcher(store, pub, "tasks", nil)

	body := []byte(`{"repository":{"full_name":"acme/widgets"},"ref":"refs/heads/main"}`)
	receipt, err := d.Receive(context.Background(), body, signedHeaders(body, "right"))
	if err != nil {
		t.Fatalf("receive: %v", err)
	}

	if receipt.Status != "accepted" {
		t.Fatalf("expected accepted status, got %q", receipt.Status)
	}
	if receipt.Event != "push" || receipt.Repository != "acme/widgets" {
		t.Fatalf("unexpected receipt %+v", receipt)
	}
	if receipt.Queued != 1 {
		t.Fatalf("expected 1 queued tenant, got %d", receipt.Queued)
	}
	if len(pub.messages) != 1 {
		t.Fatalf("expected 1 published task, got %d", len(pub.messages))
	}
	if pub.topic != "tasks" {
		t.Fatalf("expected publish to tasks topic, got %q", pub.topic)
	}

	task, err := decodeTask(pub.messages[0])
	if err != nil {
		t.Fatalf("decode task: %v", err)
	}
	if task.TenantID != 1 || task.GuildID != 100 {
		t.Fatalf("expected task for tenant 1 in guild 100, got %+v", task)
	}
	if task.EventType != "push" || task.RepoName != "acme/widgets" {
		t.Fatalf("unexpected task %+v", task)
	}
	if string(task.Payload) != string(body) {
		t.Fatalf("expected the raw payload to travel with the task")
	}
}

// TestReceiveSkipsDisabledTenant tests that disabled tenants are skipped
// without failing the request.
func TestReceiveSkipsDisabledTenant(t *testing.T) {
	store := &stubReader{tenants: map[string][]storage.TenantRecord{
		"acme/widgets": {
			{ID: 1, RepoName: "acme/widgets", GuildID: 100, WebhookSecret: "secret", Enabled: false},
			{ID: 2, RepoName: "acme/widgets", GuildID: 200, WebhookSecret: "secret", Enabled: true},
		},
	}}
	pub := &capturePublisher{}
	d := NewDispatcher(store, pub, "tasks", nil)

	body := []byte(`{"repository":{"full_name":"acme/widgets"}}`)
	receipt, err := d.Receive(context.Background(), body, signedHeaders(body, "secret"))
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if receipt.Queued != 1 {
		t.Fatalf("expected only the enabled tenant to be queued, got %d", receipt.Queued)
	}

	task, _ := decodeTask(pub.messages[0])
	if task.TenantID != 2 {
		t.Fatalf("expected task for tenant 2, got %d", task.TenantID)
	}
}

// TestReceiveAcceptsZeroAuthenticatedTenants tests that a request where no
// tenant's secret matches is still accepted with guilds_queued zero.
func TestReceiveAcceptsZeroAuthenticatedTenants(t *testing.T) {
	store := &stubReader{tenants: map[string][]storage.TenantRecord{
		"acme/widgets": {{ID: 1, RepoName: "acme/widgets", GuildID: 100, WebhookSecret: "other", Enabled: true}},
	}}
	pub := &capturePublisher{}
	d := NewDispatcher(store, pub, "tasks", nil)

	body := []byte(`{"repository":{"full_name":"acme/widgets"}}`)
	receipt, err := d.Receive(context.Background(), body, signedHeaders(body, "secret"))
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if receipt.Queued != 0 {
		t.Fatalf("expected 0 queued, got %d", receipt.Queued)
	}
	if len(pub.messages) != 0 {
		t.Fatalf("expected no tasks queued")
	}
}

// TestReceivePropagatesStoreErrors tests that storage failures surface as
// internal errors, not sentinel rejections.
func TestReceivePropagatesStoreErrors(t *testing.T) {
	store := &stubReader{err: errors.New("db down")}
	d := NewDispatcher(store, &capturePublisher{}, "tasks", nil)

	body := []byte(`{"repository":{"full_name":"acme/widgets"}}`)
	_, err := d.Receive(context.Background(), body, signedHeaders(body, "secret"))
	if err == nil {
		t.Fatalf("expected an error")
	}
	for _, sentinel := range []error{ErrInvalidPayload, ErrNoRepository, ErrNoEventType, ErrMissingSignature, ErrUnknownRepository} {
		if errors.Is(err, sentinel) {
			t.Fatalf("expected a non-sentinel error, got %v", err)
		}
	}
}
