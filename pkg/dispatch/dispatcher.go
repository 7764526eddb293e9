// Package dispatch orchestrates the webhook pipeline: tenant resolution,
// signature verification, task fan-out, and asynchronous per-tenant delivery.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/jakedev796/github-notifier/internal"
	"github.com/jakedev796/github-notifier/pkg/storage"
)

// Sentinel errors for the accept path. The HTTP layer maps these to status
// codes; everything else is an internal error.
var (
	ErrInvalidPayload    = errors.New("invalid JSON payload")
	ErrNoRepository      = errors.New("no repository found in payload")
	ErrNoEventType       = errors.New("no event type specified")
	ErrMissingSignature  = errors.New("missing signature")
	ErrUnknownRepository = errors.New("repository not configured")
)

// InboundHeaders carries the webhook headers the dispatcher needs.
type InboundHeaders struct {
	EventType  string
	DeliveryID string
	Signature  string
}

// Receipt is the synchronous response to an accepted webhook. GuildsQueued
// counts signature-authenticated tenants, not completed deliveries; filter
// and delivery outcomes are only observable through logs and metrics.
type Receipt struct {
	Status     string `json:"status"`
	Event      string `json:"event"`
	Repository string `json:"repository"`
	Queued     int    `json:"guilds_queued"`
}

// Dispatcher runs the synchronous half of the pipeline. It never mutates the
// configuration store.
type Dispatcher struct {
	store     storage.ConfigReader
	publisher message.Publisher
	topic     string
	logger    *log.Logger
}

// NewDispatcher creates a dispatcher publishing delivery tasks to topic.
func NewDispatcher(store storage.ConfigReader, publisher message.Publisher, topic string, logger *log.Logger) *Dispatcher {
	if logger == nil {
		logger = internal.NewLogger("dispatch")
	}
	return &Dispatcher{
		store:     store,
		publisher: publisher,
		topic:     topic,
		logger:    logger,
	}
}

// Receive handles one inbound webhook. It parses the body, resolves the
// candidate tenants for the repository, checks the signature against each
// tenant's secret, and queues one delivery task per authenticated tenant.
// The receipt is returned before any delivery work happens.
func (d *Dispatcher) Receive(ctx context.Context, body []byte, hdr InboundHeaders) (*Receipt, error) {
	var envelope struct {
		Repository struct {
			FullName string `json:"full_name"`
		} `json:"repository"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		internal.IncRejected("invalid_json")
		return nil, ErrInvalidPayload
	}

	repoName := envelope.Repository.FullName
	if repoName == "" {
		internal.IncRejected("no_repository")
		return nil, ErrNoRepository
	}

	tenants, err := d.store.FindTenantsByRepoName(ctx, repoName)
	if err != nil {
		return nil, fmt.Errorf("resolve tenants for %s: %w", repoName, err)
	}
	if len(tenants) == 0 {
		internal.IncRejected("unknown_repository")
		return nil, ErrUnknownRepository
	}

	if hdr.EventType == "" {
		internal.IncRejected("no_event_type")
		return nil, ErrNoEventType
	}
	internal.IncRequest(hdr.EventType)

	// A missing signature rejects the whole request before any per-tenant
	// work. A present-but-mismatched signature only skips the tenant whose
	// secret it fails against: tenants in different guilds may configure
	// different secrets for the same repository.
	if hdr.Signature == "" {
		internal.IncRejected("missing_signature")
		return nil, ErrMissingSignature
	}

	queued := 0
	for _, tenant := range tenants {
		if !tenant.Enabled {
			d.logger.Printf("tenant %d (%s, guild %d) disabled, skipping", tenant.ID, repoName, tenant.GuildID)
			continue
		}
		if !internal.VerifySignature(body, hdr.Signature, tenant.WebhookSecret) {
			d.logger.Printf("invalid signature for %s in guild %d", repoName, tenant.GuildID)
			internal.IncSignatureSkip()
			continue
		}

		task := DeliveryTask{
			TenantID:   tenant.ID,
			GuildID:    tenant.GuildID,
			RepoName:   repoName,
			EventType:  hdr.EventType,
			DeliveryID: hdr.DeliveryID,
			Payload:    json.RawMessage(body),
		}
		msg, err := encodeTask(task)
		if err != nil {
			return nil, fmt.Errorf("encode delivery task: %w", err)
		}
		if err := d.publisher.Publish(d.topic, msg); err != nil {
			return nil, fmt.Errorf("queue delivery task: %w", err)
		}
		queued++
	}

	internal.AddQueued(int64(queued))
	d.logger.Printf("event=%s repository=%s delivery=%s queued=%d", hdr.EventType, repoName, hdr.DeliveryID, queued)

	return &Receipt{
		Status:     "accepted",
		Event:      hdr.EventType,
		Repository: repoName,
		Queued:     queued,
	}, nil
}
