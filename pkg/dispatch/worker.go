package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/jakedev796/github-notifier/internal"
	"github.com/jakedev796/github-notifier/pkg/discord"
	"github.com/jakedev796/github-notifier/pkg/filter"
	"github.com/jakedev796/github-notifier/pkg/format"
	"github.com/jakedev796/github-notifier/pkg/storage"
)

// Messenger is the destination messaging system consumed by the delivery
// worker. *discord.Client satisfies it.
type Messenger interface {
	Channel(ctx context.Context, channelID int64) (*discord.Channel, error)
	GuildRoles(ctx context.Context, guildID int64) ([]discord.Role, error)
	SearchMembers(ctx context.Context, guildID int64, query string) ([]discord.Member, error)
	CreateMessage(ctx context.Context, channelID int64, content string, msg *format.Message) error
}

// Outcome classifies how one delivery task ended.
type Outcome string

const (
	// OutcomeSkipped means no enabled destination was configured.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeFiltered means the tenant's filter config rejected the event.
	OutcomeFiltered Outcome = "filtered"
	// OutcomeDropped means the event could not be formatted or routed.
	OutcomeDropped Outcome = "dropped"
	// OutcomeDelivered means the notification reached the channel.
	OutcomeDelivered Outcome = "delivered"
	// OutcomeFailed means the delivery attempt errored. There are no
	// retries: failures are logged and dropped.
	OutcomeFailed Outcome = "failed"
)

// Listener observes per-task outcomes for logging and metrics.
type Listener func(ctx context.Context, task DeliveryTask, outcome Outcome, err error)

// Worker consumes delivery tasks and performs the asynchronous half of the
// pipeline: destination lookup, filtering, formatting, mention resolution,
// and delivery. Every message is acked exactly once regardless of outcome;
// one task's failure never affects another.
type Worker struct {
	subscriber  message.Subscriber
	topic       string
	concurrency int

	store     storage.ConfigReader
	messenger Messenger
	filters   *filter.Engine
	formatter *format.Formatter
	logger    *log.Logger
	listeners []Listener
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithConcurrency sets the number of tasks processed in parallel.
func WithConcurrency(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.concurrency = n
		}
	}
}

// WithListener adds an outcome listener.
func WithListener(listener Listener) WorkerOption {
	return func(w *Worker) {
		if listener != nil {
			w.listeners = append(w.listeners, listener)
		}
	}
}

// WithLogger sets the worker logger.
func WithLogger(logger *log.Logger) WorkerOption {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// NewWorker creates a delivery worker.
func NewWorker(subscriber message.Subscriber, topic string, store storage.ConfigReader, messenger Messenger, opts ...WorkerOption) *Worker {
	w := &Worker{
		subscriber:  subscriber,
		topic:       topic,
		concurrency: 8,
		store:       store,
		messenger:   messenger,
		logger:      internal.NewLogger("worker"),
	}
	w.filters = filter.New(w.logger)
	w.formatter = format.New(w.logger)
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run subscribes to the task topic and processes messages until the context
// is canceled. In-flight tasks run to completion; there is no cancellation
// path for a task once it has been queued.
func (w *Worker) Run(ctx context.Context) error {
	if w.subscriber == nil {
		return errors.New("subscriber is required")
	}

	msgs, err := w.subscriber.Subscribe(ctx, w.topic)
	if err != nil {
		return err
	}

	sem := make(chan struct{}, w.concurrency)
	var wg sync.WaitGroup

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return nil
		case msg, ok := <-msgs:
			if !ok {
				wg.Wait()
				return nil
			}
			sem <- struct{}{}
			wg.Add(1)
			go func(msg *message.Message) {
				defer wg.Done()
				defer func() { <-sem }()
				w.handleMessage(msg)
			}(msg)
		}
	}
}

func (w *Worker) handleMessage(msg *message.Message) {
	// Delivery is at-most-once: the message is acked no matter how
	// processing ends, and failures are never redelivered.
	defer msg.Ack()

	task, err := decodeTask(msg)
	if err != nil {
		w.logger.Printf("decode delivery task: %v", err)
		return
	}

	ctx := context.Background()
	outcome, err := w.process(ctx, task)
	for _, listener := range w.listeners {
		listener(ctx, task, outcome, err)
	}

	switch outcome {
	case OutcomeDelivered:
		internal.IncDelivered()
		w.logger.Printf("delivered %s for %s to guild %d", task.EventType, task.RepoName, task.GuildID)
	case OutcomeFailed:
		internal.IncDeliveryError()
		w.logger.Printf("delivery of %s for %s to guild %d failed: %v", task.EventType, task.RepoName, task.GuildID, err)
	case OutcomeFiltered:
		internal.IncFiltered()
	}
}

func (w *Worker) process(ctx context.Context, task DeliveryTask) (Outcome, error) {
	dest, err := w.store.GetDestination(ctx, task.TenantID, task.EventType)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("destination lookup: %w", err)
	}
	if dest == nil || !dest.Enabled {
		return OutcomeSkipped, nil
	}

	cfg, err := w.store.GetFilterConfig(ctx, task.TenantID)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("filter config lookup: %w", err)
	}

	if cfg != nil {
		var payload map[string]interface{}
		if err := json.Unmarshal(task.Payload, &payload); err != nil {
			return OutcomeFailed, fmt.Errorf("decode payload: %w", err)
		}
		if !w.filters.ShouldNotify(task.EventType, payload, cfg) {
			return OutcomeFiltered, nil
		}
	}

	msg := w.formatter.Format(task.EventType, task.Payload, cfg)
	if msg == nil {
		w.logger.Printf("could not format %s for tenant %d", task.EventType, task.TenantID)
		return OutcomeDropped, nil
	}

	channel, err := w.messenger.Channel(ctx, dest.ChannelID)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("resolve channel %d: %w", dest.ChannelID, err)
	}
	if channel.GuildID != strconv.FormatInt(task.GuildID, 10) {
		w.logger.Printf("channel %d does not belong to guild %d", dest.ChannelID, task.GuildID)
		return OutcomeDropped, nil
	}

	content := w.mentionContent(ctx, task.GuildID, cfg)

	if err := w.messenger.CreateMessage(ctx, dest.ChannelID, content, msg); err != nil {
		return OutcomeFailed, err
	}
	return OutcomeDelivered, nil
}

// mentionContent resolves the configured role and user display names against
// the guild and renders them as a mention prefix. Names that don't resolve
// are dropped silently.
func (w *Worker) mentionContent(ctx context.Context, guildID int64, cfg *storage.FilterRecord) string {
	if cfg == nil {
		return ""
	}

	var mentions []string
	if cfg.MentionRoles != "" {
		roles, err := w.messenger.GuildRoles(ctx, guildID)
		if err != nil {
			w.logger.Printf("list roles for guild %d: %v", guildID, err)
		} else {
			for _, name := range splitCSV(cfg.MentionRoles) {
				for _, role := range roles {
					if role.Name == name {
						mentions = append(mentions, discord.MentionRole(role.ID))
						break
					}
				}
			}
		}
	}

	if cfg.MentionUsers != "" {
		for _, name := range splitCSV(cfg.MentionUsers) {
			members, err := w.messenger.SearchMembers(ctx, guildID, name)
			if err != nil {
				w.logger.Printf("search member %q in guild %d: %v", name, guildID, err)
				continue
			}
			for _, member := range members {
				if member.User.Username == name || member.Nick == name || member.User.GlobalName == name {
					mentions = append(mentions, discord.MentionUser(member.User.ID))
					break
				}
			}
		}
	}

	if len(mentions) == 0 {
		return ""
	}
	return strings.Join(mentions, " ")
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
