package dispatch

import (
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// DeliveryTask is one independent unit of per-tenant delivery work. The
// dispatcher publishes one task per signature-authenticated tenant; the
// delivery worker consumes them with no ordering guarantee.
type DeliveryTask struct {
	TenantID   uint            `json:"tenant_id"`
	GuildID    int64           `json:"guild_id"`
	RepoName   string          `json:"repo_name"`
	EventType  string          `json:"event_type"`
	DeliveryID string          `json:"delivery_id,omitempty"`
	Payload    json.RawMessage `json:"payload"`
}

// encodeTask wraps a task in a Watermill message.
func encodeTask(task DeliveryTask) (*message.Message, error) {
	payload, err := json.Marshal(task)
	if err != nil {
		return nil, err
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("event", task.EventType)
	msg.Metadata.Set("repository", task.RepoName)
	return msg, nil
}

// decodeTask unwraps a task from a Watermill message.
func decodeTask(msg *message.Message) (DeliveryTask, error) {
	var task DeliveryTask
	err := json.Unmarshal(msg.Payload, &task)
	return task, err
}
