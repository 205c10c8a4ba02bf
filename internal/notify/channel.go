// Package notify broadcasts best-effort "task enqueued" events per agent type.
// Events are informational: nothing on the dequeue path waits for them.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/ramiqadoumi/agentq/internal/broker"
	"github.com/ramiqadoumi/agentq/internal/domain"
)

// EventTaskEnqueued is the only event kind published today.
const EventTaskEnqueued = "task_enqueued"

// Event is the payload published on agent:<type>:notification.
type Event struct {
	Event string      `json:"event"`
	Task  domain.Task `json:"task"`
}

// Channel publishes and subscribes to notification events.
type Channel struct {
	ps     broker.PubSub
	logger *slog.Logger
}

// NewChannel returns a Channel over ps.
func NewChannel(ps broker.PubSub, logger *slog.Logger) *Channel {
	if logger == nil {
		logger = slog.Default()
	}
	return &Channel{ps: ps, logger: logger}
}

// Publish announces task on its agent type's channel. Nobody listening is not an error.
func (c *Channel) Publish(ctx context.Context, task domain.Task) error {
	data, err := json.Marshal(Event{Event: EventTaskEnqueued, Task: task})
	if err != nil {
		return &domain.SerializationError{Err: err}
	}
	return c.ps.Publish(ctx, broker.NotificationKey(task.AgentType), data)
}

// Subscribe calls onEvent asynchronously for each event on agentType's
// channel. Undecodable payloads are logged and skipped.
func (c *Channel) Subscribe(ctx context.Context, agentType domain.AgentType, onEvent func(Event)) (broker.Subscription, error) {
	channel := broker.NotificationKey(agentType)
	return c.ps.Subscribe(ctx, channel, func(payload []byte) {
		var ev Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			c.logger.Warn("dropping malformed notification",
				slog.String("channel", channel),
				slog.String("error", err.Error()),
			)
			return
		}
		onEvent(ev)
	})
}
