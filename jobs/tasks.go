package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeOrderEvent is the task type for post-commit order notifications.
	TaskTypeOrderEvent = "orders:event"
)

// OrderEventPayload describes a committed order lifecycle event.
type OrderEventPayload struct {
	Module  string    `json:"module"`
	OrderID int64     `json:"order_id"`
	Number  string    `json:"number"`
	Action  string    `json:"action"`
	At      time.Time `json:"at"`
}

// NewOrderEventTask constructs an Asynq task.
func NewOrderEventTask(payload OrderEventPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeOrderEvent, data, asynq.Queue(QueueDefault)), nil
}

// NewOrderEventHandler processes TaskTypeOrderEvent tasks. Dispatch targets
// (mail, webhooks) hang off this handler; for now the event is logged.
func NewOrderEventHandler(logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload OrderEventPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		logger.InfoContext(ctx, "order event",
			slog.String("module", payload.Module),
			slog.Int64("order_id", payload.OrderID),
			slog.String("number", payload.Number),
			slog.String("action", payload.Action),
		)
		return nil
	}
}
