package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TaskOverdueInstallments triggers the nightly overdue installment scan.
const TaskOverdueInstallments = "installments:overdue"

// OverdueScanPayload carries scheduling metadata.
type OverdueScanPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewOverdueScanTask constructs an Asynq task for the overdue scan.
func NewOverdueScanTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(OverdueScanPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskOverdueInstallments, body, asynq.Queue(QueueDefault)), nil
}

// NewOverdueScanHandler reports installments past due that still await
// payment, so collections can chase them.
func NewOverdueScanHandler(pool *pgxpool.Pool, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload OverdueScanPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		rows, err := pool.Query(ctx, `SELECT i.id, i.order_id, o.number, (i.amount - i.amount_paid)::text, i.due_date
FROM installments i
JOIN orders o ON o.id = i.order_id
WHERE i.status IN ('PENDING','PARTIAL') AND i.due_date < NOW()
ORDER BY i.due_date`)
		if err != nil {
			return err
		}
		defer rows.Close()
		overdue := 0
		for rows.Next() {
			var (
				installmentID, orderID int64
				number, remaining      string
				dueDate                time.Time
			)
			if err := rows.Scan(&installmentID, &orderID, &number, &remaining, &dueDate); err != nil {
				return err
			}
			overdue++
			logger.WarnContext(ctx, "installment overdue",
				slog.Int64("installment_id", installmentID),
				slog.Int64("order_id", orderID),
				slog.String("number", number),
				slog.String("remaining", remaining),
				slog.Time("due_date", dueDate),
			)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		logger.InfoContext(ctx, "overdue scan finished", slog.Int("overdue", overdue))
		return nil
	}
}
