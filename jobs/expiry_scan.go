package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/jinsi-erp/jinsi-erp/internal/inventory"
	"github.com/jinsi-erp/jinsi-erp/internal/observability"
)

// ExpiredLister returns batches past their expiry date with stock remaining.
type ExpiredLister interface {
	ListExpired(ctx context.Context, asOf time.Time) ([]inventory.Record, error)
}

// ExpiryScan surfaces expired batches so the storekeeper can raise disposal
// requests. The scan never mutates stock.
type ExpiryScan struct {
	Inventory ExpiredLister
	Logger    *slog.Logger
	Metrics   *observability.Metrics
}

// Handle processes TaskExpiryScan tasks.
func (j *ExpiryScan) Handle(ctx context.Context, t *asynq.Task) error {
	var payload ExpiryScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	asOf := payload.ScheduledFor
	if asOf.IsZero() {
		asOf = time.Now()
	}
	expired, err := j.Inventory.ListExpired(ctx, asOf)
	if err != nil {
		j.Metrics.ObserveJob(TaskExpiryScan, "error")
		return err
	}
	for _, rec := range expired {
		j.Logger.Warn("expired stock",
			slog.Int64("batch", rec.ID),
			slog.String("item", rec.ItemName),
			slog.Float64("quantity", rec.Quantity),
			slog.Time("expiry", rec.ExpiryDate))
	}
	j.Metrics.ObserveJob(TaskExpiryScan, "ok")
	j.Logger.Info("expiry scan complete", slog.Int("expired", len(expired)))
	return nil
}
