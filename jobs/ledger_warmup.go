package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/jinsi-erp/jinsi-erp/internal/ledger"
	"github.com/jinsi-erp/jinsi-erp/internal/observability"
)

const warmupConcurrency = 4

// ItemLister names the items known in a fiscal year.
type ItemLister interface {
	DistinctItems(ctx context.Context, fiscalYear string) ([]string, error)
}

// LedgerWarmup reconstructs every item ledger through the cached service so
// the first interactive read of the day is a cache hit.
type LedgerWarmup struct {
	Items             ItemLister
	Ledger            ledger.Reconstructor
	Logger            *slog.Logger
	Metrics           *observability.Metrics
	DefaultFiscalYear string
}

// Handle processes TaskLedgerWarmup tasks.
func (j *LedgerWarmup) Handle(ctx context.Context, t *asynq.Task) error {
	var payload LedgerWarmupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	fy := payload.FiscalYear
	if fy == "" {
		fy = j.DefaultFiscalYear
	}
	if fy == "" {
		j.Logger.Warn("ledger warmup skipped, no fiscal year configured")
		return nil
	}
	items, err := j.Items.DistinctItems(ctx, fy)
	if err != nil {
		j.Metrics.ObserveJob(TaskLedgerWarmup, "error")
		return err
	}
	var warmed atomic.Int64
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(warmupConcurrency)
	for _, item := range items {
		item := item
		g.Go(func() error {
			if _, err := j.Ledger.Reconstruct(ctx, item, fy, ""); err != nil {
				j.Logger.Warn("ledger warmup item", slog.String("item", item), slog.Any("error", err))
				return nil
			}
			warmed.Add(1)
			return nil
		})
	}
	_ = g.Wait()
	j.Metrics.ObserveJob(TaskLedgerWarmup, "ok")
	j.Logger.Info("ledger warmup complete", slog.String("fiscal_year", fy), slog.Int64("items", warmed.Load()))
	return nil
}
