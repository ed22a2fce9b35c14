package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLedgerWarmup primes the redis ledger cache for every known item.
	TaskLedgerWarmup = "ledger:warmup"
	// TaskExpiryScan reports batches past their expiry date with stock left.
	TaskExpiryScan = "inventory:expiry_scan"
)

// LedgerWarmupPayload selects the fiscal year to warm. An empty fiscal year
// means the configured default.
type LedgerWarmupPayload struct {
	FiscalYear string `json:"fiscal_year"`
}

// NewLedgerWarmupTask constructs an Asynq task for ledger warmup.
func NewLedgerWarmupTask(fiscalYear string) (*asynq.Task, error) {
	body, err := json.Marshal(LedgerWarmupPayload{FiscalYear: fiscalYear})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerWarmup, body, asynq.Queue(QueueDefault)), nil
}

// ExpiryScanPayload carries scheduling metadata.
type ExpiryScanPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewExpiryScanTask constructs an Asynq task for the expiry scan.
func NewExpiryScanTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(ExpiryScanPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskExpiryScan, body, asynq.Queue(QueueDefault)), nil
}
