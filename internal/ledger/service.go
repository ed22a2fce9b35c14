package ledger

import (
	"context"
	"sort"
	"time"

	"github.com/jinsi-erp/jinsi-erp/internal/shared"
)

// OpeningBalance is the synthetic opening derived from stored batches when an
// item has stock but no document history.
type OpeningBalance struct {
	Qty  float64
	Rate float64
	AsOf time.Time
}

// SourcePort collects the raw material of a ledger: document entries matched
// by canonical item name, plus the batch fallback.
type SourcePort interface {
	CollectEntries(ctx context.Context, itemKey, fiscalYear, classification string) ([]Entry, error)
	OpeningFromBatches(ctx context.Context, itemKey, fiscalYear, classification string) (OpeningBalance, bool, error)
}

// Service reconstructs item ledgers. Pure given its source data, so equal
// inputs always yield equal rows.
type Service struct {
	source SourcePort
}

// NewService constructs the ledger service.
func NewService(source SourcePort) *Service {
	return &Service{source: source}
}

// Reconstruct builds the ordered ledger for an item and fiscal year. An item
// with stock but no documents gets a single synthetic Opening row so the
// ledger is never silently empty.
func (s *Service) Reconstruct(ctx context.Context, itemName, fiscalYear, classification string) ([]Row, error) {
	key := shared.CanonicalName(itemName)
	entries, err := s.source.CollectEntries(ctx, key, fiscalYear, classification)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		opening, ok, err := s.source.OpeningFromBatches(ctx, key, fiscalYear, classification)
		if err != nil {
			return nil, err
		}
		if !ok {
			return []Row{}, nil
		}
		entries = []Entry{{
			Date:    opening.AsOf,
			Type:    TypeOpening,
			Qty:     opening.Qty,
			Rate:    opening.Rate,
			Remarks: "opening balance",
		}}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Date.Before(entries[j].Date)
	})
	return fold(entries), nil
}

// fold walks the entries in date order maintaining a running quantity and
// value. Balances clamp to zero rather than go negative; an expense with no
// rate of its own is valued at the current weighted-average rate.
func fold(entries []Entry) []Row {
	rows := make([]Row, 0, len(entries))
	var runQty, runValue float64
	for _, e := range entries {
		rate := e.Rate
		switch e.Type {
		case TypeExpense:
			if rate == 0 && runQty > 0 {
				rate = runValue / runQty
			}
			runQty -= e.Qty
			runValue -= e.Qty * rate
		default:
			runQty += e.Qty
			runValue += e.Qty * rate
		}
		row := Row{
			Date:    e.Date,
			RefNo:   e.RefNo,
			Type:    e.Type,
			Qty:     e.Qty,
			Rate:    rate,
			Total:   e.Qty * rate,
			Remarks: e.Remarks,
		}
		row.BalQty = runQty
		if row.BalQty < 0 {
			row.BalQty = 0
		}
		if runQty > 0 {
			row.BalRate = runValue / runQty
		}
		row.BalTotal = runValue
		if row.BalTotal < 0 {
			row.BalTotal = 0
		}
		rows = append(rows, row)
	}
	return rows
}
