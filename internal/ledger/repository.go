package ledger

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jinsi-erp/jinsi-erp/internal/shared"
)

// Repository reads document tables and the batch store to feed
// reconstruction. Matching is by canonical item name in process, not by
// foreign key; two differently spelled entries for the same real item stay
// two distinct ledgers.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// docLine mirrors the jsonb line shape of every document kind. Quantity and
// rate coerce bad values to zero.
type docLine struct {
	Name           string   `json:"name"`
	Quantity       Quantity `json:"quantity"`
	Rate           Quantity `json:"rate"`
	Remarks        string   `json:"remarks"`
	Classification string   `json:"classification"`
}

// CollectEntries gathers transactions for one canonical item key: approved
// goods receipts (Opening or Income), approved returns (Income) and issued
// issues (Expense).
func (r *Repository) CollectEntries(ctx context.Context, itemKey, fiscalYear, classification string) ([]Entry, error) {
	var entries []Entry

	receipts, err := r.collectReceipts(ctx, itemKey, fiscalYear, classification)
	if err != nil {
		return nil, err
	}
	entries = append(entries, receipts...)

	returns, err := r.collectDocs(ctx, itemKey,
		`SELECT number, date, lines FROM return_requests WHERE fiscal_year=$1 AND status='APPROVED'`,
		fiscalYear, TypeIncome)
	if err != nil {
		return nil, err
	}
	entries = append(entries, returns...)

	issues, err := r.collectDocs(ctx, itemKey,
		`SELECT number, date, lines FROM issue_requests WHERE fiscal_year=$1 AND status='ISSUED'`,
		fiscalYear, TypeExpense)
	if err != nil {
		return nil, err
	}
	entries = append(entries, issues...)

	return entries, nil
}

func (r *Repository) collectReceipts(ctx context.Context, itemKey, fiscalYear, classification string) ([]Entry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT number, date, mode, source, lines FROM goods_receipt_requests WHERE fiscal_year=$1 AND status='APPROVED'`,
		fiscalYear)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []Entry
	for rows.Next() {
		var number, mode, source string
		var date time.Time
		var raw []byte
		if err := rows.Scan(&number, &date, &mode, &source, &raw); err != nil {
			return nil, err
		}
		typ := TypeIncome
		if mode == "opening" || source == "Opening" {
			typ = TypeOpening
		}
		for _, line := range matchLines(raw, itemKey) {
			if classification != "" && line.Classification != "" && line.Classification != classification {
				continue
			}
			entries = append(entries, Entry{
				Date:    date,
				RefNo:   number,
				Type:    typ,
				Qty:     line.Quantity.Float(),
				Rate:    line.Rate.Float(),
				Remarks: line.Remarks,
			})
		}
	}
	return entries, rows.Err()
}

func (r *Repository) collectDocs(ctx context.Context, itemKey, query, fiscalYear string, typ RowType) ([]Entry, error) {
	rows, err := r.pool.Query(ctx, query, fiscalYear)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []Entry
	for rows.Next() {
		var number string
		var date time.Time
		var raw []byte
		if err := rows.Scan(&number, &date, &raw); err != nil {
			return nil, err
		}
		for _, line := range matchLines(raw, itemKey) {
			entries = append(entries, Entry{
				Date:    date,
				RefNo:   number,
				Type:    typ,
				Qty:     line.Quantity.Float(),
				Rate:    line.Rate.Float(),
				Remarks: line.Remarks,
			})
		}
	}
	return entries, rows.Err()
}

func matchLines(raw []byte, itemKey string) []docLine {
	var lines []docLine
	if err := json.Unmarshal(raw, &lines); err != nil {
		return nil
	}
	var matched []docLine
	for _, line := range lines {
		if shared.CanonicalName(line.Name) == itemKey {
			matched = append(matched, line)
		}
	}
	return matched
}

// OpeningFromBatches derives a synthetic opening from stored batches: summed
// quantity, quantity-weighted average rate, latest update as the date.
func (r *Repository) OpeningFromBatches(ctx context.Context, itemKey, fiscalYear, classification string) (OpeningBalance, bool, error) {
	query := `SELECT quantity, rate, updated_at FROM inventory_batches WHERE item_key=$1 AND fiscal_year=$2`
	args := []any{itemKey, fiscalYear}
	if classification != "" {
		query += ` AND classification=$3`
		args = append(args, classification)
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return OpeningBalance{}, false, err
	}
	defer rows.Close()
	var opening OpeningBalance
	var value float64
	found := false
	for rows.Next() {
		var qty, rate float64
		var updatedAt time.Time
		if err := rows.Scan(&qty, &rate, &updatedAt); err != nil {
			return OpeningBalance{}, false, err
		}
		found = true
		opening.Qty += qty
		value += qty * rate
		if updatedAt.After(opening.AsOf) {
			opening.AsOf = updatedAt
		}
	}
	if err := rows.Err(); err != nil {
		return OpeningBalance{}, false, err
	}
	if !found || opening.Qty <= 0 {
		return OpeningBalance{}, false, nil
	}
	opening.Rate = value / opening.Qty
	return opening, true, nil
}
