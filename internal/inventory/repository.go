package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jinsi-erp/jinsi-erp/internal/platform/db"
	"github.com/jinsi-erp/jinsi-erp/internal/shared"
)

// Repository persists batches in PostgreSQL. Name joins go through the
// item_key column, which stores shared.CanonicalName of the item name.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by the service.
type TxRepository interface {
	Insert(ctx context.Context, record Record) (int64, error)
	GetForUpdate(ctx context.Context, id int64) (Record, error)
	ListForAllocation(ctx context.Context, itemName string, storeID int64) ([]Record, error)
	UpdateQuantity(ctx context.Context, id int64, qty float64, at time.Time) error
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const recordColumns = `id, item_name, code, classification, unit, quantity, rate, tax_rate,
batch_date, expiry_date, store_id, fiscal_year, source, updated_at`

func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	var classification string
	var batchDate, expiryDate *time.Time
	err := row.Scan(&rec.ID, &rec.ItemName, &rec.Code, &classification, &rec.Unit, &rec.Quantity,
		&rec.Rate, &rec.TaxRate, &batchDate, &expiryDate, &rec.StoreID, &rec.FiscalYear, &rec.Source, &rec.UpdatedAt)
	if err != nil {
		return Record{}, err
	}
	rec.Classification = Classification(classification)
	if batchDate != nil {
		rec.BatchDate = *batchDate
	}
	if expiryDate != nil {
		rec.ExpiryDate = *expiryDate
	}
	return rec, nil
}

func collectRecords(rows pgx.Rows) ([]Record, error) {
	defer rows.Close()
	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// ListByItem returns all batches in an item's ledger family for a fiscal year.
func (r *Repository) ListByItem(ctx context.Context, itemName, fiscalYear string) ([]Record, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+recordColumns+` FROM inventory_batches
WHERE item_key=$1 AND fiscal_year=$2 ORDER BY id ASC`, shared.CanonicalName(itemName), fiscalYear)
	if err != nil {
		return nil, err
	}
	return collectRecords(rows)
}

// ListExpired returns batches past their expiry date with stock remaining.
func (r *Repository) ListExpired(ctx context.Context, asOf time.Time) ([]Record, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+recordColumns+` FROM inventory_batches
WHERE expiry_date IS NOT NULL AND expiry_date < $1 AND quantity > 0 ORDER BY expiry_date ASC`, asOf)
	if err != nil {
		return nil, err
	}
	return collectRecords(rows)
}

// DistinctItems lists item names known in the fiscal year.
func (r *Repository) DistinctItems(ctx context.Context, fiscalYear string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT ON (item_key) item_name FROM inventory_batches
WHERE fiscal_year=$1 ORDER BY item_key, id`, fiscalYear)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		items = append(items, name)
	}
	return items, rows.Err()
}

func (t *txRepo) Insert(ctx context.Context, record Record) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO inventory_batches
(item_name, item_key, code, classification, unit, quantity, rate, tax_rate, batch_date, expiry_date, store_id, fiscal_year, source, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14) RETURNING id`,
		record.ItemName, shared.CanonicalName(record.ItemName), record.Code, string(record.Classification),
		record.Unit, record.Quantity, record.Rate, record.TaxRate,
		nullTime(record.BatchDate), nullTime(record.ExpiryDate),
		record.StoreID, record.FiscalYear, record.Source, record.UpdatedAt).Scan(&id)
	return id, err
}

func (t *txRepo) GetForUpdate(ctx context.Context, id int64) (Record, error) {
	rec, err := scanRecord(t.tx.QueryRow(ctx, `SELECT `+recordColumns+` FROM inventory_batches WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrBatchNotFound
		}
		return Record{}, err
	}
	return rec, nil
}

func (t *txRepo) ListForAllocation(ctx context.Context, itemName string, storeID int64) ([]Record, error) {
	query := `SELECT ` + recordColumns + ` FROM inventory_batches
WHERE item_key=$1 AND quantity > 0`
	args := []any{shared.CanonicalName(itemName)}
	if storeID != 0 {
		query += ` AND store_id=$2`
		args = append(args, storeID)
	}
	query += ` ORDER BY expiry_date ASC NULLS LAST, id ASC FOR UPDATE`
	rows, err := t.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectRecords(rows)
}

func (t *txRepo) UpdateQuantity(ctx context.Context, id int64, qty float64, at time.Time) error {
	tag, err := t.tx.Exec(ctx, `UPDATE inventory_batches SET quantity=$2, updated_at=$3 WHERE id=$1`, id, qty, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrBatchNotFound
	}
	return nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
