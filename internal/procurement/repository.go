package procurement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jinsi-erp/jinsi-erp/internal/platform/db"
	"github.com/jinsi-erp/jinsi-erp/internal/workflow"
)

// Repository provides PostgreSQL backed persistence. Lines and signatures are
// stored as jsonb; each document is written back whole (single-writer model).
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	ListNumbers(ctx context.Context, kind, fiscalYear string) ([]string, error)
	ListOrderNumbers(ctx context.Context, fiscalYear string) ([]string, error)
	InsertDemand(ctx context.Context, demand Demand) (int64, error)
	UpdateDemand(ctx context.Context, demand Demand) error
	InsertPurchaseOrder(ctx context.Context, order PurchaseOrder) (int64, error)
	UpdatePurchaseOrder(ctx context.Context, order PurchaseOrder) error
	InsertGoodsReceipt(ctx context.Context, receipt GoodsReceiptRequest) (int64, error)
	UpdateGoodsReceipt(ctx context.Context, receipt GoodsReceiptRequest) error
}

type txRepo struct {
	tx pgx.Tx
}

// ErrDuplicateNumber indicates a concurrent insert won the same number.
var ErrDuplicateNumber = errors.New("procurement: document number already taken")

// WithTx wraps the callback in a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

var kindTables = map[string]string{
	KindDemand:        "demands",
	KindPurchaseOrder: "purchase_orders",
	KindGoodsReceipt:  "goods_receipt_requests",
}

func listNumbers(ctx context.Context, q interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}, kind, fiscalYear string) ([]string, error) {
	table, ok := kindTables[kind]
	if !ok {
		return nil, fmt.Errorf("procurement: unknown kind %q", kind)
	}
	rows, err := q.Query(ctx, `SELECT number FROM `+table+` WHERE fiscal_year=$1`, fiscalYear)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var numbers []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		numbers = append(numbers, n)
	}
	return numbers, rows.Err()
}

// ListNumbers returns stored document numbers for a kind and fiscal year.
func (r *Repository) ListNumbers(ctx context.Context, kind, fiscalYear string) ([]string, error) {
	return listNumbers(ctx, r.pool, kind, fiscalYear)
}

func (t *txRepo) ListNumbers(ctx context.Context, kind, fiscalYear string) ([]string, error) {
	return listNumbers(ctx, t.tx, kind, fiscalYear)
}

// ListOrderNumbers returns assigned purchase order numbers for a fiscal year.
func (r *Repository) ListOrderNumbers(ctx context.Context, fiscalYear string) ([]string, error) {
	return listOrderNumbers(ctx, r.pool, fiscalYear)
}

func (t *txRepo) ListOrderNumbers(ctx context.Context, fiscalYear string) ([]string, error) {
	return listOrderNumbers(ctx, t.tx, fiscalYear)
}

func listOrderNumbers(ctx context.Context, q interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}, fiscalYear string) ([]string, error) {
	rows, err := q.Query(ctx, `SELECT order_number FROM purchase_orders WHERE fiscal_year=$1 AND order_number <> ''`, fiscalYear)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var numbers []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		numbers = append(numbers, n)
	}
	return numbers, rows.Err()
}

// GetDemand loads one demand.
func (r *Repository) GetDemand(ctx context.Context, id int64) (Demand, error) {
	row := r.pool.QueryRow(ctx, `SELECT id, fiscal_year, number, status, date, purpose, stock_remark, lines, signatures
FROM demands WHERE id=$1`, id)
	var d Demand
	var status string
	var lines, sigs []byte
	err := row.Scan(&d.ID, &d.FiscalYear, &d.Number, &status, &d.Date, &d.Purpose, &d.StockRemark, &lines, &sigs)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Demand{}, ErrNotFound
		}
		return Demand{}, err
	}
	d.Status = statusOf(status)
	if err := unmarshalDoc(lines, &d.Lines, sigs, &d.Signatures); err != nil {
		return Demand{}, err
	}
	return d, nil
}

// GetPurchaseOrder loads one purchase order.
func (r *Repository) GetPurchaseOrder(ctx context.Context, id int64) (PurchaseOrder, error) {
	row := r.pool.QueryRow(ctx, `SELECT id, fiscal_year, number, order_number, demand_id, demand_number, supplier_name, status, date, remarks, lines, signatures
FROM purchase_orders WHERE id=$1`, id)
	var o PurchaseOrder
	var status string
	var lines, sigs []byte
	err := row.Scan(&o.ID, &o.FiscalYear, &o.Number, &o.OrderNumber, &o.DemandID, &o.DemandNumber, &o.SupplierName, &status, &o.Date, &o.Remarks, &lines, &sigs)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseOrder{}, ErrNotFound
		}
		return PurchaseOrder{}, err
	}
	o.Status = statusOf(status)
	if err := unmarshalDoc(lines, &o.Lines, sigs, &o.Signatures); err != nil {
		return PurchaseOrder{}, err
	}
	return o, nil
}

// GetGoodsReceipt loads one goods-receipt request.
func (r *Repository) GetGoodsReceipt(ctx context.Context, id int64) (GoodsReceiptRequest, error) {
	row := r.pool.QueryRow(ctx, `SELECT id, fiscal_year, number, status, date, mode, store_id, source, remarks, lines, signatures
FROM goods_receipt_requests WHERE id=$1`, id)
	var g GoodsReceiptRequest
	var status string
	var lines, sigs []byte
	err := row.Scan(&g.ID, &g.FiscalYear, &g.Number, &status, &g.Date, &g.Mode, &g.StoreID, &g.Source, &g.Remarks, &lines, &sigs)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return GoodsReceiptRequest{}, ErrNotFound
		}
		return GoodsReceiptRequest{}, err
	}
	g.Status = statusOf(status)
	if err := unmarshalDoc(lines, &g.Lines, sigs, &g.Signatures); err != nil {
		return GoodsReceiptRequest{}, err
	}
	return g, nil
}

func (t *txRepo) InsertDemand(ctx context.Context, d Demand) (int64, error) {
	lines, sigs, err := marshalDoc(d.Lines, d.Signatures)
	if err != nil {
		return 0, err
	}
	var id int64
	err = t.tx.QueryRow(ctx, `INSERT INTO demands (fiscal_year, number, status, date, purpose, stock_remark, lines, signatures)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id`,
		d.FiscalYear, d.Number, string(d.Status), d.Date, d.Purpose, d.StockRemark, lines, sigs).Scan(&id)
	return id, mapDuplicate(err)
}

func (t *txRepo) UpdateDemand(ctx context.Context, d Demand) error {
	lines, sigs, err := marshalDoc(d.Lines, d.Signatures)
	if err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, `UPDATE demands SET status=$2, stock_remark=$3, lines=$4, signatures=$5 WHERE id=$1`,
		d.ID, string(d.Status), d.StockRemark, lines, sigs)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *txRepo) InsertPurchaseOrder(ctx context.Context, o PurchaseOrder) (int64, error) {
	lines, sigs, err := marshalDoc(o.Lines, o.Signatures)
	if err != nil {
		return 0, err
	}
	var id int64
	err = t.tx.QueryRow(ctx, `INSERT INTO purchase_orders (fiscal_year, number, order_number, demand_id, demand_number, supplier_name, status, date, remarks, lines, signatures)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11) RETURNING id`,
		o.FiscalYear, o.Number, o.OrderNumber, o.DemandID, o.DemandNumber, o.SupplierName, string(o.Status), o.Date, o.Remarks, lines, sigs).Scan(&id)
	return id, mapDuplicate(err)
}

func (t *txRepo) UpdatePurchaseOrder(ctx context.Context, o PurchaseOrder) error {
	lines, sigs, err := marshalDoc(o.Lines, o.Signatures)
	if err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, `UPDATE purchase_orders SET status=$2, order_number=$3, lines=$4, signatures=$5 WHERE id=$1`,
		o.ID, string(o.Status), o.OrderNumber, lines, sigs)
	if err != nil {
		return mapDuplicate(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *txRepo) InsertGoodsReceipt(ctx context.Context, g GoodsReceiptRequest) (int64, error) {
	lines, sigs, err := marshalDoc(g.Lines, g.Signatures)
	if err != nil {
		return 0, err
	}
	var id int64
	err = t.tx.QueryRow(ctx, `INSERT INTO goods_receipt_requests (fiscal_year, number, status, date, mode, store_id, source, remarks, lines, signatures)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10) RETURNING id`,
		g.FiscalYear, g.Number, string(g.Status), g.Date, g.Mode, g.StoreID, g.Source, g.Remarks, lines, sigs).Scan(&id)
	return id, mapDuplicate(err)
}

func (t *txRepo) UpdateGoodsReceipt(ctx context.Context, g GoodsReceiptRequest) error {
	lines, sigs, err := marshalDoc(g.Lines, g.Signatures)
	if err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, `UPDATE goods_receipt_requests SET status=$2, lines=$3, signatures=$4 WHERE id=$1`,
		g.ID, string(g.Status), lines, sigs)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func marshalDoc(lines any, sigs any) ([]byte, []byte, error) {
	lineJSON, err := json.Marshal(lines)
	if err != nil {
		return nil, nil, err
	}
	sigJSON, err := json.Marshal(sigs)
	if err != nil {
		return nil, nil, err
	}
	return lineJSON, sigJSON, nil
}

func unmarshalDoc(lines []byte, linesTarget any, sigs []byte, sigsTarget any) error {
	if len(lines) > 0 {
		if err := json.Unmarshal(lines, linesTarget); err != nil {
			return err
		}
	}
	if len(sigs) > 0 {
		if err := json.Unmarshal(sigs, sigsTarget); err != nil {
			return err
		}
	}
	return nil
}

func statusOf(s string) workflow.Status {
	return workflow.Status(s)
}

func mapDuplicate(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicateNumber
	}
	return err
}
