package dispatch

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
	InsertIssue(ctx context.Context, issue IssueRequest) (int64, error)
	UpdateIssue(ctx context.Context, issue IssueRequest) error
	InsertReturn(ctx context.Context, ret ReturnRequest) (int64, error)
	UpdateReturn(ctx context.Context, ret ReturnRequest) error
	InsertDisposal(ctx context.Context, disposal DisposalRequest) (int64, error)
	UpdateDisposal(ctx context.Context, disposal DisposalRequest) error
}

type txRepo struct {
	tx pgx.Tx
}

// ErrDuplicateNumber indicates a concurrent insert won the same number.
var ErrDuplicateNumber = errors.New("dispatch: document number already taken")

// WithTx wraps the callback in a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

var kindTables = map[string]string{
	KindIssue:    "issue_requests",
	KindReturn:   "return_requests",
	KindDisposal: "disposal_requests",
}

func listNumbers(ctx context.Context, q interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}, kind, fiscalYear string) ([]string, error) {
	table, ok := kindTables[kind]
	if !ok {
		return nil, fmt.Errorf("dispatch: unknown kind %q", kind)
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

// GetIssue loads one issue request.
func (r *Repository) GetIssue(ctx context.Context, id int64) (IssueRequest, error) {
	row := r.pool.QueryRow(ctx, `SELECT id, fiscal_year, number, status, date, store_id, issued_to, purpose, remarks, lines, signatures
FROM issue_requests WHERE id=$1`, id)
	var i IssueRequest
	var status string
	var lines, sigs []byte
	err := row.Scan(&i.ID, &i.FiscalYear, &i.Number, &status, &i.Date, &i.StoreID, &i.IssuedTo, &i.Purpose, &i.Remarks, &lines, &sigs)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return IssueRequest{}, ErrNotFound
		}
		return IssueRequest{}, err
	}
	i.Status = workflow.Status(status)
	if err := unmarshalDoc(lines, &i.Lines, sigs, &i.Signatures); err != nil {
		return IssueRequest{}, err
	}
	return i, nil
}

// GetReturn loads one return request.
func (r *Repository) GetReturn(ctx context.Context, id int64) (ReturnRequest, error) {
	row := r.pool.QueryRow(ctx, `SELECT id, fiscal_year, number, status, date, store_id, returned_by, remarks, lines, signatures
FROM return_requests WHERE id=$1`, id)
	var ret ReturnRequest
	var status string
	var lines, sigs []byte
	err := row.Scan(&ret.ID, &ret.FiscalYear, &ret.Number, &status, &ret.Date, &ret.StoreID, &ret.ReturnedBy, &ret.Remarks, &lines, &sigs)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ReturnRequest{}, ErrNotFound
		}
		return ReturnRequest{}, err
	}
	ret.Status = workflow.Status(status)
	if err := unmarshalDoc(lines, &ret.Lines, sigs, &ret.Signatures); err != nil {
		return ReturnRequest{}, err
	}
	return ret, nil
}

// GetDisposal loads one disposal request.
func (r *Repository) GetDisposal(ctx context.Context, id int64) (DisposalRequest, error) {
	row := r.pool.QueryRow(ctx, `SELECT id, fiscal_year, number, status, date, reason, remarks, lines, signatures
FROM disposal_requests WHERE id=$1`, id)
	var d DisposalRequest
	var status string
	var lines, sigs []byte
	err := row.Scan(&d.ID, &d.FiscalYear, &d.Number, &status, &d.Date, &d.Reason, &d.Remarks, &lines, &sigs)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return DisposalRequest{}, ErrNotFound
		}
		return DisposalRequest{}, err
	}
	d.Status = workflow.Status(status)
	if err := unmarshalDoc(lines, &d.Lines, sigs, &d.Signatures); err != nil {
		return DisposalRequest{}, err
	}
	return d, nil
}

func (t *txRepo) InsertIssue(ctx context.Context, i IssueRequest) (int64, error) {
	lines, sigs, err := marshalDoc(i.Lines, i.Signatures)
	if err != nil {
		return 0, err
	}
	var id int64
	err = t.tx.QueryRow(ctx, `INSERT INTO issue_requests (fiscal_year, number, status, date, store_id, issued_to, purpose, remarks, lines, signatures)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10) RETURNING id`,
		i.FiscalYear, i.Number, string(i.Status), i.Date, i.StoreID, i.IssuedTo, i.Purpose, i.Remarks, lines, sigs).Scan(&id)
	return id, mapDuplicate(err)
}

func (t *txRepo) UpdateIssue(ctx context.Context, i IssueRequest) error {
	lines, sigs, err := marshalDoc(i.Lines, i.Signatures)
	if err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, `UPDATE issue_requests SET status=$2, lines=$3, signatures=$4 WHERE id=$1`,
		i.ID, string(i.Status), lines, sigs)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *txRepo) InsertReturn(ctx context.Context, ret ReturnRequest) (int64, error) {
	lines, sigs, err := marshalDoc(ret.Lines, ret.Signatures)
	if err != nil {
		return 0, err
	}
	var id int64
	err = t.tx.QueryRow(ctx, `INSERT INTO return_requests (fiscal_year, number, status, date, store_id, returned_by, remarks, lines, signatures)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING id`,
		ret.FiscalYear, ret.Number, string(ret.Status), ret.Date, ret.StoreID, ret.ReturnedBy, ret.Remarks, lines, sigs).Scan(&id)
	return id, mapDuplicate(err)
}

func (t *txRepo) UpdateReturn(ctx context.Context, ret ReturnRequest) error {
	lines, sigs, err := marshalDoc(ret.Lines, ret.Signatures)
	if err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, `UPDATE return_requests SET status=$2, lines=$3, signatures=$4 WHERE id=$1`,
		ret.ID, string(ret.Status), lines, sigs)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *txRepo) InsertDisposal(ctx context.Context, d DisposalRequest) (int64, error) {
	lines, sigs, err := marshalDoc(d.Lines, d.Signatures)
	if err != nil {
		return 0, err
	}
	var id int64
	err = t.tx.QueryRow(ctx, `INSERT INTO disposal_requests (fiscal_year, number, status, date, reason, remarks, lines, signatures)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id`,
		d.FiscalYear, d.Number, string(d.Status), d.Date, d.Reason, d.Remarks, lines, sigs).Scan(&id)
	return id, mapDuplicate(err)
}

func (t *txRepo) UpdateDisposal(ctx context.Context, d DisposalRequest) error {
	lines, sigs, err := marshalDoc(d.Lines, d.Signatures)
	if err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, `UPDATE disposal_requests SET status=$2, lines=$3, signatures=$4 WHERE id=$1`,
		d.ID, string(d.Status), lines, sigs)
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
