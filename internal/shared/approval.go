package shared

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ApprovalAction enumerates approval log actions.
type ApprovalAction string

const (
	// ApprovalSubmit marks a submit action.
	ApprovalSubmit ApprovalAction = "SUBMIT"
	// ApprovalVerify marks a verification action.
	ApprovalVerify ApprovalAction = "VERIFY"
	// ApprovalApprove marks an approve action.
	ApprovalApprove ApprovalAction = "APPROVE"
	// ApprovalReject marks a reject action.
	ApprovalReject ApprovalAction = "REJECT"
)

// ApprovalLog represents one entry of a document's approval history.
type ApprovalLog struct {
	ID         int64
	Kind       string
	RefID      uuid.UUID
	FiscalYear string
	ActorName  string
	ActorRole  Role
	Action     ApprovalAction
	Note       string
	At         time.Time
}

// ApprovalRecorder persists approval history.
type ApprovalRecorder struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewApprovalRecorder constructs ApprovalRecorder.
func NewApprovalRecorder(pool *pgxpool.Pool, logger *slog.Logger) *ApprovalRecorder {
	return &ApprovalRecorder{pool: pool, logger: logger}
}

// DocumentRef derives a stable reference id for a document kind and id.
func DocumentRef(kind string, id int64) uuid.UUID {
	return uuid.NewSHA1(uuid.Nil, []byte(fmt.Sprintf("%s:%d", kind, id)))
}

// Record writes an approval entry to the database.
func (r *ApprovalRecorder) Record(ctx context.Context, log ApprovalLog) error {
	if r == nil {
		return errors.New("approval recorder not initialised")
	}
	if log.Kind == "" {
		return errors.New("approval kind required")
	}
	if log.ActorName == "" {
		return errors.New("approval actor required")
	}
	if log.RefID == uuid.Nil {
		return errors.New("approval ref id required")
	}
	if log.Action == "" {
		return errors.New("approval action required")
	}
	_, err := r.pool.Exec(ctx, `INSERT INTO approvals (kind, ref_id, fiscal_year, actor_name, actor_role, action, note, at)
VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8, NOW()))`,
		log.Kind, log.RefID, log.FiscalYear, log.ActorName, string(log.ActorRole), string(log.Action), log.Note, log.At)
	if err != nil {
		r.logger.Error("record approval", slog.Any("error", err))
		return err
	}
	return nil
}

// List returns the approval history for a document, oldest first.
func (r *ApprovalRecorder) List(ctx context.Context, kind string, ref uuid.UUID) ([]ApprovalLog, error) {
	if r == nil {
		return nil, errors.New("approval recorder not initialised")
	}
	rows, err := r.pool.Query(ctx, `SELECT id, kind, ref_id, fiscal_year, actor_name, actor_role, action, note, at
FROM approvals WHERE kind=$1 AND ref_id=$2 ORDER BY at ASC`, kind, ref)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var logs []ApprovalLog
	for rows.Next() {
		var l ApprovalLog
		var role, action string
		if err := rows.Scan(&l.ID, &l.Kind, &l.RefID, &l.FiscalYear, &l.ActorName, &role, &action, &l.Note, &l.At); err != nil {
			return nil, err
		}
		l.ActorRole = Role(role)
		l.Action = ApprovalAction(action)
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

// EnsureSubmit records a submit entry once per document.
func (r *ApprovalRecorder) EnsureSubmit(ctx context.Context, kind string, ref uuid.UUID, actor Actor, fy, note string) error {
	if r == nil {
		return errors.New("approval recorder not initialised")
	}
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT true FROM approvals WHERE kind=$1 AND ref_id=$2 AND action='SUBMIT' LIMIT 1`, kind, ref).Scan(&exists)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return r.Record(ctx, ApprovalLog{Kind: kind, RefID: ref, FiscalYear: fy, ActorName: actor.FullName, ActorRole: actor.Role, Action: ApprovalSubmit, Note: note})
		}
		return err
	}
	return nil
}
