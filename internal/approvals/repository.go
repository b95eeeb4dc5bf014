package approvals

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists pending approvals.
type Repository interface {
	Insert(ctx context.Context, approval PendingApproval) error
	Get(ctx context.Context, id uuid.UUID) (PendingApproval, error)
	FindPendingByOperationKey(ctx context.Context, key string) (*PendingApproval, error)
	// UpdateDecision transitions pending/escalated to the target status; it
	// reports ErrAlreadyDecided when the row already reached a terminal state.
	UpdateDecision(ctx context.Context, id uuid.UUID, status Status, decidedBy int64, note string, decidedAt time.Time) error
	ListOpen(ctx context.Context, limit int) ([]PendingApproval, error)
	MarkEscalated(ctx context.Context, olderThan time.Time) ([]PendingApproval, error)
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository returns a pgx-backed Repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

const approvalColumns = `id, operation_type, requested_by, requested_by_name, request_payload, amount, status,
operation_key, idempotency_key, created_at, decided_by, decided_at, decision_note, escalated_at`

func scanApproval(row pgx.Row) (PendingApproval, error) {
	var a PendingApproval
	var opType, status string
	err := row.Scan(&a.ID, &opType, &a.RequestedBy, &a.RequestedByName, &a.RequestPayload, &a.Amount, &status,
		&a.OperationKey, &a.IdempotencyKey, &a.CreatedAt, &a.DecidedBy, &a.DecidedAt, &a.DecisionNote, &a.EscalatedAt)
	if err != nil {
		return PendingApproval{}, err
	}
	a.OperationType = OperationType(opType)
	a.Status = Status(status)
	return a, nil
}

func (r *repository) Insert(ctx context.Context, a PendingApproval) error {
	_, err := r.db.Exec(ctx, `INSERT INTO pending_approvals
(id, operation_type, requested_by, requested_by_name, request_payload, amount, status, operation_key, idempotency_key, created_at, decision_note)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		a.ID, string(a.OperationType), a.RequestedBy, a.RequestedByName, a.RequestPayload, a.Amount,
		string(a.Status), a.OperationKey, a.IdempotencyKey, a.CreatedAt, a.DecisionNote)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicatePending
		}
		return err
	}
	return nil
}

func (r *repository) Get(ctx context.Context, id uuid.UUID) (PendingApproval, error) {
	row := r.db.QueryRow(ctx, `SELECT `+approvalColumns+` FROM pending_approvals WHERE id=$1`, id)
	return scanApproval(row)
}

func (r *repository) FindPendingByOperationKey(ctx context.Context, key string) (*PendingApproval, error) {
	row := r.db.QueryRow(ctx, `SELECT `+approvalColumns+` FROM pending_approvals
WHERE operation_key=$1 AND status IN ('pending','escalated') LIMIT 1`, key)
	a, err := scanApproval(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}

func (r *repository) UpdateDecision(ctx context.Context, id uuid.UUID, status Status, decidedBy int64, note string, decidedAt time.Time) error {
	ct, err := r.db.Exec(ctx, `UPDATE pending_approvals
SET status=$2, decided_by=$3, decision_note=$4, decided_at=$5
WHERE id=$1 AND status IN ('pending','escalated')`,
		id, string(status), decidedBy, note, decidedAt)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrAlreadyDecided
	}
	return nil
}

func (r *repository) ListOpen(ctx context.Context, limit int) ([]PendingApproval, error) {
	rows, err := r.db.Query(ctx, `SELECT `+approvalColumns+` FROM pending_approvals
WHERE status IN ('pending','escalated') ORDER BY created_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectApprovals(rows)
}

func (r *repository) MarkEscalated(ctx context.Context, olderThan time.Time) ([]PendingApproval, error) {
	rows, err := r.db.Query(ctx, `UPDATE pending_approvals
SET status='escalated', escalated_at=NOW()
WHERE status='pending' AND created_at < $1
RETURNING `+approvalColumns, olderThan)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectApprovals(rows)
}

func collectApprovals(rows pgx.Rows) ([]PendingApproval, error) {
	var approvals []PendingApproval
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		approvals = append(approvals, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return approvals, nil
}
