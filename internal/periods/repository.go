package periods

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/workflu/workflu/internal/platform/db"
)

// Repository provides access to accounting periods.
type Repository interface {
	FindPeriodForDate(ctx context.Context, date time.Time) (*Period, error)
	Get(ctx context.Context, id int64) (Period, error)
	ListByIDs(ctx context.Context, ids []int64) ([]Period, error)
	List(ctx context.Context, limit, offset int) ([]Period, error)
	RangeConflict(ctx context.Context, start, end time.Time) (bool, error)
	Insert(ctx context.Context, in CreatePeriodInput) (Period, error)
	UpdateStatus(ctx context.Context, id int64, status Status, actorID int64) error
}

// CreatePeriodInput carries fields for a new period.
type CreatePeriodInput struct {
	PeriodNumber string
	StartDate    time.Time
	EndDate      time.Time
}

// Validate checks the input range.
func (in CreatePeriodInput) Validate() error {
	if in.PeriodNumber == "" {
		return errors.New("periods: period number required")
	}
	if in.EndDate.Before(in.StartDate) {
		return errors.New("periods: end date before start date")
	}
	return nil
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository returns a pgx-backed Repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

const periodColumns = `id, period_number, start_date, end_date, status, closed_at, closed_by, created_at, updated_at`

func scanPeriod(row pgx.Row) (Period, error) {
	var p Period
	var status string
	err := row.Scan(&p.ID, &p.PeriodNumber, &p.StartDate, &p.EndDate, &status, &p.ClosedAt, &p.ClosedBy, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return Period{}, err
	}
	p.Status = Status(status)
	return p, nil
}

// FindPeriodForDate returns the unique period covering the date, or nil when
// the date falls into a gap between periods. Gaps are not an error.
func (r *repository) FindPeriodForDate(ctx context.Context, date time.Time) (*Period, error) {
	row := r.db.QueryRow(ctx, `SELECT `+periodColumns+`
FROM accounting_periods WHERE $1 BETWEEN start_date AND end_date ORDER BY start_date LIMIT 1`, date)
	p, err := scanPeriod(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

func (r *repository) Get(ctx context.Context, id int64) (Period, error) {
	row := r.db.QueryRow(ctx, `SELECT `+periodColumns+` FROM accounting_periods WHERE id=$1`, id)
	return scanPeriod(row)
}

func (r *repository) ListByIDs(ctx context.Context, ids []int64) ([]Period, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.db.Query(ctx, `SELECT `+periodColumns+` FROM accounting_periods WHERE id = ANY($1) ORDER BY start_date`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPeriods(rows)
}

func (r *repository) List(ctx context.Context, limit, offset int) ([]Period, error) {
	rows, err := r.db.Query(ctx, `SELECT `+periodColumns+` FROM accounting_periods ORDER BY start_date DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPeriods(rows)
}

func collectPeriods(rows pgx.Rows) ([]Period, error) {
	var periods []Period
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, err
		}
		periods = append(periods, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return periods, nil
}

func (r *repository) RangeConflict(ctx context.Context, start, end time.Time) (bool, error) {
	var conflict bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (
SELECT 1 FROM accounting_periods WHERE start_date <= $2 AND end_date >= $1)`, start, end).Scan(&conflict)
	return conflict, err
}

// Insert re-checks the overlap inside the transaction so two concurrent
// creates cannot both pass the service-level conflict check.
func (r *repository) Insert(ctx context.Context, in CreatePeriodInput) (Period, error) {
	var created Period
	err := db.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		var conflict bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (
SELECT 1 FROM accounting_periods WHERE start_date <= $2 AND end_date >= $1)`, in.StartDate, in.EndDate).Scan(&conflict); err != nil {
			return err
		}
		if conflict {
			return ErrPeriodOverlap
		}
		row := tx.QueryRow(ctx, `INSERT INTO accounting_periods (period_number, start_date, end_date, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, NOW(), NOW()) RETURNING `+periodColumns,
			in.PeriodNumber, in.StartDate, in.EndDate, string(StatusOpen))
		var err error
		created, err = scanPeriod(row)
		return err
	})
	if err != nil {
		return Period{}, err
	}
	return created, nil
}

func (r *repository) UpdateStatus(ctx context.Context, id int64, status Status, actorID int64) error {
	var (
		ct  pgconn.CommandTag
		err error
	)
	if status == StatusClosed || status == StatusLocked {
		ct, err = r.db.Exec(ctx, `UPDATE accounting_periods SET status=$2, closed_at=NOW(), closed_by=$3, updated_at=NOW() WHERE id=$1`, id, string(status), actorID)
	} else {
		ct, err = r.db.Exec(ctx, `UPDATE accounting_periods SET status=$2, closed_at=NULL, closed_by=NULL, updated_at=NOW() WHERE id=$1`, id, string(status))
	}
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}
