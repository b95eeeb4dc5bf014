package capital

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists capital entries and central settings.
type Repository interface {
	InsertEntry(ctx context.Context, e Entry) (Entry, error)
	Balance(ctx context.Context) (float64, error)
	CentralRate(ctx context.Context) (float64, error)
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository returns a pgx-backed Repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

func (r *repository) InsertEntry(ctx context.Context, e Entry) (Entry, error) {
	row := r.db.QueryRow(ctx, `INSERT INTO capital_entries
(reference, direction, amount, exchange_rate, description, entry_date, created_by, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
RETURNING id, created_at`,
		e.Reference, string(e.Direction), e.Amount, e.ExchangeRate, e.Description, e.EntryDate, e.CreatedBy)
	if err := row.Scan(&e.ID, &e.CreatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Entry{}, ErrDuplicateEntry
		}
		return Entry{}, err
	}
	return e, nil
}

func (r *repository) Balance(ctx context.Context) (float64, error) {
	var balance float64
	err := r.db.QueryRow(ctx, `SELECT COALESCE(SUM(CASE WHEN direction='in' THEN amount ELSE -amount END), 0)
FROM capital_entries`).Scan(&balance)
	return balance, err
}

// CentralRate reads the centrally managed exchange rate from settings.
func (r *repository) CentralRate(ctx context.Context) (float64, error) {
	var rate float64
	err := r.db.QueryRow(ctx, `SELECT value::float8 FROM central_settings WHERE key='exchange_rate'`).Scan(&rate)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 1, nil
		}
		return 0, err
	}
	return rate, nil
}
