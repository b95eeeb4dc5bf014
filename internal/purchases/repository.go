package purchases

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists purchases and supplier advances.
type Repository interface {
	Insert(ctx context.Context, p Purchase) (Purchase, error)
	FindByIdempotencyKey(ctx context.Context, key string) (*Purchase, error)
	Get(ctx context.Context, id int64) (Purchase, error)
	GetByNumber(ctx context.Context, number string) (Purchase, error)
	NextNumber(ctx context.Context) (string, error)
	List(ctx context.Context, limit, offset int) ([]Purchase, error)
	MarkReturned(ctx context.Context, id int64) error
	InsertAdvance(ctx context.Context, a Advance) (Advance, error)
	FindAdvanceByIdempotencyKey(ctx context.Context, key string) (*Advance, error)
	NextAdvanceNumber(ctx context.Context) (string, error)
	ListAdvances(ctx context.Context, limit, offset int) ([]Advance, error)
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository returns a pgx-backed Repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

const purchaseColumns = `id, number, supplier_id, purchase_date, amount, currency, exchange_rate, notes, status, created_by, idempotency_key, created_at`

func scanPurchase(row pgx.Row) (Purchase, error) {
	var p Purchase
	var status string
	err := row.Scan(&p.ID, &p.Number, &p.SupplierID, &p.PurchaseDate, &p.Amount, &p.Currency,
		&p.ExchangeRate, &p.Notes, &status, &p.CreatedBy, &p.IdempotencyKey, &p.CreatedAt)
	if err != nil {
		return Purchase{}, err
	}
	p.Status = PurchaseStatus(status)
	return p, nil
}

func (r *repository) Insert(ctx context.Context, p Purchase) (Purchase, error) {
	row := r.db.QueryRow(ctx, `INSERT INTO purchases
(number, supplier_id, purchase_date, amount, currency, exchange_rate, notes, status, created_by, idempotency_key, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
RETURNING `+purchaseColumns,
		p.Number, p.SupplierID, p.PurchaseDate, p.Amount, p.Currency, p.ExchangeRate, p.Notes,
		string(p.Status), p.CreatedBy, p.IdempotencyKey)
	return scanPurchase(row)
}

func (r *repository) FindByIdempotencyKey(ctx context.Context, key string) (*Purchase, error) {
	row := r.db.QueryRow(ctx, `SELECT `+purchaseColumns+` FROM purchases WHERE idempotency_key=$1`, key)
	p, err := scanPurchase(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

func (r *repository) Get(ctx context.Context, id int64) (Purchase, error) {
	row := r.db.QueryRow(ctx, `SELECT `+purchaseColumns+` FROM purchases WHERE id=$1`, id)
	return scanPurchase(row)
}

func (r *repository) GetByNumber(ctx context.Context, number string) (Purchase, error) {
	row := r.db.QueryRow(ctx, `SELECT `+purchaseColumns+` FROM purchases WHERE number=$1`, number)
	return scanPurchase(row)
}

func (r *repository) NextNumber(ctx context.Context) (string, error) {
	var seq int64
	if err := r.db.QueryRow(ctx, `SELECT nextval('purchase_number_seq')`).Scan(&seq); err != nil {
		return "", err
	}
	return fmt.Sprintf("PO-%06d", seq), nil
}

func (r *repository) List(ctx context.Context, limit, offset int) ([]Purchase, error) {
	rows, err := r.db.Query(ctx, `SELECT `+purchaseColumns+` FROM purchases ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var purchases []Purchase
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, err
		}
		purchases = append(purchases, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return purchases, nil
}

// MarkReturned flips a recorded purchase to returned. The status predicate in
// the WHERE clause makes the transition one-way.
func (r *repository) MarkReturned(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `UPDATE purchases SET status=$2 WHERE id=$1 AND status=$3`,
		id, string(StatusReturned), string(StatusRecorded))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

const advanceColumns = `id, number, supplier_id, advance_date, due_date, amount, currency, exchange_rate, notes, created_by, idempotency_key, created_at`

func scanAdvance(row pgx.Row) (Advance, error) {
	var a Advance
	err := row.Scan(&a.ID, &a.Number, &a.SupplierID, &a.AdvanceDate, &a.DueDate, &a.Amount,
		&a.Currency, &a.ExchangeRate, &a.Notes, &a.CreatedBy, &a.IdempotencyKey, &a.CreatedAt)
	if err != nil {
		return Advance{}, err
	}
	return a, nil
}

func (r *repository) InsertAdvance(ctx context.Context, a Advance) (Advance, error) {
	row := r.db.QueryRow(ctx, `INSERT INTO supplier_advances
(number, supplier_id, advance_date, due_date, amount, currency, exchange_rate, notes, created_by, idempotency_key, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
RETURNING `+advanceColumns,
		a.Number, a.SupplierID, a.AdvanceDate, a.DueDate, a.Amount, a.Currency, a.ExchangeRate,
		a.Notes, a.CreatedBy, a.IdempotencyKey)
	return scanAdvance(row)
}

func (r *repository) FindAdvanceByIdempotencyKey(ctx context.Context, key string) (*Advance, error) {
	row := r.db.QueryRow(ctx, `SELECT `+advanceColumns+` FROM supplier_advances WHERE idempotency_key=$1`, key)
	a, err := scanAdvance(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}

func (r *repository) NextAdvanceNumber(ctx context.Context) (string, error) {
	var seq int64
	if err := r.db.QueryRow(ctx, `SELECT nextval('advance_number_seq')`).Scan(&seq); err != nil {
		return "", err
	}
	return fmt.Sprintf("ADV-%06d", seq), nil
}

func (r *repository) ListAdvances(ctx context.Context, limit, offset int) ([]Advance, error) {
	rows, err := r.db.Query(ctx, `SELECT `+advanceColumns+` FROM supplier_advances ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var advances []Advance
	for rows.Next() {
		a, err := scanAdvance(rows)
		if err != nil {
			return nil, err
		}
		advances = append(advances, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return advances, nil
}
