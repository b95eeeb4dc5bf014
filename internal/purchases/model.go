package purchases

import "time"

// PurchaseStatus enumerates purchase states.
type PurchaseStatus string

const (
	StatusRecorded  PurchaseStatus = "recorded"
	StatusReturned  PurchaseStatus = "returned"
	StatusCancelled PurchaseStatus = "cancelled"
)

// Purchase is a recorded commodity purchase. The exchange rate stored here is
// always the central rate at execution time; client-supplied rates are
// discarded before the row is written.
type Purchase struct {
	ID             int64
	Number         string
	SupplierID     int64
	PurchaseDate   time.Time
	Amount         float64
	Currency       string
	ExchangeRate   float64
	Notes          string
	Status         PurchaseStatus
	CreatedBy      int64
	IdempotencyKey string
	CreatedAt      time.Time
}

// Advance is a prepayment to a supplier ahead of delivery. The due date is
// derived from the advance date plus the configured settlement terms, never
// supplied by the client.
type Advance struct {
	ID             int64
	Number         string
	SupplierID     int64
	AdvanceDate    time.Time
	DueDate        time.Time
	Amount         float64
	Currency       string
	ExchangeRate   float64
	Notes          string
	CreatedBy      int64
	IdempotencyKey string
	CreatedAt      time.Time
}
