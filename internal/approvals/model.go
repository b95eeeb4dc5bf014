package approvals

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status enumerates approval lifecycle states. Escalated is the only
// non-terminal state besides pending; it marks an overdue request.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
	StatusEscalated Status = "escalated"
)

// Terminal reports whether the status permits no further transition.
func (s Status) Terminal() bool {
	switch s {
	case StatusApproved, StatusRejected, StatusCancelled:
		return true
	default:
		return false
	}
}

// OperationType names a gated operation.
type OperationType string

const (
	OpPurchaseCreate  OperationType = "purchase_create"
	OpCapitalEntry    OperationType = "capital_entry"
	OpSupplierAdvance OperationType = "supplier_advance"
	OpPurchaseReturn  OperationType = "purchase_return"
)

// PendingApproval captures a deferred operation awaiting a human decision.
// The payload is frozen verbatim at submit time and replayed on approval.
type PendingApproval struct {
	ID              uuid.UUID
	OperationType   OperationType
	RequestedBy     int64
	RequestedByName string
	RequestPayload  json.RawMessage
	Amount          float64
	Status          Status
	// OperationKey is timestamp-free; a partial unique index on it while
	// status='pending' enforces the single-pending invariant.
	OperationKey string
	// IdempotencyKey includes the creation timestamp and is consumed by the
	// replay executor before committing side effects.
	IdempotencyKey string
	CreatedAt      time.Time
	DecidedBy      *int64
	DecidedAt      *time.Time
	DecisionNote   string
	EscalatedAt    *time.Time
}

// OperationKey derives the duplicate-detection key for an operation attempt.
func OperationKeyFor(op OperationType, requestedBy int64, payload []byte) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%d|", op, requestedBy)
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// IdempotencyKeyFor derives the replay key, bound to the creation instant.
func IdempotencyKeyFor(op OperationType, requestedBy int64, payload []byte, createdAt time.Time) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%d|%d|", op, requestedBy, createdAt.UnixNano())
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

var (
	// ErrDuplicatePending indicates an identical operation already awaits a decision.
	ErrDuplicatePending = errors.New("approvals: identical operation already pending")
	// ErrAlreadyDecided indicates the approval reached a terminal state.
	ErrAlreadyDecided = errors.New("approvals: approval already decided")
	// ErrNoExecutor indicates no executor is registered for the operation type.
	ErrNoExecutor = errors.New("approvals: no executor registered for operation type")
)
