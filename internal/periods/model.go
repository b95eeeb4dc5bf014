package periods

import (
	"errors"
	"time"
)

// Status enumerates valid period states.
type Status string

const (
	StatusOpen         Status = "open"
	StatusPendingClose Status = "pending_close"
	StatusClosed       Status = "closed"
	StatusLocked       Status = "locked"
)

// Period represents a fiscal period window. Ranges are contiguous and
// non-overlapping; a date resolves to at most one period.
type Period struct {
	ID           int64
	PeriodNumber string
	StartDate    time.Time
	EndDate      time.Time
	Status       Status
	ClosedAt     *time.Time
	ClosedBy     *int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Blocked reports whether mutations dated inside this period are rejected.
func (p Period) Blocked() bool {
	return p.Status == StatusClosed || p.Status == StatusLocked
}

// Contains reports whether the date falls inside [StartDate, EndDate].
func (p Period) Contains(date time.Time) bool {
	d := date.Truncate(24 * time.Hour)
	return !d.Before(p.StartDate) && !d.After(p.EndDate)
}

// ErrInvalidTransition indicates a status change not allowed by policy.
var ErrInvalidTransition = errors.New("period transition invalid")

// ErrPeriodOverlap indicates a new period range collides with an existing one.
var ErrPeriodOverlap = errors.New("period range overlaps existing period")

// ValidateTransition checks status changes according to policy.
func ValidateTransition(current, target Status, hasOverride bool) error {
	if current == target {
		return nil
	}
	switch current {
	case StatusOpen:
		if target == StatusPendingClose || target == StatusClosed {
			return nil
		}
	case StatusPendingClose:
		if target == StatusClosed || target == StatusOpen {
			return nil
		}
	case StatusClosed:
		if target == StatusOpen || target == StatusLocked {
			return nil
		}
	case StatusLocked:
		if target == StatusClosed && hasOverride {
			return nil
		}
	}
	return ErrInvalidTransition
}
