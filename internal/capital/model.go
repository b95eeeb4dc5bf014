package capital

import (
	"errors"
	"time"
)

// Direction marks whether an entry adds to or draws from working capital.
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// Entry is a single working-capital movement. Entries are idempotent on
// (reference, direction): replaying an approved operation never double-posts.
type Entry struct {
	ID           int64
	Reference    string
	Direction    Direction
	Amount       float64
	ExchangeRate float64
	Description  string
	EntryDate    time.Time
	CreatedBy    int64
	CreatedAt    time.Time
}

// ErrDuplicateEntry indicates the (reference, direction) pair already exists.
var ErrDuplicateEntry = errors.New("capital: entry already recorded for reference")
