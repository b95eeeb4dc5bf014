package capital

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Service owns working-capital movements. It also serves as the rate source
// for the approval gate, exposing the central exchange rate.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService constructs a Service instance.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// RecordEntry posts a capital movement. Duplicate (reference, direction)
// pairs are reported as ErrDuplicateEntry so replays stay safe.
func (s *Service) RecordEntry(ctx context.Context, e Entry) (Entry, error) {
	if e.Reference == "" {
		return Entry{}, errors.New("capital: reference required")
	}
	if e.Direction != DirectionIn && e.Direction != DirectionOut {
		return Entry{}, fmt.Errorf("capital: invalid direction %q", e.Direction)
	}
	if e.Amount <= 0 {
		return Entry{}, errors.New("capital: amount must be positive")
	}
	if e.EntryDate.IsZero() {
		e.EntryDate = s.now()
	}
	return s.repo.InsertEntry(ctx, e)
}

// Balance returns the current working-capital balance.
func (s *Service) Balance(ctx context.Context) (float64, error) {
	return s.repo.Balance(ctx)
}

// CentralRate satisfies the approval gate's rate source.
func (s *Service) CentralRate(ctx context.Context) (float64, error) {
	return s.repo.CentralRate(ctx)
}
