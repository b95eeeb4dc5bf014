package periods

import (
	"context"
	"time"
)

// Service resolves dates to periods and manages the period lifecycle.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService constructs a Service instance.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// FindPeriodForDate returns the period containing the date, or nil for gaps.
func (s *Service) FindPeriodForDate(ctx context.Context, date time.Time) (*Period, error) {
	return s.repo.FindPeriodForDate(ctx, date)
}

// Get returns a single period by identifier.
func (s *Service) Get(ctx context.Context, id int64) (Period, error) {
	return s.repo.Get(ctx, id)
}

// ListByIDs loads the given periods ordered by start date.
func (s *Service) ListByIDs(ctx context.Context, ids []int64) ([]Period, error) {
	return s.repo.ListByIDs(ctx, ids)
}

// List returns periods ordered most recent first.
func (s *Service) List(ctx context.Context, limit, offset int) ([]Period, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.repo.List(ctx, limit, offset)
}

// Create inserts a new period after validating the range does not overlap.
func (s *Service) Create(ctx context.Context, in CreatePeriodInput) (Period, error) {
	if err := in.Validate(); err != nil {
		return Period{}, err
	}
	conflict, err := s.repo.RangeConflict(ctx, in.StartDate, in.EndDate)
	if err != nil {
		return Period{}, err
	}
	if conflict {
		return Period{}, ErrPeriodOverlap
	}
	return s.repo.Insert(ctx, in)
}

// Transition moves a period to the target status under transition policy.
// hasOverride permits unlocking a locked period.
func (s *Service) Transition(ctx context.Context, id int64, target Status, actorID int64, hasOverride bool) (Period, error) {
	period, err := s.repo.Get(ctx, id)
	if err != nil {
		return Period{}, err
	}
	if err := ValidateTransition(period.Status, target, hasOverride); err != nil {
		return Period{}, err
	}
	if err := s.repo.UpdateStatus(ctx, id, target, actorID); err != nil {
		return Period{}, err
	}
	return s.repo.Get(ctx, id)
}
