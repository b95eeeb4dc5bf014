package approvals

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/workflu/workflu/internal/shared"
)

// ReplayContext carries the point-in-time values frozen when the decision
// lands. The exchange rate is fetched at approval-decision time, never at
// original-request time, so deferred writes do not drift against the rate
// that was current when a human actually released them.
type ReplayContext struct {
	ExchangeRate   float64
	DecidedBy      int64
	DecidedAt      time.Time
	IdempotencyKey string
}

// Executor replays a deferred operation once it is approved. Implementations
// must consult the idempotency store with ReplayContext.IdempotencyKey before
// committing side effects.
type Executor interface {
	Execute(ctx context.Context, approval PendingApproval, replay ReplayContext) error
}

// RateSource exposes the centrally managed exchange rate.
type RateSource interface {
	CentralRate(ctx context.Context) (float64, error)
}

// Notifier receives approval lifecycle events for alerting. Implementations
// must not fail the decision path; errors are logged and swallowed upstream.
type Notifier interface {
	ApprovalRequested(ctx context.Context, approval PendingApproval)
	ApprovalDecided(ctx context.Context, approval PendingApproval)
	ApprovalEscalated(ctx context.Context, approval PendingApproval)
}

// Config tunes the gate.
type Config struct {
	// Threshold is the monetary amount below which operations are exempt.
	Threshold float64
	// EscalateAfter marks pending approvals overdue after this duration.
	EscalateAfter time.Duration
}

// Service owns the approval lifecycle: submit, decide, replay, escalate.
type Service struct {
	repo      Repository
	rates     RateSource
	audit     shared.Auditor
	notifier  Notifier
	logger    *slog.Logger
	cfg       Config
	executors map[OperationType]Executor
	now       func() time.Time
}

// NewService constructs a Service.
func NewService(repo Repository, rates RateSource, audit shared.Auditor, logger *slog.Logger, cfg Config) *Service {
	return &Service{
		repo:      repo,
		rates:     rates,
		audit:     audit,
		logger:    logger,
		cfg:       cfg,
		executors: make(map[OperationType]Executor),
		now:       time.Now,
	}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// SetNotifier wires the alerting sink. Optional.
func (s *Service) SetNotifier(n Notifier) {
	s.notifier = n
}

// RegisterExecutor binds the replay executor for an operation type.
func (s *Service) RegisterExecutor(op OperationType, exec Executor) {
	s.executors[op] = exec
}

// Exempt reports whether the operation may bypass the gate. Admins are always
// exempt; everyone else is exempt below the monetary threshold. An unknown
// amount (zero) is gated: the gate fails closed rather than guessing.
func (s *Service) Exempt(actor *shared.Actor, op OperationType, amount float64) bool {
	if actor == nil {
		return false
	}
	if actor.IsAdmin() {
		return true
	}
	return amount > 0 && amount < s.cfg.Threshold
}

// Submit freezes the request payload into a pending approval.
func (s *Service) Submit(ctx context.Context, op OperationType, actor *shared.Actor, payload json.RawMessage, amount float64) (PendingApproval, error) {
	if actor == nil {
		return PendingApproval{}, errors.New("approvals: actor required")
	}
	createdAt := s.now()
	approval := PendingApproval{
		ID:              uuid.New(),
		OperationType:   op,
		RequestedBy:     actor.ID,
		RequestedByName: actor.Name,
		RequestPayload:  payload,
		Amount:          amount,
		Status:          StatusPending,
		OperationKey:    OperationKeyFor(op, actor.ID, payload),
		IdempotencyKey:  IdempotencyKeyFor(op, actor.ID, payload, createdAt),
		CreatedAt:       createdAt,
	}
	if err := s.repo.Insert(ctx, approval); err != nil {
		if errors.Is(err, ErrDuplicatePending) {
			existing, lookupErr := s.repo.FindPendingByOperationKey(ctx, approval.OperationKey)
			if lookupErr == nil && existing != nil {
				return *existing, ErrDuplicatePending
			}
		}
		return PendingApproval{}, err
	}
	s.recordAudit(ctx, approval, "approval_submitted", shared.SeverityInfo)
	if s.notifier != nil {
		s.notifier.ApprovalRequested(ctx, approval)
	}
	return approval, nil
}

// Get loads a single approval.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (PendingApproval, error) {
	return s.repo.Get(ctx, id)
}

// ListOpen returns approvals still awaiting a decision.
func (s *Service) ListOpen(ctx context.Context, limit int) ([]PendingApproval, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.repo.ListOpen(ctx, limit)
}

// Decision actions accepted by Decide.
const (
	DecisionApprove = "approve"
	DecisionReject  = "reject"
	DecisionCancel  = "cancel"
)

// Decide transitions the approval to a terminal state. On approve the frozen
// payload is replayed through the registered executor before the status flips,
// with the exchange rate frozen at this moment. A concurrent double-approve is
// absorbed by the executor's idempotency check.
func (s *Service) Decide(ctx context.Context, id uuid.UUID, actor *shared.Actor, action, note string) (PendingApproval, error) {
	if actor == nil {
		return PendingApproval{}, errors.New("approvals: actor required")
	}
	approval, err := s.repo.Get(ctx, id)
	if err != nil {
		return PendingApproval{}, err
	}
	if approval.Status.Terminal() {
		return approval, ErrAlreadyDecided
	}

	var target Status
	switch action {
	case DecisionApprove:
		target = StatusApproved
	case DecisionReject:
		target = StatusRejected
	case DecisionCancel:
		target = StatusCancelled
	default:
		return PendingApproval{}, fmt.Errorf("approvals: unknown decision action %q", action)
	}

	decidedAt := s.now()
	if target == StatusApproved {
		if err := s.replay(ctx, approval, actor.ID, decidedAt); err != nil {
			return PendingApproval{}, err
		}
	}

	if err := s.repo.UpdateDecision(ctx, id, target, actor.ID, note, decidedAt); err != nil {
		return PendingApproval{}, err
	}
	decided, err := s.repo.Get(ctx, id)
	if err != nil {
		return PendingApproval{}, err
	}
	s.recordAudit(ctx, decided, "approval_"+string(target), shared.SeverityInfo)
	if s.notifier != nil {
		s.notifier.ApprovalDecided(ctx, decided)
	}
	return decided, nil
}

func (s *Service) replay(ctx context.Context, approval PendingApproval, decidedBy int64, decidedAt time.Time) error {
	exec, ok := s.executors[approval.OperationType]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoExecutor, approval.OperationType)
	}
	replay := ReplayContext{
		DecidedBy:      decidedBy,
		DecidedAt:      decidedAt,
		IdempotencyKey: approval.IdempotencyKey,
	}
	if s.rates != nil {
		rate, err := s.rates.CentralRate(ctx)
		if err != nil {
			return fmt.Errorf("approvals: fetch central rate: %w", err)
		}
		replay.ExchangeRate = rate
	}
	if err := exec.Execute(ctx, approval, replay); err != nil {
		if errors.Is(err, shared.ErrIdempotencyConflict) {
			// Already replayed by a concurrent decision; not an error.
			s.logger.Warn("approval replay already executed",
				slog.String("approval_id", approval.ID.String()),
				slog.String("operation", string(approval.OperationType)))
			return nil
		}
		return fmt.Errorf("approvals: replay %s: %w", approval.OperationType, err)
	}
	return nil
}

// EscalateOverdue marks pending approvals older than the configured window.
func (s *Service) EscalateOverdue(ctx context.Context) (int, error) {
	if s.cfg.EscalateAfter <= 0 {
		return 0, nil
	}
	cutoff := s.now().Add(-s.cfg.EscalateAfter)
	escalated, err := s.repo.MarkEscalated(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	for _, a := range escalated {
		s.recordAudit(ctx, a, "approval_escalated", shared.SeverityWarning)
		if s.notifier != nil {
			s.notifier.ApprovalEscalated(ctx, a)
		}
	}
	return len(escalated), nil
}

func (s *Service) recordAudit(ctx context.Context, approval PendingApproval, action, severity string) {
	if s.audit == nil {
		return
	}
	entry := shared.AuditEntry{
		UserID:        approval.RequestedBy,
		UserName:      approval.RequestedByName,
		Source:        "approval_gate",
		Severity:      severity,
		EntityType:    "pending_approval",
		EntityID:      approval.ID.String(),
		Action:        action,
		OperationType: string(approval.OperationType),
		Description:   fmt.Sprintf("%s for amount %.2f", action, approval.Amount),
	}
	if approval.DecidedBy != nil {
		entry.UserID = *approval.DecidedBy
		entry.UserName = ""
	}
	if err := s.audit.Record(ctx, entry); err != nil {
		s.logger.Warn("audit approval action", slog.Any("error", err))
	}
}
