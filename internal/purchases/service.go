package purchases

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/workflu/workflu/internal/approvals"
	"github.com/workflu/workflu/internal/capital"
	"github.com/workflu/workflu/internal/shared"
)

// IdempotencyStore is the subset of shared.IdempotencyStore the service needs.
type IdempotencyStore interface {
	CheckAndInsert(ctx context.Context, key, operationType string) error
	Delete(ctx context.Context, key string) error
}

// CapitalLedger posts the matching working-capital movement for a purchase.
type CapitalLedger interface {
	RecordEntry(ctx context.Context, e capital.Entry) (capital.Entry, error)
	CentralRate(ctx context.Context) (float64, error)
}

// ErrNotReturnable rejects a return against a purchase that is not in the
// recorded state.
var ErrNotReturnable = errors.New("purchases: purchase is not returnable")

// Service records purchases, supplier advances, and purchase returns.
// Execution is shared between the direct path (gate exempt) and the approval
// replay path; both freeze the central exchange rate at their own execution
// moment.
type Service struct {
	repo         Repository
	ledger       CapitalLedger
	idem         IdempotencyStore
	audit        shared.Auditor
	logger       *slog.Logger
	advanceTerms int
	now          func() time.Time
}

// NewService constructs a Service. advanceTermsDays is the settlement window
// added to an advance date to derive its due date.
func NewService(repo Repository, ledger CapitalLedger, idem IdempotencyStore, audit shared.Auditor, logger *slog.Logger, advanceTermsDays int) *Service {
	if advanceTermsDays <= 0 {
		advanceTermsDays = 30
	}
	return &Service{repo: repo, ledger: ledger, idem: idem, audit: audit, logger: logger, advanceTerms: advanceTermsDays, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// CreateDirect records a purchase on the non-deferred path. The central rate
// is fetched at write time.
func (s *Service) CreateDirect(ctx context.Context, req CreatePurchaseRequest, actor *shared.Actor) (Purchase, error) {
	if actor == nil {
		return Purchase{}, errors.New("purchases: actor required")
	}
	rate, err := s.ledger.CentralRate(ctx)
	if err != nil {
		return Purchase{}, fmt.Errorf("purchases: fetch central rate: %w", err)
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return Purchase{}, err
	}
	key := approvals.IdempotencyKeyFor(approvals.OpPurchaseCreate, actor.ID, payload, s.now())
	return s.execute(ctx, req, actor.ID, rate, key)
}

// execute is the single write path. It is idempotent on the supplied key:
// a key that was already processed returns the previously written purchase.
func (s *Service) execute(ctx context.Context, req CreatePurchaseRequest, createdBy int64, rate float64, idempotencyKey string) (Purchase, error) {
	if err := req.Validate(); err != nil {
		return Purchase{}, err
	}
	date, err := req.Date()
	if err != nil {
		return Purchase{}, fmt.Errorf("purchases: parse purchase date: %w", err)
	}

	if err := s.idem.CheckAndInsert(ctx, idempotencyKey, string(approvals.OpPurchaseCreate)); err != nil {
		if errors.Is(err, shared.ErrIdempotencyConflict) {
			existing, lookupErr := s.repo.FindByIdempotencyKey(ctx, idempotencyKey)
			if lookupErr != nil {
				return Purchase{}, lookupErr
			}
			if existing != nil {
				return *existing, nil
			}
			// Key consumed but no purchase written: a previous attempt died
			// mid-flight. Surface the conflict so an operator can intervene.
			return Purchase{}, err
		}
		return Purchase{}, err
	}

	number, err := s.repo.NextNumber(ctx)
	if err != nil {
		s.rollbackKey(ctx, idempotencyKey)
		return Purchase{}, err
	}

	purchase, err := s.repo.Insert(ctx, Purchase{
		Number:         number,
		SupplierID:     req.SupplierID,
		PurchaseDate:   date,
		Amount:         req.Amount,
		Currency:       req.Currency,
		ExchangeRate:   rate,
		Notes:          req.Notes,
		Status:         StatusRecorded,
		CreatedBy:      createdBy,
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		s.rollbackKey(ctx, idempotencyKey)
		return Purchase{}, err
	}

	if _, err := s.ledger.RecordEntry(ctx, capital.Entry{
		Reference:    purchase.Number,
		Direction:    capital.DirectionOut,
		Amount:       purchase.Amount,
		ExchangeRate: rate,
		Description:  fmt.Sprintf("purchase %s", purchase.Number),
		EntryDate:    date,
		CreatedBy:    createdBy,
	}); err != nil && !errors.Is(err, capital.ErrDuplicateEntry) {
		return Purchase{}, fmt.Errorf("purchases: record capital entry: %w", err)
	}

	if s.audit != nil {
		if err := s.audit.Record(ctx, shared.AuditEntry{
			UserID:        createdBy,
			Source:        "purchases",
			EntityType:    "purchase",
			EntityID:      purchase.Number,
			Action:        "purchase_recorded",
			OperationType: string(approvals.OpPurchaseCreate),
			NewValues:     map[string]any{"amount": purchase.Amount, "exchangeRate": rate},
		}); err != nil {
			s.logger.Warn("audit purchase", slog.Any("error", err))
		}
	}
	return purchase, nil
}

func (s *Service) rollbackKey(ctx context.Context, key string) {
	if err := s.idem.Delete(ctx, key); err != nil {
		s.logger.Warn("rollback idempotency key", slog.String("key", key), slog.Any("error", err))
	}
}

// CreateAdvance records a supplier advance on the non-deferred path.
func (s *Service) CreateAdvance(ctx context.Context, req CreateAdvanceRequest, actor *shared.Actor) (Advance, error) {
	if actor == nil {
		return Advance{}, errors.New("purchases: actor required")
	}
	rate, err := s.ledger.CentralRate(ctx)
	if err != nil {
		return Advance{}, fmt.Errorf("purchases: fetch central rate: %w", err)
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return Advance{}, err
	}
	key := approvals.IdempotencyKeyFor(approvals.OpSupplierAdvance, actor.ID, payload, s.now())
	return s.executeAdvance(ctx, req, actor.ID, rate, key)
}

func (s *Service) executeAdvance(ctx context.Context, req CreateAdvanceRequest, createdBy int64, rate float64, idempotencyKey string) (Advance, error) {
	if err := req.Validate(); err != nil {
		return Advance{}, err
	}
	date, err := req.Date()
	if err != nil {
		return Advance{}, fmt.Errorf("purchases: parse advance date: %w", err)
	}

	if err := s.idem.CheckAndInsert(ctx, idempotencyKey, string(approvals.OpSupplierAdvance)); err != nil {
		if errors.Is(err, shared.ErrIdempotencyConflict) {
			existing, lookupErr := s.repo.FindAdvanceByIdempotencyKey(ctx, idempotencyKey)
			if lookupErr != nil {
				return Advance{}, lookupErr
			}
			if existing != nil {
				return *existing, nil
			}
			return Advance{}, err
		}
		return Advance{}, err
	}

	number, err := s.repo.NextAdvanceNumber(ctx)
	if err != nil {
		s.rollbackKey(ctx, idempotencyKey)
		return Advance{}, err
	}

	advance, err := s.repo.InsertAdvance(ctx, Advance{
		Number:         number,
		SupplierID:     req.SupplierID,
		AdvanceDate:    date,
		DueDate:        date.AddDate(0, 0, s.advanceTerms),
		Amount:         req.Amount,
		Currency:       req.Currency,
		ExchangeRate:   rate,
		Notes:          req.Notes,
		CreatedBy:      createdBy,
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		s.rollbackKey(ctx, idempotencyKey)
		return Advance{}, err
	}

	if _, err := s.ledger.RecordEntry(ctx, capital.Entry{
		Reference:    advance.Number,
		Direction:    capital.DirectionOut,
		Amount:       advance.Amount,
		ExchangeRate: rate,
		Description:  fmt.Sprintf("supplier advance %s", advance.Number),
		EntryDate:    date,
		CreatedBy:    createdBy,
	}); err != nil && !errors.Is(err, capital.ErrDuplicateEntry) {
		return Advance{}, fmt.Errorf("purchases: record capital entry: %w", err)
	}

	if s.audit != nil {
		if err := s.audit.Record(ctx, shared.AuditEntry{
			UserID:        createdBy,
			Source:        "purchases",
			EntityType:    "supplier_advance",
			EntityID:      advance.Number,
			Action:        "advance_recorded",
			OperationType: string(approvals.OpSupplierAdvance),
			NewValues:     map[string]any{"amount": advance.Amount, "exchangeRate": rate, "dueDate": advance.DueDate.Format("2006-01-02")},
		}); err != nil {
			s.logger.Warn("audit advance", slog.Any("error", err))
		}
	}
	return advance, nil
}

// ReturnPurchase reverses a recorded purchase on the non-deferred path.
func (s *Service) ReturnPurchase(ctx context.Context, req ReturnPurchaseRequest, actor *shared.Actor) (Purchase, error) {
	if actor == nil {
		return Purchase{}, errors.New("purchases: actor required")
	}
	rate, err := s.ledger.CentralRate(ctx)
	if err != nil {
		return Purchase{}, fmt.Errorf("purchases: fetch central rate: %w", err)
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return Purchase{}, err
	}
	key := approvals.IdempotencyKeyFor(approvals.OpPurchaseReturn, actor.ID, payload, s.now())
	return s.executeReturn(ctx, req, actor.ID, rate, key)
}

// executeReturn posts the reversing capital movement and flips the purchase
// status. The capital entry reuses the purchase number with the opposite
// direction, so the ledger's (reference, direction) uniqueness makes the
// reversal idempotent alongside the original posting.
func (s *Service) executeReturn(ctx context.Context, req ReturnPurchaseRequest, returnedBy int64, rate float64, idempotencyKey string) (Purchase, error) {
	if err := req.Validate(); err != nil {
		return Purchase{}, err
	}
	date, err := req.Date()
	if err != nil {
		return Purchase{}, fmt.Errorf("purchases: parse return date: %w", err)
	}

	purchase, err := s.repo.GetByNumber(ctx, req.PurchaseNumber)
	if err != nil {
		return Purchase{}, err
	}
	if purchase.Status == StatusReturned {
		// Replays of an already settled return succeed without re-posting.
		return purchase, nil
	}
	if purchase.Status != StatusRecorded {
		return Purchase{}, ErrNotReturnable
	}

	if err := s.idem.CheckAndInsert(ctx, idempotencyKey, string(approvals.OpPurchaseReturn)); err != nil {
		if !errors.Is(err, shared.ErrIdempotencyConflict) {
			return Purchase{}, err
		}
		// Key consumed but the purchase is still recorded: a previous attempt
		// died before the status flip. Fall through and finish the work.
	}

	if _, err := s.ledger.RecordEntry(ctx, capital.Entry{
		Reference:    purchase.Number,
		Direction:    capital.DirectionIn,
		Amount:       purchase.Amount,
		ExchangeRate: rate,
		Description:  fmt.Sprintf("return of purchase %s: %s", purchase.Number, req.Reason),
		EntryDate:    date,
		CreatedBy:    returnedBy,
	}); err != nil && !errors.Is(err, capital.ErrDuplicateEntry) {
		return Purchase{}, fmt.Errorf("purchases: record capital entry: %w", err)
	}

	if err := s.repo.MarkReturned(ctx, purchase.ID); err != nil {
		return Purchase{}, fmt.Errorf("purchases: mark returned: %w", err)
	}
	purchase.Status = StatusReturned

	if s.audit != nil {
		if err := s.audit.Record(ctx, shared.AuditEntry{
			UserID:        returnedBy,
			Source:        "purchases",
			EntityType:    "purchase",
			EntityID:      purchase.Number,
			Action:        "purchase_returned",
			OperationType: string(approvals.OpPurchaseReturn),
			NewValues:     map[string]any{"amount": purchase.Amount, "exchangeRate": rate, "reason": req.Reason},
		}); err != nil {
			s.logger.Warn("audit return", slog.Any("error", err))
		}
	}
	return purchase, nil
}

// Get loads a purchase by id.
func (s *Service) Get(ctx context.Context, id int64) (Purchase, error) {
	return s.repo.Get(ctx, id)
}

// List returns purchases newest first.
func (s *Service) List(ctx context.Context, limit, offset int) ([]Purchase, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.repo.List(ctx, limit, offset)
}

// ListAdvances returns supplier advances newest first.
func (s *Service) ListAdvances(ctx context.Context, limit, offset int) ([]Advance, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.repo.ListAdvances(ctx, limit, offset)
}

// ReplayExecutor replays an approved purchase with the frozen payload and the
// decision-time exchange rate.
type ReplayExecutor struct {
	service *Service
}

// NewReplayExecutor constructs the executor registered for purchase_create.
func NewReplayExecutor(service *Service) *ReplayExecutor {
	return &ReplayExecutor{service: service}
}

// Execute fulfils the approvals.Executor contract.
func (e *ReplayExecutor) Execute(ctx context.Context, approval approvals.PendingApproval, replay approvals.ReplayContext) error {
	var req CreatePurchaseRequest
	if err := json.Unmarshal(approval.RequestPayload, &req); err != nil {
		return fmt.Errorf("purchases: decode approval payload: %w", err)
	}
	rate, err := e.service.replayRate(ctx, replay)
	if err != nil {
		return err
	}
	_, err = e.service.execute(ctx, req, approval.RequestedBy, rate, replay.IdempotencyKey)
	return err
}

// replayRate prefers the rate frozen at decision time and falls back to the
// current central rate for approvals decided before a rate was captured.
func (s *Service) replayRate(ctx context.Context, replay approvals.ReplayContext) (float64, error) {
	if replay.ExchangeRate != 0 {
		return replay.ExchangeRate, nil
	}
	return s.ledger.CentralRate(ctx)
}

// AdvanceReplayExecutor replays an approved supplier advance.
type AdvanceReplayExecutor struct {
	service *Service
}

// NewAdvanceReplayExecutor constructs the executor registered for
// supplier_advance.
func NewAdvanceReplayExecutor(service *Service) *AdvanceReplayExecutor {
	return &AdvanceReplayExecutor{service: service}
}

// Execute fulfils the approvals.Executor contract.
func (e *AdvanceReplayExecutor) Execute(ctx context.Context, approval approvals.PendingApproval, replay approvals.ReplayContext) error {
	var req CreateAdvanceRequest
	if err := json.Unmarshal(approval.RequestPayload, &req); err != nil {
		return fmt.Errorf("purchases: decode approval payload: %w", err)
	}
	rate, err := e.service.replayRate(ctx, replay)
	if err != nil {
		return err
	}
	_, err = e.service.executeAdvance(ctx, req, approval.RequestedBy, rate, replay.IdempotencyKey)
	return err
}

// ReturnReplayExecutor replays an approved purchase return.
type ReturnReplayExecutor struct {
	service *Service
}

// NewReturnReplayExecutor constructs the executor registered for
// purchase_return.
func NewReturnReplayExecutor(service *Service) *ReturnReplayExecutor {
	return &ReturnReplayExecutor{service: service}
}

// Execute fulfils the approvals.Executor contract.
func (e *ReturnReplayExecutor) Execute(ctx context.Context, approval approvals.PendingApproval, replay approvals.ReplayContext) error {
	var req ReturnPurchaseRequest
	if err := json.Unmarshal(approval.RequestPayload, &req); err != nil {
		return fmt.Errorf("purchases: decode approval payload: %w", err)
	}
	rate, err := e.service.replayRate(ctx, replay)
	if err != nil {
		return err
	}
	_, err = e.service.executeReturn(ctx, req, approval.RequestedBy, rate, replay.IdempotencyKey)
	return err
}
