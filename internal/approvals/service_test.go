package approvals

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"

	"github.com/workflu/workflu/internal/shared"
)

type memoryRepo struct {
	mu        sync.Mutex
	approvals map[uuid.UUID]PendingApproval
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{approvals: make(map[uuid.UUID]PendingApproval)}
}

func (r *memoryRepo) Insert(ctx context.Context, a PendingApproval) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.approvals {
		if existing.OperationKey == a.OperationKey && !existing.Status.Terminal() {
			return ErrDuplicatePending
		}
	}
	r.approvals[a.ID] = a
	return nil
}

func (r *memoryRepo) Get(ctx context.Context, id uuid.UUID) (PendingApproval, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.approvals[id]
	if !ok {
		return PendingApproval{}, pgx.ErrNoRows
	}
	return a, nil
}

func (r *memoryRepo) FindPendingByOperationKey(ctx context.Context, key string) (*PendingApproval, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.approvals {
		if a.OperationKey == key && !a.Status.Terminal() {
			copied := a
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *memoryRepo) UpdateDecision(ctx context.Context, id uuid.UUID, status Status, decidedBy int64, note string, decidedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.approvals[id]
	if !ok {
		return pgx.ErrNoRows
	}
	if a.Status.Terminal() {
		return ErrAlreadyDecided
	}
	a.Status = status
	a.DecidedBy = &decidedBy
	a.DecisionNote = note
	a.DecidedAt = &decidedAt
	r.approvals[id] = a
	return nil
}

func (r *memoryRepo) ListOpen(ctx context.Context, limit int) ([]PendingApproval, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []PendingApproval
	for _, a := range r.approvals {
		if !a.Status.Terminal() {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *memoryRepo) MarkEscalated(ctx context.Context, olderThan time.Time) ([]PendingApproval, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []PendingApproval
	now := time.Now()
	for id, a := range r.approvals {
		if a.Status == StatusPending && a.CreatedAt.Before(olderThan) {
			a.Status = StatusEscalated
			a.EscalatedAt = &now
			r.approvals[id] = a
			out = append(out, a)
		}
	}
	return out, nil
}

type recordingExecutor struct {
	mu       sync.Mutex
	calls    []ReplayContext
	seenKeys map[string]bool
	fail     error
}

func newRecordingExecutor() *recordingExecutor {
	return &recordingExecutor{seenKeys: make(map[string]bool)}
}

func (e *recordingExecutor) Execute(ctx context.Context, approval PendingApproval, replay ReplayContext) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fail != nil {
		return e.fail
	}
	if e.seenKeys[replay.IdempotencyKey] {
		return shared.ErrIdempotencyConflict
	}
	e.seenKeys[replay.IdempotencyKey] = true
	e.calls = append(e.calls, replay)
	return nil
}

type fixedRate struct{ rate float64 }

func (f *fixedRate) CentralRate(ctx context.Context) (float64, error) { return f.rate, nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discard{}, nil))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func newTestService(rate *fixedRate) (*Service, *memoryRepo, *recordingExecutor) {
	repo := newMemoryRepo()
	svc := NewService(repo, rate, nil, testLogger(), Config{Threshold: 5000, EscalateAfter: 48 * time.Hour})
	exec := newRecordingExecutor()
	svc.RegisterExecutor(OpPurchaseCreate, exec)
	return svc, repo, exec
}

func TestExemptionRules(t *testing.T) {
	svc, _, _ := newTestService(&fixedRate{rate: 1})
	worker := &shared.Actor{ID: 1, Role: shared.RoleWorker}
	admin := &shared.Actor{ID: 2, Role: shared.RoleAdmin}

	require.True(t, svc.Exempt(admin, OpPurchaseCreate, 1_000_000))
	require.True(t, svc.Exempt(worker, OpPurchaseCreate, 4999))
	require.False(t, svc.Exempt(worker, OpPurchaseCreate, 5000))
	require.False(t, svc.Exempt(worker, OpPurchaseCreate, 0), "unknown amount is gated")
	require.False(t, svc.Exempt(nil, OpPurchaseCreate, 100))
}

func TestSubmitEnforcesSinglePending(t *testing.T) {
	svc, _, _ := newTestService(&fixedRate{rate: 1})
	actor := &shared.Actor{ID: 1, Name: "trader", Role: shared.RoleWorker}
	payload := json.RawMessage(`{"supplierId":7,"amount":9000}`)
	ctx := context.Background()

	first, err := svc.Submit(ctx, OpPurchaseCreate, actor, payload, 9000)
	require.NoError(t, err)
	require.Equal(t, StatusPending, first.Status)
	require.NotEmpty(t, first.OperationKey)
	require.NotEmpty(t, first.IdempotencyKey)
	require.NotEqual(t, first.OperationKey, first.IdempotencyKey)

	dup, err := svc.Submit(ctx, OpPurchaseCreate, actor, payload, 9000)
	require.ErrorIs(t, err, ErrDuplicatePending)
	require.Equal(t, first.ID, dup.ID, "duplicate submit surfaces the existing approval")
}

func TestApproveReplaysWithDecisionTimeRate(t *testing.T) {
	rate := &fixedRate{rate: 130.5}
	svc, _, exec := newTestService(rate)
	actor := &shared.Actor{ID: 1, Name: "trader", Role: shared.RoleWorker}
	admin := &shared.Actor{ID: 9, Name: "boss", Role: shared.RoleAdmin}
	ctx := context.Background()

	approval, err := svc.Submit(ctx, OpPurchaseCreate, actor, json.RawMessage(`{"amount":9000}`), 9000)
	require.NoError(t, err)

	// The central rate changes between request and decision; the replay
	// must see the decision-time value.
	rate.rate = 142.25

	decided, err := svc.Decide(ctx, approval.ID, admin, DecisionApprove, "looks good")
	require.NoError(t, err)
	require.Equal(t, StatusApproved, decided.Status)
	require.Equal(t, "looks good", decided.DecisionNote)
	require.NotNil(t, decided.DecidedAt)

	require.Len(t, exec.calls, 1)
	require.Equal(t, 142.25, exec.calls[0].ExchangeRate)
	require.Equal(t, approval.IdempotencyKey, exec.calls[0].IdempotencyKey)
	require.Equal(t, int64(9), exec.calls[0].DecidedBy)
}

func TestDecideIsTerminal(t *testing.T) {
	svc, _, _ := newTestService(&fixedRate{rate: 1})
	actor := &shared.Actor{ID: 1, Role: shared.RoleWorker}
	admin := &shared.Actor{ID: 9, Role: shared.RoleAdmin}
	ctx := context.Background()

	approval, err := svc.Submit(ctx, OpPurchaseCreate, actor, json.RawMessage(`{"amount":9000}`), 9000)
	require.NoError(t, err)

	_, err = svc.Decide(ctx, approval.ID, admin, DecisionReject, "no")
	require.NoError(t, err)

	_, err = svc.Decide(ctx, approval.ID, admin, DecisionApprove, "changed my mind")
	require.ErrorIs(t, err, ErrAlreadyDecided)
}

func TestDoubleApproveDoesNotDoubleExecute(t *testing.T) {
	svc, repo, exec := newTestService(&fixedRate{rate: 1})
	actor := &shared.Actor{ID: 1, Role: shared.RoleWorker}
	admin := &shared.Actor{ID: 9, Role: shared.RoleAdmin}
	ctx := context.Background()

	approval, err := svc.Submit(ctx, OpPurchaseCreate, actor, json.RawMessage(`{"amount":9000}`), 9000)
	require.NoError(t, err)

	// Simulate a lost race: the executor already processed this key.
	exec.seenKeys[approval.IdempotencyKey] = true

	decided, err := svc.Decide(ctx, approval.ID, admin, DecisionApprove, "")
	require.NoError(t, err, "idempotency conflict is absorbed, not surfaced")
	require.Equal(t, StatusApproved, decided.Status)
	require.Empty(t, exec.calls, "no second side effect")

	stored, err := repo.Get(ctx, approval.ID)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, stored.Status)
}

func TestApproveWithoutExecutorFails(t *testing.T) {
	svc, _, _ := newTestService(&fixedRate{rate: 1})
	actor := &shared.Actor{ID: 1, Role: shared.RoleWorker}
	admin := &shared.Actor{ID: 9, Role: shared.RoleAdmin}
	ctx := context.Background()

	approval, err := svc.Submit(ctx, OpCapitalEntry, actor, json.RawMessage(`{"amount":9000}`), 9000)
	require.NoError(t, err)

	_, err = svc.Decide(ctx, approval.ID, admin, DecisionApprove, "")
	require.ErrorIs(t, err, ErrNoExecutor)

	// The approval stays open so the decision can be retried once wiring is fixed.
	stored, err := svc.Get(ctx, approval.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPending, stored.Status)
}

func TestEscalateOverdue(t *testing.T) {
	svc, repo, _ := newTestService(&fixedRate{rate: 1})
	actor := &shared.Actor{ID: 1, Role: shared.RoleWorker}
	ctx := context.Background()

	old := time.Now().Add(-72 * time.Hour)
	svc.WithNow(func() time.Time { return old })
	stale, err := svc.Submit(ctx, OpPurchaseCreate, actor, json.RawMessage(`{"amount":9000}`), 9000)
	require.NoError(t, err)

	svc.WithNow(time.Now)
	fresh, err := svc.Submit(ctx, OpPurchaseCreate, actor, json.RawMessage(`{"amount":9001}`), 9001)
	require.NoError(t, err)

	n, err := svc.EscalateOverdue(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	escalated, err := repo.Get(ctx, stale.ID)
	require.NoError(t, err)
	require.Equal(t, StatusEscalated, escalated.Status)
	require.False(t, escalated.Status.Terminal(), "escalated stays decidable")

	untouched, err := repo.Get(ctx, fresh.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPending, untouched.Status)
}

func TestIdempotencyKeyDerivation(t *testing.T) {
	payload := []byte(`{"amount":9000}`)
	at := time.Unix(1700000000, 0)

	k1 := IdempotencyKeyFor(OpPurchaseCreate, 1, payload, at)
	k2 := IdempotencyKeyFor(OpPurchaseCreate, 1, payload, at)
	require.Equal(t, k1, k2)

	require.NotEqual(t, k1, IdempotencyKeyFor(OpPurchaseCreate, 2, payload, at))
	require.NotEqual(t, k1, IdempotencyKeyFor(OpPurchaseCreate, 1, []byte(`{"amount":9001}`), at))
	require.NotEqual(t, k1, IdempotencyKeyFor(OpPurchaseCreate, 1, payload, at.Add(time.Second)))
	require.NotEqual(t, k1, IdempotencyKeyFor(OpCapitalEntry, 1, payload, at))
}
