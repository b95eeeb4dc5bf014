package capital

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/workflu/workflu/internal/approvals"
	"github.com/workflu/workflu/internal/periods"
	"github.com/workflu/workflu/internal/platform/httpx"
	"github.com/workflu/workflu/internal/shared"
)

// Handler exposes working-capital endpoints. Entry creation sits behind the
// period guard and the approval gate.
type Handler struct {
	logger  *slog.Logger
	service *Service
	guard   *periods.Guard
	gate    *approvals.Gate
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service *Service, guard *periods.Guard, gate *approvals.Gate) *Handler {
	return &Handler{logger: logger, service: service, guard: guard, gate: gate}
}

// MountRoutes attaches capital routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/balance", h.Balance)
	r.With(
		h.guard.Protect(periods.ForCapital()),
		h.gate.RequireApproval(approvals.OpCapitalEntry, "amount"),
	).Post("/entries", h.CreateEntry)
}

type createEntryRequest struct {
	Reference   string  `json:"reference"`
	Direction   string  `json:"direction"`
	Amount      float64 `json:"amount"`
	Description string  `json:"description"`
	EntryDate   string  `json:"entryDate"`
}

func (req createEntryRequest) toEntry(createdBy int64) (Entry, error) {
	e := Entry{
		Reference:   req.Reference,
		Direction:   Direction(req.Direction),
		Amount:      req.Amount,
		Description: req.Description,
		CreatedBy:   createdBy,
	}
	if req.EntryDate != "" {
		date, err := time.Parse("2006-01-02", req.EntryDate)
		if err != nil {
			return Entry{}, fmt.Errorf("capital: parse entry date: %w", err)
		}
		e.EntryDate = date
	}
	return e, nil
}

func (h *Handler) CreateEntry(w http.ResponseWriter, r *http.Request) {
	actor := shared.ActorFromContext(r.Context())
	if actor == nil {
		httpx.Error(w, http.StatusUnauthorized, "authentication required", httpx.CodeUnauthenticated)
		return
	}
	var req createEntryRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid request body", httpx.CodeValidation)
		return
	}
	entry, err := req.toEntry(actor.ID)
	if err != nil {
		httpx.Error(w, http.StatusBadRequest, err.Error(), httpx.CodeValidation)
		return
	}
	// The ledger rate is stamped server side, same rule as purchases.
	rate, err := h.service.CentralRate(r.Context())
	if err != nil {
		h.logger.Error("fetch central rate", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	entry.ExchangeRate = rate

	created, err := h.service.RecordEntry(r.Context(), entry)
	if err != nil {
		if errors.Is(err, ErrDuplicateEntry) {
			httpx.Error(w, http.StatusConflict, err.Error(), httpx.CodeValidation)
			return
		}
		h.logger.Error("record capital entry", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{
		"id":           created.ID,
		"reference":    created.Reference,
		"direction":    string(created.Direction),
		"amount":       created.Amount,
		"exchangeRate": created.ExchangeRate,
		"entryDate":    created.EntryDate.Format("2006-01-02"),
	})
}

func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	actor := shared.ActorFromContext(r.Context())
	if actor == nil {
		httpx.Error(w, http.StatusUnauthorized, "authentication required", httpx.CodeUnauthenticated)
		return
	}
	balance, err := h.service.Balance(r.Context())
	if err != nil {
		h.logger.Error("capital balance", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]float64{"balance": balance})
}

// ReplayExecutor posts an approved capital entry with the decision-time
// exchange rate. Duplicate (reference, direction) pairs from a redelivered
// approval are absorbed.
type ReplayExecutor struct {
	service *Service
}

// NewReplayExecutor constructs the executor registered for capital_entry.
func NewReplayExecutor(service *Service) *ReplayExecutor {
	return &ReplayExecutor{service: service}
}

// Execute fulfils the approvals.Executor contract.
func (e *ReplayExecutor) Execute(ctx context.Context, approval approvals.PendingApproval, replay approvals.ReplayContext) error {
	var req createEntryRequest
	if err := json.Unmarshal(approval.RequestPayload, &req); err != nil {
		return fmt.Errorf("capital: decode approval payload: %w", err)
	}
	entry, err := req.toEntry(approval.RequestedBy)
	if err != nil {
		return err
	}
	entry.ExchangeRate = replay.ExchangeRate
	if entry.ExchangeRate == 0 {
		entry.ExchangeRate, err = e.service.CentralRate(ctx)
		if err != nil {
			return err
		}
	}
	if _, err := e.service.RecordEntry(ctx, entry); err != nil && !errors.Is(err, ErrDuplicateEntry) {
		return err
	}
	return nil
}
