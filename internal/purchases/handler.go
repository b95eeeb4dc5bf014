package purchases

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5"

	"github.com/workflu/workflu/internal/approvals"
	"github.com/workflu/workflu/internal/periods"
	"github.com/workflu/workflu/internal/platform/httpx"
	"github.com/workflu/workflu/internal/shared"
)

// Handler exposes purchase endpoints. The create route sits behind the period
// guard and the approval gate, in that order.
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

// MountRoutes attaches purchase routes. Returns carry no amount field, so the
// small-amount exemption never applies to them: every non-admin return is
// deferred for a decision.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.List)
	r.Get("/advances", h.ListAdvances)
	r.Get("/{id}", h.Show)
	r.With(
		h.guard.Protect(periods.ForPurchases()),
		h.gate.RequireApproval(approvals.OpPurchaseCreate, "amount"),
	).Post("/", h.Create)
	r.With(
		h.guard.Protect(periods.ForAdvances()),
		h.gate.RequireApproval(approvals.OpSupplierAdvance, "amount"),
	).Post("/advances", h.CreateAdvance)
	r.With(
		h.guard.Protect(periods.ForReturns()),
		h.gate.RequireApproval(approvals.OpPurchaseReturn, "amount"),
	).Post("/returns", h.Return)
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	actor := shared.ActorFromContext(r.Context())
	if actor == nil {
		httpx.Error(w, http.StatusUnauthorized, "authentication required", httpx.CodeUnauthenticated)
		return
	}
	var req CreatePurchaseRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid request body", httpx.CodeValidation)
		return
	}
	purchase, err := h.service.CreateDirect(r.Context(), req, actor)
	if err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			httpx.Error(w, http.StatusBadRequest, err.Error(), httpx.CodeValidation)
			return
		}
		h.logger.Error("create purchase", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toView(purchase))
}

func (h *Handler) CreateAdvance(w http.ResponseWriter, r *http.Request) {
	actor := shared.ActorFromContext(r.Context())
	if actor == nil {
		httpx.Error(w, http.StatusUnauthorized, "authentication required", httpx.CodeUnauthenticated)
		return
	}
	var req CreateAdvanceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid request body", httpx.CodeValidation)
		return
	}
	advance, err := h.service.CreateAdvance(r.Context(), req, actor)
	if err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			httpx.Error(w, http.StatusBadRequest, err.Error(), httpx.CodeValidation)
			return
		}
		h.logger.Error("create advance", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toAdvanceView(advance))
}

func (h *Handler) Return(w http.ResponseWriter, r *http.Request) {
	actor := shared.ActorFromContext(r.Context())
	if actor == nil {
		httpx.Error(w, http.StatusUnauthorized, "authentication required", httpx.CodeUnauthenticated)
		return
	}
	var req ReturnPurchaseRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid request body", httpx.CodeValidation)
		return
	}
	purchase, err := h.service.ReturnPurchase(r.Context(), req, actor)
	if err != nil {
		var verrs validator.ValidationErrors
		switch {
		case errors.As(err, &verrs):
			httpx.Error(w, http.StatusBadRequest, err.Error(), httpx.CodeValidation)
		case errors.Is(err, pgx.ErrNoRows):
			httpx.Error(w, http.StatusNotFound, "purchase not found", httpx.CodeNotFound)
		case errors.Is(err, ErrNotReturnable):
			httpx.Error(w, http.StatusConflict, err.Error(), httpx.CodeConflict)
		default:
			h.logger.Error("return purchase", slog.Any("error", err))
			httpx.RespondError(w, err)
		}
		return
	}
	httpx.JSON(w, http.StatusOK, toView(purchase))
}

func (h *Handler) ListAdvances(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	advances, err := h.service.ListAdvances(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error("list advances", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	views := make([]advanceView, 0, len(advances))
	for _, a := range advances {
		views = append(views, toAdvanceView(a))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"advances": views})
}

func (h *Handler) Show(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid purchase id", httpx.CodeValidation)
		return
	}
	purchase, err := h.service.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			httpx.Error(w, http.StatusNotFound, "purchase not found", httpx.CodeNotFound)
			return
		}
		h.logger.Error("get purchase", slog.Int64("id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toView(purchase))
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	purchases, err := h.service.List(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error("list purchases", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	views := make([]purchaseView, 0, len(purchases))
	for _, p := range purchases {
		views = append(views, toView(p))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"purchases": views})
}
