package periods

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"

	"github.com/workflu/workflu/internal/platform/httpx"
	"github.com/workflu/workflu/internal/shared"
)

// Handler exposes period administration endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	audit   shared.Auditor
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service *Service, audit shared.Auditor) *Handler {
	return &Handler{logger: logger, service: service, audit: audit}
}

// MountRoutes attaches period routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Post("/{id}/close", h.Close)
	r.Post("/{id}/reopen", h.Reopen)
	r.Post("/{id}/lock", h.Lock)
}

type periodView struct {
	ID           int64      `json:"id"`
	PeriodNumber string     `json:"periodNumber"`
	StartDate    string     `json:"startDate"`
	EndDate      string     `json:"endDate"`
	Status       Status     `json:"status"`
	ClosedAt     *time.Time `json:"closedAt,omitempty"`
	ClosedBy     *int64     `json:"closedBy,omitempty"`
}

func toView(p Period) periodView {
	return periodView{
		ID:           p.ID,
		PeriodNumber: p.PeriodNumber,
		StartDate:    p.StartDate.Format("2006-01-02"),
		EndDate:      p.EndDate.Format("2006-01-02"),
		Status:       p.Status,
		ClosedAt:     p.ClosedAt,
		ClosedBy:     p.ClosedBy,
	}
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	periods, err := h.service.List(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error("list periods", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	views := make([]periodView, 0, len(periods))
	for _, p := range periods {
		views = append(views, toView(p))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"periods": views})
}

type createPeriodRequest struct {
	PeriodNumber string `json:"periodNumber"`
	StartDate    string `json:"startDate"`
	EndDate      string `json:"endDate"`
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireAdmin(w, r)
	if !ok {
		return
	}
	var req createPeriodRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid request body", httpx.CodeValidation)
		return
	}
	start, err := parseDate(req.StartDate)
	if err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid start date", httpx.CodeValidation)
		return
	}
	end, err := parseDate(req.EndDate)
	if err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid end date", httpx.CodeValidation)
		return
	}
	period, err := h.service.Create(r.Context(), CreatePeriodInput{PeriodNumber: req.PeriodNumber, StartDate: start, EndDate: end})
	if err != nil {
		if errors.Is(err, ErrPeriodOverlap) {
			httpx.Error(w, http.StatusConflict, err.Error(), httpx.CodeValidation)
			return
		}
		h.logger.Error("create period", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	h.recordAudit(r, actor, period, "period_created")
	httpx.JSON(w, http.StatusCreated, toView(period))
}

func (h *Handler) Close(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, StatusClosed, "period_closed")
}

func (h *Handler) Reopen(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, StatusOpen, "period_reopened")
}

func (h *Handler) Lock(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, StatusLocked, "period_locked")
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, target Status, action string) {
	actor, ok := h.requireAdmin(w, r)
	if !ok {
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid period id", httpx.CodeValidation)
		return
	}
	period, err := h.service.Transition(r.Context(), id, target, actor.ID, actor.IsAdmin())
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidTransition):
			httpx.Error(w, http.StatusConflict, err.Error(), httpx.CodeValidation)
		case errors.Is(err, pgx.ErrNoRows):
			httpx.Error(w, http.StatusNotFound, "period not found", httpx.CodeNotFound)
		default:
			h.logger.Error("transition period", slog.Int64("id", id), slog.Any("error", err))
			httpx.RespondError(w, err)
		}
		return
	}
	h.recordAudit(r, actor, period, action)
	httpx.JSON(w, http.StatusOK, toView(period))
}

func (h *Handler) requireAdmin(w http.ResponseWriter, r *http.Request) (*shared.Actor, bool) {
	actor := shared.ActorFromContext(r.Context())
	if actor == nil {
		httpx.Error(w, http.StatusUnauthorized, "authentication required", httpx.CodeUnauthenticated)
		return nil, false
	}
	if !actor.IsAdmin() {
		httpx.Error(w, http.StatusForbidden, "admin role required", httpx.CodeForbidden)
		return nil, false
	}
	return actor, true
}

func (h *Handler) recordAudit(r *http.Request, actor *shared.Actor, period Period, action string) {
	if h.audit == nil {
		return
	}
	if err := h.audit.Record(r.Context(), shared.AuditEntry{
		UserID:     actor.ID,
		UserName:   actor.Name,
		Source:     "periods",
		EntityType: "accounting_period",
		EntityID:   strconv.FormatInt(period.ID, 10),
		Action:     action,
		NewValues:  map[string]any{"status": string(period.Status)},
	}); err != nil {
		h.logger.Warn("audit period action", slog.Any("error", err))
	}
}
