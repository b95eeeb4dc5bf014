package approvals

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/workflu/workflu/internal/platform/httpx"
	"github.com/workflu/workflu/internal/shared"
)

// Handler exposes the approval decision endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes attaches approval routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.List)
	r.Get("/{id}", h.Show)
	r.Post("/{id}/approve", h.decide(DecisionApprove))
	r.Post("/{id}/reject", h.decide(DecisionReject))
	r.Post("/{id}/cancel", h.decide(DecisionCancel))
}

type approvalView struct {
	ID              string     `json:"id"`
	OperationType   string     `json:"operationType"`
	RequestedBy     int64      `json:"requestedBy"`
	RequestedByName string     `json:"requestedByName,omitempty"`
	Amount          float64    `json:"amount"`
	Status          Status     `json:"status"`
	CreatedAt       time.Time  `json:"createdAt"`
	DecidedBy       *int64     `json:"decidedBy,omitempty"`
	DecidedAt       *time.Time `json:"decidedAt,omitempty"`
	DecisionNote    string     `json:"decisionNote,omitempty"`
	EscalatedAt     *time.Time `json:"escalatedAt,omitempty"`
}

func toView(a PendingApproval) approvalView {
	return approvalView{
		ID:              a.ID.String(),
		OperationType:   string(a.OperationType),
		RequestedBy:     a.RequestedBy,
		RequestedByName: a.RequestedByName,
		Amount:          a.Amount,
		Status:          a.Status,
		CreatedAt:       a.CreatedAt,
		DecidedBy:       a.DecidedBy,
		DecidedAt:       a.DecidedAt,
		DecisionNote:    a.DecisionNote,
		EscalatedAt:     a.EscalatedAt,
	}
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireAdmin(w, r); !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	approvals, err := h.service.ListOpen(r.Context(), limit)
	if err != nil {
		h.logger.Error("list approvals", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	views := make([]approvalView, 0, len(approvals))
	for _, a := range approvals {
		views = append(views, toView(a))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"approvals": views})
}

func (h *Handler) Show(w http.ResponseWriter, r *http.Request) {
	actor := shared.ActorFromContext(r.Context())
	if actor == nil {
		httpx.Error(w, http.StatusUnauthorized, "authentication required", httpx.CodeUnauthenticated)
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid approval id", httpx.CodeValidation)
		return
	}
	approval, err := h.service.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			httpx.Error(w, http.StatusNotFound, "approval not found", httpx.CodeNotFound)
			return
		}
		h.logger.Error("show approval", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if !actor.IsAdmin() && approval.RequestedBy != actor.ID {
		httpx.Error(w, http.StatusForbidden, "forbidden", httpx.CodeForbidden)
		return
	}
	httpx.JSON(w, http.StatusOK, toView(approval))
}

type decisionRequest struct {
	Note string `json:"note"`
}

func (h *Handler) decide(action string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor := shared.ActorFromContext(r.Context())
		if actor == nil {
			httpx.Error(w, http.StatusUnauthorized, "authentication required", httpx.CodeUnauthenticated)
			return
		}
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			httpx.Error(w, http.StatusBadRequest, "invalid approval id", httpx.CodeValidation)
			return
		}

		// Approve/reject require an admin; cancel is allowed for the requester.
		if action != DecisionCancel && !actor.IsAdmin() {
			httpx.Error(w, http.StatusForbidden, "admin role required", httpx.CodeForbidden)
			return
		}
		if action == DecisionCancel && !actor.IsAdmin() {
			approval, err := h.service.Get(r.Context(), id)
			if err != nil || approval.RequestedBy != actor.ID {
				httpx.Error(w, http.StatusForbidden, "forbidden", httpx.CodeForbidden)
				return
			}
		}

		var req decisionRequest
		_ = httpx.DecodeJSON(r, &req)

		decided, err := h.service.Decide(r.Context(), id, actor, action, req.Note)
		if err != nil {
			switch {
			case errors.Is(err, ErrAlreadyDecided):
				httpx.Error(w, http.StatusConflict, err.Error(), httpx.CodeApprovalConflict)
			case errors.Is(err, pgx.ErrNoRows):
				httpx.Error(w, http.StatusNotFound, "approval not found", httpx.CodeNotFound)
			default:
				h.logger.Error("decide approval", slog.String("action", action), slog.Any("error", err))
				httpx.RespondError(w, err)
			}
			return
		}
		httpx.JSON(w, http.StatusOK, toView(decided))
	}
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
