package notify

import (
	"context"
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

// Handler exposes notification endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	templates *Registry
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service *Service, templates *Registry) *Handler {
	return &Handler{logger: logger, service: service, templates: templates}
}

// MountRoutes attaches notification routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.List)
	r.Post("/{id}/read", h.MarkRead)
	r.Post("/{id}/dismiss", h.Dismiss)
	r.Get("/stats", h.Stats)
	r.Get("/templates", h.ListTemplates)
	r.Put("/templates/{key}", h.UpdateTemplate)
}

type notificationView struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Body      string     `json:"body"`
	Priority  Priority   `json:"priority"`
	Category  string     `json:"category"`
	Status    Status     `json:"status"`
	Channel   string     `json:"channel,omitempty"`
	ActionURL string     `json:"actionUrl,omitempty"`
	SentAt    *time.Time `json:"sentAt,omitempty"`
	ReadAt    *time.Time `json:"readAt,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

func toNotificationView(n Notification) notificationView {
	return notificationView{
		ID:        n.ID.String(),
		Title:     n.Title,
		Body:      n.Body,
		Priority:  n.Priority,
		Category:  n.Category,
		Status:    n.Status,
		Channel:   string(n.Channel),
		ActionURL: n.ActionURL,
		SentAt:    n.SentAt,
		ReadAt:    n.ReadAt,
		CreatedAt: n.CreatedAt,
	}
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	actor := shared.ActorFromContext(r.Context())
	if actor == nil {
		httpx.Error(w, http.StatusUnauthorized, "authentication required", httpx.CodeUnauthenticated)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	items, err := h.service.ListForUser(r.Context(), actor.ID, limit, offset)
	if err != nil {
		h.logger.Error("list notifications", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	views := make([]notificationView, 0, len(items))
	for _, n := range items {
		views = append(views, toNotificationView(n))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"notifications": views})
}

func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	h.ownerAction(w, r, h.service.MarkRead)
}

func (h *Handler) Dismiss(w http.ResponseWriter, r *http.Request) {
	h.ownerAction(w, r, h.service.Dismiss)
}

func (h *Handler) ownerAction(w http.ResponseWriter, r *http.Request, action func(ctx context.Context, id uuid.UUID, userID int64) error) {
	actor := shared.ActorFromContext(r.Context())
	if actor == nil {
		httpx.Error(w, http.StatusUnauthorized, "authentication required", httpx.CodeUnauthenticated)
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid notification id", httpx.CodeValidation)
		return
	}
	if err := action(r.Context(), id, actor.ID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			httpx.Error(w, http.StatusNotFound, "notification not found", httpx.CodeNotFound)
			return
		}
		h.logger.Error("notification action", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	actor := shared.ActorFromContext(r.Context())
	if actor == nil || !actor.IsAdmin() {
		httpx.Error(w, http.StatusForbidden, "admin role required", httpx.CodeForbidden)
		return
	}
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		h.logger.Error("notification stats", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]int64{
		"pending": stats.Pending,
		"sent":    stats.Sent,
		"failed":  stats.Failed,
		"read":    stats.Read,
	})
}

func (h *Handler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	actor := shared.ActorFromContext(r.Context())
	if actor == nil || !actor.IsAdmin() {
		httpx.Error(w, http.StatusForbidden, "admin role required", httpx.CodeForbidden)
		return
	}
	templates, err := h.templates.repo.List(r.Context())
	if err != nil {
		h.logger.Error("list templates", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"templates": templates})
}

type updateTemplateRequest struct {
	Category    string      `json:"category"`
	Channel     ChannelKind `json:"channel"`
	Language    string      `json:"language"`
	Subject     string      `json:"subject"`
	Body        string      `json:"body"`
	SMSTemplate string      `json:"smsTemplate"`
	Priority    Priority    `json:"priority"`
	IsActive    *bool       `json:"isActive"`
}

func (h *Handler) UpdateTemplate(w http.ResponseWriter, r *http.Request) {
	actor := shared.ActorFromContext(r.Context())
	if actor == nil || !actor.IsAdmin() {
		httpx.Error(w, http.StatusForbidden, "admin role required", httpx.CodeForbidden)
		return
	}
	var req updateTemplateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid request body", httpx.CodeValidation)
		return
	}
	if req.Language == "" {
		req.Language = "en"
	}
	if !req.Channel.Valid() {
		httpx.Error(w, http.StatusBadRequest, "invalid channel", httpx.CodeValidation)
		return
	}
	if !req.Priority.Valid() {
		httpx.Error(w, http.StatusBadRequest, "invalid priority", httpx.CodeValidation)
		return
	}
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	tpl := Template{
		Key:         chi.URLParam(r, "key"),
		Category:    req.Category,
		Channel:     req.Channel,
		Language:    req.Language,
		Subject:     req.Subject,
		Body:        req.Body,
		SMSTemplate: req.SMSTemplate,
		Priority:    req.Priority,
		IsActive:    active,
	}
	if err := h.templates.repo.Update(r.Context(), tpl); err != nil {
		if errors.Is(err, ErrTemplateNotFound) {
			httpx.Error(w, http.StatusNotFound, "template not found", httpx.CodeNotFound)
			return
		}
		h.logger.Error("update template", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, tpl)
}
