package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/workflu/workflu/internal/shared"
)

// Metrics counts delivery outcomes per channel. Optional.
type Metrics interface {
	DeliveryAttempt(channel string, delivered bool)
}

// SendInput describes one notification to create and deliver.
type SendInput struct {
	UserID      int64
	TemplateKey string
	Language    string
	Data        map[string]string
	Priority    Priority // optional override; template priority wins when empty
	Category    string
	EntityType  string
	EntityID    string
	ActionURL   string
	// Channels declares the caller's intended channel list. It narrows the
	// set computed from user settings; it never adds channels a user has
	// disabled.
	Channels []ChannelKind
}

// Service is the delivery engine. It persists first, then walks the eligible
// channels in order and stops at the first success.
type Service struct {
	repo      Repository
	settings  SettingsRepository
	templates *Registry
	channels  map[ChannelKind]Channel
	order     []ChannelKind
	audit     shared.Auditor
	metrics   Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// NewService constructs the engine. Channel precedence follows registration
// order.
func NewService(repo Repository, settings SettingsRepository, templates *Registry, audit shared.Auditor, logger *slog.Logger, channels ...Channel) *Service {
	s := &Service{
		repo:      repo,
		settings:  settings,
		templates: templates,
		channels:  make(map[ChannelKind]Channel, len(channels)),
		audit:     audit,
		logger:    logger,
		now:       time.Now,
	}
	for _, c := range channels {
		s.channels[c.Kind()] = c
		s.order = append(s.order, c.Kind())
	}
	return s
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// SetMetrics wires the delivery counter. Optional.
func (s *Service) SetMetrics(m Metrics) {
	s.metrics = m
}

// DetermineChannels computes the eligible channel list for a priority given
// a user's settings. Email requires at least medium priority, SMS is
// reserved for critical. An empty outcome falls back to in-app so nothing
// is ever silently dropped.
func DetermineChannels(settings Settings, priority Priority) []ChannelKind {
	var out []ChannelKind
	if settings.InAppEnabled {
		out = append(out, ChannelInApp)
	}
	if settings.EmailEnabled && settings.EmailAddress != "" && priority.Rank() >= PriorityMedium.Rank() {
		out = append(out, ChannelEmail)
	}
	if settings.SMSEnabled && settings.PhoneNumber != "" && priority == PriorityCritical {
		out = append(out, ChannelSMS)
	}
	if settings.WebhookEnabled && settings.WebhookURL != "" {
		out = append(out, ChannelWebhook)
	}
	if len(out) == 0 {
		out = []ChannelKind{ChannelInApp}
	}
	return out
}

// Send renders the in-app template, persists the notification, and attempts
// delivery. The row exists before any transport is tried, so a total
// delivery failure still leaves an inspectable record. Channel-specific
// templates (email subject, SMS short form) are resolved per attempt, not
// here: a missing email template is an email failure, not a lost row.
func (s *Service) Send(ctx context.Context, in SendInput) (DeliveryResult, error) {
	tpl, err := s.templates.Resolve(ctx, in.TemplateKey, in.Category, ChannelInApp, in.Language)
	if err != nil {
		return DeliveryResult{}, err
	}
	priority := tpl.Priority
	if in.Priority.Valid() {
		priority = in.Priority
	}
	category := tpl.Category
	if in.Category != "" {
		category = in.Category
	}

	n, err := s.repo.Enqueue(ctx, Notification{
		ID:           uuid.New(),
		UserID:       in.UserID,
		TemplateKey:  in.TemplateKey,
		Title:        Render(tpl.Subject, in.Data),
		Body:         Render(tpl.Body, in.Data),
		Priority:     priority,
		Category:     category,
		Language:     in.Language,
		EntityType:   in.EntityType,
		EntityID:     in.EntityID,
		ActionURL:    in.ActionURL,
		TemplateData: in.Data,
	})
	if err != nil {
		return DeliveryResult{}, fmt.Errorf("notify: enqueue: %w", err)
	}

	return s.deliver(ctx, n, in.Channels)
}

// Deliver attempts delivery of an already persisted notification. Used by
// the queue-drain and retry jobs.
func (s *Service) Deliver(ctx context.Context, n Notification) (DeliveryResult, error) {
	return s.deliver(ctx, n, nil)
}

func (s *Service) deliver(ctx context.Context, n Notification, explicit []ChannelKind) (DeliveryResult, error) {
	settings, err := s.settings.Get(ctx, n.UserID)
	if err != nil {
		return DeliveryResult{NotificationID: n.ID}, fmt.Errorf("notify: load settings: %w", err)
	}

	// Settings stay authoritative: the channels computed from them are
	// intersected with any declared list, never replaced by it. A caller
	// declaring email cannot reach a user who disabled email.
	eligible := DetermineChannels(settings, n.Priority)
	if len(explicit) > 0 {
		declared := make(map[ChannelKind]bool, len(explicit))
		for _, kind := range explicit {
			declared[kind] = true
		}
		narrowed := eligible[:0]
		for _, kind := range eligible {
			if declared[kind] {
				narrowed = append(narrowed, kind)
			}
		}
		if len(narrowed) == 0 {
			narrowed = []ChannelKind{ChannelInApp}
		}
		eligible = narrowed
	}
	// Normalize to registration order so precedence is stable regardless
	// of how callers list channels.
	ordered := make([]ChannelKind, 0, len(eligible))
	for _, kind := range s.order {
		for _, want := range eligible {
			if kind == want {
				ordered = append(ordered, kind)
				break
			}
		}
	}

	result := DeliveryResult{NotificationID: n.ID}
	for _, kind := range ordered {
		channel, ok := s.channels[kind]
		if !ok {
			s.logger.Warn("channel not registered", slog.String("channel", string(kind)))
			continue
		}
		var meta map[string]string
		content, err := s.contentFor(ctx, n, kind)
		if err == nil {
			meta, err = channel.Deliver(ctx, n, content, settings)
		}
		outcome := AttemptOutcome{Channel: kind, OK: err == nil, Metadata: meta}
		if err != nil {
			outcome.Error = err.Error()
		}
		result.Attempts = append(result.Attempts, outcome)
		if s.metrics != nil {
			s.metrics.DeliveryAttempt(string(kind), err == nil)
		}
		if err == nil {
			result.Delivered = true
			result.Channel = kind
			break
		}
		s.logger.Warn("delivery attempt failed",
			slog.String("notification", n.ID.String()),
			slog.String("channel", string(kind)),
			slog.Any("error", err))
	}

	s.bookkeep(ctx, n, result)
	s.recordAudit(ctx, n, result)
	return result, nil
}

// contentFor resolves and renders the channel-specific material for one
// attempt. Email requires its own template variant; resolving it here means
// a missing email template fails only the email attempt. SMS prefers the
// email variant's short form and falls back to the stored message, so it
// never fails on a template gap.
func (s *Service) contentFor(ctx context.Context, n Notification, kind ChannelKind) (Content, error) {
	switch kind {
	case ChannelEmail:
		tpl, err := s.templates.Resolve(ctx, n.TemplateKey, n.Category, ChannelEmail, n.Language)
		if err != nil {
			return Content{}, fmt.Errorf("notify: no email template for %q: %w", n.TemplateKey, err)
		}
		subject := Render(tpl.Subject, n.TemplateData)
		if subject == "" {
			subject = n.Title
		}
		return Content{Subject: subject, Body: Render(tpl.Body, n.TemplateData)}, nil
	case ChannelSMS:
		tpl, err := s.templates.Resolve(ctx, n.TemplateKey, n.Category, ChannelEmail, n.Language)
		if err == nil && tpl.SMSTemplate != "" {
			return Content{Subject: n.Title, Body: Render(tpl.SMSTemplate, n.TemplateData)}, nil
		}
		return Content{Subject: n.Title, Body: n.Title + ": " + n.Body}, nil
	default:
		return Content{Subject: n.Title, Body: n.Body}, nil
	}
}

func (s *Service) bookkeep(ctx context.Context, n Notification, result DeliveryResult) {
	at := s.now()
	var lastErr string
	channel := result.Channel
	if !result.Delivered {
		if len(result.Attempts) > 0 {
			last := result.Attempts[len(result.Attempts)-1]
			lastErr = last.Error
			channel = last.Channel
		} else {
			lastErr = "no eligible channel registered"
			channel = ChannelInApp
		}
	}
	if err := s.repo.MarkAttempt(ctx, n.ID, channel, result.Delivered, lastErr, at); err != nil {
		s.logger.Error("record delivery attempt", slog.String("notification", n.ID.String()), slog.Any("error", err))
	}
}

func (s *Service) recordAudit(ctx context.Context, n Notification, result DeliveryResult) {
	if s.audit == nil {
		return
	}
	severity := shared.SeverityInfo
	if !result.Delivered {
		severity = shared.SeverityWarning
	}
	if err := s.audit.Record(ctx, shared.AuditEntry{
		UserID:     n.UserID,
		Source:     "notify",
		Severity:   severity,
		EntityType: "notification",
		EntityID:   n.ID.String(),
		Action:     "notification_delivery",
		NewValues: map[string]any{
			"delivered": result.Delivered,
			"channel":   string(result.Channel),
			"attempts":  len(result.Attempts),
		},
	}); err != nil {
		s.logger.Warn("audit delivery", slog.Any("error", err))
	}
}

// SendBulk delivers to many recipients sequentially. One recipient's failure
// never aborts the rest; failures are reported in the returned slice.
func (s *Service) SendBulk(ctx context.Context, userIDs []int64, in SendInput) []DeliveryResult {
	results := make([]DeliveryResult, 0, len(userIDs))
	for _, id := range userIDs {
		item := in
		item.UserID = id
		res, err := s.Send(ctx, item)
		if err != nil {
			s.logger.Error("bulk send", slog.Int64("user", id), slog.Any("error", err))
			res = DeliveryResult{Attempts: []AttemptOutcome{{OK: false, Error: err.Error()}}}
		}
		results = append(results, res)
	}
	return results
}

// CreateBusinessAlert raises an alert declaring in-app and email as the
// intended channels. The declaration is informational: delivery still
// recomputes the real channel set from each recipient's settings.
func (s *Service) CreateBusinessAlert(ctx context.Context, userIDs []int64, templateKey string, data map[string]string) []DeliveryResult {
	return s.SendBulk(ctx, userIDs, SendInput{
		TemplateKey: templateKey,
		Data:        data,
		Channels:    []ChannelKind{ChannelInApp, ChannelEmail},
	})
}

// MarkRead marks a notification read for its owner.
func (s *Service) MarkRead(ctx context.Context, id uuid.UUID, userID int64) error {
	return s.repo.MarkRead(ctx, id, userID, s.now())
}

// Dismiss dismisses a notification for its owner.
func (s *Service) Dismiss(ctx context.Context, id uuid.UUID, userID int64) error {
	return s.repo.MarkDismissed(ctx, id, userID)
}

// ListForUser returns a user's notifications newest first.
func (s *Service) ListForUser(ctx context.Context, userID int64, limit, offset int) ([]Notification, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.repo.ListForUser(ctx, userID, limit, offset)
}

// Stats exposes delivery counters.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	return s.repo.Stats(ctx)
}
