package notify

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Priority orders notifications and gates which channels may carry them.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Rank returns the ordering weight of a priority; unknown values rank lowest.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 3
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 1
	default:
		return 0
	}
}

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// ChannelKind identifies a delivery transport.
type ChannelKind string

const (
	ChannelInApp   ChannelKind = "in_app"
	ChannelEmail   ChannelKind = "email"
	ChannelSMS     ChannelKind = "sms"
	ChannelWebhook ChannelKind = "webhook"
)

// Valid reports whether k is a known channel.
func (k ChannelKind) Valid() bool {
	switch k {
	case ChannelInApp, ChannelEmail, ChannelSMS, ChannelWebhook:
		return true
	}
	return false
}

// Status tracks a notification through its lifecycle.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSent      Status = "sent"
	StatusFailed    Status = "failed"
	StatusRead      Status = "read"
	StatusDismissed Status = "dismissed"
)

// Notification is a persisted message awaiting or past delivery.
type Notification struct {
	ID            uuid.UUID
	UserID        int64
	TemplateKey   string
	Title         string
	Body          string
	Priority      Priority
	Category      string
	Language      string
	EntityType    string
	EntityID      string
	ActionURL     string
	TemplateData  map[string]string
	Status        Status
	Channel       ChannelKind
	Attempts      int
	LastAttemptAt *time.Time
	LastError     string
	SentAt        *time.Time
	ReadAt        *time.Time
	CreatedAt     time.Time
}

// Settings is a user's per-channel preference record. Zero value means all
// channels off except in-app.
type Settings struct {
	UserID         int64
	InAppEnabled   bool
	EmailEnabled   bool
	EmailAddress   string
	SMSEnabled     bool
	PhoneNumber    string
	WebhookEnabled bool
	WebhookURL     string
	UpdatedAt      time.Time
}

// DefaultSettings is used when a user has no stored preference row.
func DefaultSettings(userID int64) Settings {
	return Settings{UserID: userID, InAppEnabled: true}
}

// AttemptOutcome records one channel attempt inside a DeliveryResult.
type AttemptOutcome struct {
	Channel  ChannelKind       `json:"channel"`
	OK       bool              `json:"ok"`
	Error    string            `json:"error,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// DeliveryResult is the structured outcome of one Send call.
type DeliveryResult struct {
	NotificationID uuid.UUID        `json:"notificationId"`
	Delivered      bool             `json:"delivered"`
	Channel        ChannelKind      `json:"channel,omitempty"`
	Attempts       []AttemptOutcome `json:"attempts"`
}

var (
	ErrTemplateNotFound = errors.New("notify: template not found")
	ErrUnknownChannel   = errors.New("notify: unknown channel")
)
