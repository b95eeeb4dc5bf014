package shared

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Audit severities.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// AuditEntry represents an append-only record stored in audit_logs.
type AuditEntry struct {
	UserID        int64
	UserName      string
	Source        string
	Severity      string
	EntityType    string
	EntityID      string
	Action        string
	OperationType string
	Description   string
	OldValues     map[string]any
	NewValues     map[string]any
	At            time.Time
}

// Auditor is the write-only sink consumed by guards, the approval gate and
// the delivery engine. The core never reads audit entries back.
type Auditor interface {
	Record(ctx context.Context, entry AuditEntry) error
}

// AuditLogger writes records into audit_logs.
type AuditLogger struct {
	pool *pgxpool.Pool
}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(pool *pgxpool.Pool) *AuditLogger {
	return &AuditLogger{pool: pool}
}

// Record persists the log entry.
func (l *AuditLogger) Record(ctx context.Context, entry AuditEntry) error {
	if l == nil {
		return errors.New("audit logger not initialised")
	}
	if entry.Action == "" || entry.EntityType == "" {
		return errors.New("audit entry requires action/entity_type")
	}
	if entry.Severity == "" {
		entry.Severity = SeverityInfo
	}
	oldJSON, err := json.Marshal(entry.OldValues)
	if err != nil {
		return err
	}
	newJSON, err := json.Marshal(entry.NewValues)
	if err != nil {
		return err
	}
	_, err = l.pool.Exec(ctx, `INSERT INTO audit_logs
(user_id, user_name, source, severity, entity_type, entity_id, action, operation_type, description, old_values, new_values, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, COALESCE($12, NOW()))`,
		entry.UserID, entry.UserName, entry.Source, entry.Severity, entry.EntityType, entry.EntityID,
		entry.Action, entry.OperationType, entry.Description, oldJSON, newJSON, entry.At)
	return err
}
