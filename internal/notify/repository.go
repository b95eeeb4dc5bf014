package notify

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RetryEligible reports whether a failed notification may be retried now.
// The backoff window grows quadratically: attempts² hours since the last
// attempt must have elapsed.
func RetryEligible(attempts int, lastAttempt, now time.Time) bool {
	if attempts <= 0 {
		return true
	}
	wait := time.Duration(attempts*attempts) * time.Hour
	return now.Sub(lastAttempt) >= wait
}

// DigestRow aggregates a user's undelivered traffic for the daily digest.
type DigestRow struct {
	UserID      int64
	UnreadCount int
}

// Stats summarises delivery state for introspection endpoints.
type Stats struct {
	Pending int64
	Sent    int64
	Failed  int64
	Read    int64
}

// Repository persists notifications.
type Repository interface {
	Enqueue(ctx context.Context, n Notification) (Notification, error)
	Get(ctx context.Context, id uuid.UUID) (Notification, error)
	MarkAttempt(ctx context.Context, id uuid.UUID, channel ChannelKind, delivered bool, attemptErr string, at time.Time) error
	MarkRead(ctx context.Context, id uuid.UUID, userID int64, at time.Time) error
	MarkDismissed(ctx context.Context, id uuid.UUID, userID int64) error
	ListForUser(ctx context.Context, userID int64, limit, offset int) ([]Notification, error)
	UndeliveredBatch(ctx context.Context, limit int) ([]Notification, error)
	DigestRows(ctx context.Context, since time.Time) ([]DigestRow, error)
	DeleteSettledBefore(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteAllBefore(ctx context.Context, cutoff time.Time) (int64, error)
	Stats(ctx context.Context) (Stats, error)
}

// SettingsRepository reads user channel preferences. The delivery engine
// never writes settings.
type SettingsRepository interface {
	Get(ctx context.Context, userID int64) (Settings, error)
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository returns a pgx-backed Repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

const notificationColumns = `id, user_id, template_key, title, body, priority, category, language, entity_type, entity_id,
action_url, template_data, status, channel, attempts, last_attempt_at, last_error, sent_at, read_at, created_at`

func scanNotification(row pgx.Row) (Notification, error) {
	var n Notification
	var priority, status, channel string
	err := row.Scan(&n.ID, &n.UserID, &n.TemplateKey, &n.Title, &n.Body, &priority, &n.Category,
		&n.Language, &n.EntityType, &n.EntityID, &n.ActionURL, &n.TemplateData, &status, &channel, &n.Attempts,
		&n.LastAttemptAt, &n.LastError, &n.SentAt, &n.ReadAt, &n.CreatedAt)
	if err != nil {
		return Notification{}, err
	}
	n.Priority = Priority(priority)
	n.Status = Status(status)
	n.Channel = ChannelKind(channel)
	return n, nil
}

func (r *repository) Enqueue(ctx context.Context, n Notification) (Notification, error) {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	row := r.db.QueryRow(ctx, `INSERT INTO notifications
(id, user_id, template_key, title, body, priority, category, language, entity_type, entity_id, action_url, template_data, status, channel, attempts, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, 0, NOW())
RETURNING `+notificationColumns,
		n.ID, n.UserID, n.TemplateKey, n.Title, n.Body, string(n.Priority), n.Category, n.Language,
		n.EntityType, n.EntityID, n.ActionURL, n.TemplateData, string(StatusPending), string(n.Channel))
	return scanNotification(row)
}

func (r *repository) Get(ctx context.Context, id uuid.UUID) (Notification, error) {
	row := r.db.QueryRow(ctx, `SELECT `+notificationColumns+` FROM notifications WHERE id=$1`, id)
	return scanNotification(row)
}

func (r *repository) MarkAttempt(ctx context.Context, id uuid.UUID, channel ChannelKind, delivered bool, attemptErr string, at time.Time) error {
	status := StatusFailed
	if delivered {
		status = StatusSent
	}
	var sentAt *time.Time
	if delivered {
		sentAt = &at
	}
	tag, err := r.db.Exec(ctx, `UPDATE notifications
SET attempts=attempts+1, last_attempt_at=$2, last_error=$3, status=$4, channel=$5, sent_at=COALESCE($6, sent_at)
WHERE id=$1`,
		id, at, attemptErr, string(status), string(channel), sentAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *repository) MarkRead(ctx context.Context, id uuid.UUID, userID int64, at time.Time) error {
	tag, err := r.db.Exec(ctx, `UPDATE notifications SET status=$3, read_at=$4
WHERE id=$1 AND user_id=$2 AND status NOT IN ($5)`,
		id, userID, string(StatusRead), at, string(StatusDismissed))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *repository) MarkDismissed(ctx context.Context, id uuid.UUID, userID int64) error {
	tag, err := r.db.Exec(ctx, `UPDATE notifications SET status=$3 WHERE id=$1 AND user_id=$2`,
		id, userID, string(StatusDismissed))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *repository) ListForUser(ctx context.Context, userID int64, limit, offset int) ([]Notification, error) {
	rows, err := r.db.Query(ctx, `SELECT `+notificationColumns+` FROM notifications
WHERE user_id=$1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	return collectNotifications(rows)
}

// UndeliveredBatch returns pending and failed rows oldest first; the caller
// applies the retry backoff before attempting failed ones.
func (r *repository) UndeliveredBatch(ctx context.Context, limit int) ([]Notification, error) {
	rows, err := r.db.Query(ctx, `SELECT `+notificationColumns+` FROM notifications
WHERE status IN ($1, $2) ORDER BY created_at ASC LIMIT $3`,
		string(StatusPending), string(StatusFailed), limit)
	if err != nil {
		return nil, err
	}
	return collectNotifications(rows)
}

func (r *repository) DigestRows(ctx context.Context, since time.Time) ([]DigestRow, error) {
	rows, err := r.db.Query(ctx, `SELECT user_id, COUNT(*) FROM notifications
WHERE status IN ($1, $2) AND created_at >= $3 GROUP BY user_id`,
		string(StatusPending), string(StatusSent), since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []DigestRow
	for rows.Next() {
		var d DigestRow
		if err := rows.Scan(&d.UserID, &d.UnreadCount); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// DeleteSettledBefore removes read and dismissed rows past the active
// retention window.
func (r *repository) DeleteSettledBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM notifications
WHERE created_at < $1 AND status IN ($2, $3)`,
		cutoff, string(StatusRead), string(StatusDismissed))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// DeleteAllBefore removes every row past the history retention window.
func (r *repository) DeleteAllBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM notifications WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *repository) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := r.db.QueryRow(ctx, `SELECT
COUNT(*) FILTER (WHERE status=$1),
COUNT(*) FILTER (WHERE status=$2),
COUNT(*) FILTER (WHERE status=$3),
COUNT(*) FILTER (WHERE status=$4)
FROM notifications`,
		string(StatusPending), string(StatusSent), string(StatusFailed), string(StatusRead)).
		Scan(&s.Pending, &s.Sent, &s.Failed, &s.Read)
	return s, err
}

func collectNotifications(rows pgx.Rows) ([]Notification, error) {
	defer rows.Close()
	var out []Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

type settingsRepository struct {
	db *pgxpool.Pool
}

// NewSettingsRepository returns a pgx-backed SettingsRepository.
func NewSettingsRepository(db *pgxpool.Pool) SettingsRepository {
	return &settingsRepository{db: db}
}

func (r *settingsRepository) Get(ctx context.Context, userID int64) (Settings, error) {
	var s Settings
	err := r.db.QueryRow(ctx, `SELECT user_id, in_app_enabled, email_enabled, email_address,
sms_enabled, phone_number, webhook_enabled, webhook_url, updated_at
FROM notification_settings WHERE user_id=$1`, userID).
		Scan(&s.UserID, &s.InAppEnabled, &s.EmailEnabled, &s.EmailAddress,
			&s.SMSEnabled, &s.PhoneNumber, &s.WebhookEnabled, &s.WebhookURL, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return DefaultSettings(userID), nil
	}
	if err != nil {
		return Settings{}, err
	}
	return s, nil
}

type templateRepository struct {
	db *pgxpool.Pool
}

// NewTemplateRepository returns a pgx-backed TemplateRepository.
func NewTemplateRepository(db *pgxpool.Pool) TemplateRepository {
	return &templateRepository{db: db}
}

const templateColumns = `key, category, channel, language, subject, body, sms_template, priority, is_default, is_active, created_at, updated_at`

func scanTemplate(row pgx.Row) (Template, error) {
	var t Template
	var priority, channel string
	err := row.Scan(&t.Key, &t.Category, &channel, &t.Language, &t.Subject, &t.Body, &t.SMSTemplate,
		&priority, &t.IsDefault, &t.IsActive, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return Template{}, err
	}
	t.Priority = Priority(priority)
	t.Channel = ChannelKind(channel)
	return t, nil
}

// Get matches any category when the caller passes an empty one; seeded keys
// are unique per (channel, language) so the match stays unambiguous.
func (r *templateRepository) Get(ctx context.Context, key, category string, channel ChannelKind, lang string) (Template, error) {
	row := r.db.QueryRow(ctx, `SELECT `+templateColumns+` FROM notification_templates
WHERE key=$1 AND ($2 = '' OR category=$2) AND channel=$3 AND language=$4`,
		key, category, string(channel), lang)
	t, err := scanTemplate(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Template{}, ErrTemplateNotFound
	}
	return t, err
}

func (r *templateRepository) Exists(ctx context.Context, key, category string, channel ChannelKind, lang string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM notification_templates
WHERE key=$1 AND category=$2 AND channel=$3 AND language=$4)`,
		key, category, string(channel), lang).Scan(&exists)
	return exists, err
}

func (r *templateRepository) Insert(ctx context.Context, t Template) error {
	_, err := r.db.Exec(ctx, `INSERT INTO notification_templates
(key, category, channel, language, subject, body, sms_template, priority, is_default, is_active, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW())`,
		t.Key, t.Category, string(t.Channel), t.Language, t.Subject, t.Body, t.SMSTemplate,
		string(t.Priority), t.IsDefault, t.IsActive)
	return err
}

func (r *templateRepository) Update(ctx context.Context, t Template) error {
	tag, err := r.db.Exec(ctx, `UPDATE notification_templates
SET subject=$5, body=$6, sms_template=$7, priority=$8, is_active=$9, updated_at=NOW()
WHERE key=$1 AND category=$2 AND channel=$3 AND language=$4`,
		t.Key, t.Category, string(t.Channel), t.Language, t.Subject, t.Body, t.SMSTemplate,
		string(t.Priority), t.IsActive)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTemplateNotFound
	}
	return nil
}

func (r *templateRepository) List(ctx context.Context) ([]Template, error) {
	rows, err := r.db.Query(ctx, `SELECT `+templateColumns+` FROM notification_templates ORDER BY key, channel, language`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
