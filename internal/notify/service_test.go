package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
)

type memoryNotifications struct {
	mu   sync.Mutex
	rows map[uuid.UUID]Notification
}

func newMemoryNotifications() *memoryNotifications {
	return &memoryNotifications{rows: map[uuid.UUID]Notification{}}
}

func (m *memoryNotifications) Enqueue(_ context.Context, n Notification) (Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	n.Status = StatusPending
	n.CreatedAt = time.Now()
	m.rows[n.ID] = n
	return n, nil
}

func (m *memoryNotifications) Get(_ context.Context, id uuid.UUID) (Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.rows[id]
	if !ok {
		return Notification{}, pgx.ErrNoRows
	}
	return n, nil
}

func (m *memoryNotifications) MarkAttempt(_ context.Context, id uuid.UUID, channel ChannelKind, delivered bool, attemptErr string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.rows[id]
	if !ok {
		return pgx.ErrNoRows
	}
	n.Attempts++
	n.LastAttemptAt = &at
	n.LastError = attemptErr
	n.Channel = channel
	if delivered {
		n.Status = StatusSent
		n.SentAt = &at
	} else {
		n.Status = StatusFailed
	}
	m.rows[id] = n
	return nil
}

func (m *memoryNotifications) MarkRead(_ context.Context, id uuid.UUID, userID int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.rows[id]
	if !ok || n.UserID != userID {
		return pgx.ErrNoRows
	}
	n.Status = StatusRead
	n.ReadAt = &at
	m.rows[id] = n
	return nil
}

func (m *memoryNotifications) MarkDismissed(_ context.Context, id uuid.UUID, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.rows[id]
	if !ok || n.UserID != userID {
		return pgx.ErrNoRows
	}
	n.Status = StatusDismissed
	m.rows[id] = n
	return nil
}

func (m *memoryNotifications) ListForUser(_ context.Context, userID int64, limit, offset int) ([]Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Notification
	for _, n := range m.rows {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	return out, nil
}

func (m *memoryNotifications) UndeliveredBatch(_ context.Context, limit int) ([]Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Notification
	for _, n := range m.rows {
		if n.Status == StatusPending || n.Status == StatusFailed {
			out = append(out, n)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memoryNotifications) DigestRows(_ context.Context, since time.Time) ([]DigestRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := map[int64]int{}
	for _, n := range m.rows {
		if (n.Status == StatusPending || n.Status == StatusSent) && !n.CreatedAt.Before(since) {
			counts[n.UserID]++
		}
	}
	var out []DigestRow
	for id, c := range counts {
		out = append(out, DigestRow{UserID: id, UnreadCount: c})
	}
	return out, nil
}

func (m *memoryNotifications) DeleteSettledBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var deleted int64
	for id, n := range m.rows {
		if n.CreatedAt.Before(cutoff) && (n.Status == StatusRead || n.Status == StatusDismissed) {
			delete(m.rows, id)
			deleted++
		}
	}
	return deleted, nil
}

func (m *memoryNotifications) DeleteAllBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var deleted int64
	for id, n := range m.rows {
		if n.CreatedAt.Before(cutoff) {
			delete(m.rows, id)
			deleted++
		}
	}
	return deleted, nil
}

func (m *memoryNotifications) Stats(_ context.Context) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var s Stats
	for _, n := range m.rows {
		switch n.Status {
		case StatusPending:
			s.Pending++
		case StatusSent:
			s.Sent++
		case StatusFailed:
			s.Failed++
		case StatusRead:
			s.Read++
		}
	}
	return s, nil
}

type memorySettings struct {
	rows map[int64]Settings
}

func (m *memorySettings) Get(_ context.Context, userID int64) (Settings, error) {
	if s, ok := m.rows[userID]; ok {
		return s, nil
	}
	return DefaultSettings(userID), nil
}

// fakeChannel records delivery calls and fails on demand.
type fakeChannel struct {
	kind        ChannelKind
	fail        error
	calls       int
	lastContent Content
}

func (f *fakeChannel) Kind() ChannelKind { return f.kind }

func (f *fakeChannel) Deliver(_ context.Context, _ Notification, content Content, _ Settings) (map[string]string, error) {
	f.calls++
	f.lastContent = content
	if f.fail != nil {
		return nil, f.fail
	}
	return map[string]string{"ok": "true"}, nil
}

func allSettings(userID int64) Settings {
	return Settings{
		UserID:         userID,
		InAppEnabled:   true,
		EmailEnabled:   true,
		EmailAddress:   "user@example.com",
		SMSEnabled:     true,
		PhoneNumber:    "+251900000000",
		WebhookEnabled: true,
		WebhookURL:     "https://hooks.example.com/x",
	}
}

func TestDetermineChannelsMatrix(t *testing.T) {
	full := allSettings(1)
	cases := []struct {
		name     string
		settings Settings
		priority Priority
		want     []ChannelKind
	}{
		{"low priority gets in-app and webhook only", full, PriorityLow,
			[]ChannelKind{ChannelInApp, ChannelWebhook}},
		{"medium priority adds email", full, PriorityMedium,
			[]ChannelKind{ChannelInApp, ChannelEmail, ChannelWebhook}},
		{"high priority still no sms", full, PriorityHigh,
			[]ChannelKind{ChannelInApp, ChannelEmail, ChannelWebhook}},
		{"critical unlocks sms", full, PriorityCritical,
			[]ChannelKind{ChannelInApp, ChannelEmail, ChannelSMS, ChannelWebhook}},
		{"everything disabled falls back to in-app", Settings{UserID: 1}, PriorityCritical,
			[]ChannelKind{ChannelInApp}},
		{"email enabled without address is skipped",
			Settings{UserID: 1, EmailEnabled: true}, PriorityHigh,
			[]ChannelKind{ChannelInApp}},
		{"sms enabled below critical is skipped",
			Settings{UserID: 1, InAppEnabled: true, SMSEnabled: true, PhoneNumber: "+1"}, PriorityHigh,
			[]ChannelKind{ChannelInApp}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, DetermineChannels(tc.settings, tc.priority))
		})
	}
}

func newEngine(t *testing.T, settings Settings, channels ...Channel) (*Service, *memoryNotifications) {
	t.Helper()
	repo := newMemoryNotifications()
	tpls := newMemoryTemplates()
	reg := NewRegistry(tpls, testLogger())
	require.NoError(t, reg.SeedDefaults(context.Background()))
	svc := NewService(repo, &memorySettings{rows: map[int64]Settings{settings.UserID: settings}}, reg, nil, testLogger(), channels...)
	return svc, repo
}

func TestSendStopsAtFirstSuccess(t *testing.T) {
	inApp := &fakeChannel{kind: ChannelInApp}
	email := &fakeChannel{kind: ChannelEmail}
	svc, repo := newEngine(t, allSettings(7), inApp, email)

	res, err := svc.Send(context.Background(), SendInput{
		UserID:      7,
		TemplateKey: "approval-required",
		Data:        map[string]string{"operationType": "purchase_create"},
	})
	require.NoError(t, err)
	require.True(t, res.Delivered)
	require.Equal(t, ChannelInApp, res.Channel)
	require.Equal(t, 1, inApp.calls)
	require.Equal(t, 0, email.calls, "later channels must not be attempted after a success")

	stored, err := repo.Get(context.Background(), res.NotificationID)
	require.NoError(t, err)
	require.Equal(t, StatusSent, stored.Status)
	require.Equal(t, 1, stored.Attempts)
	require.NotNil(t, stored.SentAt)
}

func TestSendFallsThroughOnFailure(t *testing.T) {
	inApp := &fakeChannel{kind: ChannelInApp, fail: errors.New("store offline")}
	email := &fakeChannel{kind: ChannelEmail}
	svc, _ := newEngine(t, allSettings(7), inApp, email)

	res, err := svc.Send(context.Background(), SendInput{
		UserID:      7,
		TemplateKey: "approval-required",
	})
	require.NoError(t, err)
	require.True(t, res.Delivered)
	require.Equal(t, ChannelEmail, res.Channel)
	require.Len(t, res.Attempts, 2)
	require.False(t, res.Attempts[0].OK)
	require.Equal(t, "store offline", res.Attempts[0].Error)
	require.True(t, res.Attempts[1].OK)
}

func TestSendAllChannelsFailLeavesFailedRow(t *testing.T) {
	inApp := &fakeChannel{kind: ChannelInApp, fail: errors.New("down")}
	email := &fakeChannel{kind: ChannelEmail, fail: errors.New("bounce")}
	svc, repo := newEngine(t, allSettings(7), inApp, email)

	res, err := svc.Send(context.Background(), SendInput{UserID: 7, TemplateKey: "approval-required"})
	require.NoError(t, err, "delivery failure is data, not an error")
	require.False(t, res.Delivered)

	stored, err := repo.Get(context.Background(), res.NotificationID)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, stored.Status)
	require.Equal(t, "bounce", stored.LastError)
}

func TestSendCriticalNeverReachesSMSWhenInAppSucceeds(t *testing.T) {
	inApp := &fakeChannel{kind: ChannelInApp}
	sms := &fakeChannel{kind: ChannelSMS}
	svc, _ := newEngine(t, allSettings(7), inApp, sms)

	res, err := svc.Send(context.Background(), SendInput{
		UserID:      7,
		TemplateKey: "capital-low-balance",
		Data:        map[string]string{"balance": "900", "watermark": "10000"},
	})
	require.NoError(t, err)
	require.True(t, res.Delivered)
	require.Equal(t, ChannelInApp, res.Channel)
	require.Equal(t, 0, sms.calls)
}

func TestSendRendersTemplateData(t *testing.T) {
	inApp := &fakeChannel{kind: ChannelInApp}
	svc, repo := newEngine(t, allSettings(7), inApp)

	res, err := svc.Send(context.Background(), SendInput{
		UserID:      7,
		TemplateKey: "inventory-low-stock",
		Data:        map[string]string{"productName": "Arabica AA", "quantity": "12", "unit": "bags"},
	})
	require.NoError(t, err)

	stored, err := repo.Get(context.Background(), res.NotificationID)
	require.NoError(t, err)
	require.Equal(t, "Low stock: Arabica AA", stored.Title)
	require.Contains(t, stored.Body, "12 bags")
	require.Contains(t, stored.Body, "{{warehouseName}}", "missing tokens stay verbatim")
	require.Equal(t, PriorityHigh, stored.Priority)
}

func TestSendUnknownTemplate(t *testing.T) {
	svc, repo := newEngine(t, allSettings(7), &fakeChannel{kind: ChannelInApp})
	_, err := svc.Send(context.Background(), SendInput{UserID: 7, TemplateKey: "missing"})
	require.ErrorIs(t, err, ErrTemplateNotFound)
	require.Empty(t, repo.rows, "nothing persisted when the template is unknown")
}

func TestSendBulkIsolatesFailures(t *testing.T) {
	inApp := &fakeChannel{kind: ChannelInApp}
	repo := newMemoryNotifications()
	tpls := newMemoryTemplates()
	reg := NewRegistry(tpls, testLogger())
	require.NoError(t, reg.SeedDefaults(context.Background()))
	settings := &memorySettings{rows: map[int64]Settings{
		1: allSettings(1),
		2: allSettings(2),
		3: allSettings(3),
	}}
	svc := NewService(repo, settings, reg, nil, testLogger(), inApp)

	results := svc.SendBulk(context.Background(), []int64{1, 2, 3}, SendInput{TemplateKey: "system-alert",
		Data: map[string]string{"title": "Maintenance", "message": "Tonight 22:00"}})
	require.Len(t, results, 3)
	for _, r := range results {
		require.True(t, r.Delivered)
	}
	require.Equal(t, 3, inApp.calls)
}

func TestCreateBusinessAlertUsesExplicitChannels(t *testing.T) {
	inApp := &fakeChannel{kind: ChannelInApp, fail: errors.New("down")}
	email := &fakeChannel{kind: ChannelEmail}
	sms := &fakeChannel{kind: ChannelSMS}
	svc, _ := newEngine(t, allSettings(7), inApp, email, sms)

	results := svc.CreateBusinessAlert(context.Background(), []int64{7}, "capital-low-balance",
		map[string]string{"balance": "500", "watermark": "10000"})
	require.Len(t, results, 1)
	require.True(t, results[0].Delivered)
	require.Equal(t, ChannelEmail, results[0].Channel)
	require.Equal(t, 0, sms.calls, "explicit channel list excludes sms even for critical templates")
}

func TestBusinessAlertSkipsDisabledChannels(t *testing.T) {
	// The user only has in-app enabled. Even when in-app fails and the alert
	// declares email, delivery must not reach for a channel the user turned
	// off: settings stay authoritative.
	inApp := &fakeChannel{kind: ChannelInApp, fail: errors.New("down")}
	email := &fakeChannel{kind: ChannelEmail}
	svc, _ := newEngine(t, Settings{UserID: 7, InAppEnabled: true}, inApp, email)

	results := svc.CreateBusinessAlert(context.Background(), []int64{7}, "capital-low-balance",
		map[string]string{"balance": "500", "watermark": "10000"})
	require.Len(t, results, 1)
	require.False(t, results[0].Delivered)
	require.Len(t, results[0].Attempts, 1)
	require.Equal(t, 1, inApp.calls)
	require.Equal(t, 0, email.calls, "disabled channels must never be attempted")
}

func TestMissingEmailTemplateFailsOnlyEmailAttempt(t *testing.T) {
	// The key has an in-app variant but no email variant. The row still
	// persists and the email attempt records the template gap as its own
	// failure, with the transport never invoked.
	repo := newMemoryNotifications()
	tpls := newMemoryTemplates()
	require.NoError(t, tpls.Insert(context.Background(), Template{
		Key: "custom-event", Category: "system", Channel: ChannelInApp, Language: "en",
		Subject: "Event", Body: "Something happened", Priority: PriorityHigh, IsActive: true,
	}))
	inApp := &fakeChannel{kind: ChannelInApp, fail: errors.New("store offline")}
	email := &fakeChannel{kind: ChannelEmail}
	settings := &memorySettings{rows: map[int64]Settings{7: allSettings(7)}}
	svc := NewService(repo, settings, NewRegistry(tpls, testLogger()), nil, testLogger(), inApp, email)

	res, err := svc.Send(context.Background(), SendInput{UserID: 7, TemplateKey: "custom-event"})
	require.NoError(t, err)
	require.False(t, res.Delivered)
	require.Len(t, res.Attempts, 2)
	require.Equal(t, ChannelEmail, res.Attempts[1].Channel)
	require.Contains(t, res.Attempts[1].Error, "no email template")
	require.Equal(t, 0, email.calls, "transport must not run without a template")

	stored, err := repo.Get(context.Background(), res.NotificationID)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, stored.Status)
}

func TestSMSDeliveryUsesShortFormTemplate(t *testing.T) {
	inApp := &fakeChannel{kind: ChannelInApp, fail: errors.New("down")}
	sms := &fakeChannel{kind: ChannelSMS}
	svc, _ := newEngine(t, Settings{UserID: 7, InAppEnabled: true, SMSEnabled: true, PhoneNumber: "+251900000000"}, inApp, sms)

	res, err := svc.Send(context.Background(), SendInput{
		UserID:      7,
		TemplateKey: "capital-low-balance",
		Data:        map[string]string{"balance": "900", "watermark": "10000"},
	})
	require.NoError(t, err)
	require.True(t, res.Delivered)
	require.Equal(t, ChannelSMS, res.Channel)
	require.Equal(t, "Capital low: 900 (watermark 10000)", sms.lastContent.Body)
}

func TestEmailDeliveryGetsOwnSubject(t *testing.T) {
	inApp := &fakeChannel{kind: ChannelInApp, fail: errors.New("down")}
	email := &fakeChannel{kind: ChannelEmail}
	svc, _ := newEngine(t, allSettings(7), inApp, email)

	res, err := svc.Send(context.Background(), SendInput{
		UserID:      7,
		TemplateKey: "approval-required",
		Data:        map[string]string{"operationType": "purchase_create"},
	})
	require.NoError(t, err)
	require.True(t, res.Delivered)
	require.NotEmpty(t, email.lastContent.Subject)
	require.NotEmpty(t, email.lastContent.Body)
}

func TestSendStoresActionURL(t *testing.T) {
	inApp := &fakeChannel{kind: ChannelInApp}
	svc, repo := newEngine(t, allSettings(7), inApp)

	res, err := svc.Send(context.Background(), SendInput{
		UserID:      7,
		TemplateKey: "approval-required",
		ActionURL:   "/approvals/abc-123",
	})
	require.NoError(t, err)

	stored, err := repo.Get(context.Background(), res.NotificationID)
	require.NoError(t, err)
	require.Equal(t, "/approvals/abc-123", stored.ActionURL)
}

func TestRetryEligibleBackoff(t *testing.T) {
	base := time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		attempts int
		elapsed  time.Duration
		want     bool
	}{
		{0, 0, true},
		{1, 30 * time.Minute, false},
		{1, time.Hour, true},
		{2, 3 * time.Hour, false},
		{2, 5 * time.Hour, true},
		{3, 8 * time.Hour, false},
		{3, 9 * time.Hour, true},
	}
	for _, tc := range cases {
		got := RetryEligible(tc.attempts, base, base.Add(tc.elapsed))
		require.Equal(t, tc.want, got, "attempts=%d elapsed=%s", tc.attempts, tc.elapsed)
	}
}
