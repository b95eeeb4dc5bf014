package jobs

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/workflu/workflu/internal/notify"
)

// DigestJob aggregates each user's recent unread traffic into one summary
// notification. Digests go in-app only; they must never trigger email or
// SMS themselves.
type DigestJob struct {
	Repo     notify.Repository
	Delivery *notify.Service
	Logger   *slog.Logger
	Window   time.Duration
	clock    func() time.Time
}

// NewDigestJob constructs the daily-digest handler.
func NewDigestJob(repo notify.Repository, delivery *notify.Service, logger *slog.Logger, window time.Duration) *DigestJob {
	if window <= 0 {
		window = 24 * time.Hour
	}
	return &DigestJob{Repo: repo, Delivery: delivery, Logger: logger, Window: window, clock: time.Now}
}

// Run sends one digest per user with unread notifications in the window.
func (j *DigestJob) Run(ctx context.Context) error {
	since := j.now().Add(-j.Window)
	rows, err := j.Repo.DigestRows(ctx, since)
	if err != nil {
		return err
	}
	var sent int
	for _, row := range rows {
		if row.UnreadCount == 0 {
			continue
		}
		if _, err := j.Delivery.Send(ctx, notify.SendInput{
			UserID:      row.UserID,
			TemplateKey: "daily-digest",
			Data: map[string]string{
				"unreadCount":      strconv.Itoa(row.UnreadCount),
				"pendingApprovals": "0",
			},
			Channels: []notify.ChannelKind{notify.ChannelInApp},
		}); err != nil {
			j.Logger.Warn("digest send", slog.Int64("user", row.UserID), slog.Any("error", err))
			continue
		}
		sent++
	}
	j.Logger.Info("digest complete", slog.Int("users", len(rows)), slog.Int("sent", sent))
	return nil
}

func (j *DigestJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now()
}
