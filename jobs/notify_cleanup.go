package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/workflu/workflu/internal/notify"
)

// CleanupJob enforces the two retention windows: read/dismissed rows are
// dropped after the active window, everything else after the history window.
type CleanupJob struct {
	Repo             notify.Repository
	Logger           *slog.Logger
	ActiveRetention  time.Duration
	HistoryRetention time.Duration
	clock            func() time.Time
}

// NewCleanupJob constructs the notification-cleanup handler.
func NewCleanupJob(repo notify.Repository, logger *slog.Logger, active, history time.Duration) *CleanupJob {
	if active <= 0 {
		active = 90 * 24 * time.Hour
	}
	if history <= 0 {
		history = 365 * 24 * time.Hour
	}
	return &CleanupJob{Repo: repo, Logger: logger, ActiveRetention: active, HistoryRetention: history, clock: time.Now}
}

// Run deletes rows past retention.
func (j *CleanupJob) Run(ctx context.Context) error {
	now := j.now()

	settled, err := j.Repo.DeleteSettledBefore(ctx, now.Add(-j.ActiveRetention))
	if err != nil {
		return err
	}
	expired, err := j.Repo.DeleteAllBefore(ctx, now.Add(-j.HistoryRetention))
	if err != nil {
		return err
	}

	j.Logger.Info("notification cleanup complete",
		slog.Int64("settled_deleted", settled),
		slog.Int64("history_deleted", expired))
	return nil
}

func (j *CleanupJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now()
}
