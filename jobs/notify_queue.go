package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/workflu/workflu/internal/notify"
)

// QueueDrainJob pushes pending notifications through the delivery engine in
// bounded batches. Failed rows are left for the retry job, which honors the
// backoff window.
type QueueDrainJob struct {
	Repo      notify.Repository
	Delivery  *notify.Service
	Logger    *slog.Logger
	BatchSize int
}

// NewQueueDrainJob constructs the queue-processing handler.
func NewQueueDrainJob(repo notify.Repository, delivery *notify.Service, logger *slog.Logger, batchSize int) *QueueDrainJob {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &QueueDrainJob{Repo: repo, Delivery: delivery, Logger: logger, BatchSize: batchSize}
}

// Run drains one batch.
func (j *QueueDrainJob) Run(ctx context.Context) error {
	batch, err := j.Repo.UndeliveredBatch(ctx, j.BatchSize)
	if err != nil {
		return err
	}
	var delivered, skipped int
	for _, n := range batch {
		if n.Status != notify.StatusPending {
			skipped++
			continue
		}
		res, err := j.Delivery.Deliver(ctx, n)
		if err != nil {
			j.Logger.Warn("queue drain delivery", slog.String("notification", n.ID.String()), slog.Any("error", err))
			continue
		}
		if res.Delivered {
			delivered++
		}
	}
	j.Logger.Info("queue drain complete",
		slog.Int("batch", len(batch)),
		slog.Int("delivered", delivered),
		slog.Int("skipped", skipped))
	return nil
}

// RetryJob re-attempts failed notifications whose quadratic backoff window
// has elapsed.
type RetryJob struct {
	Repo      notify.Repository
	Delivery  *notify.Service
	Logger    *slog.Logger
	BatchSize int
	clock     func() time.Time
}

// NewRetryJob constructs the failed-notification-retry handler.
func NewRetryJob(repo notify.Repository, delivery *notify.Service, logger *slog.Logger, batchSize int) *RetryJob {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &RetryJob{Repo: repo, Delivery: delivery, Logger: logger, BatchSize: batchSize, clock: time.Now}
}

// Run retries eligible failed rows.
func (j *RetryJob) Run(ctx context.Context) error {
	batch, err := j.Repo.UndeliveredBatch(ctx, j.BatchSize)
	if err != nil {
		return err
	}
	now := j.now()
	var retried, deferred int
	for _, n := range batch {
		if n.Status != notify.StatusFailed {
			continue
		}
		if n.LastAttemptAt == nil || !notify.RetryEligible(n.Attempts, *n.LastAttemptAt, now) {
			deferred++
			continue
		}
		if _, err := j.Delivery.Deliver(ctx, n); err != nil {
			j.Logger.Warn("retry delivery", slog.String("notification", n.ID.String()), slog.Any("error", err))
			continue
		}
		retried++
	}
	j.Logger.Info("retry pass complete", slog.Int("retried", retried), slog.Int("deferred", deferred))
	return nil
}

func (j *RetryJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now()
}
