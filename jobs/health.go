package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/workflu/workflu/internal/notify"
)

// HealthJob aggregates delivery health and raises an internal alert to the
// admin group when the failed backlog crosses the configured threshold.
type HealthJob struct {
	Delivery  *notify.Service
	Logger    *slog.Logger
	AdminIDs  []int64
	Threshold int
}

// NewHealthJob constructs the health-check handler.
func NewHealthJob(delivery *notify.Service, logger *slog.Logger, adminIDs []int64, threshold int) *HealthJob {
	if threshold <= 0 {
		threshold = 10
	}
	return &HealthJob{Delivery: delivery, Logger: logger, AdminIDs: adminIDs, Threshold: threshold}
}

// Run checks the failed backlog.
func (j *HealthJob) Run(ctx context.Context) error {
	stats, err := j.Delivery.Stats(ctx)
	if err != nil {
		return fmt.Errorf("jobs: delivery stats: %w", err)
	}
	j.Logger.Info("health check",
		slog.Int64("pending", stats.Pending),
		slog.Int64("failed", stats.Failed))
	if stats.Failed >= int64(j.Threshold) {
		j.Delivery.CreateBusinessAlert(ctx, j.AdminIDs, "system-alert", map[string]string{
			"title":   "Notification backlog unhealthy",
			"message": fmt.Sprintf("%d notifications are in failed state (threshold %d).", stats.Failed, j.Threshold),
		})
	}
	return nil
}

// RunPerformance computes the delivery success rate for observability.
func (j *HealthJob) RunPerformance(ctx context.Context) error {
	stats, err := j.Delivery.Stats(ctx)
	if err != nil {
		return fmt.Errorf("jobs: delivery stats: %w", err)
	}
	attempted := stats.Sent + stats.Failed + stats.Read
	rate := 1.0
	if attempted > 0 {
		rate = float64(stats.Sent+stats.Read) / float64(attempted)
	}
	j.Logger.Info("delivery performance",
		slog.Float64("success_rate", rate),
		slog.Int64("attempted", attempted),
		slog.Int64("pending", stats.Pending))
	return nil
}
