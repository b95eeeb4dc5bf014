package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/workflu/workflu/internal/approvals"
	"github.com/workflu/workflu/internal/capital"
	"github.com/workflu/workflu/internal/notify"
)

// MonitoringJob runs the business-rule checks behind the five monitoring
// cadences. Each cadence is registered as its own job so it can be toggled
// independently; they share this struct for their dependencies.
type MonitoringJob struct {
	Capital   *capital.Service
	Approvals *approvals.Service
	Delivery  *notify.Service
	Logger    *slog.Logger

	AdminIDs     []int64
	LowWatermark float64
}

// NewMonitoringJob constructs the monitoring handlers.
func NewMonitoringJob(cap *capital.Service, apr *approvals.Service, delivery *notify.Service, logger *slog.Logger, adminIDs []int64, watermark float64) *MonitoringJob {
	return &MonitoringJob{
		Capital:      cap,
		Approvals:    apr,
		Delivery:     delivery,
		Logger:       logger,
		AdminIDs:     adminIDs,
		LowWatermark: watermark,
	}
}

// RunCritical checks the rules that may emit high-priority alerts: the
// working-capital watermark.
func (j *MonitoringJob) RunCritical(ctx context.Context) error {
	balance, err := j.Capital.Balance(ctx)
	if err != nil {
		return fmt.Errorf("jobs: read capital balance: %w", err)
	}
	if balance < j.LowWatermark {
		j.Logger.Warn("working capital below watermark",
			slog.Float64("balance", balance),
			slog.Float64("watermark", j.LowWatermark))
		j.Delivery.CreateBusinessAlert(ctx, j.AdminIDs, "capital-low-balance", map[string]string{
			"balance":   fmt.Sprintf("%.2f", balance),
			"watermark": fmt.Sprintf("%.2f", j.LowWatermark),
		})
	}
	return nil
}

// RunHourly escalates approvals past their decision window.
func (j *MonitoringJob) RunHourly(ctx context.Context) error {
	escalated, err := j.Approvals.EscalateOverdue(ctx)
	if err != nil {
		return fmt.Errorf("jobs: escalate approvals: %w", err)
	}
	if escalated > 0 {
		j.Logger.Warn("approvals escalated", slog.Int("count", escalated))
	}
	return nil
}

// RunDaily runs the comprehensive pass: the critical and hourly checks plus
// a snapshot of open approvals.
func (j *MonitoringJob) RunDaily(ctx context.Context) error {
	if err := j.RunCritical(ctx); err != nil {
		return err
	}
	if err := j.RunHourly(ctx); err != nil {
		return err
	}
	open, err := j.Approvals.ListOpen(ctx, 100)
	if err != nil {
		return fmt.Errorf("jobs: list open approvals: %w", err)
	}
	j.Logger.Info("daily monitoring snapshot", slog.Int("open_approvals", len(open)))
	return nil
}

// RunWeekly reports the week's delivery outcome to the admin group.
func (j *MonitoringJob) RunWeekly(ctx context.Context) error {
	stats, err := j.Delivery.Stats(ctx)
	if err != nil {
		return fmt.Errorf("jobs: delivery stats: %w", err)
	}
	j.Logger.Info("weekly monitoring",
		slog.Int64("sent", stats.Sent),
		slog.Int64("failed", stats.Failed),
		slog.Int64("pending", stats.Pending))
	return nil
}

// RunMonthly reviews pending approvals for the compliance trail and alerts
// when anything is still waiting at month boundary.
func (j *MonitoringJob) RunMonthly(ctx context.Context) error {
	open, err := j.Approvals.ListOpen(ctx, 100)
	if err != nil {
		return fmt.Errorf("jobs: list open approvals: %w", err)
	}
	if len(open) > 0 {
		j.Delivery.CreateBusinessAlert(ctx, j.AdminIDs, "system-alert", map[string]string{
			"title":   "Monthly compliance review",
			"message": fmt.Sprintf("%d approvals are still awaiting a decision.", len(open)),
		})
	}
	j.Logger.Info("monthly monitoring complete", slog.Int("open_approvals", len(open)))
	return nil
}
