package jobs

import (
	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"

	TaskCriticalMonitoring  = "monitor:critical"
	TaskHourlyMonitoring    = "monitor:hourly"
	TaskDailyMonitoring     = "monitor:daily"
	TaskWeeklyMonitoring    = "monitor:weekly"
	TaskMonthlyMonitoring   = "monitor:monthly"
	TaskQueueProcessing     = "notify:queue_processing"
	TaskDailyDigest         = "notify:daily_digest"
	TaskFailedRetry         = "notify:failed_retry"
	TaskNotificationCleanup = "notify:cleanup"
	TaskHealthCheck         = "ops:health_check"
	TaskPerformanceMonitor  = "ops:performance"
)

// CronSpecs maps every scheduled task to its cadence. The scheduler registers
// each entry; the registry keeps the same names for toggling and
// introspection.
var CronSpecs = map[string]string{
	TaskCriticalMonitoring:  "*/15 * * * *",
	TaskHourlyMonitoring:    "0 * * * *",
	TaskDailyMonitoring:     "0 6 * * *",
	TaskWeeklyMonitoring:    "0 7 * * 1",
	TaskMonthlyMonitoring:   "0 8 1 * *",
	TaskQueueProcessing:     "*/5 * * * *",
	TaskDailyDigest:         "0 9 * * *",
	TaskFailedRetry:         "30 * * * *",
	TaskNotificationCleanup: "0 3 * * *",
	TaskHealthCheck:         "0 */6 * * *",
	TaskPerformanceMonitor:  "0 4 * * *",
}

// NewTask builds an empty-payload task for the given type. All scheduled
// tasks here are parameterless; state lives in the database.
func NewTask(taskType string) *asynq.Task {
	return asynq.NewTask(taskType, nil)
}
