package jobs

// RegisterAll binds every scheduled job to the registry under its task type.
func RegisterAll(reg *Registry, drain *QueueDrainJob, retry *RetryJob, digest *DigestJob, cleanup *CleanupJob, monitor *MonitoringJob, health *HealthJob) {
	reg.Register(TaskQueueProcessing, drain.Run)
	reg.Register(TaskFailedRetry, retry.Run)
	reg.Register(TaskDailyDigest, digest.Run)
	reg.Register(TaskNotificationCleanup, cleanup.Run)
	reg.Register(TaskCriticalMonitoring, monitor.RunCritical)
	reg.Register(TaskHourlyMonitoring, monitor.RunHourly)
	reg.Register(TaskDailyMonitoring, monitor.RunDaily)
	reg.Register(TaskWeeklyMonitoring, monitor.RunWeekly)
	reg.Register(TaskMonthlyMonitoring, monitor.RunMonthly)
	reg.Register(TaskHealthCheck, health.Run)
	reg.Register(TaskPerformanceMonitor, health.RunPerformance)
}
