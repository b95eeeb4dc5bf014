package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/workflu/workflu/internal/jobs"
	"github.com/workflu/workflu/internal/shared"
)

// JobFunc is the body of one scheduled job run.
type JobFunc func(ctx context.Context) error

// job is one named scheduled task with its bookkeeping.
type job struct {
	name    string
	spec    string
	fn      JobFunc
	enabled bool
	running bool
	lastRun time.Time
	lastErr string
}

// JobStatus is the introspection view of one registered job.
type JobStatus struct {
	Name    string    `json:"name"`
	Spec    string    `json:"spec"`
	Enabled bool      `json:"enabled"`
	Running bool      `json:"running"`
	LastRun time.Time `json:"lastRun,omitzero"`
	LastErr string    `json:"lastError,omitempty"`
}

// Registry holds every scheduled job as a first-class record. Each run is
// wrapped: panics and errors are contained, the job is marked failed for
// that run only, and overlapping runs of the same job are skipped.
type Registry struct {
	mu      sync.Mutex
	jobs    map[string]*job
	order   []string
	logger  *slog.Logger
	audit   shared.Auditor
	metrics *jobmetrics.Metrics
	now     func() time.Time
}

// NewRegistry constructs an empty Registry.
func NewRegistry(logger *slog.Logger, audit shared.Auditor, metrics *jobmetrics.Metrics) *Registry {
	return &Registry{
		jobs:    map[string]*job{},
		logger:  logger,
		audit:   audit,
		metrics: metrics,
		now:     time.Now,
	}
}

// Register adds a job under its task type name with the cadence from
// CronSpecs. Jobs start enabled.
func (r *Registry) Register(name string, fn JobFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[name]; ok {
		return
	}
	r.jobs[name] = &job{name: name, spec: CronSpecs[name], fn: fn, enabled: true}
	r.order = append(r.order, name)
}

// Lookup reports whether a job is registered and returns its status.
func (r *Registry) Lookup(name string) (JobStatus, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[name]
	if !ok {
		return JobStatus{}, false
	}
	return JobStatus{
		Name:    j.name,
		Spec:    j.spec,
		Enabled: j.enabled,
		Running: j.running,
		LastRun: j.lastRun,
		LastErr: j.lastErr,
	}, true
}

// Toggle enables or disables future runs of a job. A run already in flight
// is not interrupted.
func (r *Registry) Toggle(name string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[name]
	if !ok {
		return fmt.Errorf("jobs: unknown job %q", name)
	}
	j.enabled = enabled
	return nil
}

// Snapshot lists every registered job in registration order.
func (r *Registry) Snapshot() []JobStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]JobStatus, 0, len(r.order))
	for _, name := range r.order {
		j := r.jobs[name]
		out = append(out, JobStatus{
			Name:    j.name,
			Spec:    j.spec,
			Enabled: j.enabled,
			Running: j.running,
			LastRun: j.lastRun,
			LastErr: j.lastErr,
		})
	}
	return out
}

// Run executes the named job once, honoring the enabled flag and the
// re-entrancy guard. The returned error is nil for skipped runs.
func (r *Registry) Run(ctx context.Context, name string) error {
	r.mu.Lock()
	j, ok := r.jobs[name]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("jobs: unknown job %q", name)
	}
	if !j.enabled {
		r.mu.Unlock()
		r.logger.Debug("job disabled, skipping", slog.String("job", name))
		return nil
	}
	if j.running {
		r.mu.Unlock()
		r.logger.Warn("job still running, skipping overlapping run", slog.String("job", name))
		return nil
	}
	j.running = true
	j.lastRun = r.now()
	fn := j.fn
	r.mu.Unlock()

	tracker := r.metrics.Track(name)
	var runErr error
	func() {
		defer func() {
			if p := recover(); p != nil {
				runErr = fmt.Errorf("jobs: %s panicked: %v", name, p)
			}
		}()
		runErr = fn(ctx)
	}()
	_ = tracker.End(runErr)

	r.mu.Lock()
	j.running = false
	if runErr != nil {
		j.lastErr = runErr.Error()
	} else {
		j.lastErr = ""
	}
	r.mu.Unlock()

	if runErr != nil {
		r.logger.Error("job failed", slog.String("job", name), slog.Any("error", runErr))
		r.recordFailure(ctx, name, runErr)
	} else {
		r.logger.Info("job completed", slog.String("job", name))
	}
	// Errors are contained here: the scheduler process must keep running
	// and asynq must not retry business jobs that will re-fire on cron.
	return nil
}

func (r *Registry) recordFailure(ctx context.Context, name string, err error) {
	if r.audit == nil {
		return
	}
	if auditErr := r.audit.Record(ctx, shared.AuditEntry{
		Source:      "jobs",
		Severity:    shared.SeverityWarning,
		EntityType:  "scheduled_job",
		EntityID:    name,
		Action:      "job_failed",
		Description: err.Error(),
	}); auditErr != nil {
		r.logger.Warn("audit job failure", slog.Any("error", auditErr))
	}
}

// Handler adapts a registered job to an asynq handler.
func (r *Registry) Handler(name string) asynq.HandlerFunc {
	return func(ctx context.Context, _ *asynq.Task) error {
		return r.Run(ctx, name)
	}
}

// Handlers returns an asynq handler per registered job.
func (r *Registry) Handlers() []TaskHandler {
	r.mu.Lock()
	names := make([]string, len(r.order))
	copy(names, r.order)
	r.mu.Unlock()
	out := make([]TaskHandler, 0, len(names))
	for _, name := range names {
		out = append(out, TaskHandler{Type: name, Handler: r.Handler(name)})
	}
	return out
}

// CronEntries returns scheduler registrations for every job that carries a
// cron spec, sorted by name for deterministic registration.
func (r *Registry) CronEntries() []CronRegistration {
	r.mu.Lock()
	names := make([]string, len(r.order))
	copy(names, r.order)
	r.mu.Unlock()
	sort.Strings(names)
	out := make([]CronRegistration, 0, len(names))
	for _, name := range names {
		spec := CronSpecs[name]
		if spec == "" {
			continue
		}
		out = append(out, CronRegistration{Spec: spec, Task: NewTask(name)})
	}
	return out
}
