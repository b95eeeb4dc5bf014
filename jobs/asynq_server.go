package jobs

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"

	"github.com/workflu/workflu/internal/platform/httpx"
	"github.com/workflu/workflu/internal/shared"
)

// Worker wraps the Asynq server and optional scheduler.
type Worker struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	scheduler *asynq.Scheduler
	logger    *slog.Logger
}

// TaskHandler allows injecting custom Asynq handlers during worker setup.
type TaskHandler struct {
	Type    string
	Handler asynq.HandlerFunc
}

// CronRegistration wires a cron expression to a prepared task.
type CronRegistration struct {
	Spec    string
	Task    *asynq.Task
	Options []asynq.Option
}

// WorkerConfig collects dependencies required to bootstrap the worker.
type WorkerConfig struct {
	RedisOpts asynq.RedisClientOpt
	Logger    *slog.Logger
	Handlers  []TaskHandler
	Cron      []CronRegistration
}

// NewWorker constructs a Worker instance.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	srv := asynq.NewServer(cfg.RedisOpts, asynq.Config{
		Concurrency: 5,
		Queues: map[string]int{
			QueueDefault: 1,
		},
	})
	mux := asynq.NewServeMux()
	for _, h := range cfg.Handlers {
		if h.Type == "" || h.Handler == nil {
			continue
		}
		mux.HandleFunc(h.Type, h.Handler)
	}

	var scheduler *asynq.Scheduler
	if len(cfg.Cron) > 0 {
		scheduler = asynq.NewScheduler(cfg.RedisOpts, &asynq.SchedulerOpts{Location: time.UTC})
		for _, entry := range cfg.Cron {
			if entry.Spec == "" || entry.Task == nil {
				continue
			}
			if _, err := scheduler.Register(entry.Spec, entry.Task, entry.Options...); err != nil {
				return nil, err
			}
		}
	}

	return &Worker{server: srv, mux: mux, scheduler: scheduler, logger: cfg.Logger}, nil
}

// Run starts processing jobs until context cancellation.
func (w *Worker) Run(ctx context.Context) error {
	if w == nil {
		return errors.New("worker: not configured")
	}
	if w.scheduler != nil {
		if err := w.scheduler.Start(); err != nil {
			return err
		}
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- w.server.Run(w.mux)
	}()
	select {
	case <-ctx.Done():
		if w.scheduler != nil {
			w.scheduler.Shutdown()
		}
		w.server.Shutdown()
		return ctx.Err()
	case err := <-errCh:
		if w.scheduler != nil {
			w.scheduler.Shutdown()
		}
		return err
	}
}

// Client submits jobs to the queue.
type Client struct {
	client *asynq.Client
}

// NewClient constructs an Asynq client.
func NewClient(redisOpts asynq.RedisClientOpt) (*Client, error) {
	client := asynq.NewClient(redisOpts)
	return &Client{client: client}, nil
}

// Enqueue submits the named task for immediate processing, outside its cron
// cadence.
func (c *Client) Enqueue(ctx context.Context, taskType string) (*asynq.TaskInfo, error) {
	return c.client.EnqueueContext(ctx, NewTask(taskType), asynq.Queue(QueueDefault))
}

// Close releases client resources.
func (c *Client) Close() error {
	return c.client.Close()
}

// Handler exposes HTTP endpoints for job introspection and control.
type Handler struct {
	registry  *Registry
	inspector *asynq.Inspector
	client    *Client
	logger    *slog.Logger
}

// NewHandler constructs an HTTP handler for jobs endpoints.
func NewHandler(registry *Registry, inspector *asynq.Inspector, client *Client, logger *slog.Logger) *Handler {
	return &Handler{registry: registry, inspector: inspector, client: client, logger: logger}
}

// MountRoutes attaches job routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/{name}/toggle", h.toggle)
	r.Post("/{name}/run", h.run)
	r.Get("/health", h.health)
}

type jobListItem struct {
	JobStatus
	NextRun *time.Time `json:"nextRun,omitempty"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	actor := shared.ActorFromContext(r.Context())
	if actor == nil || !actor.IsAdmin() {
		httpx.Error(w, http.StatusForbidden, "admin role required", httpx.CodeForbidden)
		return
	}
	next := h.nextRuns()
	statuses := h.registry.Snapshot()
	items := make([]jobListItem, 0, len(statuses))
	for _, s := range statuses {
		item := jobListItem{JobStatus: s}
		if t, ok := next[s.Name]; ok {
			item.NextRun = &t
		}
		items = append(items, item)
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"jobs": items})
}

// nextRuns reads scheduler entries when an inspector is wired; a worker
// without scheduler visibility simply omits next-run times.
func (h *Handler) nextRuns() map[string]time.Time {
	out := map[string]time.Time{}
	if h.inspector == nil {
		return out
	}
	entries, err := h.inspector.SchedulerEntries()
	if err != nil {
		h.logger.Warn("read scheduler entries", slog.Any("error", err))
		return out
	}
	for _, e := range entries {
		if e.Task != nil {
			out[e.Task.Type()] = e.Next
		}
	}
	return out
}

type toggleRequest struct {
	Enabled bool `json:"enabled"`
}

func (h *Handler) toggle(w http.ResponseWriter, r *http.Request) {
	actor := shared.ActorFromContext(r.Context())
	if actor == nil || !actor.IsAdmin() {
		httpx.Error(w, http.StatusForbidden, "admin role required", httpx.CodeForbidden)
		return
	}
	var req toggleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid request body", httpx.CodeValidation)
		return
	}
	name := chi.URLParam(r, "name")
	if err := h.registry.Toggle(name, req.Enabled); err != nil {
		httpx.Error(w, http.StatusNotFound, err.Error(), httpx.CodeNotFound)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"name": name, "enabled": req.Enabled})
}

// run enqueues a job for immediate execution outside its cron cadence. The
// worker still applies the enabled flag and overlap guard.
func (h *Handler) run(w http.ResponseWriter, r *http.Request) {
	actor := shared.ActorFromContext(r.Context())
	if actor == nil || !actor.IsAdmin() {
		httpx.Error(w, http.StatusForbidden, "admin role required", httpx.CodeForbidden)
		return
	}
	if h.client == nil {
		httpx.Error(w, http.StatusServiceUnavailable, "job queue unavailable", httpx.CodeInternal)
		return
	}
	name := chi.URLParam(r, "name")
	if _, ok := h.registry.Lookup(name); !ok {
		httpx.Error(w, http.StatusNotFound, "unknown job", httpx.CodeNotFound)
		return
	}
	info, err := h.client.Enqueue(r.Context(), name)
	if err != nil {
		h.logger.Error("enqueue job", slog.String("job", name), slog.Any("error", err))
		httpx.Error(w, http.StatusInternalServerError, "enqueue failed", httpx.CodeInternal)
		return
	}
	httpx.JSON(w, http.StatusAccepted, map[string]string{"name": name, "taskId": info.ID})
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if h.inspector == nil {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"queue":"default","pending":0}`))
		return
	}
	info, err := h.inspector.GetQueueInfo(QueueDefault)
	if err != nil {
		h.logger.Warn("jobs health", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	pending := 0
	queueName := QueueDefault
	if info != nil {
		pending = int(info.Pending)
		queueName = info.Queue
	}
	_, _ = w.Write([]byte(`{"queue":"` + queueName + `","pending":` + strconv.Itoa(pending) + `}`))
}
