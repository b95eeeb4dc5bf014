package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/workflu/workflu/internal/jobs"
)

func testRegistry() *Registry {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := jobmetrics.NewMetrics(prometheus.NewRegistry())
	return NewRegistry(logger, nil, metrics)
}

func TestRegistryRunsEnabledJob(t *testing.T) {
	reg := testRegistry()
	var runs int
	reg.Register("test:job", func(context.Context) error {
		runs++
		return nil
	})

	require.NoError(t, reg.Run(context.Background(), "test:job"))
	require.Equal(t, 1, runs)

	snap := reg.Snapshot()
	require.Len(t, snap, 1)
	require.True(t, snap[0].Enabled)
	require.False(t, snap[0].Running)
	require.False(t, snap[0].LastRun.IsZero())
	require.Empty(t, snap[0].LastErr)
}

func TestRegistrySkipsDisabledJob(t *testing.T) {
	reg := testRegistry()
	var runs int
	reg.Register("test:job", func(context.Context) error {
		runs++
		return nil
	})
	require.NoError(t, reg.Toggle("test:job", false))

	require.NoError(t, reg.Run(context.Background(), "test:job"))
	require.Equal(t, 0, runs)

	require.NoError(t, reg.Toggle("test:job", true))
	require.NoError(t, reg.Run(context.Background(), "test:job"))
	require.Equal(t, 1, runs)
}

func TestRegistryContainsJobError(t *testing.T) {
	reg := testRegistry()
	reg.Register("test:failing", func(context.Context) error {
		return errors.New("db unavailable")
	})

	// The wrapper must swallow the error so asynq does not retry a cron job.
	require.NoError(t, reg.Run(context.Background(), "test:failing"))
	snap := reg.Snapshot()
	require.Equal(t, "db unavailable", snap[0].LastErr)

	// A later success clears the recorded error.
	reg.jobs["test:failing"].fn = func(context.Context) error { return nil }
	require.NoError(t, reg.Run(context.Background(), "test:failing"))
	require.Empty(t, reg.Snapshot()[0].LastErr)
}

func TestRegistryContainsPanic(t *testing.T) {
	reg := testRegistry()
	reg.Register("test:panicking", func(context.Context) error {
		panic("boom")
	})

	require.NoError(t, reg.Run(context.Background(), "test:panicking"))
	require.Contains(t, reg.Snapshot()[0].LastErr, "boom")
}

func TestRegistryReentrancyGuard(t *testing.T) {
	reg := testRegistry()
	started := make(chan struct{})
	release := make(chan struct{})
	var runs int
	var mu sync.Mutex
	reg.Register("test:slow", func(context.Context) error {
		mu.Lock()
		runs++
		mu.Unlock()
		close(started)
		<-release
		return nil
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = reg.Run(context.Background(), "test:slow")
	}()
	<-started

	// Overlapping run must be skipped, not queued.
	require.NoError(t, reg.Run(context.Background(), "test:slow"))
	mu.Lock()
	require.Equal(t, 1, runs)
	mu.Unlock()

	close(release)
	wg.Wait()

	require.NoError(t, reg.Run(context.Background(), "test:slow"))
}

func TestRegistryUnknownJob(t *testing.T) {
	reg := testRegistry()
	require.Error(t, reg.Run(context.Background(), "test:missing"))
	require.Error(t, reg.Toggle("test:missing", true))
}

func TestCronEntriesCoverEveryScheduledTask(t *testing.T) {
	reg := testRegistry()
	noop := func(context.Context) error { return nil }
	for name := range CronSpecs {
		reg.Register(name, noop)
	}

	entries := reg.CronEntries()
	require.Len(t, entries, len(CronSpecs))
	seen := map[string]bool{}
	for _, e := range entries {
		require.NotEmpty(t, e.Spec)
		require.NotNil(t, e.Task)
		seen[e.Task.Type()] = true
	}
	for name := range CronSpecs {
		require.True(t, seen[name], "missing cron entry for %s", name)
	}
}

func TestHandlersAdaptRegistryJobs(t *testing.T) {
	reg := testRegistry()
	var runs int
	reg.Register("test:job", func(context.Context) error {
		runs++
		return nil
	})

	handlers := reg.Handlers()
	require.Len(t, handlers, 1)
	require.Equal(t, "test:job", handlers[0].Type)
	require.NoError(t, handlers[0].Handler(context.Background(), NewTask("test:job")))
	require.Equal(t, 1, runs)
}

func TestRegistrySnapshotOrderIsStable(t *testing.T) {
	reg := testRegistry()
	noop := func(context.Context) error { return nil }
	reg.Register("b:second", noop)
	reg.Register("a:first", noop)

	snap := reg.Snapshot()
	require.Equal(t, "b:second", snap[0].Name)
	require.Equal(t, "a:first", snap[1].Name)
	require.True(t, snap[0].LastRun.Equal(time.Time{}))
}
