package pipeline_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"changegate/internal/domain"
	"changegate/internal/pipeline"
	sourcemem "changegate/internal/source/memory"
	"changegate/pkg/testutil"
)

type countingRunner struct {
	mu   sync.Mutex
	runs [][]domain.ChangeRecord
}

func (r *countingRunner) Run(_ context.Context, population []domain.ChangeRecord) ([]domain.Verdict, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, population)
	return nil, nil
}

func (r *countingRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSchedulerRevalidatesPeriodically(t *testing.T) {
	adapter := sourcemem.New("snap-1")
	adapter.SeedDashboard(testutil.ChangeRecordFor("CHG-1"))
	adapter.SeedDashboard(testutil.ChangeRecordFor("CHG-2"))
	runner := &countingRunner{}

	sched, err := pipeline.NewScheduler(runner, adapter, 5*time.Millisecond, discardLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sched.Run(ctx) }()

	require.Eventually(t, func() bool { return runner.count() >= 2 },
		2*time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	runner.mu.Lock()
	defer runner.mu.Unlock()
	require.Len(t, runner.runs[0], 2)
	assert.Equal(t, domain.ChangeID("CHG-1"), runner.runs[0][0].ID)
	assert.Equal(t, domain.ChangeID("CHG-2"), runner.runs[0][1].ID)
}

func TestSchedulerSkipsEmptyPopulation(t *testing.T) {
	adapter := sourcemem.New("snap-1")
	runner := &countingRunner{}

	sched, err := pipeline.NewScheduler(runner, adapter, time.Millisecond, discardLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, sched.Run(ctx), context.DeadlineExceeded)
	assert.Zero(t, runner.count())
}

func TestSchedulerStatusTracksRuns(t *testing.T) {
	adapter := sourcemem.New("snap-1")
	adapter.SeedDashboard(testutil.ChangeRecordFor("CHG-1"))
	runner := &countingRunner{}

	sched, err := pipeline.NewScheduler(runner, adapter, 5*time.Millisecond, discardLogger())
	require.NoError(t, err)
	assert.True(t, sched.Status().LastRun.IsZero())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sched.Run(ctx) }()

	require.Eventually(t, func() bool { return runner.count() >= 1 },
		2*time.Second, time.Millisecond)
	cancel()
	<-done

	status := sched.Status()
	assert.Equal(t, 5*time.Millisecond, status.Interval)
	assert.False(t, status.LastRun.IsZero())
	assert.False(t, status.NextRun.IsZero())
}

func TestSchedulerRejectsNonPositiveInterval(t *testing.T) {
	_, err := pipeline.NewScheduler(&countingRunner{}, sourcemem.New("snap-1"), 0, discardLogger())
	require.Error(t, err)
}
