package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"changegate/internal/domain"
)

// Runner is the engine surface the scheduler drives.
type Runner interface {
	Run(ctx context.Context, population []domain.ChangeRecord) ([]domain.Verdict, error)
}

// PopulationLister enumerates the dashboard population backing a snapshot.
// Adapters that cannot enumerate their population simply do not implement it.
type PopulationLister interface {
	Population(ctx context.Context) ([]domain.ChangeRecord, error)
}

// Scheduler re-validates the full dashboard population at a fixed interval.
// A run failure is logged and the schedule keeps ticking; only context
// cancellation stops it.
type Scheduler struct {
	runner   Runner
	source   PopulationLister
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	lastRun time.Time
	nextRun time.Time
}

func NewScheduler(runner Runner, source PopulationLister, interval time.Duration, logger *slog.Logger) (*Scheduler, error) {
	if runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	if source == nil {
		return nil, fmt.Errorf("population source is required")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("interval must be positive, got %s", interval)
	}
	return &Scheduler{
		runner:   runner,
		source:   source,
		interval: interval,
		logger:   logger,
	}, nil
}

// Run blocks until ctx is cancelled, returning ctx.Err().
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "scheduler started", "interval", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.setNextRun(time.Now().Add(s.interval))

	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.runOnce(ctx)
			s.setNextRun(time.Now().Add(s.interval))
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	start := time.Now()

	population, err := s.source.Population(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "scheduled run aborted: population unavailable", "error", err)
		return
	}
	if len(population) == 0 {
		s.logger.DebugContext(ctx, "scheduled run skipped: population is empty")
		return
	}

	if _, err := s.runner.Run(ctx, population); err != nil {
		s.logger.ErrorContext(ctx, "scheduled run failed",
			"population", len(population),
			"error", err,
		)
	} else {
		s.logger.InfoContext(ctx, "scheduled run completed",
			"population", len(population),
			"duration", time.Since(start),
		)
	}

	s.mu.Lock()
	s.lastRun = start
	s.mu.Unlock()
}

func (s *Scheduler) setNextRun(at time.Time) {
	s.mu.Lock()
	s.nextRun = at
	s.mu.Unlock()
}

// SchedulerStatus reports the schedule's timing for observability surfaces.
type SchedulerStatus struct {
	Interval time.Duration
	LastRun  time.Time
	NextRun  time.Time
}

func (s *Scheduler) Status() SchedulerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SchedulerStatus{
		Interval: s.interval,
		LastRun:  s.lastRun,
		NextRun:  s.nextRun,
	}
}
