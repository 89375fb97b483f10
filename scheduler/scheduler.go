// Package scheduler runs an application.Runner on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	cron "github.com/pardnchiu/go-scheduler"

	"github.com/platforma-dev/migrator/application"
	"github.com/platforma-dev/migrator/log"
)

// Stats describes the runs of a scheduler so far.
type Stats struct {
	Schedule  string     `json:"schedule"`
	Runs      int        `json:"runs"`
	Failures  int        `json:"failures"`
	Skipped   int        `json:"skipped,omitempty"`
	LastRunAt *time.Time `json:"lastRunAt,omitempty"`
	LastError string     `json:"lastError,omitempty"`
}

// Scheduler executes a runner based on a cron expression. A run that is
// still in progress when the next one is due makes the next one skip.
type Scheduler struct {
	cronExpr       string
	runner         application.Runner
	runImmediately bool

	mu      sync.Mutex
	running bool
	stats   Stats
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithRunImmediately makes Run execute the runner once before waiting for the schedule.
func WithRunImmediately() Option {
	return func(s *Scheduler) {
		s.runImmediately = true
	}
}

// New creates a new Scheduler instance with a cron expression.
//
// Supported cron formats:
//   - Standard 5-field cron: "minute hour day month weekday" (e.g., "0 9 * * MON-FRI")
//   - Custom descriptors: @yearly, @monthly, @weekly, @daily, @hourly
//   - Interval syntax: @every 5m, @every 30s
//
// Returns an error if the cron expression is invalid.
func New(cronExpr string, runner application.Runner, opts ...Option) (*Scheduler, error) {
	// the library panics on empty expressions
	if cronExpr == "" {
		return nil, fmt.Errorf("invalid cron expression %q: expression cannot be empty", cronExpr)
	}

	validator, err := cron.New(cron.Config{Location: time.UTC})
	if err != nil {
		return nil, fmt.Errorf("failed to create cron validator: %w", err)
	}
	if _, err := validator.Add(cronExpr, func() {}); err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", cronExpr, err)
	}

	s := &Scheduler{cronExpr: cronExpr, runner: runner, stats: Stats{Schedule: cronExpr}}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Run starts the scheduler and executes the runner according to the cron schedule.
// The scheduler will continue running until the context is canceled.
func (s *Scheduler) Run(ctx context.Context) error {
	cronScheduler, err := cron.New(cron.Config{Location: time.UTC})
	if err != nil {
		return fmt.Errorf("failed to create cron scheduler: %w", err)
	}

	_, err = cronScheduler.Add(s.cronExpr, func() error {
		return s.tick(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to add cron task: %w", err)
	}

	if s.runImmediately {
		_ = s.tick(ctx)
	}

	cronScheduler.Start()

	<-ctx.Done()

	stopCtx := cronScheduler.Stop()
	<-stopCtx.Done()

	return fmt.Errorf("scheduler context canceled: %w", ctx.Err())
}

func (s *Scheduler) tick(ctx context.Context) error {
	runCtx := context.WithValue(ctx, log.TraceIDKey, log.NewRunID())

	s.mu.Lock()
	if s.running {
		s.stats.Skipped++
		s.mu.Unlock()
		log.WarnContext(runCtx, "scheduler task skipped, previous run still in progress")
		return nil
	}
	s.running = true
	s.mu.Unlock()

	log.DebugContext(runCtx, "scheduler task started")
	startedAt := time.Now()

	err := s.runner.Run(runCtx)
	if err != nil {
		log.ErrorContext(runCtx, "error in scheduler", "error", err)
	}

	s.mu.Lock()
	s.running = false
	s.stats.Runs++
	s.stats.LastRunAt = &startedAt
	s.stats.LastError = ""
	if err != nil {
		s.stats.Failures++
		s.stats.LastError = err.Error()
	}
	s.mu.Unlock()

	log.DebugContext(runCtx, "scheduler task finished", "duration", time.Since(startedAt))
	return err
}

// Stats returns a snapshot of the run statistics.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.stats
}

// Healthcheck reports the run statistics, merged with the health data of the
// runner when it has any.
func (s *Scheduler) Healthcheck(ctx context.Context) any {
	data := map[string]any{"scheduler": s.Stats()}
	if hc, ok := s.runner.(application.Healthchecker); ok {
		data["runner"] = hc.Healthcheck(ctx)
	}
	return data
}
