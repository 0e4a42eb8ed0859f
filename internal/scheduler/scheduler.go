// Package scheduler triggers workflow runs from cron expressions stored in
// the run-history database.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/rendis/flowfunc/internal/run"
	"github.com/rendis/flowfunc/internal/store"
	"github.com/rendis/flowfunc/pkg/schema"
)

// DefaultInterval is how often the store is polled for due runs.
const DefaultInterval = time.Minute

// Runner executes one workflow run. *run.Coordinator satisfies it.
type Runner interface {
	Execute(ctx context.Context, req run.Request) (*schema.Summary, error)
}

// Options configures a Scheduler.
type Options struct {
	Interval time.Duration
	Logger   *slog.Logger
	Now      func() time.Time
}

// Scheduler polls the store for due scheduled runs and executes them.
type Scheduler struct {
	store    store.Store
	runner   Runner
	parser   cron.Parser
	logger   *slog.Logger
	interval time.Duration
	now      func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	inflightMu sync.Mutex
	inflight   map[string]struct{} // scheduled run IDs currently executing
}

// NewScheduler creates a Scheduler.
func NewScheduler(s store.Store, runner Runner, opts Options) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Scheduler{
		store:    s,
		runner:   runner,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		logger:   opts.Logger,
		interval: opts.Interval,
		now:      opts.Now,
		inflight: make(map[string]struct{}),
	}
}

// --- Management ---

// AddRequest describes a new scheduled run.
type AddRequest struct {
	WorkflowFile   string
	RunName        string
	CronExpression string
	Params         map[string]any
}

// Add validates the cron expression and stores an enabled scheduled run
// whose first execution is the next matching time.
func (s *Scheduler) Add(ctx context.Context, req AddRequest) (*store.ScheduledRun, error) {
	if req.WorkflowFile == "" {
		return nil, schema.NewError(schema.ErrCodeInvalidArgument, "workflow file is required")
	}
	now := s.now()
	next, err := s.NextRun(req.CronExpression, now)
	if err != nil {
		return nil, err
	}
	sr := &store.ScheduledRun{
		ID:             uuid.New().String(),
		WorkflowFile:   req.WorkflowFile,
		RunName:        req.RunName,
		CronExpression: req.CronExpression,
		Params:         req.Params,
		Enabled:        true,
		NextRunAt:      &next,
		CreatedAt:      now,
	}
	if err := s.store.CreateScheduledRun(ctx, sr); err != nil {
		return nil, err
	}
	s.logger.Info("scheduled run added",
		slog.String("schedule_id", sr.ID),
		slog.String("workflow_file", sr.WorkflowFile),
		slog.String("cron", sr.CronExpression),
		slog.Time("next_run_at", next))
	return sr, nil
}

// Remove deletes a scheduled run.
func (s *Scheduler) Remove(ctx context.Context, id string) error {
	return s.store.DeleteScheduledRun(ctx, id)
}

// List returns every scheduled run.
func (s *Scheduler) List(ctx context.Context) ([]*store.ScheduledRun, error) {
	return s.store.ListScheduledRuns(ctx, store.ScheduledRunFilter{})
}

// NextRun computes the first time after from matching cronExpr.
func (s *Scheduler) NextRun(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, schema.NewErrorf(schema.ErrCodeInvalidArgument, "invalid cron expression %q", cronExpr).WithCause(err)
	}
	return schedule.Next(from), nil
}

// --- Loop ---

// Start launches the background polling loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(loopCtx)
	s.logger.Info("scheduler started", slog.Duration("interval", s.interval))
	return nil
}

// Stop cancels the loop and waits for the current tick to finish.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return nil
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil
	s.logger.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs every enabled scheduled run that is due, one after another.
// It returns how many were started.
func (s *Scheduler) Tick(ctx context.Context) int {
	enabled := true
	due, err := s.store.ListScheduledRuns(ctx, store.ScheduledRunFilter{Enabled: &enabled})
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to list scheduled runs", slog.String("error", err.Error()))
		return 0
	}

	now := s.now()
	started := 0
	for _, sr := range due {
		if ctx.Err() != nil {
			break
		}
		if sr.NextRunAt != nil && sr.NextRunAt.After(now) {
			continue
		}
		if !s.tryAcquire(sr.ID) {
			continue
		}
		if err := s.execute(ctx, sr, now); err != nil {
			s.logger.ErrorContext(ctx, "failed to update scheduled run",
				slog.String("schedule_id", sr.ID),
				slog.String("error", err.Error()))
		}
		s.release(sr.ID)
		started++
	}
	return started
}

// execute runs sr and records its outcome and next run time. Run failures
// are recorded on the scheduled run, not returned.
func (s *Scheduler) execute(ctx context.Context, sr *store.ScheduledRun, now time.Time) error {
	s.logger.InfoContext(ctx, "running scheduled workflow",
		slog.String("schedule_id", sr.ID),
		slog.String("workflow_file", sr.WorkflowFile))

	summary, err := s.runner.Execute(ctx, run.Request{
		WorkflowFile: sr.WorkflowFile,
		RunName:      sr.RunName,
		Params:       sr.Params,
	})
	status := schema.RunStatusSuccess
	if err != nil {
		status = schema.RunStatusFailed
		s.logger.ErrorContext(ctx, "scheduled run failed",
			slog.String("schedule_id", sr.ID),
			slog.String("error", err.Error()))
	}

	update := store.ScheduledRunUpdate{LastRunAt: &now, LastRunStatus: &status}
	if summary != nil && summary.RunID != "" {
		update.LastRunID = &summary.RunID
	}
	next, err := s.NextRun(sr.CronExpression, now)
	if err != nil {
		// A stored expression that no longer parses disables the schedule.
		disabled := false
		update.Enabled = &disabled
	} else {
		update.NextRunAt = &next
	}
	return s.store.UpdateScheduledRun(ctx, sr.ID, update)
}

func (s *Scheduler) tryAcquire(id string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[id]; ok {
		return false
	}
	s.inflight[id] = struct{}{}
	return true
}

func (s *Scheduler) release(id string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, id)
}
