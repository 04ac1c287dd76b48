// Package scheduler runs named, interval-based background jobs on robfig/cron.
//
// At most one job exists per name. Adding a job under an existing name
// cancels and replaces the previous instance. A failing or panicking pass
// never deregisters its job; only RemoveJob or Stop end future runs.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/starford/relister/internal/apperr"
)

// Well-known job names.
const (
	JobReupload = "reupload_products_job"
	JobAutolift = "autolift_job"
)

// Handler runs one pass of a job. ctx is cancelled when the job is removed
// or the scheduler stops; handlers finish their current step and return.
type Handler func(ctx context.Context) error

// Job is a read-only view of a scheduled job.
type Job struct {
	Name      string        `json:"name"`
	Interval  time.Duration `json:"interval"`
	AddedAt   time.Time     `json:"added_at"`
	NextRun   time.Time     `json:"next_run,omitempty"`
	LastRun   time.Time     `json:"last_run,omitempty"`
	Runs      int           `json:"runs"`
	LastError string        `json:"last_error,omitempty"`
}

type entry struct {
	id     cron.EntryID
	cancel context.CancelFunc

	mu  sync.Mutex
	job Job
}

// Scheduler owns the cron instance and the job registry.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger
	base   context.Context
	stop   context.CancelFunc

	mu   sync.Mutex
	jobs map[string]*entry
}

// New creates a stopped scheduler.
func New(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "scheduler"))
	base, stop := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   cron.New(cron.WithLogger(cronLogger{logger})),
		logger: logger,
		base:   base,
		stop:   stop,
		jobs:   make(map[string]*entry),
	}
}

// AddJob registers handler to run every interval, replacing any job with the same name.
// The first pass runs one interval after registration.
func (s *Scheduler) AddJob(name string, interval time.Duration, handler Handler) error {
	if name == "" {
		return fmt.Errorf("scheduler: empty job name")
	}
	if interval < time.Second {
		return fmt.Errorf("scheduler: interval %s below one second", interval)
	}
	if handler == nil {
		return fmt.Errorf("scheduler: nil handler for %s", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.jobs[name]; ok {
		s.removeLocked(name, old)
		s.logger.Info("job replaced", slog.String("job", name))
	}

	ctx, cancel := context.WithCancel(s.base)
	e := &entry{
		cancel: cancel,
		job:    Job{Name: name, Interval: interval, AddedAt: time.Now()},
	}
	wrapped := cron.NewChain(
		cron.Recover(cronLogger{s.logger}),
		cron.SkipIfStillRunning(cronLogger{s.logger}),
	).Then(cron.FuncJob(func() { s.runPass(ctx, e, handler) }))

	e.id = s.cron.Schedule(cron.Every(interval), wrapped)
	s.jobs[name] = e
	s.logger.Info("job added", slog.String("job", name), slog.Duration("interval", interval))
	return nil
}

func (s *Scheduler) runPass(ctx context.Context, e *entry, handler Handler) {
	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	err := handler(ctx)

	e.mu.Lock()
	e.job.Runs++
	e.job.LastRun = start
	e.job.LastError = ""
	if err != nil {
		e.job.LastError = err.Error()
	}
	name := e.job.Name
	e.mu.Unlock()

	if err != nil {
		s.logger.Error("job pass failed",
			slog.String("job", name),
			slog.Duration("took", time.Since(start)),
			slog.String("error", err.Error()))
		return
	}
	s.logger.Debug("job pass done", slog.String("job", name), slog.Duration("took", time.Since(start)))
}

// GetJob returns the job registered under name.
func (s *Scheduler) GetJob(name string) (Job, bool) {
	s.mu.Lock()
	e, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return Job{}, false
	}
	return s.snapshot(e), true
}

// RemoveJob cancels and deregisters name. It returns apperr.ErrJobNotFound
// when no such job exists, which callers report as "already disabled".
func (s *Scheduler) RemoveJob(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.jobs[name]
	if !ok {
		return apperr.ErrJobNotFound
	}
	s.removeLocked(name, e)
	s.logger.Info("job removed", slog.String("job", name))
	return nil
}

func (s *Scheduler) removeLocked(name string, e *entry) {
	s.cron.Remove(e.id)
	e.cancel()
	delete(s.jobs, name)
}

// Jobs lists registered jobs ordered by name.
func (s *Scheduler) Jobs() []Job {
	s.mu.Lock()
	entries := make([]*entry, 0, len(s.jobs))
	for _, e := range s.jobs {
		entries = append(entries, e)
	}
	s.mu.Unlock()

	out := make([]Job, 0, len(entries))
	for _, e := range entries {
		out = append(out, s.snapshot(e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Scheduler) snapshot(e *entry) Job {
	e.mu.Lock()
	j := e.job
	e.mu.Unlock()
	j.NextRun = s.cron.Entry(e.id).Next
	return j
}

// Start begins firing scheduled jobs.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started")
}

// Stop cancels every job and waits for in-flight passes until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	for name, e := range s.jobs {
		s.removeLocked(name, e)
	}
	s.mu.Unlock()
	s.stop()

	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler: stop: %w", ctx.Err())
	}
}

// cronLogger routes robfig/cron diagnostics into slog.
type cronLogger struct{ l *slog.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
