// Package worker implements the reupload and autolift passes run by the scheduler.
//
// A worker is built with an immutable snapshot of the keyword configuration
// and performs one full pass per Run call. Per-listing failures are logged
// and skipped; only a failed listing fetch or a panic fails the pass.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/starford/relister/internal/events"
	"github.com/starford/relister/internal/marketplace"
	"github.com/starford/relister/internal/models"
	"github.com/starford/relister/internal/notify"
)

// Jitter is an inclusive random delay range.
type Jitter struct {
	Min time.Duration
	Max time.Duration
}

func (j Jitter) pick() time.Duration {
	if j.Max <= j.Min {
		return j.Min
	}
	return j.Min + time.Duration(rand.Int64N(int64(j.Max-j.Min)+1))
}

// Options tune one worker kind.
type Options struct {
	Window           time.Duration
	StartJitter      Jitter
	StepJitter       Jitter
	FailureThreshold int
}

// Default pacing for each worker kind.
var (
	DefaultReuploadOptions = Options{
		Window:           48 * time.Hour,
		StartJitter:      Jitter{Min: 20 * time.Second, Max: 60 * time.Second},
		StepJitter:       Jitter{Min: 5 * time.Second, Max: 10 * time.Second},
		FailureThreshold: 10,
	}
	DefaultAutoliftOptions = Options{
		Window:           72 * time.Hour,
		StartJitter:      Jitter{Min: 20 * time.Second, Max: 60 * time.Second},
		StepJitter:       Jitter{Min: 5 * time.Second, Max: 10 * time.Second},
		FailureThreshold: 10,
	}
)

// Deps are the collaborators shared by both workers.
type Deps struct {
	Client   marketplace.Client
	Notifier notify.Notifier
	Admins   []int64
	Events   events.Publisher
	Logger   *slog.Logger

	// Sleep and Now are replaced in tests.
	Sleep func(ctx context.Context, d time.Duration) error
	Now   func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.Events == nil {
		d.Events = events.Discard{}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Sleep == nil {
		d.Sleep = sleep
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	d.Admins = append([]int64(nil), d.Admins...)
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// base carries the pass boundary shared by both workers.
type base struct {
	job  string
	deps Deps
	opts Options
	log  *slog.Logger

	mu     sync.Mutex
	streak int
}

func newBase(job string, deps Deps, opts Options) base {
	deps = deps.withDefaults()
	return base{
		job:  job,
		deps: deps,
		opts: opts,
		log:  deps.Logger.With(slog.String("job", job)),
	}
}

// Streak returns the number of consecutive failed passes.
func (b *base) Streak() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.streak
}

type passFunc func(ctx context.Context, log *slog.Logger, runID string, stats *events.PassStats) error

// pass wraps one invocation: events, panic recovery and the failure streak.
func (b *base) pass(ctx context.Context, body passFunc) (err error) {
	runID := uuid.NewString()
	log := b.log.With(slog.String("run", runID))
	stats := &events.PassStats{}
	start := b.deps.Now()

	started := events.New(events.PassStarted, b.job)
	started.RunID = runID
	b.deps.Events.Publish(ctx, started)
	log.Info("pass started")

	defer func() {
		if r := recover(); r != nil {
			log.Error("pass panicked", slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
			err = fmt.Errorf("worker: %s pass panicked: %v", b.job, r)
		}
		if errors.Is(err, context.Canceled) {
			log.Info("pass cancelled")
			err = nil
			return
		}
		b.finish(ctx, log, runID, stats, err, b.deps.Now().Sub(start))
	}()

	return body(ctx, log, runID, stats)
}

func (b *base) finish(ctx context.Context, log *slog.Logger, runID string, stats *events.PassStats, err error, took time.Duration) {
	if err == nil {
		b.mu.Lock()
		b.streak = 0
		b.mu.Unlock()

		done := events.New(events.PassCompleted, b.job)
		done.RunID, done.Stats = runID, stats
		b.deps.Events.Publish(ctx, done)
		log.Info("pass completed",
			slog.Int("listed", stats.Listed),
			slog.Int("candidates", stats.Candidates),
			slog.Int("acted", stats.Acted),
			slog.Int("skipped", stats.Skipped),
			slog.Int("failed", stats.Failed),
			slog.Duration("took", took))
		return
	}

	b.mu.Lock()
	b.streak++
	streak := b.streak
	b.mu.Unlock()

	failed := events.New(events.PassFailed, b.job)
	failed.RunID, failed.Stats, failed.Error = runID, stats, err.Error()
	b.deps.Events.Publish(ctx, failed)
	log.Error("pass failed", slog.Int("streak", streak), slog.String("error", err.Error()))

	if b.opts.FailureThreshold > 0 && streak == b.opts.FailureThreshold && b.deps.Notifier != nil {
		text := fmt.Sprintf("⚠️ %s failed %d passes in a row: %s", b.job, streak, err.Error())
		notify.Broadcast(context.WithoutCancel(ctx), b.deps.Notifier, b.deps.Admins, text, log)
	}
}

// stepTimeout bounds one listing step once it is detached from the pass.
const stepTimeout = 2 * time.Minute

// step runs fn for a single listing on a context the pass cannot cancel, so a
// job disabled mid-request still completes the paid call and its
// notifications. Callers check the pass context before the next listing.
func (b *base) step(ctx context.Context, fn func(ctx context.Context)) {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stepTimeout)
	defer cancel()
	fn(sctx)
}

// between pauses between two listings, skipping the pause after the last one.
func (b *base) between(ctx context.Context, i, n int) error {
	if i >= n-1 {
		return nil
	}
	return b.deps.Sleep(ctx, b.opts.StepJitter.pick())
}

// announce publishes the listing event and sends the photo to every admin.
func (b *base) announce(ctx context.Context, log *slog.Logger, t events.Type, runID, action string, l models.Listing, res *models.ActionResult) {
	link := res.Link
	if link == "" {
		link = l.URL
	}
	photo := res.Photo
	if photo.Empty() && l.AttachmentURL != "" {
		photo = models.Photo{URL: l.AttachmentURL}
	}

	e := events.New(t, b.job)
	e.RunID, e.ListingID, e.Title, e.Link = runID, l.ID, l.Title, link
	b.deps.Events.Publish(ctx, e)

	if b.deps.Notifier == nil || len(b.deps.Admins) == 0 {
		return
	}
	sent := notify.Fanout(ctx, b.deps.Notifier, b.deps.Admins, photo, notify.Caption(action, l.Title, link), log)
	log.Debug("admins notified", slog.String("listing", l.ID), slog.Int("sent", sent))
}
