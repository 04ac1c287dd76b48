package worker

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/starford/relister/internal/events"
	"github.com/starford/relister/internal/models"
	"github.com/starford/relister/internal/scheduler"
)

// FixedList reports listings the operator marked as not needing a reupload.
type FixedList interface {
	Contains(keys ...string) bool
}

// Reupload republishes completed or expired listings that match a keyword.
type Reupload struct {
	base
	keywords []string
	fixed    FixedList
}

// NewReupload snapshots keywords; later edits do not affect this worker.
func NewReupload(deps Deps, keywords []string, fixed FixedList, opts Options) *Reupload {
	return &Reupload{
		base:     newBase(scheduler.JobReupload, deps, opts),
		keywords: slices.Clone(keywords),
		fixed:    fixed,
	}
}

// Run performs one pass. It satisfies scheduler.Handler.
func (w *Reupload) Run(ctx context.Context) error {
	return w.pass(ctx, w.run)
}

func (w *Reupload) run(ctx context.Context, log *slog.Logger, runID string, stats *events.PassStats) error {
	if err := w.deps.Sleep(ctx, w.opts.StartJitter.pick()); err != nil {
		return err
	}

	listings, err := w.deps.Client.ListItems(ctx, models.ReuploadStatuses)
	if err != nil {
		return fmt.Errorf("list items: %w", err)
	}
	stats.Listed = len(listings)

	candidates := FilterCandidates(listings, w.keywords, w.deps.Now(), w.opts.Window)
	if w.fixed != nil {
		candidates = slices.DeleteFunc(candidates, func(l models.Listing) bool {
			if w.fixed.Contains(l.Slug, l.URL) {
				log.Debug("listing on fixed list", slog.String("listing", l.ID))
				stats.Skipped++
				return true
			}
			return false
		})
	}
	stats.Candidates = len(candidates)

	for i, l := range candidates {
		if err := ctx.Err(); err != nil {
			return err
		}
		w.step(ctx, func(ctx context.Context) {
			w.republish(ctx, log, runID, l, stats)
		})
		if err := w.between(ctx, i, len(candidates)); err != nil {
			return err
		}
	}
	return nil
}

func (w *Reupload) republish(ctx context.Context, log *slog.Logger, runID string, l models.Listing, stats *events.PassStats) {
	log = log.With(slog.String("listing", l.ID), slog.String("title", l.Title))

	offer, err := w.deps.Client.GetPriorityStatus(ctx, l.ID, l.RawPrice)
	if err != nil {
		log.Warn("priority status failed", slog.String("error", err.Error()))
		stats.Failed++
		return
	}
	if offer == nil {
		log.Info("no priority status available, skipping")
		stats.Skipped++
		return
	}

	res, err := w.deps.Client.Republish(ctx, l, offer.ID)
	if err != nil {
		log.Warn("republish failed", slog.String("error", err.Error()))
		stats.Failed++
		return
	}
	stats.Acted++
	log.Info("listing republished", slog.String("offer", offer.Name))
	w.announce(ctx, log, events.ListingRepublished, runID, "Republished", l, res)
}
