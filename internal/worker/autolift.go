package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/starford/relister/internal/apperr"
	"github.com/starford/relister/internal/events"
	"github.com/starford/relister/internal/models"
	"github.com/starford/relister/internal/scheduler"
)

// Autolift boosts active listings whose search rank drifted past the
// position configured for a matching keyword.
type Autolift struct {
	base
	keywords []models.AutoliftKeyword
}

// NewAutolift snapshots keywords; later edits do not affect this worker.
func NewAutolift(deps Deps, keywords []models.AutoliftKeyword, opts Options) *Autolift {
	return &Autolift{
		base:     newBase(scheduler.JobAutolift, deps, opts),
		keywords: slices.Clone(keywords),
	}
}

// Run performs one pass. It satisfies scheduler.Handler.
func (w *Autolift) Run(ctx context.Context) error {
	return w.pass(ctx, w.run)
}

func (w *Autolift) run(ctx context.Context, log *slog.Logger, runID string, stats *events.PassStats) error {
	if err := w.deps.Sleep(ctx, w.opts.StartJitter.pick()); err != nil {
		return err
	}

	listings, err := w.deps.Client.ListItems(ctx, models.AutoliftStatuses)
	if err != nil {
		return fmt.Errorf("list items: %w", err)
	}
	stats.Listed = len(listings)

	now := w.deps.Now()
	type candidate struct {
		listing models.Listing
		matches []models.AutoliftKeyword
	}
	var candidates []candidate
	for _, l := range listings {
		if !WithinWindow(l, now, w.opts.Window) {
			continue
		}
		if m := MatchAutolift(l.Title, w.keywords); len(m) > 0 {
			candidates = append(candidates, candidate{listing: l, matches: m})
		}
	}
	stats.Candidates = len(candidates)

	for i, c := range candidates {
		if err := ctx.Err(); err != nil {
			return err
		}
		w.step(ctx, func(ctx context.Context) {
			w.lift(ctx, log, runID, c.listing, c.matches, stats)
		})
		if err := w.between(ctx, i, len(candidates)); err != nil {
			return err
		}
	}
	return nil
}

// lift acts on a listing at most once, whatever the number of matching keywords.
func (w *Autolift) lift(ctx context.Context, log *slog.Logger, runID string, l models.Listing, matches []models.AutoliftKeyword, stats *events.PassStats) {
	log = log.With(slog.String("listing", l.ID), slog.String("title", l.Title))

	rank, err := w.deps.Client.GetListingRank(ctx, l.ID, l.Slug)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			log.Info("no live rank, skipping")
			stats.Skipped++
			return
		}
		log.Warn("rank lookup failed", slog.String("error", err.Error()))
		stats.Failed++
		return
	}

	kw, ok := ShouldBoost(rank, matches)
	if !ok {
		log.Debug("rank within threshold", slog.Int("rank", rank))
		stats.Skipped++
		return
	}
	log = log.With(slog.Int("rank", rank), slog.String("keyword", kw.Text), slog.Int("position", kw.Position))

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

	res, err := w.deps.Client.Boost(ctx, l, offer.ID)
	if err != nil {
		log.Warn("boost failed", slog.String("error", err.Error()))
		stats.Failed++
		return
	}
	stats.Acted++
	log.Info("listing boosted", slog.String("offer", offer.Name))
	w.announce(ctx, log, events.ListingBoosted, runID, fmt.Sprintf("Boosted from #%d", rank), l, res)
}
