package sanitize

import (
	"context"
	"errors"
	"fmt"

	"github.com/bsaid97/go-parcel-fixer/parcel"
	"github.com/bsaid97/go-parcel-fixer/utils"
)

type OverlapStats struct {
	Detected   int
	Resolved   int
	Unresolved int
	Deleted    int
	Pairs      []parcel.OverlapPair
	// Attempts holds the buffer attempts spent on each pair that needed one.
	Attempts []int
}

// FixAll detects every overlapping pair in batch and resolves them in
// order, mutating batch. A pair whose anchor or target was deleted by an
// earlier resolution is skipped; one that no longer overlaps is marked
// resolved without touching it. Only cancellation aborts the loop.
func (r *Resolver) FixAll(ctx context.Context, batch *parcel.Batch, policy parcel.Policy, progress *utils.ProgressTracker) (OverlapStats, []parcel.Issue, error) {
	var stats OverlapStats
	pairs, issues, err := r.detector.Detect(ctx, batch)
	if err != nil {
		return stats, issues, err
	}
	overlaps := OverlapsOnly(pairs, policy.Epsilon)
	stats.Detected = len(overlaps)
	if progress != nil {
		progress.Total = int64(len(overlaps))
	}

	for i := range overlaps {
		if err := ctx.Err(); err != nil {
			return stats, issues, fmt.Errorf("%w: %v", parcel.ErrCancelled, err)
		}
		p := &overlaps[i]
		r.logger.Debug().Int("pair", i+1).Int("of", len(overlaps)).Int("anchor", p.IDA).Int("target", p.IDB).Msg("processing pair")
		if progress != nil {
			progress.Increment()
		}

		a, okA := batch.Get(p.IDA)
		b, okB := batch.Get(p.IDB)
		if !okA || !okB {
			p.Resolved = true
			continue
		}
		if _, still, err := r.detector.Overlapping(a, b); err == nil && !still {
			p.Resolved = true
			stats.Resolved++
			continue
		}

		res := r.Resolve(ctx, a, b, policy)
		issues = append(issues, res.Warnings...)
		if res.Attempts > 0 {
			stats.Attempts = append(stats.Attempts, res.Attempts)
		}
		if errors.Is(res.Err, parcel.ErrCancelled) {
			return stats, issues, res.Err
		}

		var failure *parcel.ResolutionFailure
		switch {
		case res.Deleted:
			batch.Delete(b.ID)
			stats.Deleted++
		case res.NewGeomB != nil:
			b.Geometry = res.NewGeomB
			batch.Replace(b)
		}

		switch {
		case res.Resolved:
			p.Resolved = true
			stats.Resolved++
		case errors.As(res.Err, &failure):
			stats.Unresolved++
		case res.Err != nil:
			stats.Unresolved++
			issues = append(issues, parcel.NewWarning(parcel.StageSanitize, parcel.FeatureRef(b.ID),
				"could not resolve overlap with feature %d: %v", a.ID, res.Err))
		}
	}

	stats.Pairs = overlaps
	r.logger.Info().Int("detected", stats.Detected).Int("resolved", stats.Resolved).
		Int("unresolved", stats.Unresolved).Int("deleted", stats.Deleted).Msg("overlap resolution complete")
	return stats, issues, nil
}
