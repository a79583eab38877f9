package sanitize

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/bsaid97/go-parcel-fixer/kernel"
	"github.com/bsaid97/go-parcel-fixer/parcel"
	"github.com/bsaid97/go-parcel-fixer/utils"
)

type RepairStats struct {
	Repaired       int
	NullsRemoved   int
	SliversRemoved int
}

// Repairer snaps coordinates to the configured precision, makes invalid
// geometries valid and drops records left without area.
type Repairer struct {
	kernel kernel.Kernel
	logger zerolog.Logger
}

func NewRepairer(k kernel.Kernel, logger zerolog.Logger) *Repairer {
	return &Repairer{kernel: k, logger: logger.With().Str("component", "repair").Logger()}
}

// RepairRecord returns the repaired record and whether it should be kept.
func (r *Repairer) RepairRecord(rec parcel.Record, policy parcel.Policy) (parcel.Record, bool, bool, error) {
	if rec.IsNull() {
		return rec, false, false, nil
	}
	g, err := utils.TruncateFullGeometry(rec.Geometry, policy.Precision)
	if err != nil {
		return rec, true, false, err
	}

	repaired := false
	valid, reason, err := r.kernel.IsValid(g)
	if err != nil {
		return rec, true, false, err
	}
	if !valid {
		r.logger.Debug().Int("feature", rec.ID).Str("reason", reason).Msg("repairing invalid geometry")
		fixed, err := r.kernel.MakeValid(g)
		if err != nil {
			return rec, true, false, err
		}
		// snapping the repaired vertices can break validity again
		if g, err = utils.TruncateFullGeometry(fixed, policy.Precision); err != nil {
			return rec, true, false, err
		}
		if ok, _, _ := r.kernel.IsValid(g); !ok {
			g = fixed
		}
		repaired = true
	}

	out := rec
	out.Geometry = g
	if out.IsNull() {
		return out, false, repaired, nil
	}
	return out, true, repaired, nil
}

// RepairAll repairs every record of batch in place. With RemoveSlivers set,
// records whose area is below SliverArea are deleted as well.
func (r *Repairer) RepairAll(ctx context.Context, batch *parcel.Batch, policy parcel.Policy) (RepairStats, []parcel.Issue, error) {
	var (
		stats  RepairStats
		issues []parcel.Issue
	)
	out := make([]parcel.Record, 0, batch.Len())
	for _, rec := range batch.Records {
		if err := ctx.Err(); err != nil {
			return stats, issues, fmt.Errorf("%w: %v", parcel.ErrCancelled, err)
		}
		fixed, keep, repaired, err := r.RepairRecord(rec, policy)
		if err != nil {
			issues = append(issues, parcel.NewWarning(parcel.StageSanitize, parcel.FeatureRef(rec.ID),
				"geometry repair failed: %v", err))
			out = append(out, rec)
			continue
		}
		if repaired {
			stats.Repaired++
		}
		if !keep {
			stats.NullsRemoved++
			issues = append(issues, parcel.NewWarning(parcel.StageSanitize, parcel.FeatureRef(rec.ID),
				"removed feature with null or empty geometry"))
			continue
		}
		if policy.RemoveSlivers && r.kernel.Area(fixed.Geometry) < policy.SliverArea {
			stats.SliversRemoved++
			issues = append(issues, parcel.NewWarning(parcel.StageSanitize, parcel.FeatureRef(rec.ID),
				"removed sliver of area %.6f", r.kernel.Area(fixed.Geometry)))
			continue
		}
		out = append(out, fixed)
	}
	batch.Records = out

	r.logger.Info().Int("repaired", stats.Repaired).Int("nulls", stats.NullsRemoved).
		Int("slivers", stats.SliversRemoved).Msg("geometry repair complete")
	return stats, issues, nil
}
