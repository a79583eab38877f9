package sanitize

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/twpayne/go-geom"

	"github.com/bsaid97/go-parcel-fixer/kernel"
	"github.com/bsaid97/go-parcel-fixer/parcel"
)

// ResolutionResult is the outcome of buffer-erasing one pair. NewGeomB is
// nil when B was erased completely (Deleted) or never touched.
type ResolutionResult struct {
	Resolved   bool
	NewGeomB   *geom.MultiPolygon
	Deleted    bool
	DistanceCM float64
	Attempts   int
	Remaining  float64
	Warnings   []parcel.Issue
	Err        error
}

// Resolver repairs overlapping pairs by erasing a buffered anchor from the
// target. The anchor is never modified.
type Resolver struct {
	kernel   kernel.Kernel
	detector *Detector
	logger   zerolog.Logger
}

func NewResolver(k kernel.Kernel, d *Detector, logger zerolog.Logger) *Resolver {
	return &Resolver{
		kernel:   k,
		detector: d,
		logger:   logger.With().Str("component", "overlap-resolver").Logger(),
	}
}

// Resolve erases buffer(A, d) from B for each distance of the policy until
// the pair no longer overlaps. Every attempt starts from the original B;
// buffers grow monotonically so the last attempt subsumes the earlier ones.
func (r *Resolver) Resolve(ctx context.Context, a, b parcel.Record, policy parcel.Policy) ResolutionResult {
	var res ResolutionResult
	explicit := policy.ExplicitBufferCM != nil
	distances := policy.Distances()

	if explicit && *policy.ExplicitBufferCM > policy.LargeBufferWarnCM {
		res.Warnings = append(res.Warnings, parcel.NewWarning(parcel.StageSanitize, parcel.FeatureRef(b.ID),
			"buffer distance %.0f cm exceeds %.0f cm and may erase legitimate parcel area",
			*policy.ExplicitBufferCM, policy.LargeBufferWarnCM))
	}
	if len(distances) == 0 {
		res.Err = fmt.Errorf("empty buffer schedule for pair (%d,%d)", a.ID, b.ID)
		return res
	}

	for _, cm := range distances {
		if err := ctx.Err(); err != nil {
			res.Err = fmt.Errorf("%w: %v", parcel.ErrCancelled, err)
			return res
		}
		res.Attempts++
		res.DistanceCM = cm

		buffered, err := r.kernel.Buffer(a.Geometry, policy.BufferUnits(cm))
		if err != nil {
			res.Err = err
			return res
		}
		newB, err := r.kernel.Difference(b.Geometry, buffered)
		if err != nil {
			res.Err = err
			return res
		}

		if r.kernel.Area(newB) <= policy.Epsilon {
			r.logger.Debug().Int("anchor", a.ID).Int("target", b.ID).Float64("cm", cm).Msg("target erased completely")
			res.Resolved = true
			res.Deleted = true
			res.NewGeomB = nil
			return res
		}
		res.NewGeomB = newB

		pair, still, err := r.detector.Overlapping(a, parcel.Record{ID: b.ID, Geometry: newB})
		if err != nil {
			res.Err = err
			return res
		}
		if !still {
			r.logger.Debug().Int("anchor", a.ID).Int("target", b.ID).Float64("cm", cm).Int("attempts", res.Attempts).Msg("pair resolved")
			res.Resolved = true
			return res
		}
		res.Remaining = pair.Area
	}

	failure := &parcel.ResolutionFailure{
		IDA: a.ID, IDB: b.ID, Attempts: res.Attempts, LastCM: res.DistanceCM, OverlapArea: res.Remaining,
	}
	res.Err = failure
	if explicit {
		res.Warnings = append(res.Warnings, parcel.NewWarning(parcel.StageSanitize, parcel.FeatureRef(b.ID),
			"explicit buffer of %.0f cm left features %d and %d overlapping", res.DistanceCM, a.ID, b.ID))
	} else {
		res.Warnings = append(res.Warnings, parcel.IssueFor(failure))
	}
	r.logger.Warn().Int("anchor", a.ID).Int("target", b.ID).Int("attempts", res.Attempts).Msg("overlap left unresolved")
	return res
}
