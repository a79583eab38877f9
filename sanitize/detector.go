// Package sanitize holds the geometry repair steps applied to a parcel batch:
// overlap detection and buffer-erase resolution, multipart decomposition,
// containment removal, hole stripping, validity repair and renumbering.
package sanitize

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/bsaid97/go-parcel-fixer/kernel"
	"github.com/bsaid97/go-parcel-fixer/parcel"
	"github.com/bsaid97/go-parcel-fixer/utils"
)

// Detector finds intersecting parcel pairs and classifies each one.
type Detector struct {
	kernel kernel.Kernel
	eps    float64
	logger zerolog.Logger
}

func NewDetector(k kernel.Kernel, eps float64, logger zerolog.Logger) *Detector {
	return &Detector{
		kernel: k,
		eps:    eps,
		logger: logger.With().Str("component", "overlap-detector").Logger(),
	}
}

// Classify runs the exact predicates on one pair. The second return is
// false when the geometries do not intersect at all. The most specific
// signal wins: containment, then intersection area, overlaps, boundary
// touch, and finally the bare intersects test.
func (d *Detector) Classify(a, b parcel.Record) (parcel.OverlapPair, bool, error) {
	pair := parcel.OverlapPair{IDA: a.ID, IDB: b.ID}
	if b.ID < a.ID {
		pair.IDA, pair.IDB = b.ID, a.ID
	}
	if a.IsNull() || b.IsNull() {
		return pair, false, nil
	}

	rel, err := d.kernel.Relate(a.Geometry, b.Geometry)
	if err != nil {
		return pair, false, err
	}
	if !rel.Intersects {
		return pair, false, nil
	}

	switch {
	case rel.AContainsB || rel.BContainsA:
		pair.Method = parcel.MethodContainment
		pair.Area = minFloat(rel.AreaA, rel.AreaB)
	case rel.IntersectionArea > d.eps:
		pair.Method = parcel.MethodIntersectionArea
		pair.Area = rel.IntersectionArea
	case rel.Overlaps:
		pair.Method = parcel.MethodOverlaps
		pair.Area = rel.IntersectionArea
	case rel.Touches:
		pair.Method = parcel.MethodBoundaryTouch
		pair.Area = rel.IntersectionArea
	default:
		pair.Method = parcel.MethodIntersects
		pair.Area = rel.IntersectionArea
	}
	return pair, true, nil
}

// Overlapping reports whether a and b overlap enough to need resolving.
func (d *Detector) Overlapping(a, b parcel.Record) (parcel.OverlapPair, bool, error) {
	pair, hit, err := d.Classify(a, b)
	if err != nil || !hit {
		return pair, false, err
	}
	return pair, pair.IsOverlap(d.eps), nil
}

// Detect scans every unordered pair in the batch. Candidates come from an
// R-tree over the record envelopes; records the index cannot hold are
// compared against everything. Pure boundary touches are returned too so
// callers can report them; use OverlapsOnly to filter.
func (d *Detector) Detect(ctx context.Context, batch *parcel.Batch) ([]parcel.OverlapPair, []parcel.Issue, error) {
	index := utils.NewSpatialIndex(d.eps)
	var unindexed []int
	for i, r := range batch.Records {
		if r.IsNull() {
			continue
		}
		if !index.AddGeometry(r.Geometry, r.ID, i) {
			unindexed = append(unindexed, i)
		}
	}

	d.logger.Debug().Int("records", batch.Len()).Int("indexed", index.Len()).Msg("scanning for overlaps")

	var (
		pairs  []parcel.OverlapPair
		issues []parcel.Issue
	)
	for i, a := range batch.Records {
		if err := ctx.Err(); err != nil {
			return nil, issues, fmt.Errorf("%w: %v", parcel.ErrCancelled, err)
		}
		if a.IsNull() {
			continue
		}

		candidates := make([]int, 0)
		for _, n := range index.FindNeighbors(a.Geometry) {
			if n.Order > i {
				candidates = append(candidates, n.Order)
			}
		}
		for _, j := range unindexed {
			if j > i {
				candidates = append(candidates, j)
			}
		}
		if containsInt(unindexed, i) {
			candidates = candidates[:0]
			for j := i + 1; j < batch.Len(); j++ {
				candidates = append(candidates, j)
			}
		}
		sort.Ints(candidates)
		candidates = uniqueInts(candidates)

		for _, j := range candidates {
			b := batch.Records[j]
			pair, hit, err := d.Classify(a, b)
			if err != nil {
				issues = append(issues, parcel.NewWarning(parcel.StageGeometry, parcel.FeatureRef(b.ID),
					"overlap check against feature %d failed: %v", a.ID, err))
				continue
			}
			if hit {
				pairs = append(pairs, pair)
			}
		}
	}

	sort.SliceStable(pairs, func(i, j int) bool {
		if pairs[i].IDA != pairs[j].IDA {
			return pairs[i].IDA < pairs[j].IDA
		}
		return pairs[i].IDB < pairs[j].IDB
	})

	d.logger.Info().Int("pairs", len(pairs)).Int("overlapping", len(OverlapsOnly(pairs, d.eps))).Msg("overlap scan complete")
	return pairs, issues, nil
}

// OverlapsOnly drops pairs that merely share a boundary.
func OverlapsOnly(pairs []parcel.OverlapPair, eps float64) []parcel.OverlapPair {
	out := make([]parcel.OverlapPair, 0, len(pairs))
	for _, p := range pairs {
		if p.IsOverlap(eps) {
			out = append(out, p)
		}
	}
	return out
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func containsInt(xs []int, v int) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

// uniqueInts removes adjacent duplicates from a sorted slice.
func uniqueInts(xs []int) []int {
	if len(xs) < 2 {
		return xs
	}
	out := xs[:1]
	for _, x := range xs[1:] {
		if x != out[len(out)-1] {
			out = append(out, x)
		}
	}
	return out
}
