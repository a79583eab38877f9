package sanitize

import (
	"github.com/rs/zerolog"
	"github.com/twpayne/go-geom"

	"github.com/bsaid97/go-parcel-fixer/kernel"
	"github.com/bsaid97/go-parcel-fixer/parcel"
)

// PartKind is the decomposer's classification of a record geometry.
type PartKind int

const (
	SinglePart PartKind = iota
	// ComplexSinglePart has several ring groups but only one with
	// coordinates; it is left as is.
	ComplexSinglePart
	// ConnectedMultipart has several non-empty parts whose union is one
	// polygon; it is dissolved in place.
	ConnectedMultipart
	TrueMultipart
)

type DecomposeStats struct {
	Split        int
	PartsCreated int
	Dissolved    int
	Complex      int
}

type Decomposer struct {
	kernel kernel.Kernel
	logger zerolog.Logger
}

func NewDecomposer(k kernel.Kernel, logger zerolog.Logger) *Decomposer {
	return &Decomposer{kernel: k, logger: logger.With().Str("component", "part-decomposer").Logger()}
}

func nonEmptyParts(mp *geom.MultiPolygon) []*geom.Polygon {
	if mp == nil {
		return nil
	}
	parts := make([]*geom.Polygon, 0, mp.NumPolygons())
	for i := 0; i < mp.NumPolygons(); i++ {
		p := mp.Polygon(i)
		if p.NumLinearRings() > 0 && p.LinearRing(0).NumCoords() > 0 {
			parts = append(parts, p)
		}
	}
	return parts
}

// Classify returns the kind of rec and, for multipart kinds, the pieces it
// resolves into: the original parts when they are pairwise disjoint,
// otherwise the connected components of their union.
func (d *Decomposer) Classify(rec parcel.Record) (PartKind, []*geom.Polygon, error) {
	if rec.Geometry == nil {
		return SinglePart, nil, nil
	}
	parts := nonEmptyParts(rec.Geometry)
	if len(parts) <= 1 {
		if rec.Geometry.NumPolygons() > 1 {
			return ComplexSinglePart, parts, nil
		}
		return SinglePart, parts, nil
	}

	singles := make([]*geom.MultiPolygon, len(parts))
	for i, p := range parts {
		singles[i] = parcel.SinglePart(p)
	}
	union, err := d.kernel.Union(singles...)
	if err != nil {
		return TrueMultipart, parts, err
	}
	switch n := union.NumPolygons(); {
	case n == len(parts):
		return TrueMultipart, parts, nil
	case n <= 1:
		return ConnectedMultipart, polygonsOf(union), nil
	default:
		return TrueMultipart, polygonsOf(union), nil
	}
}

func polygonsOf(mp *geom.MultiPolygon) []*geom.Polygon {
	out := make([]*geom.Polygon, 0, mp.NumPolygons())
	for i := 0; i < mp.NumPolygons(); i++ {
		out = append(out, mp.Polygon(i))
	}
	return out
}

// Decompose splits every true multipart record into singlepart children
// that take the parent's position in the batch. Children copy the parent's
// attributes and receive fresh ids above the batch maximum. Records the
// kernel cannot classify are kept and reported.
func (d *Decomposer) Decompose(batch *parcel.Batch) (DecomposeStats, []parcel.Issue) {
	var (
		stats  DecomposeStats
		issues []parcel.Issue
	)
	next := batch.NextID()
	out := make([]parcel.Record, 0, batch.Len())

	for _, rec := range batch.Records {
		kind, pieces, err := d.Classify(rec)
		if err != nil {
			issues = append(issues, parcel.NewWarning(parcel.StageSanitize, parcel.FeatureRef(rec.ID),
				"multipart classification failed: %v", err))
			out = append(out, rec)
			continue
		}

		switch kind {
		case ComplexSinglePart:
			stats.Complex++
			out = append(out, rec)
		case ConnectedMultipart:
			stats.Dissolved++
			if len(pieces) == 1 {
				rec.Geometry = parcel.SinglePart(pieces[0])
			}
			out = append(out, rec)
		case TrueMultipart:
			stats.Split++
			for _, p := range pieces {
				child := rec.Clone()
				child.ID = next
				next++
				child.Geometry = parcel.SinglePart(p)
				out = append(out, child)
				stats.PartsCreated++
			}
			d.logger.Debug().Int("feature", rec.ID).Int("parts", len(pieces)).Msg("split multipart feature")
		default:
			out = append(out, rec)
		}
	}

	batch.Records = out
	if stats.Split > 0 || stats.Dissolved > 0 {
		d.logger.Info().Int("split", stats.Split).Int("parts", stats.PartsCreated).Int("dissolved", stats.Dissolved).Msg("multipart decomposition complete")
	}
	return stats, issues
}
