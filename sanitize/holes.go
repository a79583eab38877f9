package sanitize

import (
	"github.com/rs/zerolog"
	"github.com/twpayne/go-geom"

	"github.com/bsaid97/go-parcel-fixer/parcel"
)

type HoleStripper struct {
	logger zerolog.Logger
}

func NewHoleStripper(logger zerolog.Logger) *HoleStripper {
	return &HoleStripper{logger: logger.With().Str("component", "hole-stripper").Logger()}
}

// StripHoles keeps only the exterior ring of rec. When several exterior
// rings are present the largest is kept and a warning is returned. The
// second return reports whether the geometry changed.
func (h *HoleStripper) StripHoles(rec parcel.Record) (parcel.Record, bool, *parcel.Issue) {
	if rec.Geometry == nil {
		return rec, false, nil
	}
	if rec.Geometry.NumPolygons() == 1 && rec.Geometry.Polygon(0).NumLinearRings() == 1 {
		return rec, false, nil
	}

	exteriors := make([][]geom.Coord, 0, rec.Geometry.NumPolygons())
	for i := 0; i < rec.Geometry.NumPolygons(); i++ {
		p := rec.Geometry.Polygon(i)
		if p.NumLinearRings() == 0 || p.LinearRing(0).NumCoords() == 0 {
			continue
		}
		exteriors = append(exteriors, p.LinearRing(0).Coords())
	}
	if len(exteriors) == 0 {
		return rec, false, nil
	}

	var issue *parcel.Issue
	keep := exteriors[0]
	if len(exteriors) > 1 {
		best := ringArea(keep)
		for _, ring := range exteriors[1:] {
			if a := ringArea(ring); a > best {
				best, keep = a, ring
			}
		}
		is := parcel.NewWarning(parcel.StageSanitize, parcel.FeatureRef(rec.ID),
			"%d exterior rings found, kept the largest (area %.4f)", len(exteriors), best)
		issue = &is
	}

	out := rec
	out.Geometry = geom.NewMultiPolygon(geom.XY).MustSetCoords([][][]geom.Coord{{keep}})
	return out, true, issue
}

// StripAll applies StripHoles to every record and returns the number of
// records changed.
func (h *HoleStripper) StripAll(batch *parcel.Batch) (int, []parcel.Issue) {
	var (
		changed int
		issues  []parcel.Issue
	)
	for i, rec := range batch.Records {
		out, ok, issue := h.StripHoles(rec)
		if issue != nil {
			issues = append(issues, *issue)
		}
		if ok {
			batch.Records[i] = out
			changed++
		}
	}
	if changed > 0 {
		h.logger.Info().Int("features", changed).Msg("removed interior rings")
	}
	return changed, issues
}

func ringArea(coords []geom.Coord) float64 {
	if len(coords) < 4 {
		return 0
	}
	return geom.NewLinearRing(geom.XY).MustSetCoords(coords).Area()
}
