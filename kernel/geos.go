package kernel

import (
	"fmt"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geos"

	"github.com/bsaid97/go-parcel-fixer/parcel"
)

// quadSegs is the number of segments per quarter circle used by Buffer.
const quadSegs = 8

// GEOS implements Kernel on top of libgeos.
type GEOS struct{}

func NewGEOS() *GEOS { return &GEOS{} }

// guard converts a GEOS panic into a GeometryError on the named return.
func guard(op string, err *error) {
	if r := recover(); r != nil {
		*err = &parcel.GeometryError{Op: op, Reason: fmt.Sprint(r)}
	}
}

func isEmpty(mp *geom.MultiPolygon) bool {
	return mp == nil || mp.Empty() || mp.NumPolygons() == 0
}

func (k *GEOS) Area(g *geom.MultiPolygon) float64 {
	if isEmpty(g) {
		return 0
	}
	return g.Area()
}

// pair converts both operands and hands them to fn, releasing them after.
func pair(op string, a, b *geom.MultiPolygon, fn func(ga, gb *geos.Geom) error) (err error) {
	defer guard(op, &err)
	ga, err := toGEOS(a)
	if err != nil {
		return &parcel.GeometryError{Op: op, Reason: err.Error()}
	}
	defer ga.Destroy()
	gb, err := toGEOS(b)
	if err != nil {
		return &parcel.GeometryError{Op: op, Reason: err.Error()}
	}
	defer gb.Destroy()
	return fn(ga, gb)
}

func (k *GEOS) Relate(a, b *geom.MultiPolygon) (Relation, error) {
	rel := Relation{AreaA: k.Area(a), AreaB: k.Area(b)}
	if isEmpty(a) || isEmpty(b) {
		return rel, nil
	}
	err := pair("relate", a, b, func(ga, gb *geos.Geom) error {
		rel.Intersects = ga.Intersects(gb)
		if !rel.Intersects {
			return nil
		}
		rel.Overlaps = ga.Overlaps(gb)
		rel.AContainsB = ga.Contains(gb)
		rel.BContainsA = gb.Contains(ga)
		rel.Touches = ga.Touches(gb)
		if !rel.Touches {
			inter := ga.Intersection(gb)
			rel.IntersectionArea = inter.Area()
			inter.Destroy()
		}
		return nil
	})
	return rel, err
}

func (k *GEOS) Intersects(a, b *geom.MultiPolygon) (bool, error) {
	if isEmpty(a) || isEmpty(b) {
		return false, nil
	}
	var out bool
	err := pair("intersects", a, b, func(ga, gb *geos.Geom) error {
		out = ga.Intersects(gb)
		return nil
	})
	return out, err
}

func (k *GEOS) Contains(a, b *geom.MultiPolygon) (bool, error) {
	if isEmpty(a) || isEmpty(b) {
		return false, nil
	}
	var out bool
	err := pair("contains", a, b, func(ga, gb *geos.Geom) error {
		out = ga.Contains(gb)
		return nil
	})
	return out, err
}

func (k *GEOS) Intersection(a, b *geom.MultiPolygon) (*geom.MultiPolygon, error) {
	if isEmpty(a) || isEmpty(b) {
		return geom.NewMultiPolygon(geom.XY), nil
	}
	var out *geom.MultiPolygon
	err := pair("intersection", a, b, func(ga, gb *geos.Geom) error {
		res := ga.Intersection(gb)
		defer res.Destroy()
		var err error
		out, err = fromGEOS(res)
		return err
	})
	return out, err
}

func (k *GEOS) Difference(a, b *geom.MultiPolygon) (*geom.MultiPolygon, error) {
	if isEmpty(a) {
		return geom.NewMultiPolygon(geom.XY), nil
	}
	if isEmpty(b) {
		return a.Clone(), nil
	}
	var out *geom.MultiPolygon
	err := pair("difference", a, b, func(ga, gb *geos.Geom) error {
		res := ga.Difference(gb)
		defer res.Destroy()
		var err error
		out, err = fromGEOS(res)
		return err
	})
	return out, err
}

func (k *GEOS) Buffer(g *geom.MultiPolygon, distance float64) (out *geom.MultiPolygon, err error) {
	defer guard("buffer", &err)
	if isEmpty(g) {
		return geom.NewMultiPolygon(geom.XY), nil
	}
	gg, err := toGEOS(g)
	if err != nil {
		return nil, &parcel.GeometryError{Op: "buffer", Reason: err.Error()}
	}
	defer gg.Destroy()
	res := gg.Buffer(distance, quadSegs)
	defer res.Destroy()
	return fromGEOS(res)
}

func (k *GEOS) Union(gs ...*geom.MultiPolygon) (out *geom.MultiPolygon, err error) {
	defer guard("union", &err)
	parts := make([]*geos.Geom, 0, len(gs))
	defer func() {
		for _, p := range parts {
			p.Destroy()
		}
	}()
	for _, g := range gs {
		if isEmpty(g) {
			continue
		}
		gg, err := toGEOS(g)
		if err != nil {
			return nil, &parcel.GeometryError{Op: "union", Reason: err.Error()}
		}
		parts = append(parts, gg)
	}
	if len(parts) == 0 {
		return geom.NewMultiPolygon(geom.XY), nil
	}
	res := unionHalves(parts)
	defer res.Destroy()
	return fromGEOS(res)
}

// unionHalves unions parts pairwise by halves so intermediate results stay
// small. Leaves are unary-unioned, which dissolves a record's own parts.
// The caller keeps ownership of parts.
func unionHalves(parts []*geos.Geom) *geos.Geom {
	if len(parts) == 1 {
		return parts[0].UnaryUnion()
	}
	mid := len(parts) / 2
	left := unionHalves(parts[:mid])
	defer left.Destroy()
	right := unionHalves(parts[mid:])
	defer right.Destroy()
	return left.Union(right)
}

func (k *GEOS) IsValid(g *geom.MultiPolygon) (ok bool, reason string, err error) {
	defer guard("is_valid", &err)
	if isEmpty(g) {
		return true, "", nil
	}
	gg, err := toGEOS(g)
	if err != nil {
		return false, err.Error(), nil
	}
	defer gg.Destroy()
	if gg.IsValid() {
		return true, "", nil
	}
	return false, gg.IsValidReason(), nil
}

func (k *GEOS) MakeValid(g *geom.MultiPolygon) (out *geom.MultiPolygon, err error) {
	defer guard("make_valid", &err)
	if isEmpty(g) {
		return geom.NewMultiPolygon(geom.XY), nil
	}
	gg, err := toGEOS(g)
	if err != nil {
		return nil, &parcel.GeometryError{Op: "make_valid", Reason: err.Error()}
	}
	defer gg.Destroy()
	fixed := gg.MakeValidWithParams(geos.MakeValidStructure, geos.MakeValidDiscardCollapsed)
	defer fixed.Destroy()
	return fromGEOS(fixed)
}
