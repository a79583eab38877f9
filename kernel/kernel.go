// Package kernel is the planar geometry backend used by the sanitizer and
// validator. All geometries cross the boundary as go-geom multipolygons so
// the rest of the module never touches GEOS handles.
package kernel

import "github.com/twpayne/go-geom"

// Relation is every predicate the overlap classifier needs for one pair,
// computed in a single pass.
type Relation struct {
	Intersects       bool
	Overlaps         bool
	AContainsB       bool
	BContainsA       bool
	Touches          bool
	IntersectionArea float64
	AreaA            float64
	AreaB            float64
}

type Kernel interface {
	Area(g *geom.MultiPolygon) float64
	Relate(a, b *geom.MultiPolygon) (Relation, error)
	Intersects(a, b *geom.MultiPolygon) (bool, error)
	Contains(a, b *geom.MultiPolygon) (bool, error)
	Intersection(a, b *geom.MultiPolygon) (*geom.MultiPolygon, error)
	Difference(a, b *geom.MultiPolygon) (*geom.MultiPolygon, error)
	Buffer(g *geom.MultiPolygon, distance float64) (*geom.MultiPolygon, error)
	Union(gs ...*geom.MultiPolygon) (*geom.MultiPolygon, error)
	// IsValid reports OGC validity and, when invalid, the reason.
	IsValid(g *geom.MultiPolygon) (bool, string, error)
	MakeValid(g *geom.MultiPolygon) (*geom.MultiPolygon, error)
}
