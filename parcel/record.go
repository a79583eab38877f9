package parcel

import (
	"strings"

	"github.com/twpayne/go-geom"
)

// Record is one parcel: an id, a polygonal geometry and its attribute row.
// Geometry is nil for a null shape. Each polygon of the multipolygon is a
// ring group, ring 0 being the exterior boundary and the rest holes.
type Record struct {
	ID         int
	Geometry   *geom.MultiPolygon
	Attributes map[string]any
}

func (r Record) Clone() Record {
	out := Record{ID: r.ID}
	if r.Geometry != nil {
		out.Geometry = r.Geometry.Clone()
	}
	if r.Attributes != nil {
		out.Attributes = make(map[string]any, len(r.Attributes))
		for k, v := range r.Attributes {
			out.Attributes[k] = v
		}
	}
	return out
}

func (r Record) IsNull() bool {
	return r.Geometry == nil || r.Geometry.Empty()
}

// NumParts counts ring groups that carry at least one coordinate.
func (r Record) NumParts() int {
	if r.Geometry == nil {
		return 0
	}
	n := 0
	for i := 0; i < r.Geometry.NumPolygons(); i++ {
		if p := r.Geometry.Polygon(i); p.NumLinearRings() > 0 && p.LinearRing(0).NumCoords() > 0 {
			n++
		}
	}
	return n
}

// NumRings is the total ring count across all parts.
func (r Record) NumRings() int {
	if r.Geometry == nil {
		return 0
	}
	n := 0
	for i := 0; i < r.Geometry.NumPolygons(); i++ {
		n += r.Geometry.Polygon(i).NumLinearRings()
	}
	return n
}

func (r Record) Area() float64 {
	if r.Geometry == nil {
		return 0
	}
	return r.Geometry.Area()
}

// Attr looks an attribute up by name, falling back to a case-insensitive
// match since geodatabase field names are not case sensitive.
func (r Record) Attr(name string) (any, bool) {
	if v, ok := r.Attributes[name]; ok {
		return v, true
	}
	for k, v := range r.Attributes {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return nil, false
}

// SetAttr writes name, reusing the existing key spelling when one matches
// case-insensitively.
func (r *Record) SetAttr(name string, value any) {
	if r.Attributes == nil {
		r.Attributes = make(map[string]any)
	}
	for k := range r.Attributes {
		if strings.EqualFold(k, name) {
			r.Attributes[k] = value
			return
		}
	}
	r.Attributes[name] = value
}

// NewMultiPolygon builds an XY multipolygon from plain coordinate arrays,
// one [][][]float64 per part in GeoJSON order.
func NewMultiPolygon(parts ...[][][]float64) *geom.MultiPolygon {
	coords := make([][][]geom.Coord, 0, len(parts))
	for _, part := range parts {
		rings := make([][]geom.Coord, 0, len(part))
		for _, ring := range part {
			cs := make([]geom.Coord, 0, len(ring))
			for _, xy := range ring {
				cs = append(cs, geom.Coord{xy[0], xy[1]})
			}
			rings = append(rings, cs)
		}
		coords = append(coords, rings)
	}
	return geom.NewMultiPolygon(geom.XY).MustSetCoords(coords)
}

// Rect is an axis aligned single-part rectangle, handy for fixtures.
func Rect(minX, minY, maxX, maxY float64) *geom.MultiPolygon {
	return NewMultiPolygon([][][]float64{{
		{minX, minY}, {maxX, minY}, {maxX, maxY}, {minX, maxY}, {minX, minY},
	}})
}

// SinglePart wraps one polygon as a one-part multipolygon.
func SinglePart(p *geom.Polygon) *geom.MultiPolygon {
	mp := geom.NewMultiPolygon(geom.XY)
	if p == nil || p.Empty() {
		return mp
	}
	if err := mp.Push(p); err != nil {
		return geom.NewMultiPolygon(geom.XY)
	}
	return mp
}

// GeometryEqual compares coordinates and ring structure exactly.
func GeometryEqual(a, b *geom.MultiPolygon) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	fa, fb := a.FlatCoords(), b.FlatCoords()
	if len(fa) != len(fb) {
		return false
	}
	for i := range fa {
		if fa[i] != fb[i] {
			return false
		}
	}
	ea, eb := a.Endss(), b.Endss()
	if len(ea) != len(eb) {
		return false
	}
	for i := range ea {
		if len(ea[i]) != len(eb[i]) {
			return false
		}
		for j := range ea[i] {
			if ea[i][j] != eb[i][j] {
				return false
			}
		}
	}
	return true
}
