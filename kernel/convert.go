package kernel

import (
	"fmt"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkb"
	"github.com/twpayne/go-geos"
)

func toGEOS(mp *geom.MultiPolygon) (*geos.Geom, error) {
	data, err := wkb.Marshal(mp, wkb.NDR)
	if err != nil {
		return nil, fmt.Errorf("encoding wkb: %w", err)
	}
	g, err := geos.NewGeomFromWKB(data)
	if err != nil {
		return nil, fmt.Errorf("decoding wkb into geos: %w", err)
	}
	return g, nil
}

func fromGEOS(g *geos.Geom) (*geom.MultiPolygon, error) {
	if g == nil || g.IsEmpty() {
		return geom.NewMultiPolygon(geom.XY), nil
	}
	t, err := wkb.Unmarshal(g.ToWKB())
	if err != nil {
		return nil, fmt.Errorf("decoding geos wkb: %w", err)
	}
	return Polygonal(t), nil
}

// Polygonal keeps the areal parts of any geometry as an XY multipolygon.
// Points and lines produced by set operations are dropped.
func Polygonal(t geom.T) *geom.MultiPolygon {
	out := geom.NewMultiPolygon(geom.XY)
	collectPolygons(t, out)
	return out
}

func collectPolygons(t geom.T, out *geom.MultiPolygon) {
	switch g := t.(type) {
	case *geom.Polygon:
		if g.Empty() || g.NumLinearRings() == 0 {
			return
		}
		p := geom.NewPolygon(geom.XY)
		rings := make([][]geom.Coord, 0, g.NumLinearRings())
		for i := 0; i < g.NumLinearRings(); i++ {
			rings = append(rings, xyCoords(g.LinearRing(i).Coords()))
		}
		if _, err := p.SetCoords(rings); err == nil {
			_ = out.Push(p)
		}
	case *geom.MultiPolygon:
		for i := 0; i < g.NumPolygons(); i++ {
			collectPolygons(g.Polygon(i), out)
		}
	case *geom.GeometryCollection:
		for _, child := range g.Geoms() {
			collectPolygons(child, out)
		}
	}
}

// xyCoords drops Z and M so every geometry shares the XY layout.
func xyCoords(cs []geom.Coord) []geom.Coord {
	out := make([]geom.Coord, len(cs))
	for i, c := range cs {
		out[i] = geom.Coord{c[0], c[1]}
	}
	return out
}
