package utils

import (
	"fmt"
	"math"

	"github.com/twpayne/go-geom"
)

type routineResult struct {
	Result [][]geom.Coord
	Index  int
}

var PRECISION int = 7

// TruncateFullGeometry snaps every coordinate to precision decimals. Parts
// are processed concurrently and reassembled in their original order.
// Interior rings that collapse below four points are dropped; a part whose
// exterior collapses is dropped entirely.
func TruncateFullGeometry(feature *geom.MultiPolygon, precision int) (*geom.MultiPolygon, error) {
	if feature == nil {
		return nil, fmt.Errorf(`geometry is nil`)
	}
	if precision < 0 {
		precision = PRECISION
	}

	polygons := make(chan routineResult, feature.NumPolygons())
	for i := range feature.NumPolygons() {
		go func(polygon *geom.Polygon, index int) {
			polygons <- routineResult{Result: TruncateSinglePolygon(polygon, precision), Index: index}
		}(feature.Polygon(i), i)
	}

	newPolygons := make([][][]geom.Coord, feature.NumPolygons())
	for i := 0; i < feature.NumPolygons(); i++ {
		res := <-polygons
		newPolygons[res.Index] = res.Result
	}

	kept := make([][][]geom.Coord, 0, len(newPolygons))
	for _, p := range newPolygons {
		if len(p) > 0 {
			kept = append(kept, p)
		}
	}

	out, err := geom.NewMultiPolygon(geom.XY).SetCoords(kept)
	if err != nil {
		return nil, fmt.Errorf("rebuilding truncated geometry: %w", err)
	}
	return out, nil
}

func TruncateSinglePolygon(polygon *geom.Polygon, precision int) [][]geom.Coord {
	if polygon == nil || polygon.NumLinearRings() == 0 {
		return nil
	}
	var rings [][]geom.Coord
	for r := 0; r < polygon.NumLinearRings(); r++ {
		ring := truncateRing(polygon.LinearRing(r).Coords(), precision)
		if len(ring) < 4 {
			if r == 0 {
				return nil
			}
			continue
		}
		rings = append(rings, ring)
	}
	return rings
}

// truncateRing rounds each vertex and removes consecutive duplicates that
// rounding introduces.
func truncateRing(coords []geom.Coord, precision int) []geom.Coord {
	out := make([]geom.Coord, 0, len(coords))
	for _, c := range coords {
		x, y := truncateCoordinates(c[0], c[1], precision)
		if n := len(out); n > 0 && out[n-1][0] == x && out[n-1][1] == y {
			continue
		}
		out = append(out, geom.Coord{x, y})
	}
	return out
}

func truncateCoordinates(x float64, y float64, precision int) (float64, float64) {
	return roundFloat(x, uint(precision)), roundFloat(y, uint(precision))
}

func roundFloat(val float64, precision uint) float64 {
	ratio := math.Pow(10, float64(precision))
	return math.Round(val*ratio) / ratio
}
