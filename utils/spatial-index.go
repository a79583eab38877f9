package utils

import (
	"math"
	"sort"

	"github.com/dhconnelly/rtreego"
	"github.com/twpayne/go-geom"
)

// minExtent keeps degenerate (zero width) boxes acceptable to rtreego.
const minExtent = 1e-9

type SpatialIndex struct {
	tree      *rtreego.Rtree
	tolerance float64
	size      int
}

type IndexedGeometry struct {
	Geom  *geom.MultiPolygon
	ID    int
	Order int
	rect  rtreego.Rect
}

// Bounds implements rtreego.Spatial.
func (ig *IndexedGeometry) Bounds() rtreego.Rect {
	return ig.rect
}

// NewSpatialIndex builds an R-tree whose boxes are grown by tolerance on
// every side, so near misses still come back as candidates.
func NewSpatialIndex(tolerance float64) *SpatialIndex {
	return &SpatialIndex{
		tree:      rtreego.NewTree(2, 25, 50),
		tolerance: tolerance,
	}
}

func (si *SpatialIndex) Len() int { return si.size }

// AddGeometry indexes g under id. Order is the position of the record in
// the batch and is used to keep query results deterministic.
func (si *SpatialIndex) AddGeometry(g *geom.MultiPolygon, id, order int) bool {
	rect, ok := si.rectFor(g)
	if !ok {
		return false
	}
	si.tree.Insert(&IndexedGeometry{Geom: g, ID: id, Order: order, rect: rect})
	si.size++
	return true
}

// FindNeighbors returns the indexed geometries whose grown boxes intersect
// the grown box of g, sorted by batch order.
func (si *SpatialIndex) FindNeighbors(g *geom.MultiPolygon) []*IndexedGeometry {
	rect, ok := si.rectFor(g)
	if !ok {
		return nil
	}
	hits := si.tree.SearchIntersect(rect)
	out := make([]*IndexedGeometry, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.(*IndexedGeometry))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

func (si *SpatialIndex) rectFor(g *geom.MultiPolygon) (rtreego.Rect, bool) {
	if g == nil || g.Empty() {
		return rtreego.Rect{}, false
	}
	b := g.Bounds()
	minX, minY := b.Min(0)-si.tolerance, b.Min(1)-si.tolerance
	maxX, maxY := b.Max(0)+si.tolerance, b.Max(1)+si.tolerance
	if math.IsNaN(minX) || math.IsInf(minX, 0) || math.IsNaN(maxY) || math.IsInf(maxY, 0) {
		return rtreego.Rect{}, false
	}
	point := rtreego.Point{minX, minY}
	lengths := []float64{math.Max(maxX-minX, minExtent), math.Max(maxY-minY, minExtent)}
	rect, err := rtreego.NewRect(point, lengths)
	if err != nil {
		return rtreego.Rect{}, false
	}
	return rect, true
}
