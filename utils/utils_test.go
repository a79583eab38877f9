package utils

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/bsaid97/go-parcel-fixer/parcel"
)

func TestUTMProjectionRoundTrip(t *testing.T) {
	for _, id := range []int{32642, 32643, 32647, 32755} {
		wkt, ok := UTMProjection(id)
		require.True(t, ok, id)
		got, ok := ParseProjection(wkt)
		require.True(t, ok, id)
		assert.Equal(t, id, got)
	}

	wkt, _ := UTMProjection(32643)
	assert.Contains(t, wkt, `PARAMETER["Central_Meridian",75.0]`)
	assert.Contains(t, wkt, `PARAMETER["False_Northing",0.0]`)

	_, ok := UTMProjection(4326)
	assert.False(t, ok)
}

func TestParseProjectionAuthority(t *testing.T) {
	wkt := `PROJCS["WGS 84 / UTM zone 44N",GEOGCS["WGS 84"],UNIT["metre",1],AUTHORITY["EPSG","32644"]]`
	id, ok := ParseProjection(wkt)
	require.True(t, ok)
	assert.Equal(t, 32644, id)

	_, ok = ParseProjection(`GEOGCS["GCS_WGS_1984",DATUM["D_WGS_1984"]]`)
	assert.False(t, ok)
}

func TestTruncateFullGeometry(t *testing.T) {
	g := parcel.NewMultiPolygon(
		[][][]float64{{{0.123456789, 0}, {1, 0}, {1, 1.987654321}, {0, 1}, {0.123456789, 0}}},
		// collapses to a point at two decimals
		[][][]float64{{{5, 5}, {5.001, 5}, {5.001, 5.001}, {5, 5.001}, {5, 5}}},
	)

	out, err := TruncateFullGeometry(g, 2)
	require.NoError(t, err)
	require.Equal(t, 1, out.NumPolygons())
	ring := out.Polygon(0).LinearRing(0).Coords()
	assert.Equal(t, geom.Coord{0.12, 0}, ring[0])
	assert.Equal(t, geom.Coord{1, 1.99}, ring[2])

	_, err = TruncateFullGeometry(nil, 2)
	assert.Error(t, err)
}

func TestTruncateDropsCollapsedHole(t *testing.T) {
	g := parcel.NewMultiPolygon([][][]float64{
		{{0, 0}, {10, 0}, {10, 10}, {0, 10}, {0, 0}},
		{{2, 2}, {2.001, 2}, {2.001, 2.001}, {2, 2.001}, {2, 2}},
	})
	out, err := TruncateFullGeometry(g, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, out.Polygon(0).NumLinearRings())
}

func TestSpatialIndexNeighbors(t *testing.T) {
	si := NewSpatialIndex(0.01)
	assert.True(t, si.AddGeometry(parcel.Rect(0, 0, 1, 1), 10, 0))
	assert.True(t, si.AddGeometry(parcel.Rect(1.005, 0, 2, 1), 11, 1))
	assert.True(t, si.AddGeometry(parcel.Rect(50, 50, 51, 51), 12, 2))
	assert.False(t, si.AddGeometry(nil, 13, 3))
	assert.Equal(t, 3, si.Len())

	var ids []int
	for _, n := range si.FindNeighbors(parcel.Rect(0, 0, 1, 1)) {
		ids = append(ids, n.ID)
	}
	assert.Equal(t, []int{10, 11}, ids)
	assert.Empty(t, si.FindNeighbors(parcel.Rect(20, 20, 21, 21)))
}

func TestParallelMapKeepsOrder(t *testing.T) {
	items := make([]int, 100)
	for i := range items {
		items[i] = i
	}
	tracker := NewProgressTracker(int64(len(items)), "squares", zerolog.Nop())

	out := ParallelMap(items, 4, func(n int) int { return n * n }, tracker)

	require.Len(t, out, 100)
	for i, v := range out {
		assert.Equal(t, i*i, v)
	}
	processed, total, pct := tracker.GetProgress()
	assert.Equal(t, int64(100), processed)
	assert.Equal(t, int64(100), total)
	assert.Equal(t, 100.0, pct)

	assert.Empty(t, ParallelMap([]int{}, 0, func(n int) int { return n }, nil))
}
