package sanitize

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/bsaid97/go-parcel-fixer/kernel"
	"github.com/bsaid97/go-parcel-fixer/parcel"
)

// triangles with areas 1, 2 and 3, far apart from each other
func threeTriangles() *geom.MultiPolygon {
	return parcel.NewMultiPolygon(
		[][][]float64{{{0, 0}, {2, 0}, {0, 1}, {0, 0}}},
		[][][]float64{{{10, 0}, {12, 0}, {10, 2}, {10, 0}}},
		[][][]float64{{{20, 0}, {23, 0}, {20, 2}, {20, 0}}},
	)
}

func TestDecomposeThreeTriangles(t *testing.T) {
	k := kernel.NewGEOS()
	attrs := map[string]any{"survey_unit_id": "SU-1", "clr_plot_no": 4}
	batch := &parcel.Batch{Records: []parcel.Record{
		{ID: 4, Geometry: threeTriangles(), Attributes: attrs},
	}}
	total := batch.Records[0].Area()

	stats, issues := NewDecomposer(k, zerolog.Nop()).Decompose(batch)
	assert.Empty(t, issues)
	assert.Equal(t, 1, stats.Split)
	assert.Equal(t, 3, stats.PartsCreated)
	require.Equal(t, 3, batch.Len())

	sum := 0.0
	for i, r := range batch.Records {
		assert.Equal(t, 1, r.NumParts())
		assert.Equal(t, 5+i, r.ID)
		assert.Equal(t, attrs, r.Attributes)
		assert.InDelta(t, float64(i+1), r.Area(), 1e-9)
		sum += r.Area()
	}
	assert.InDelta(t, 6.0, sum, 1e-9)
	assert.InDelta(t, total, sum, eps)
}

func TestDecomposeChildrenDoNotShareAttributes(t *testing.T) {
	batch := &parcel.Batch{Records: []parcel.Record{
		{ID: 1, Geometry: threeTriangles(), Attributes: map[string]any{"a": "x"}},
	}}
	NewDecomposer(kernel.NewGEOS(), zerolog.Nop()).Decompose(batch)
	batch.Records[0].Attributes["a"] = "changed"
	assert.Equal(t, "x", batch.Records[1].Attributes["a"])
}

func TestDecomposeKeepsPositionAndSingles(t *testing.T) {
	batch := &parcel.Batch{Records: []parcel.Record{
		rec(1, 0, 0, 1, 1),
		{ID: 2, Geometry: parcel.NewMultiPolygon(
			[][][]float64{{{5, 5}, {6, 5}, {6, 6}, {5, 6}, {5, 5}}},
			[][][]float64{{{8, 5}, {9, 5}, {9, 6}, {8, 6}, {8, 5}}},
		)},
		rec(3, 20, 20, 21, 21),
	}}
	NewDecomposer(kernel.NewGEOS(), zerolog.Nop()).Decompose(batch)
	assert.Equal(t, []int{1, 4, 5, 3}, batch.IDs())
}

func TestClassifyConnectedParts(t *testing.T) {
	d := NewDecomposer(kernel.NewGEOS(), zerolog.Nop())
	touching := parcel.Record{ID: 1, Geometry: parcel.NewMultiPolygon(
		[][][]float64{{{0, 0}, {1, 0}, {1, 1}, {0, 1}, {0, 0}}},
		[][][]float64{{{1, 0}, {2, 0}, {2, 1}, {1, 1}, {1, 0}}},
	)}
	kind, pieces, err := d.Classify(touching)
	require.NoError(t, err)
	assert.Equal(t, ConnectedMultipart, kind)
	require.Len(t, pieces, 1)
	assert.InDelta(t, 2.0, pieces[0].Area(), 1e-9)

	batch := &parcel.Batch{Records: []parcel.Record{touching}}
	stats, _ := d.Decompose(batch)
	assert.Equal(t, 1, stats.Dissolved)
	require.Equal(t, 1, batch.Len())
	assert.Equal(t, 1, batch.Records[0].ID)
	assert.Equal(t, 1, batch.Records[0].NumParts())
}

func TestClassifyComplexSinglePart(t *testing.T) {
	mp := geom.NewMultiPolygon(geom.XY)
	require.NoError(t, mp.Push(geom.NewPolygon(geom.XY)))
	require.NoError(t, mp.Push(geom.NewPolygon(geom.XY).MustSetCoords([][]geom.Coord{{{0, 0}, {1, 0}, {1, 1}, {0, 0}}})))

	d := NewDecomposer(kernel.NewGEOS(), zerolog.Nop())
	kind, _, err := d.Classify(parcel.Record{ID: 1, Geometry: mp})
	require.NoError(t, err)
	assert.Equal(t, ComplexSinglePart, kind)

	batch := &parcel.Batch{Records: []parcel.Record{{ID: 1, Geometry: mp}}}
	stats, _ := d.Decompose(batch)
	assert.Equal(t, 1, stats.Complex)
	assert.Same(t, mp, batch.Records[0].Geometry)
}
