package parcel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleBatch() *Batch {
	return &Batch{
		CRSID:  32643,
		Fields: []string{"OBJECTID", "clr_plot_no"},
		Records: []Record{
			{ID: 3, Geometry: Rect(0, 0, 1, 1), Attributes: map[string]any{"clr_plot_no": 1}},
			{ID: 5, Geometry: Rect(2, 0, 3, 1), Attributes: map[string]any{"clr_plot_no": 2}},
			{ID: 9, Geometry: Rect(4, 0, 5, 1), Attributes: map[string]any{"clr_plot_no": 3}},
		},
	}
}

func TestBatchCloneIsDeep(t *testing.T) {
	b := sampleBatch()
	c := b.Clone()
	c.Records[0].Attributes["clr_plot_no"] = 99
	c.Records[0].Geometry = Rect(10, 10, 11, 11)

	assert.Equal(t, 1, b.Records[0].Attributes["clr_plot_no"])
	assert.InDelta(t, 1.0, b.Records[0].Area(), 1e-12)
	assert.Equal(t, 10, b.NextID())
}

func TestDiffRenumberedIDs(t *testing.T) {
	before := sampleBatch()
	after := before.Clone()
	for i := range after.Records {
		after.Records[i].ID = i + 1
	}

	cs := Diff(before, after)
	assert.Equal(t, []int{5, 9}, cs.Deleted)
	require.Len(t, cs.Inserted, 2)
	assert.Equal(t, 1, cs.Inserted[0].ID)
	assert.Equal(t, 2, cs.Inserted[1].ID)
	// id 3 now carries what used to be record 9
	require.Len(t, cs.GeometryUpdates, 1)
	assert.Equal(t, 3, cs.GeometryUpdates[0].ID)
	require.Len(t, cs.AttributeUpdates, 1)
}

func TestDiffNumericAttributesAreStable(t *testing.T) {
	before := sampleBatch()
	after := before.Clone()
	after.Records[1].Attributes["clr_plot_no"] = 2.0

	assert.True(t, Diff(before, after).Empty())
}

func TestDeleteAndReplace(t *testing.T) {
	b := sampleBatch()
	assert.True(t, b.Delete(5))
	assert.False(t, b.Delete(5))
	assert.Equal(t, []int{3, 9}, b.IDs())

	assert.True(t, b.Replace(Record{ID: 9, Geometry: Rect(0, 0, 2, 2)}))
	r, ok := b.Get(9)
	require.True(t, ok)
	assert.InDelta(t, 4.0, r.Area(), 1e-12)
	assert.False(t, b.Replace(Record{ID: 42}))
}

func TestRecordParts(t *testing.T) {
	mp := NewMultiPolygon(
		[][][]float64{{{0, 0}, {1, 0}, {1, 1}, {0, 0}}},
		[][][]float64{{{5, 5}, {6, 5}, {6, 6}, {5, 5}}, {{5.2, 5.1}, {5.8, 5.1}, {5.8, 5.7}, {5.2, 5.1}}},
	)
	r := Record{ID: 1, Geometry: mp}
	assert.Equal(t, 2, r.NumParts())
	assert.Equal(t, 3, r.NumRings())
	assert.False(t, r.IsNull())
	assert.True(t, Record{ID: 2}.IsNull())
}

func TestAttrIsCaseInsensitive(t *testing.T) {
	r := Record{Attributes: map[string]any{"Survey_Unit_ID": "SU1"}}
	v, ok := r.Attr("survey_unit_id")
	require.True(t, ok)
	assert.Equal(t, "SU1", v)

	r.SetAttr("SURVEY_UNIT_ID", "SU2")
	assert.Len(t, r.Attributes, 1)
	assert.Equal(t, "SU2", r.Attributes["Survey_Unit_ID"])
}
