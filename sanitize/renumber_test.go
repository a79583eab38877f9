package sanitize

import (
	"sort"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bsaid97/go-parcel-fixer/parcel"
)

func plotBatch() *parcel.Batch {
	mk := func(id int, date string, plot any) parcel.Record {
		r := rec(id, float64(id), 0, float64(id)+1, 1)
		r.Attributes = map[string]any{"soi_drone_survey_date": date, "clr_plot_no": plot, "soi_plot_no": plot}
		return r
	}
	return &parcel.Batch{
		Fields: []string{"OBJECTID", "soi_drone_survey_date", "clr_plot_no", "soi_plot_no", "soi_uniq_id"},
		Records: []parcel.Record{
			mk(10, "2023-05-03", 7),
			mk(4, "2023-05-01", 2),
			mk(8, "2023-05-02", 2),
			mk(2, "2023-05-02", nil),
		},
	}
}

func TestRenumberContiguous(t *testing.T) {
	batch := plotBatch()
	r := NewRenumberer(parcel.DefaultPolicy(), zerolog.Nop())
	stats := r.Renumber(batch, SortKey{Fields: []string{"soi_drone_survey_date"}})

	assert.Equal(t, "soi_drone_survey_date", stats.SortField)
	assert.Equal(t, []int{1, 2, 3, 4}, batch.IDs())

	// ordered by date, the two 05-02 records by their old id (2 before 8)
	assert.Equal(t, 4.0, batch.Records[0].Geometry.Bounds().Min(0))
	assert.Equal(t, 2.0, batch.Records[1].Geometry.Bounds().Min(0))
	assert.Equal(t, 8.0, batch.Records[2].Geometry.Bounds().Min(0))
	assert.Equal(t, 10.0, batch.Records[3].Geometry.Bounds().Min(0))

	var plots []int
	for _, rec := range batch.Records {
		n, ok := parcel.AsInt(rec.Attributes["clr_plot_no"])
		require.True(t, ok)
		plots = append(plots, n)
		assert.Equal(t, rec.Attributes["clr_plot_no"], rec.Attributes["soi_plot_no"])
	}
	sort.Ints(plots)
	assert.Equal(t, []int{1, 2, 3, 4}, plots)
	assert.Equal(t, 4, stats.UniqueIDs)
}

func TestRenumberIsIdempotent(t *testing.T) {
	batch := plotBatch()
	r := NewRenumberer(parcel.DefaultPolicy(), zerolog.Nop())
	key := SortKey{Fields: []string{"soi_drone_survey_date"}}
	r.Renumber(batch, key)
	before := batch.Clone()

	stats := r.Renumber(batch, key)
	assert.Zero(t, stats.Renumbered)
	assert.Zero(t, stats.UniqueIDs)
	assert.True(t, parcel.Diff(before, batch).Empty())
}

func TestRenumberMixedSortValues(t *testing.T) {
	values := map[int]any{
		1: "abc",
		2: "2024-01-02",
		3: 5,
		4: nil,
		5: "2023-12-31",
		6: "7",
		7: "10",
		8: "Abc",
	}
	var records []parcel.Record
	for id := 1; id <= len(values); id++ {
		r := rec(id, float64(id), 0, float64(id)+1, 1)
		r.Attributes = map[string]any{"soi_drone_survey_date": values[id]}
		records = append(records, r)
	}
	batch := &parcel.Batch{Fields: []string{"soi_drone_survey_date"}, Records: records}

	NewRenumberer(parcel.DefaultPolicy(), zerolog.Nop()).Renumber(batch, SortKey{Fields: []string{"soi_drone_survey_date"}})

	var order []float64
	for _, r := range batch.Records {
		order = append(order, r.Geometry.Bounds().Min(0))
	}
	// dates, then numbers, then strings, then missing
	assert.Equal(t, []float64{5, 2, 3, 6, 7, 8, 1, 4}, order)
}

func TestRenumberFallsBackToID(t *testing.T) {
	batch := &parcel.Batch{Records: []parcel.Record{rec(30, 0, 0, 1, 1), rec(10, 2, 0, 3, 1), rec(20, 4, 0, 5, 1)}}
	r := NewRenumberer(parcel.DefaultPolicy(), zerolog.Nop())
	stats := r.Renumber(batch, SortKey{Fields: []string{"soi_drone_survey_date"}})

	assert.Empty(t, stats.SortField)
	assert.Equal(t, []int{1, 2, 3}, batch.IDs())
	assert.Equal(t, 4.0, batch.Records[1].Geometry.Bounds().Min(0))
	assert.Zero(t, stats.UniqueIDs)
}

func TestRenumberEmptyBatch(t *testing.T) {
	batch := &parcel.Batch{}
	stats := NewRenumberer(parcel.DefaultPolicy(), zerolog.Nop()).Renumber(batch, SortKey{})
	assert.Zero(t, stats.Renumbered)
	assert.Zero(t, batch.Len())
}

func TestUniqueIDsOnlyReplaceDuplicates(t *testing.T) {
	batch := plotBatch()
	batch.Records[0].Attributes["soi_uniq_id"] = "{AAA}"
	batch.Records[1].Attributes["soi_uniq_id"] = "{BBB}"
	batch.Records[2].Attributes["soi_uniq_id"] = "{aaa}"
	batch.Records[3].Attributes["soi_uniq_id"] = "{CCC}"

	r := NewRenumberer(parcel.DefaultPolicy(), zerolog.Nop())
	r.newID = func() string { return "{NEW}" }
	n := r.assignUniqueIDs(batch)
	assert.Equal(t, 1, n)
	assert.Equal(t, "{NEW}", batch.Records[2].Attributes["soi_uniq_id"])
	assert.Equal(t, "{AAA}", batch.Records[0].Attributes["soi_uniq_id"])
}
