package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bsaid97/go-parcel-fixer/parcel"
	"github.com/bsaid97/go-parcel-fixer/utils"
)

func seed() *parcel.Batch {
	return &parcel.Batch{
		CRSID:  32643,
		Fields: []string{"survey_unit_id", "clr_plot_no"},
		Records: []parcel.Record{
			{ID: 2, Geometry: parcel.Rect(2, 0, 3, 1), Attributes: map[string]any{"survey_unit_id": "SU1", "clr_plot_no": 2}},
			{ID: 1, Geometry: parcel.Rect(0, 0, 1, 1), Attributes: map[string]any{"survey_unit_id": "SU1", "clr_plot_no": 1}},
		},
	}
}

func TestMemoryLoad(t *testing.T) {
	m := NewMemory("test", seed())
	batch, err := Load(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, batch.IDs())
	assert.Equal(t, 32643, batch.CRSID)
	assert.Equal(t, []string{IDField, "survey_unit_id", "clr_plot_no"}, batch.Fields)

	n, err := m.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestMemoryIterateSelectsFields(t *testing.T) {
	m := NewMemory("test", seed())
	var got []map[string]any
	err := m.Iterate(context.Background(), []string{"CLR_PLOT_NO"}, func(r parcel.Record) error {
		got = append(got, r.Attributes)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{{"CLR_PLOT_NO": 1}, {"CLR_PLOT_NO": 2}}, got)
}

func TestApplyCommits(t *testing.T) {
	ctx := context.Background()
	m := NewMemory("test", seed())
	before := m.Snapshot()
	after := before.Clone()
	after.Delete(2)
	after.Records[0].Geometry = parcel.Rect(0, 0, 2, 2)
	after.Append(parcel.Record{ID: 7, Geometry: parcel.Rect(5, 5, 6, 6), Attributes: map[string]any{"clr_plot_no": 3}})

	err := WithinTx(ctx, m, func(tx Tx) error {
		return Apply(ctx, tx, parcel.Diff(before, after))
	})
	require.NoError(t, err)

	got := m.Snapshot()
	assert.Equal(t, []int{1, 7}, got.IDs())
	one, _ := got.Get(1)
	assert.InDelta(t, 4.0, one.Area(), 1e-12)
}

func TestWithinTxRollsBack(t *testing.T) {
	ctx := context.Background()
	m := NewMemory("test", seed())
	boom := errors.New("boom")

	err := WithinTx(ctx, m, func(tx Tx) error {
		require.NoError(t, tx.Delete(ctx, 1))
		_, err := tx.Insert(ctx, parcel.Record{Geometry: parcel.Rect(9, 9, 10, 10)})
		require.NoError(t, err)
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []int{1, 2}, m.Snapshot().IDs())
}

func TestWithinTxCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	m := NewMemory("test", seed())

	err := WithinTx(ctx, m, func(tx Tx) error {
		cancel()
		return tx.Delete(ctx, 1)
	})
	assert.ErrorIs(t, err, parcel.ErrCancelled)
	assert.Equal(t, []int{1, 2}, m.Snapshot().IDs())
}

func TestMemoryTxErrors(t *testing.T) {
	ctx := context.Background()
	m := NewMemory("test", seed())
	tx, err := m.Begin(ctx)
	require.NoError(t, err)

	assert.ErrorIs(t, tx.Delete(ctx, 42), ErrNotFound)
	_, err = tx.Insert(ctx, parcel.Record{ID: 1})
	assert.Error(t, err)
	id, err := tx.Insert(ctx, parcel.Record{})
	require.NoError(t, err)
	assert.Equal(t, 3, id)

	require.NoError(t, tx.Commit(ctx))
	assert.ErrorIs(t, tx.Commit(ctx), ErrTxDone)
	assert.NoError(t, tx.Rollback(ctx))
	assert.ErrorIs(t, tx.Delete(ctx, 1), ErrTxDone)
}

const sample = `{
  "type": "FeatureCollection",
  "crs": {"type": "name", "properties": {"name": "urn:ogc:def:crs:EPSG::32644"}},
  "features": [
    {"type": "Feature", "id": 10, "properties": {"OBJECTID": 5, "clr_plot_no": 1, "survey_unit_id": "SU1"},
     "geometry": {"type": "Polygon", "coordinates": [[[0,0],[1,0],[1,1],[0,1],[0,0]]]}},
    {"type": "Feature", "id": 11, "properties": {"clr_plot_no": 2, "vill_lgd_cd": null},
     "geometry": {"type": "MultiPolygon", "coordinates": [[[[2,0],[3,0],[3,1],[2,1],[2,0]]],[[[5,0],[6,0],[6,1],[5,1],[5,0]]]]}},
    {"type": "Feature", "properties": {"clr_plot_no": 3}, "geometry": null}
  ]
}`

func TestDecodeGeoJSON(t *testing.T) {
	batch, err := DecodeGeoJSON([]byte(sample), zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, 32644, batch.CRSID)
	assert.Equal(t, []int{5, 11, 3}, batch.IDs())
	assert.Equal(t, []string{IDField, "clr_plot_no", "survey_unit_id", "vill_lgd_cd"}, batch.Fields)

	assert.Equal(t, 1, batch.Records[0].NumParts())
	assert.Equal(t, 2, batch.Records[1].NumParts())
	assert.True(t, batch.Records[2].IsNull())
	_, hasID := batch.Records[0].Attributes["OBJECTID"]
	assert.False(t, hasID)
}

func TestDecodeGeoJSONRejects(t *testing.T) {
	_, err := DecodeGeoJSON([]byte(`{"type":"Feature"}`), zerolog.Nop())
	assert.Error(t, err)

	_, err = DecodeGeoJSON([]byte(`{"type":"FeatureCollection","features":[
		{"type":"Feature","properties":{},"geometry":{"type":"Point","coordinates":[1,2]}}]}`), zerolog.Nop())
	assert.Error(t, err)

	_, err = DecodeGeoJSON([]byte(`{"type":"FeatureCollection","features":[
		{"type":"Feature","id":1,"properties":{},"geometry":null},
		{"type":"Feature","id":1,"properties":{},"geometry":null}]}`), zerolog.Nop())
	assert.Error(t, err)
}

func TestGeoJSONRoundTrip(t *testing.T) {
	batch, err := DecodeGeoJSON([]byte(sample), zerolog.Nop())
	require.NoError(t, err)
	data, err := EncodeGeoJSON(batch)
	require.NoError(t, err)

	again, err := DecodeGeoJSON(data, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, batch.CRSID, again.CRSID)
	assert.Equal(t, batch.IDs(), again.IDs())
	assert.True(t, parcel.Diff(batch, again).Empty())
}

func TestParseCRSName(t *testing.T) {
	tests := []struct {
		name string
		want int
		ok   bool
	}{
		{"urn:ogc:def:crs:EPSG::32643", 32643, true},
		{"EPSG:32647", 32647, true},
		{"urn:ogc:def:crs:OGC:1.3:CRS84", 4326, true},
		{"WGS84", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCRSName(tt.name)
			if !tt.ok {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGeoJSONFileCommitPersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "parcels.geojson")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))

	st, err := OpenGeoJSON(path, 0, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, WithinTx(ctx, st, func(tx Tx) error {
		return tx.Delete(ctx, 3)
	}))

	reopened, err := OpenGeoJSON(path, 0, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, []int{5, 11}, reopened.Snapshot().IDs())
	assert.Equal(t, 32644, reopened.Snapshot().CRSID)
}

func TestShapefileStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "parcels.shp")
	src := seed()
	src.Fields = append(src.Fields, "soi_drone_survey_date")
	src.Records[0].Attributes["soi_drone_survey_date"] = "2023-05-02"
	src.Records[1].Geometry = parcel.NewMultiPolygon([][][]float64{
		{{0, 0}, {10, 0}, {10, 10}, {0, 10}, {0, 0}},
		{{2, 2}, {4, 2}, {4, 4}, {2, 4}, {2, 2}},
	})
	require.NoError(t, utils.WriteShapefile(path, src))

	known := parcel.DefaultPolicy().RequiredFields
	st, err := OpenShapefile(path, known, 0)
	require.NoError(t, err)

	batch, err := Load(ctx, st)
	require.NoError(t, err)
	assert.Equal(t, 32643, batch.CRSID)
	assert.Equal(t, []int{1, 2}, batch.IDs())
	assert.True(t, batch.HasField("soi_drone_survey_date"))

	one, _ := batch.Get(1)
	assert.Equal(t, 2, one.NumRings())
	assert.InDelta(t, 96.0, one.Area(), 1e-9)
	two, _ := batch.Get(2)
	assert.Equal(t, "2023-05-02", two.Attributes["soi_drone_survey_date"])
	assert.Equal(t, 2, two.Attributes["clr_plot_no"])

	require.NoError(t, WithinTx(ctx, st, func(tx Tx) error {
		return tx.UpdateGeometry(ctx, 2, parcel.Rect(2, 0, 4, 1))
	}))
	reopened, err := OpenShapefile(path, known, 0)
	require.NoError(t, err)
	two, _ = reopened.Snapshot().Get(2)
	assert.InDelta(t, 2.0, two.Area(), 1e-9)
}
