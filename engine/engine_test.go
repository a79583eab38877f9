package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bsaid97/go-parcel-fixer/kernel"
	"github.com/bsaid97/go-parcel-fixer/lease"
	"github.com/bsaid97/go-parcel-fixer/parcel"
	"github.com/bsaid97/go-parcel-fixer/store"
)

func attrs(plot int) map[string]any {
	return map[string]any{
		"state_lgd_cd":   "27",
		"dist_lgd_cd":    "519",
		"ulb_lgd_cd":     "802814",
		"ward_lgd_cd":    "W_12",
		"vill_lgd_cd":    "556123",
		"col_lgd_cd":     "C-1",
		"survey_unit_id": "SU001",
		"clr_plot_no":    plot,
		"soi_plot_no":    plot,
	}
}

// messySurvey holds one overlapping pair, one two-part record and one
// holed record, with a gap in the plot numbers.
func messySurvey() *parcel.Batch {
	policy := parcel.DefaultPolicy()
	return &parcel.Batch{
		CRSID:  32643,
		Fields: append(append([]string{}, policy.RequiredFields...), policy.OptionalFields...),
		Records: []parcel.Record{
			{ID: 1, Geometry: parcel.Rect(0, 0, 1, 1), Attributes: attrs(1)},
			{ID: 2, Geometry: parcel.Rect(0.5, 0.5, 1.5, 1.5), Attributes: attrs(2)},
			{ID: 3, Geometry: parcel.NewMultiPolygon(
				[][][]float64{{{4, 0}, {5, 0}, {5, 1}, {4, 1}, {4, 0}}},
				[][][]float64{{{6, 0}, {7, 0}, {7, 1}, {6, 1}, {6, 0}}},
			), Attributes: attrs(4)},
			{ID: 4, Geometry: parcel.NewMultiPolygon([][][]float64{
				{{10, 0}, {14, 0}, {14, 4}, {10, 4}, {10, 0}},
				{{11, 1}, {12, 1}, {12, 2}, {11, 2}, {11, 1}},
			}), Attributes: attrs(5)},
		},
	}
}

func newEngine(opts ...Option) *Engine {
	return New(kernel.NewGEOS(), zerolog.Nop(), opts...)
}

func TestSanitizeAndValidateCleansSurvey(t *testing.T) {
	st := store.NewMemory("survey", messySurvey())

	report := newEngine().SanitizeAndValidate(context.Background(), st, parcel.DefaultPolicy())

	require.NotNil(t, report.PreCheck)
	assert.False(t, report.PreCheck.Pass)
	assert.Equal(t, 1, report.PreCheck.CriticalIn(parcel.StageDataQuality))
	assert.True(t, report.Pass, "errors: %v", report.Errors)

	sum := report.Sanitize
	require.NotNil(t, sum)
	assert.Equal(t, 1, sum.OverlapsDetected)
	assert.Equal(t, 1, sum.OverlapsResolved)
	assert.Zero(t, sum.OverlapsUnresolved)
	assert.Equal(t, 1, sum.MultipartSplit)
	assert.Equal(t, 2, sum.PartsCreated)
	assert.Equal(t, 1, sum.HolesStripped)
	assert.Equal(t, []string{"decompose", "contained", "overlaps", "redecompose", "holes", "repair", "renumber"}, sum.Stages)

	out := st.Snapshot()
	assert.Equal(t, []int{1, 2, 3, 4, 5}, out.IDs())
	total := 0.0
	for i, r := range out.Records {
		plot, _ := r.Attr("clr_plot_no")
		assert.Equal(t, i+1, plot)
		assert.Equal(t, 1, r.NumRings())
		total += r.Area()
	}
	// anchor, two children and the holed square, plus the target minus a
	// 0.51 by 0.51 corner
	assert.InDelta(t, 19.74, total, 0.01)
}

func TestSanitizeAndValidateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory("survey", messySurvey())
	e := newEngine()

	first := e.SanitizeAndValidate(ctx, st, parcel.DefaultPolicy())
	require.True(t, first.Pass)
	after := st.Snapshot()

	second := e.SanitizeAndValidate(ctx, st, parcel.DefaultPolicy())
	assert.True(t, second.Pass)
	assert.True(t, second.PreCheck.Pass)
	assert.Zero(t, second.Sanitize.Mutations())
	assert.Zero(t, second.Sanitize.OverlapsDetected)
	assert.True(t, parcel.Diff(after, st.Snapshot()).Empty())
}

func TestSanitizeAndValidateStopsOnFatalPreCheck(t *testing.T) {
	batch := messySurvey()
	batch.CRSID = 4326
	st := store.NewMemory("survey", batch)
	before := st.Snapshot()

	report := newEngine().SanitizeAndValidate(context.Background(), st, parcel.DefaultPolicy())

	assert.False(t, report.Pass)
	assert.True(t, report.StructuralOK)
	assert.False(t, report.ProjectionOK)
	assert.Nil(t, report.Sanitize)
	assert.True(t, parcel.Diff(before, st.Snapshot()).Empty())
}

func TestSanitizeAndValidateCancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	st := store.NewMemory("survey", messySurvey())
	before := st.Snapshot()

	report := newEngine().SanitizeAndValidate(ctx, st, parcel.DefaultPolicy())

	assert.False(t, report.Pass)
	assert.Equal(t, 1, report.CriticalIn(parcel.StagePipeline))
	assert.True(t, parcel.Diff(before, st.Snapshot()).Empty())
}

// cancellingStore cancels the run when its n-th transaction begins.
type cancellingStore struct {
	*store.Memory
	cancel context.CancelFunc
	at     int
	begun  int
}

func (c *cancellingStore) Begin(ctx context.Context) (store.Tx, error) {
	c.begun++
	if c.begun == c.at {
		c.cancel()
	}
	return c.Memory.Begin(ctx)
}

func TestSanitizeAndValidateCancelledMidRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	st := &cancellingStore{Memory: store.NewMemory("survey", messySurvey()), cancel: cancel, at: 2}

	report := newEngine().SanitizeAndValidate(ctx, st, parcel.DefaultPolicy())

	assert.False(t, report.Pass)
	require.NotNil(t, report.Sanitize)
	assert.Equal(t, []string{"decompose", "contained"}, report.Sanitize.Stages)
	assert.Equal(t, 1, report.CriticalIn(parcel.StagePipeline))

	// the overlap stage was rolled back as a whole
	out := st.Snapshot()
	assert.Equal(t, []int{1, 2, 4, 5, 6}, out.IDs())
	two, _ := out.Get(2)
	assert.InDelta(t, 1.0, two.Area(), 1e-9)
}

// failingStore fails the commit of its n-th transaction.
type failingStore struct {
	*store.Memory
	failOn int
	begun  int
}

func (f *failingStore) Begin(ctx context.Context) (store.Tx, error) {
	tx, err := f.Memory.Begin(ctx)
	if err != nil {
		return nil, err
	}
	f.begun++
	if f.begun == f.failOn {
		return failingTx{tx}, nil
	}
	return tx, nil
}

type failingTx struct{ store.Tx }

func (failingTx) Commit(context.Context) error { return errors.New("disk full") }

func TestStageFailureKeepsEarlierStages(t *testing.T) {
	st := &failingStore{Memory: store.NewMemory("survey", messySurvey()), failOn: 2}

	report := newEngine().SanitizeAndValidate(context.Background(), st, parcel.DefaultPolicy())

	assert.False(t, report.Pass)
	assert.Equal(t, []string{"decompose", "contained"}, report.Sanitize.Stages)
	assert.Equal(t, 1, report.CriticalIn(parcel.StagePipeline))
	assert.Contains(t, report.Errors[len(report.Errors)-1].Message, "disk full")

	out := st.Snapshot()
	// the split was committed, the overlap fix was not
	assert.Equal(t, []int{1, 2, 4, 5, 6}, out.IDs())
	two, _ := out.Get(2)
	assert.InDelta(t, 1.0, two.Area(), 1e-9)
}

func TestSanitizeAndValidateRespectsLease(t *testing.T) {
	ctx := context.Background()
	locker := lease.NewLocal()
	st := store.NewMemory("survey", messySurvey())
	before := st.Snapshot()

	release, err := locker.Acquire(ctx, lease.Key(st.Name()), time.Minute)
	require.NoError(t, err)

	e := newEngine(WithLocker(locker, time.Minute))
	report := e.SanitizeAndValidate(ctx, st, parcel.DefaultPolicy())
	assert.False(t, report.Pass)
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0].Message, "another run")
	assert.True(t, parcel.Diff(before, st.Snapshot()).Empty())

	require.NoError(t, release(ctx))
	report = e.SanitizeAndValidate(ctx, st, parcel.DefaultPolicy())
	assert.True(t, report.Pass)

	// the run gave its lease back
	again, err := locker.Acquire(ctx, lease.Key(st.Name()), time.Minute)
	require.NoError(t, err)
	require.NoError(t, again(ctx))
}

func TestValidateOnly(t *testing.T) {
	st := store.NewMemory("survey", messySurvey())
	report := newEngine().Validate(context.Background(), st, parcel.DefaultPolicy())
	assert.False(t, report.Pass)
	assert.Nil(t, report.Sanitize)
	assert.Equal(t, 4, report.Counts["records"])
}
