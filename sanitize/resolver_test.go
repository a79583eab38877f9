package sanitize

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/bsaid97/go-parcel-fixer/kernel"
	"github.com/bsaid97/go-parcel-fixer/parcel"
)

// stuckKernel never removes anything in Difference, so overlaps persist.
type stuckKernel struct {
	*kernel.GEOS
	buffers []float64
}

func (k *stuckKernel) Buffer(g *geom.MultiPolygon, d float64) (*geom.MultiPolygon, error) {
	k.buffers = append(k.buffers, d)
	return k.GEOS.Buffer(g, d)
}

func (k *stuckKernel) Difference(a, _ *geom.MultiPolygon) (*geom.MultiPolygon, error) {
	return a.Clone(), nil
}

func newResolver(k kernel.Kernel) *Resolver {
	return NewResolver(k, NewDetector(k, eps, zerolog.Nop()), zerolog.Nop())
}

func TestResolveOverlappingSquares(t *testing.T) {
	k := kernel.NewGEOS()
	a, b := rec(1, 0, 0, 1, 1), rec(2, 0.5, 0.5, 1.5, 1.5)

	res := newResolver(k).Resolve(context.Background(), a, b, parcel.DefaultPolicy())
	require.NoError(t, res.Err)
	assert.True(t, res.Resolved)
	assert.False(t, res.Deleted)
	require.NotNil(t, res.NewGeomB)
	assert.InDelta(t, 0.75, k.Area(res.NewGeomB), 0.02)
	assert.Equal(t, 1, res.Attempts)

	inter, err := k.Intersection(a.Geometry, res.NewGeomB)
	require.NoError(t, err)
	assert.InDelta(t, 0, k.Area(inter), eps)
	// the anchor is untouched
	assert.InDelta(t, 1.0, a.Area(), 1e-12)
}

func TestResolveDeletesSwallowedTarget(t *testing.T) {
	k := kernel.NewGEOS()
	res := newResolver(k).Resolve(context.Background(), rec(1, 0, 0, 4, 4), rec(2, 1, 1, 2, 2), parcel.DefaultPolicy())
	assert.True(t, res.Resolved)
	assert.True(t, res.Deleted)
	assert.Nil(t, res.NewGeomB)
}

func TestResolveExhaustsSchedule(t *testing.T) {
	k := &stuckKernel{GEOS: kernel.NewGEOS()}
	policy := parcel.DefaultPolicy()
	policy.Schedule = parcel.BufferSchedule{StartCM: 1, StopCM: 5, StepCM: 1}

	res := newResolver(k).Resolve(context.Background(), rec(1, 0, 0, 1, 1), rec(2, 0.5, 0.5, 1.5, 1.5), policy)
	assert.False(t, res.Resolved)
	assert.Equal(t, 5, res.Attempts)
	assert.Equal(t, []float64{0.01, 0.02, 0.03, 0.04, 0.05}, roundAll(k.buffers))

	var failure *parcel.ResolutionFailure
	require.True(t, errors.As(res.Err, &failure))
	assert.Equal(t, 2, failure.IDB)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, parcel.Warning, res.Warnings[0].Severity)
}

func TestResolveExplicitDistanceAppliedOnce(t *testing.T) {
	k := &stuckKernel{GEOS: kernel.NewGEOS()}
	policy := parcel.DefaultPolicy()
	cm := 60.0
	policy.ExplicitBufferCM = &cm

	res := newResolver(k).Resolve(context.Background(), rec(1, 0, 0, 1, 1), rec(2, 0.5, 0.5, 1.5, 1.5), policy)
	assert.False(t, res.Resolved)
	assert.Equal(t, 1, res.Attempts)
	assert.Len(t, k.buffers, 1)
	// one advisory for the large distance, one for the remaining overlap
	require.Len(t, res.Warnings, 2)
	assert.Contains(t, res.Warnings[0].Message, "exceeds")
}

func TestResolveExplicitSmallDistanceNoAdvisory(t *testing.T) {
	k := kernel.NewGEOS()
	policy := parcel.DefaultPolicy()
	cm := 10.0
	policy.ExplicitBufferCM = &cm

	res := newResolver(k).Resolve(context.Background(), rec(1, 0, 0, 1, 1), rec(2, 0.5, 0.5, 1.5, 1.5), policy)
	assert.True(t, res.Resolved)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, 10.0, res.DistanceCM)
}

func TestFixAllContinuesPastUnresolvedPair(t *testing.T) {
	k := &stuckKernel{GEOS: kernel.NewGEOS()}
	policy := parcel.DefaultPolicy()
	policy.Schedule = parcel.BufferSchedule{StartCM: 1, StopCM: 2, StepCM: 1}
	batch := &parcel.Batch{Records: []parcel.Record{
		rec(1, 0, 0, 1, 1), rec(2, 0.5, 0.5, 1.5, 1.5),
		rec(3, 10, 10, 11, 11), rec(4, 10.5, 10.5, 11.5, 11.5),
	}}

	stats, issues, err := newResolver(k).FixAll(context.Background(), batch, policy, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Detected)
	assert.Equal(t, 2, stats.Unresolved)
	assert.Len(t, issues, 2)
	assert.Equal(t, 4, batch.Len())
}

func TestFixAllResolvesChain(t *testing.T) {
	k := kernel.NewGEOS()
	batch := &parcel.Batch{Records: []parcel.Record{
		rec(1, 0, 0, 2, 1), rec(2, 1.5, 0, 3.5, 1), rec(3, 3, 0, 5, 1),
	}}

	stats, _, err := newResolver(k).FixAll(context.Background(), batch, parcel.DefaultPolicy(), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Detected)
	assert.Equal(t, 2, stats.Resolved)

	pairs, _, err := NewDetector(k, eps, zerolog.Nop()).Detect(context.Background(), batch)
	require.NoError(t, err)
	assert.Empty(t, OverlapsOnly(pairs, eps))

	one, _ := batch.Get(1)
	assert.InDelta(t, 2.0, one.Area(), 1e-12)
}

func roundAll(xs []float64) []float64 {
	out := make([]float64, len(xs))
	for i, x := range xs {
		out[i] = float64(int(x*10000+0.5)) / 10000
	}
	return out
}
