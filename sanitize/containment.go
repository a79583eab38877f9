package sanitize

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/bsaid97/go-parcel-fixer/kernel"
	"github.com/bsaid97/go-parcel-fixer/parcel"
	"github.com/bsaid97/go-parcel-fixer/utils"
)

// ContainmentRemover deletes parcels lying entirely inside another parcel.
type ContainmentRemover struct {
	kernel kernel.Kernel
	eps    float64
	logger zerolog.Logger
}

func NewContainmentRemover(k kernel.Kernel, eps float64, logger zerolog.Logger) *ContainmentRemover {
	return &ContainmentRemover{kernel: k, eps: eps, logger: logger.With().Str("component", "containment").Logger()}
}

// RemoveContained walks pairs in batch order. For i < j, j is removed when
// i contains it, otherwise i is removed when j contains it, so of two
// identical parcels the earlier survives.
func (c *ContainmentRemover) RemoveContained(ctx context.Context, batch *parcel.Batch) ([]int, []parcel.Issue, error) {
	index := utils.NewSpatialIndex(c.eps)
	for i, r := range batch.Records {
		index.AddGeometry(r.Geometry, r.ID, i)
	}

	removed := make(map[int]bool)
	var (
		ids    []int
		issues []parcel.Issue
	)
	for i, a := range batch.Records {
		if err := ctx.Err(); err != nil {
			return nil, issues, fmt.Errorf("%w: %v", parcel.ErrCancelled, err)
		}
		if a.IsNull() || removed[a.ID] {
			continue
		}
		for _, n := range index.FindNeighbors(a.Geometry) {
			if n.Order <= i || removed[n.ID] || removed[a.ID] {
				continue
			}
			b := batch.Records[n.Order]
			aHoldsB, err := c.kernel.Contains(a.Geometry, b.Geometry)
			if err != nil {
				issues = append(issues, parcel.NewWarning(parcel.StageSanitize, parcel.FeatureRef(b.ID),
					"containment check against feature %d failed: %v", a.ID, err))
				continue
			}
			if aHoldsB {
				removed[b.ID] = true
				ids = append(ids, b.ID)
				continue
			}
			bHoldsA, err := c.kernel.Contains(b.Geometry, a.Geometry)
			if err != nil {
				continue
			}
			if bHoldsA {
				removed[a.ID] = true
				ids = append(ids, a.ID)
			}
		}
	}

	for _, id := range ids {
		batch.Delete(id)
	}
	if len(ids) > 0 {
		c.logger.Info().Ints("features", ids).Msg("removed contained features")
	}
	return ids, issues, nil
}
