package store

import (
	"fmt"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkb"

	"github.com/bsaid97/go-parcel-fixer/kernel"
)

// encodeWKB returns nil for a null geometry so it is stored as NULL.
func encodeWKB(mp *geom.MultiPolygon) ([]byte, error) {
	if mp == nil {
		return nil, nil
	}
	data, err := wkb.Marshal(mp, wkb.NDR)
	if err != nil {
		return nil, fmt.Errorf("encoding wkb: %w", err)
	}
	return data, nil
}

func decodeWKB(data []byte) (*geom.MultiPolygon, error) {
	if len(data) == 0 {
		return nil, nil
	}
	t, err := wkb.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("decoding wkb: %w", err)
	}
	return kernel.Polygonal(t), nil
}
