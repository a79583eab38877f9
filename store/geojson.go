package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/bsaid97/go-parcel-fixer/kernel"
	"github.com/bsaid97/go-parcel-fixer/parcel"
	"github.com/bsaid97/go-parcel-fixer/utils"
)

// DefaultGeoJSONCRS applies when a collection has no crs member.
const DefaultGeoJSONCRS = 4326

type crsMember struct {
	Type       string `json:"type"`
	Properties struct {
		Name string `json:"name"`
	} `json:"properties"`
}

type featureCollection struct {
	Type     string            `json:"type"`
	Name     string            `json:"name,omitempty"`
	CRS      *crsMember        `json:"crs,omitempty"`
	Features []json.RawMessage `json:"features"`
}

type feature struct {
	Type       string            `json:"type"`
	ID         any               `json:"id,omitempty"`
	Geometry   *geojson.Geometry `json:"geometry"`
	Properties map[string]any    `json:"properties"`
}

type decodedFeature struct {
	rec    parcel.Record
	fields []string
	err    error
}

// DecodeGeoJSON parses a FeatureCollection into a batch. The record id
// comes from the OBJECTID property, then the feature id, then the
// feature's position. The CRS is read from the legacy crs member.
func DecodeGeoJSON(data []byte, logger zerolog.Logger) (*parcel.Batch, error) {
	var fc featureCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parsing feature collection: %w", err)
	}
	if fc.Type != "FeatureCollection" {
		return nil, fmt.Errorf("expected a FeatureCollection, got %q", fc.Type)
	}

	crs := DefaultGeoJSONCRS
	if fc.CRS != nil {
		id, err := ParseCRSName(fc.CRS.Properties.Name)
		if err != nil {
			return nil, err
		}
		crs = id
	}

	type item struct {
		index int
		raw   json.RawMessage
	}
	items := make([]item, len(fc.Features))
	for i, raw := range fc.Features {
		items[i] = item{index: i, raw: raw}
	}

	tracker := utils.NewProgressTracker(int64(len(items)), "decoding features", logger)
	decoded := utils.ParallelMap(items, 0, func(it item) decodedFeature {
		return decodeFeature(it.index, it.raw)
	}, tracker)

	batch := &parcel.Batch{CRSID: crs}
	seenField := map[string]bool{strings.ToUpper(IDField): true}
	batch.Fields = []string{IDField}
	seenID := map[int]bool{}
	for i, d := range decoded {
		if d.err != nil {
			return nil, fmt.Errorf("feature %d: %w", i, d.err)
		}
		if seenID[d.rec.ID] {
			return nil, fmt.Errorf("feature %d: duplicate id %d", i, d.rec.ID)
		}
		seenID[d.rec.ID] = true
		for _, f := range d.fields {
			if key := strings.ToUpper(f); !seenField[key] {
				seenField[key] = true
				batch.Fields = append(batch.Fields, f)
			}
		}
		batch.Append(d.rec)
	}
	return batch, nil
}

func decodeFeature(index int, raw json.RawMessage) decodedFeature {
	var f feature
	if err := json.Unmarshal(raw, &f); err != nil {
		return decodedFeature{err: err}
	}

	rec := parcel.Record{ID: index + 1, Attributes: map[string]any{}}
	if n, ok := parcel.AsInt(f.ID); ok && n > 0 {
		rec.ID = n
	}
	keys := make([]string, 0, len(f.Properties))
	for k := range f.Properties {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var fields []string
	for _, k := range keys {
		v := f.Properties[k]
		if strings.EqualFold(k, IDField) {
			if n, ok := parcel.AsInt(v); ok && n > 0 {
				rec.ID = n
			}
			continue
		}
		rec.Attributes[k] = v
		fields = append(fields, k)
	}

	if f.Geometry != nil {
		t, err := f.Geometry.Decode()
		if err != nil {
			return decodedFeature{err: fmt.Errorf("decoding geometry: %w", err)}
		}
		switch t.(type) {
		case *geom.Polygon, *geom.MultiPolygon:
		default:
			return decodedFeature{err: fmt.Errorf("unsupported geometry type %T", t)}
		}
		rec.Geometry = kernel.Polygonal(t)
	}
	return decodedFeature{rec: rec, fields: fields}
}

// EncodeGeoJSON writes a batch as a FeatureCollection carrying the CRS in
// a crs member and the id in both the feature id and OBJECTID.
func EncodeGeoJSON(batch *parcel.Batch) ([]byte, error) {
	type outCollection struct {
		Type     string     `json:"type"`
		CRS      *crsMember `json:"crs,omitempty"`
		Features []feature  `json:"features"`
	}
	out := outCollection{Type: "FeatureCollection", Features: make([]feature, 0, batch.Len())}
	if batch.CRSID != 0 {
		out.CRS = &crsMember{Type: "name"}
		out.CRS.Properties.Name = fmt.Sprintf("urn:ogc:def:crs:EPSG::%d", batch.CRSID)
	}

	for _, r := range batch.Records {
		f := feature{Type: "Feature", ID: r.ID, Properties: make(map[string]any, len(r.Attributes)+1)}
		for k, v := range r.Attributes {
			f.Properties[k] = v
		}
		f.Properties[IDField] = r.ID
		if r.Geometry != nil {
			g, err := geojson.Encode(r.Geometry)
			if err != nil {
				return nil, fmt.Errorf("encoding geometry of %d: %w", r.ID, err)
			}
			f.Geometry = g
		}
		out.Features = append(out.Features, f)
	}
	return json.Marshal(out)
}

// ParseCRSName pulls the EPSG code out of names such as
// "urn:ogc:def:crs:EPSG::32643" or "EPSG:32643".
func ParseCRSName(name string) (int, error) {
	name = strings.TrimSpace(name)
	if strings.HasSuffix(name, "CRS84") {
		return DefaultGeoJSONCRS, nil
	}
	code := name[strings.LastIndex(name, ":")+1:]
	id, err := strconv.Atoi(code)
	if err != nil {
		return 0, fmt.Errorf("unrecognised crs name %q", name)
	}
	return id, nil
}

// GeoJSON is a store over one FeatureCollection file. The whole file is
// rewritten on every commit.
type GeoJSON struct {
	*Memory
	path string
}

// OpenGeoJSON loads path. A non-zero crsOverride replaces whatever the
// file declares.
func OpenGeoJSON(path string, crsOverride int, logger zerolog.Logger) (*GeoJSON, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	batch, err := DecodeGeoJSON(data, logger)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	if crsOverride != 0 {
		batch.CRSID = crsOverride
	}
	s := &GeoJSON{Memory: NewMemory(filepath.Base(path), batch), path: path}
	s.Memory.persist = s.write
	return s, nil
}

func (s *GeoJSON) write(batch *parcel.Batch) error {
	data, err := EncodeGeoJSON(batch)
	if err != nil {
		return err
	}
	return writeFileAtomic(s.path, data)
}

// writeFileAtomic replaces path through a temp file in the same directory.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
