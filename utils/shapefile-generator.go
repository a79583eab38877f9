package utils

import (
	"archive/zip"
	"bytes"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"

	"github.com/bsaid97/go-parcel-fixer/parcel"
)

// dbfNameLen is the DBF limit on field names.
const dbfNameLen = 10

// ArchiveName is the base name of every file inside an export zip.
const ArchiveName = "cleaned_parcels"

// GenerateShapefileZip packs the cleaned GeoJSON, the validation report
// and a shapefile rendition of batch into one zip.
func GenerateShapefileZip(geojsonData, reportData []byte, batch *parcel.Batch) ([]byte, error) {
	var zipBuffer bytes.Buffer
	zipWriter := zip.NewWriter(&zipBuffer)

	entries := []struct {
		name string
		data []byte
	}{
		{ArchiveName + ".geojson", geojsonData},
		{"report.json", reportData},
	}
	for _, e := range entries {
		if e.data == nil {
			continue
		}
		w, err := zipWriter.Create(e.name)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s in zip: %v", e.name, err)
		}
		if _, err := w.Write(e.data); err != nil {
			return nil, fmt.Errorf("failed to write %s to zip: %v", e.name, err)
		}
	}

	if batch != nil && batch.Len() > 0 {
		if err := addShapefileToZip(zipWriter, batch); err != nil {
			return nil, fmt.Errorf("failed to add shapefile to zip: %v", err)
		}
	}

	if err := zipWriter.Close(); err != nil {
		return nil, fmt.Errorf("failed to close zip writer: %v", err)
	}
	return zipBuffer.Bytes(), nil
}

func addShapefileToZip(zipWriter *zip.Writer, batch *parcel.Batch) error {
	tempDir, err := os.MkdirTemp("", "shapefile_")
	if err != nil {
		return fmt.Errorf("failed to create temp directory: %v", err)
	}
	defer os.RemoveAll(tempDir)

	shapefilePath := filepath.Join(tempDir, ArchiveName+".shp")
	if err := WriteShapefile(shapefilePath, batch); err != nil {
		return fmt.Errorf("failed to generate shapefile: %v", err)
	}

	for _, ext := range []string{".shp", ".shx", ".dbf", ".prj"} {
		filePath := strings.TrimSuffix(shapefilePath, ".shp") + ext
		fileContent, err := os.ReadFile(filePath)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to read shapefile component %s: %v", ext, err)
		}
		zipFile, err := zipWriter.Create(ArchiveName + ext)
		if err != nil {
			return fmt.Errorf("failed to create %s file in zip: %v", ext, err)
		}
		if _, err := zipFile.Write(fileContent); err != nil {
			return fmt.Errorf("failed to write %s data to zip: %v", ext, err)
		}
	}
	return nil
}

// WriteShapefile writes batch as a polygon shapefile with an OBJECTID
// column first. A .prj is written for WGS 84 UTM zones.
func WriteShapefile(path string, batch *parcel.Batch) error {
	shape, err := shp.Create(path, shp.POLYGON)
	if err != nil {
		return fmt.Errorf("failed to create shapefile: %v", err)
	}
	defer shape.Close()

	names, fields := fieldsFromBatch(batch)
	shape.SetFields(fields)

	for _, rec := range batch.Records {
		row := int(shape.Write(shapeFromGeometry(rec.Geometry)))
		for i, name := range names {
			var value any = rec.ID
			if i > 0 {
				value, _ = rec.Attr(name)
			}
			if err := writeAttribute(shape, row, i, fields[i], value); err != nil {
				return fmt.Errorf("failed to write %s of %d: %v", name, rec.ID, err)
			}
		}
	}

	if wkt, ok := UTMProjection(batch.CRSID); ok {
		prj := strings.TrimSuffix(path, filepath.Ext(path)) + ".prj"
		if err := os.WriteFile(prj, []byte(wkt), 0o644); err != nil {
			return fmt.Errorf("failed to write projection: %v", err)
		}
	}
	return nil
}

// fieldsFromBatch returns the attribute names in column order together
// with their DBF definitions, typed from the first non-null value.
func fieldsFromBatch(batch *parcel.Batch) ([]string, []shp.Field) {
	names := []string{"OBJECTID"}
	fields := []shp.Field{shp.NumberField("OBJECTID", 10)}
	for _, name := range batch.Fields {
		if strings.EqualFold(name, "OBJECTID") {
			continue
		}
		var sample any
		for _, rec := range batch.Records {
			if v, ok := rec.Attr(name); ok && v != nil {
				sample = v
				break
			}
		}
		names = append(names, name)
		fields = append(fields, fieldFor(dbfName(name), sample, batch, name))
	}
	return names, fields
}

func dbfName(name string) string {
	if len(name) > dbfNameLen {
		return name[:dbfNameLen]
	}
	return name
}

func fieldFor(name string, sample any, batch *parcel.Batch, attr string) shp.Field {
	switch v := sample.(type) {
	case int, int32, int64:
		return shp.NumberField(name, 15)
	case float64:
		if v == math.Trunc(v) && allIntegral(batch, attr) {
			return shp.NumberField(name, 15)
		}
		return shp.FloatField(name, 19, 8)
	}
	length := 50
	for _, rec := range batch.Records {
		if v, ok := rec.Attr(attr); ok && len(parcel.AsString(v)) > length {
			length = len(parcel.AsString(v))
		}
	}
	if length > 254 {
		length = 254
	}
	return shp.StringField(name, uint8(length))
}

func allIntegral(batch *parcel.Batch, attr string) bool {
	for _, rec := range batch.Records {
		v, _ := rec.Attr(attr)
		if v == nil {
			continue
		}
		if _, ok := parcel.AsInt(v); !ok {
			return false
		}
	}
	return true
}

func writeAttribute(shape *shp.Writer, row, col int, field shp.Field, value any) error {
	if value == nil {
		return nil
	}
	switch field.Fieldtype {
	case 'N':
		n, ok := parcel.AsInt(value)
		if !ok {
			return nil
		}
		return shape.WriteAttribute(row, col, n)
	case 'F':
		f, ok := parcel.AsFloat(value)
		if !ok {
			return nil
		}
		return shape.WriteAttribute(row, col, f)
	default:
		return shape.WriteAttribute(row, col, parcel.AsString(value))
	}
}

// shapeFromGeometry orders rings the shapefile way: exteriors clockwise,
// holes counter-clockwise. A null geometry becomes a polygon with no parts
// since the writer stamps every record with the file's shape type.
func shapeFromGeometry(mp *geom.MultiPolygon) shp.Shape {
	parts := [][]shp.Point{}
	if mp == nil {
		return (*shp.Polygon)(shp.NewPolyLine(parts))
	}
	for i := 0; i < mp.NumPolygons(); i++ {
		poly := mp.Polygon(i)
		for j := 0; j < poly.NumLinearRings(); j++ {
			ring := poly.LinearRing(j)
			flat := ring.FlatCoords()
			wantCCW := j > 0
			points := make([]shp.Point, 0, ring.NumCoords())
			for k := 0; k < ring.NumCoords(); k++ {
				c := ring.Coord(k)
				points = append(points, shp.Point{X: c.X(), Y: c.Y()})
			}
			if xy.IsRingCounterClockwise(ring.Layout(), flat) != wantCCW {
				reversePoints(points)
			}
			parts = append(parts, points)
		}
	}
	return (*shp.Polygon)(shp.NewPolyLine(parts))
}

func reversePoints(ps []shp.Point) {
	for i, j := 0, len(ps)-1; i < j; i, j = i+1, j-1 {
		ps[i], ps[j] = ps[j], ps[i]
	}
}

// ReadShapefile loads a polygon shapefile. DBF names are cut to ten
// characters, so each column is mapped back to the first of knownFields
// it abbreviates.
func ReadShapefile(path string, knownFields []string) (*parcel.Batch, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open shapefile: %v", err)
	}
	defer reader.Close()

	fields := reader.Fields()
	names := make([]string, len(fields))
	idCol := -1
	batch := &parcel.Batch{Fields: []string{"OBJECTID"}}
	for i, f := range fields {
		raw := strings.TrimRight(string(f.Name[:]), "\x00")
		names[i] = expandFieldName(raw, knownFields)
		if strings.EqualFold(names[i], "OBJECTID") || strings.EqualFold(names[i], "FID") {
			idCol = i
			continue
		}
		batch.Fields = append(batch.Fields, names[i])
	}

	for reader.Next() {
		n, s := reader.Shape()
		rec := parcel.Record{ID: n + 1, Attributes: map[string]any{}}
		if poly, ok := s.(*shp.Polygon); ok {
			rec.Geometry = geometryFromShape(poly)
		}
		for i, f := range fields {
			value := parseAttribute(f, reader.ReadAttribute(n, i))
			if i == idCol {
				if id, ok := parcel.AsInt(value); ok && id > 0 {
					rec.ID = id
				}
				continue
			}
			rec.Attributes[names[i]] = value
		}
		batch.Append(rec)
	}
	if err := reader.Err(); err != nil {
		return nil, fmt.Errorf("failed to read shapefile: %v", err)
	}

	prj := strings.TrimSuffix(path, filepath.Ext(path)) + ".prj"
	if data, err := os.ReadFile(prj); err == nil {
		if id, ok := ParseProjection(string(data)); ok {
			batch.CRSID = id
		}
	}
	return batch, nil
}

func expandFieldName(raw string, known []string) string {
	for _, k := range known {
		if strings.EqualFold(k, raw) {
			return k
		}
	}
	if len(raw) == dbfNameLen {
		for _, k := range known {
			if len(k) > dbfNameLen && strings.EqualFold(k[:dbfNameLen], raw) {
				return k
			}
		}
	}
	return raw
}

func parseAttribute(f shp.Field, raw string) any {
	s := strings.TrimSpace(strings.TrimRight(raw, "\x00"))
	if s == "" {
		return nil
	}
	switch f.Fieldtype {
	case 'N':
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
		fallthrough
	case 'F':
		if x, err := strconv.ParseFloat(s, 64); err == nil {
			return x
		}
	}
	return s
}

// geometryFromShape starts a new part at each clockwise ring and attaches
// counter-clockwise rings to the part before them as holes.
func geometryFromShape(poly *shp.Polygon) *geom.MultiPolygon {
	mp := geom.NewMultiPolygon(geom.XY)
	var current [][]geom.Coord
	flush := func() {
		if len(current) > 0 {
			_ = mp.Push(geom.NewPolygon(geom.XY).MustSetCoords(current))
		}
		current = nil
	}
	for i := range poly.Parts {
		start := int(poly.Parts[i])
		end := len(poly.Points)
		if i+1 < len(poly.Parts) {
			end = int(poly.Parts[i+1])
		}
		ring := make([]geom.Coord, 0, end-start)
		flat := make([]float64, 0, 2*(end-start))
		for _, p := range poly.Points[start:end] {
			ring = append(ring, geom.Coord{p.X, p.Y})
			flat = append(flat, p.X, p.Y)
		}
		if !xy.IsRingCounterClockwise(geom.XY, flat) || len(current) == 0 {
			flush()
		}
		current = append(current, ring)
	}
	flush()
	return mp
}

var (
	epsgAuthority = regexp.MustCompile(`AUTHORITY\["EPSG",\s*"?(\d+)"?\]\]\s*$`)
	utmZone       = regexp.MustCompile(`WGS_(?:19)?84_UTM_[Zz]one_(\d{1,2})([NS])`)
)

// ParseProjection recognises WGS 84 UTM projections in .prj WKT, either by
// their EPSG authority or by the ESRI zone name.
func ParseProjection(wkt string) (int, bool) {
	if m := epsgAuthority.FindStringSubmatch(strings.TrimSpace(wkt)); m != nil {
		id, err := strconv.Atoi(m[1])
		return id, err == nil
	}
	if m := utmZone.FindStringSubmatch(wkt); m != nil {
		zone, _ := strconv.Atoi(m[1])
		if m[2] == "N" {
			return 32600 + zone, true
		}
		return 32700 + zone, true
	}
	return 0, false
}

// UTMProjection renders the ESRI WKT of a WGS 84 UTM zone.
func UTMProjection(crsID int) (string, bool) {
	var (
		zone     int
		hemi     string
		northing float64
	)
	switch {
	case crsID > 32600 && crsID <= 32660:
		zone, hemi = crsID-32600, "N"
	case crsID > 32700 && crsID <= 32760:
		zone, hemi, northing = crsID-32700, "S", 10000000
	default:
		return "", false
	}
	meridian := float64(-183 + 6*zone)
	return fmt.Sprintf(`PROJCS["WGS_1984_UTM_Zone_%d%s",GEOGCS["GCS_WGS_1984",DATUM["D_WGS_1984",`+
		`SPHEROID["WGS_1984",6378137.0,298.257223563]],PRIMEM["Greenwich",0.0],UNIT["Degree",0.0174532925199433]],`+
		`PROJECTION["Transverse_Mercator"],PARAMETER["False_Easting",500000.0],PARAMETER["False_Northing",%.1f],`+
		`PARAMETER["Central_Meridian",%.1f],PARAMETER["Scale_Factor",0.9996],PARAMETER["Latitude_Of_Origin",0.0],`+
		`UNIT["Meter",1.0]]`, zone, hemi, northing, meridian), true
}
