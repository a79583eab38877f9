package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bsaid97/go-parcel-fixer/parcel"
	"github.com/bsaid97/go-parcel-fixer/utils"
)

var shapefileParts = []string{".shp", ".shx", ".dbf", ".prj"}

// Shapefile is a store over a polygon shapefile. Commits rewrite every
// component next to the original and rename them into place.
type Shapefile struct {
	*Memory
	path string
}

// OpenShapefile reads path. knownFields maps truncated DBF column names
// back to their full names; crsOverride, when non-zero, replaces the CRS
// read from the .prj.
func OpenShapefile(path string, knownFields []string, crsOverride int) (*Shapefile, error) {
	batch, err := utils.ReadShapefile(path, knownFields)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if crsOverride != 0 {
		batch.CRSID = crsOverride
	}
	s := &Shapefile{Memory: NewMemory(filepath.Base(path), batch), path: path}
	s.Memory.persist = s.write
	return s, nil
}

func (s *Shapefile) write(batch *parcel.Batch) error {
	dir, err := os.MkdirTemp(filepath.Dir(s.path), ".shapefile_")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	base := strings.TrimSuffix(filepath.Base(s.path), filepath.Ext(s.path))
	tmp := filepath.Join(dir, base+".shp")
	if err := utils.WriteShapefile(tmp, batch); err != nil {
		return err
	}

	target := strings.TrimSuffix(s.path, filepath.Ext(s.path))
	for _, ext := range shapefileParts {
		src := filepath.Join(dir, base+ext)
		if _, err := os.Stat(src); os.IsNotExist(err) {
			continue
		}
		if err := os.Rename(src, target+ext); err != nil {
			return fmt.Errorf("replacing %s: %w", target+ext, err)
		}
	}
	return nil
}
