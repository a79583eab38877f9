package store

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/bsaid97/go-parcel-fixer/parcel"
)

// Config selects and addresses a backend.
type Config struct {
	Driver   string `yaml:"driver" validate:"required,oneof=memory geojson shapefile mongo postgres"`
	Path     string `yaml:"path" validate:"required_if=Driver geojson,required_if=Driver shapefile"`
	DSN      string `yaml:"dsn" validate:"required_if=Driver postgres"`
	URI      string `yaml:"uri" validate:"required_if=Driver mongo"`
	Database string `yaml:"database"`
	BatchID  string `yaml:"batch_id" validate:"required_if=Driver mongo,required_if=Driver postgres"`
	// CRSID overrides the CRS the file declares.
	CRSID int `yaml:"crs_id"`
}

// Importer is implemented by database backends that can be seeded from a
// decoded batch.
type Importer interface {
	Import(ctx context.Context, batch *parcel.Batch) error
}

// Open connects to the backend named by cfg. knownFields lets the
// shapefile backend restore truncated column names.
func Open(ctx context.Context, cfg Config, knownFields []string, logger zerolog.Logger) (Store, error) {
	switch cfg.Driver {
	case "memory":
		return NewMemory("memory", &parcel.Batch{CRSID: cfg.CRSID}), nil
	case "geojson":
		return OpenGeoJSON(cfg.Path, cfg.CRSID, logger)
	case "shapefile":
		return OpenShapefile(cfg.Path, knownFields, cfg.CRSID)
	case "postgres":
		return OpenPostgres(ctx, cfg.DSN, cfg.BatchID)
	case "mongo":
		db := cfg.Database
		if db == "" {
			db = "parcels"
		}
		return OpenMongo(ctx, cfg.URI, db, cfg.BatchID)
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}
