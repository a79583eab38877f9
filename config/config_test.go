package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	assert.NoError(t, Validate(Default()))
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
log_level: debug
store:
  driver: geojson
  path: parcels.geojson
lease:
  ttl: 5m
policy:
  epsilon: 0.001
  schedule:
    start_cm: 2
    stop_cm: 40
    step_cm: 2
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "geojson", cfg.Store.Driver)
	assert.Equal(t, 5*time.Minute, cfg.Lease.TTL)
	assert.Equal(t, 0.001, cfg.Policy.Epsilon)
	assert.Len(t, cfg.Policy.Distances(), 20)
	// untouched keys keep their defaults
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "clr_plot_no", cfg.Policy.PlotField)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PARCEL_STORE_DRIVER", "postgres")
	t.Setenv("PARCEL_STORE_DSN", "postgres://localhost/parcels")
	t.Setenv("PARCEL_BATCH_ID", "SU1")
	t.Setenv("PARCEL_BUFFER_CM", "12.5")
	t.Setenv("PARCEL_ACCEPTED_CRS_IDS", "32643, 32644")
	t.Setenv("PARCEL_MANDATORY_FIELDS", "survey_unit_id")
	t.Setenv("PARCEL_DATA_DIR", "/srv/parcels")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	require.NotNil(t, cfg.Policy.ExplicitBufferCM)
	assert.Equal(t, 12.5, *cfg.Policy.ExplicitBufferCM)
	assert.Equal(t, []int{32643, 32644}, cfg.Policy.AcceptedCRSIDs)
	assert.Equal(t, []string{"survey_unit_id"}, cfg.Policy.MandatoryFields)
	assert.Equal(t, "/srv/parcels", cfg.Server.DataDir)
}

func TestLoadRejects(t *testing.T) {
	tests := []struct {
		name string
		body string
		env  map[string]string
	}{
		{name: "unknown key", body: "colour: blue\n"},
		{name: "bad level", body: "log_level: loud\n"},
		{name: "geojson without path", body: "store:\n  driver: geojson\n"},
		{name: "inverted schedule", body: "policy:\n  schedule:\n    start_cm: 10\n    stop_cm: 5\n    step_cm: 1\n"},
		{name: "bad buffer env", env: map[string]string{"PARCEL_BUFFER_CM": "wide"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := ""
			if tt.body != "" {
				path = writeConfig(t, tt.body)
			}
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}
