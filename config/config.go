// Package config loads service and pipeline settings from a YAML file,
// an optional .env file and PARCEL_* environment variables, in that order
// of increasing precedence.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"

	"github.com/bsaid97/go-parcel-fixer/parcel"
	"github.com/bsaid97/go-parcel-fixer/store"
)

type Config struct {
	LogLevel string        `yaml:"log_level" validate:"oneof=trace debug info warn error"`
	Server   ServerConfig  `yaml:"server"`
	Store    store.Config  `yaml:"store"`
	Lease    LeaseConfig   `yaml:"lease"`
	Policy   parcel.Policy `yaml:"policy"`
}

// ServerConfig holds the HTTP settings. Client file paths (filepath,
// saveFile) only work under DataDir.
type ServerConfig struct {
	Addr        string `yaml:"addr" validate:"required"`
	MaxUploadMB int64  `yaml:"max_upload_mb" validate:"gt=0"`
	DataDir     string `yaml:"data_dir"`
}

// LeaseConfig enables the Redis batch lease when RedisAddr is set.
type LeaseConfig struct {
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db" validate:"gte=0"`
	TTL           time.Duration `yaml:"ttl" validate:"gt=0"`
}

var validate = validator.New()

func Default() Config {
	return Config{
		LogLevel: "info",
		Server:   ServerConfig{Addr: ":8080", MaxUploadMB: 50},
		Store:    store.Config{Driver: "memory"},
		Lease:    LeaseConfig{TTL: 30 * time.Minute},
		Policy:   parcel.DefaultPolicy(),
	}
}

// Load reads path (optional) over the defaults, applies the environment
// and validates the result.
func Load(path string) (Config, error) {
	_ = godotenv.Load(".env")

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func Validate(cfg Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	str("PARCEL_LOG_LEVEL", &cfg.LogLevel)
	str("PARCEL_SERVER_ADDR", &cfg.Server.Addr)
	str("PARCEL_DATA_DIR", &cfg.Server.DataDir)
	str("PARCEL_STORE_DRIVER", &cfg.Store.Driver)
	str("PARCEL_STORE_PATH", &cfg.Store.Path)
	str("PARCEL_STORE_DSN", &cfg.Store.DSN)
	str("PARCEL_STORE_URI", &cfg.Store.URI)
	str("PARCEL_STORE_DATABASE", &cfg.Store.Database)
	str("PARCEL_BATCH_ID", &cfg.Store.BatchID)
	str("PARCEL_REDIS_ADDR", &cfg.Lease.RedisAddr)
	str("PARCEL_REDIS_PASSWORD", &cfg.Lease.RedisPassword)
	str("PARCEL_EXPECTED_UNIT_ID", &cfg.Policy.ExpectedUnitID)

	if v := os.Getenv("PARCEL_REDIS_DB"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PARCEL_REDIS_DB: %w", err)
		}
		cfg.Lease.RedisDB = n
	}
	if v := os.Getenv("PARCEL_CRS_ID"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PARCEL_CRS_ID: %w", err)
		}
		cfg.Store.CRSID = n
	}
	if v := os.Getenv("PARCEL_BUFFER_CM"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("PARCEL_BUFFER_CM: %w", err)
		}
		cfg.Policy.ExplicitBufferCM = &f
	}
	if v := os.Getenv("PARCEL_RUN_OVERLAP_FIX"); v != "" {
		cfg.Policy.RunOverlapFix = v == "true"
	}
	if v := os.Getenv("PARCEL_REMOVE_SLIVERS"); v != "" {
		cfg.Policy.RemoveSlivers = v == "true"
	}
	if v := os.Getenv("PARCEL_MANDATORY_FIELDS"); v != "" {
		cfg.Policy.MandatoryFields = splitList(v)
	}
	if v := os.Getenv("PARCEL_ACCEPTED_CRS_IDS"); v != "" {
		ids, err := parseIntList(v)
		if err != nil {
			return fmt.Errorf("PARCEL_ACCEPTED_CRS_IDS: %w", err)
		}
		cfg.Policy.AcceptedCRSIDs = ids
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseIntList(s string) ([]int, error) {
	var out []int
	for _, p := range splitList(s) {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}
