package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/bsaid97/go-parcel-fixer/config"
	"github.com/bsaid97/go-parcel-fixer/engine"
	"github.com/bsaid97/go-parcel-fixer/handlers"
	"github.com/bsaid97/go-parcel-fixer/kernel"
	"github.com/bsaid97/go-parcel-fixer/lease"
	"github.com/bsaid97/go-parcel-fixer/parcel"
	"github.com/bsaid97/go-parcel-fixer/store"
	"github.com/bsaid97/go-parcel-fixer/utils"
)

// errNotClean makes the process exit non-zero without printing an error.
var errNotClean = errors.New("batch did not pass validation")

var (
	cfg        config.Config
	configPath string
	logLevel   string
	reportPath string
	importPath string
	driver     string
	storePath  string
	progress   bool
)

var rootCmd = &cobra.Command{
	Use:           "parcel-fixer",
	Short:         "Sanitize and validate cadastral parcel batches",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if logLevel != "" {
			cfg.LogLevel = logLevel
		}
		setupLogging(cfg.LogLevel)
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		k := kernel.NewGEOS()
		srv := &http.Server{
			Addr:              cfg.Server.Addr,
			Handler:           handlers.NewServer(newEngine(), k, cfg.Policy, utils.PayloadOptions{
				MaxBytes: cfg.Server.MaxUploadMB << 20,
				DataDir:  cfg.Server.DataDir,
			}, log.Logger).Routes(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			<-ctx.Done()
			shutdown, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdown)
		}()

		log.Info().Str("addr", cfg.Server.Addr).Msg("server is listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	},
}

var sanitizeCmd = &cobra.Command{
	Use:   "sanitize",
	Short: "Sanitize the configured store in place and validate the result",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOnStore(cmd, func(ctx context.Context, e *engine.Engine, st store.Store) *parcel.Report {
			return e.SanitizeAndValidate(ctx, st, cfg.Policy)
		})
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configured store without changing it",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOnStore(cmd, func(ctx context.Context, e *engine.Engine, st store.Store) *parcel.Report {
			return e.Validate(ctx, st, cfg.Policy)
		})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level")

	for _, c := range []*cobra.Command{sanitizeCmd, validateCmd} {
		c.Flags().StringVar(&driver, "driver", "", "store driver (geojson, shapefile, postgres, mongo)")
		c.Flags().StringVar(&storePath, "path", "", "file backing a geojson or shapefile store")
		c.Flags().StringVarP(&reportPath, "report", "o", "", "write the JSON report here instead of stdout")
		c.Flags().StringVar(&importPath, "import", "", "seed a database store from this GeoJSON file first")
	}
	sanitizeCmd.Flags().BoolVar(&progress, "progress", false, "show a spinner while resolving overlaps")

	rootCmd.AddCommand(serveCmd, sanitizeCmd, validateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errNotClean) {
			log.Error().Err(err).Msg("command failed")
		}
		os.Exit(1)
	}
}

func setupLogging(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
}

func newEngine() *engine.Engine {
	var locker lease.Locker = lease.NewLocal()
	if client := lease.OpenRedis(cfg.Lease.RedisAddr, cfg.Lease.RedisPassword, cfg.Lease.RedisDB); client != nil {
		locker = lease.NewRedis(client)
	}
	opts := []engine.Option{engine.WithLocker(locker, cfg.Lease.TTL)}
	if progress {
		opts = append(opts, engine.WithProgress(os.Stderr))
	}
	return engine.New(kernel.NewGEOS(), log.Logger, opts...)
}

// runOnStore opens the configured store, runs fn and writes its report.
func runOnStore(cmd *cobra.Command, fn func(context.Context, *engine.Engine, store.Store) *parcel.Report) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if driver != "" {
		cfg.Store.Driver = driver
	}
	if storePath != "" {
		cfg.Store.Path = storePath
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}
	st, err := store.Open(ctx, cfg.Store, cfg.Policy.RequiredFields, log.Logger)
	if err != nil {
		return err
	}
	defer st.Close(context.WithoutCancel(ctx))

	if importPath != "" {
		if err := seed(ctx, st); err != nil {
			return err
		}
	}

	report := fn(ctx, newEngine(), st)
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	if reportPath != "" {
		if err := os.WriteFile(reportPath, data, 0o644); err != nil {
			return err
		}
	} else {
		fmt.Println(string(data))
	}
	log.Info().Bool("pass", report.Pass).Int("errors", len(report.Errors)).Int("warnings", len(report.Warnings)).Msg("done")
	if !report.Pass {
		return errNotClean
	}
	return nil
}

func seed(ctx context.Context, st store.Store) error {
	imp, ok := st.(store.Importer)
	if !ok {
		return fmt.Errorf("store driver %s cannot import", cfg.Store.Driver)
	}
	data, err := os.ReadFile(importPath)
	if err != nil {
		return err
	}
	batch, err := store.DecodeGeoJSON(data, log.Logger)
	if err != nil {
		return err
	}
	if cfg.Store.CRSID != 0 {
		batch.CRSID = cfg.Store.CRSID
	}
	return imp.Import(ctx, batch)
}
