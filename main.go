package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"scholar-ingest/config"
	"scholar-ingest/providers/openalex"
	"scholar-ingest/services"
	"scholar-ingest/storage"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app bündelt, was jedes Kommando braucht.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	db     *gorm.DB
}

func newRootCommand() *cobra.Command {
	a := &app{}
	cmd := &cobra.Command{
		Use:           "scholar-ingest",
		Short:         "Ingest OpenAlex works into the scholar database",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.close()
		},
	}
	cmd.AddCommand(newServeCommand(a))
	cmd.AddCommand(newIngestCommand(a))
	cmd.AddCommand(newSeedCommand(a))
	cmd.AddCommand(newMigrateCommand(a))
	return cmd
}

func (a *app) init() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config load error: %w", err)
	}
	a.cfg = cfg

	var logging *zap.Logger
	if cfg.LogLevel == "debug" {
		logging, err = zap.NewDevelopment()
	} else {
		logging, err = zap.NewProduction()
	}
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	a.logger = logging

	db, err := storage.Open(cfg, logging)
	if err != nil {
		return err
	}
	a.db = db
	if cfg.AutoMigrate {
		return storage.Migrate(db, logging)
	}
	return nil
}

func (a *app) close() {
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			sqlDB.Close()
		}
	}
	if a.logger != nil {
		a.logger.Sync()
	}
}

func newServeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the scheduled ingest",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve()
		},
	}
}

func (a *app) serve() error {
	logging := a.logger
	fetcher := openalex.NewFetcher(a.cfg, logging)
	ingestService := services.NewIngestService(a.cfg, a.db, logging)

	// eigener Pool für die Handler; eine In-Memory-SQLite existiert nur in a.db
	apiDB := a.db
	if !(a.cfg.DBDriver == "sqlite" && a.cfg.SQLitePath == ":memory:") {
		db, err := storage.OpenPool(a.cfg, logging, a.cfg.APIDBMaxConns)
		if err != nil {
			return err
		}
		defer func() {
			if sqlDB, err := db.DB(); err == nil {
				sqlDB.Close()
			}
		}()
		apiDB = db
	}
	institutionService := services.NewInstitutionService(apiDB, logging, a.cfg.Cities(), a.cfg.InstitutionLimit)

	router := setupRouter(a.cfg, apiDB, ingestService, institutionService, fetcher, logging)

	// Setup Cron
	cronScheduler := cron.New()
	_, err := cronScheduler.AddFunc(a.cfg.CronSchedule, func() {
		logging.Info("Running scheduled ingest job...")
		stats, err := ingestService.RunYear(context.Background(), fetcher, a.cfg.IngestYear)
		if err != nil {
			logging.Error("Cron job failed", zap.Error(err))
			return
		}
		logging.Info("Cron job completed", zap.String("run_id", stats.RunID), zap.Int("processed", stats.Processed))
	})
	if err != nil {
		return fmt.Errorf("invalid CRON_SCHEDULE %q: %w", a.cfg.CronSchedule, err)
	}
	cronScheduler.Start()
	defer cronScheduler.Stop()

	logging.Info("Starting server", zap.String("port", a.cfg.HTTPPort))
	srv := &http.Server{
		Addr:              ":" + a.cfg.HTTPPort,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to run server: %w", err)
	}
	logging.Info("Server stopped")
	return nil
}

func newIngestCommand(a *app) *cobra.Command {
	var (
		year int
		file string
	)
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest works once, from OpenAlex or from a JSON-lines file",
		Long: `Ingest works in batches of INGEST_BATCH_SIZE.

Without --file, all works of the given publication year that belong to a
catalogued institution are fetched from OpenAlex. With --file, one OpenAlex
work per line is read from a local snapshot.

Example:
  scholar-ingest ingest --year 2024
  scholar-ingest ingest --file works-2024.jsonl`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			svc := services.NewIngestService(a.cfg, a.db, a.logger)
			var (
				stats services.Stats
				err   error
			)
			if file != "" {
				src, openErr := openalex.OpenFile(file)
				if openErr != nil {
					return openErr
				}
				defer src.Close()
				stats, err = svc.Ingest(ctx, src)
			} else {
				if year <= 0 {
					year = a.cfg.IngestYear
				}
				stats, err = svc.RunYear(ctx, openalex.NewFetcher(a.cfg, a.logger), year)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "run %s: processed=%d skipped=%d batches=%d failed=%t\n",
				stats.RunID, stats.Processed, stats.Skipped, stats.Batches, stats.Failed)
			return err
		},
	}
	cmd.Flags().IntVar(&year, "year", 0, "publication year to fetch (default INGEST_YEAR, then the current year)")
	cmd.Flags().StringVar(&file, "file", "", "read works from a JSON-lines file instead of the API")
	cmd.MarkFlagsMutuallyExclusive("year", "file")
	return cmd
}

func newSeedCommand(a *app) *cobra.Command {
	var (
		country string
		limit   int
	)
	cmd := &cobra.Command{
		Use:   "seed-institutions",
		Short: "Fill the institution catalog from OpenAlex",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("limit") {
				limit = a.cfg.InstitutionLimit
			}
			svc := services.NewInstitutionService(a.db, a.logger, a.cfg.Cities(), limit)
			res, err := svc.Seed(cmd.Context(), openalex.NewFetcher(a.cfg, a.logger).Institutions(country))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "fetched=%d matched=%d written=%d\n", res.Fetched, res.Matched, res.Written)
			return nil
		},
	}
	cmd.Flags().StringVar(&country, "country", "MX", "ISO country code (overrides INSTITUTION_COUNTRY)")
	cmd.Flags().IntVar(&limit, "limit", 0, "stop after this many matching institutions (0 = no limit)")
	cmd.PreRun = func(cmd *cobra.Command, args []string) {
		if !cmd.Flags().Changed("country") {
			country = a.cfg.InstitutionCountry
		}
	}
	return cmd
}

func newMigrateCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the ingest tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			return storage.Migrate(a.db, a.logger)
		},
	}
}
