// Package main provides the LedgerLine ingestion service.
//
// The service reads a manifest of ledger extract files, runs each one through
// the ingestion pipeline (load, profile, contract check, normalize, rule
// battery, duplicate check, persist) and reports an aggregate summary.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"gopkg.in/yaml.v3"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/ledgerline-io/ledgerline/internal/config"
	"github.com/ledgerline-io/ledgerline/internal/coordinator"
	"github.com/ledgerline-io/ledgerline/internal/docstore"
	"github.com/ledgerline-io/ledgerline/internal/events"
	"github.com/ledgerline-io/ledgerline/internal/fingerprint"
	"github.com/ledgerline-io/ledgerline/internal/pipeline"
	"github.com/ledgerline-io/ledgerline/internal/rules"
	"github.com/ledgerline-io/ledgerline/internal/schema"
	"github.com/ledgerline-io/ledgerline/internal/storage"
)

// Version information.
const (
	version = "1.0.0-dev"
	name    = "ledgerline"
)

type (
	// manifest is the YAML document listing the units of one ingestion run.
	manifest struct {
		Units []manifestUnit `yaml:"units"`
	}

	manifestUnit struct {
		File   string `yaml:"file"`
		Entity string `yaml:"entity"`
		Period string `yaml:"period"`
	}
)

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	manifestPath := flag.String("manifest", "manifest.yaml", "path to the ingestion manifest")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: config.GetEnvLogLevel("LEDGERLINE_LOG_LEVEL", slog.LevelInfo),
	}))

	logger.Info("Starting LedgerLine ingestion service",
		slog.String("service", name),
		slog.String("version", version),
		slog.String("manifest", *manifestPath),
	)

	units, err := loadManifest(*manifestPath)
	if err != nil {
		logger.Error("Failed to load manifest", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if len(units) == 0 {
		logger.Warn("Manifest lists no units, nothing to do")
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	storageConfig := storage.LoadConfig()

	dbConn, err := storage.NewConnection(storageConfig)
	if err != nil {
		logger.Error("Failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}

	defer func() {
		_ = dbConn.Close() // Ensure connection closes on normal shutdown
	}()

	logger.Info("Ledger store initialized",
		slog.String("database_url", storageConfig.MaskDatabaseURL()),
		slog.Int("database_max_open_conns", storageConfig.MaxOpenConns),
		slog.Int("upsert_chunk_size", storageConfig.UpsertChunkSize),
	)

	docConfig := docstore.LoadConfig()

	docStore, err := docstore.Connect(ctx, docConfig, logger)
	if err != nil {
		logger.Error("Failed to connect to document store", slog.String("error", err.Error()))

		_ = dbConn.Close()
		//nolint:gocritic // Explicit cleanup before os.Exit is intentional (defer won't run)
		os.Exit(1)
	}

	defer func() {
		_ = docStore.Close(context.Background())
	}()

	logger.Info("Document store initialized", slog.String("database", docConfig.Database))

	eventsConfig := events.LoadConfig()
	publisher := events.NewPublisher(eventsConfig, logger)

	defer func() {
		_ = publisher.Close()
	}()

	if eventsConfig.Enabled {
		logger.Info("Audit event stream enabled",
			slog.Any("brokers", eventsConfig.Brokers),
			slog.String("topic", eventsConfig.Topic),
		)
	}

	pipelineConfig := pipeline.LoadConfig()
	ledgerStore := storage.NewLedgerStore(dbConn, logger)
	fingerprinter := fingerprint.New(docStore)
	validator := rules.NewValidator(rules.LoadConfig())

	pipe := pipeline.New(
		pipelineConfig,
		schema.DefaultContract(),
		fingerprinter,
		validator,
		ledgerStore,
		docStore,
		publisher,
		logger,
	)

	coordConfig := coordinator.LoadConfig()
	coord := coordinator.New(coordConfig, pipe, logger)

	logger.Info("Coordinator configured",
		slog.Int("workers", coordConfig.Workers),
		slog.Int("max_attempts", coordConfig.MaxAttempts),
		slog.Duration("initial_backoff", coordConfig.InitialBackoff),
		slog.Float64("start_rate", coordConfig.StartRate),
		slog.Bool("validate_before_insert", pipelineConfig.ValidateBeforeInsert),
		slog.Bool("fail_on_validation_error", pipelineConfig.FailOnValidationError),
	)

	summary, err := coord.Run(ctx, units)
	if err != nil {
		logger.Error("Ingestion run interrupted", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if summary.Failed > 0 {
		logger.Error("Ingestion run finished with failures",
			slog.Int("total", summary.Total),
			slog.Int("successful", summary.Successful),
			slog.Int("failed", summary.Failed),
			slog.Int("skipped", summary.Skipped),
		)
		os.Exit(1)
	}

	logger.Info("Ingestion run finished",
		slog.Int("total", summary.Total),
		slog.Int("successful", summary.Successful),
		slog.Int("skipped", summary.Skipped),
	)
}

// loadManifest reads the ingestion manifest and converts it to pipeline units.
func loadManifest(path string) ([]pipeline.Unit, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest %s: %w", path, err)
	}

	var doc manifest

	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}

	units := make([]pipeline.Unit, 0, len(doc.Units))

	for i, u := range doc.Units {
		if u.File == "" || u.Entity == "" || u.Period == "" {
			return nil, fmt.Errorf("manifest unit %d is missing file, entity or period", i)
		}

		units = append(units, pipeline.Unit{
			Path:   u.File,
			Entity: u.Entity,
			Period: u.Period,
		})
	}

	return units, nil
}
