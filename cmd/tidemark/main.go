// Package main provides the Tidemark ETL pipeline binary.
//
// Tidemark ingests weather and encyclopedia-revision data into a layered
// warehouse (raw, core, mart) on a cron schedule or on demand, gating the
// mart refresh behind a data-quality check.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/robfig/cron/v3"

	"github.com/tidemark-io/tidemark/internal/api"
	"github.com/tidemark-io/tidemark/internal/config"
	"github.com/tidemark-io/tidemark/internal/events"
	"github.com/tidemark-io/tidemark/internal/extract"
	"github.com/tidemark-io/tidemark/internal/observability"
	"github.com/tidemark-io/tidemark/internal/pipeline"
	"github.com/tidemark-io/tidemark/internal/quality"
	"github.com/tidemark-io/tidemark/internal/seed"
	"github.com/tidemark-io/tidemark/internal/storage"
	"github.com/tidemark-io/tidemark/internal/transform"
)

// Version information.
const (
	version = "1.0.0-dev"
	name    = "tidemark"
)

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	onceFlag := flag.Bool("once", false, "run the pipeline once and exit instead of scheduling")
	seedFileFlag := flag.String("seed-file", "", "path to the seed YAML file (default: SEED_FILE env)")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file loaded: %v", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
	}))
	slog.SetDefault(logger)

	logger.Info("starting tidemark",
		slog.String("service", name),
		slog.String("version", version),
	)

	storageConfig := storage.LoadConfig()
	if err := storageConfig.Validate(); err != nil {
		logger.Error("invalid storage configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	conn, err := storage.NewConnection(storageConfig)
	if err != nil {
		logger.Error("failed to connect to database",
			slog.String("database_url", storageConfig.MaskDatabaseURL()),
			slog.String("error", err.Error()))
		os.Exit(1)
	}

	defer func() {
		_ = conn.Close()
	}()

	logger.Info("database connected", slog.String("database_url", storageConfig.MaskDatabaseURL()))

	orchestrator, err := buildOrchestrator(conn, *seedFileFlag, logger)
	if err != nil {
		logger.Error("failed to build pipeline", slog.String("error", err.Error()))
		_ = conn.Close()
		os.Exit(1)
	}

	publisher := events.NewPublisher(events.LoadPublisherConfig(), logger)

	defer func() {
		_ = publisher.Close()
	}()

	opsServer := api.NewServer(api.LoadServerConfig(), conn, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := opsServer.Start(ctx); err != nil {
			logger.Error("ops server stopped", slog.String("error", err.Error()))
		}
	}()

	if *onceFlag {
		if !runOnce(ctx, orchestrator, publisher, opsServer, logger) {
			_ = publisher.Close()
			_ = conn.Close()
			os.Exit(1)
		}

		return
	}

	runScheduled(ctx, orchestrator, publisher, opsServer, logger)
}

// buildOrchestrator wires stores, API clients, transforms, and the gate into
// a pipeline orchestrator.
func buildOrchestrator(conn *storage.Connection, seedPath string, logger *slog.Logger) (*pipeline.Orchestrator, error) {
	rawStore, err := storage.NewRawStore(conn, logger)
	if err != nil {
		return nil, err
	}

	dimensionStore, err := storage.NewDimensionStore(conn, logger)
	if err != nil {
		return nil, err
	}

	factStore, err := storage.NewFactStore(conn, logger)
	if err != nil {
		return nil, err
	}

	martStore, err := storage.NewMartStore(conn, logger)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	allocator, err := storage.NewSyntheticIDAllocator(ctx, dimensionStore)
	if err != nil {
		return nil, err
	}

	seedFile, err := loadSeedFile(seedPath, logger)
	if err != nil {
		return nil, err
	}

	httpClient := &http.Client{
		Timeout: config.GetEnvDuration("HTTP_CLIENT_TIMEOUT", 30*time.Second),
	}

	backoff := extract.BackoffConfig{
		MaxRetries:      config.GetEnvInt("HTTP_MAX_RETRIES", 2),
		InitialInterval: config.GetEnvDuration("HTTP_RETRY_INITIAL_INTERVAL", time.Second),
		MaxInterval:     config.GetEnvDuration("HTTP_RETRY_MAX_INTERVAL", 10*time.Second),
	}

	forecastClient := extract.NewForecastClient(
		config.GetEnvStr("FORECAST_API_URL", "https://api.open-meteo.com/v1/forecast"),
		httpClient,
		backoff,
	)

	revisionClient := extract.NewRevisionClient(
		config.GetEnvStr("REVISION_API_URL", "https://en.wikipedia.org/api/rest_v1"),
		config.GetEnvStr("HTTP_USER_AGENT", "tidemark/"+version+" (ops@tidemark.io)"),
		httpClient,
		backoff,
	)

	return pipeline.New(pipeline.LoadConfig(), pipeline.Deps{
		SeedFile:  seedFile,
		Syncer:    seed.NewUpserter(dimensionStore, allocator, logger),
		Dims:      dimensionStore,
		Forecasts: forecastClient,
		Pages:     revisionClient,
		Raw:       rawStore,
		Weather:   transform.NewWeatherTransformer(rawStore, dimensionStore, factStore, logger),
		Revisions: transform.NewRevisionTransformer(rawStore, dimensionStore, factStore, logger),
		Gate:      quality.NewGate(factStore, quality.LoadGateConfig(), logger),
		Mart:      martStore,
		Metrics:   observability.NewMetrics(),
		Logger:    logger,
	}), nil
}

func loadSeedFile(path string, logger *slog.Logger) (*seed.File, error) {
	if path == "" {
		path = config.GetEnvStr("SEED_FILE", "")
	}

	if path == "" {
		logger.Info("no seed file configured, dimensions managed externally")

		return nil, nil
	}

	file, err := seed.Load(path)
	if err != nil {
		return nil, err
	}

	logger.Info("seed file loaded",
		slog.String("path", path),
		slog.Int("locations", len(file.Locations)),
		slog.Int("pages", len(file.Pages)))

	return file, nil
}

// runOnce executes a single pipeline run. Returns false when the run
// finished in the failed state.
func runOnce(ctx context.Context, orchestrator *pipeline.Orchestrator, publisher *events.Publisher, opsServer *api.Server, logger *slog.Logger) bool {
	summary, runErr := orchestrator.Run(ctx)

	opsServer.RecordRun(summary)

	publishCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = publisher.Publish(publishCtx, summary)

	if runErr != nil {
		logger.Error("run finished in failed state",
			slog.String("run_id", summary.RunID.String()),
			slog.String("error", runErr.Error()))

		return false
	}

	return true
}

// runScheduled runs the pipeline on a cron cadence until interrupted.
func runScheduled(ctx context.Context, orchestrator *pipeline.Orchestrator, publisher *events.Publisher, opsServer *api.Server, logger *slog.Logger) {
	spec := config.GetEnvStr("PIPELINE_CRON", "0 6 * * *")

	scheduler := cron.New()

	_, err := scheduler.AddFunc(spec, func() {
		runOnce(ctx, orchestrator, publisher, opsServer, logger)
	})
	if err != nil {
		logger.Error("invalid PIPELINE_CRON expression",
			slog.String("spec", spec),
			slog.String("error", err.Error()))
		os.Exit(1)
	}

	scheduler.Start()
	logger.Info("pipeline scheduled", slog.String("cron", spec))

	<-ctx.Done()

	logger.Info("shutdown signal received, waiting for running jobs")
	<-scheduler.Stop().Done()
	logger.Info("scheduler stopped")
}
