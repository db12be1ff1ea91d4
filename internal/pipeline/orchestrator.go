// Package pipeline orchestrates the fixed stage sequence of one ETL run:
// dimension sync, fetch fan-outs, transform fan-ins, the quality gate, and
// the mart refresh.
//
// The stage graph is linear. The two fetch stages and the refresh stage fan
// out over a bounded worker pool; every fan-in waits for all sibling tasks to
// resolve, successfully or not, before the next stage starts. A run always
// finishes in one of two terminal states, success or failed.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/tidemark-io/tidemark/internal/extract"
	"github.com/tidemark-io/tidemark/internal/observability"
	"github.com/tidemark-io/tidemark/internal/quality"
	"github.com/tidemark-io/tidemark/internal/seed"
	"github.com/tidemark-io/tidemark/internal/transform"
	"github.com/tidemark-io/tidemark/internal/warehouse"
)

// Terminal run states.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Sentinel errors classifying why a run failed. A transient failure is worth
// retrying on the next schedule; a quality regression needs investigation
// before any retry can help.
var (
	ErrTransientFailure  = errors.New("transient pipeline failure")
	ErrQualityRegression = errors.New("data quality regression")
)

type (
	// DimensionSyncer reconciles seed entries into the dimension tables.
	// Implemented by seed.Upserter.
	DimensionSyncer interface {
		SyncLocations(ctx context.Context, entries []seed.LocationEntry) seed.Result
		SyncPages(ctx context.Context, entries []seed.PageEntry) seed.Result
	}

	// DimensionLister supplies the fan-out targets. Implemented by
	// storage.DimensionStore.
	DimensionLister interface {
		ListLocations(ctx context.Context) ([]warehouse.Location, error)
		ListCurrentPages(ctx context.Context) ([]warehouse.Page, error)
	}

	// ForecastFetcher fetches one location's forecast. Implemented by
	// extract.ForecastClient.
	ForecastFetcher interface {
		Fetch(ctx context.Context, loc warehouse.Location) (extract.ForecastPayload, []byte, error)
	}

	// PageFetcher fetches one page's summary and content size. Implemented by
	// extract.RevisionClient.
	PageFetcher interface {
		Fetch(ctx context.Context, page warehouse.Page) (extract.PageFetchResult, error)
	}

	// RawLanding appends verbatim API payloads. Implemented by
	// storage.RawStore.
	RawLanding interface {
		InsertWeatherObservation(ctx context.Context, rec warehouse.RawWeatherRecord) (int64, error)
		InsertPageSnapshot(ctx context.Context, rec warehouse.RawPageRecord) (int64, error)
	}

	// WeatherTransform is the weather fan-in stage. Implemented by
	// transform.WeatherTransformer.
	WeatherTransform interface {
		Run(ctx context.Context) (transform.WeatherResult, error)
	}

	// RevisionTransform is the revision fan-in stage. Implemented by
	// transform.RevisionTransformer.
	RevisionTransform interface {
		Run(ctx context.Context) (transform.RevisionResult, error)
	}

	// QualityGate blocks the refresh on expectation failures. Implemented by
	// quality.Gate.
	QualityGate interface {
		Check(ctx context.Context) (quality.GateReport, error)
	}

	// ViewRefresher discovers and refreshes mart views. Implemented by
	// storage.MartStore.
	ViewRefresher interface {
		ListMaterializedViews(ctx context.Context) ([]string, error)
		RefreshView(ctx context.Context, qualifiedName string) (string, error)
	}
)

type (
	// FetchStats counts one fan-out stage's task outcomes.
	FetchStats struct {
		Attempted int
		Succeeded int
		Failed    int
	}

	// RefreshOutcome is one view's refresh result.
	RefreshOutcome struct {
		View  string
		Mode  string
		Error string
	}

	// Summary is the structured result of one run.
	Summary struct {
		RunID      uuid.UUID
		Status     string
		StartedAt  time.Time
		FinishedAt time.Time
		Duration   time.Duration

		Locations      seed.Result
		Pages          seed.Result
		WeatherFetches FetchStats
		PageFetches    FetchStats
		Weather        transform.WeatherResult
		Revisions      transform.RevisionResult
		Gate           quality.GateReport
		Refreshes      []RefreshOutcome
	}
)

// Orchestrator runs the pipeline.
type Orchestrator struct {
	cfg       Config
	seedFile  *seed.File
	syncer    DimensionSyncer
	dims      DimensionLister
	forecasts ForecastFetcher
	pages     PageFetcher
	raw       RawLanding
	weather   WeatherTransform
	revisions RevisionTransform
	gate      QualityGate
	mart      ViewRefresher
	limiter   *rate.Limiter
	metrics   *observability.Metrics
	logger    *slog.Logger
}

// Deps bundles the orchestrator's collaborators.
type Deps struct {
	SeedFile  *seed.File
	Syncer    DimensionSyncer
	Dims      DimensionLister
	Forecasts ForecastFetcher
	Pages     PageFetcher
	Raw       RawLanding
	Weather   WeatherTransform
	Revisions RevisionTransform
	Gate      QualityGate
	Mart      ViewRefresher
	Metrics   *observability.Metrics
	Logger    *slog.Logger
}

// New creates an Orchestrator.
func New(cfg Config, deps Deps) *Orchestrator {
	cfg = cfg.normalize()

	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	if deps.Metrics == nil {
		deps.Metrics = observability.NewMetricsForTesting()
	}

	return &Orchestrator{
		cfg:       cfg,
		seedFile:  deps.SeedFile,
		syncer:    deps.Syncer,
		dims:      deps.Dims,
		forecasts: deps.Forecasts,
		pages:     deps.Pages,
		raw:       deps.Raw,
		weather:   deps.Weather,
		revisions: deps.Revisions,
		gate:      deps.Gate,
		mart:      deps.Mart,
		limiter:   rate.NewLimiter(rate.Limit(cfg.FetchRatePerSecond), 1),
		metrics:   deps.Metrics,
		logger:    deps.Logger,
	}
}

// Run executes the full stage sequence and returns the run summary. The
// summary is populated as far as the run got even when the returned error is
// non-nil.
func (o *Orchestrator) Run(ctx context.Context) (Summary, error) {
	summary := Summary{
		RunID:     uuid.New(),
		StartedAt: warehouse.Now(),
	}

	logger := o.logger.With("run_id", summary.RunID)
	logger.Info("pipeline run starting")

	err := o.runStages(ctx, logger, &summary)

	summary.FinishedAt = warehouse.Now()
	summary.Duration = summary.FinishedAt.Sub(summary.StartedAt)

	if err != nil {
		summary.Status = StatusFailed
		o.metrics.RunsTotal.WithLabelValues(StatusFailed).Inc()
		logger.Error("pipeline run failed",
			"duration", summary.Duration,
			"error", err)

		return summary, err
	}

	summary.Status = StatusSuccess
	o.metrics.RunsTotal.WithLabelValues(StatusSuccess).Inc()
	logger.Info("pipeline run succeeded",
		"duration", summary.Duration,
		"weather_rows", summary.Weather.RowsInserted,
		"revision_rows", summary.Revisions.RevisionsInserted)

	return summary, nil
}

func (o *Orchestrator) runStages(ctx context.Context, logger *slog.Logger, summary *Summary) error {
	if err := o.stageDimensionSync(ctx, logger, summary); err != nil {
		return err
	}

	o.stageWeatherFetch(ctx, logger, summary)

	if err := o.stageWeatherTransform(ctx, logger, summary); err != nil {
		return err
	}

	o.stagePageFetch(ctx, logger, summary)

	if err := o.stageRevisionTransform(ctx, logger, summary); err != nil {
		return err
	}

	if err := o.stageQualityGate(ctx, logger, summary); err != nil {
		return err
	}

	o.stageRefresh(ctx, logger, summary)

	return nil
}

// stageDimensionSync reconciles seed entries, retrying the whole stage on
// failure. Partial per-entry failures inside one attempt are tolerated; the
// stage only fails when the sync reports nothing but failures.
func (o *Orchestrator) stageDimensionSync(ctx context.Context, logger *slog.Logger, summary *Summary) error {
	if o.seedFile == nil {
		logger.Info("no seed file configured, dimension sync skipped")

		return nil
	}

	defer o.observeStage("dimension_sync")()

	err := o.retry(ctx, o.cfg.DimensionRetries, o.cfg.DimensionRetryDelay, func(ctx context.Context) error {
		summary.Locations = o.syncer.SyncLocations(ctx, o.seedFile.Locations)
		summary.Pages = o.syncer.SyncPages(ctx, o.seedFile.Pages)

		if summary.Locations.Processed > 0 && summary.Locations.Failed == summary.Locations.Processed {
			return fmt.Errorf("all %d location upserts failed", summary.Locations.Failed)
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: dimension sync: %w", ErrTransientFailure, err)
	}

	logger.Info("dimension sync complete",
		"locations", summary.Locations,
		"pages", summary.Pages)

	return nil
}

// stageWeatherFetch fans out one fetch+store task per location. Task
// failures are counted, not propagated: the downstream transform runs on
// whatever landed.
func (o *Orchestrator) stageWeatherFetch(ctx context.Context, logger *slog.Logger, summary *Summary) {
	defer o.observeStage("weather_fetch")()

	locations, err := o.dims.ListLocations(ctx)
	if err != nil {
		logger.Error("listing locations failed, weather fetch skipped", "error", err)

		return
	}

	summary.WeatherFetches = o.fanOut(ctx, o.cfg.FetchConcurrency, len(locations), func(ctx context.Context, i int) error {
		return o.fetchWeatherTask(ctx, locations[i])
	})

	logger.Info("weather fetch complete", "stats", summary.WeatherFetches)
}

func (o *Orchestrator) fetchWeatherTask(ctx context.Context, loc warehouse.Location) error {
	err := o.retry(ctx, o.cfg.FetchRetries, o.cfg.FetchRetryDelay, func(ctx context.Context) error {
		if err := o.limiter.Wait(ctx); err != nil {
			return err
		}

		_, body, err := o.forecasts.Fetch(ctx, loc)
		if err != nil {
			return err
		}

		_, err = o.raw.InsertWeatherObservation(ctx, warehouse.RawWeatherRecord{
			LocationName: loc.Name,
			Latitude:     loc.Latitude,
			Longitude:    loc.Longitude,
			Payload:      body,
			Source:       warehouse.SourceForecastAPI,
		})

		return err
	})
	if err != nil {
		o.metrics.FetchesTotal.WithLabelValues("forecast", "error").Inc()
		o.logger.Warn("weather fetch task failed",
			"location", loc.Name,
			"error", err)

		return err
	}

	o.metrics.FetchesTotal.WithLabelValues("forecast", "success").Inc()

	return nil
}

// stagePageFetch fans out one fetch+store task per current page.
func (o *Orchestrator) stagePageFetch(ctx context.Context, logger *slog.Logger, summary *Summary) {
	defer o.observeStage("page_fetch")()

	pages, err := o.dims.ListCurrentPages(ctx)
	if err != nil {
		logger.Error("listing pages failed, page fetch skipped", "error", err)

		return
	}

	summary.PageFetches = o.fanOut(ctx, o.cfg.FetchConcurrency, len(pages), func(ctx context.Context, i int) error {
		return o.fetchPageTask(ctx, pages[i])
	})

	logger.Info("page fetch complete", "stats", summary.PageFetches)
}

func (o *Orchestrator) fetchPageTask(ctx context.Context, page warehouse.Page) error {
	err := o.retry(ctx, o.cfg.FetchRetries, o.cfg.FetchRetryDelay, func(ctx context.Context) error {
		if err := o.limiter.Wait(ctx); err != nil {
			return err
		}

		result, err := o.pages.Fetch(ctx, page)
		if err != nil {
			return err
		}

		rec := warehouse.RawPageRecord{
			PageID:      result.Summary.PageID,
			Title:       result.Summary.Title,
			Namespace:   result.Summary.Namespace.ID,
			RevisionID:  result.Summary.Revision,
			ContentSize: result.ContentSize,
			Language:    page.Language,
			Payload:     result.RawBody,
			Source:      warehouse.SourceRevisionAPI,
		}

		if rec.Title == "" {
			rec.Title = page.Title
		}

		if ts, err := time.Parse(time.RFC3339, result.Summary.Timestamp); err == nil {
			rec.RevisionTime = ts.UTC()
		}

		_, err = o.raw.InsertPageSnapshot(ctx, rec)

		return err
	})
	if err != nil {
		o.metrics.FetchesTotal.WithLabelValues("revision", "error").Inc()
		o.logger.Warn("page fetch task failed",
			"title", page.Title,
			"language", page.Language,
			"error", err)

		return err
	}

	o.metrics.FetchesTotal.WithLabelValues("revision", "success").Inc()

	return nil
}

func (o *Orchestrator) stageWeatherTransform(ctx context.Context, logger *slog.Logger, summary *Summary) error {
	defer o.observeStage("weather_transform")()

	err := o.retry(ctx, o.cfg.TransformRetries, o.cfg.TransformRetryDelay, func(ctx context.Context) error {
		result, err := o.weather.Run(ctx)
		if err != nil {
			return err
		}

		summary.Weather = result

		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: weather transform: %w", ErrTransientFailure, err)
	}

	o.metrics.RowsInserted.WithLabelValues("weather").Add(float64(summary.Weather.RowsInserted))
	logger.Info("weather transform complete", "result", summary.Weather)

	return nil
}

func (o *Orchestrator) stageRevisionTransform(ctx context.Context, logger *slog.Logger, summary *Summary) error {
	defer o.observeStage("revision_transform")()

	err := o.retry(ctx, o.cfg.TransformRetries, o.cfg.TransformRetryDelay, func(ctx context.Context) error {
		result, err := o.revisions.Run(ctx)
		if err != nil {
			return err
		}

		summary.Revisions = result

		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: revision transform: %w", ErrTransientFailure, err)
	}

	o.metrics.RowsInserted.WithLabelValues("revision").Add(float64(summary.Revisions.RevisionsInserted))
	logger.Info("revision transform complete", "result", summary.Revisions)

	return nil
}

// stageQualityGate runs the gate exactly once. A quality failure is a
// signal, not a transient fault, so there are no retries and the remainder
// of the pipeline is aborted.
func (o *Orchestrator) stageQualityGate(ctx context.Context, logger *slog.Logger, summary *Summary) error {
	defer o.observeStage("quality_gate")()

	gateCtx, cancel := context.WithTimeout(ctx, o.cfg.TaskTimeout)
	defer cancel()

	report, err := o.gate.Check(gateCtx)
	summary.Gate = report

	if err != nil {
		if errors.Is(err, quality.ErrGateFailed) {
			o.metrics.GateFailures.Inc()

			return fmt.Errorf("%w: %w", ErrQualityRegression, err)
		}

		return fmt.Errorf("%w: quality gate: %w", ErrTransientFailure, err)
	}

	logger.Info("quality gate passed", "degraded", report.Degraded)

	return nil
}

// stageRefresh refreshes every mart view in parallel. A single view's
// failure is recorded in the summary and never fails the run.
func (o *Orchestrator) stageRefresh(ctx context.Context, logger *slog.Logger, summary *Summary) {
	defer o.observeStage("mart_refresh")()

	views, err := o.mart.ListMaterializedViews(ctx)
	if err != nil {
		logger.Error("listing mart views failed, refresh skipped", "error", err)
		summary.Refreshes = append(summary.Refreshes, RefreshOutcome{Error: err.Error()})

		return
	}

	outcomes := make([]RefreshOutcome, len(views))

	o.fanOut(ctx, o.cfg.RefreshConcurrency, len(views), func(ctx context.Context, i int) error {
		refreshCtx, cancel := context.WithTimeout(ctx, o.cfg.TaskTimeout)
		defer cancel()

		mode, err := o.mart.RefreshView(refreshCtx, views[i])
		outcomes[i] = RefreshOutcome{View: views[i], Mode: mode}

		if err != nil {
			outcomes[i].Error = err.Error()
			logger.Error("view refresh failed",
				"view", views[i],
				"error", err)

			return err
		}

		logger.Info("view refreshed",
			"view", views[i],
			"mode", mode)

		return nil
	})

	summary.Refreshes = outcomes
}

// fanOut runs n index-addressed tasks on a bounded worker pool and waits for
// all of them. Sibling failures never cancel each other.
func (o *Orchestrator) fanOut(ctx context.Context, concurrency, n int, task func(ctx context.Context, i int) error) FetchStats {
	stats := FetchStats{Attempted: n}

	if n == 0 {
		return stats
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		semaphore = make(chan struct{}, concurrency)
	)

	for i := 0; i < n; i++ {
		wg.Add(1)
		semaphore <- struct{}{}

		go func(i int) {
			defer wg.Done()
			defer func() { <-semaphore }()

			err := task(ctx, i)

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				stats.Failed++
			} else {
				stats.Succeeded++
			}
		}(i)
	}

	wg.Wait()

	return stats
}

// retry runs fn with a per-attempt timeout, up to retries additional
// attempts, waiting attempt*delay between attempts.
func (o *Orchestrator) retry(ctx context.Context, retries int, delay time.Duration, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			wait := time.Duration(attempt) * delay

			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()

				return ctx.Err()
			case <-timer.C:
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, o.cfg.TaskTimeout)
		err := fn(attemptCtx)

		cancel()

		if err == nil {
			return nil
		}

		lastErr = err
	}

	return lastErr
}

// observeStage times a stage into the stage-duration histogram.
func (o *Orchestrator) observeStage(stage string) func() {
	start := time.Now()

	return func() {
		o.metrics.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	}
}
