package pipeline

import (
	"time"

	"github.com/tidemark-io/tidemark/internal/config"
)

// Config controls concurrency, rate limiting, and retry behavior for one
// pipeline run.
type Config struct {
	// FetchConcurrency bounds the worker pool for per-location and per-page
	// fetch fan-outs.
	FetchConcurrency int

	// RefreshConcurrency bounds the per-view refresh fan-out.
	RefreshConcurrency int

	// FetchRatePerSecond throttles outbound API calls across all fetch
	// workers.
	FetchRatePerSecond float64

	// DimensionRetries and DimensionRetryDelay govern the blocking dimension
	// sync stage.
	DimensionRetries    int
	DimensionRetryDelay time.Duration

	// FetchRetries and FetchRetryDelay govern each fetch+store task. The
	// delay grows linearly with the attempt number.
	FetchRetries    int
	FetchRetryDelay time.Duration

	// TransformRetries and TransformRetryDelay govern the two fan-in
	// transform stages.
	TransformRetries    int
	TransformRetryDelay time.Duration

	// TaskTimeout bounds each individual task attempt. The quality gate and
	// view refreshes share it.
	TaskTimeout time.Duration
}

// DefaultConfig returns the built-in retry and concurrency policy.
func DefaultConfig() Config {
	return Config{
		FetchConcurrency:    4,
		RefreshConcurrency:  2,
		FetchRatePerSecond:  5,
		DimensionRetries:    2,
		DimensionRetryDelay: 5 * time.Second,
		FetchRetries:        3,
		FetchRetryDelay:     2 * time.Second,
		TransformRetries:    2,
		TransformRetryDelay: 5 * time.Second,
		TaskTimeout:         60 * time.Second,
	}
}

// LoadConfig reads pipeline settings from the environment, falling back to
// defaults.
func LoadConfig() Config {
	defaults := DefaultConfig()

	return Config{
		FetchConcurrency:    config.GetEnvInt("PIPELINE_FETCH_CONCURRENCY", defaults.FetchConcurrency),
		RefreshConcurrency:  config.GetEnvInt("PIPELINE_REFRESH_CONCURRENCY", defaults.RefreshConcurrency),
		FetchRatePerSecond:  config.GetEnvFloat("PIPELINE_FETCH_RATE_PER_SECOND", defaults.FetchRatePerSecond),
		DimensionRetries:    config.GetEnvInt("PIPELINE_DIMENSION_RETRIES", defaults.DimensionRetries),
		DimensionRetryDelay: config.GetEnvDuration("PIPELINE_DIMENSION_RETRY_DELAY", defaults.DimensionRetryDelay),
		FetchRetries:        config.GetEnvInt("PIPELINE_FETCH_RETRIES", defaults.FetchRetries),
		FetchRetryDelay:     config.GetEnvDuration("PIPELINE_FETCH_RETRY_DELAY", defaults.FetchRetryDelay),
		TransformRetries:    config.GetEnvInt("PIPELINE_TRANSFORM_RETRIES", defaults.TransformRetries),
		TransformRetryDelay: config.GetEnvDuration("PIPELINE_TRANSFORM_RETRY_DELAY", defaults.TransformRetryDelay),
		TaskTimeout:         config.GetEnvDuration("PIPELINE_TASK_TIMEOUT", defaults.TaskTimeout),
	}
}

// normalize clamps nonsensical values back to defaults.
func (c Config) normalize() Config {
	defaults := DefaultConfig()

	if c.FetchConcurrency <= 0 {
		c.FetchConcurrency = defaults.FetchConcurrency
	}

	if c.RefreshConcurrency <= 0 {
		c.RefreshConcurrency = defaults.RefreshConcurrency
	}

	if c.FetchRatePerSecond <= 0 {
		c.FetchRatePerSecond = defaults.FetchRatePerSecond
	}

	if c.TaskTimeout <= 0 {
		c.TaskTimeout = defaults.TaskTimeout
	}

	return c
}
