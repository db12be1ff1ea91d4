package transform

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/tidemark-io/tidemark/internal/extract"
	"github.com/tidemark-io/tidemark/internal/storage"
	"github.com/tidemark-io/tidemark/internal/warehouse"
)

// rawWeatherTable is the lineage table name carried on weather facts.
const rawWeatherTable = "weather_observations"

type (
	// RawWeatherReader supplies the latest raw observation per location.
	// Implemented by storage.RawStore.
	RawWeatherReader interface {
		LatestWeatherObservations(ctx context.Context) ([]warehouse.RawWeatherRecord, error)
	}

	// LocationFinder resolves a location's surrogate ID from its natural key.
	// Implemented by storage.DimensionStore.
	LocationFinder interface {
		FindLocationID(ctx context.Context, name string, latitude, longitude float64) (int64, error)
	}

	// WeatherFactWriter persists one location's fact batch atomically.
	// Implemented by storage.FactStore.
	WeatherFactWriter interface {
		UpsertWeatherFacts(ctx context.Context, facts []warehouse.WeatherFact) (int, error)
	}
)

// WeatherResult summarizes one weather transform run.
type WeatherResult struct {
	LocationsProcessed  int
	LocationsSkipped    int
	LocationsFailed     int
	RowsInserted        int
	ObservationsSkipped int
}

// WeatherTransformer flattens raw hourly observations into core.weather.
type WeatherTransformer struct {
	raw    RawWeatherReader
	dims   LocationFinder
	facts  WeatherFactWriter
	logger *slog.Logger
}

// NewWeatherTransformer creates a WeatherTransformer.
func NewWeatherTransformer(raw RawWeatherReader, dims LocationFinder, facts WeatherFactWriter, logger *slog.Logger) *WeatherTransformer {
	if logger == nil {
		logger = slog.Default()
	}

	return &WeatherTransformer{raw: raw, dims: dims, facts: facts, logger: logger}
}

// Run processes the latest raw observation per location. A location whose
// dimension row is missing is skipped with a warning, never fabricated. Each
// location's batch is written atomically; a failed batch discards only that
// location's work.
func (t *WeatherTransformer) Run(ctx context.Context) (WeatherResult, error) {
	records, err := t.raw.LatestWeatherObservations(ctx)
	if err != nil {
		return WeatherResult{}, err
	}

	var result WeatherResult

	for _, rec := range records {
		locationID, err := t.dims.FindLocationID(ctx, rec.LocationName, rec.Latitude, rec.Longitude)
		if err != nil {
			if errors.Is(err, storage.ErrLocationNotFound) {
				result.LocationsSkipped++
				t.logger.Warn("no dimension row for raw observation, skipping",
					"location", rec.LocationName,
					"latitude", rec.Latitude,
					"longitude", rec.Longitude)

				continue
			}

			result.LocationsFailed++
			t.logger.Error("dimension lookup failed",
				"location", rec.LocationName,
				"error", err)

			continue
		}

		var payload extract.ForecastPayload
		if err := json.Unmarshal(rec.Payload, &payload); err != nil {
			result.LocationsFailed++
			t.logger.Error("raw payload undecodable",
				"location", rec.LocationName,
				"raw_id", rec.ID,
				"error", err)

			continue
		}

		exploded := ExplodeHourly(payload.Hourly, locationID, warehouse.RawRef{
			RawTable: rawWeatherTable,
			RawID:    rec.ID,
		})

		for _, skipped := range exploded.Skipped {
			t.logger.Warn("hourly entry skipped",
				"location", rec.LocationName,
				"index", skipped.Index,
				"timestamp", skipped.Timestamp,
				"reason", skipped.Reason)
		}

		result.ObservationsSkipped += len(exploded.Skipped)

		inserted, err := t.facts.UpsertWeatherFacts(ctx, exploded.Facts)
		if err != nil {
			result.LocationsFailed++
			t.logger.Error("fact batch failed, location discarded",
				"location", rec.LocationName,
				"error", err)

			continue
		}

		result.LocationsProcessed++
		result.RowsInserted += inserted
	}

	t.logger.Info("weather transform complete",
		"locations_processed", result.LocationsProcessed,
		"locations_skipped", result.LocationsSkipped,
		"locations_failed", result.LocationsFailed,
		"rows_inserted", result.RowsInserted)

	return result, nil
}
