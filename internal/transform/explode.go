// Package transform turns raw API landings into core dimension and fact rows.
//
// Transforms read the latest raw row per identity, so they are idempotent:
// re-running after a partial failure converges on the same core state. Each
// unit of work (location, page) runs in isolation; one bad unit never
// discards the rest of the batch.
package transform

import (
	"fmt"
	"time"

	"github.com/tidemark-io/tidemark/internal/extract"
	"github.com/tidemark-io/tidemark/internal/warehouse"
)

// kmhPerMPS converts wind speed from the API's km/h to m/s.
const kmhPerMPS = 3.6

// observationTimeLayouts are the timestamp shapes the forecast API emits.
// Hourly entries usually omit zone and seconds; treat those as UTC.
var observationTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
}

type (
	// ExplodedSeries is the result of flattening one hourly payload.
	ExplodedSeries struct {
		Facts   []warehouse.WeatherFact
		Skipped []SkippedObservation
	}

	// SkippedObservation records one hourly entry that could not become a
	// fact, with the reason.
	SkippedObservation struct {
		Index     int
		Timestamp string
		Reason    string
	}
)

// ExplodeHourly flattens positionally aligned hourly arrays into one fact per
// timestamp. Null or missing value entries become null measurements; only an
// unparseable timestamp skips its entry. Wind speed is converted from km/h to
// m/s.
func ExplodeHourly(series extract.HourlySeries, locationID int64, ref warehouse.RawRef) ExplodedSeries {
	result := ExplodedSeries{
		Facts: make([]warehouse.WeatherFact, 0, len(series.Time)),
	}

	for i, raw := range series.Time {
		observedAt, err := parseObservationTime(raw)
		if err != nil {
			result.Skipped = append(result.Skipped, SkippedObservation{
				Index:     i,
				Timestamp: raw,
				Reason:    fmt.Sprintf("unparseable timestamp: %v", err),
			})

			continue
		}

		result.Facts = append(result.Facts, warehouse.WeatherFact{
			LocationID:      locationID,
			ObservedAt:      observedAt,
			TemperatureC:    valueAt(series.TemperatureC, i),
			HumidityPct:     valueAt(series.HumidityPct, i),
			WindSpeedMPS:    convertWind(valueAt(series.WindSpeedKMH, i)),
			PrecipitationMM: valueAt(series.Precipitation, i),
			CloudCoverPct:   valueAt(series.CloudCoverPct, i),
			RawRef:          ref,
		})
	}

	return result
}

// parseObservationTime accepts the API's timestamp shapes and normalizes to
// UTC.
func parseObservationTime(raw string) (time.Time, error) {
	var lastErr error

	for _, layout := range observationTimeLayouts {
		t, err := time.Parse(layout, raw)
		if err == nil {
			return t.UTC(), nil
		}

		lastErr = err
	}

	return time.Time{}, lastErr
}

// valueAt returns the i-th entry of a parallel array, or nil when the array
// is short or the entry is null.
func valueAt(values []*float64, i int) *float64 {
	if i >= len(values) {
		return nil
	}

	return values[i]
}

// convertWind converts a km/h reading to m/s, preserving null.
func convertWind(kmh *float64) *float64 {
	if kmh == nil {
		return nil
	}

	mps := *kmh / kmhPerMPS

	return &mps
}
