// Package extract provides the external API clients for the Tidemark pipeline.
//
// Extractors are pure: they call external HTTP APIs and normalize responses
// into typed payloads plus the verbatim body for raw landing. They never touch
// the database.
package extract

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Sentinel errors for extraction. Transport-level failures are transient and
// retried by the orchestrator; malformed bodies are not.
var (
	// ErrRequestFailed is returned for network errors, timeouts and non-2xx
	// responses. Callers retry these with backoff.
	ErrRequestFailed = errors.New("api request failed")

	// ErrMalformedResponse is returned when a 2xx body cannot be decoded into
	// the expected shape.
	ErrMalformedResponse = errors.New("malformed api response")
)

type (
	// ForecastPayload is the typed form of a forecast API response. The hourly
	// block carries positionally aligned parallel arrays: index i across all
	// arrays describes one observation.
	ForecastPayload struct {
		Latitude  float64      `json:"latitude"`
		Longitude float64      `json:"longitude"`
		Hourly    HourlySeries `json:"hourly"`
	}

	// HourlySeries holds the parallel hourly arrays. Value entries are
	// pointers because the API may return nulls; a null entry is a null fact
	// downstream, not an error. Arrays may also be shorter than Time.
	HourlySeries struct {
		Time          []string   `json:"time"`
		TemperatureC  []*float64 `json:"temperature_2m"`
		HumidityPct   []*float64 `json:"relativehumidity_2m"`
		Precipitation []*float64 `json:"precipitation"`
		CloudCoverPct []*float64 `json:"cloudcover"`
		WindSpeedKMH  []*float64 `json:"windspeed_10m"`
	}

	// PageSummary is the typed form of the content-revision API's summary
	// response. Fields the transform needs are validated here at the boundary;
	// everything else stays in the raw payload.
	PageSummary struct {
		PageID    int64     `json:"pageid"`
		Title     string    `json:"title"`
		Revision  string    `json:"revision"`
		Timestamp string    `json:"timestamp"`
		Namespace Namespace `json:"namespace"`
	}

	// Namespace tolerates both encodings the API uses: a bare integer or an
	// object with an "id" field.
	Namespace struct {
		ID int `json:"id"`
	}
)

// UnmarshalJSON accepts either a bare integer or an {"id": n, ...} object.
func (n *Namespace) UnmarshalJSON(data []byte) error {
	var id int
	if err := json.Unmarshal(data, &id); err == nil {
		n.ID = id

		return nil
	}

	type alias Namespace

	var obj alias
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("%w: namespace: %w", ErrMalformedResponse, err)
	}

	n.ID = obj.ID

	return nil
}
