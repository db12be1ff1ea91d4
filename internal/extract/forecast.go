package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sony/gobreaker"

	"github.com/tidemark-io/tidemark/internal/warehouse"
)

// hourlyVariables is the fixed variable set requested from the forecast API.
// The transform depends on exactly these series being present (possibly with
// null entries).
const hourlyVariables = "temperature_2m,relativehumidity_2m,precipitation,cloudcover,windspeed_10m"

const (
	forecastLookbackDays = 1
	forecastHorizonDays  = 7
)

// ForecastClient fetches hourly forecast data for a location.
type ForecastClient struct {
	baseURL string
	cfg     httpConfig
	circuit *gobreaker.CircuitBreaker
	now     func() time.Time
}

// ForecastOption configures optional ForecastClient behavior.
type ForecastOption func(*ForecastClient)

// WithForecastNow overrides the client's time source. Tests use this to pin
// the fetch window.
func WithForecastNow(now func() time.Time) ForecastOption {
	return func(c *ForecastClient) {
		c.now = now
	}
}

// NewForecastClient creates a forecast API client with a circuit breaker and
// retry backoff.
func NewForecastClient(baseURL string, client *http.Client, backoff BackoffConfig, opts ...ForecastOption) *ForecastClient {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "forecast",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
	})

	c := &ForecastClient{
		baseURL: baseURL,
		cfg:     httpConfig{client: client, backoff: backoff},
		circuit: cb,
		now:     func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Fetch retrieves hourly forecast data for the location, covering the prior
// day through seven days ahead. Returns the typed payload and the verbatim
// response body for raw landing.
//
// Non-2xx responses and timeouts surface as errors for the caller to retry.
func (c *ForecastClient) Fetch(ctx context.Context, loc warehouse.Location) (ForecastPayload, []byte, error) {
	now := c.now()
	startDate := now.AddDate(0, 0, -forecastLookbackDays).Format("2006-01-02")
	endDate := now.AddDate(0, 0, forecastHorizonDays).Format("2006-01-02")

	buildRequest := func() (*http.Request, error) {
		values := url.Values{}
		values.Set("latitude", strconv.FormatFloat(loc.Latitude, 'f', -1, 64))
		values.Set("longitude", strconv.FormatFloat(loc.Longitude, 'f', -1, 64))
		values.Set("hourly", hourlyVariables)
		values.Set("timezone", "UTC")
		values.Set("start_date", startDate)
		values.Set("end_date", endDate)

		return http.NewRequest(http.MethodGet, c.baseURL+"?"+values.Encode(), nil)
	}

	resp, err := doRequestWithResilience(ctx, c.cfg, c.circuit, buildRequest)
	if err != nil {
		return ForecastPayload{}, nil, fmt.Errorf("fetch forecast for %q: %w", loc.Name, err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return ForecastPayload{}, nil, fmt.Errorf("%w: read forecast body for %q: %w", ErrRequestFailed, loc.Name, err)
	}

	var payload ForecastPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return ForecastPayload{}, nil, fmt.Errorf("%w: decode forecast for %q: %w", ErrMalformedResponse, loc.Name, err)
	}

	return payload, body, nil
}
