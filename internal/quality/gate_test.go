package quality

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidemark-io/tidemark/internal/warehouse"
)

type fakeFactWindow struct {
	weather     []warehouse.WeatherFact
	revisions   []warehouse.RevisionFact
	weatherErr  error
	revisionErr error
}

func (f *fakeFactWindow) RecentWeatherFacts(_ context.Context, _ int) ([]warehouse.WeatherFact, error) {
	return f.weather, f.weatherErr
}

func (f *fakeFactWindow) RecentRevisionFacts(_ context.Context, _ int) ([]warehouse.RevisionFact, error) {
	return f.revisions, f.revisionErr
}

func ptr(v float64) *float64 {
	return &v
}

func weatherFact(locationID int64, hour int, tempC float64) warehouse.WeatherFact {
	return warehouse.WeatherFact{
		LocationID:   locationID,
		ObservedAt:   time.Date(2026, 8, 29, hour, 0, 0, 0, time.UTC),
		TemperatureC: ptr(tempC),
		HumidityPct:  ptr(70),
		WindSpeedMPS: ptr(3.5),
	}
}

func healthyWindow() *fakeFactWindow {
	weather := make([]warehouse.WeatherFact, 0, 24)
	for hour := 0; hour < 24; hour++ {
		weather = append(weather, weatherFact(1, hour, 18.0))
	}

	return &fakeFactWindow{
		weather: weather,
		revisions: []warehouse.RevisionFact{
			{PageID: 1, RevisionID: "1001", ContentLen: 2048},
			{PageID: 1, RevisionID: "1002", ContentLen: 4096},
			{PageID: 2, RevisionID: "1001", ContentLen: 512},
		},
	}
}

func TestGatePassesHealthyData(t *testing.T) {
	gate := NewGate(healthyWindow(), GateConfig{}, nil)

	report, err := gate.Check(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Passed)
	assert.False(t, report.Degraded)
	require.Len(t, report.Suites, 2)

	for _, suite := range report.Suites {
		assert.True(t, suite.Passed, "suite %s", suite.Suite)
		assert.Empty(t, suite.Failures())
	}
}

func TestGateBlocksOnOutlierTemperature(t *testing.T) {
	window := &fakeFactWindow{
		revisions: []warehouse.RevisionFact{{PageID: 1, RevisionID: "1", ContentLen: 10}},
	}

	// Ten rows, two with a 500°C outlier: 0.8 in range < 0.95 allowed.
	for hour := 0; hour < 10; hour++ {
		temp := 18.0
		if hour < 2 {
			temp = 500.0
		}

		window.weather = append(window.weather, weatherFact(1, hour, temp))
	}

	gate := NewGate(window, GateConfig{}, nil)

	report, err := gate.Check(context.Background())
	require.ErrorIs(t, err, ErrGateFailed)
	assert.False(t, report.Passed)

	weather := report.Suites[0]
	assert.False(t, weather.Passed)
	assert.Contains(t, weather.Failures(), "temperature_c_in_range")
}

func TestGateToleratesFewOutliers(t *testing.T) {
	window := healthyWindow()
	// One outlier in 24 rows: 23/24 ≈ 0.958 ≥ 0.95.
	window.weather[0].TemperatureC = ptr(500.0)

	gate := NewGate(window, GateConfig{}, nil)

	report, err := gate.Check(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Passed)
}

func TestGateBlocksOnEmptyWindow(t *testing.T) {
	window := healthyWindow()
	window.weather = nil

	gate := NewGate(window, GateConfig{}, nil)

	report, err := gate.Check(context.Background())
	require.ErrorIs(t, err, ErrGateFailed)
	assert.Contains(t, report.Suites[0].Failures(), "row_count_at_least_1")
}

func TestGateBlocksOnDuplicateWeatherKeys(t *testing.T) {
	window := healthyWindow()
	window.weather = append(window.weather, window.weather[0])

	gate := NewGate(window, GateConfig{}, nil)

	report, err := gate.Check(context.Background())
	require.ErrorIs(t, err, ErrGateFailed)
	assert.Contains(t, report.Suites[0].Failures(), "location_observed_at_unique")
}

func TestGateBlocksOnDuplicateRevisionKeys(t *testing.T) {
	window := healthyWindow()
	window.revisions = append(window.revisions, window.revisions[0])

	gate := NewGate(window, GateConfig{}, nil)

	report, err := gate.Check(context.Background())
	require.ErrorIs(t, err, ErrGateFailed)
	assert.Contains(t, report.Suites[1].Failures(), "page_revision_unique")
}

func TestGateBlocksOnEmptyContent(t *testing.T) {
	window := healthyWindow()
	window.revisions[0].ContentLen = 0

	gate := NewGate(window, GateConfig{}, nil)

	_, err := gate.Check(context.Background())
	require.ErrorIs(t, err, ErrGateFailed)
}

func TestGateNullMeasurementsDoNotFailRangeChecks(t *testing.T) {
	window := healthyWindow()
	for i := range window.weather {
		window.weather[i].TemperatureC = nil
	}

	gate := NewGate(window, GateConfig{}, nil)

	report, err := gate.Check(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Passed)
}

func TestGateStoreFailureBlocksByDefault(t *testing.T) {
	window := &fakeFactWindow{weatherErr: errors.New("connection refused")}

	gate := NewGate(window, GateConfig{}, nil)

	_, err := gate.Check(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrGateFailed, "store failure is transient, not a quality regression")
}

func TestGateDegradedPassThrough(t *testing.T) {
	window := &fakeFactWindow{weatherErr: errors.New("connection refused")}

	gate := NewGate(window, GateConfig{DegradedPass: true}, nil)

	report, err := gate.Check(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Passed)
	assert.True(t, report.Degraded)
}
