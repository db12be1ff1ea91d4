package storage_test

import (
	"context"
	"testing"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"

	"github.com/tidemark-io/tidemark/internal/config"
	"github.com/tidemark-io/tidemark/internal/storage"
	"github.com/tidemark-io/tidemark/internal/warehouse"
)

// setupStores starts a migrated postgres container and returns all four
// stores backed by it.
type stores struct {
	raw  *storage.RawStore
	dims *storage.DimensionStore
	fact *storage.FactStore
	mart *storage.MartStore
}

func setupStores(ctx context.Context, t *testing.T) *stores {
	t.Helper()

	testDB := config.SetupTestDatabase(ctx, t)
	t.Cleanup(func() {
		_ = testDB.Connection.Close()
		_ = testcontainers.TerminateContainer(testDB.Container)
	})

	conn := storage.WrapDB(testDB.Connection)

	raw, err := storage.NewRawStore(conn, nil)
	require.NoError(t, err)

	dims, err := storage.NewDimensionStore(conn, nil)
	require.NoError(t, err)

	fact, err := storage.NewFactStore(conn, nil)
	require.NoError(t, err)

	mart, err := storage.NewMartStore(conn, nil)
	require.NoError(t, err)

	return &stores{raw: raw, dims: dims, fact: fact, mart: mart}
}

func boston() warehouse.Location {
	return warehouse.Location{
		Name:      "Boston",
		Latitude:  42.3601,
		Longitude: -71.0589,
		Country:   "United States",
		Region:    "Massachusetts",
		City:      "Boston",
	}
}

func TestDimensionStoreLocationUpsertStable(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	s := setupStores(ctx, t)

	require.NoError(t, s.dims.UpsertLocation(ctx, boston()))

	firstID, err := s.dims.FindLocationID(ctx, "Boston", 42.3601, -71.0589)
	require.NoError(t, err)

	// Re-upsert with changed descriptive fields: same surrogate id, fields
	// updated.
	updated := boston()
	updated.Region = "MA"
	require.NoError(t, s.dims.UpsertLocation(ctx, updated))

	secondID, err := s.dims.FindLocationID(ctx, "Boston", 42.3601, -71.0589)
	require.NoError(t, err)
	assert.Equal(t, firstID, secondID)

	locations, err := s.dims.ListLocations(ctx)
	require.NoError(t, err)
	require.Len(t, locations, 1)
	assert.Equal(t, "MA", locations[0].Region)
}

func TestDimensionStoreFindLocationMiss(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	s := setupStores(ctx, t)

	_, err := s.dims.FindLocationID(ctx, "Atlantis", 0, 0)
	assert.ErrorIs(t, err, storage.ErrLocationNotFound)
}

func TestDimensionStoreSupersedePage(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	s := setupStores(ctx, t)

	firstID, err := s.dims.CreateCurrentPage(ctx, warehouse.Page{
		ExternalID: 24437894,
		Title:      "Boston",
		Language:   "en",
		ValidFrom:  time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC),
		IsCurrent:  true,
	})
	require.NoError(t, err)

	secondID, err := s.dims.SupersedePage(ctx, firstID, warehouse.Page{
		ExternalID: 24437894,
		Title:      "Boston, Massachusetts",
		Language:   "en",
		ValidFrom:  time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC),
		IsCurrent:  true,
	})
	require.NoError(t, err)
	assert.NotEqual(t, firstID, secondID)

	current, err := s.dims.CurrentPage(ctx, 24437894, "en")
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, secondID, current.SurrogateID)
	assert.Equal(t, "Boston, Massachusetts", current.Title)
	assert.Nil(t, current.ValidTo)

	// Exactly one current row per natural key survives the supersede.
	pages, err := s.dims.ListCurrentPages(ctx)
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, secondID, pages[0].SurrogateID)
}

func TestSyntheticIDAllocator(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	s := setupStores(ctx, t)

	// Empty dimension: allocation starts at -1.
	allocator, err := storage.NewSyntheticIDAllocator(ctx, s.dims)
	require.NoError(t, err)
	assert.Equal(t, int64(-1), allocator.Next())
	assert.Equal(t, int64(-2), allocator.Next())

	_, err = s.dims.CreateCurrentPage(ctx, warehouse.Page{
		ExternalID: -5,
		Title:      "Seeded",
		Language:   "en",
		ValidFrom:  time.Now().UTC(),
		IsCurrent:  true,
	})
	require.NoError(t, err)

	// A fresh allocator resumes below the minimum stored negative id.
	allocator, err = storage.NewSyntheticIDAllocator(ctx, s.dims)
	require.NoError(t, err)
	assert.Equal(t, int64(-6), allocator.Next())
}

func TestFactStoreWeatherUpsertIdempotent(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	s := setupStores(ctx, t)

	require.NoError(t, s.dims.UpsertLocation(ctx, boston()))

	locationID, err := s.dims.FindLocationID(ctx, "Boston", 42.3601, -71.0589)
	require.NoError(t, err)

	temp := 18.4
	facts := []warehouse.WeatherFact{
		{
			LocationID:   locationID,
			ObservedAt:   time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC),
			TemperatureC: &temp,
			RawRef:       warehouse.RawRef{RawTable: "weather_observations", RawID: 1},
		},
		{
			LocationID: locationID,
			ObservedAt: time.Date(2026, 8, 29, 1, 0, 0, 0, time.UTC),
			RawRef:     warehouse.RawRef{RawTable: "weather_observations", RawID: 1},
		},
	}

	count, err := s.fact.UpsertWeatherFacts(ctx, facts)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// Second pass with an updated measurement converges on the same rows.
	updatedTemp := 19.0
	facts[0].TemperatureC = &updatedTemp

	_, err = s.fact.UpsertWeatherFacts(ctx, facts)
	require.NoError(t, err)

	recent, err := s.fact.RecentWeatherFacts(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)

	byHour := map[int]warehouse.WeatherFact{}
	for _, fact := range recent {
		byHour[fact.ObservedAt.Hour()] = fact
	}

	require.NotNil(t, byHour[0].TemperatureC)
	assert.InDelta(t, 19.0, *byHour[0].TemperatureC, 1e-9)
	assert.Nil(t, byHour[1].TemperatureC)
}

func TestFactStoreRevisionInsertOnce(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	s := setupStores(ctx, t)

	pageID, err := s.dims.CreateCurrentPage(ctx, warehouse.Page{
		ExternalID: 24437894,
		Title:      "Boston",
		Language:   "en",
		ValidFrom:  time.Now().UTC(),
		IsCurrent:  true,
	})
	require.NoError(t, err)

	fact := warehouse.RevisionFact{
		PageID:       pageID,
		RevisionID:   "1304212345",
		RevisionTime: time.Date(2026, 8, 28, 16, 4, 31, 0, time.UTC),
		ContentLen:   2048,
		FetchedAt:    time.Now().UTC(),
		RawRef:       warehouse.RawRef{RawTable: "encyclopedia_pages", RawID: 1},
	}

	inserted, err := s.fact.InsertRevision(ctx, fact)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = s.fact.InsertRevision(ctx, fact)
	require.NoError(t, err)
	assert.False(t, inserted, "duplicate (page_id, revision_id) is silently ignored")

	recent, err := s.fact.RecentRevisionFacts(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, int64(2048), recent[0].ContentLen)
}

func TestRawStoreLatestPerIdentity(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	s := setupStores(ctx, t)

	rec := warehouse.RawWeatherRecord{
		LocationName: "Boston",
		Latitude:     42.3601,
		Longitude:    -71.0589,
		Payload:      []byte(`{"run": 1}`),
		Source:       warehouse.SourceForecastAPI,
	}

	_, err := s.raw.InsertWeatherObservation(ctx, rec)
	require.NoError(t, err)

	rec.Payload = []byte(`{"run": 2}`)
	secondID, err := s.raw.InsertWeatherObservation(ctx, rec)
	require.NoError(t, err)

	latest, err := s.raw.LatestWeatherObservations(ctx)
	require.NoError(t, err)
	require.Len(t, latest, 1, "one row per identity, the most recent")
	assert.Equal(t, secondID, latest[0].ID)
	assert.JSONEq(t, `{"run": 2}`, string(latest[0].Payload))
}

func TestMartStoreRefreshModes(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	s := setupStores(ctx, t)

	views, err := s.mart.ListMaterializedViews(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"mart.daily_weather_aggregates", "mart.daily_page_stats"}, views)

	// The aggregates view carries a unique index and refreshes concurrently;
	// the page stats view has none and falls back to a blocking refresh.
	mode, err := s.mart.RefreshView(ctx, "mart.daily_weather_aggregates")
	require.NoError(t, err)
	assert.Equal(t, storage.RefreshConcurrent, mode)

	mode, err = s.mart.RefreshView(ctx, "mart.daily_page_stats")
	require.NoError(t, err)
	assert.Equal(t, storage.RefreshBlocking, mode)

	_, err = s.mart.RefreshView(ctx, "mart.nonexistent; DROP TABLE core.weather")
	assert.ErrorIs(t, err, storage.ErrUnknownView)
}
