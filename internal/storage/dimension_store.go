package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tidemark-io/tidemark/internal/warehouse"
)

// Sentinel errors for dimension operations.
var (
	// ErrDimensionWriteFailed is returned when a dimension mutation fails.
	ErrDimensionWriteFailed = errors.New("dimension write failed")

	// ErrDimensionQueryFailed is returned when a dimension read fails.
	ErrDimensionQueryFailed = errors.New("dimension query failed")

	// ErrLocationNotFound is returned when a natural-key lookup has no match.
	// Callers must skip the dependent fact row, never fabricate a dimension row.
	ErrLocationNotFound = errors.New("location not found")
)

// DimensionStore provides operations against core.location and the type-2 SCD
// core.page dimension.
type DimensionStore struct {
	conn   *Connection
	logger *slog.Logger
}

// NewDimensionStore creates a dimension store over the given connection.
func NewDimensionStore(conn *Connection, logger *slog.Logger) (*DimensionStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &DimensionStore{conn: conn, logger: logger}, nil
}

// UpsertLocation inserts a location or, on natural-key conflict, updates its
// descriptive attributes. The surrogate id is stable across updates.
func (s *DimensionStore) UpsertLocation(ctx context.Context, loc warehouse.Location) error {
	const query = `
		INSERT INTO core.location
			(location_name, latitude, longitude, country, region, city)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (location_name, latitude, longitude)
		DO UPDATE SET
			country    = EXCLUDED.country,
			region     = EXCLUDED.region,
			city       = EXCLUDED.city,
			updated_at = NOW()
	`

	_, err := s.conn.ExecContext(ctx, query,
		loc.Name, loc.Latitude, loc.Longitude, loc.Country, loc.Region, loc.City)
	if err != nil {
		return fmt.Errorf("%w: upsert location %q: %w", ErrDimensionWriteFailed, loc.Name, err)
	}

	return nil
}

// ListLocations returns all locations ordered by name.
func (s *DimensionStore) ListLocations(ctx context.Context) ([]warehouse.Location, error) {
	const query = `
		SELECT location_id, location_name, latitude, longitude, country, region, city
		FROM core.location
		ORDER BY location_name
	`

	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: list locations: %w", ErrDimensionQueryFailed, err)
	}

	defer func() {
		_ = rows.Close()
	}()

	var locations []warehouse.Location

	for rows.Next() {
		var loc warehouse.Location

		if err := rows.Scan(
			&loc.ID, &loc.Name, &loc.Latitude, &loc.Longitude,
			&loc.Country, &loc.Region, &loc.City,
		); err != nil {
			return nil, fmt.Errorf("%w: scan location: %w", ErrDimensionQueryFailed, err)
		}

		locations = append(locations, loc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDimensionQueryFailed, err)
	}

	return locations, nil
}

// FindLocationID resolves a location surrogate id by natural key.
// Returns ErrLocationNotFound when the dimension lacks the key.
func (s *DimensionStore) FindLocationID(ctx context.Context, name string, latitude, longitude float64) (int64, error) {
	const query = `
		SELECT location_id FROM core.location
		WHERE location_name = $1 AND latitude = $2 AND longitude = $3
	`

	var id int64

	err := s.conn.QueryRowContext(ctx, query, name, latitude, longitude).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: %q (%f, %f)", ErrLocationNotFound, name, latitude, longitude)
	}

	if err != nil {
		return 0, fmt.Errorf("%w: find location %q: %w", ErrDimensionQueryFailed, name, err)
	}

	return id, nil
}

// CurrentPage returns the current SCD row for (externalID, language), or nil
// when no current row exists.
func (s *DimensionStore) CurrentPage(ctx context.Context, externalID int64, language string) (*warehouse.Page, error) {
	const query = `
		SELECT page_id, external_page_id, page_title, namespace, page_language,
		       valid_from, valid_to, is_current
		FROM core.page
		WHERE external_page_id = $1 AND page_language = $2 AND is_current
	`

	return s.scanPage(s.conn.QueryRowContext(ctx, query, externalID, language))
}

// CurrentPageByTitle returns the current SCD row for (title, language), or nil
// when no current row exists. Used by the seeder, which only knows titles.
func (s *DimensionStore) CurrentPageByTitle(ctx context.Context, title, language string) (*warehouse.Page, error) {
	const query = `
		SELECT page_id, external_page_id, page_title, namespace, page_language,
		       valid_from, valid_to, is_current
		FROM core.page
		WHERE page_title = $1 AND page_language = $2 AND is_current
	`

	return s.scanPage(s.conn.QueryRowContext(ctx, query, title, language))
}

// ListCurrentPages returns all current dimension rows ordered by title.
func (s *DimensionStore) ListCurrentPages(ctx context.Context) ([]warehouse.Page, error) {
	const query = `
		SELECT page_id, external_page_id, page_title, namespace, page_language,
		       valid_from, valid_to, is_current
		FROM core.page
		WHERE is_current
		ORDER BY page_title
	`

	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: list current pages: %w", ErrDimensionQueryFailed, err)
	}

	defer func() {
		_ = rows.Close()
	}()

	var pages []warehouse.Page

	for rows.Next() {
		var (
			page    warehouse.Page
			validTo sql.NullTime
		)

		if err := rows.Scan(
			&page.SurrogateID, &page.ExternalID, &page.Title, &page.Namespace,
			&page.Language, &page.ValidFrom, &validTo, &page.IsCurrent,
		); err != nil {
			return nil, fmt.Errorf("%w: scan page: %w", ErrDimensionQueryFailed, err)
		}

		if validTo.Valid {
			t := validTo.Time
			page.ValidTo = &t
		}

		pages = append(pages, page)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDimensionQueryFailed, err)
	}

	return pages, nil
}

// CreateCurrentPage inserts a fresh current SCD row and returns its surrogate id.
func (s *DimensionStore) CreateCurrentPage(ctx context.Context, page warehouse.Page) (int64, error) {
	const query = `
		INSERT INTO core.page
			(external_page_id, page_title, namespace, page_language,
			 valid_from, valid_to, is_current)
		VALUES ($1, $2, $3, $4, $5, NULL, TRUE)
		RETURNING page_id
	`

	var id int64

	err := s.conn.QueryRowContext(ctx, query,
		page.ExternalID, page.Title, page.Namespace, page.Language, page.ValidFrom,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("%w: create current page %q: %w", ErrDimensionWriteFailed, page.Title, err)
	}

	return id, nil
}

// SupersedePage closes the current row identified by oldSurrogateID and inserts
// a fresh current row in a single transaction. The external id is preserved
// while a new surrogate id is allocated, which is what gives the dimension its
// full version history.
func (s *DimensionStore) SupersedePage(ctx context.Context, oldSurrogateID int64, page warehouse.Page) (int64, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: begin supersede: %w", ErrDimensionWriteFailed, err)
	}

	defer func() {
		_ = tx.Rollback() // Safe to call even after commit
	}()

	const closeQuery = `
		UPDATE core.page
		SET valid_to = $1, is_current = FALSE
		WHERE page_id = $2
	`

	if _, err := tx.ExecContext(ctx, closeQuery, page.ValidFrom, oldSurrogateID); err != nil {
		return 0, fmt.Errorf("%w: close page %d: %w", ErrDimensionWriteFailed, oldSurrogateID, err)
	}

	const insertQuery = `
		INSERT INTO core.page
			(external_page_id, page_title, namespace, page_language,
			 valid_from, valid_to, is_current)
		VALUES ($1, $2, $3, $4, $5, NULL, TRUE)
		RETURNING page_id
	`

	var newID int64

	err = tx.QueryRowContext(ctx, insertQuery,
		page.ExternalID, page.Title, page.Namespace, page.Language, page.ValidFrom,
	).Scan(&newID)
	if err != nil {
		return 0, fmt.Errorf("%w: insert successor for page %d: %w", ErrDimensionWriteFailed, oldSurrogateID, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: commit supersede: %w", ErrDimensionWriteFailed, err)
	}

	s.logger.Info("page dimension row superseded",
		slog.Int64("old_page_id", oldSurrogateID),
		slog.Int64("new_page_id", newID),
		slog.Int64("external_page_id", page.ExternalID),
		slog.String("title", page.Title),
	)

	return newID, nil
}

// MinSyntheticExternalID returns the smallest negative external page id in the
// dimension, or 0 when none exist. Seeds the synthetic id allocator.
func (s *DimensionStore) MinSyntheticExternalID(ctx context.Context) (int64, error) {
	const query = `
		SELECT COALESCE(MIN(external_page_id), 0)
		FROM core.page
		WHERE external_page_id < 0
	`

	var minID int64

	if err := s.conn.QueryRowContext(ctx, query).Scan(&minID); err != nil {
		return 0, fmt.Errorf("%w: min synthetic external id: %w", ErrDimensionQueryFailed, err)
	}

	return minID, nil
}

// scanPage scans a single page row, mapping sql.ErrNoRows to (nil, nil).
func (s *DimensionStore) scanPage(row *sql.Row) (*warehouse.Page, error) {
	var (
		page    warehouse.Page
		validTo sql.NullTime
	)

	err := row.Scan(
		&page.SurrogateID, &page.ExternalID, &page.Title, &page.Namespace,
		&page.Language, &page.ValidFrom, &validTo, &page.IsCurrent,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("%w: scan page: %w", ErrDimensionQueryFailed, err)
	}

	if validTo.Valid {
		t := validTo.Time
		page.ValidTo = &t
	}

	return &page, nil
}
