package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tidemark-io/tidemark/internal/warehouse"
)

// Sentinel errors for raw landing operations.
var (
	// ErrRawInsertFailed is returned when appending a raw landing row fails.
	ErrRawInsertFailed = errors.New("raw insert failed")

	// ErrRawQueryFailed is returned when reading raw landing rows fails.
	ErrRawQueryFailed = errors.New("raw query failed")
)

// RawStore provides typed operations against the append-only raw.* tables.
//
// Rows are only ever inserted, each tagged with an ingestion timestamp and a
// source label. Reads select the most recently ingested row per identity,
// which is the only raw read path the transforms use.
type RawStore struct {
	conn   *Connection
	logger *slog.Logger
}

// NewRawStore creates a raw landing store over the given connection.
func NewRawStore(conn *Connection, logger *slog.Logger) (*RawStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &RawStore{conn: conn, logger: logger}, nil
}

// InsertWeatherObservation appends one raw weather landing row and returns its id.
// Never upserts; repeated fetches for the same location accumulate rows.
func (s *RawStore) InsertWeatherObservation(ctx context.Context, rec warehouse.RawWeatherRecord) (int64, error) {
	const query = `
		INSERT INTO raw.weather_observations
			(location_name, latitude, longitude, payload, ingested_at, source)
		VALUES ($1, $2, $3, $4::jsonb, NOW(), $5)
		RETURNING id
	`

	var id int64

	err := s.conn.QueryRowContext(ctx, query,
		rec.LocationName,
		rec.Latitude,
		rec.Longitude,
		rec.Payload,
		rec.Source,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("%w: weather observation for %q: %w", ErrRawInsertFailed, rec.LocationName, err)
	}

	s.logger.Debug("raw weather observation stored",
		slog.Int64("raw_id", id),
		slog.String("location", rec.LocationName),
	)

	return id, nil
}

// InsertPageSnapshot appends one raw page landing row and returns its id.
// The extracted metadata columns are stored alongside the full payload so the
// transform can fall back to them when payload keys are absent.
func (s *RawStore) InsertPageSnapshot(ctx context.Context, rec warehouse.RawPageRecord) (int64, error) {
	const query = `
		INSERT INTO raw.encyclopedia_pages
			(page_id, page_title, namespace, revision_id, revision_timestamp,
			 content_size_bytes, page_language, payload, ingested_at, source)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, NOW(), $9)
		RETURNING id
	`

	var id int64

	err := s.conn.QueryRowContext(ctx, query,
		rec.PageID,
		rec.Title,
		rec.Namespace,
		rec.RevisionID,
		rec.RevisionTime,
		rec.ContentSize,
		rec.Language,
		rec.Payload,
		rec.Source,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("%w: page snapshot for %q: %w", ErrRawInsertFailed, rec.Title, err)
	}

	s.logger.Debug("raw page snapshot stored",
		slog.Int64("raw_id", id),
		slog.String("title", rec.Title),
	)

	return id, nil
}

// LatestWeatherObservations returns the most recently ingested raw row per
// distinct location identity. Older rows for the same identity are ignored.
func (s *RawStore) LatestWeatherObservations(ctx context.Context) ([]warehouse.RawWeatherRecord, error) {
	const query = `
		SELECT DISTINCT ON (location_name, latitude, longitude)
			id, location_name, latitude, longitude, payload, ingested_at, source
		FROM raw.weather_observations
		ORDER BY location_name, latitude, longitude, ingested_at DESC
	`

	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: latest weather observations: %w", ErrRawQueryFailed, err)
	}

	defer func() {
		_ = rows.Close()
	}()

	var records []warehouse.RawWeatherRecord

	for rows.Next() {
		var rec warehouse.RawWeatherRecord

		if err := rows.Scan(
			&rec.ID,
			&rec.LocationName,
			&rec.Latitude,
			&rec.Longitude,
			&rec.Payload,
			&rec.IngestedAt,
			&rec.Source,
		); err != nil {
			return nil, fmt.Errorf("%w: scan weather observation: %w", ErrRawQueryFailed, err)
		}

		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRawQueryFailed, err)
	}

	return records, nil
}

// LatestPageSnapshots returns the most recently ingested raw row per distinct
// (page_title, page_language) natural key.
func (s *RawStore) LatestPageSnapshots(ctx context.Context) ([]warehouse.RawPageRecord, error) {
	const query = `
		SELECT DISTINCT ON (page_title, page_language)
			id, page_id, page_title, namespace, revision_id, revision_timestamp,
			content_size_bytes, page_language, payload, ingested_at, source
		FROM raw.encyclopedia_pages
		ORDER BY page_title, page_language, ingested_at DESC
	`

	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: latest page snapshots: %w", ErrRawQueryFailed, err)
	}

	defer func() {
		_ = rows.Close()
	}()

	var records []warehouse.RawPageRecord

	for rows.Next() {
		var rec warehouse.RawPageRecord

		if err := rows.Scan(
			&rec.ID,
			&rec.PageID,
			&rec.Title,
			&rec.Namespace,
			&rec.RevisionID,
			&rec.RevisionTime,
			&rec.ContentSize,
			&rec.Language,
			&rec.Payload,
			&rec.IngestedAt,
			&rec.Source,
		); err != nil {
			return nil, fmt.Errorf("%w: scan page snapshot: %w", ErrRawQueryFailed, err)
		}

		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRawQueryFailed, err)
	}

	return records, nil
}
