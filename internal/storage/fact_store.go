package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tidemark-io/tidemark/internal/warehouse"
)

// Sentinel errors for fact storage operations.
var (
	// ErrFactWriteFailed is returned when a fact upsert or insert fails.
	ErrFactWriteFailed = errors.New("fact write failed")

	// ErrFactQueryFailed is returned when reading fact rows fails.
	ErrFactQueryFailed = errors.New("fact query failed")
)

// FactStore provides operations against the core.weather and core.revision
// fact tables.
type FactStore struct {
	conn   *Connection
	logger *slog.Logger
}

// NewFactStore creates a fact store over the given connection.
func NewFactStore(conn *Connection, logger *slog.Logger) (*FactStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &FactStore{conn: conn, logger: logger}, nil
}

// UpsertWeatherFacts writes one location's batch of hourly facts in a single
// transaction, upserting on (location_id, observed_at) with last-write-wins
// semantics for the measurements and the lineage reference.
//
// The transaction is the per-location isolation boundary: any failure rolls
// back this batch only, leaving other locations' committed work untouched.
func (s *FactStore) UpsertWeatherFacts(ctx context.Context, facts []warehouse.WeatherFact) (int, error) {
	if len(facts) == 0 {
		return 0, nil
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: begin weather batch: %w", ErrFactWriteFailed, err)
	}

	defer func() {
		_ = tx.Rollback() // Safe to call even after commit
	}()

	const query = `
		INSERT INTO core.weather
			(location_id, observed_at, temperature_celsius, humidity_percent,
			 wind_speed_mps, precipitation_mm, cloud_cover_percent, raw_ref, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, NOW())
		ON CONFLICT (location_id, observed_at)
		DO UPDATE SET
			temperature_celsius = EXCLUDED.temperature_celsius,
			humidity_percent    = EXCLUDED.humidity_percent,
			wind_speed_mps      = EXCLUDED.wind_speed_mps,
			precipitation_mm    = EXCLUDED.precipitation_mm,
			cloud_cover_percent = EXCLUDED.cloud_cover_percent,
			raw_ref             = EXCLUDED.raw_ref
	`

	written := 0

	for _, fact := range facts {
		rawRef, err := json.Marshal(fact.RawRef)
		if err != nil {
			return 0, fmt.Errorf("%w: marshal raw ref: %w", ErrFactWriteFailed, err)
		}

		if _, err := tx.ExecContext(ctx, query,
			fact.LocationID,
			fact.ObservedAt,
			fact.TemperatureC,
			fact.HumidityPct,
			fact.WindSpeedMPS,
			fact.PrecipitationMM,
			fact.CloudCoverPct,
			rawRef,
		); err != nil {
			return 0, fmt.Errorf("%w: upsert weather fact at %s: %w", ErrFactWriteFailed, fact.ObservedAt, err)
		}

		written++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: commit weather batch: %w", ErrFactWriteFailed, err)
	}

	return written, nil
}

// InsertRevision appends one immutable revision fact. Duplicate
// (page_id, revision_id) keys are silently ignored so re-runs are idempotent.
// Returns true when a new row was written.
func (s *FactStore) InsertRevision(ctx context.Context, fact warehouse.RevisionFact) (bool, error) {
	rawRef, err := json.Marshal(fact.RawRef)
	if err != nil {
		return false, fmt.Errorf("%w: marshal raw ref: %w", ErrFactWriteFailed, err)
	}

	const query = `
		INSERT INTO core.revision
			(page_id, revision_id, revision_timestamp, content_len, fetched_at, raw_ref)
		VALUES ($1, $2, $3, $4, NOW(), $5::jsonb)
		ON CONFLICT (page_id, revision_id) DO NOTHING
	`

	result, err := s.conn.ExecContext(ctx, query,
		fact.PageID,
		fact.RevisionID,
		fact.RevisionTime,
		fact.ContentLen,
		rawRef,
	)
	if err != nil {
		return false, fmt.Errorf("%w: insert revision %s for page %d: %w",
			ErrFactWriteFailed, fact.RevisionID, fact.PageID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: rows affected: %w", ErrFactWriteFailed, err)
	}

	return affected > 0, nil
}

// RecentWeatherFacts returns the most recently created weather fact rows, up
// to limit. This is the bounded validation window the quality gate evaluates.
func (s *FactStore) RecentWeatherFacts(ctx context.Context, limit int) ([]warehouse.WeatherFact, error) {
	const query = `
		SELECT location_id, observed_at, temperature_celsius, humidity_percent,
		       wind_speed_mps, precipitation_mm, cloud_cover_percent
		FROM core.weather
		ORDER BY created_at DESC
		LIMIT $1
	`

	rows, err := s.conn.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: recent weather facts: %w", ErrFactQueryFailed, err)
	}

	defer func() {
		_ = rows.Close()
	}()

	var facts []warehouse.WeatherFact

	for rows.Next() {
		var fact warehouse.WeatherFact

		if err := rows.Scan(
			&fact.LocationID,
			&fact.ObservedAt,
			&fact.TemperatureC,
			&fact.HumidityPct,
			&fact.WindSpeedMPS,
			&fact.PrecipitationMM,
			&fact.CloudCoverPct,
		); err != nil {
			return nil, fmt.Errorf("%w: scan weather fact: %w", ErrFactQueryFailed, err)
		}

		facts = append(facts, fact)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFactQueryFailed, err)
	}

	return facts, nil
}

// RecentRevisionFacts returns the most recently fetched revision facts joined
// to current dimension rows only, up to limit. Bounded window for the gate.
func (s *FactStore) RecentRevisionFacts(ctx context.Context, limit int) ([]warehouse.RevisionFact, error) {
	const query = `
		SELECT r.page_id, r.revision_id, r.revision_timestamp, r.content_len, r.fetched_at
		FROM core.revision r
		INNER JOIN core.page p ON p.page_id = r.page_id
		WHERE p.is_current
		ORDER BY r.fetched_at DESC
		LIMIT $1
	`

	rows, err := s.conn.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: recent revision facts: %w", ErrFactQueryFailed, err)
	}

	defer func() {
		_ = rows.Close()
	}()

	var facts []warehouse.RevisionFact

	for rows.Next() {
		var fact warehouse.RevisionFact

		if err := rows.Scan(
			&fact.PageID,
			&fact.RevisionID,
			&fact.RevisionTime,
			&fact.ContentLen,
			&fact.FetchedAt,
		); err != nil {
			return nil, fmt.Errorf("%w: scan revision fact: %w", ErrFactQueryFailed, err)
		}

		facts = append(facts, fact)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFactQueryFailed, err)
	}

	return facts, nil
}
