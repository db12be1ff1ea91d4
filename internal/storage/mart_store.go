package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lib/pq"
)

// Refresh methods reported by RefreshView.
const (
	// RefreshConcurrent means the view was refreshed CONCURRENTLY, allowing
	// readers to continue during the refresh.
	RefreshConcurrent = "concurrently"

	// RefreshBlocking means the view lacked a unique index and was refreshed
	// with a blocking REFRESH MATERIALIZED VIEW.
	RefreshBlocking = "blocking"
)

// Sentinel errors for mart operations.
var (
	// ErrViewRefreshFailed is returned when a materialized view refresh fails.
	ErrViewRefreshFailed = errors.New("materialized view refresh failed")

	// ErrUnknownView is returned for view names outside the mart schema's
	// catalog. Refresh statements interpolate identifiers, so only names read
	// back from pg_matviews are accepted.
	ErrUnknownView = errors.New("unknown materialized view")
)

// MartStore triggers materialized view refreshes in the mart schema.
// The core never alters mart.* definitions, it only refreshes them.
type MartStore struct {
	conn   *Connection
	logger *slog.Logger
}

// NewMartStore creates a mart store over the given connection.
func NewMartStore(conn *Connection, logger *slog.Logger) (*MartStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &MartStore{conn: conn, logger: logger}, nil
}

// ListMaterializedViews returns the qualified names of all materialized views
// in the mart schema, discovered from the catalog rather than configured.
func (s *MartStore) ListMaterializedViews(ctx context.Context) ([]string, error) {
	const query = `
		SELECT schemaname, matviewname
		FROM pg_matviews
		WHERE schemaname = 'mart'
		ORDER BY matviewname
	`

	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: list views: %w", ErrViewRefreshFailed, err)
	}

	defer func() {
		_ = rows.Close()
	}()

	var views []string

	for rows.Next() {
		var schema, name string

		if err := rows.Scan(&schema, &name); err != nil {
			return nil, fmt.Errorf("%w: scan view name: %w", ErrViewRefreshFailed, err)
		}

		views = append(views, schema+"."+name)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrViewRefreshFailed, err)
	}

	return views, nil
}

// RefreshView refreshes one materialized view, choosing the method at runtime:
// CONCURRENTLY when the view carries a unique index (readers keep reading),
// plain blocking refresh otherwise. Returns the method used.
func (s *MartStore) RefreshView(ctx context.Context, qualifiedName string) (string, error) {
	schema, name, err := splitViewName(qualifiedName)
	if err != nil {
		return "", err
	}

	known, err := s.ListMaterializedViews(ctx)
	if err != nil {
		return "", err
	}

	if !containsView(known, qualifiedName) {
		return "", fmt.Errorf("%w: %s", ErrUnknownView, qualifiedName)
	}

	hasUniqueIndex, err := s.hasUniqueIndex(ctx, schema, name)
	if err != nil {
		return "", err
	}

	method := RefreshBlocking

	stmt := fmt.Sprintf("REFRESH MATERIALIZED VIEW %s.%s",
		pq.QuoteIdentifier(schema), pq.QuoteIdentifier(name))

	if hasUniqueIndex {
		method = RefreshConcurrent
		stmt = fmt.Sprintf("REFRESH MATERIALIZED VIEW CONCURRENTLY %s.%s",
			pq.QuoteIdentifier(schema), pq.QuoteIdentifier(name))
	} else {
		s.logger.Warn("no unique index on materialized view, using blocking refresh",
			slog.String("view", qualifiedName))
	}

	start := time.Now()

	if _, err := s.conn.ExecContext(ctx, stmt); err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrViewRefreshFailed, qualifiedName, err)
	}

	s.logger.Info("materialized view refreshed",
		slog.String("view", qualifiedName),
		slog.String("method", method),
		slog.Duration("duration", time.Since(start)),
	)

	return method, nil
}

// hasUniqueIndex probes pg_indexes for a unique index on the view, which is
// the precondition for REFRESH ... CONCURRENTLY.
func (s *MartStore) hasUniqueIndex(ctx context.Context, schema, name string) (bool, error) {
	const query = `
		SELECT EXISTS (
			SELECT 1 FROM pg_indexes
			WHERE schemaname = $1
			  AND tablename  = $2
			  AND indexdef LIKE 'CREATE UNIQUE INDEX%'
		)
	`

	var exists bool

	if err := s.conn.QueryRowContext(ctx, query, schema, name).Scan(&exists); err != nil {
		return false, fmt.Errorf("%w: probe unique index on %s.%s: %w", ErrViewRefreshFailed, schema, name, err)
	}

	return exists, nil
}

func splitViewName(qualifiedName string) (schema, name string, err error) {
	parts := strings.SplitN(qualifiedName, ".", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("%w: %q is not schema-qualified", ErrUnknownView, qualifiedName)
	}

	return parts[0], parts[1], nil
}

func containsView(views []string, want string) bool {
	for _, v := range views {
		if v == want {
			return true
		}
	}

	return false
}
