package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const healthCheckTimeout = 5 * time.Second

var (
	// ErrNoDatabaseConnection is returned when a store is created without a connection.
	ErrNoDatabaseConnection = errors.New("no database connection")

	// ErrConnectionFailed is returned when opening or pinging the database fails.
	ErrConnectionFailed = errors.New("database connection failed")
)

// Connection wraps *sql.DB with pool configuration and health checking.
//
// A single Connection is shared by all stores via dependency injection; the
// caller owns its lifecycle and is responsible for closing it.
type Connection struct {
	db *sql.DB
}

// NewConnection opens a pooled PostgreSQL connection and verifies it with a ping.
func NewConnection(cfg *Config) (*Connection, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	db, err := sql.Open("postgres", cfg.databaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), healthCheckTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	return &Connection{db: db}, nil
}

// WrapDB adapts an existing *sql.DB into a Connection. Used by tests that
// provision their database through testcontainers.
func WrapDB(db *sql.DB) *Connection {
	return &Connection{db: db}
}

// HealthCheck verifies the database connection is healthy and ready to serve
// requests. Returns nil if healthy, error with details otherwise.
func (c *Connection) HealthCheck(ctx context.Context) error {
	if c == nil || c.db == nil {
		return ErrNoDatabaseConnection
	}

	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	if err := c.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	return nil
}

// BeginTx starts a transaction on the underlying pool.
func (c *Connection) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	return c.db.BeginTx(ctx, opts)
}

// ExecContext executes a statement on the underlying pool.
func (c *Connection) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.db.ExecContext(ctx, query, args...)
}

// QueryContext runs a query on the underlying pool.
func (c *Connection) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.db.QueryContext(ctx, query, args...)
}

// QueryRowContext runs a single-row query on the underlying pool.
func (c *Connection) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return c.db.QueryRowContext(ctx, query, args...)
}

// Close closes the underlying connection pool.
func (c *Connection) Close() error {
	if c.db == nil {
		return nil
	}

	return c.db.Close()
}
