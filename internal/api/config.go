// Package api provides the operational HTTP surface of the Tidemark service:
// health, readiness, Prometheus metrics, and the latest run summary.
package api

import (
	"errors"
	"fmt"
	"time"

	"github.com/tidemark-io/tidemark/internal/config"
)

const (
	defaultPort    = 8080
	maxPort        = 65535
	defaultHost    = "0.0.0.0"
	defaultTimeout = 30 * time.Second
)

var (
	// ErrInvalidPort indicates the port number is outside valid range (1-65535).
	ErrInvalidPort = errors.New("invalid port")

	// ErrEmptyHost indicates the server host address is empty.
	ErrEmptyHost = errors.New("host cannot be empty")

	// ErrInvalidTimeout indicates a zero or negative timeout.
	ErrInvalidTimeout = errors.New("timeouts must be positive")
)

// ServerConfig holds HTTP server configuration. Pure configuration only - no
// runtime dependencies.
type ServerConfig struct {
	Port            int
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// LoadServerConfig loads server configuration from environment variables with
// sensible defaults.
func LoadServerConfig() *ServerConfig {
	return &ServerConfig{
		Port:            config.GetEnvInt("TIDEMARK_SERVER_PORT", defaultPort),
		Host:            config.GetEnvStr("TIDEMARK_SERVER_HOST", defaultHost),
		ReadTimeout:     config.GetEnvDuration("TIDEMARK_SERVER_READ_TIMEOUT", defaultTimeout),
		WriteTimeout:    config.GetEnvDuration("TIDEMARK_SERVER_WRITE_TIMEOUT", defaultTimeout),
		ShutdownTimeout: config.GetEnvDuration("TIDEMARK_SERVER_SHUTDOWN_TIMEOUT", defaultTimeout),
	}
}

// Validate checks the configuration for invalid values.
func (c *ServerConfig) Validate() error {
	if c.Port < 1 || c.Port > maxPort {
		return fmt.Errorf("%w: %d", ErrInvalidPort, c.Port)
	}

	if c.Host == "" {
		return ErrEmptyHost
	}

	if c.ReadTimeout <= 0 || c.WriteTimeout <= 0 || c.ShutdownTimeout <= 0 {
		return ErrInvalidTimeout
	}

	return nil
}

// Address returns the host:port address the server binds to.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
