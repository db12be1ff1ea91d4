package extract

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
)

// BackoffConfig controls exponential backoff behaviour for one client.
type BackoffConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// httpConfig bundles the HTTP client and resilience settings.
type httpConfig struct {
	client  *http.Client
	backoff BackoffConfig
}

var (
	errCircuitOpen  = errors.New("circuit breaker open")
	errNoHTTPClient = errors.New("http client not configured")
)

// doRequestWithResilience executes an HTTP request with bounded retries,
// exponential backoff, and a circuit breaker. 429 and 5xx responses and
// transport errors are retried; other non-2xx statuses fail immediately.
func doRequestWithResilience(
	ctx context.Context,
	cfg httpConfig,
	cb *gobreaker.CircuitBreaker,
	buildRequest func() (*http.Request, error),
) (*http.Response, error) {
	if cfg.client == nil {
		return nil, errNoHTTPClient
	}

	var attempt int

	for {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		req, err := buildRequest()
		if err != nil {
			return nil, err
		}

		req = req.WithContext(ctx)

		result, err := cb.Execute(func() (interface{}, error) {
			resp, execErr := cfg.client.Do(req)
			if execErr != nil {
				return nil, fmt.Errorf("%w: %w", ErrRequestFailed, execErr)
			}

			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				_ = resp.Body.Close()

				return nil, fmt.Errorf("%w: status %d", ErrRequestFailed, resp.StatusCode)
			}

			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				_ = resp.Body.Close()

				// Client errors are not retried; surface them through the
				// breaker without counting toward retry attempts.
				return nil, &terminalStatusError{status: resp.StatusCode}
			}

			return resp, nil
		})

		if err == nil {
			resp, ok := result.(*http.Response)
			if !ok {
				return nil, fmt.Errorf("%w: unexpected result type", ErrRequestFailed)
			}

			return resp, nil
		}

		var terminal *terminalStatusError
		if errors.As(err, &terminal) {
			return nil, fmt.Errorf("%w: status %d", ErrRequestFailed, terminal.status)
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %w", errCircuitOpen, err)
		}

		if attempt >= cfg.backoff.MaxRetries {
			return nil, err
		}

		delay := cfg.backoff.InitialInterval * time.Duration(math.Pow(2, float64(attempt)))
		if cfg.backoff.MaxInterval > 0 && delay > cfg.backoff.MaxInterval {
			delay = cfg.backoff.MaxInterval
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()

			return nil, ctx.Err()
		case <-timer.C:
		}

		attempt++
	}
}

// terminalStatusError marks a non-retriable HTTP status (4xx other than 429).
type terminalStatusError struct {
	status int
}

func (e *terminalStatusError) Error() string {
	return fmt.Sprintf("terminal status %d", e.status)
}
