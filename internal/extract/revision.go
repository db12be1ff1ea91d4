package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/tidemark-io/tidemark/internal/warehouse"
)

// RevisionClient fetches page summaries and content sizes from the
// content-revision API.
//
// Every request carries an identifying User-Agent; the API rejects anonymous
// clients.
type RevisionClient struct {
	baseURL   string
	userAgent string
	cfg       httpConfig
	circuit   *gobreaker.CircuitBreaker
}

// PageFetchResult bundles both calls' outcome for one page: the typed summary,
// the verbatim summary body for raw landing, and the content byte size.
type PageFetchResult struct {
	Summary     PageSummary
	RawBody     []byte
	ContentSize int64
}

// NewRevisionClient creates a content-revision API client with a circuit
// breaker and retry backoff.
func NewRevisionClient(baseURL, userAgent string, client *http.Client, backoff BackoffConfig) *RevisionClient {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "revision",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
	})

	return &RevisionClient{
		baseURL:   baseURL,
		userAgent: userAgent,
		cfg:       httpConfig{client: client, backoff: backoff},
		circuit:   cb,
	}
}

// Fetch performs the two API calls for one page: the summary endpoint for
// metadata and the content endpoint, which is only measured for byte length.
func (c *RevisionClient) Fetch(ctx context.Context, page warehouse.Page) (PageFetchResult, error) {
	title := strings.ReplaceAll(page.Title, " ", "_")

	summaryBody, err := c.get(ctx, c.baseURL+"/page/summary/"+url.PathEscape(title))
	if err != nil {
		return PageFetchResult{}, fmt.Errorf("fetch summary for %q: %w", page.Title, err)
	}

	var summary PageSummary
	if err := json.Unmarshal(summaryBody, &summary); err != nil {
		return PageFetchResult{}, fmt.Errorf("%w: decode summary for %q: %w", ErrMalformedResponse, page.Title, err)
	}

	contentBody, err := c.get(ctx, c.baseURL+"/page/html/"+url.PathEscape(title))
	if err != nil {
		return PageFetchResult{}, fmt.Errorf("fetch content for %q: %w", page.Title, err)
	}

	return PageFetchResult{
		Summary:     summary,
		RawBody:     summaryBody,
		ContentSize: int64(len(contentBody)),
	}, nil
}

// get performs one resilient GET and returns the full body.
func (c *RevisionClient) get(ctx context.Context, rawURL string) ([]byte, error) {
	buildRequest := func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, err
		}

		req.Header.Set("User-Agent", c.userAgent)

		return req, nil
	}

	resp, err := doRequestWithResilience(ctx, c.cfg, c.circuit, buildRequest)
	if err != nil {
		return nil, err
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", ErrRequestFailed, err)
	}

	return body, nil
}
