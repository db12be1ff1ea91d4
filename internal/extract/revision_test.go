package extract

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidemark-io/tidemark/internal/warehouse"
)

const sampleSummaryBody = `{
	"pageid": 24437894,
	"title": "Boston",
	"revision": "1304212345",
	"timestamp": "2026-08-28T16:04:31Z",
	"namespace": {"id": 0}
}`

const samplePageContent = `<html><body><p>Boston is the capital of Massachusetts.</p></body></html>`

func testPage() warehouse.Page {
	return warehouse.Page{
		SurrogateID: 7,
		ExternalID:  24437894,
		Title:       "Boston",
		Language:    "en",
		IsCurrent:   true,
	}
}

func TestRevisionClientFetch(t *testing.T) {
	var summaryAgent, contentAgent string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/page/summary/Boston":
			summaryAgent = r.Header.Get("User-Agent")
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(sampleSummaryBody))
		case "/page/html/Boston":
			contentAgent = r.Header.Get("User-Agent")
			_, _ = w.Write([]byte(samplePageContent))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := NewRevisionClient(server.URL, "tidemark/1.0 (ops@tidemark.io)", server.Client(), testBackoff())

	result, err := client.Fetch(context.Background(), testPage())
	require.NoError(t, err)

	assert.Equal(t, int64(24437894), result.Summary.PageID)
	assert.Equal(t, "Boston", result.Summary.Title)
	assert.Equal(t, "1304212345", result.Summary.Revision)
	assert.Equal(t, 0, result.Summary.Namespace.ID)
	assert.Equal(t, int64(len(samplePageContent)), result.ContentSize)
	assert.JSONEq(t, sampleSummaryBody, string(result.RawBody))

	// Both endpoints must see the identifying header.
	assert.Equal(t, "tidemark/1.0 (ops@tidemark.io)", summaryAgent)
	assert.Equal(t, "tidemark/1.0 (ops@tidemark.io)", contentAgent)
}

func TestRevisionClientFetchUnderscoresTitle(t *testing.T) {
	var gotPaths []string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPaths = append(gotPaths, r.URL.Path)
		if r.URL.Path == "/page/summary/New_York_City" {
			_, _ = w.Write([]byte(sampleSummaryBody))

			return
		}

		_, _ = w.Write([]byte(samplePageContent))
	}))
	defer server.Close()

	client := NewRevisionClient(server.URL, "tidemark/1.0", server.Client(), testBackoff())

	page := testPage()
	page.Title = "New York City"

	_, err := client.Fetch(context.Background(), page)
	require.NoError(t, err)
	require.Len(t, gotPaths, 2)
	assert.Equal(t, "/page/summary/New_York_City", gotPaths[0])
	assert.Equal(t, "/page/html/New_York_City", gotPaths[1])
}

func TestRevisionClientFetchSummaryNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := NewRevisionClient(server.URL, "tidemark/1.0", server.Client(), testBackoff())

	_, err := client.Fetch(context.Background(), testPage())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRequestFailed)
}

func TestRevisionClientFetchMalformedSummary(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<!doctype html>"))
	}))
	defer server.Close()

	client := NewRevisionClient(server.URL, "tidemark/1.0", server.Client(), testBackoff())

	_, err := client.Fetch(context.Background(), testPage())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestNamespaceUnmarshalBareInteger(t *testing.T) {
	var summary PageSummary

	body := `{"pageid": 1, "title": "T", "revision": "2", "timestamp": "2026-01-01T00:00:00Z", "namespace": 4}`
	require.NoError(t, json.Unmarshal([]byte(body), &summary))
	assert.Equal(t, 4, summary.Namespace.ID)
}
