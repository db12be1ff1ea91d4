package transform

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/tidemark-io/tidemark/internal/extract"
	"github.com/tidemark-io/tidemark/internal/warehouse"
)

// rawPageTable is the lineage table name carried on revision facts.
const rawPageTable = "encyclopedia_pages"

type (
	// RawPageReader supplies the latest raw snapshot per (title, language).
	// Implemented by storage.RawStore.
	RawPageReader interface {
		LatestPageSnapshots(ctx context.Context) ([]warehouse.RawPageRecord, error)
	}

	// PageDimension is the slowly-changing dimension surface. Implemented by
	// storage.DimensionStore.
	PageDimension interface {
		CurrentPage(ctx context.Context, externalID int64, language string) (*warehouse.Page, error)
		CreateCurrentPage(ctx context.Context, page warehouse.Page) (int64, error)
		SupersedePage(ctx context.Context, oldSurrogateID int64, page warehouse.Page) (int64, error)
	}

	// RevisionWriter appends immutable revision facts. Implemented by
	// storage.FactStore.
	RevisionWriter interface {
		InsertRevision(ctx context.Context, fact warehouse.RevisionFact) (bool, error)
	}
)

// pagePayload is the subset of a raw page snapshot the transform reads.
// Revision stays raw because the API serializes it as either a string or a
// number.
type pagePayload struct {
	PageID    int64             `json:"pageid"`
	Title     string            `json:"title"`
	Revision  json.RawMessage   `json:"revision"`
	Timestamp string            `json:"timestamp"`
	Namespace extract.Namespace `json:"namespace"`
}

// RevisionResult summarizes one revision transform run.
type RevisionResult struct {
	PagesProcessed    int
	PagesFailed       int
	RevisionsInserted int
	TitleChanges      int
}

// RevisionTransformer maintains the page dimension (type-2 versioning) and
// appends revision facts from raw snapshots.
type RevisionTransformer struct {
	raw       RawPageReader
	dims      PageDimension
	revisions RevisionWriter
	logger    *slog.Logger
}

// NewRevisionTransformer creates a RevisionTransformer.
func NewRevisionTransformer(raw RawPageReader, dims PageDimension, revisions RevisionWriter, logger *slog.Logger) *RevisionTransformer {
	if logger == nil {
		logger = slog.Default()
	}

	return &RevisionTransformer{raw: raw, dims: dims, revisions: revisions, logger: logger}
}

// Run processes the latest raw snapshot per (title, language). For each page
// it resolves the current dimension row by (external id, language):
//
//   - no current row: insert a fresh current row
//   - current row, same title: reuse its surrogate id
//   - current row, title changed: close it and insert a new current row with a
//     new surrogate id, preserving the external id
//
// then appends the revision fact keyed (surrogate id, revision id). Duplicate
// revision keys are ignored, so re-runs are safe. Failures are isolated per
// page.
func (t *RevisionTransformer) Run(ctx context.Context) (RevisionResult, error) {
	records, err := t.raw.LatestPageSnapshots(ctx)
	if err != nil {
		return RevisionResult{}, err
	}

	var result RevisionResult

	for _, rec := range records {
		if err := t.processSnapshot(ctx, rec, &result); err != nil {
			result.PagesFailed++
			t.logger.Error("page snapshot failed",
				"title", rec.Title,
				"language", rec.Language,
				"error", err)

			continue
		}

		result.PagesProcessed++
	}

	t.logger.Info("revision transform complete",
		"pages_processed", result.PagesProcessed,
		"pages_failed", result.PagesFailed,
		"revisions_inserted", result.RevisionsInserted,
		"title_changes", result.TitleChanges)

	return result, nil
}

func (t *RevisionTransformer) processSnapshot(ctx context.Context, rec warehouse.RawPageRecord, result *RevisionResult) error {
	fields := extractPageFields(rec, t.logger)

	surrogateID, err := t.resolveDimensionRow(ctx, rec, fields, result)
	if err != nil {
		return err
	}

	inserted, err := t.revisions.InsertRevision(ctx, warehouse.RevisionFact{
		PageID:       surrogateID,
		RevisionID:   fields.revisionID,
		RevisionTime: fields.revisionTime,
		ContentLen:   rec.ContentSize,
		FetchedAt:    warehouse.Now(),
		RawRef: warehouse.RawRef{
			RawTable: rawPageTable,
			RawID:    rec.ID,
		},
	})
	if err != nil {
		return err
	}

	if inserted {
		result.RevisionsInserted++
	}

	return nil
}

// resolveDimensionRow applies the versioning state machine and returns the
// surrogate id the revision fact should reference.
func (t *RevisionTransformer) resolveDimensionRow(ctx context.Context, rec warehouse.RawPageRecord, fields pageFields, result *RevisionResult) (int64, error) {
	current, err := t.dims.CurrentPage(ctx, fields.externalID, rec.Language)
	if err != nil {
		return 0, err
	}

	next := warehouse.Page{
		ExternalID: fields.externalID,
		Title:      fields.title,
		Namespace:  fields.namespace,
		Language:   rec.Language,
		ValidFrom:  warehouse.Now(),
		IsCurrent:  true,
	}

	switch {
	case current == nil:
		return t.dims.CreateCurrentPage(ctx, next)

	case current.Title == fields.title:
		return current.SurrogateID, nil

	default:
		t.logger.Info("title change detected",
			"external_id", fields.externalID,
			"language", rec.Language,
			"old_title", current.Title,
			"new_title", fields.title)

		result.TitleChanges++

		return t.dims.SupersedePage(ctx, current.SurrogateID, next)
	}
}

// pageFields is the normalized metadata for one snapshot, after payload
// extraction with fallback to the raw row's stored columns.
type pageFields struct {
	externalID   int64
	title        string
	namespace    int
	revisionID   string
	revisionTime time.Time
}

func extractPageFields(rec warehouse.RawPageRecord, logger *slog.Logger) pageFields {
	var payload pagePayload
	if len(rec.Payload) > 0 {
		if err := json.Unmarshal(rec.Payload, &payload); err != nil {
			logger.Warn("page payload undecodable, using raw metadata",
				"title", rec.Title,
				"raw_id", rec.ID,
				"error", err)

			payload = pagePayload{}
		}
	}

	fields := pageFields{
		externalID: payload.PageID,
		title:      payload.Title,
		namespace:  payload.Namespace.ID,
		revisionID: revisionString(payload.Revision),
	}

	if fields.externalID == 0 {
		fields.externalID = rec.PageID
	}

	if fields.title == "" {
		fields.title = rec.Title
	}

	if fields.revisionID == "" {
		fields.revisionID = rec.RevisionID
	}

	fields.revisionTime = parseRevisionTime(payload.Timestamp, rec.RevisionTime)

	return fields
}

// revisionString normalizes a revision identifier that may arrive as a JSON
// string or number.
func revisionString(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ""
	}

	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil {
		return s
	}

	return string(trimmed)
}

// parseRevisionTime parses the payload timestamp, falling back to the raw
// row's stored timestamp, then to now.
func parseRevisionTime(raw string, fallback time.Time) time.Time {
	if raw != "" {
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			return ts.UTC()
		}
	}

	if !fallback.IsZero() {
		return fallback.UTC()
	}

	return warehouse.Now()
}
