package transform

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidemark-io/tidemark/internal/warehouse"
)

type fakeRawPageReader struct {
	records []warehouse.RawPageRecord
	err     error
}

func (f *fakeRawPageReader) LatestPageSnapshots(_ context.Context) ([]warehouse.RawPageRecord, error) {
	return f.records, f.err
}

// fakePageDimension keeps full version history in memory, mirroring the
// store's close-and-insert contract.
type fakePageDimension struct {
	rows    []warehouse.Page
	nextID  int64
	failFor map[int64]error
}

func newFakePageDimension() *fakePageDimension {
	return &fakePageDimension{failFor: map[int64]error{}}
}

func (f *fakePageDimension) CurrentPage(_ context.Context, externalID int64, language string) (*warehouse.Page, error) {
	if err := f.failFor[externalID]; err != nil {
		return nil, err
	}

	for i := range f.rows {
		row := f.rows[i]
		if row.ExternalID == externalID && row.Language == language && row.IsCurrent {
			return &row, nil
		}
	}

	return nil, nil
}

func (f *fakePageDimension) CreateCurrentPage(_ context.Context, page warehouse.Page) (int64, error) {
	f.nextID++
	page.SurrogateID = f.nextID
	f.rows = append(f.rows, page)

	return f.nextID, nil
}

func (f *fakePageDimension) SupersedePage(_ context.Context, oldSurrogateID int64, page warehouse.Page) (int64, error) {
	for i := range f.rows {
		if f.rows[i].SurrogateID == oldSurrogateID {
			now := warehouse.Now()
			f.rows[i].IsCurrent = false
			f.rows[i].ValidTo = &now
		}
	}

	return f.CreateCurrentPage(context.Background(), page)
}

type fakeRevisionWriter struct {
	facts map[string]warehouse.RevisionFact
	err   error
}

func newFakeRevisionWriter() *fakeRevisionWriter {
	return &fakeRevisionWriter{facts: map[string]warehouse.RevisionFact{}}
}

func (f *fakeRevisionWriter) InsertRevision(_ context.Context, fact warehouse.RevisionFact) (bool, error) {
	if f.err != nil {
		return false, f.err
	}

	key := fmt.Sprintf("%d/%s", fact.PageID, fact.RevisionID)
	if _, exists := f.facts[key]; exists {
		return false, nil
	}

	f.facts[key] = fact

	return true, nil
}

func rawPage(id, pageID int64, title, revision string) warehouse.RawPageRecord {
	payload := fmt.Sprintf(`{
		"pageid": %d,
		"title": %q,
		"revision": %q,
		"timestamp": "2026-08-28T16:04:31Z",
		"namespace": {"id": 0}
	}`, pageID, title, revision)

	return warehouse.RawPageRecord{
		ID:          id,
		PageID:      pageID,
		Title:       title,
		RevisionID:  revision,
		ContentSize: 2048,
		Language:    "en",
		Payload:     []byte(payload),
		Source:      warehouse.SourceRevisionAPI,
	}
}

func TestRevisionTransformerNewPage(t *testing.T) {
	raw := &fakeRawPageReader{records: []warehouse.RawPageRecord{
		rawPage(1, 24437894, "Boston", "1001"),
	}}
	dims := newFakePageDimension()
	revisions := newFakeRevisionWriter()

	transformer := NewRevisionTransformer(raw, dims, revisions, nil)

	result, err := transformer.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.PagesProcessed)
	assert.Equal(t, 1, result.RevisionsInserted)
	assert.Equal(t, 0, result.TitleChanges)

	require.Len(t, dims.rows, 1)
	row := dims.rows[0]
	assert.Equal(t, int64(24437894), row.ExternalID)
	assert.Equal(t, "Boston", row.Title)
	assert.True(t, row.IsCurrent)
	assert.Nil(t, row.ValidTo)

	fact, ok := revisions.facts["1/1001"]
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 8, 28, 16, 4, 31, 0, time.UTC), fact.RevisionTime)
	assert.Equal(t, int64(2048), fact.ContentLen)
	assert.Equal(t, warehouse.RawRef{RawTable: "encyclopedia_pages", RawID: 1}, fact.RawRef)
}

func TestRevisionTransformerUnchangedTitleReusesSurrogate(t *testing.T) {
	raw := &fakeRawPageReader{records: []warehouse.RawPageRecord{
		rawPage(1, 24437894, "Boston", "1001"),
	}}
	dims := newFakePageDimension()
	revisions := newFakeRevisionWriter()

	transformer := NewRevisionTransformer(raw, dims, revisions, nil)

	_, err := transformer.Run(context.Background())
	require.NoError(t, err)

	// Second run with a new revision of the same title.
	raw.records = []warehouse.RawPageRecord{rawPage(2, 24437894, "Boston", "1002")}

	result, err := transformer.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.RevisionsInserted)
	require.Len(t, dims.rows, 1, "unchanged title must not create a new version row")
	assert.Contains(t, revisions.facts, "1/1001")
	assert.Contains(t, revisions.facts, "1/1002")
}

func TestRevisionTransformerTitleChangeVersionsDimension(t *testing.T) {
	fake := clockwork.NewFakeClockAt(time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC))
	warehouse.SetClock(fake)
	defer warehouse.SetClock(nil)

	raw := &fakeRawPageReader{records: []warehouse.RawPageRecord{
		rawPage(1, 24437894, "Boston", "1001"),
	}}
	dims := newFakePageDimension()
	revisions := newFakeRevisionWriter()

	transformer := NewRevisionTransformer(raw, dims, revisions, nil)

	_, err := transformer.Run(context.Background())
	require.NoError(t, err)

	fake.Advance(24 * time.Hour)

	raw.records = []warehouse.RawPageRecord{rawPage(2, 24437894, "Boston, Massachusetts", "1002")}

	result, err := transformer.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.TitleChanges)

	// Exactly two version rows: one closed, one current, sharing the
	// external id.
	require.Len(t, dims.rows, 2)

	closed, current := dims.rows[0], dims.rows[1]
	assert.Equal(t, "Boston", closed.Title)
	assert.False(t, closed.IsCurrent)
	require.NotNil(t, closed.ValidTo)
	assert.Equal(t, time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC), *closed.ValidTo)

	assert.Equal(t, "Boston, Massachusetts", current.Title)
	assert.True(t, current.IsCurrent)
	assert.Nil(t, current.ValidTo)
	assert.Equal(t, closed.ExternalID, current.ExternalID)
	assert.NotEqual(t, closed.SurrogateID, current.SurrogateID)

	// The new fact references the new surrogate.
	assert.Contains(t, revisions.facts, "2/1002")
}

func TestRevisionTransformerDuplicateRevisionIgnored(t *testing.T) {
	raw := &fakeRawPageReader{records: []warehouse.RawPageRecord{
		rawPage(1, 24437894, "Boston", "1001"),
	}}
	dims := newFakePageDimension()
	revisions := newFakeRevisionWriter()

	transformer := NewRevisionTransformer(raw, dims, revisions, nil)

	first, err := transformer.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, first.RevisionsInserted)

	second, err := transformer.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, second.RevisionsInserted, "re-run with same revision inserts nothing")
	assert.Equal(t, 1, second.PagesProcessed)
	assert.Len(t, revisions.facts, 1)
}

func TestRevisionTransformerFallsBackToRawMetadata(t *testing.T) {
	rec := warehouse.RawPageRecord{
		ID:           3,
		PageID:       555,
		Title:        "Fallback Town",
		RevisionID:   "9001",
		RevisionTime: time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC),
		ContentSize:  128,
		Language:     "en",
		Payload:      []byte(`{"extract": "payload without the usual keys"}`),
	}

	raw := &fakeRawPageReader{records: []warehouse.RawPageRecord{rec}}
	dims := newFakePageDimension()
	revisions := newFakeRevisionWriter()

	transformer := NewRevisionTransformer(raw, dims, revisions, nil)

	result, err := transformer.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.PagesProcessed)

	require.Len(t, dims.rows, 1)
	assert.Equal(t, int64(555), dims.rows[0].ExternalID)
	assert.Equal(t, "Fallback Town", dims.rows[0].Title)

	fact, ok := revisions.facts["1/9001"]
	require.True(t, ok)
	assert.Equal(t, rec.RevisionTime, fact.RevisionTime)
}

func TestRevisionTransformerNumericRevision(t *testing.T) {
	rec := rawPage(1, 777, "Numeric", "ignored")
	rec.Payload = []byte(`{"pageid": 777, "title": "Numeric", "revision": 1304212345, "timestamp": "2026-08-28T16:04:31Z", "namespace": 0}`)

	raw := &fakeRawPageReader{records: []warehouse.RawPageRecord{rec}}
	dims := newFakePageDimension()
	revisions := newFakeRevisionWriter()

	transformer := NewRevisionTransformer(raw, dims, revisions, nil)

	_, err := transformer.Run(context.Background())
	require.NoError(t, err)
	assert.Contains(t, revisions.facts, "1/1304212345")
}

func TestRevisionTransformerIsolatesPageFailures(t *testing.T) {
	raw := &fakeRawPageReader{records: []warehouse.RawPageRecord{
		rawPage(1, 100, "Alpha", "1"),
		rawPage(2, 200, "Beta", "2"),
	}}
	dims := newFakePageDimension()
	dims.failFor[100] = errors.New("lock timeout")
	revisions := newFakeRevisionWriter()

	transformer := NewRevisionTransformer(raw, dims, revisions, nil)

	result, err := transformer.Run(context.Background())
	require.NoError(t, err, "one failed page must not fail the run")

	assert.Equal(t, 1, result.PagesFailed)
	assert.Equal(t, 1, result.PagesProcessed)
	assert.Contains(t, revisions.facts, "1/2")
}
