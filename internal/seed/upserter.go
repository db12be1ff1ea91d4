package seed

import (
	"context"
	"log/slog"

	"github.com/tidemark-io/tidemark/internal/warehouse"
)

// DimensionWriter is the storage surface the upserter needs. Implemented by
// storage.DimensionStore.
type DimensionWriter interface {
	UpsertLocation(ctx context.Context, loc warehouse.Location) error
	CurrentPageByTitle(ctx context.Context, title, language string) (*warehouse.Page, error)
	CreateCurrentPage(ctx context.Context, page warehouse.Page) (int64, error)
}

// IDAllocator hands out synthetic external IDs for seeded pages. Implemented
// by storage.SyntheticIDAllocator.
type IDAllocator interface {
	Next() int64
}

// Result summarizes one sync pass.
type Result struct {
	Processed int
	Inserted  int
	Failed    int
}

// Upserter reconciles seed entries into the dimension tables.
type Upserter struct {
	dims      DimensionWriter
	allocator IDAllocator
	logger    *slog.Logger
}

// NewUpserter creates an Upserter.
func NewUpserter(dims DimensionWriter, allocator IDAllocator, logger *slog.Logger) *Upserter {
	if logger == nil {
		logger = slog.Default()
	}

	return &Upserter{dims: dims, allocator: allocator, logger: logger}
}

// SyncLocations upserts every seed location on its natural key. A failing
// entry is logged and skipped; the rest of the batch proceeds.
func (u *Upserter) SyncLocations(ctx context.Context, entries []LocationEntry) Result {
	var result Result

	for _, entry := range entries {
		result.Processed++

		loc := warehouse.Location{
			Name:      entry.Name,
			Latitude:  entry.Latitude,
			Longitude: entry.Longitude,
			Country:   entry.Country,
			Region:    entry.Region,
			City:      entry.City,
		}

		if err := u.dims.UpsertLocation(ctx, loc); err != nil {
			result.Failed++
			u.logger.Warn("seed location upsert failed",
				"location", entry.Name,
				"error", err)

			continue
		}

		result.Inserted++
	}

	return result
}

// SyncPages inserts a current dimension row for every seed page that has no
// current row yet for its (title, language). Existing pages are left
// untouched; the seed never supersedes live dimension state.
//
// New rows get a synthetic negative external ID from the allocator.
func (u *Upserter) SyncPages(ctx context.Context, entries []PageEntry) Result {
	var result Result

	for _, entry := range entries {
		result.Processed++

		current, err := u.dims.CurrentPageByTitle(ctx, entry.Title, entry.Language)
		if err != nil {
			result.Failed++
			u.logger.Warn("seed page lookup failed",
				"title", entry.Title,
				"language", entry.Language,
				"error", err)

			continue
		}

		if current != nil {
			continue
		}

		page := warehouse.Page{
			ExternalID: u.allocator.Next(),
			Title:      entry.Title,
			Namespace:  entry.Namespace,
			Language:   entry.Language,
			ValidFrom:  warehouse.Now(),
			IsCurrent:  true,
		}

		surrogateID, err := u.dims.CreateCurrentPage(ctx, page)
		if err != nil {
			result.Failed++
			u.logger.Warn("seed page insert failed",
				"title", entry.Title,
				"language", entry.Language,
				"error", err)

			continue
		}

		result.Inserted++
		u.logger.Info("seeded page",
			"title", entry.Title,
			"language", entry.Language,
			"surrogate_id", surrogateID,
			"external_id", page.ExternalID)
	}

	return result
}
