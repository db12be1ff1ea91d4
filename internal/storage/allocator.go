package storage

import (
	"context"
	"sync"
)

// SyntheticIDAllocator hands out synthetic external page ids for seeded pages
// that have not yet been matched against the external API.
//
// Allocation range is strictly negative and monotonically decreasing, which
// keeps synthetic ids disjoint from the API's positive id space and stable
// across pipeline runs: the allocator is seeded from the smallest negative id
// already present in the dimension.
type SyntheticIDAllocator struct {
	mu   sync.Mutex
	next int64
}

// NewSyntheticIDAllocator seeds an allocator from the dimension's current
// minimum synthetic id.
func NewSyntheticIDAllocator(ctx context.Context, dims *DimensionStore) (*SyntheticIDAllocator, error) {
	minID, err := dims.MinSyntheticExternalID(ctx)
	if err != nil {
		return nil, err
	}

	return NewSyntheticIDAllocatorAt(minID), nil
}

// NewSyntheticIDAllocatorAt creates an allocator whose next id is one below
// the given floor. A floor of 0 (no synthetic ids yet) starts allocation at -1.
func NewSyntheticIDAllocatorAt(floor int64) *SyntheticIDAllocator {
	if floor > 0 {
		floor = 0
	}

	return &SyntheticIDAllocator{next: floor - 1}
}

// Next returns the next synthetic id and advances the counter downward.
func (a *SyntheticIDAllocator) Next() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	id := a.next
	a.next--

	return id
}
