// Package flat implements a brute-force linear-scan index with the same
// search contract as the HNSW graph. It is the degraded fallback the engine
// switches to when a snapshot cannot be restored: exact but O(n) per query.
package flat

import (
	"context"
	"sort"
	"sync"

	"github.com/sanonone/patterndb/pkg/core/types"
	"github.com/sanonone/patterndb/pkg/core/vmath"
)

// Entry is one salvaged or directly added vector.
type Entry struct {
	ID       uint64
	Vector   []float64
	Metadata []byte
}

// Index is a flat list of entries scanned in full on every query.
type Index struct {
	mu      sync.RWMutex
	metric  vmath.Metric
	distFn  vmath.Func
	dims    int
	entries []Entry
	nextID  uint64
}

// New creates an empty flat index.
func New(metric vmath.Metric, dims int) (*Index, error) {
	distFn, err := vmath.ForMetric(metric)
	if err != nil {
		return nil, err
	}
	return &Index{
		metric: metric,
		distFn: distFn,
		dims:   dims,
	}, nil
}

// Add appends an entry, keeping the next auto-assigned ID ahead of it.
func (f *Index) Add(e Entry) error {
	if err := vmath.Validate(f.metric, e.Vector, f.dims); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, e)
	if e.ID >= f.nextID {
		f.nextID = e.ID + 1
	}
	return nil
}

// Insert adds a vector under a fresh monotonic ID and returns it.
func (f *Index) Insert(vector []float64, metadata []byte) (uint64, error) {
	if err := vmath.Validate(f.metric, vector, f.dims); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	f.entries = append(f.entries, Entry{ID: id, Vector: vector, Metadata: metadata})
	return id, nil
}

// Count returns the number of entries.
func (f *Index) Count() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return uint64(len(f.entries))
}

// Search scans every entry and returns the k nearest, ordered by ascending
// distance with ties broken by ascending ID. The context is checked
// periodically so a slow scan can be cancelled.
func (f *Index) Search(ctx context.Context, query []float64, k int) ([]types.SearchResult, error) {
	if err := vmath.Validate(f.metric, query, f.dims); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	results := make([]types.SearchResult, 0, len(f.entries))
	for i := range f.entries {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		e := &f.entries[i]
		d, err := f.distFn(query, e.Vector)
		if err != nil {
			continue
		}
		results = append(results, types.SearchResult{ID: e.ID, Distance: d, Metadata: e.Metadata})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Distance != results[j].Distance {
			return results[i].Distance < results[j].Distance
		}
		return results[i].ID < results[j].ID
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}
