package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sanonone/patterndb/pkg/core/hnsw"
	"github.com/sanonone/patterndb/pkg/core/types"
	"github.com/sanonone/patterndb/pkg/metrics"
)

// Insert queues a vector for the writer and waits for the result. Three ways
// it can refuse: ErrBackpressure when the queue is full (the write was never
// admitted), ErrBusy when ctx expires while waiting (the write was admitted
// and will still be applied), ErrClosed after Close.
func (e *Engine) Insert(ctx context.Context, vector []float64, metadata []byte) (uint64, error) {
	req := &writeRequest{
		vector:   vector,
		metadata: metadata,
		done:     make(chan writeResult, 1),
	}

	select {
	case <-e.closed:
		return 0, ErrClosed
	default:
	}

	select {
	case e.writeCh <- req:
	case <-e.closed:
		return 0, ErrClosed
	default:
		metrics.InsertsTotal.WithLabelValues("backpressure").Inc()
		return 0, ErrBackpressure
	}

	select {
	case res := <-req.done:
		return res.id, res.err
	case <-ctx.Done():
		metrics.InsertsTotal.WithLabelValues("busy").Inc()
		return 0, fmt.Errorf("%w: %v", ErrBusy, ctx.Err())
	case <-e.writerDone:
		// The writer drained and exited; our result may have landed just
		// before it did.
		select {
		case res := <-req.done:
			return res.id, res.err
		default:
			return 0, ErrClosed
		}
	}
}

// InsertBatch inserts each object independently and reports a per-item
// outcome. A failed item never aborts the rest of the batch, and items are
// applied in slice order.
func (e *Engine) InsertBatch(ctx context.Context, objects []types.BatchObject) []types.BatchResult {
	results := make([]types.BatchResult, len(objects))
	for i, obj := range objects {
		id, err := e.Insert(ctx, obj.Vector, obj.Metadata)
		results[i] = types.BatchResult{ID: id, Err: err}
	}
	return results
}

// Search returns the k nearest neighbors of query, ordered by ascending
// distance. ef widens the candidate beam; 0 uses the configured EfSearch. In
// degraded mode the query is answered by the exact linear scan and ef is
// ignored.
func (e *Engine) Search(ctx context.Context, query []float64, k int, ef int) ([]types.SearchResult, error) {
	select {
	case <-e.closed:
		return nil, ErrClosed
	default:
	}

	start := time.Now()
	var results []types.SearchResult
	var err error
	if e.degraded {
		results, err = e.fallback.Search(ctx, query, k)
	} else {
		results, err = e.idx.Search(ctx, query, k, ef)
	}

	switch {
	case err == nil:
		metrics.SearchDuration.Observe(time.Since(start).Seconds())
		metrics.SearchesTotal.WithLabelValues("ok").Inc()
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		metrics.SearchesTotal.WithLabelValues("cancelled").Inc()
	default:
		metrics.SearchesTotal.WithLabelValues("error").Inc()
	}
	return results, err
}

// Stats is the engine-level health summary.
type Stats struct {
	hnsw.Stats
	// Degraded is true while queries are served by the linear-scan fallback.
	Degraded bool `json:"degraded"`
	// PendingWrites is the current writer-queue depth.
	PendingWrites int `json:"pending_writes"`
}

// Stats returns a point-in-time summary for monitoring.
func (e *Engine) Stats() Stats {
	s := Stats{PendingWrites: len(e.writeCh)}
	if e.degraded {
		s.Degraded = true
		s.Count = e.fallback.Count()
		s.EntrypointLayer = -1
		return s
	}
	s.Stats = e.idx.Stats()
	return s
}

// Count returns the number of live vectors.
func (e *Engine) Count() uint64 {
	return e.count()
}

// Degraded reports whether the engine is serving from the fallback scan.
func (e *Engine) Degraded() bool {
	return e.degraded
}
