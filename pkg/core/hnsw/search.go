package hnsw

import (
	"context"
	"fmt"
	"math"

	"github.com/sanonone/patterndb/pkg/core/types"
	"github.com/sanonone/patterndb/pkg/core/vmath"
)

// noCancel is used by the insert path, which is not cancellable mid-flight.
var noCancel = context.Background()

// cancelCheckInterval bounds how many beam expansions may happen between two
// cancellation checks.
const cancelCheckInterval = 64

// Search returns the k nearest live nodes to the query vector, ordered by
// ascending distance (ties by ascending node ID). ef overrides the
// candidate-list size; pass 0 to use the index default. An empty index
// yields an empty result, not an error.
//
// Cancellation is cooperative: ctx is checked between layer descents and
// periodically inside the layer-0 beam, and the context error is returned
// promptly.
func (h *Index) Search(ctx context.Context, query []float64, k int, ef int) ([]types.SearchResult, error) {
	if err := vmath.Validate(h.params.Metric, query, h.params.Dimensions); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.maxLevel < 0 {
		return nil, nil
	}

	if ef <= 0 {
		ef = h.params.EfSearch
	}
	if ef < k {
		ef = k
	}

	// Greedy descent from the entry point's layer down to layer 1.
	ep := h.entrypointID
	for l := h.maxLevel; l > 0; l-- {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		nearest, err := h.searchLayerLocked(ctx, query, ep, 1, l, 1)
		if err != nil {
			return nil, err
		}
		if len(nearest) > 0 {
			ep = nearest[0].ID
		}
	}

	// Bounded beam search at the base layer.
	candidates, err := h.searchLayerLocked(ctx, query, ep, k, 0, ef)
	if err != nil {
		return nil, err
	}

	results := make([]types.SearchResult, 0, len(candidates))
	for _, c := range candidates {
		node := h.nodeByID(c.ID)
		if node == nil {
			continue
		}
		results = append(results, types.SearchResult{
			ID:       c.ID,
			Distance: c.Distance,
			Metadata: node.Metadata,
		})
	}
	return results, nil
}

// searchLayerLocked runs the bounded beam search on one layer, starting from
// entrypointID, and returns up to k candidates sorted by ascending distance
// (ties by ascending ID). Evicted nodes are traversed but never returned.
// Caller must hold at least the read lock.
func (h *Index) searchLayerLocked(ctx context.Context, query []float64, entrypointID uint64, k, layer, ef int) ([]types.Candidate, error) {
	visited := h.visitedPool.Get().(*bitSet)
	candidates := h.minHeapPool.Get().(*minHeap)
	results := h.maxHeapPool.Get().(*maxHeap)
	candidates.Reset()
	results.Reset()

	defer func() {
		visited.Clear()
		h.visitedPool.Put(visited)
		h.minHeapPool.Put(candidates)
		h.maxHeapPool.Put(results)
	}()

	visited.EnsureCapacity(h.nextID)

	if ef < k {
		ef = k
	}

	entry := h.nodeByID(entrypointID)
	if entry == nil {
		return nil, fmt.Errorf("hnsw: entry point node %d not found", entrypointID)
	}
	dist, err := h.distFn(query, entry.Vector)
	if err != nil {
		return nil, err
	}

	ep := types.Candidate{ID: entrypointID, Distance: dist}
	candidates.Push(ep)
	visited.Add(entrypointID)
	if !entry.Evicted.Load() {
		results.Push(ep)
	}

	steps := 0
	for candidates.Len() > 0 {
		steps++
		if steps%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		current := candidates.Pop()

		// Lower-bound cut: if the nearest unexplored candidate is already
		// worse than the worst kept result, no path through it can improve
		// the result set.
		if results.Len() >= ef && current.Distance > results.Peek().Distance {
			break
		}

		node := h.nodeByID(current.ID)
		if node == nil || layer >= len(node.Connections) {
			continue
		}

		for _, neighborID := range node.Connections[layer] {
			if visited.Has(neighborID) {
				continue
			}
			visited.Add(neighborID)

			neighbor := h.nodeByID(neighborID)
			if neighbor == nil {
				continue
			}

			d, err := h.distFn(query, neighbor.Vector)
			if err != nil {
				continue
			}

			worst := math.MaxFloat64
			if results.Len() > 0 {
				worst = results.Peek().Distance
			}

			if results.Len() < ef || d < worst {
				c := types.Candidate{ID: neighborID, Distance: d}
				// Always expand through the candidate, even a tombstone:
				// eviction must not sever traversal paths.
				candidates.Push(c)
				if !neighbor.Evicted.Load() {
					results.Push(c)
					if results.Len() > ef {
						results.Pop()
					}
				}
			}
		}
	}

	// The max-heap pops worst-first; fill back to front for ascending order.
	out := make([]types.Candidate, results.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = results.Pop()
	}
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}
