package hnsw

// Emergency eviction. When the index is full and eviction is enabled, the
// oldest live nodes (lowest IDs) are tombstoned until a fraction of
// MaxElements is reclaimed. Tombstones keep their edges so the graph stays
// navigable; they are simply never returned from a search and are dropped
// from the next snapshot.

// evictOldestLocked tombstones the oldest live nodes and returns how many it
// reclaimed. Caller must hold the write lock.
func (h *Index) evictOldestLocked() int {
	if h.evictQueue == nil {
		return 0
	}

	target := int(float64(h.params.MaxElements) * h.params.EvictionFraction)
	if target < 1 {
		target = 1
	}

	evicted := 0
	for evicted < target {
		id, ok := h.evictQueue.PopMin()
		if !ok {
			break
		}
		node := h.nodeByID(id)
		if node == nil || node.Evicted.Load() {
			continue
		}
		node.Evicted.Store(true)
		h.liveCount--
		h.evictedTotal++
		evicted++
	}
	return evicted
}

// EvictedTotal returns the number of nodes tombstoned since the index was
// created or restored.
func (h *Index) EvictedTotal() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.evictedTotal
}

// EvictedCount returns the number of tombstoned nodes still held in the
// graph.
func (h *Index) EvictedCount() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var n uint64
	for _, node := range h.nodes {
		if node != nil && node.Evicted.Load() {
			n++
		}
	}
	return n
}
