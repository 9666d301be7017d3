package hnsw

// Stats is a point-in-time health summary of the index. An observability
// sink is expected to poll it; the index never pushes.
type Stats struct {
	// Count is the number of live (non-evicted) nodes.
	Count uint64 `json:"count"`
	// MemoryEstimateBytes approximates the resident size of vectors,
	// metadata and neighbor lists. It is an estimate, not an accounting.
	MemoryEstimateBytes uint64 `json:"memory_estimate_bytes"`
	// LayerHistogram[l] is the number of live nodes whose top layer is l.
	LayerHistogram []uint64 `json:"layer_histogram"`
	// EntrypointLayer is the layer of the current entry point, -1 when the
	// index is empty.
	EntrypointLayer int `json:"entrypoint_layer"`
}

// nodeOverhead approximates the fixed per-node cost: struct fields, slice
// headers and allocator slack.
const nodeOverhead = 96

// Stats computes a snapshot of the index health under the read lock.
func (h *Index) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	s := Stats{
		Count:           h.liveCount,
		EntrypointLayer: -1,
	}
	if h.maxLevel >= 0 {
		s.EntrypointLayer = h.maxLevel
		s.LayerHistogram = make([]uint64, h.maxLevel+1)
	}

	for _, node := range h.nodes {
		if node == nil {
			continue
		}
		mem := uint64(len(node.Vector)*8 + len(node.Metadata) + nodeOverhead)
		for _, conns := range node.Connections {
			mem += uint64(len(conns) * 8)
		}
		s.MemoryEstimateBytes += mem

		if node.Evicted.Load() {
			continue
		}
		if node.Layer < len(s.LayerHistogram) {
			s.LayerHistogram[node.Layer]++
		}
	}
	return s
}
