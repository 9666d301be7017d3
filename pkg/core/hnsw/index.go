package hnsw

import (
	"fmt"
	"sort"
	"sync"

	"github.com/tidwall/btree"

	"github.com/sanonone/patterndb/pkg/core/types"
	"github.com/sanonone/patterndb/pkg/core/vmath"
)

// Index is the hierarchical graph structure. A single RWMutex implements the
// single-writer/multi-reader discipline: Insert runs under the write lock,
// searches and snapshots share the read lock. Because every insert completes
// entirely inside the critical section, a reader observes either the
// pre-insert or the fully linked post-insert graph, never anything between.
type Index struct {
	mu sync.RWMutex

	params Params
	distFn vmath.Func

	sampler *levelSampler

	// nodes is indexed by node ID. IDs are assigned monotonically, so the
	// slice is dense except for holes left by snapshots taken after
	// evictions.
	nodes     []*Node
	nextID    uint64
	liveCount uint64

	// evictedTotal counts tombstones created by this instance.
	evictedTotal uint64

	// entrypointID is the node with the current maximum layer, earliest
	// inserted on ties. Only meaningful while maxLevel >= 0.
	entrypointID uint64
	maxLevel     int // -1 while the index is empty

	// evictQueue orders live node IDs oldest-first for the emergency
	// eviction pass. Nil unless EvictionEnabled.
	evictQueue *btree.BTreeG[uint64]

	visitedPool sync.Pool
	minHeapPool sync.Pool
	maxHeapPool sync.Pool
}

// New creates an empty index with the given parameters.
func New(params Params) (*Index, error) {
	params = params.withDefaults()
	if err := params.Validate(); err != nil {
		return nil, err
	}
	distFn, err := vmath.ForMetric(params.Metric)
	if err != nil {
		return nil, err
	}

	h := &Index{
		params:   params,
		distFn:   distFn,
		sampler:  newLevelSampler(params.Seed, params.LevelMultiplier),
		nodes:    make([]*Node, 0, 1024),
		maxLevel: -1,
	}
	if params.EvictionEnabled {
		h.evictQueue = btree.NewBTreeG[uint64](func(a, b uint64) bool { return a < b })
	}

	h.visitedPool = sync.Pool{
		New: func() any { return newBitSet(1024) },
	}
	h.minHeapPool = sync.Pool{
		New: func() any { return newMinHeap(params.EfConstruction) },
	}
	h.maxHeapPool = sync.Pool{
		New: func() any { return newMaxHeap(params.EfConstruction) },
	}

	return h, nil
}

// Params returns the index configuration (after defaulting).
func (h *Index) Params() Params {
	return h.params
}

// Count returns the number of live (non-evicted) nodes.
func (h *Index) Count() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.liveCount
}

// Insert adds a vector with its opaque metadata to the graph and returns the
// assigned node ID. The vector must match the configured dimensionality and,
// under the cosine metric, must not have zero norm. The operation either
// fully completes or leaves the graph untouched.
func (h *Index) Insert(vector []float64, metadata []byte) (uint64, error) {
	if err := vmath.Validate(h.params.Metric, vector, h.params.Dimensions); err != nil {
		return 0, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.params.MaxElements > 0 && h.liveCount >= h.params.MaxElements {
		if !h.params.EvictionEnabled || h.evictOldestLocked() == 0 {
			return 0, ErrResourceExhausted
		}
	}

	level := h.sampler.sample()
	id := h.nextID
	node := &Node{
		ID:          id,
		Vector:      vector,
		Metadata:    metadata,
		Layer:       level,
		Connections: make([][]uint64, level+1),
	}

	// First node: becomes the entry point, no edges to build.
	if h.maxLevel < 0 {
		h.commitLocked(node)
		h.entrypointID = id
		h.maxLevel = level
		return id, nil
	}

	// Greedy descent through the layers above the target layer.
	ep := h.entrypointID
	for l := h.maxLevel; l > level; l-- {
		nearest, err := h.searchLayerLocked(noCancel, vector, ep, 1, l, 1)
		if err != nil {
			return 0, err
		}
		if len(nearest) > 0 {
			ep = nearest[0].ID
		}
	}

	// The new node is registered before linking so the backlink pruning
	// below can resolve its ID. Readers cannot observe it: they are held
	// off by the write lock until the insert completes.
	h.commitLocked(node)

	// Beam search and bidirectional linking, top layer down to 0.
	for l := minInt(level, h.maxLevel); l >= 0; l-- {
		candidates, err := h.searchLayerLocked(noCancel, vector, ep, h.params.EfConstruction, l, h.params.EfConstruction)
		if err != nil {
			return 0, err
		}

		capacity := neighborCap(h.params.M, l)
		selected := h.selectNeighborsLocked(candidates, capacity)

		conns := make([]uint64, 0, len(selected))
		for _, c := range selected {
			if c.ID == id {
				continue
			}
			conns = append(conns, c.ID)
		}
		node.Connections[l] = conns

		for _, neighborID := range conns {
			h.linkBackLocked(neighborID, node, l)
		}

		if len(candidates) > 0 {
			ep = candidates[0].ID
		}
	}

	if level > h.maxLevel {
		h.maxLevel = level
		h.entrypointID = id
	}
	return id, nil
}

// commitLocked makes the node part of the store and accounts for it.
func (h *Index) commitLocked(node *Node) {
	h.nodes = append(h.nodes, node)
	h.nextID++
	h.liveCount++
	if h.evictQueue != nil {
		h.evictQueue.Set(node.ID)
	}
}

// linkBackLocked adds newNode to the neighbor list of neighborID at the
// given layer, pruning the list back to capacity with the diversity
// heuristic when it overflows.
func (h *Index) linkBackLocked(neighborID uint64, newNode *Node, layer int) {
	neighbor := h.nodes[neighborID]
	if neighbor == nil || layer >= len(neighbor.Connections) {
		return
	}

	capacity := neighborCap(h.params.M, layer)
	conns := neighbor.Connections[layer]
	if len(conns) < capacity {
		neighbor.Connections[layer] = append(conns, newNode.ID)
		return
	}

	// Overflow: re-select the best diverse set among existing neighbors
	// plus the new node, measured from the neighbor itself.
	merged := make([]types.Candidate, 0, len(conns)+1)
	for _, nid := range conns {
		if nid == newNode.ID {
			return // already linked
		}
		other := h.nodes[nid]
		if other == nil {
			continue
		}
		d, err := h.distFn(neighbor.Vector, other.Vector)
		if err != nil {
			continue
		}
		merged = append(merged, types.Candidate{ID: nid, Distance: d})
	}
	d, err := h.distFn(neighbor.Vector, newNode.Vector)
	if err != nil {
		return
	}
	merged = append(merged, types.Candidate{ID: newNode.ID, Distance: d})

	sort.Slice(merged, func(i, j int) bool { return minLess(merged[i], merged[j]) })

	selected := h.selectNeighborsLocked(merged, capacity)
	pruned := make([]uint64, 0, len(selected))
	for _, c := range selected {
		if c.ID == neighborID {
			continue
		}
		pruned = append(pruned, c.ID)
	}
	neighbor.Connections[layer] = pruned
}

// selectNeighborsLocked implements the diversity-aware neighbor selection
// heuristic from the HNSW paper. Candidates must be sorted by ascending
// distance to the base point. A candidate is kept unless an already-kept
// candidate is closer to it than it is to the base point (it would then be
// reachable through that kept neighbor anyway). If the heuristic is too
// aggressive, the remaining slots are refilled with the best discarded
// candidates to avoid weakly connected nodes.
func (h *Index) selectNeighborsLocked(candidates []types.Candidate, m int) []types.Candidate {
	if len(candidates) <= m {
		return candidates
	}

	results := make([]types.Candidate, 0, m)
	discarded := make([]types.Candidate, 0, len(candidates)-m)

	for _, e := range candidates {
		if len(results) >= m {
			break
		}
		if len(results) == 0 {
			results = append(results, e)
			continue
		}

		keep := true
		eNode := h.nodes[e.ID]
		if eNode == nil {
			continue
		}
		for _, r := range results {
			rNode := h.nodes[r.ID]
			if rNode == nil {
				continue
			}
			d, err := h.distFn(eNode.Vector, rNode.Vector)
			if err != nil || d < e.Distance {
				keep = false
				break
			}
		}

		if keep {
			results = append(results, e)
		} else {
			discarded = append(discarded, e)
		}
	}

	for _, c := range discarded {
		if len(results) >= m {
			break
		}
		results = append(results, c)
	}
	return results
}

// nodeByID returns the node for id, or nil if the id is out of range or a
// snapshot hole. Caller must hold at least the read lock.
func (h *Index) nodeByID(id uint64) *Node {
	if id >= uint64(len(h.nodes)) {
		return nil
	}
	return h.nodes[id]
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func (h *Index) String() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return fmt.Sprintf("hnsw.Index{metric=%s dims=%d m=%d count=%d maxLevel=%d}",
		h.params.Metric, h.params.Dimensions, h.params.M, h.liveCount, h.maxLevel)
}
