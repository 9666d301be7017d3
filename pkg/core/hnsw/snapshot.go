package hnsw

import (
	"fmt"

	"github.com/tidwall/btree"

	"github.com/sanonone/patterndb/pkg/core/vmath"
)

// NodeSnapshot is the persistence-facing view of one node. Vectors and
// metadata are shared with the live node (both are immutable); neighbor
// lists are deep-copied because later inserts rewrite them.
type NodeSnapshot struct {
	ID          uint64
	Layer       int
	Vector      []float64
	Metadata    []byte
	Connections [][]uint64
}

// Snapshot is a consistent point-in-time copy of the index, detached from
// the live structure so it can be serialized without holding any lock.
// Tombstoned nodes are dropped; each surviving node that pointed at one
// adopts the live nodes reachable through it instead, so a tombstone that
// was the only bridge between two components does not disconnect the
// restored graph.
type Snapshot struct {
	M              int
	EfConstruction int
	Metric         vmath.Metric
	Dimensions     int
	Nodes          []NodeSnapshot
}

// Snapshot captures the current state under the read lock. The returned
// value stays valid after the lock is released.
func (h *Index) Snapshot() *Snapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()

	snap := &Snapshot{
		M:              h.params.M,
		EfConstruction: h.params.EfConstruction,
		Metric:         h.params.Metric,
		Dimensions:     h.params.Dimensions,
		Nodes:          make([]NodeSnapshot, 0, h.liveCount),
	}

	for _, node := range h.nodes {
		if node == nil || node.Evicted.Load() {
			continue
		}
		ns := NodeSnapshot{
			ID:          node.ID,
			Layer:       node.Layer,
			Vector:      node.Vector,
			Metadata:    node.Metadata,
			Connections: make([][]uint64, len(node.Connections)),
		}
		for l, conns := range node.Connections {
			capacity := neighborCap(h.params.M, l)
			kept := make([]uint64, 0, len(conns))
			for _, nid := range conns {
				other := h.nodeByID(nid)
				if other == nil {
					continue
				}
				if !other.Evicted.Load() {
					kept = appendNeighbor(kept, nid, node.ID)
					continue
				}
				// The dropped tombstone may be the only path to another
				// component. Re-link to the live nodes behind it.
				for _, bid := range h.bridgeTargetsLocked(nid, l) {
					if len(kept) >= capacity {
						break
					}
					kept = appendNeighbor(kept, bid, node.ID)
				}
			}
			ns.Connections[l] = kept
		}
		snap.Nodes = append(snap.Nodes, ns)
	}
	return snap
}

// bridgeTargetsLocked returns the live nodes reachable from the tombstoned
// start node through tombstone-only paths at the given layer, in traversal
// order. Caller must hold at least the read lock.
func (h *Index) bridgeTargetsLocked(start uint64, layer int) []uint64 {
	visited := map[uint64]bool{start: true}
	queue := []uint64{start}
	var live []uint64
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		node := h.nodeByID(id)
		if node == nil || layer >= len(node.Connections) {
			continue
		}
		for _, nid := range node.Connections[layer] {
			if visited[nid] {
				continue
			}
			visited[nid] = true
			other := h.nodeByID(nid)
			if other == nil {
				continue
			}
			if other.Evicted.Load() {
				queue = append(queue, nid)
			} else {
				live = append(live, nid)
			}
		}
	}
	return live
}

// appendNeighbor adds id to list unless it is self or already present.
func appendNeighbor(list []uint64, id, self uint64) []uint64 {
	if id == self {
		return list
	}
	for _, existing := range list {
		if existing == id {
			return list
		}
	}
	return append(list, id)
}

// FromSnapshot rebuilds an index from snapshot data. Structural parameters
// (M, EfConstruction, Metric, Dimensions) come from the snapshot itself;
// runtime knobs (EfSearch, MaxElements, Seed, eviction policy) come from
// params. The entry point is recomputed from the reconstructed nodes —
// maximum layer, earliest-inserted on ties — rather than trusted from the
// source, to guard against partial or corrupted writes.
func FromSnapshot(snap *Snapshot, params Params) (*Index, error) {
	params.M = snap.M
	params.EfConstruction = snap.EfConstruction
	params.Metric = snap.Metric
	params.Dimensions = snap.Dimensions

	h, err := New(params)
	if err != nil {
		return nil, err
	}

	var maxID uint64
	for i := range snap.Nodes {
		if snap.Nodes[i].ID > maxID {
			maxID = snap.Nodes[i].ID
		}
	}
	if len(snap.Nodes) > 0 {
		h.nodes = make([]*Node, maxID+1)
		h.nextID = maxID + 1
	}

	for i := range snap.Nodes {
		ns := &snap.Nodes[i]
		if len(ns.Vector) != snap.Dimensions {
			return nil, fmt.Errorf("hnsw: node %d has %d dimensions, snapshot declares %d",
				ns.ID, len(ns.Vector), snap.Dimensions)
		}
		if len(ns.Connections) != ns.Layer+1 {
			return nil, fmt.Errorf("hnsw: node %d has %d connection layers, expected %d",
				ns.ID, len(ns.Connections), ns.Layer+1)
		}
		if h.nodes[ns.ID] != nil {
			return nil, fmt.Errorf("hnsw: duplicate node ID %d in snapshot", ns.ID)
		}
		h.nodes[ns.ID] = &Node{
			ID:          ns.ID,
			Vector:      ns.Vector,
			Metadata:    ns.Metadata,
			Layer:       ns.Layer,
			Connections: ns.Connections,
		}
		h.liveCount++
	}

	// Validate edges and recompute the entry point.
	h.maxLevel = -1
	for _, node := range h.nodes {
		if node == nil {
			continue
		}
		for l, conns := range node.Connections {
			for _, nid := range conns {
				other := h.nodeByID(nid)
				if other == nil {
					return nil, fmt.Errorf("hnsw: node %d references missing neighbor %d at layer %d",
						node.ID, nid, l)
				}
				if l > other.Layer {
					return nil, fmt.Errorf("hnsw: node %d links to %d at layer %d beyond its top layer %d",
						node.ID, nid, l, other.Layer)
				}
			}
		}
		if node.Layer > h.maxLevel {
			h.maxLevel = node.Layer
			h.entrypointID = node.ID
		}
		// Ties keep the earliest-inserted node: IDs ascend with insertion
		// order and the nodes slice is walked in ID order.
	}

	if params.EvictionEnabled {
		h.evictQueue = btree.NewBTreeG[uint64](func(a, b uint64) bool { return a < b })
		for _, node := range h.nodes {
			if node != nil {
				h.evictQueue.Set(node.ID)
			}
		}
	}

	return h, nil
}
