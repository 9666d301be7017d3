// Package hnsw implements the Hierarchical Navigable Small World graph used
// to answer approximate nearest-neighbor queries over pattern embeddings.
//
// The package contains the core Index struct and its methods for building,
// searching, snapshotting and (under memory pressure) soft-evicting nodes.
// All graph mutations run under a single write lock; searches share a read
// lock and never observe a partially linked node.
package hnsw

import "sync/atomic"

// Node is a single entry of the graph. Its ID, vector and metadata are
// immutable once the insert that created it completes; only the neighbor
// lists are rewritten later, by the pruning step of subsequent inserts,
// always under the index write lock.
type Node struct {
	// ID is assigned monotonically on insert and never reused.
	ID uint64
	// Vector is the indexed embedding. Treated as immutable once published.
	Vector []float64
	// Metadata is an opaque caller-defined blob carried through search
	// results and snapshots untouched.
	Metadata []byte
	// Layer is the highest layer this node participates in.
	Layer int
	// Connections[l] holds the neighbor IDs at layer l, for l in [0, Layer].
	// Capacity is 2*M at layer 0 and M above.
	Connections [][]uint64
	// Evicted marks a node tombstoned by the emergency eviction pass. The
	// node stays in the graph for connectivity but is never returned from
	// a search. Atomic so the read path can check it without the write lock.
	Evicted atomic.Bool
}

// neighborCap returns the edge capacity of a node at the given layer.
func neighborCap(m, layer int) int {
	if layer == 0 {
		return 2 * m
	}
	return m
}
