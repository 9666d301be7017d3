// Package types holds the small value types shared between the index core,
// the persistence codec and the engine facade.
package types

// Candidate is the internal HNSW representation of a node under
// consideration during a graph traversal.
type Candidate struct {
	ID       uint64
	Distance float64
}

// SearchResult is a single ranked answer to a k-NN query. Metadata is the
// opaque byte blob the caller stored alongside the vector; the index never
// interprets it.
type SearchResult struct {
	ID       uint64
	Distance float64
	Metadata []byte
}

// BatchObject is one (vector, metadata) pair submitted through the batch
// insert path.
type BatchObject struct {
	Vector   []float64
	Metadata []byte
}

// BatchResult reports the outcome of a single item of a batch insert.
// Err == nil means the item was inserted under ID.
type BatchResult struct {
	ID  uint64
	Err error
}
