package hnsw

// bitSet tracks visited node IDs during a traversal. Pooled per search so
// the hot loop does no map allocations.
type bitSet struct {
	buckets []uint64
}

func newBitSet(initialCapacity uint64) *bitSet {
	return &bitSet{
		buckets: make([]uint64, (initialCapacity>>6)+1),
	}
}

func (bs *bitSet) grow(n uint64) {
	needed := (n >> 6) + 1
	if uint64(len(bs.buckets)) < needed {
		buckets := make([]uint64, needed)
		copy(buckets, bs.buckets)
		bs.buckets = buckets
	}
}

func (bs *bitSet) Add(n uint64) {
	if n>>6 >= uint64(len(bs.buckets)) {
		bs.grow(n)
	}
	bs.buckets[n>>6] |= 1 << (n & 63)
}

func (bs *bitSet) Has(n uint64) bool {
	if n>>6 >= uint64(len(bs.buckets)) {
		return false
	}
	return bs.buckets[n>>6]&(1<<(n&63)) != 0
}

func (bs *bitSet) Clear() {
	for i := range bs.buckets {
		bs.buckets[i] = 0
	}
}

func (bs *bitSet) EnsureCapacity(maxVal uint64) {
	bs.grow(maxVal)
}
