// Min-heap and max-heap of search candidates, specialized for the traversal
// loops. Both store candidates by value and keep their backing array when
// reset, so pooled instances run allocation-free after warm-up.

package hnsw

import "github.com/sanonone/patterndb/pkg/core/types"

// minHeap keeps the nearest unexplored candidate at the top. It drives the
// expansion order of the beam search.
type minHeap []types.Candidate

func newMinHeap(capacity int) *minHeap {
	h := make(minHeap, 0, capacity)
	return &h
}

func (h *minHeap) Len() int { return len(*h) }

func (h *minHeap) Reset() { *h = (*h)[:0] }

func (h *minHeap) Push(c types.Candidate) {
	*h = append(*h, c)
	s := *h
	i := len(s) - 1
	for i > 0 {
		parent := (i - 1) / 2
		if !minLess(s[i], s[parent]) {
			break
		}
		s[i], s[parent] = s[parent], s[i]
		i = parent
	}
}

func (h *minHeap) Pop() types.Candidate {
	s := *h
	top := s[0]
	n := len(s) - 1
	s[0] = s[n]
	s = s[:n]
	*h = s
	siftDown(s, 0, minLess)
	return top
}

func (h *minHeap) Peek() types.Candidate { return (*h)[0] }

// maxHeap keeps the farthest of the current best results at the top, so the
// worst entry is cheap to inspect and replace.
type maxHeap []types.Candidate

func newMaxHeap(capacity int) *maxHeap {
	h := make(maxHeap, 0, capacity)
	return &h
}

func (h *maxHeap) Len() int { return len(*h) }

func (h *maxHeap) Reset() { *h = (*h)[:0] }

func (h *maxHeap) Push(c types.Candidate) {
	*h = append(*h, c)
	s := *h
	i := len(s) - 1
	for i > 0 {
		parent := (i - 1) / 2
		if !maxLess(s[i], s[parent]) {
			break
		}
		s[i], s[parent] = s[parent], s[i]
		i = parent
	}
}

func (h *maxHeap) Pop() types.Candidate {
	s := *h
	top := s[0]
	n := len(s) - 1
	s[0] = s[n]
	s = s[:n]
	*h = s
	siftDown(s, 0, maxLess)
	return top
}

func (h *maxHeap) Peek() types.Candidate { return (*h)[0] }

// minLess orders by ascending distance, ties by ascending ID so traversal
// order (and therefore results on equal distances) is deterministic.
func minLess(a, b types.Candidate) bool {
	if a.Distance != b.Distance {
		return a.Distance < b.Distance
	}
	return a.ID < b.ID
}

// maxLess orders by descending distance, ties by descending ID, the mirror
// of minLess so the max-heap evicts the deterministic worst first.
func maxLess(a, b types.Candidate) bool {
	if a.Distance != b.Distance {
		return a.Distance > b.Distance
	}
	return a.ID > b.ID
}

func siftDown(s []types.Candidate, i int, less func(a, b types.Candidate) bool) {
	n := len(s)
	for {
		left := 2*i + 1
		if left >= n {
			return
		}
		best := left
		if right := left + 1; right < n && less(s[right], s[left]) {
			best = right
		}
		if !less(s[best], s[i]) {
			return
		}
		s[i], s[best] = s[best], s[i]
		i = best
	}
}
