package hnsw

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanonone/patterndb/pkg/core/vmath"
)

func newTestIndex(t *testing.T, params Params) *Index {
	t.Helper()
	if params.Seed == 0 {
		params.Seed = 1
	}
	idx, err := New(params)
	require.NoError(t, err)
	return idx
}

func TestInsertAndSearchBasic(t *testing.T) {
	idx := newTestIndex(t, Params{Dimensions: 2, Metric: vmath.Cosine})

	id0, err := idx.Insert([]float64{1, 0}, []byte("east"))
	require.NoError(t, err)
	id1, err := idx.Insert([]float64{0, 1}, []byte("north"))
	require.NoError(t, err)
	id2, err := idx.Insert([]float64{0.9, 0.1}, []byte("east-ish"))
	require.NoError(t, err)

	assert.Equal(t, uint64(0), id0)
	assert.Equal(t, uint64(1), id1)
	assert.Equal(t, uint64(2), id2)
	assert.Equal(t, uint64(3), idx.Count())

	results, err := idx.Search(context.Background(), []float64{1, 0}, 2, 0)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, id0, results[0].ID)
	assert.Equal(t, id2, results[1].ID)
	assert.Equal(t, []byte("east"), results[0].Metadata)

	// Exact match: distance 0. Near match: 1 - 0.9/sqrt(0.82) ~= 0.0061.
	assert.InDelta(t, 0, results[0].Distance, 1e-12)
	assert.InDelta(t, 1-0.9/math.Sqrt(0.82), results[1].Distance, 1e-12)
}

func TestSearchSelfIsNearest(t *testing.T) {
	idx := newTestIndex(t, Params{Dimensions: 8, Metric: vmath.Euclidean})

	rng := rand.New(rand.NewSource(99))
	vectors := make([][]float64, 50)
	for i := range vectors {
		vectors[i] = randomVector(rng, 8)
		_, err := idx.Insert(vectors[i], nil)
		require.NoError(t, err)
	}

	for i, v := range vectors {
		results, err := idx.Search(context.Background(), v, 1, 0)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, uint64(i), results[0].ID, "vector %d should be its own nearest neighbor", i)
		assert.InDelta(t, 0, results[0].Distance, 1e-9)
	}
}

func TestSearchEmptyIndex(t *testing.T) {
	idx := newTestIndex(t, Params{Dimensions: 4, Metric: vmath.Euclidean})

	results, err := idx.Search(context.Background(), []float64{1, 2, 3, 4}, 5, 0)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchKLargerThanIndex(t *testing.T) {
	idx := newTestIndex(t, Params{Dimensions: 2, Metric: vmath.Euclidean})
	for i := 0; i < 3; i++ {
		_, err := idx.Insert([]float64{float64(i), 0}, nil)
		require.NoError(t, err)
	}

	results, err := idx.Search(context.Background(), []float64{0, 0}, 10, 0)
	require.NoError(t, err)
	assert.Len(t, results, 3)
}

func TestSearchZeroK(t *testing.T) {
	idx := newTestIndex(t, Params{Dimensions: 2, Metric: vmath.Euclidean})
	_, err := idx.Insert([]float64{1, 1}, nil)
	require.NoError(t, err)

	results, err := idx.Search(context.Background(), []float64{1, 1}, 0, 0)
	require.NoError(t, err)
	assert.Nil(t, results)
}

func TestInsertDimensionMismatchLeavesIndexUntouched(t *testing.T) {
	idx := newTestIndex(t, Params{Dimensions: 3, Metric: vmath.Euclidean})

	_, err := idx.Insert([]float64{1, 2}, nil)
	assert.ErrorIs(t, err, vmath.ErrDimensionMismatch)
	assert.Equal(t, uint64(0), idx.Count())

	// The next valid insert still gets ID 0: the failed one consumed nothing.
	id, err := idx.Insert([]float64{1, 2, 3}, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), id)
}

func TestInsertZeroVectorUnderCosine(t *testing.T) {
	idx := newTestIndex(t, Params{Dimensions: 2, Metric: vmath.Cosine})
	_, err := idx.Insert([]float64{0, 0}, nil)
	assert.ErrorIs(t, err, vmath.ErrZeroVector)

	// Euclidean accepts it.
	eidx := newTestIndex(t, Params{Dimensions: 2, Metric: vmath.Euclidean})
	_, err = eidx.Insert([]float64{0, 0}, nil)
	assert.NoError(t, err)
}

func TestSearchDimensionMismatch(t *testing.T) {
	idx := newTestIndex(t, Params{Dimensions: 3, Metric: vmath.Euclidean})
	_, err := idx.Insert([]float64{1, 2, 3}, nil)
	require.NoError(t, err)

	_, err = idx.Search(context.Background(), []float64{1, 2}, 1, 0)
	assert.ErrorIs(t, err, vmath.ErrDimensionMismatch)
}

func TestDeterministicForSeed(t *testing.T) {
	build := func() *Index {
		idx := newTestIndex(t, Params{Dimensions: 16, Metric: vmath.Euclidean, Seed: 1234})
		rng := rand.New(rand.NewSource(55))
		for i := 0; i < 300; i++ {
			_, err := idx.Insert(randomVector(rng, 16), nil)
			require.NoError(t, err)
		}
		return idx
	}

	a := build()
	b := build()

	rng := rand.New(rand.NewSource(77))
	for q := 0; q < 20; q++ {
		query := randomVector(rng, 16)
		ra, err := a.Search(context.Background(), query, 10, 0)
		require.NoError(t, err)
		rb, err := b.Search(context.Background(), query, 10, 0)
		require.NoError(t, err)
		assert.Equal(t, ra, rb, "same seed and insert order must yield identical results")
	}
}

func TestEqualDistanceTieBreaksOnID(t *testing.T) {
	idx := newTestIndex(t, Params{Dimensions: 2, Metric: vmath.Euclidean})

	// Two points equidistant from the query.
	_, err := idx.Insert([]float64{1, 0}, nil)
	require.NoError(t, err)
	_, err = idx.Insert([]float64{-1, 0}, nil)
	require.NoError(t, err)

	results, err := idx.Search(context.Background(), []float64{0, 0}, 2, 0)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, results[0].Distance, results[1].Distance)
	assert.Less(t, results[0].ID, results[1].ID)
}

func TestSearchCancellation(t *testing.T) {
	idx := newTestIndex(t, Params{Dimensions: 8, Metric: vmath.Euclidean})
	rng := rand.New(rand.NewSource(5))
	for i := 0; i < 500; i++ {
		_, err := idx.Insert(randomVector(rng, 8), nil)
		require.NoError(t, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := idx.Search(ctx, randomVector(rng, 8), 10, 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNeighborListsRespectCapacity(t *testing.T) {
	params := Params{Dimensions: 4, Metric: vmath.Euclidean, M: 4, Seed: 9}
	idx := newTestIndex(t, params)

	rng := rand.New(rand.NewSource(11))
	for i := 0; i < 400; i++ {
		_, err := idx.Insert(randomVector(rng, 4), nil)
		require.NoError(t, err)
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()
	for _, node := range idx.nodes {
		if node == nil {
			continue
		}
		for l, conns := range node.Connections {
			capacity := neighborCap(idx.params.M, l)
			assert.LessOrEqual(t, len(conns), capacity,
				"node %d layer %d exceeds capacity", node.ID, l)
			for _, nid := range conns {
				assert.NotEqual(t, node.ID, nid, "node %d links to itself", node.ID)
			}
		}
	}
}

func TestMaxElementsWithoutEviction(t *testing.T) {
	idx := newTestIndex(t, Params{Dimensions: 2, Metric: vmath.Euclidean, MaxElements: 3})

	for i := 0; i < 3; i++ {
		_, err := idx.Insert([]float64{float64(i), 0}, nil)
		require.NoError(t, err)
	}
	_, err := idx.Insert([]float64{9, 9}, nil)
	assert.ErrorIs(t, err, ErrResourceExhausted)
	assert.Equal(t, uint64(3), idx.Count())
}

func randomVector(rng *rand.Rand, dims int) []float64 {
	v := make([]float64, dims)
	for i := range v {
		v[i] = rng.NormFloat64()
	}
	return v
}
