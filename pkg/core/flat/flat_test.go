package flat

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanonone/patterndb/pkg/core/vmath"
)

func TestInsertAndSearch(t *testing.T) {
	idx, err := New(vmath.Euclidean, 2)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		id, err := idx.Insert([]float64{float64(i), 0}, []byte{byte(i)})
		require.NoError(t, err)
		assert.Equal(t, uint64(i), id)
	}
	assert.Equal(t, uint64(5), idx.Count())

	results, err := idx.Search(context.Background(), []float64{1.9, 0}, 3)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, uint64(2), results[0].ID)
	assert.Equal(t, uint64(1), results[1].ID)
	assert.Equal(t, []byte{2}, results[0].Metadata)
}

func TestAddKeepsIDsAhead(t *testing.T) {
	idx, err := New(vmath.Euclidean, 2)
	require.NoError(t, err)

	require.NoError(t, idx.Add(Entry{ID: 7, Vector: []float64{1, 1}}))
	id, err := idx.Insert([]float64{2, 2}, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(8), id)
}

func TestValidation(t *testing.T) {
	idx, err := New(vmath.Cosine, 3)
	require.NoError(t, err)

	_, err = idx.Insert([]float64{1, 2}, nil)
	assert.ErrorIs(t, err, vmath.ErrDimensionMismatch)
	_, err = idx.Insert([]float64{0, 0, 0}, nil)
	assert.ErrorIs(t, err, vmath.ErrZeroVector)
	_, err = idx.Search(context.Background(), []float64{1}, 3)
	assert.ErrorIs(t, err, vmath.ErrDimensionMismatch)
}

func TestTieBreakAndTruncation(t *testing.T) {
	idx, err := New(vmath.Euclidean, 1)
	require.NoError(t, err)
	require.NoError(t, idx.Add(Entry{ID: 5, Vector: []float64{1}}))
	require.NoError(t, idx.Add(Entry{ID: 2, Vector: []float64{-1}}))
	require.NoError(t, idx.Add(Entry{ID: 9, Vector: []float64{3}}))

	results, err := idx.Search(context.Background(), []float64{0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, uint64(2), results[0].ID) // tie with 5, lower ID wins
	assert.Equal(t, uint64(5), results[1].ID)
}

func TestSearchCancellation(t *testing.T) {
	idx, err := New(vmath.Euclidean, 1)
	require.NoError(t, err)
	for i := 0; i < 3000; i++ {
		_, err := idx.Insert([]float64{float64(i)}, nil)
		require.NoError(t, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = idx.Search(ctx, []float64{0}, 5)
	assert.ErrorIs(t, err, context.Canceled)
}
