package hnsw

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanonone/patterndb/pkg/core/vmath"
)

func TestEvictionReclaimsOldestFirst(t *testing.T) {
	idx := newTestIndex(t, Params{
		Dimensions:       2,
		Metric:           vmath.Euclidean,
		MaxElements:      10,
		EvictionEnabled:  true,
		EvictionFraction: 0.2, // reclaim 2 per pass
	})

	rng := rand.New(rand.NewSource(8))
	for i := 0; i < 10; i++ {
		_, err := idx.Insert(randomVector(rng, 2), nil)
		require.NoError(t, err)
	}
	require.Equal(t, uint64(10), idx.Count())

	// Full: the next insert must evict the two oldest instead of failing.
	id, err := idx.Insert(randomVector(rng, 2), nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), id)
	assert.Equal(t, uint64(9), idx.Count()) // 10 - 2 evicted + 1 inserted
	assert.Equal(t, uint64(2), idx.EvictedTotal())

	// The tombstoned nodes are exactly IDs 0 and 1.
	idx.mu.RLock()
	assert.True(t, idx.nodes[0].Evicted.Load())
	assert.True(t, idx.nodes[1].Evicted.Load())
	assert.False(t, idx.nodes[2].Evicted.Load())
	idx.mu.RUnlock()
}

func TestEvictedNodesNeverReturned(t *testing.T) {
	idx := newTestIndex(t, Params{
		Dimensions:       2,
		Metric:           vmath.Euclidean,
		MaxElements:      5,
		EvictionEnabled:  true,
		EvictionFraction: 0.2,
	})

	for i := 0; i < 5; i++ {
		_, err := idx.Insert([]float64{float64(i), 0}, nil)
		require.NoError(t, err)
	}
	// Trigger eviction of node 0, the one nearest this query.
	_, err := idx.Insert([]float64{10, 0}, nil)
	require.NoError(t, err)
	require.Equal(t, uint64(1), idx.EvictedTotal())

	results, err := idx.Search(context.Background(), []float64{0, 0}, 10, 50)
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, uint64(0), r.ID, "tombstoned node must not appear in results")
	}
	assert.Len(t, results, 5)
}

func TestEvictedNodesDroppedFromSnapshot(t *testing.T) {
	idx := newTestIndex(t, Params{
		Dimensions:       2,
		Metric:           vmath.Euclidean,
		MaxElements:      5,
		EvictionEnabled:  true,
		EvictionFraction: 0.2,
	})

	for i := 0; i < 6; i++ { // the 6th insert evicts node 0
		_, err := idx.Insert([]float64{float64(i), 1}, nil)
		require.NoError(t, err)
	}

	snap := idx.Snapshot()
	assert.Len(t, snap.Nodes, 5)
	for _, ns := range snap.Nodes {
		assert.NotEqual(t, uint64(0), ns.ID)
		for _, conns := range ns.Connections {
			for _, nid := range conns {
				assert.NotEqual(t, uint64(0), nid,
					"snapshot must not reference the evicted node")
			}
		}
	}

	// The snapshot must restore cleanly despite the ID hole, with every
	// live node still reachable at layer 0.
	restored, err := FromSnapshot(snap, Params{Seed: 1})
	require.NoError(t, err)
	assert.Equal(t, uint64(5), restored.Count())
	assertLayerZeroConnected(t, restored)

	// New inserts continue above the old ID space.
	id, err := restored.Insert([]float64{7, 1}, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(6), id)
}

// A tombstone that is the sole layer-0 bridge between two components must
// not disconnect the restored graph: its live neighbors adopt each other
// when the snapshot drops it.
func TestSnapshotBridgesEvictedCutVertex(t *testing.T) {
	idx := newTestIndex(t, Params{Dimensions: 2, Metric: vmath.Euclidean})

	// Node 0 is the only link between cluster {1,2} and cluster {3,4}.
	vectors := [][]float64{{0, 0}, {-2, 0}, {-2, 1}, {2, 0}, {2, 1}}
	conns := [][]uint64{
		{1, 2, 3, 4},
		{0, 2},
		{0, 1},
		{0, 4},
		{0, 3},
	}
	for i := range vectors {
		idx.nodes = append(idx.nodes, &Node{
			ID:          uint64(i),
			Vector:      vectors[i],
			Layer:       0,
			Connections: [][]uint64{conns[i]},
		})
	}
	idx.nextID = 5
	idx.liveCount = 5
	idx.maxLevel = 0
	idx.entrypointID = 0

	idx.nodes[0].Evicted.Store(true)
	idx.liveCount--

	snap := idx.Snapshot()
	require.Len(t, snap.Nodes, 4)
	for _, ns := range snap.Nodes {
		for _, nid := range ns.Connections[0] {
			assert.NotEqual(t, uint64(0), nid, "tombstone must not be referenced")
		}
	}

	restored, err := FromSnapshot(snap, Params{Seed: 1})
	require.NoError(t, err)
	assert.Equal(t, uint64(4), restored.Count())
	assertLayerZeroConnected(t, restored)

	// Both clusters answer queries on the restored graph.
	left, err := restored.Search(context.Background(), []float64{-2, 0.5}, 2, 10)
	require.NoError(t, err)
	require.Len(t, left, 2)
	assert.ElementsMatch(t, []uint64{1, 2}, []uint64{left[0].ID, left[1].ID})

	right, err := restored.Search(context.Background(), []float64{2, 0.5}, 2, 10)
	require.NoError(t, err)
	require.Len(t, right, 2)
	assert.ElementsMatch(t, []uint64{3, 4}, []uint64{right[0].ID, right[1].ID})
}

// Bridging must follow chains of tombstones, not just a single hop.
func TestSnapshotBridgesTombstoneChain(t *testing.T) {
	idx := newTestIndex(t, Params{Dimensions: 2, Metric: vmath.Euclidean})

	// 1 - 0 - 5 - 3: both middle nodes tombstoned.
	vectors := [][]float64{{0, 0}, {-2, 0}, {-2, 1}, {2, 0}, {2, 1}, {1, 0}}
	conns := [][]uint64{
		{1, 2, 5},
		{0, 2},
		{0, 1},
		{5, 4},
		{5, 3},
		{0, 3, 4},
	}
	for i := range vectors {
		idx.nodes = append(idx.nodes, &Node{
			ID:          uint64(i),
			Vector:      vectors[i],
			Layer:       0,
			Connections: [][]uint64{conns[i]},
		})
	}
	idx.nextID = 6
	idx.liveCount = 6
	idx.maxLevel = 0
	idx.entrypointID = 0

	idx.nodes[0].Evicted.Store(true)
	idx.nodes[5].Evicted.Store(true)
	idx.liveCount -= 2

	restored, err := FromSnapshot(idx.Snapshot(), Params{Seed: 1})
	require.NoError(t, err)
	assert.Equal(t, uint64(4), restored.Count())
	assertLayerZeroConnected(t, restored)
}
