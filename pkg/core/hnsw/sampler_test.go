package hnsw

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSamplerDeterministicForSeed(t *testing.T) {
	a := newLevelSampler(42, 1.0/math.Ln2)
	b := newLevelSampler(42, 1.0/math.Ln2)
	for i := 0; i < 1000; i++ {
		assert.Equal(t, a.sample(), b.sample(), "draw %d diverged", i)
	}
}

func TestSamplerDistribution(t *testing.T) {
	s := newLevelSampler(1, 1.0/math.Ln2)

	const draws = 100000
	counts := make(map[int]int)
	for i := 0; i < draws; i++ {
		l := s.sample()
		assert.GreaterOrEqual(t, l, 0)
		assert.LessOrEqual(t, l, maxSampledLayer)
		counts[l]++
	}

	// With multiplier 1/ln2 each layer should hold roughly half the nodes of
	// the one below. Allow generous slack, this is a sanity check not a
	// statistics exam.
	assert.Greater(t, counts[0], counts[1])
	assert.Greater(t, counts[1], counts[2])
	ratio := float64(counts[0]) / float64(draws)
	assert.InDelta(t, 0.5, ratio, 0.05)
}

func TestSamplerCapsPathologicalDraws(t *testing.T) {
	// A huge multiplier pushes draws past the cap; they must clamp, not
	// allocate unbounded layers.
	s := newLevelSampler(3, 1e9)
	for i := 0; i < 100; i++ {
		assert.LessOrEqual(t, s.sample(), maxSampledLayer)
	}
}
