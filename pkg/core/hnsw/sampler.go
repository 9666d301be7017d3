package hnsw

import (
	"math"
	"math/rand"
)

// maxSampledLayer caps the exponential draw so a pathological random value
// cannot allocate an absurd number of layers.
const maxSampledLayer = 64

// levelSampler draws the insertion layer for new nodes from the standard
// HNSW exponential-decay distribution:
//
//	layer = floor(-ln(U(0,1)) * levelMultiplier)
//
// The random source is owned by the index and seeded explicitly through
// Params.Seed, never global, so insertion sequences are reproducible.
// sample is only ever called by the writer path under the index write lock,
// which is what makes the unsynchronized rand.Rand safe.
type levelSampler struct {
	rng        *rand.Rand
	multiplier float64
}

func newLevelSampler(seed int64, multiplier float64) *levelSampler {
	return &levelSampler{
		rng:        rand.New(rand.NewSource(seed)),
		multiplier: multiplier,
	}
}

func (s *levelSampler) sample() int {
	u := s.rng.Float64()
	if u == 0 {
		// Float64 returns [0,1); ln(0) would yield +Inf.
		u = math.SmallestNonzeroFloat64
	}
	layer := int(math.Floor(-math.Log(u) * s.multiplier))
	if layer > maxSampledLayer {
		layer = maxSampledLayer
	}
	return layer
}
