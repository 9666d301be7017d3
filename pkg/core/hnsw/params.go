package hnsw

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/sanonone/patterndb/pkg/core/vmath"
)

// Defaults applied by Params.withDefaults when a field is left zero.
const (
	DefaultM              = 16
	DefaultEfConstruction = 200
	DefaultEfSearch       = 100
	// DefaultEvictionFraction is the share of MaxElements reclaimed by one
	// emergency eviction pass.
	DefaultEvictionFraction = 0.02
)

// ErrResourceExhausted is returned by Insert when the index holds
// MaxElements live nodes and emergency eviction is disabled (or could not
// reclaim anything).
var ErrResourceExhausted = errors.New("hnsw: index is at max_elements capacity")

// Params configures an index instance. Dimensions and Metric are structural
// and immutable for the life of the index (and of its snapshots); the
// remaining fields are tuning knobs.
type Params struct {
	// M is the maximum number of bidirectional edges per node per layer.
	// Layer 0 allows 2*M.
	M int `yaml:"m"`
	// EfConstruction is the candidate-list size of the insertion beam search.
	EfConstruction int `yaml:"ef_construction"`
	// EfSearch is the default candidate-list size of queries; a query may
	// override it per call.
	EfSearch int `yaml:"ef_search"`
	// Dimensions is the fixed vector dimensionality. Required.
	Dimensions int `yaml:"dimensions"`
	// MaxElements caps the number of live nodes. 0 means unlimited.
	MaxElements uint64 `yaml:"max_elements"`
	// LevelMultiplier is the decay factor of the layer distribution.
	// Defaults to 1/ln(2).
	LevelMultiplier float64 `yaml:"level_multiplier"`
	// Metric selects the distance function. Defaults to cosine.
	Metric vmath.Metric `yaml:"metric"`
	// Seed seeds the layer sampler. 0 picks a time-based seed; set it
	// explicitly to make insertion sequences reproducible.
	Seed int64 `yaml:"seed"`
	// EvictionEnabled turns on the emergency eviction pass that tombstones
	// the oldest nodes when the index is full, instead of failing inserts.
	EvictionEnabled bool `yaml:"eviction_enabled"`
	// EvictionFraction is the share of MaxElements one eviction pass
	// reclaims. Defaults to DefaultEvictionFraction.
	EvictionFraction float64 `yaml:"eviction_fraction"`
}

func (p Params) withDefaults() Params {
	if p.M <= 0 {
		p.M = DefaultM
	}
	if p.EfConstruction <= 0 {
		p.EfConstruction = DefaultEfConstruction
	}
	if p.EfSearch <= 0 {
		p.EfSearch = DefaultEfSearch
	}
	if p.LevelMultiplier <= 0 {
		p.LevelMultiplier = 1.0 / math.Ln2
	}
	if p.Metric == "" {
		p.Metric = vmath.Cosine
	}
	if p.Seed == 0 {
		p.Seed = time.Now().UnixNano()
	}
	if p.EvictionFraction <= 0 || p.EvictionFraction > 1 {
		p.EvictionFraction = DefaultEvictionFraction
	}
	return p
}

// Validate reports configuration errors that withDefaults cannot repair.
func (p Params) Validate() error {
	if p.Dimensions <= 0 {
		return fmt.Errorf("hnsw: dimensions must be positive, got %d", p.Dimensions)
	}
	if _, err := vmath.ForMetric(p.Metric); p.Metric != "" && err != nil {
		return err
	}
	return nil
}
