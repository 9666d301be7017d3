// Package vmath provides fixed-dimensionality vector arithmetic and the
// distance metrics used by the index (Euclidean, Cosine).
//
// The package uses runtime CPU detection to dispatch to the most optimized
// implementation available: Gonum BLAS kernels (which carry their own SIMD
// dispatch) on AVX2-capable hardware, plain Go reference loops everywhere
// else. Both paths return identical results up to floating-point rounding.
package vmath

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/klauspost/cpuid/v2"
	"gonum.org/v1/gonum/blas/gonum"
)

// Metric identifies the distance function used by an index. The metric is
// fixed at index creation and recorded in snapshots.
type Metric string

const (
	// Euclidean is the L2 distance: sqrt(sum((a_i-b_i)^2)).
	Euclidean Metric = "euclidean"
	// Cosine is the cosine distance: 1 - dot(a,b)/(norm(a)*norm(b)).
	Cosine Metric = "cosine"
)

var (
	// ErrDimensionMismatch is returned when two vectors (or a vector and the
	// index's configured dimensionality) disagree on length. Vectors are never
	// padded or truncated.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrZeroVector is returned when a zero-norm vector is used under the
	// cosine metric, where its distance is undefined. Rejecting it up front
	// keeps NaN out of the graph.
	ErrZeroVector = errors.New("zero-norm vector not allowed under cosine metric")

	// ErrUnsupportedMetric is returned for metric values this package does
	// not know about (e.g. from a hand-edited config file).
	ErrUnsupportedMetric = errors.New("unsupported distance metric")
)

// Func computes the distance between two vectors of equal length.
type Func func(a, b []float64) (float64, error)

var metricFuncs = map[Metric]Func{
	Euclidean: euclideanGo,
	Cosine:    cosineGo,
}

func init() {
	// Gonum handles finer-grained SIMD dispatch internally; the AVX2 gate
	// just avoids its call overhead on hardware where the plain loops win.
	if cpuid.CPU.Has(cpuid.AVX2) {
		metricFuncs[Euclidean] = euclideanGonum
		metricFuncs[Cosine] = cosineGonum
		slog.Debug("vmath compute engine: Gonum BLAS (SIMD)")
	} else {
		slog.Debug("vmath compute engine: pure Go")
	}
}

// ForMetric returns the distance function for the given metric.
func ForMetric(m Metric) (Func, error) {
	fn, ok := metricFuncs[m]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMetric, m)
	}
	return fn, nil
}

// Distance computes the distance between a and b under the given metric.
// Convenience wrapper around ForMetric for one-off calls.
func Distance(m Metric, a, b []float64) (float64, error) {
	fn, err := ForMetric(m)
	if err != nil {
		return 0, err
	}
	return fn(a, b)
}

// Validate checks that v has the expected dimensionality and, under the
// cosine metric, a non-zero norm. It is the single gate every vector passes
// before entering the graph or a query.
func Validate(m Metric, v []float64, dims int) error {
	if len(v) != dims {
		return fmt.Errorf("%w: got %d, index expects %d", ErrDimensionMismatch, len(v), dims)
	}
	if m == Cosine && Norm(v) == 0 {
		return ErrZeroVector
	}
	return nil
}

// Norm returns the L2 norm of v.
func Norm(v []float64) float64 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	return math.Sqrt(sum)
}

// --- Reference implementations (pure Go) ---

func euclideanGo(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(a), len(b))
	}
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum), nil
}

func cosineGo(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(a), len(b))
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0, ErrZeroVector
	}
	sim := dot / (math.Sqrt(na) * math.Sqrt(nb))
	// Clamp rounding overshoot so identical vectors report exactly 0.
	if sim > 1.0 {
		sim = 1.0
	}
	if sim < -1.0 {
		sim = -1.0
	}
	return 1.0 - sim, nil
}

// --- Gonum BLAS implementations ---

var gonumEngine = gonum.Implementation{}

// diffWorkspace pools scratch slices for the Euclidean difference vector so
// the hot path stays allocation-free.
var diffWorkspace = sync.Pool{
	New: func() any {
		s := make([]float64, 1536)
		return &s
	},
}

func euclideanGonum(a, b []float64) (float64, error) {
	n := len(a)
	if n != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(a), len(b))
	}

	diffPtr := diffWorkspace.Get().(*[]float64)
	defer diffWorkspace.Put(diffPtr)
	if cap(*diffPtr) < n {
		*diffPtr = make([]float64, n)
	}
	diff := (*diffPtr)[:n]

	copy(diff, a)
	gonumEngine.Daxpy(n, -1, b, 1, diff, 1)
	return gonumEngine.Dnrm2(n, diff, 1), nil
}

func cosineGonum(a, b []float64) (float64, error) {
	n := len(a)
	if n != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(a), len(b))
	}
	na := gonumEngine.Dnrm2(n, a, 1)
	nb := gonumEngine.Dnrm2(n, b, 1)
	if na == 0 || nb == 0 {
		return 0, ErrZeroVector
	}
	sim := gonumEngine.Ddot(n, a, 1, b, 1) / (na * nb)
	if sim > 1.0 {
		sim = 1.0
	}
	if sim < -1.0 {
		sim = -1.0
	}
	return 1.0 - sim, nil
}
