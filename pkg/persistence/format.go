// Package persistence serializes the index to a versioned binary snapshot
// with an integrity checksum, and restores it.
//
// File layout (little endian):
//
//	header:  magic u32 | version u32 | m u32 | ef_construction u32 |
//	         metric u8 | dimensions u32 | node_count u64 | checksum u64
//	records: node_count times
//	         id u64 | layer u32 | vector dimensions×f64 |
//	         metadata_len u32 | metadata bytes |
//	         per layer 0..layer: neighbor_count u32 | neighbor_ids u64…
//
// The checksum is the 64-bit xxHash of the header (excluding the checksum
// field itself) followed by the full record stream. It is patched into the
// header after the records have been written.
package persistence

import (
	"errors"
	"fmt"

	"github.com/sanonone/patterndb/pkg/core/vmath"
)

const (
	// MagicNumber identifies patterndb snapshot files (ASCII "PDX1").
	MagicNumber uint32 = 0x50445831
	// FormatVersion is the current snapshot format version.
	FormatVersion uint32 = 1

	// headerSize is the fixed byte length of the header.
	headerSize = 37
	// checksumOffset is where the checksum field sits inside the header.
	checksumOffset = 29
)

// Metric wire codes.
const (
	metricEuclidean uint8 = 1
	metricCosine    uint8 = 2
)

var (
	// ErrCorrupted is the umbrella error for any snapshot that cannot be
	// trusted. The specific errors below all match it via errors.Is.
	ErrCorrupted = errors.New("persistence: snapshot corrupted")

	ErrInvalidMagic     = fmt.Errorf("%w: invalid magic number", ErrCorrupted)
	ErrInvalidVersion   = fmt.Errorf("%w: unsupported format version", ErrCorrupted)
	ErrChecksumMismatch = fmt.Errorf("%w: checksum mismatch", ErrCorrupted)
	ErrTruncated        = fmt.Errorf("%w: truncated record stream", ErrCorrupted)
)

// Sanity caps applied while decoding, so a corrupted length field fails fast
// instead of triggering a giant allocation before the checksum catches it.
const (
	maxMetadataLen  = 1 << 28 // 256 MiB
	maxNeighborsLen = 1 << 24
	maxLayer        = 1 << 16
)

func metricToByte(m vmath.Metric) (uint8, error) {
	switch m {
	case vmath.Euclidean:
		return metricEuclidean, nil
	case vmath.Cosine:
		return metricCosine, nil
	default:
		return 0, fmt.Errorf("%w: %q", vmath.ErrUnsupportedMetric, m)
	}
}

func metricFromByte(b uint8) (vmath.Metric, error) {
	switch b {
	case metricEuclidean:
		return vmath.Euclidean, nil
	case metricCosine:
		return vmath.Cosine, nil
	default:
		return "", fmt.Errorf("%w: unknown metric code %d", ErrCorrupted, b)
	}
}
