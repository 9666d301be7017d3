package persistence

import (
	"bufio"
	"io"
	"os"

	"github.com/sanonone/patterndb/pkg/core/vmath"
)

// SalvagedRecord is one vector recovered from a damaged snapshot. Graph
// topology is deliberately not salvaged: neighbor lists from an untrusted
// file are worthless, the vectors themselves are not.
type SalvagedRecord struct {
	ID       uint64
	Vector   []float64
	Metadata []byte
}

// SalvageResult is whatever could be recovered from a corrupted snapshot.
type SalvageResult struct {
	Metric     vmath.Metric
	Dimensions int
	Records    []SalvagedRecord
}

// Salvage scans a snapshot that failed to Load and recovers the longest
// intact prefix of node records, ignoring the checksum. The caller feeds the
// result into a brute-force fallback index. Only files with a valid magic
// number are touched; anything else returns ErrInvalidMagic.
func Salvage(path string) (*SalvageResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	br := bufio.NewReaderSize(f, 1<<16)

	header := make([]byte, headerSize)
	if _, err := io.ReadFull(br, header); err != nil {
		return nil, ErrInvalidMagic
	}
	meta, _, err := parseHeader(header)
	if err != nil {
		return nil, err
	}

	res := &SalvageResult{
		Metric:     meta.Metric,
		Dimensions: meta.Dimensions,
	}
	for i := uint64(0); i < meta.count; i++ {
		node, err := readNodeRecord(br, meta.Dimensions)
		if err != nil {
			break // damaged tail, keep what we have
		}
		if len(node.Vector) != meta.Dimensions {
			break
		}
		res.Records = append(res.Records, SalvagedRecord{
			ID:       node.ID,
			Vector:   node.Vector,
			Metadata: node.Metadata,
		})
	}
	return res, nil
}
