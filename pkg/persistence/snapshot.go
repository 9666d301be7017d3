package persistence

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"github.com/sanonone/patterndb/pkg/core/hnsw"
)

// Save writes the snapshot to path atomically: the file is assembled under a
// unique temporary name in the same directory, fsynced, then renamed over
// the destination. A crash mid-save leaves the previous snapshot untouched.
func Save(path string, snap *hnsw.Snapshot) (err error) {
	tmpPath := fmt.Sprintf("%s.tmp-%s", path, uuid.NewString())

	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("persistence: create temp snapshot: %w", err)
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(tmpPath)
		}
	}()

	bw := bufio.NewWriterSize(f, 1<<16)
	digest := xxhash.New()
	// Everything except the checksum field goes through the digest.
	hashed := io.MultiWriter(bw, digest)

	metricCode, err := metricToByte(snap.Metric)
	if err != nil {
		return err
	}

	var header [checksumOffset]byte
	binary.LittleEndian.PutUint32(header[0:4], MagicNumber)
	binary.LittleEndian.PutUint32(header[4:8], FormatVersion)
	binary.LittleEndian.PutUint32(header[8:12], uint32(snap.M))
	binary.LittleEndian.PutUint32(header[12:16], uint32(snap.EfConstruction))
	header[16] = metricCode
	binary.LittleEndian.PutUint32(header[17:21], uint32(snap.Dimensions))
	binary.LittleEndian.PutUint64(header[21:29], uint64(len(snap.Nodes)))

	if _, err = hashed.Write(header[:]); err != nil {
		return err
	}
	// Checksum placeholder, patched below once the records are streamed.
	var zero [8]byte
	if _, err = bw.Write(zero[:]); err != nil {
		return err
	}

	for i := range snap.Nodes {
		if err = writeNodeRecord(hashed, &snap.Nodes[i]); err != nil {
			return fmt.Errorf("persistence: encode node %d: %w", snap.Nodes[i].ID, err)
		}
	}

	if err = bw.Flush(); err != nil {
		return err
	}

	var sum [8]byte
	binary.LittleEndian.PutUint64(sum[:], digest.Sum64())
	if _, err = f.WriteAt(sum[:], checksumOffset); err != nil {
		return err
	}

	if err = f.Sync(); err != nil {
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

// Load reads a snapshot from path, verifies its integrity and rebuilds the
// index. Structural parameters come from the file; params supplies the
// runtime knobs (EfSearch, MaxElements, Seed, eviction policy). If
// params.Dimensions or params.Metric is set, it must agree with the file.
// Any integrity failure is reported as (something wrapping) ErrCorrupted and
// never yields a half-restored index.
func Load(path string, params hnsw.Params) (*hnsw.Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	br := bufio.NewReaderSize(f, 1<<16)

	header := make([]byte, headerSize)
	if _, err := io.ReadFull(br, header); err != nil {
		return nil, fmt.Errorf("%w: short header", ErrCorrupted)
	}

	snapMeta, expectedSum, err := parseHeader(header)
	if err != nil {
		return nil, err
	}

	if params.Dimensions != 0 && params.Dimensions != snapMeta.Dimensions {
		return nil, fmt.Errorf("persistence: snapshot has %d dimensions, caller expects %d",
			snapMeta.Dimensions, params.Dimensions)
	}
	if params.Metric != "" && params.Metric != snapMeta.Metric {
		return nil, fmt.Errorf("persistence: snapshot uses metric %q, caller expects %q",
			snapMeta.Metric, params.Metric)
	}

	digest := xxhash.New()
	digest.Write(header[:checksumOffset])
	tee := io.TeeReader(br, digest)

	snap := snapMeta
	for i := uint64(0); i < snapMeta.count; i++ {
		node, err := readNodeRecord(tee, snap.Dimensions)
		if err != nil {
			return nil, err
		}
		snap.Nodes = append(snap.Nodes, *node)
	}

	if digest.Sum64() != expectedSum {
		return nil, ErrChecksumMismatch
	}
	// A trailing byte means the file does not match its own header.
	if _, err := br.ReadByte(); err != io.EOF {
		return nil, fmt.Errorf("%w: trailing data after record stream", ErrCorrupted)
	}

	idx, err := hnsw.FromSnapshot(&snap.Snapshot, params)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	return idx, nil
}

// headerMeta carries the parsed header alongside the snapshot being built.
type headerMeta struct {
	hnsw.Snapshot
	count uint64
}

func parseHeader(header []byte) (headerMeta, uint64, error) {
	var meta headerMeta

	if binary.LittleEndian.Uint32(header[0:4]) != MagicNumber {
		return meta, 0, ErrInvalidMagic
	}
	if v := binary.LittleEndian.Uint32(header[4:8]); v != FormatVersion {
		return meta, 0, fmt.Errorf("%w: got %d, supported %d", ErrInvalidVersion, v, FormatVersion)
	}

	metric, err := metricFromByte(header[16])
	if err != nil {
		return meta, 0, err
	}

	meta.M = int(binary.LittleEndian.Uint32(header[8:12]))
	meta.EfConstruction = int(binary.LittleEndian.Uint32(header[12:16]))
	meta.Metric = metric
	meta.Dimensions = int(binary.LittleEndian.Uint32(header[17:21]))
	meta.count = binary.LittleEndian.Uint64(header[21:29])
	sum := binary.LittleEndian.Uint64(header[checksumOffset : checksumOffset+8])

	if meta.Dimensions <= 0 {
		return meta, 0, fmt.Errorf("%w: non-positive dimensionality", ErrCorrupted)
	}
	return meta, sum, nil
}

func writeNodeRecord(w io.Writer, node *hnsw.NodeSnapshot) error {
	var scratch [8]byte

	binary.LittleEndian.PutUint64(scratch[:], node.ID)
	if _, err := w.Write(scratch[:8]); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(scratch[:4], uint32(node.Layer))
	if _, err := w.Write(scratch[:4]); err != nil {
		return err
	}

	for _, v := range node.Vector {
		binary.LittleEndian.PutUint64(scratch[:], math.Float64bits(v))
		if _, err := w.Write(scratch[:8]); err != nil {
			return err
		}
	}

	binary.LittleEndian.PutUint32(scratch[:4], uint32(len(node.Metadata)))
	if _, err := w.Write(scratch[:4]); err != nil {
		return err
	}
	if _, err := w.Write(node.Metadata); err != nil {
		return err
	}

	for _, conns := range node.Connections {
		binary.LittleEndian.PutUint32(scratch[:4], uint32(len(conns)))
		if _, err := w.Write(scratch[:4]); err != nil {
			return err
		}
		for _, nid := range conns {
			binary.LittleEndian.PutUint64(scratch[:], nid)
			if _, err := w.Write(scratch[:8]); err != nil {
				return err
			}
		}
	}
	return nil
}

func readNodeRecord(r io.Reader, dims int) (*hnsw.NodeSnapshot, error) {
	var scratch [8]byte

	if _, err := io.ReadFull(r, scratch[:8]); err != nil {
		return nil, ErrTruncated
	}
	id := binary.LittleEndian.Uint64(scratch[:8])

	if _, err := io.ReadFull(r, scratch[:4]); err != nil {
		return nil, ErrTruncated
	}
	layer := binary.LittleEndian.Uint32(scratch[:4])
	if layer > maxLayer {
		return nil, fmt.Errorf("%w: node %d declares layer %d", ErrCorrupted, id, layer)
	}

	vector := make([]float64, dims)
	for i := range vector {
		if _, err := io.ReadFull(r, scratch[:8]); err != nil {
			return nil, ErrTruncated
		}
		vector[i] = math.Float64frombits(binary.LittleEndian.Uint64(scratch[:8]))
	}

	if _, err := io.ReadFull(r, scratch[:4]); err != nil {
		return nil, ErrTruncated
	}
	metaLen := binary.LittleEndian.Uint32(scratch[:4])
	if metaLen > maxMetadataLen {
		return nil, fmt.Errorf("%w: node %d declares %d metadata bytes", ErrCorrupted, id, metaLen)
	}
	var metadata []byte
	if metaLen > 0 {
		metadata = make([]byte, metaLen)
		if _, err := io.ReadFull(r, metadata); err != nil {
			return nil, ErrTruncated
		}
	}

	connections := make([][]uint64, layer+1)
	for l := range connections {
		if _, err := io.ReadFull(r, scratch[:4]); err != nil {
			return nil, ErrTruncated
		}
		n := binary.LittleEndian.Uint32(scratch[:4])
		if n > maxNeighborsLen {
			return nil, fmt.Errorf("%w: node %d declares %d neighbors at layer %d", ErrCorrupted, id, n, l)
		}
		conns := make([]uint64, n)
		for j := range conns {
			if _, err := io.ReadFull(r, scratch[:8]); err != nil {
				return nil, ErrTruncated
			}
			conns[j] = binary.LittleEndian.Uint64(scratch[:8])
		}
		connections[l] = conns
	}

	return &hnsw.NodeSnapshot{
		ID:          id,
		Layer:       int(layer),
		Vector:      vector,
		Metadata:    metadata,
		Connections: connections,
	}, nil
}
