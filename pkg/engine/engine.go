// Package engine ties the pieces together behind a single facade: it owns the
// index, funnels all writes through one writer goroutine, serves concurrent
// reads, and manages snapshot persistence with automatic recovery.
package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sanonone/patterndb/pkg/core/flat"
	"github.com/sanonone/patterndb/pkg/core/hnsw"
	"github.com/sanonone/patterndb/pkg/metrics"
	"github.com/sanonone/patterndb/pkg/persistence"
)

// Engine is the public entry point. All methods are safe for concurrent use:
// writes are serialized through an internal queue, reads go straight to the
// index.
type Engine struct {
	opts     Options
	snapPath string // empty when persistence is disabled

	idx      *hnsw.Index
	fallback *flat.Index // non-nil only in degraded mode
	degraded bool

	writeCh    chan *writeRequest
	writerDone chan struct{}
	closed     chan struct{}
	closeOnce  sync.Once
	wg         sync.WaitGroup

	// dirtyWrites counts applied writes since the last successful save.
	dirtyWrites atomic.Int64

	// adminMu serializes Save and the autosave check.
	adminMu      sync.Mutex
	lastSaveTime time.Time

	// evictionsSeen mirrors the index eviction counter into Prometheus.
	evictionsSeen uint64

	// beforeApply, when set, runs in the writer goroutine just before each
	// write is applied. Tests use it to hold the writer still.
	beforeApply func()
}

type writeRequest struct {
	vector   []float64
	metadata []byte
	done     chan writeResult
}

type writeResult struct {
	id  uint64
	err error
}

// Open creates or restores an engine. With a DataDir configured it loads the
// snapshot, falling back to the .bak rotation and then to vector salvage when
// the primary is corrupted. Salvage puts the engine into degraded mode:
// queries are served by a linear scan until the operator rebuilds the index.
func Open(opts Options) (*Engine, error) {
	opts = opts.withDefaults()
	if err := opts.Index.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		opts:       opts,
		writeCh:    make(chan *writeRequest, opts.MaxPendingWrites),
		writerDone: make(chan struct{}),
		closed:     make(chan struct{}),
	}

	if opts.DataDir != "" {
		if err := os.MkdirAll(opts.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("engine: create data dir: %w", err)
		}
		e.snapPath = filepath.Join(opts.DataDir, opts.SnapshotFilename)
		if err := e.restore(); err != nil {
			return nil, err
		}
	} else {
		idx, err := hnsw.New(opts.Index)
		if err != nil {
			return nil, err
		}
		e.idx = idx
	}

	if e.degraded {
		metrics.DegradedMode.Set(1)
	} else {
		metrics.DegradedMode.Set(0)
	}
	metrics.VectorsTotal.Set(float64(e.count()))
	e.lastSaveTime = time.Now()

	e.wg.Add(2)
	go e.writerLoop()
	go e.backgroundTasks()

	slog.Info("engine open",
		"data_dir", opts.DataDir,
		"vectors", e.count(),
		"degraded", e.degraded)
	return e, nil
}

// restore loads the snapshot chain: primary, then backup, then salvage.
func (e *Engine) restore() error {
	idx, err := persistence.Load(e.snapPath, e.opts.Index)
	if err == nil {
		e.idx = idx
		return nil
	}
	if errors.Is(err, os.ErrNotExist) {
		// A crash between Save's rotation and the replacement write leaves
		// no primary but a valid backup. Check it before starting empty.
		if bak := e.loadBackup(); bak != nil {
			e.idx = bak
			return nil
		}
		e.idx, err = hnsw.New(e.opts.Index)
		return err
	}
	if !errors.Is(err, persistence.ErrCorrupted) {
		return fmt.Errorf("engine: load snapshot: %w", err)
	}
	slog.Error("snapshot corrupted, trying backup", "path", e.snapPath, "error", err)

	if bak := e.loadBackup(); bak != nil {
		e.idx = bak
		return nil
	}

	// Last resort: recover the intact record prefix and serve it from a
	// brute-force scan. Better degraded answers than no answers.
	salvaged, salvageErr := persistence.Salvage(e.snapPath)
	if salvageErr != nil || len(salvaged.Records) == 0 {
		slog.Error("salvage failed, starting empty", "path", e.snapPath, "error", salvageErr)
		idx, newErr := hnsw.New(e.opts.Index)
		if newErr != nil {
			return newErr
		}
		e.idx = idx
		return nil
	}

	metric := salvaged.Metric
	if e.opts.Index.Metric != "" {
		metric = e.opts.Index.Metric
	}
	fb, fbErr := flat.New(metric, salvaged.Dimensions)
	if fbErr != nil {
		return fbErr
	}
	for _, rec := range salvaged.Records {
		if addErr := fb.Add(flat.Entry{ID: rec.ID, Vector: rec.Vector, Metadata: rec.Metadata}); addErr != nil {
			continue
		}
	}
	slog.Warn("serving salvaged vectors in degraded mode",
		"path", e.snapPath,
		"recovered", fb.Count())
	e.fallback = fb
	e.degraded = true
	return nil
}

// loadBackup tries the .bak rotation. Nil means no usable backup; a missing
// backup is expected, anything else is logged.
func (e *Engine) loadBackup() *hnsw.Index {
	bakPath := e.snapPath + ".bak"
	idx, err := persistence.Load(bakPath, e.opts.Index)
	if err == nil {
		slog.Warn("restored from backup snapshot", "path", bakPath)
		return idx
	}
	if !errors.Is(err, os.ErrNotExist) {
		slog.Error("backup snapshot unusable", "path", bakPath, "error", err)
	}
	return nil
}

// writerLoop is the single writer. It applies queued writes in admission
// order, and on shutdown drains everything already admitted before exiting.
func (e *Engine) writerLoop() {
	defer e.wg.Done()
	defer close(e.writerDone)

	for {
		select {
		case req := <-e.writeCh:
			e.apply(req)
		case <-e.closed:
			for {
				select {
				case req := <-e.writeCh:
					e.apply(req)
				default:
					return
				}
			}
		}
	}
}

func (e *Engine) apply(req *writeRequest) {
	if e.beforeApply != nil {
		e.beforeApply()
	}

	start := time.Now()
	var id uint64
	var err error
	if e.degraded {
		id, err = e.fallback.Insert(req.vector, req.metadata)
	} else {
		id, err = e.idx.Insert(req.vector, req.metadata)
	}

	if err == nil {
		metrics.InsertDuration.Observe(time.Since(start).Seconds())
		metrics.InsertsTotal.WithLabelValues("ok").Inc()
		metrics.VectorsTotal.Set(float64(e.count()))
		e.dirtyWrites.Add(1)
		if !e.degraded {
			if total := e.idx.EvictedTotal(); total > e.evictionsSeen {
				metrics.EvictionsTotal.Add(float64(total - e.evictionsSeen))
				e.evictionsSeen = total
			}
		}
	} else if errors.Is(err, hnsw.ErrResourceExhausted) {
		metrics.InsertsTotal.WithLabelValues("rejected").Inc()
	} else {
		metrics.InsertsTotal.WithLabelValues("error").Inc()
	}

	req.done <- writeResult{id: id, err: err}
}

// backgroundTasks drives the autosave policy on a coarse tick.
func (e *Engine) backgroundTasks() {
	defer e.wg.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.maybeAutoSave()
		case <-e.closed:
			return
		}
	}
}

func (e *Engine) maybeAutoSave() {
	if e.snapPath == "" || e.degraded {
		return
	}
	interval := time.Duration(e.opts.AutoSaveInterval)
	threshold := e.opts.AutoSaveThreshold
	if interval <= 0 || threshold <= 0 {
		return
	}

	e.adminMu.Lock()
	due := e.dirtyWrites.Load() >= threshold && time.Since(e.lastSaveTime) >= interval
	e.adminMu.Unlock()
	if !due {
		return
	}

	if err := e.Save(); err != nil {
		slog.Error("automatic snapshot failed", "path", e.snapPath, "error", err)
	}
}

// Save snapshots the index to the configured path. The previous snapshot is
// rotated to .bak first, so a corrupted write never destroys the last good
// state. No-op without a DataDir; unavailable in degraded mode because a
// salvaged flat scan has no graph worth persisting.
func (e *Engine) Save() error {
	if e.snapPath == "" {
		return nil
	}
	if e.degraded {
		return ErrDegraded
	}

	e.adminMu.Lock()
	defer e.adminMu.Unlock()

	pending := e.dirtyWrites.Load()
	start := time.Now()
	snap := e.idx.Snapshot()

	if _, err := os.Stat(e.snapPath); err == nil {
		if err := os.Rename(e.snapPath, e.snapPath+".bak"); err != nil {
			slog.Warn("could not rotate backup snapshot", "path", e.snapPath, "error", err)
		}
	}

	if err := persistence.Save(e.snapPath, snap); err != nil {
		metrics.SnapshotFailures.Inc()
		return err
	}

	elapsed := time.Since(start)
	metrics.SnapshotDuration.Observe(elapsed.Seconds())
	// Writes applied while serializing stay dirty for the next save.
	e.dirtyWrites.Add(-pending)
	e.lastSaveTime = time.Now()
	slog.Info("snapshot saved", "path", e.snapPath, "nodes", len(snap.Nodes), "took", elapsed)
	return nil
}

// SaveTo snapshots the index to an explicit path, without backup rotation or
// dirty-counter accounting. Useful for ad hoc exports.
func (e *Engine) SaveTo(path string) error {
	if e.degraded {
		return ErrDegraded
	}
	start := time.Now()
	snap := e.idx.Snapshot()
	if err := persistence.Save(path, snap); err != nil {
		metrics.SnapshotFailures.Inc()
		return err
	}
	metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
	return nil
}

// Close stops accepting writes, drains everything already admitted, saves a
// final snapshot if there are unsaved writes, and shuts down the background
// goroutines. Safe to call more than once.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		close(e.closed)
		e.wg.Wait()

		if e.snapPath != "" && !e.degraded && e.dirtyWrites.Load() > 0 {
			err = e.Save()
		}
		slog.Info("engine closed", "vectors", e.count())
	})
	return err
}

func (e *Engine) count() uint64 {
	if e.degraded {
		return e.fallback.Count()
	}
	return e.idx.Count()
}
