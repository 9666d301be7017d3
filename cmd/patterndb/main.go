// Command patterndb is a small operational tool around the engine: bulk-load
// vectors from a JSONL file, probe the index with a query vector, print
// stats, and leave a snapshot behind for the next run.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sanonone/patterndb/pkg/core/vmath"
	"github.com/sanonone/patterndb/pkg/engine"
)

type loadRecord struct {
	Vector   []float64       `json:"vector"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

func main() {
	var (
		dataDir    = flag.String("data", "./data", "data directory for snapshots")
		configPath = flag.String("config", "", "optional YAML config file")
		dims       = flag.Int("dims", 0, "vector dimensionality (required unless set in config)")
		metric     = flag.String("metric", "cosine", "distance metric: cosine or euclidean")
		loadPath   = flag.String("load", "", "bulk-load vectors from a JSONL file")
		probe      = flag.String("probe", "", "query vector as comma-separated floats")
		k          = flag.Int("k", 10, "number of neighbors to return")
		ef         = flag.Int("ef", 0, "search beam width, 0 uses the configured default")
		showStats  = flag.Bool("stats", false, "print index stats as JSON")
		logLevel   = flag.String("log-level", "info", "log level: debug, info, warn, error")
	)
	flag.Parse()

	setupLogger(*logLevel)

	opts := engine.DefaultOptions(*dataDir)
	if *configPath != "" {
		loaded, err := engine.LoadOptions(*configPath)
		if err != nil {
			slog.Error("could not load config", "path", *configPath, "error", err)
			os.Exit(1)
		}
		opts = loaded
	}
	if opts.Index.Dimensions == 0 {
		opts.Index.Dimensions = *dims
	}
	if opts.Index.Metric == "" {
		opts.Index.Metric = vmath.Metric(*metric)
	}

	e, err := engine.Open(opts)
	if err != nil {
		slog.Error("could not open engine", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := e.Close(); err != nil {
			slog.Error("close failed", "error", err)
		}
	}()

	ctx := context.Background()

	if *loadPath != "" {
		if err := bulkLoad(ctx, e, *loadPath); err != nil {
			slog.Error("bulk load failed", "path", *loadPath, "error", err)
			os.Exit(1)
		}
	}

	if *probe != "" {
		query, err := parseVector(*probe)
		if err != nil {
			slog.Error("invalid probe vector", "error", err)
			os.Exit(1)
		}
		runProbe(ctx, e, query, *k, *ef)
	}

	if *showStats {
		printStats(e)
	}
}

func setupLogger(level string) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

// bulkLoad streams a JSONL file into the engine with a small worker pool. The
// workers retry on backpressure instead of failing the load.
func bulkLoad(ctx context.Context, e *engine.Engine, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	start := time.Now()
	lines := make(chan []byte, 256)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(lines)
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 1<<20), 1<<24)
		for scanner.Scan() {
			line := make([]byte, len(scanner.Bytes()))
			copy(line, scanner.Bytes())
			select {
			case lines <- line:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return scanner.Err()
	})

	var loaded atomic.Int64
	for w := 0; w < runtime.GOMAXPROCS(0); w++ {
		g.Go(func() error {
			for line := range lines {
				if len(strings.TrimSpace(string(line))) == 0 {
					continue
				}
				var rec loadRecord
				if err := json.Unmarshal(line, &rec); err != nil {
					return fmt.Errorf("bad record: %w", err)
				}
				for {
					_, err := e.Insert(gctx, rec.Vector, rec.Metadata)
					if err == nil {
						loaded.Add(1)
						break
					}
					if errors.Is(err, engine.ErrBackpressure) {
						time.Sleep(time.Millisecond)
						continue
					}
					return err
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("bulk load complete",
		"path", path,
		"loaded", loaded.Load(),
		"took", time.Since(start))
	return nil
}

func runProbe(ctx context.Context, e *engine.Engine, query []float64, k, ef int) {
	start := time.Now()
	results, err := e.Search(ctx, query, k, ef)
	if err != nil {
		slog.Error("search failed", "error", err)
		os.Exit(1)
	}
	slog.Info("probe complete", "hits", len(results), "took", time.Since(start))
	for i, r := range results {
		meta := ""
		if len(r.Metadata) > 0 {
			meta = string(r.Metadata)
		}
		fmt.Printf("%2d  id=%d  distance=%.6f  %s\n", i+1, r.ID, r.Distance, meta)
	}
}

func printStats(e *engine.Engine) {
	out, err := json.MarshalIndent(e.Stats(), "", "  ")
	if err != nil {
		slog.Error("could not encode stats", "error", err)
		return
	}
	fmt.Println(string(out))
}

func parseVector(s string) ([]float64, error) {
	parts := strings.Split(s, ",")
	vec := make([]float64, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, err
		}
		vec = append(vec, v)
	}
	return vec, nil
}
