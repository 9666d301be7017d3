package engine

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sanonone/patterndb/pkg/core/hnsw"
)

// Duration wraps time.Duration so YAML configs can use readable values like
// "90s" or "5m" as well as raw nanosecond integers.
type Duration time.Duration

// UnmarshalYAML implements custom decoding for both forms.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw any
	if err := value.Decode(&raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case int:
		*d = Duration(time.Duration(v))
		return nil
	case float64:
		*d = Duration(time.Duration(v))
		return nil
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*d = Duration(parsed)
		return nil
	default:
		return fmt.Errorf("invalid duration %q", value.Value)
	}
}

// MarshalYAML serializes the duration back to a readable string.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Options configures an Engine instance: persistence location, autosave
// policy, writer-queue bound and the index parameters themselves.
type Options struct {
	// DataDir is where the snapshot (and its .bak rotation) live. Empty
	// means a purely in-memory index with persistence disabled.
	DataDir string `yaml:"data_dir"`

	// SnapshotFilename is the snapshot file name inside DataDir
	// (default "patterndb.snap").
	SnapshotFilename string `yaml:"snapshot_filename"`

	// AutoSaveInterval is the minimum time between automatic snapshots.
	// 0 disables time-based autosaving.
	AutoSaveInterval Duration `yaml:"auto_save_interval"`

	// AutoSaveThreshold is the number of writes that must accumulate before
	// an automatic snapshot is taken. 0 disables count-based autosaving.
	AutoSaveThreshold int64 `yaml:"auto_save_threshold"`

	// MaxPendingWrites bounds the writer queue. Inserts beyond it are
	// rejected immediately with ErrBackpressure (default 1024).
	MaxPendingWrites int `yaml:"max_pending_writes"`

	// Index holds the HNSW parameters.
	Index hnsw.Params `yaml:"index"`
}

// DefaultOptions returns a configuration suitable for most uses: autosave
// every 60s once 1000 writes accumulated, a 1024-deep writer queue.
func DefaultOptions(dataDir string) Options {
	return Options{
		DataDir:           dataDir,
		SnapshotFilename:  "patterndb.snap",
		AutoSaveInterval:  Duration(60 * time.Second),
		AutoSaveThreshold: 1000,
		MaxPendingWrites:  1024,
	}
}

func (o Options) withDefaults() Options {
	if o.SnapshotFilename == "" {
		o.SnapshotFilename = "patterndb.snap"
	}
	if o.MaxPendingWrites <= 0 {
		o.MaxPendingWrites = 1024
	}
	return o
}

// LoadOptions reads Options from a YAML file.
func LoadOptions(path string) (Options, error) {
	var opts Options
	data, err := os.ReadFile(path)
	if err != nil {
		return opts, fmt.Errorf("engine: read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return opts, fmt.Errorf("engine: parse config: %w", err)
	}
	return opts, nil
}
