package engine

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanonone/patterndb/pkg/core/vmath"
)

func TestLoadOptionsYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
data_dir: /var/lib/patterndb
snapshot_filename: vectors.snap
auto_save_interval: 90s
auto_save_threshold: 500
max_pending_writes: 256
index:
  dimensions: 768
  metric: cosine
  m: 32
  ef_construction: 400
  ef_search: 150
  max_elements: 1000000
  eviction_enabled: true
`), 0o644))

	opts, err := LoadOptions(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/patterndb", opts.DataDir)
	assert.Equal(t, "vectors.snap", opts.SnapshotFilename)
	assert.Equal(t, 90*time.Second, time.Duration(opts.AutoSaveInterval))
	assert.Equal(t, int64(500), opts.AutoSaveThreshold)
	assert.Equal(t, 256, opts.MaxPendingWrites)
	assert.Equal(t, 768, opts.Index.Dimensions)
	assert.Equal(t, vmath.Cosine, opts.Index.Metric)
	assert.Equal(t, 32, opts.Index.M)
	assert.Equal(t, uint64(1000000), opts.Index.MaxElements)
	assert.True(t, opts.Index.EvictionEnabled)
}

func TestLoadOptionsNanosecondDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("auto_save_interval: 1000000000\n"), 0o644))

	opts, err := LoadOptions(path)
	require.NoError(t, err)
	assert.Equal(t, time.Second, time.Duration(opts.AutoSaveInterval))
}

func TestLoadOptionsErrors(t *testing.T) {
	_, err := LoadOptions(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("auto_save_interval: [not, a, duration]\n"), 0o644))
	_, err = LoadOptions(path)
	assert.Error(t, err)
}

func TestDefaultsApplied(t *testing.T) {
	opts := Options{}.withDefaults()
	assert.Equal(t, "patterndb.snap", opts.SnapshotFilename)
	assert.Equal(t, 1024, opts.MaxPendingWrites)
}
