package node

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `{
		"nodename": "alice",
		"datadir": "/tmp/alice",
		"store_engine": "bolt",
		"chunk_size": 512,
		"hot_window": 64,
		"sample_timeout": "750ms",
		"prune_interval": 5000000000,
		"peers": ["127.0.0.1:40001"]
	}`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "alice", cfg.NodeName)
	require.Equal(t, EngineBolt, cfg.StoreEngine)
	require.Equal(t, uint32(512), cfg.Params().ChunkSize)
	require.Equal(t, DefaultConfig().SampleCount, cfg.SampleCount)
	require.Equal(t, uint64(64), cfg.HotWindow)
	require.Equal(t, 750*time.Millisecond, cfg.SampleTimeout.D())
	require.Equal(t, 5*time.Second, cfg.PruneInterval.D())
	require.Equal(t, 750*time.Millisecond, cfg.SamplingConfig().Timeout)
	require.Contains(t, cfg.String(), `"sample_timeout": "750ms"`)
}

func TestLoadConfigErrors(t *testing.T) {
	tests := map[string]string{
		"unknown field":     `{"nodename": "x", "bogus": 1}`,
		"bad duration":      `{"sample_timeout": "soon"}`,
		"zero chunk size":   `{"chunk_size": 0}`,
		"engine no datadir": `{"store_engine": "leveldb"}`,
		"unknown engine":    `{"store_engine": "rocksdb", "datadir": "/tmp/x"}`,
		"negative batch":    `{"prune_batch": -1}`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, body))
			require.Error(t, err)
		})
	}
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}

func TestPersistentEngines(t *testing.T) {
	for _, engine := range []string{EngineLevelDB, EngineBolt} {
		t.Run(engine, func(t *testing.T) {
			cfg := testConfig()
			cfg.StoreEngine = engine
			cfg.DataDir = t.TempDir()
			n, err := NewNode(cfg)
			require.NoError(t, err)
			blk, err := n.ProduceBlock(testBlockHash(30), 1, testTxs(30, 2, 1))
			require.NoError(t, err)
			n.Stop()

			reopened, err := NewNode(cfg)
			require.NoError(t, err)
			defer reopened.Stop()
			root, _, err := reopened.Store().RootByBlock(blk.Hash)
			require.NoError(t, err)
			require.Equal(t, blk.DaRoot, root)
		})
	}
}
