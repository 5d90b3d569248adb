package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openBackends(t *testing.T) map[string]KV {
	t.Helper()
	mem, err := NewMemoryPersistenceStore()
	require.NoError(t, err)
	bolt, err := NewBoltStore(filepath.Join(t.TempDir(), "da.bolt"))
	require.NoError(t, err)
	t.Cleanup(func() {
		mem.Close()
		bolt.Close()
	})
	return map[string]KV{"leveldb": mem, "bolt": bolt}
}

func TestKVBasicOperations(t *testing.T) {
	for name, kv := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, kv.Update(func(_ Reader, w Writer) error {
				require.NoError(t, w.Put([]byte("a1"), []byte("one")))
				require.NoError(t, w.Put([]byte("a2"), []byte("two")))
				return w.Put([]byte("b1"), []byte("three"))
			}))

			got, found, err := kv.Get([]byte("a1"))
			require.NoError(t, err)
			require.True(t, found)
			require.Equal(t, []byte("one"), got)

			_, found, err = kv.Get([]byte("zz"))
			require.NoError(t, err)
			require.False(t, found)

			var keys []string
			require.NoError(t, kv.Iterate([]byte("a"), func(k, _ []byte) bool {
				keys = append(keys, string(k))
				return true
			}))
			require.Equal(t, []string{"a1", "a2"}, keys)

			require.NoError(t, kv.Update(func(_ Reader, w Writer) error {
				return w.Delete([]byte("a1"))
			}))
			ok, err := kv.Has([]byte("a1"))
			require.NoError(t, err)
			require.False(t, ok)
		})
	}
}

func TestKVUpdateReadsCommittedState(t *testing.T) {
	for name, kv := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, kv.Update(func(r Reader, w Writer) error {
				require.NoError(t, w.Put([]byte("k"), []byte("v")))
				ok, err := r.Has([]byte("k"))
				require.NoError(t, err)
				require.False(t, ok)
				return nil
			}))
			ok, err := kv.Has([]byte("k"))
			require.NoError(t, err)
			require.True(t, ok)
		})
	}
}

func TestKVViewIsSnapshot(t *testing.T) {
	kv, err := NewMemoryPersistenceStore()
	require.NoError(t, err)
	defer kv.Close()
	require.NoError(t, kv.Update(func(_ Reader, w Writer) error {
		return w.Put([]byte("k"), []byte("old"))
	}))

	require.NoError(t, kv.View(func(r Reader) error {
		require.NoError(t, kv.Update(func(_ Reader, w Writer) error {
			return w.Delete([]byte("k"))
		}))
		v, found, err := r.Get([]byte("k"))
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, []byte("old"), v)
		return nil
	}))
	_, found, err := kv.Get([]byte("k"))
	require.NoError(t, err)
	require.False(t, found)
}

func TestPersistenceStoreReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	ps, err := NewPersistenceStore(dir)
	require.NoError(t, err)
	require.NoError(t, ps.Update(func(_ Reader, w Writer) error {
		return w.Put([]byte("durable"), []byte("yes"))
	}))
	require.NoError(t, ps.Close())

	ps, err = NewPersistenceStore(dir)
	require.NoError(t, err)
	defer ps.Close()
	v, found, err := ps.Get([]byte("durable"))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("yes"), v)
}
