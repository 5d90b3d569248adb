package storage

import (
	"fmt"
	"math/rand"
	"path/filepath"
	"sync"
	"testing"

	"github.com/Pauli-Group/Hegemon-sub002/common"
	"github.com/Pauli-Group/Hegemon-sub002/da"
	"github.com/Pauli-Group/Hegemon-sub002/daerrors"
	"github.com/stretchr/testify/require"
)

var testParams = da.Params{ChunkSize: 64, SampleCount: 4}

func blockHash(height uint64) common.Hash {
	return common.BytesToHash([]byte(fmt.Sprintf("block-%d", height)))
}

func encodeRandom(t *testing.T, seed int64, n int) *da.Encoding {
	t.Helper()
	blob := make([]byte, n)
	rand.New(rand.NewSource(seed)).Read(blob)
	enc, err := da.EncodeBlob(blob, testParams)
	require.NoError(t, err)
	return enc
}

func newMemStore(t *testing.T) *RetentionStore {
	t.Helper()
	kv, err := NewMemoryPersistenceStore()
	require.NoError(t, err)
	s := NewRetentionStore(kv, 2)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRetentionPutGet(t *testing.T) {
	for name, kv := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			s := NewRetentionStore(kv, 0)
			enc := encodeRandom(t, 1, testParams.MaxPageBytes()+100)

			stored, err := s.Put(blockHash(1), 1, enc)
			require.NoError(t, err)
			require.True(t, stored)
			stored, err = s.Put(blockHash(1), 1, enc)
			require.NoError(t, err)
			require.False(t, stored)

			err = enc.ForEachProof(func(want *da.MultiChunkProof) error {
				got, err := s.Get(enc.Root(), want.Index)
				require.NoError(t, err)
				require.Equal(t, []byte(want.Chunk.Data), []byte(got.Chunk.Data))
				return da.VerifyMultiChunk(enc.Root(), got)
			})
			require.NoError(t, err)

			root, height, err := s.RootByBlock(blockHash(1))
			require.NoError(t, err)
			require.Equal(t, enc.Root(), root)
			require.Equal(t, uint64(1), height)

			info, err := s.Info(enc.Root())
			require.NoError(t, err)
			require.Equal(t, enc.Layout().TotalChunks(), info.Chunks)
			layout, err := info.Layout()
			require.NoError(t, err)
			require.Equal(t, enc.Layout().TotalChunks(), layout.TotalChunks())

			require.Equal(t, uint64(1), s.Metrics().DuplicatePuts())
		})
	}
}

func TestRetentionMissesAreDistinguished(t *testing.T) {
	s := newMemStore(t)
	enc := encodeRandom(t, 2, 500)
	_, err := s.Put(blockHash(1), 1, enc)
	require.NoError(t, err)

	_, err = s.Get(enc.Root(), uint32(enc.Layout().TotalChunks()))
	require.ErrorIs(t, err, daerrors.ErrSUnknownChunk)

	_, err = s.Get(common.Blake3_384([]byte("never")), 0)
	require.ErrorIs(t, err, daerrors.ErrSUnknownRoot)

	_, _, err = s.RootByBlock(blockHash(99))
	require.ErrorIs(t, err, daerrors.ErrSUnknownRoot)

	_, err = s.Prune(10, 5)
	require.NoError(t, err)
	_, err = s.Get(enc.Root(), 0)
	require.ErrorIs(t, err, daerrors.ErrSPruned)
	_, err = s.Info(enc.Root())
	require.ErrorIs(t, err, daerrors.ErrSPruned)
}

func TestRetentionPruningWindow(t *testing.T) {
	const N, W = 20, 5
	for name, kv := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			s := NewRetentionStore(kv, 2)
			roots := make(map[uint64]common.Hash48)
			for h := uint64(0); h <= N; h++ {
				enc := encodeRandom(t, int64(h)+100, 300)
				_, err := s.Put(blockHash(h), h, enc)
				require.NoError(t, err)
				roots[h] = enc.Root()
			}

			stats, err := s.Prune(N, W)
			require.NoError(t, err)
			require.Equal(t, uint64(N-W), stats.Cutoff)
			require.Equal(t, N-W, stats.Blocks)
			require.Equal(t, N-W, stats.Roots)
			require.Len(t, stats.Dropped, N-W)
			require.Contains(t, stats.Dropped, blockHash(0))
			require.NotContains(t, stats.Dropped, blockHash(N-W))

			_, err = s.Get(roots[N-W-1], 0)
			require.ErrorIs(t, err, daerrors.ErrSPruned)
			_, err = s.Info(roots[0])
			require.ErrorIs(t, err, daerrors.ErrSPruned)
			_, _, err = s.RootByBlock(blockHash(N - W - 1))
			require.ErrorIs(t, err, daerrors.ErrSUnknownRoot)
			for h := uint64(N - W); h <= N; h++ {
				_, err := s.Get(roots[h], 0)
				require.NoError(t, err, "height %d", h)
			}

			again, err := s.Prune(N, W)
			require.NoError(t, err)
			require.Zero(t, again.Blocks)
			require.Empty(t, again.Dropped)

			st, err := s.Stats()
			require.NoError(t, err)
			require.Equal(t, W+1, st.Roots)
			require.Equal(t, W+1, st.Blocks)
			require.Equal(t, N-W, st.Tombstones)
		})
	}
}

func TestRetentionPruneBelowWindowIsNoop(t *testing.T) {
	s := newMemStore(t)
	_, err := s.Put(blockHash(0), 0, encodeRandom(t, 3, 10))
	require.NoError(t, err)
	stats, err := s.Prune(3, 5)
	require.NoError(t, err)
	require.Zero(t, stats.Blocks)
	stats, err = s.Prune(5, 5)
	require.NoError(t, err)
	require.Zero(t, stats.Blocks)
}

func TestRetentionSharedRootSurvivesWhileReferenced(t *testing.T) {
	for name, kv := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			s := NewRetentionStore(kv, 2)
			empty, err := da.EncodeBlob(nil, testParams)
			require.NoError(t, err)
			for h := uint64(1); h <= 10; h++ {
				_, err := s.Put(blockHash(h), h, empty)
				require.NoError(t, err)
			}
			stats, err := s.Prune(10, 3)
			require.NoError(t, err)
			require.Equal(t, 6, stats.Blocks)
			require.Zero(t, stats.Roots)

			_, err = s.Get(empty.Root(), 1)
			require.NoError(t, err)
			_, _, err = s.RootByBlock(blockHash(2))
			require.ErrorIs(t, err, daerrors.ErrSUnknownRoot)

			stats, err = s.Prune(100, 3)
			require.NoError(t, err)
			require.Equal(t, 1, stats.Roots)
			_, err = s.Get(empty.Root(), 1)
			require.ErrorIs(t, err, daerrors.ErrSPruned)

			// a later block with the same content brings the root back
			_, err = s.Put(blockHash(200), 200, empty)
			require.NoError(t, err)
			_, err = s.Get(empty.Root(), 1)
			require.NoError(t, err)

			st, err := s.Stats()
			require.NoError(t, err)
			require.Zero(t, st.Tombstones)
		})
	}
}

func TestRetentionSurvivesRestart(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "store")
	kv, err := NewPersistenceStore(dir)
	require.NoError(t, err)
	s := NewRetentionStore(kv, 0)
	enc := encodeRandom(t, 4, 4000)
	_, err = s.Put(blockHash(7), 7, enc)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	kv, err = NewPersistenceStore(dir)
	require.NoError(t, err)
	s = NewRetentionStore(kv, 0)
	defer s.Close()
	p, err := s.Get(enc.Root(), 3)
	require.NoError(t, err)
	require.NoError(t, da.VerifyMultiChunk(enc.Root(), p))
	root, _, err := s.RootByBlock(blockHash(7))
	require.NoError(t, err)
	require.Equal(t, enc.Root(), root)
}

func TestRetentionConcurrentReadsDuringPrune(t *testing.T) {
	s := newMemStore(t)
	var roots []common.Hash48
	for h := uint64(0); h < 30; h++ {
		enc := encodeRandom(t, int64(h)+500, 700)
		_, err := s.Put(blockHash(h), h, enc)
		require.NoError(t, err)
		roots = append(roots, enc.Root())
	}

	var wg sync.WaitGroup
	errs := make(chan error, 1000)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				root := roots[(i*7+j)%len(roots)]
				p, err := s.Get(root, uint32(j%5))
				if err != nil {
					if daerrors.KindOf(err) != daerrors.KindStore || daerrors.GetErrorName(err) != "Pruned" {
						errs <- err
					}
					continue
				}
				if err := da.VerifyMultiChunk(root, p); err != nil {
					errs <- err
				}
			}
		}(i)
	}
	for cur := uint64(5); cur < 40; cur += 5 {
		_, err := s.Prune(cur, 2)
		require.NoError(t, err)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("unexpected read result during prune: %v", err)
	}
}

func TestRetentionPutProofs(t *testing.T) {
	s := newMemStore(t)
	enc := encodeRandom(t, 9, 1000)
	var proofs []*da.MultiChunkProof
	require.NoError(t, enc.ForEachProof(func(p *da.MultiChunkProof) error {
		proofs = append(proofs, p)
		return nil
	}))

	_, err := s.PutProofs(blockHash(1), 1, enc.Root(), enc.DataLen(), testParams, proofs[1:])
	require.ErrorIs(t, err, daerrors.ErrEInvalidParams)

	forged, err := da.MultiChunkProofFromBytes(proofs[0].ToBytes())
	require.NoError(t, err)
	forged.Chunk.Data[0] ^= 1
	bad := append([]*da.MultiChunkProof{forged}, proofs[1:]...)
	_, err = s.PutProofs(blockHash(1), 1, enc.Root(), enc.DataLen(), testParams, bad)
	require.Equal(t, daerrors.KindProof, daerrors.KindOf(err))

	// same chunk count, different page length
	_, err = s.PutProofs(blockHash(1), 1, enc.Root(), enc.DataLen()-1, testParams, proofs)
	require.ErrorIs(t, err, daerrors.ErrEInvalidParams)
	_, _, err = s.RootByBlock(blockHash(1))
	require.ErrorIs(t, err, daerrors.ErrSUnknownRoot)
	_, err = s.Info(enc.Root())
	require.ErrorIs(t, err, daerrors.ErrSUnknownRoot)

	stored, err := s.PutProofs(blockHash(1), 1, enc.Root(), enc.DataLen(), testParams, proofs)
	require.NoError(t, err)
	require.True(t, stored)
	_, err = s.Get(enc.Root(), proofs[len(proofs)-1].Index)
	require.NoError(t, err)
}
