package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/Pauli-Group/Hegemon-sub002/common"
	"github.com/Pauli-Group/Hegemon-sub002/da"
	"github.com/Pauli-Group/Hegemon-sub002/daerrors"
	"github.com/Pauli-Group/Hegemon-sub002/log"
)

// DefaultPruneBatch is the number of roots deleted per atomic batch.
const DefaultPruneBatch = 64

var storeLog = log.NewModule(log.Store)

// RootInfo is the immutable per-root record written with the chunks.
type RootInfo struct {
	Root        common.Hash48 `json:"root"`
	DataLen     int           `json:"data_len"`
	Params      da.Params     `json:"params"`
	Chunks      int           `json:"chunks"`
	FirstHeight uint64        `json:"first_height"`
}

// Layout rebuilds the page layout of the root.
func (ri *RootInfo) Layout() (*da.Layout, error) {
	return da.NewLayout(ri.DataLen, ri.Params)
}

// PruneStats reports one pruning sweep.
type PruneStats struct {
	Cutoff uint64        `json:"cutoff"`
	Blocks int           `json:"blocks"`
	Roots  int           `json:"roots"`
	Chunks int           `json:"chunks"`
	Took   time.Duration `json:"took"`
	// Dropped lists the block hashes removed by the sweep.
	Dropped []common.Hash `json:"-"`
}

// StoreStats counts live records.
type StoreStats struct {
	Roots      int `json:"roots"`
	Blocks     int `json:"blocks"`
	Tombstones int `json:"tombstones"`
}

// RetentionStore keeps chunk proofs per DaRoot for the hot window.
//
// Chunk records are content addressed and written insert-if-absent. Several
// blocks may reference the same root (empty blobs do); a root and its chunks
// are deleted only when the last referencing block falls out of the window,
// and a tombstone is left so readers can tell "pruned" from "never seen".
type RetentionStore struct {
	kv         KV
	locks      *rootLocks
	pruneMu    sync.Mutex
	pruneBatch int
	metrics    *Metrics
}

func NewRetentionStore(kv KV, pruneBatch int) *RetentionStore {
	if pruneBatch <= 0 {
		pruneBatch = DefaultPruneBatch
	}
	return &RetentionStore{
		kv:         kv,
		locks:      newRootLocks(),
		pruneBatch: pruneBatch,
		metrics:    NewMetrics(),
	}
}

func (s *RetentionStore) Metrics() *Metrics {
	return s.metrics
}

func (s *RetentionStore) Close() error {
	return s.kv.Close()
}

func (s *RetentionStore) ioErr(op string, err error) error {
	s.metrics.RecordIOFailure()
	return fmt.Errorf("%w: %s: %v", daerrors.ErrSIoFailure, op, err)
}

// Put stores every chunk of enc under its root and records blockHash at
// height. It reports false when the block was already stored.
func (s *RetentionStore) Put(blockHash common.Hash, height uint64, enc *da.Encoding) (bool, error) {
	proofs := make([]*da.MultiChunkProof, 0, enc.Layout().TotalChunks())
	if err := enc.ForEachProof(func(p *da.MultiChunkProof) error {
		proofs = append(proofs, p)
		return nil
	}); err != nil {
		return false, err
	}
	info := RootInfo{
		Root:        enc.Root(),
		DataLen:     enc.DataLen(),
		Params:      enc.Params(),
		Chunks:      len(proofs),
		FirstHeight: height,
	}
	return s.put(blockHash, height, info, proofs)
}

// PutProofs stores a complete set of chunk proofs obtained elsewhere. Every
// proof is verified against root, its committed page metadata must match the
// layout of dataLen bytes, and the set must cover the whole layout.
func (s *RetentionStore) PutProofs(blockHash common.Hash, height uint64, root common.Hash48, dataLen int, params da.Params, proofs []*da.MultiChunkProof) (bool, error) {
	layout, err := da.NewLayout(dataLen, params)
	if err != nil {
		return false, err
	}
	if len(proofs) != layout.TotalChunks() {
		return false, fmt.Errorf("%w: %d proofs for %d chunks", daerrors.ErrEInvalidParams, len(proofs), layout.TotalChunks())
	}
	seen := make(map[uint32]struct{}, len(proofs))
	for _, p := range proofs {
		if err := da.VerifyMultiChunk(root, p); err != nil {
			return false, err
		}
		if !layout.Contains(p.Index) {
			return false, fmt.Errorf("%w: index %d", daerrors.ErrIIndexOutOfRange, p.Index)
		}
		page, _ := layout.Page(p.PageIndex)
		if int(p.PageDataLen) != page.DataLen || int(p.PageShardCount) != page.TotalShards() ||
			int(p.PageCount) != len(layout.Pages) {
			return false, fmt.Errorf("%w: page %d commits %d bytes in %d shards, layout for %d bytes has %d in %d",
				daerrors.ErrEInvalidParams, p.PageIndex, p.PageDataLen, p.PageShardCount, dataLen, page.DataLen, page.TotalShards())
		}
		if _, dup := seen[p.Index]; dup {
			return false, fmt.Errorf("%w: duplicate index %d", daerrors.ErrEInvalidParams, p.Index)
		}
		seen[p.Index] = struct{}{}
	}
	info := RootInfo{Root: root, DataLen: dataLen, Params: params, Chunks: len(proofs), FirstHeight: height}
	return s.put(blockHash, height, info, proofs)
}

func (s *RetentionStore) put(blockHash common.Hash, height uint64, info RootInfo, proofs []*da.MultiChunkProof) (bool, error) {
	root := info.Root
	s.locks.lock(root)
	defer s.locks.unlock(root)

	infoBytes, err := json.Marshal(info)
	if err != nil {
		return false, err
	}
	stored := false
	err = s.kv.Update(func(r Reader, w Writer) error {
		exists, err := r.Has(blockKey(blockHash))
		if err != nil {
			return s.ioErr("put", err)
		}
		if exists {
			return nil
		}
		stored = true
		w.Put(blockKey(blockHash), encodeBlockValue(root, height))
		w.Put(heightKey(height, blockHash), root[:])
		w.Put(rootRefKey(root, blockHash), binary.BigEndian.AppendUint64(nil, height))

		haveRoot, err := r.Has(rootKey(root))
		if err != nil {
			return s.ioErr("put", err)
		}
		if haveRoot {
			return nil
		}
		w.Put(rootKey(root), infoBytes)
		for _, p := range proofs {
			w.Put(chunkKey(root, p.Index), p.ToBytes())
		}
		w.Delete(tombstoneKey(root))
		return nil
	})
	if err != nil {
		if daerrors.KindOf(err) == daerrors.KindStore {
			return false, err
		}
		return false, s.ioErr("put", err)
	}
	s.metrics.RecordPut(!stored)
	if stored {
		storeLog.Debug("RetentionStore.Put", "block", blockHash.Short(), "height", height,
			"root", root.Short(), "chunks", len(proofs))
	}
	return stored, nil
}

// missErr classifies a miss inside a consistent view.
func (s *RetentionStore) missErr(r Reader, root common.Hash48, what string) error {
	known, err := r.Has(rootKey(root))
	if err != nil {
		return s.ioErr(what, err)
	}
	if known {
		return fmt.Errorf("%w: %s under %s", daerrors.ErrSUnknownChunk, what, root.Short())
	}
	pruned, err := r.Has(tombstoneKey(root))
	if err != nil {
		return s.ioErr(what, err)
	}
	if pruned {
		return fmt.Errorf("%w: %s", daerrors.ErrSPruned, root.Short())
	}
	return fmt.Errorf("%w: %s", daerrors.ErrSUnknownRoot, root.Short())
}

// Get returns the chunk and proof at global under root. A read that races a
// prune of the same root sees either the full record or ErrSPruned.
func (s *RetentionStore) Get(root common.Hash48, global uint32) (*da.MultiChunkProof, error) {
	var proof *da.MultiChunkProof
	err := s.kv.View(func(r Reader) error {
		v, ok, err := r.Get(chunkKey(root, global))
		if err != nil {
			return s.ioErr("get", err)
		}
		if !ok {
			return s.missErr(r, root, fmt.Sprintf("chunk %d", global))
		}
		proof, err = da.MultiChunkProofFromBytes(v)
		if err != nil {
			return s.ioErr("decode", err)
		}
		return nil
	})
	if err != nil {
		if daerrors.KindOf(err) != daerrors.KindStore {
			err = s.ioErr("get", err)
		}
		s.metrics.RecordRead(false)
		return nil, err
	}
	s.metrics.RecordRead(true)
	return proof, nil
}

// Info returns the root record.
func (s *RetentionStore) Info(root common.Hash48) (*RootInfo, error) {
	var info RootInfo
	err := s.kv.View(func(r Reader) error {
		v, ok, err := r.Get(rootKey(root))
		if err != nil {
			return s.ioErr("info", err)
		}
		if !ok {
			return s.missErr(r, root, "info")
		}
		return json.Unmarshal(v, &info)
	})
	if err != nil {
		if daerrors.KindOf(err) != daerrors.KindStore {
			err = s.ioErr("info", err)
		}
		return nil, err
	}
	return &info, nil
}

// RootByBlock returns the DaRoot and height recorded for blockHash.
func (s *RetentionStore) RootByBlock(blockHash common.Hash) (common.Hash48, uint64, error) {
	v, ok, err := s.kv.Get(blockKey(blockHash))
	if err != nil {
		return common.Hash48{}, 0, s.ioErr("block", err)
	}
	if !ok {
		return common.Hash48{}, 0, fmt.Errorf("%w: block %s", daerrors.ErrSUnknownRoot, blockHash.Short())
	}
	root, height, valid := decodeBlockValue(v)
	if !valid {
		return common.Hash48{}, 0, s.ioErr("block", fmt.Errorf("corrupt record for %s", blockHash))
	}
	return root, height, nil
}

type expiredRef struct {
	height uint64
	block  common.Hash
}

// Prune deletes every block recorded below current-window, and every root
// left without a referencing block. It never touches heights inside the
// window. Sweeps are serialized; repeated calls are no-ops.
func (s *RetentionStore) Prune(current, window uint64) (PruneStats, error) {
	s.pruneMu.Lock()
	defer s.pruneMu.Unlock()

	t0 := time.Now()
	stats := PruneStats{}
	if current < window {
		return stats, nil
	}
	cutoff := current - window
	stats.Cutoff = cutoff

	byRoot := make(map[common.Hash48][]expiredRef)
	var order []common.Hash48
	err := s.kv.View(func(r Reader) error {
		return r.Iterate([]byte{prefixHeight}, func(k, v []byte) bool {
			height, block, ok := parseHeightKey(k)
			if !ok || height >= cutoff {
				return false
			}
			root := common.BytesToHash48(v)
			if _, seen := byRoot[root]; !seen {
				order = append(order, root)
			}
			byRoot[root] = append(byRoot[root], expiredRef{height: height, block: block})
			return true
		})
	})
	if err != nil {
		return stats, s.ioErr("prune scan", err)
	}

	for start := 0; start < len(order); start += s.pruneBatch {
		end := start + s.pruneBatch
		if end > len(order) {
			end = len(order)
		}
		batch := order[start:end]
		if err := s.pruneRoots(batch, byRoot, cutoff, &stats); err != nil {
			return stats, err
		}
	}
	stats.Took = time.Since(t0)
	s.metrics.RecordPrune(stats)
	if stats.Blocks > 0 {
		storeLog.Info("Prune", "current", current, "window", window, "cutoff", cutoff,
			"blocks", stats.Blocks, "roots", stats.Roots, "chunks", stats.Chunks, "took", stats.Took)
	}
	return stats, nil
}

func (s *RetentionStore) pruneRoots(roots []common.Hash48, byRoot map[common.Hash48][]expiredRef, cutoff uint64, stats *PruneStats) error {
	release := s.locks.lockAll(roots)
	defer release()

	var prunedRoots, chunks int
	var dropped []common.Hash
	err := s.kv.Update(func(r Reader, w Writer) error {
		dropped = dropped[:0]
		for _, root := range roots {
			refs := byRoot[root]
			dropping := make(map[common.Hash]struct{}, len(refs))
			for _, ref := range refs {
				w.Delete(heightKey(ref.height, ref.block))
				w.Delete(blockKey(ref.block))
				w.Delete(rootRefKey(root, ref.block))
				dropping[ref.block] = struct{}{}
				dropped = append(dropped, ref.block)
			}

			remaining := false
			prefix := rootRefPrefix(root)
			if err := r.Iterate(prefix, func(k, _ []byte) bool {
				if _, drop := dropping[common.BytesToHash(k[len(prefix):])]; !drop {
					remaining = true
					return false
				}
				return true
			}); err != nil {
				return err
			}
			if remaining {
				continue
			}

			if err := r.Iterate(chunkPrefix(root), func(k, _ []byte) bool {
				w.Delete(copyBytes(k))
				chunks++
				return true
			}); err != nil {
				return err
			}
			w.Delete(rootKey(root))
			w.Put(tombstoneKey(root), binary.BigEndian.AppendUint64(nil, cutoff))
			prunedRoots++
		}
		return nil
	})
	if err != nil {
		return s.ioErr("prune", err)
	}
	stats.Blocks += len(dropped)
	stats.Dropped = append(stats.Dropped, dropped...)
	stats.Roots += prunedRoots
	stats.Chunks += chunks
	return nil
}

// Stats counts live roots, blocks and tombstones in one snapshot.
func (s *RetentionStore) Stats() (StoreStats, error) {
	var st StoreStats
	err := s.kv.View(func(r Reader) error {
		count := func(prefix byte, n *int) error {
			return r.Iterate([]byte{prefix}, func(_, _ []byte) bool {
				*n++
				return true
			})
		}
		if err := count(prefixRoot, &st.Roots); err != nil {
			return err
		}
		if err := count(prefixBlock, &st.Blocks); err != nil {
			return err
		}
		return count(prefixTombstone, &st.Tombstones)
	})
	if err != nil {
		return st, s.ioErr("stats", err)
	}
	return st, nil
}
