package da

import (
	"fmt"
	"runtime"
	"time"

	"github.com/Pauli-Group/Hegemon-sub002/common"
	"github.com/Pauli-Group/Hegemon-sub002/daerrors"
	"github.com/Pauli-Group/Hegemon-sub002/erasurecoding"
	"github.com/Pauli-Group/Hegemon-sub002/log"
	"github.com/Pauli-Group/Hegemon-sub002/trie"
	"golang.org/x/sync/errgroup"
)

// Encoding is the erasure-coded, committed form of one blob.
type Encoding struct {
	params   Params
	layout   *Layout
	pages    []*PageCommitment
	rootTree *trie.DomainMerkleTree
}

// EncodeBlob splits blob into pages, erasure codes and commits each page in
// parallel, then commits the ordered page roots into the DaRoot.
func EncodeBlob(blob []byte, params Params) (*Encoding, error) {
	t0 := time.Now()
	layout, err := NewLayout(len(blob), params)
	if err != nil {
		return nil, err
	}
	cs := int(params.ChunkSize)
	pages := make([]*PageCommitment, len(layout.Pages))

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, pl := range layout.Pages {
		g.Go(func() error {
			shards, err := erasurecoding.Encode(blob[pl.Offset:pl.Offset+pl.DataLen], pl.DataShards, cs)
			if err != nil {
				return fmt.Errorf("page %d: %w", i, err)
			}
			pc, err := CommitPage(shards, cs)
			if err != nil {
				return fmt.Errorf("page %d: %w", i, err)
			}
			pages[i] = pc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	leaves := make([]common.Hash48, len(pages))
	for i, pc := range pages {
		pl := layout.Pages[i]
		leaves[i] = rootLeaf(pl.Index, uint32(pl.DataLen), uint32(pc.Len()), pc.Root())
	}
	rootTree, err := trie.NewDomainMerkleTree(trie.RootDomain, leaves)
	if err != nil {
		return nil, err
	}
	enc := &Encoding{params: params, layout: layout, pages: pages, rootTree: rootTree}
	log.Debug(log.DA, "EncodeBlob", "root", enc.Root().Short(), "bytes", len(blob),
		"pages", len(pages), "chunks", layout.TotalChunks(), "elapsed", time.Since(t0))
	return enc, nil
}

// Root is the DaRoot carried in the block header.
func (e *Encoding) Root() common.Hash48 {
	return e.rootTree.Root()
}

func (e *Encoding) Params() Params {
	return e.params
}

func (e *Encoding) Layout() *Layout {
	return e.layout
}

func (e *Encoding) DataLen() int {
	return e.layout.DataLen
}

func (e *Encoding) PageRoots() []common.Hash48 {
	out := make([]common.Hash48, len(e.pages))
	for i, pc := range e.pages {
		out[i] = pc.Root()
	}
	return out
}

func (e *Encoding) locate(global uint32) (*PageCommitment, PageLayout, int, error) {
	page, chunk := SplitIndex(global)
	pl, ok := e.layout.Page(page)
	if !ok || int(chunk) >= pl.TotalShards() {
		return nil, PageLayout{}, 0, fmt.Errorf("%w: global index %d not in blob of %d chunks", daerrors.ErrIIndexOutOfRange, global, e.layout.TotalChunks())
	}
	return e.pages[page], pl, int(chunk), nil
}

// Chunk returns the bytes of chunk global.
func (e *Encoding) Chunk(global uint32) ([]byte, error) {
	pc, _, chunk, err := e.locate(global)
	if err != nil {
		return nil, err
	}
	return pc.Chunk(chunk)
}

// Proof builds the two-layer proof for chunk global.
func (e *Encoding) Proof(global uint32) (*MultiChunkProof, error) {
	pc, pl, chunk, err := e.locate(global)
	if err != nil {
		return nil, err
	}
	cp, err := pc.Proof(chunk)
	if err != nil {
		return nil, err
	}
	rootPath, err := e.rootTree.Trace(int(pl.Index))
	if err != nil {
		return nil, fmt.Errorf("%w: page %d", daerrors.ErrIIndexOutOfRange, pl.Index)
	}
	return &MultiChunkProof{
		Index:          global,
		PageIndex:      pl.Index,
		PageCount:      uint32(len(e.pages)),
		PageDataLen:    uint32(pl.DataLen),
		PageShardCount: uint32(pc.Len()),
		PageRoot:       pc.Root(),
		Chunk:          *cp,
		RootPath:       rootPath,
	}, nil
}

// ForEachProof calls fn for every chunk in global index order.
func (e *Encoding) ForEachProof(fn func(*MultiChunkProof) error) error {
	for _, pl := range e.layout.Pages {
		for c := 0; c < pl.TotalShards(); c++ {
			p, err := e.Proof(pl.FirstGlobal() + uint32(c))
			if err != nil {
				return err
			}
			if err := fn(p); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReadRange copies length blob bytes starting at offset straight out of the
// systematic data chunks, without decoding.
func (e *Encoding) ReadRange(offset, length int) ([]byte, error) {
	if offset < 0 || length < 0 || offset+length > e.layout.DataLen {
		return nil, fmt.Errorf("%w: range [%d,+%d) of %d", daerrors.ErrIIndexOutOfRange, offset, length, e.layout.DataLen)
	}
	out := make([]byte, 0, length)
	cs := e.layout.ChunkSize
	for length > 0 {
		global, err := e.layout.ChunkForOffset(offset)
		if err != nil {
			return nil, err
		}
		chunk, err := e.Chunk(global)
		if err != nil {
			return nil, err
		}
		pl := e.layout.Pages[global/ShardCeiling]
		start := (offset - pl.Offset) % cs
		n := cs - start
		if n > length {
			n = length
		}
		out = append(out, chunk[start:start+n]...)
		offset += n
		length -= n
	}
	return out, nil
}

// ReconstructPage decodes page pl from chunk proofs of that page. Proofs are
// expected to be verified already; at least DataShards distinct chunks are needed.
func ReconstructPage(pl PageLayout, chunkSize int, proofs []*MultiChunkProof) ([]byte, error) {
	shards := make([][]byte, pl.TotalShards())
	for _, p := range proofs {
		if p == nil || p.PageIndex != pl.Index || int(p.Chunk.Index) >= len(shards) {
			continue
		}
		shards[p.Chunk.Index] = p.Chunk.Data
	}
	return erasurecoding.Decode(shards, pl.DataShards, chunkSize, pl.DataLen)
}

// ReconstructBlob verifies every proof against root, drops the bad ones, and
// decodes each page of layout.
func ReconstructBlob(root common.Hash48, layout *Layout, proofs []*MultiChunkProof) ([]byte, error) {
	byPage := make(map[uint32][]*MultiChunkProof, len(layout.Pages))
	for _, p := range proofs {
		if p == nil {
			continue
		}
		if err := VerifyMultiChunk(root, p); err != nil {
			log.Debug(log.DA, "ReconstructBlob: dropping chunk", "index", p.Index, "err", err)
			continue
		}
		byPage[p.PageIndex] = append(byPage[p.PageIndex], p)
	}
	out := make([]byte, 0, layout.DataLen)
	for _, pl := range layout.Pages {
		page, err := ReconstructPage(pl, layout.ChunkSize, byPage[pl.Index])
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", pl.Index, err)
		}
		out = append(out, page...)
	}
	return out, nil
}
