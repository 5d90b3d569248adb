package da

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/Pauli-Group/Hegemon-sub002/common"
	"github.com/Pauli-Group/Hegemon-sub002/daerrors"
	"github.com/Pauli-Group/Hegemon-sub002/erasurecoding"
	"github.com/Pauli-Group/Hegemon-sub002/trie"
)

// maxPathLen bounds decoded sibling paths; 32 levels covers any uint32 count.
const maxPathLen = 32

var ErrMalformedProof = errors.New("malformed proof encoding")

// MultiChunkProof proves a chunk against the DaRoot: the page-local proof,
// the page metadata bound into the root-layer leaf, and the root-layer path.
type MultiChunkProof struct {
	Index          uint32          `json:"index"`
	PageIndex      uint32          `json:"page_index"`
	PageCount      uint32          `json:"page_count"`
	PageDataLen    uint32          `json:"page_data_len"`
	PageShardCount uint32          `json:"page_shard_count"`
	PageRoot       common.Hash48   `json:"page_root"`
	Chunk          ChunkProof      `json:"chunk"`
	RootPath       []common.Hash48 `json:"root_path"`
}

// Data returns the chunk bytes.
func (p *MultiChunkProof) Data() []byte {
	return p.Chunk.Data
}

// rootLeaf binds a page root to its position, real data length and shard count.
func rootLeaf(pageIndex, pageDataLen, shardCount uint32, pageRoot common.Hash48) common.Hash48 {
	return trie.ComputeLeaf(trie.RootDomain, pageIndex,
		common.Uint32ToBytes(pageDataLen), common.Uint32ToBytes(shardCount), pageRoot[:])
}

// VerifyMultiChunk checks both layers of p against root.
func VerifyMultiChunk(root common.Hash48, p *MultiChunkProof) error {
	if p == nil {
		return fmt.Errorf("%w: nil proof", daerrors.ErrPBadChunk)
	}
	want, err := GlobalIndex(p.PageIndex, p.Chunk.Index)
	if err != nil || want != p.Index {
		return fmt.Errorf("%w: index %d is not page %d chunk %d", daerrors.ErrPBadChunk, p.Index, p.PageIndex, p.Chunk.Index)
	}
	if p.PageShardCount == 0 || p.PageShardCount > ShardCeiling {
		return fmt.Errorf("%w: page shard count %d", daerrors.ErrPBadPagePath, p.PageShardCount)
	}

	if err := checkChunkSize(p); err != nil {
		return err
	}

	pageRoot, err := pageRootOf(int(p.PageShardCount), &p.Chunk)
	if err != nil {
		return err
	}
	if pageRoot != p.PageRoot {
		return fmt.Errorf("%w: chunk %d does not reach page root", daerrors.ErrPBadPagePath, p.Index)
	}

	leaf := rootLeaf(p.PageIndex, p.PageDataLen, p.PageShardCount, p.PageRoot)
	got, err := trie.ComputeRoot(trie.RootDomain, int(p.PageIndex), int(p.PageCount), leaf, p.RootPath)
	if err != nil {
		return fmt.Errorf("%w: %v", daerrors.ErrPBadRootPath, err)
	}
	if got != root {
		return fmt.Errorf("%w: page %d does not reach %s", daerrors.ErrPBadRootPath, p.PageIndex, root.Short())
	}
	return nil
}

// checkChunkSize rejects chunk data whose length cannot be the shard size of
// a page of PageDataLen bytes split into PageShardCount shards.
func checkChunkSize(p *MultiChunkProof) error {
	size := len(p.Chunk.Data)
	if size == 0 {
		return fmt.Errorf("%w: empty chunk", daerrors.ErrPBadChunk)
	}
	k := dataShardsOf(int(p.PageShardCount))
	if k == 0 {
		return fmt.Errorf("%w: page shard count %d", daerrors.ErrPBadPagePath, p.PageShardCount)
	}
	if p.PageDataLen == 0 {
		return nil
	}
	dataLen := int(p.PageDataLen)
	if (k-1)*size >= dataLen || k*size < dataLen {
		return fmt.Errorf("%w: %d byte chunk in a %d byte page of %d data shards",
			daerrors.ErrPBadChunk, size, dataLen, k)
	}
	return nil
}

// dataShardsOf inverts erasurecoding.TotalShards; 0 means no k fits.
func dataShardsOf(total int) int {
	for k := 1; k <= erasurecoding.MaxDataShards; k++ {
		if erasurecoding.TotalShards(k) == total {
			return k
		}
	}
	return 0
}

// ToBytes encodes p little-endian:
// index, page index, page count, page data len, page shard count (u32 each),
// page root, chunk index, u32 data len, data, u32 path len, path,
// u32 root path len, root path.
func (p *MultiChunkProof) ToBytes() []byte {
	size := 5*4 + common.Hash48Length + 4 + 4 + len(p.Chunk.Data) +
		4 + len(p.Chunk.Path)*common.Hash48Length + 4 + len(p.RootPath)*common.Hash48Length
	out := make([]byte, 0, size)
	out = binary.LittleEndian.AppendUint32(out, p.Index)
	out = binary.LittleEndian.AppendUint32(out, p.PageIndex)
	out = binary.LittleEndian.AppendUint32(out, p.PageCount)
	out = binary.LittleEndian.AppendUint32(out, p.PageDataLen)
	out = binary.LittleEndian.AppendUint32(out, p.PageShardCount)
	out = append(out, p.PageRoot[:]...)
	out = binary.LittleEndian.AppendUint32(out, p.Chunk.Index)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(p.Chunk.Data)))
	out = append(out, p.Chunk.Data...)
	out = appendPath(out, p.Chunk.Path)
	out = appendPath(out, p.RootPath)
	return out
}

func appendPath(out []byte, path []common.Hash48) []byte {
	out = binary.LittleEndian.AppendUint32(out, uint32(len(path)))
	for _, h := range path {
		out = append(out, h[:]...)
	}
	return out
}

type reader struct {
	buf []byte
	err error
}

func (r *reader) u32() uint32 {
	if r.err != nil || len(r.buf) < 4 {
		r.err = ErrMalformedProof
		return 0
	}
	v := binary.LittleEndian.Uint32(r.buf)
	r.buf = r.buf[4:]
	return v
}

func (r *reader) bytes(n int) []byte {
	if r.err != nil || n < 0 || len(r.buf) < n {
		r.err = ErrMalformedProof
		return nil
	}
	v := r.buf[:n:n]
	r.buf = r.buf[n:]
	return v
}

func (r *reader) hash() common.Hash48 {
	return common.BytesToHash48(r.bytes(common.Hash48Length))
}

func (r *reader) path() []common.Hash48 {
	n := r.u32()
	if r.err == nil && n > maxPathLen {
		r.err = fmt.Errorf("%w: path of %d", ErrMalformedProof, n)
	}
	if r.err != nil {
		return nil
	}
	path := make([]common.Hash48, n)
	for i := range path {
		path[i] = r.hash()
	}
	return path
}

// MultiChunkProofFromBytes decodes ToBytes output; trailing bytes are rejected.
func MultiChunkProofFromBytes(data []byte) (*MultiChunkProof, error) {
	r := &reader{buf: data}
	p := &MultiChunkProof{}
	p.Index = r.u32()
	p.PageIndex = r.u32()
	p.PageCount = r.u32()
	p.PageDataLen = r.u32()
	p.PageShardCount = r.u32()
	p.PageRoot = r.hash()
	p.Chunk.Index = r.u32()
	dataLen := r.u32()
	if r.err == nil && dataLen > MaxChunkSize {
		r.err = fmt.Errorf("%w: chunk of %d bytes", ErrMalformedProof, dataLen)
	}
	p.Chunk.Data = append([]byte(nil), r.bytes(int(dataLen))...)
	p.Chunk.Path = r.path()
	p.RootPath = r.path()
	if r.err != nil {
		return nil, r.err
	}
	if len(r.buf) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformedProof, len(r.buf))
	}
	return p, nil
}
