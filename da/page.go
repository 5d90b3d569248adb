package da

import (
	"fmt"

	"github.com/Pauli-Group/Hegemon-sub002/common"
	"github.com/Pauli-Group/Hegemon-sub002/daerrors"
	"github.com/Pauli-Group/Hegemon-sub002/trie"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ChunkProof proves one chunk against a page root.
type ChunkProof struct {
	Index uint32          `json:"index"`
	Data  hexutil.Bytes   `json:"data"`
	Path  []common.Hash48 `json:"path"`
}

// PageCommitment is the Merkle commitment over one page's shards; leaf i is shard i.
type PageCommitment struct {
	chunks [][]byte
	tree   *trie.DomainMerkleTree
}

// CommitPage pads every shard to chunkSize and builds the page tree.
func CommitPage(shards [][]byte, chunkSize int) (*PageCommitment, error) {
	if len(shards) == 0 || len(shards) > ShardCeiling {
		return nil, fmt.Errorf("%w: %d shards", daerrors.ErrEOversizedPage, len(shards))
	}
	if chunkSize < 1 {
		return nil, fmt.Errorf("%w: chunk size %d", daerrors.ErrEInvalidParams, chunkSize)
	}
	chunks := make([][]byte, len(shards))
	leaves := make([]common.Hash48, len(shards))
	for i, s := range shards {
		if len(s) > chunkSize {
			return nil, fmt.Errorf("%w: shard %d is %d bytes, chunk size %d", daerrors.ErrEInvalidParams, i, len(s), chunkSize)
		}
		c := make([]byte, chunkSize)
		copy(c, s)
		chunks[i] = c
		leaves[i] = trie.ComputeLeaf(trie.PageDomain, uint32(i), c)
	}
	tree, err := trie.NewDomainMerkleTree(trie.PageDomain, leaves)
	if err != nil {
		return nil, err
	}
	return &PageCommitment{chunks: chunks, tree: tree}, nil
}

func (pc *PageCommitment) Root() common.Hash48 {
	return pc.tree.Root()
}

func (pc *PageCommitment) Len() int {
	return len(pc.chunks)
}

func (pc *PageCommitment) Chunk(i int) ([]byte, error) {
	if i < 0 || i >= len(pc.chunks) {
		return nil, fmt.Errorf("%w: chunk %d of %d", daerrors.ErrIIndexOutOfRange, i, len(pc.chunks))
	}
	return pc.chunks[i], nil
}

// Proof returns chunk i with its sibling path. Data aliases the commitment's
// chunk and must not be modified.
func (pc *PageCommitment) Proof(i int) (*ChunkProof, error) {
	path, err := pc.tree.Trace(i)
	if err != nil {
		return nil, fmt.Errorf("%w: chunk %d of %d", daerrors.ErrIIndexOutOfRange, i, len(pc.chunks))
	}
	return &ChunkProof{Index: uint32(i), Data: pc.chunks[i], Path: path}, nil
}

// pageRootOf recomputes the page root a chunk proof commits to.
func pageRootOf(count int, proof *ChunkProof) (common.Hash48, error) {
	if len(proof.Data) == 0 {
		return common.Hash48{}, fmt.Errorf("%w: empty chunk", daerrors.ErrPBadChunk)
	}
	leaf := trie.ComputeLeaf(trie.PageDomain, proof.Index, proof.Data)
	root, err := trie.ComputeRoot(trie.PageDomain, int(proof.Index), count, leaf, proof.Path)
	if err != nil {
		return common.Hash48{}, fmt.Errorf("%w: %v", daerrors.ErrPBadPagePath, err)
	}
	return root, nil
}

// VerifyChunk checks a page-local proof for a page of count chunks.
func VerifyChunk(root common.Hash48, count int, proof *ChunkProof) error {
	if proof == nil {
		return fmt.Errorf("%w: nil proof", daerrors.ErrPBadChunk)
	}
	got, err := pageRootOf(count, proof)
	if err != nil {
		return err
	}
	if got != root {
		return fmt.Errorf("%w: chunk %d does not reach page root %s", daerrors.ErrPBadPagePath, proof.Index, root.Short())
	}
	return nil
}
