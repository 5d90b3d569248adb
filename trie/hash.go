package trie

import (
	"encoding/binary"

	"github.com/Pauli-Group/Hegemon-sub002/common"
	"github.com/zeebo/blake3"
)

// Domain holds the leaf and internal-node tags of one tree. Every tree kind
// uses its own pair so a node of one tree never verifies as a node of another.
type Domain struct {
	Leaf []byte
	Node []byte
}

var (
	// PageDomain tags the tree over the shards of one page.
	PageDomain = Domain{Leaf: []byte("da-leaf"), Node: []byte("da-node")}
	// RootDomain tags the tree over the page roots of one blob.
	RootDomain = Domain{Leaf: []byte("da-root-leaf"), Node: []byte("da-root-node")}
)

func sum384(h *blake3.Hasher) common.Hash48 {
	var out common.Hash48
	h.Digest().Read(out[:])
	return out
}

// computeLeaf hashes tag || index_le32 || parts.
func computeLeaf(d Domain, index uint32, parts ...[]byte) common.Hash48 {
	h := blake3.New()
	h.Write(d.Leaf)
	var idx [4]byte
	binary.LittleEndian.PutUint32(idx[:], index)
	h.Write(idx[:])
	for _, p := range parts {
		h.Write(p)
	}
	return sum384(h)
}

// computeNode hashes tag || left || right.
func computeNode(d Domain, left, right common.Hash48) common.Hash48 {
	h := blake3.New()
	h.Write(d.Node)
	h.Write(left[:])
	h.Write(right[:])
	return sum384(h)
}

func ComputeLeaf(d Domain, index uint32, parts ...[]byte) common.Hash48 {
	return computeLeaf(d, index, parts...)
}

func ComputeNode(d Domain, left, right common.Hash48) common.Hash48 {
	return computeNode(d, left, right)
}
