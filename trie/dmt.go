package trie

import (
	"errors"
	"fmt"

	"github.com/Pauli-Group/Hegemon-sub002/common"
)

var (
	ErrIndexOutOfRange = errors.New("index out of range")
	ErrPathLength      = errors.New("path length does not match tree depth")
	ErrEmptyTree       = errors.New("tree has no leaves")
)

// DomainMerkleTree is a binary Merkle tree built level by level over leaf
// hashes. An odd trailing node on any level is paired with itself.
type DomainMerkleTree struct {
	domain Domain
	levels [][]common.Hash48 // levels[0] are the leaves, last level is the root
}

// NewDomainMerkleTree builds the tree. leaves must already be leaf hashes
// (see ComputeLeaf).
func NewDomainMerkleTree(d Domain, leaves []common.Hash48) (*DomainMerkleTree, error) {
	if len(leaves) == 0 {
		return nil, ErrEmptyTree
	}
	level := append([]common.Hash48(nil), leaves...)
	levels := [][]common.Hash48{level}
	for len(level) > 1 {
		next := make([]common.Hash48, (len(level)+1)/2)
		for i := range next {
			left := level[2*i]
			right := left
			if 2*i+1 < len(level) {
				right = level[2*i+1]
			}
			next[i] = computeNode(d, left, right)
		}
		levels = append(levels, next)
		level = next
	}
	return &DomainMerkleTree{domain: d, levels: levels}, nil
}

func (t *DomainMerkleTree) Root() common.Hash48 {
	return t.levels[len(t.levels)-1][0]
}

func (t *DomainMerkleTree) Len() int {
	return len(t.levels[0])
}

func (t *DomainMerkleTree) Leaf(index int) (common.Hash48, error) {
	if index < 0 || index >= t.Len() {
		return common.Hash48{}, ErrIndexOutOfRange
	}
	return t.levels[0][index], nil
}

// Trace returns the sibling hashes from the leaf level up to, but excluding, the root.
func (t *DomainMerkleTree) Trace(index int) ([]common.Hash48, error) {
	if index < 0 || index >= t.Len() {
		return nil, ErrIndexOutOfRange
	}
	path := make([]common.Hash48, 0, len(t.levels)-1)
	idx := index
	for _, level := range t.levels[:len(t.levels)-1] {
		sib := idx ^ 1
		if sib >= len(level) {
			sib = idx
		}
		path = append(path, level[sib])
		idx >>= 1
	}
	return path, nil
}

// Depth is the number of siblings in a path for a tree of count leaves.
func Depth(count int) int {
	depth := 0
	for n := count; n > 1; n = (n + 1) / 2 {
		depth++
	}
	return depth
}

// ComputeRoot folds leaf up the path. It fails on structurally impossible
// input (index beyond count, wrong path length) before hashing anything.
func ComputeRoot(d Domain, index, count int, leaf common.Hash48, path []common.Hash48) (common.Hash48, error) {
	if count < 1 || index < 0 || index >= count {
		return common.Hash48{}, fmt.Errorf("%w: index %d count %d", ErrIndexOutOfRange, index, count)
	}
	if len(path) != Depth(count) {
		return common.Hash48{}, fmt.Errorf("%w: got %d want %d", ErrPathLength, len(path), Depth(count))
	}
	current := leaf
	idx := index
	for _, sib := range path {
		if idx&1 == 0 {
			current = computeNode(d, current, sib)
		} else {
			current = computeNode(d, sib, current)
		}
		idx >>= 1
	}
	return current, nil
}

// VerifyPath reports whether leaf sits at index under root.
func VerifyPath(d Domain, root common.Hash48, index, count int, leaf common.Hash48, path []common.Hash48) bool {
	got, err := ComputeRoot(d, index, count, leaf, path)
	if err != nil {
		return false
	}
	return got == root
}
