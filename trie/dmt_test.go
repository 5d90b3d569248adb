package trie

import (
	"fmt"
	"testing"

	"github.com/Pauli-Group/Hegemon-sub002/common"
	"github.com/stretchr/testify/require"
)

func leavesFor(d Domain, n int) []common.Hash48 {
	out := make([]common.Hash48, n)
	for i := range out {
		out[i] = ComputeLeaf(d, uint32(i), []byte(fmt.Sprintf("value%d", i)))
	}
	return out
}

func TestDepth(t *testing.T) {
	require.Equal(t, 0, Depth(1))
	require.Equal(t, 1, Depth(2))
	require.Equal(t, 2, Depth(3))
	require.Equal(t, 2, Depth(4))
	require.Equal(t, 3, Depth(5))
	require.Equal(t, 8, Depth(255))
}

func TestTraceVerifyAllSizes(t *testing.T) {
	for _, n := range []int{1, 2, 3, 5, 7, 8, 39, 255} {
		leaves := leavesFor(PageDomain, n)
		tree, err := NewDomainMerkleTree(PageDomain, leaves)
		require.NoError(t, err)
		require.Equal(t, n, tree.Len())
		for i := 0; i < n; i++ {
			path, err := tree.Trace(i)
			require.NoError(t, err)
			require.Len(t, path, Depth(n))
			require.True(t, VerifyPath(PageDomain, tree.Root(), i, n, leaves[i], path), "n=%d i=%d", n, i)
		}
	}
}

func TestSingleLeafRootIsLeaf(t *testing.T) {
	leaves := leavesFor(PageDomain, 1)
	tree, err := NewDomainMerkleTree(PageDomain, leaves)
	require.NoError(t, err)
	require.Equal(t, leaves[0], tree.Root())
}

func TestVerifyRejectsTampering(t *testing.T) {
	leaves := leavesFor(PageDomain, 6)
	tree, err := NewDomainMerkleTree(PageDomain, leaves)
	require.NoError(t, err)
	path, err := tree.Trace(3)
	require.NoError(t, err)

	badLeaf := leaves[3]
	badLeaf[0] ^= 1
	require.False(t, VerifyPath(PageDomain, tree.Root(), 3, 6, badLeaf, path))

	badPath := append([]common.Hash48(nil), path...)
	badPath[1][47] ^= 0x80
	require.False(t, VerifyPath(PageDomain, tree.Root(), 3, 6, leaves[3], badPath))

	require.False(t, VerifyPath(PageDomain, tree.Root(), 2, 6, leaves[3], path))
	require.False(t, VerifyPath(PageDomain, tree.Root(), 6, 6, leaves[3], path))
	require.False(t, VerifyPath(PageDomain, tree.Root(), 3, 6, leaves[3], path[:2]))
}

func TestDomainsSeparate(t *testing.T) {
	a := ComputeLeaf(PageDomain, 0, []byte("x"))
	b := ComputeLeaf(RootDomain, 0, []byte("x"))
	require.NotEqual(t, a, b)
	require.NotEqual(t, ComputeNode(PageDomain, a, a), ComputeNode(RootDomain, a, a))

	leaves := leavesFor(PageDomain, 4)
	pageTree, err := NewDomainMerkleTree(PageDomain, leaves)
	require.NoError(t, err)
	rootTree, err := NewDomainMerkleTree(RootDomain, leaves)
	require.NoError(t, err)
	require.NotEqual(t, pageTree.Root(), rootTree.Root())

	path, err := pageTree.Trace(1)
	require.NoError(t, err)
	require.False(t, VerifyPath(RootDomain, pageTree.Root(), 1, 4, leaves[1], path))
}

func TestEmptyTree(t *testing.T) {
	_, err := NewDomainMerkleTree(PageDomain, nil)
	require.ErrorIs(t, err, ErrEmptyTree)
}
