package storage

import (
	"encoding/binary"

	"github.com/Pauli-Group/Hegemon-sub002/common"
)

// Key prefixes of the retention store.
const (
	prefixRoot      = 'r' // r|root -> RootInfo
	prefixChunk     = 'c' // c|root|global_be32 -> MultiChunkProof bytes
	prefixBlock     = 'b' // b|blockHash -> root|height_be64
	prefixHeight    = 'h' // h|height_be64|blockHash -> root
	prefixRootRef   = 'x' // x|root|blockHash -> height_be64
	prefixTombstone = 't' // t|root -> pruned-at cutoff_be64
)

func rootKey(root common.Hash48) []byte {
	return append([]byte{prefixRoot}, root[:]...)
}

func chunkPrefix(root common.Hash48) []byte {
	return append([]byte{prefixChunk}, root[:]...)
}

func chunkKey(root common.Hash48, global uint32) []byte {
	return binary.BigEndian.AppendUint32(chunkPrefix(root), global)
}

func blockKey(blockHash common.Hash) []byte {
	return append([]byte{prefixBlock}, blockHash[:]...)
}

func heightKey(height uint64, blockHash common.Hash) []byte {
	k := binary.BigEndian.AppendUint64([]byte{prefixHeight}, height)
	return append(k, blockHash[:]...)
}

func rootRefPrefix(root common.Hash48) []byte {
	return append([]byte{prefixRootRef}, root[:]...)
}

func rootRefKey(root common.Hash48, blockHash common.Hash) []byte {
	return append(rootRefPrefix(root), blockHash[:]...)
}

func tombstoneKey(root common.Hash48) []byte {
	return append([]byte{prefixTombstone}, root[:]...)
}

func encodeBlockValue(root common.Hash48, height uint64) []byte {
	return binary.BigEndian.AppendUint64(append([]byte(nil), root[:]...), height)
}

func decodeBlockValue(v []byte) (common.Hash48, uint64, bool) {
	if len(v) != common.Hash48Length+8 {
		return common.Hash48{}, 0, false
	}
	return common.BytesToHash48(v[:common.Hash48Length]), binary.BigEndian.Uint64(v[common.Hash48Length:]), true
}

// parseHeightKey splits h|height|blockHash.
func parseHeightKey(k []byte) (uint64, common.Hash, bool) {
	if len(k) != 1+8+32 || k[0] != prefixHeight {
		return 0, common.Hash{}, false
	}
	return binary.BigEndian.Uint64(k[1:9]), common.BytesToHash(k[9:]), true
}
