package da

import (
	"fmt"
	"math"

	"github.com/Pauli-Group/Hegemon-sub002/daerrors"
	"github.com/Pauli-Group/Hegemon-sub002/erasurecoding"
)

// ShardCeiling is the stride of the global chunk index. It is a protocol
// constant shared by encoder and requester; nothing else may derive it.
const ShardCeiling = erasurecoding.ShardCeiling

// MaxPageIndex is the last page whose chunks all fit in a uint32 global index.
const MaxPageIndex = (math.MaxUint32 - (ShardCeiling - 1)) / ShardCeiling

// GlobalIndex maps (page, chunk-within-page) to page*ShardCeiling + chunk.
func GlobalIndex(page, chunk uint32) (uint32, error) {
	if chunk >= ShardCeiling {
		return 0, fmt.Errorf("%w: chunk %d >= %d", daerrors.ErrIIndexOutOfRange, chunk, ShardCeiling)
	}
	if page > MaxPageIndex {
		return 0, fmt.Errorf("%w: page %d", daerrors.ErrIIndexOutOfRange, page)
	}
	return page*ShardCeiling + chunk, nil
}

// SplitIndex is the inverse of GlobalIndex.
func SplitIndex(global uint32) (page, chunk uint32) {
	return global / ShardCeiling, global % ShardCeiling
}
