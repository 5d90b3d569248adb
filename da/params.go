package da

import (
	"fmt"

	"github.com/Pauli-Group/Hegemon-sub002/daerrors"
	"github.com/Pauli-Group/Hegemon-sub002/erasurecoding"
)

const (
	DefaultChunkSize   = 1024
	DefaultSampleCount = 16
	// MaxChunkSize keeps a single page under 170 MiB.
	MaxChunkSize = 1 << 20
)

// Params are the encoding parameters agreed by producer and verifiers.
type Params struct {
	ChunkSize   uint32 `json:"chunk_size"`
	SampleCount uint32 `json:"sample_count"`
}

func DefaultParams() Params {
	return Params{ChunkSize: DefaultChunkSize, SampleCount: DefaultSampleCount}
}

func (p Params) Validate() error {
	if p.ChunkSize == 0 || p.ChunkSize > MaxChunkSize {
		return fmt.Errorf("%w: chunk size %d", daerrors.ErrEInvalidParams, p.ChunkSize)
	}
	if p.SampleCount == 0 {
		return fmt.Errorf("%w: sample count must be at least 1", daerrors.ErrEInvalidParams)
	}
	return nil
}

// MaxPageBytes = MaxDataShards * ChunkSize.
func (p Params) MaxPageBytes() int {
	return erasurecoding.MaxDataShards * int(p.ChunkSize)
}

// ParamsInfo is the get_params response.
type ParamsInfo struct {
	ChunkSize    uint32 `json:"chunk_size"`
	ShardCeiling uint32 `json:"shard_ceiling"`
	SampleCount  uint32 `json:"sample_count"`
}

func (p Params) Info() ParamsInfo {
	return ParamsInfo{
		ChunkSize:    p.ChunkSize,
		ShardCeiling: ShardCeiling,
		SampleCount:  p.SampleCount,
	}
}
