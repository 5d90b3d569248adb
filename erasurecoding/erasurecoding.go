package erasurecoding

import (
	"fmt"
	"sync"

	"github.com/Pauli-Group/Hegemon-sub002/daerrors"
	"github.com/klauspost/reedsolomon"
)

const (
	// ShardCeiling bounds data+parity shards per page (GF(2^8) code length).
	ShardCeiling = 255
	// MaxDataShards is the largest k with k + ParityShards(k) <= ShardCeiling.
	MaxDataShards = 170
)

// ParityShards returns max(1, ceil(k/2)).
func ParityShards(k int) int {
	p := (k + 1) / 2
	if p < 1 {
		return 1
	}
	return p
}

// TotalShards returns k plus its parity count.
func TotalShards(k int) int {
	return k + ParityShards(k)
}

type codeShape struct {
	data, parity int
}

var encoders sync.Map // codeShape -> reedsolomon.Encoder

func encoderFor(k int) (reedsolomon.Encoder, error) {
	shape := codeShape{data: k, parity: ParityShards(k)}
	if enc, ok := encoders.Load(shape); ok {
		return enc.(reedsolomon.Encoder), nil
	}
	enc, err := reedsolomon.New(shape.data, shape.parity)
	if err != nil {
		return nil, fmt.Errorf("%w: reedsolomon.New(%d, %d): %v", daerrors.ErrEInvalidParams, shape.data, shape.parity, err)
	}
	actual, _ := encoders.LoadOrStore(shape, enc)
	return actual.(reedsolomon.Encoder), nil
}

func checkShape(k, shardSize int) error {
	if k < 1 || shardSize < 1 {
		return fmt.Errorf("%w: k=%d shardSize=%d", daerrors.ErrEInvalidParams, k, shardSize)
	}
	if TotalShards(k) > ShardCeiling {
		return fmt.Errorf("%w: k=%d needs %d shards, ceiling %d", daerrors.ErrEOversizedPage, k, TotalShards(k), ShardCeiling)
	}
	return nil
}

// Encode splits page into k data shards of shardSize bytes (the tail zero
// padded) and appends ParityShards(k) parity shards.
func Encode(page []byte, k int, shardSize int) ([][]byte, error) {
	if err := checkShape(k, shardSize); err != nil {
		return nil, err
	}
	if len(page) > k*shardSize {
		return nil, fmt.Errorf("%w: %d bytes do not fit %d shards of %d", daerrors.ErrEOversizedPage, len(page), k, shardSize)
	}
	enc, err := encoderFor(k)
	if err != nil {
		return nil, err
	}

	n := TotalShards(k)
	buf := make([]byte, n*shardSize)
	copy(buf, page)
	shards := make([][]byte, n)
	for i := range shards {
		shards[i] = buf[i*shardSize : (i+1)*shardSize : (i+1)*shardSize]
	}
	if err := enc.Encode(shards); err != nil {
		return nil, fmt.Errorf("failed to encode page: %w", err)
	}
	return shards, nil
}

// Decode rebuilds the first pageLen bytes of a page from any k shards.
// shards must have TotalShards(k) slots; missing shards are nil and shards of
// the wrong length are treated as corrupt. The input slice is not modified.
func Decode(shards [][]byte, k int, shardSize int, pageLen int) ([]byte, error) {
	if err := checkShape(k, shardSize); err != nil {
		return nil, err
	}
	n := TotalShards(k)
	if len(shards) != n {
		return nil, fmt.Errorf("%w: got %d shard slots, want %d", daerrors.ErrEInvalidParams, len(shards), n)
	}
	if pageLen < 0 || pageLen > k*shardSize {
		return nil, fmt.Errorf("%w: page length %d", daerrors.ErrEInvalidParams, pageLen)
	}

	work := make([][]byte, n)
	present := 0
	for i, s := range shards {
		if len(s) != shardSize {
			continue
		}
		work[i] = append([]byte(nil), s...)
		present++
	}
	if present < k {
		return nil, fmt.Errorf("%w: have %d, need %d", daerrors.ErrEInsufficientShards, present, k)
	}

	enc, err := encoderFor(k)
	if err != nil {
		return nil, err
	}
	if err := enc.ReconstructData(work); err != nil {
		return nil, fmt.Errorf("%w: %v", daerrors.ErrEInsufficientShards, err)
	}

	out := make([]byte, 0, k*shardSize)
	for i := 0; i < k; i++ {
		out = append(out, work[i]...)
	}
	return out[:pageLen], nil
}

// Verify reports whether the parity shards are consistent with the data shards.
func Verify(shards [][]byte, k int) (bool, error) {
	enc, err := encoderFor(k)
	if err != nil {
		return false, err
	}
	return enc.Verify(shards)
}
