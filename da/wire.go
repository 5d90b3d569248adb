package da

import (
	"encoding/binary"
	"fmt"

	"github.com/Pauli-Group/Hegemon-sub002/common"
)

const chunkRequestLen = common.Hash48Length + 4

// ChunkRequest asks a peer for one chunk of a DaRoot.
type ChunkRequest struct {
	Root  common.Hash48 `json:"root"`
	Index uint32        `json:"index"`
}

// ToBytes is root || index_le32.
func (r *ChunkRequest) ToBytes() []byte {
	out := make([]byte, 0, chunkRequestLen)
	out = append(out, r.Root[:]...)
	return binary.LittleEndian.AppendUint32(out, r.Index)
}

func (r *ChunkRequest) FromBytes(data []byte) error {
	if len(data) != chunkRequestLen {
		return fmt.Errorf("%w: chunk request of %d bytes", ErrMalformedProof, len(data))
	}
	r.Root = common.BytesToHash48(data[:common.Hash48Length])
	r.Index = binary.LittleEndian.Uint32(data[common.Hash48Length:])
	return nil
}

// ChunkResponse carries the chunk and its proof, or nothing when the peer
// does not hold it.
type ChunkResponse struct {
	Proof *MultiChunkProof `json:"proof,omitempty"`
}

func (r *ChunkResponse) Found() bool {
	return r != nil && r.Proof != nil
}

// ToBytes is 0x00 for a miss, or 0x01 || proof.
func (r *ChunkResponse) ToBytes() []byte {
	if !r.Found() {
		return []byte{0}
	}
	return append([]byte{1}, r.Proof.ToBytes()...)
}

func (r *ChunkResponse) FromBytes(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: empty chunk response", ErrMalformedProof)
	}
	switch data[0] {
	case 0:
		if len(data) != 1 {
			return fmt.Errorf("%w: trailing bytes after miss", ErrMalformedProof)
		}
		r.Proof = nil
		return nil
	case 1:
		p, err := MultiChunkProofFromBytes(data[1:])
		if err != nil {
			return err
		}
		r.Proof = p
		return nil
	default:
		return fmt.Errorf("%w: response tag %d", ErrMalformedProof, data[0])
	}
}
