package da

import (
	"crypto/rand"
	"encoding/binary"
	"math"

	"github.com/Pauli-Group/Hegemon-sub002/common"
	"golang.org/x/crypto/chacha20"
)

var sampleDomain = []byte("da-sample")

// NodeSecret is mixed into challenge derivation. The zero secret makes the
// challenges a pure function of the block, replayable by anyone.
type NodeSecret [32]byte

// GenerateNodeSecret returns a fresh random secret.
func GenerateNodeSecret() (NodeSecret, error) {
	var s NodeSecret
	_, err := rand.Read(s[:])
	return s, err
}

// SampleIndices derives min(count, TotalChunks) distinct global indices from a
// chacha20 keystream keyed by blake3(domain || blockHash || root || secret).
func SampleIndices(secret NodeSecret, blockHash common.Hash, root common.Hash48, layout *Layout, count int) []uint32 {
	total := layout.TotalChunks()
	if count > total {
		count = total
	}
	if count <= 0 {
		return nil
	}
	seed := common.Blake3_384(sampleDomain, blockHash.Bytes(), root[:], secret[:])
	var nonce [chacha20.NonceSize]byte
	stream, err := chacha20.NewUnauthenticatedCipher(seed[:chacha20.KeySize], nonce[:])
	if err != nil {
		// key and nonce sizes are fixed above
		panic(err)
	}

	// rejection sampling keeps the ordinal uniform over [0, total)
	limit := uint64(math.MaxUint32+1) / uint64(total) * uint64(total)
	seen := make(map[int]struct{}, count)
	out := make([]uint32, 0, count)
	var word [4]byte
	for len(out) < count {
		word = [4]byte{}
		stream.XORKeyStream(word[:], word[:])
		v := uint64(binary.LittleEndian.Uint32(word[:]))
		if v >= limit {
			continue
		}
		ordinal := int(v % uint64(total))
		if _, dup := seen[ordinal]; dup {
			continue
		}
		seen[ordinal] = struct{}{}
		g, err := layout.GlobalAt(ordinal)
		if err != nil {
			continue
		}
		out = append(out, g)
	}
	return out
}
