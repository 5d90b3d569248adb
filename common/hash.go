package common

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/zeebo/blake3"
)

// Hash48Length is the size of DA commitments and ciphertext hashes.
const Hash48Length = 48

// Hash48 is a 384-bit blake3 digest. DaRoots, page roots and ciphertext
// hashes are all Hash48 values.
type Hash48 [Hash48Length]byte

func (h Hash48) Bytes() []byte {
	return h[:]
}

func (h Hash48) Hex() string {
	return hexutil.Encode(h[:])
}

func (h Hash48) String() string {
	return h.Hex()
}

// Short prints the first and last two bytes, like Hash.Short.
func (h Hash48) Short() string {
	s := h.Hex()
	return fmt.Sprintf("%s..%s", s[2:6], s[len(s)-4:])
}

func (h Hash48) IsZero() bool {
	return h == Hash48{}
}

func (h Hash48) Equal(o Hash48) bool {
	return bytes.Equal(h[:], o[:])
}

// BytesToHash48 copies b into a Hash48, left-aligned; extra bytes are dropped.
func BytesToHash48(b []byte) Hash48 {
	var h Hash48
	copy(h[:], b)
	return h
}

// ParseHash48 decodes a hex string and rejects anything that is not exactly 48 bytes.
func ParseHash48(s string) (Hash48, error) {
	b, err := DecodeHex(s)
	if err != nil {
		return Hash48{}, fmt.Errorf("invalid hex: %w", err)
	}
	if len(b) != Hash48Length {
		return Hash48{}, fmt.Errorf("expected %d bytes, got %d", Hash48Length, len(b))
	}
	return BytesToHash48(b), nil
}

func (h Hash48) MarshalText() ([]byte, error) {
	return []byte(h.Hex()), nil
}

func (h *Hash48) UnmarshalText(text []byte) error {
	parsed, err := ParseHash48(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// Blake3_384 hashes the concatenation of parts into a 48-byte digest.
func Blake3_384(parts ...[]byte) Hash48 {
	hasher := blake3.New()
	for _, p := range parts {
		hasher.Write(p)
	}
	var out Hash48
	hasher.Digest().Read(out[:])
	return out
}

func Uint64ToBytes(val uint64) []byte {
	bytes := make([]byte, 8)
	binary.LittleEndian.PutUint64(bytes, val)
	return bytes
}

func Uint32ToBytes(val uint32) []byte {
	bytes := make([]byte, 4)
	binary.LittleEndian.PutUint32(bytes, val)
	return bytes
}
