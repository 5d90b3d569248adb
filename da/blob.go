package da

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var ErrMalformedBlob = errors.New("malformed blob")

// CiphertextSpan locates one output ciphertext inside a blob.
type CiphertextSpan struct {
	Tx     int `json:"tx"`
	Output int `json:"output"`
	Offset int `json:"offset"`
	Length int `json:"length"`
}

// BuildBlob lays out the ciphertexts of a block:
// u32 tx count, then per tx a u32 output count, then per output u32 length || bytes.
// All integers little-endian.
func BuildBlob(txs [][][]byte) []byte {
	size := 4
	for _, outs := range txs {
		size += 4
		for _, ct := range outs {
			size += 4 + len(ct)
		}
	}
	blob := make([]byte, 0, size)
	blob = binary.LittleEndian.AppendUint32(blob, uint32(len(txs)))
	for _, outs := range txs {
		blob = binary.LittleEndian.AppendUint32(blob, uint32(len(outs)))
		for _, ct := range outs {
			blob = binary.LittleEndian.AppendUint32(blob, uint32(len(ct)))
			blob = append(blob, ct...)
		}
	}
	return blob
}

// ParseBlob returns the span of every ciphertext in tx, output order.
func ParseBlob(blob []byte) ([]CiphertextSpan, error) {
	off := 0
	next := func() (int, error) {
		if len(blob)-off < 4 {
			return 0, fmt.Errorf("%w: truncated at offset %d", ErrMalformedBlob, off)
		}
		v := binary.LittleEndian.Uint32(blob[off:])
		off += 4
		return int(v), nil
	}
	txCount, err := next()
	if err != nil {
		return nil, err
	}
	var spans []CiphertextSpan
	for tx := 0; tx < txCount; tx++ {
		outCount, err := next()
		if err != nil {
			return nil, err
		}
		for o := 0; o < outCount; o++ {
			n, err := next()
			if err != nil {
				return nil, err
			}
			if n > len(blob)-off {
				return nil, fmt.Errorf("%w: ciphertext %d/%d runs past end", ErrMalformedBlob, tx, o)
			}
			spans = append(spans, CiphertextSpan{Tx: tx, Output: o, Offset: off, Length: n})
			off += n
		}
	}
	if off != len(blob) {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformedBlob, len(blob)-off)
	}
	return spans, nil
}
