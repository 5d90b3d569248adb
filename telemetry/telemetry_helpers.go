package telemetry

import (
	"encoding/binary"
	"fmt"

	"github.com/Pauli-Group/Hegemon-sub002/common"
)

// payloadReader walks an event payload; the first short read sticks as err
// and every later read returns the zero value.
type payloadReader struct {
	payload []byte
	offset  int
	err     error
}

func newPayloadReader(p []byte) *payloadReader {
	return &payloadReader{payload: p}
}

func (r *payloadReader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.offset+n > len(r.payload) {
		r.err = fmt.Errorf("payload truncated at offset %d: need %d of %d bytes", r.offset, n, len(r.payload)-r.offset)
		return nil
	}
	b := r.payload[r.offset : r.offset+n]
	r.offset += n
	return b
}

func (r *payloadReader) remaining() int {
	return len(r.payload) - r.offset
}

func (r *payloadReader) uint8() uint8 {
	if b := r.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (r *payloadReader) uint16() uint16 {
	if b := r.take(2); b != nil {
		return binary.LittleEndian.Uint16(b)
	}
	return 0
}

func (r *payloadReader) uint32() uint32 {
	if b := r.take(4); b != nil {
		return binary.LittleEndian.Uint32(b)
	}
	return 0
}

func (r *payloadReader) uint64() uint64 {
	if b := r.take(8); b != nil {
		return binary.LittleEndian.Uint64(b)
	}
	return 0
}

func (r *payloadReader) hash() common.Hash {
	return common.BytesToHash(r.take(32))
}

func (r *payloadReader) hash48() common.Hash48 {
	return common.BytesToHash48(r.take(common.Hash48Length))
}

func (r *payloadReader) string() string {
	n := r.uint8()
	return string(r.take(int(n)))
}

// done reports the first read error or trailing bytes.
func (r *payloadReader) done() error {
	if r.err != nil {
		return r.err
	}
	if r.offset != len(r.payload) {
		return fmt.Errorf("payload has %d trailing bytes", len(r.payload)-r.offset)
	}
	return nil
}

func formatBytes(data []byte) string {
	if len(data) == 0 {
		return "0x"
	}
	return fmt.Sprintf("0x%x", data)
}
