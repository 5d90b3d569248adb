package telemetry

import (
	"time"

	"github.com/Pauli-Group/Hegemon-sub002/common"
)

// ChunkRequestEvent covers Chunk_Request_Sent and Chunk_Request_Failed.
type ChunkRequestEvent struct {
	EventID uint64        `json:"event_id"`
	Peer    string        `json:"peer"`
	Root    common.Hash48 `json:"root"`
	Index   uint32        `json:"index"`
	Reason  string        `json:"reason,omitempty"`
}

type ChunkServedEvent struct {
	Peer  string        `json:"peer"`
	Root  common.Hash48 `json:"root"`
	Index uint32        `json:"index"`
	Found bool          `json:"found"`
}

// SampleEvent covers Sample_Verified and Sample_Failed.
type SampleEvent struct {
	BlockHash common.Hash   `json:"block_hash"`
	Root      common.Hash48 `json:"root"`
	Index     uint32        `json:"index"`
	Peer      string        `json:"peer"`
	Attempts  uint8         `json:"attempts"`
	State     string        `json:"state,omitempty"`
}

type BlobStoredEvent struct {
	BlockHash common.Hash   `json:"block_hash"`
	Height    uint64        `json:"height"`
	Root      common.Hash48 `json:"root"`
	DataLen   uint32        `json:"data_len"`
	Chunks    uint32        `json:"chunks"`
}

type BindingRejectedEvent struct {
	BlockHash common.Hash `json:"block_hash"`
	Tx        int32       `json:"tx"`
	Output    int32       `json:"output"`
	Reason    string      `json:"reason"`
}

type PruneCompletedEvent struct {
	Cutoff uint64 `json:"cutoff"`
	Blocks uint32 `json:"blocks"`
	Roots  uint32 `json:"roots"`
	Chunks uint32 `json:"chunks"`
	TookUs uint64 `json:"took_us"`
}

// ChunkRequestSent records an outbound chunk request and returns the event
// ID a later failure refers to.
func (c *TelemetryClient) ChunkRequestSent(peer string, root common.Hash48, index uint32) uint64 {
	if !c.Enabled() {
		return 0
	}
	id := c.GetEventID()
	var payload []byte
	payload = append(payload, common.Uint64ToBytes(id)...)
	payload = append(payload, encodeString(peer, maxPeerLen)...)
	payload = append(payload, root.Bytes()...)
	payload = append(payload, common.Uint32ToBytes(index)...)
	c.sendEvent(Telemetry_Chunk_Request_Sent, payload)
	return id
}

func (c *TelemetryClient) ChunkRequestFailed(eventID uint64, peer string, root common.Hash48, index uint32, reason string) {
	if !c.Enabled() {
		return
	}
	var payload []byte
	payload = append(payload, common.Uint64ToBytes(eventID)...)
	payload = append(payload, encodeString(peer, maxPeerLen)...)
	payload = append(payload, root.Bytes()...)
	payload = append(payload, common.Uint32ToBytes(index)...)
	payload = append(payload, encodeString(reason, maxReasonLen)...)
	c.sendEvent(Telemetry_Chunk_Request_Failed, payload)
}

func (c *TelemetryClient) ChunkServed(peer string, root common.Hash48, index uint32, found bool) {
	if !c.Enabled() {
		return
	}
	var payload []byte
	payload = append(payload, encodeString(peer, maxPeerLen)...)
	payload = append(payload, root.Bytes()...)
	payload = append(payload, common.Uint32ToBytes(index)...)
	payload = append(payload, encodeBool(found))
	c.sendEvent(Telemetry_Chunk_Served, payload)
}

func (c *TelemetryClient) SampleVerified(blockHash common.Hash, root common.Hash48, index uint32, peer string, attempts int) {
	if !c.Enabled() {
		return
	}
	c.sendEvent(Telemetry_Sample_Verified, encodeSample(blockHash, root, index, peer, attempts, ""))
}

func (c *TelemetryClient) SampleFailed(blockHash common.Hash, root common.Hash48, index uint32, peer string, attempts int, state string) {
	if !c.Enabled() {
		return
	}
	c.sendEvent(Telemetry_Sample_Failed, encodeSample(blockHash, root, index, peer, attempts, state))
}

func encodeSample(blockHash common.Hash, root common.Hash48, index uint32, peer string, attempts int, state string) []byte {
	if attempts > 255 {
		attempts = 255
	}
	var payload []byte
	payload = append(payload, blockHash.Bytes()...)
	payload = append(payload, root.Bytes()...)
	payload = append(payload, common.Uint32ToBytes(index)...)
	payload = append(payload, encodeString(peer, maxPeerLen)...)
	payload = append(payload, byte(attempts))
	payload = append(payload, encodeString(state, 32)...)
	return payload
}

func (c *TelemetryClient) BlobStored(blockHash common.Hash, height uint64, root common.Hash48, dataLen, chunks int) {
	if !c.Enabled() {
		return
	}
	var payload []byte
	payload = append(payload, blockHash.Bytes()...)
	payload = append(payload, common.Uint64ToBytes(height)...)
	payload = append(payload, root.Bytes()...)
	payload = append(payload, common.Uint32ToBytes(uint32(dataLen))...)
	payload = append(payload, common.Uint32ToBytes(uint32(chunks))...)
	c.sendEvent(Telemetry_Blob_Stored, payload)
}

// BindingRejected records a failed binding check; tx and output are -1 when
// the failure is not tied to one output.
func (c *TelemetryClient) BindingRejected(blockHash common.Hash, tx, output int, reason string) {
	if !c.Enabled() {
		return
	}
	var payload []byte
	payload = append(payload, blockHash.Bytes()...)
	payload = append(payload, common.Uint32ToBytes(uint32(int32(tx)))...)
	payload = append(payload, common.Uint32ToBytes(uint32(int32(output)))...)
	payload = append(payload, encodeString(reason, maxReasonLen)...)
	c.sendEvent(Telemetry_Binding_Rejected, payload)
}

func (c *TelemetryClient) PruneCompleted(cutoff uint64, blocks, roots, chunks int, took time.Duration) {
	if !c.Enabled() {
		return
	}
	var payload []byte
	payload = append(payload, common.Uint64ToBytes(cutoff)...)
	payload = append(payload, common.Uint32ToBytes(uint32(blocks))...)
	payload = append(payload, common.Uint32ToBytes(uint32(roots))...)
	payload = append(payload, common.Uint32ToBytes(uint32(chunks))...)
	payload = append(payload, common.Uint64ToBytes(uint64(took/time.Microsecond))...)
	c.sendEvent(Telemetry_Prune_Completed, payload)
}

func DecodeChunkRequest(p []byte) (interface{}, error) {
	r := newPayloadReader(p)
	ev := ChunkRequestEvent{
		EventID: r.uint64(),
		Peer:    r.string(),
		Root:    r.hash48(),
		Index:   r.uint32(),
	}
	if r.remaining() > 0 {
		ev.Reason = r.string()
	}
	return ev, r.done()
}

func DecodeChunkServed(p []byte) (interface{}, error) {
	r := newPayloadReader(p)
	ev := ChunkServedEvent{
		Peer:  r.string(),
		Root:  r.hash48(),
		Index: r.uint32(),
		Found: r.uint8() == 1,
	}
	return ev, r.done()
}

func DecodeSample(p []byte) (interface{}, error) {
	r := newPayloadReader(p)
	ev := SampleEvent{
		BlockHash: r.hash(),
		Root:      r.hash48(),
		Index:     r.uint32(),
		Peer:      r.string(),
		Attempts:  r.uint8(),
		State:     r.string(),
	}
	return ev, r.done()
}

func DecodeBlobStored(p []byte) (interface{}, error) {
	r := newPayloadReader(p)
	ev := BlobStoredEvent{
		BlockHash: r.hash(),
		Height:    r.uint64(),
		Root:      r.hash48(),
		DataLen:   r.uint32(),
		Chunks:    r.uint32(),
	}
	return ev, r.done()
}

func DecodeBindingRejected(p []byte) (interface{}, error) {
	r := newPayloadReader(p)
	ev := BindingRejectedEvent{
		BlockHash: r.hash(),
		Tx:        int32(r.uint32()),
		Output:    int32(r.uint32()),
		Reason:    r.string(),
	}
	return ev, r.done()
}

func DecodePruneCompleted(p []byte) (interface{}, error) {
	r := newPayloadReader(p)
	ev := PruneCompletedEvent{
		Cutoff: r.uint64(),
		Blocks: r.uint32(),
		Roots:  r.uint32(),
		Chunks: r.uint32(),
		TookUs: r.uint64(),
	}
	return ev, r.done()
}

func DecodeDropped(p []byte) (interface{}, error) {
	r := newPayloadReader(p)
	ev := struct {
		LastTimestamp uint64 `json:"last_timestamp"`
		Dropped       uint64 `json:"dropped"`
	}{r.uint64(), r.uint64()}
	return ev, r.done()
}
