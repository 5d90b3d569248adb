package telemetry

import (
	"bytes"
	"encoding/json"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Pauli-Group/Hegemon-sub002/common"
	"github.com/stretchr/testify/require"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := strings.TrimSpace(b.buf.String())
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

type entry struct {
	Time    time.Time       `json:"time"`
	Sender  string          `json:"sender_id"`
	MsgType string          `json:"msg_type"`
	Msg     json.RawMessage `json:"json_encoded"`
}

func TestTelemetryRoundTrip(t *testing.T) {
	out := &syncBuffer{}
	server := NewTelemetryServerWithWriter("127.0.0.1:0", out)
	require.NoError(t, server.Listen())
	go server.Serve()
	defer server.Stop()

	host, port, err := net.SplitHostPort(server.Addr().String())
	require.NoError(t, err)
	addr, peerPort, err := ParseTelemetryAddress(host, port)
	require.NoError(t, err)

	client := NewTelemetryClient(host, port)
	require.NoError(t, client.Connect(NodeInfo{
		NodeName:    "node-a",
		NodeVersion: "0.1.0",
		PeerAddress: addr,
		PeerPort:    peerPort,
		ChunkSize:   1024,
		SampleCount: 16,
	}))
	require.Error(t, client.Connect(NodeInfo{}))

	root := common.Blake3_384([]byte("root"))
	block := common.HexToHash("0x01")
	id := client.ChunkRequestSent("peer-1", root, 7)
	client.ChunkRequestFailed(id, "peer-1", root, 7, "timeout")
	client.ChunkServed("peer-2", root, 8, true)
	client.SampleVerified(block, root, 7, "peer-1", 2)
	client.SampleFailed(block, root, 9, "peer-3", 3, "failed_timeout")
	client.BlobStored(block, 12, root, 4096, 6)
	client.BindingRejected(block, 1, 0, "hash mismatch")
	client.PruneCompleted(7, 2, 1, 6, 1500*time.Microsecond)
	require.NoError(t, client.Close())

	require.Eventually(t, func() bool { return len(out.lines()) == 9 }, 2*time.Second, 10*time.Millisecond)

	var got []entry
	for _, line := range out.lines() {
		var e entry
		require.NoError(t, json.Unmarshal([]byte(line), &e))
		got = append(got, e)
	}
	types := make([]string, len(got))
	for i, e := range got {
		types[i] = e.MsgType
	}
	require.Equal(t, []string{
		"NODE_INFO", "CHUNK_REQUEST_SENT", "CHUNK_REQUEST_FAILED", "CHUNK_SERVED",
		"SAMPLE_VERIFIED", "SAMPLE_FAILED", "BLOB_STORED", "BINDING_REJECTED", "PRUNE_COMPLETED",
	}, types)

	var info NodeInfo
	require.NoError(t, json.Unmarshal(got[0].Msg, &info))
	require.Equal(t, "node-a", info.NodeName)
	require.Equal(t, uint32(16), info.SampleCount)

	var failed ChunkRequestEvent
	require.NoError(t, json.Unmarshal(got[2].Msg, &failed))
	require.Equal(t, ChunkRequestEvent{EventID: id, Peer: "peer-1", Root: root, Index: 7, Reason: "timeout"}, failed)

	var sample SampleEvent
	require.NoError(t, json.Unmarshal(got[5].Msg, &sample))
	require.Equal(t, "failed_timeout", sample.State)
	require.Equal(t, uint8(3), sample.Attempts)

	var stored BlobStoredEvent
	require.NoError(t, json.Unmarshal(got[6].Msg, &stored))
	require.Equal(t, uint64(12), stored.Height)
	require.Equal(t, uint32(6), stored.Chunks)

	var pruned PruneCompletedEvent
	require.NoError(t, json.Unmarshal(got[8].Msg, &pruned))
	require.Equal(t, uint64(1500), pruned.TookUs)
}

func TestNoOpClient(t *testing.T) {
	c := NewNoOpTelemetryClient()
	require.False(t, c.Enabled())
	require.NoError(t, c.Connect(NodeInfo{}))
	require.Equal(t, uint64(0), c.ChunkRequestSent("p", common.Hash48{}, 1))
	c.PruneCompleted(1, 1, 1, 1, time.Second)
	require.NoError(t, c.Close())

	var nilClient *TelemetryClient
	require.False(t, nilClient.Enabled())
	nilClient.ChunkServed("p", common.Hash48{}, 0, false)
}

func TestDecodeEventErrors(t *testing.T) {
	_, _, err := DecodeEvent(250, nil)
	require.Error(t, err)

	name, _, err := DecodeEvent(Telemetry_Blob_Stored, []byte{1, 2, 3})
	require.Error(t, err)
	require.Equal(t, "BLOB_STORED", name)

	payload := append(common.Uint64ToBytes(1), common.Uint64ToBytes(2)...)
	_, _, err = DecodeEvent(Telemetry_Dropped, append(payload, 0))
	require.ErrorContains(t, err, "trailing")

	_, msg, err := DecodeEvent(Telemetry_Dropped, payload)
	require.NoError(t, err)
	require.NotNil(t, msg)
}

func TestParseTelemetryAddress(t *testing.T) {
	ip, port, err := ParseTelemetryAddress("127.0.0.1", "9000")
	require.NoError(t, err)
	require.Equal(t, uint16(9000), port)
	require.Equal(t, byte(127), ip[12])

	_, _, err = ParseTelemetryAddress("not-an-ip", "1")
	require.Error(t, err)
	_, _, err = ParseTelemetryAddress("::1", "70000")
	require.Error(t, err)
}
