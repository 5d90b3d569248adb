package da

import (
	"encoding/json"
	"testing"

	"github.com/Pauli-Group/Hegemon-sub002/common"
	"github.com/stretchr/testify/require"
)

func TestChunkRequestCodec(t *testing.T) {
	req := ChunkRequest{Root: common.Blake3_384([]byte("root")), Index: 293}
	var got ChunkRequest
	require.NoError(t, got.FromBytes(req.ToBytes()))
	require.Equal(t, req, got)
	require.Error(t, got.FromBytes(req.ToBytes()[:10]))
}

func TestChunkResponseCodec(t *testing.T) {
	enc, err := EncodeBlob(testBlob(7, 5000), smallParams())
	require.NoError(t, err)
	proof, err := enc.Proof(3)
	require.NoError(t, err)

	resp := ChunkResponse{Proof: proof}
	var got ChunkResponse
	require.NoError(t, got.FromBytes(resp.ToBytes()))
	require.True(t, got.Found())
	require.NoError(t, VerifyMultiChunk(enc.Root(), got.Proof))

	miss := ChunkResponse{}
	require.Equal(t, []byte{0}, miss.ToBytes())
	require.NoError(t, got.FromBytes(miss.ToBytes()))
	require.False(t, got.Found())

	require.Error(t, got.FromBytes(nil))
	require.Error(t, got.FromBytes([]byte{2}))
	require.Error(t, got.FromBytes(append(resp.ToBytes(), 0)))
	require.Error(t, got.FromBytes(resp.ToBytes()[:40]))
}

func TestProofJSONUsesHex(t *testing.T) {
	enc, err := EncodeBlob([]byte("hello"), smallParams())
	require.NoError(t, err)
	proof, err := enc.Proof(0)
	require.NoError(t, err)

	b, err := json.Marshal(proof)
	require.NoError(t, err)
	require.Contains(t, string(b), `"page_root":"0x`)
	require.Contains(t, string(b), `"data":"0x68656c6c6f`)

	var back MultiChunkProof
	require.NoError(t, json.Unmarshal(b, &back))
	require.NoError(t, VerifyMultiChunk(enc.Root(), &back))
}

func TestMalformedProofPathBound(t *testing.T) {
	enc, err := EncodeBlob([]byte("hello"), smallParams())
	require.NoError(t, err)
	proof, err := enc.Proof(0)
	require.NoError(t, err)
	raw := proof.ToBytes()
	// chunk path length sits right after the chunk data
	pos := 5*4 + common.Hash48Length + 4 + 4 + len(proof.Chunk.Data)
	raw[pos] = 0xff
	_, err = MultiChunkProofFromBytes(raw)
	require.ErrorIs(t, err, ErrMalformedProof)
}
