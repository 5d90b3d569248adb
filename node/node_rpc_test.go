package node

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Pauli-Group/Hegemon-sub002/common"
	"github.com/Pauli-Group/Hegemon-sub002/da"
	"github.com/Pauli-Group/Hegemon-sub002/daerrors"
	"github.com/stretchr/testify/require"
)

func TestRPCGetChunk(t *testing.T) {
	n := startNode(t, testConfig())
	blk, err := n.ProduceBlock(testBlockHash(10), 10, testTxs(10, 3, 3))
	require.NoError(t, err)

	client, err := DialNodeClient(n.RPCAddr().String())
	require.NoError(t, err)
	defer client.Close()

	proof, err := client.GetChunk(blk.DaRoot, 2)
	require.NoError(t, err)
	require.Equal(t, uint32(2), proof.Index)
	require.NoError(t, da.VerifyMultiChunk(blk.DaRoot, proof))

	_, err = client.GetChunk(blk.DaRoot, 1<<20)
	require.ErrorIs(t, err, daerrors.ErrSUnknownChunk)

	var unknown common.Hash48
	unknown[0] = 1
	_, err = client.GetChunk(unknown, 0)
	require.ErrorIs(t, err, daerrors.ErrSUnknownRoot)

	info, err := client.GetParams()
	require.NoError(t, err)
	require.Equal(t, n.Params().Info(), info)

	br, err := client.GetBlockRoot(blk.Hash)
	require.NoError(t, err)
	require.Equal(t, blk.DaRoot, br.Root)
	require.Equal(t, uint64(10), br.Height)

	_, err = client.GetBlockRoot(testBlockHash(11))
	require.Error(t, err)
}

func TestRPCPrunedChunk(t *testing.T) {
	n := startNode(t, testConfig())
	blk, err := n.ProduceBlock(testBlockHash(12), 1, testTxs(12, 1, 1))
	require.NoError(t, err)
	_, err = n.PruneAt(100)
	require.NoError(t, err)

	client, err := DialNodeClient(n.RPCAddr().String())
	require.NoError(t, err)
	defer client.Close()
	_, err = client.GetChunk(blk.DaRoot, 0)
	require.ErrorIs(t, err, daerrors.ErrSPruned)
}

func TestChunkStatusMapping(t *testing.T) {
	tests := []struct {
		err    error
		status string
		code   int
	}{
		{nil, StatusOK, http.StatusServiceUnavailable},
		{daerrors.ErrSUnknownRoot, StatusUnknownRoot, http.StatusNotFound},
		{daerrors.ErrSUnknownChunk, StatusUnknownChunk, http.StatusNotFound},
		{daerrors.ErrIIndexOutOfRange, StatusUnknownChunk, http.StatusNotFound},
		{daerrors.ErrSPruned, StatusPruned, http.StatusGone},
		{daerrors.ErrSIoFailure, StatusIOError, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		status := chunkStatus(tt.err)
		require.Equal(t, tt.status, status)
		if tt.err != nil {
			require.Equal(t, tt.code, httpStatus(status))
			require.ErrorIs(t, statusError(status, "detail"), tt.err)
		}
	}
	require.NoError(t, statusError(StatusOK, ""))
	require.Error(t, statusError("bogus", ""))
}

func getJSON(t *testing.T, h http.Handler, path string, v interface{}) int {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	if v != nil {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
	}
	return rec.Code
}

func TestHTTPRouter(t *testing.T) {
	n := startNode(t, testConfig())
	blk, err := n.ProduceBlock(testBlockHash(13), 3, testTxs(13, 2, 2))
	require.NoError(t, err)
	router := n.Router()

	var proof da.MultiChunkProof
	code := getJSON(t, router, "/da/chunk/"+blk.DaRoot.Hex()+"/1", &proof)
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, da.VerifyMultiChunk(blk.DaRoot, &proof))

	var apiErr map[string]string
	code = getJSON(t, router, "/da/chunk/"+blk.DaRoot.Hex()+"/99999", &apiErr)
	require.Equal(t, http.StatusNotFound, code)
	require.Equal(t, StatusUnknownChunk, apiErr["error"])

	code = getJSON(t, router, "/da/chunk/nothex/1", &apiErr)
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, "bad_request", apiErr["error"])

	var info da.ParamsInfo
	require.Equal(t, http.StatusOK, getJSON(t, router, "/da/params", &info))
	require.Equal(t, n.Params().Info(), info)

	var br BlockRoot
	require.Equal(t, http.StatusOK, getJSON(t, router, "/da/block/"+blk.Hash.Hex(), &br))
	require.Equal(t, blk.DaRoot, br.Root)
	require.Equal(t, http.StatusNotFound, getJSON(t, router, "/da/block/"+testBlockHash(14).Hex(), nil))

	var health map[string]interface{}
	require.Equal(t, http.StatusOK, getJSON(t, router, "/health", &health))
	require.Equal(t, "ok", health["status"])
	require.EqualValues(t, 3, health["height"])
	require.Contains(t, health, "audits")

	_, err = n.PruneAt(1000)
	require.NoError(t, err)
	code = getJSON(t, router, "/da/chunk/"+blk.DaRoot.Hex()+"/1", &apiErr)
	require.Equal(t, http.StatusGone, code)
	require.Equal(t, StatusPruned, apiErr["error"])

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), "danode_chunk_misses_total"))
}
