package node

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/rpc"
	"strconv"

	"github.com/Pauli-Group/Hegemon-sub002/common"
	"github.com/Pauli-Group/Hegemon-sub002/da"
	"github.com/Pauli-Group/Hegemon-sub002/daerrors"
	"github.com/Pauli-Group/Hegemon-sub002/log"
)

// Chunk lookup statuses shared by net/rpc and HTTP.
const (
	StatusOK           = "ok"
	StatusUnknownRoot  = "unknown_root"
	StatusUnknownChunk = "unknown_chunk"
	StatusPruned       = "pruned"
	StatusIOError      = "io_error"
)

func chunkStatus(err error) string {
	switch daerrors.Sentinel(err) {
	case nil:
		if err != nil {
			return StatusIOError
		}
		return StatusOK
	case daerrors.ErrSUnknownRoot:
		return StatusUnknownRoot
	case daerrors.ErrSUnknownChunk, daerrors.ErrIIndexOutOfRange:
		return StatusUnknownChunk
	case daerrors.ErrSPruned:
		return StatusPruned
	default:
		return StatusIOError
	}
}

func statusError(status, detail string) error {
	var sentinel error
	switch status {
	case StatusOK:
		return nil
	case StatusUnknownRoot:
		sentinel = daerrors.ErrSUnknownRoot
	case StatusUnknownChunk:
		sentinel = daerrors.ErrSUnknownChunk
	case StatusPruned:
		sentinel = daerrors.ErrSPruned
	case StatusIOError:
		sentinel = daerrors.ErrSIoFailure
	default:
		return fmt.Errorf("unexpected chunk status %q", status)
	}
	if detail == "" {
		return sentinel
	}
	return fmt.Errorf("%w: %s", sentinel, detail)
}

// ChunkResult is the get_chunk answer.
type ChunkResult struct {
	Status string              `json:"status"`
	Error  string              `json:"error,omitempty"`
	Proof  *da.MultiChunkProof `json:"proof,omitempty"`
}

// BlockRoot is the get_block_root answer.
type BlockRoot struct {
	Root   common.Hash48 `json:"root"`
	Height uint64        `json:"height"`
}

// DA is the net/rpc service registered as "da".
type DA struct {
	node *Node
}

func parseChunkArgs(rootHex, indexStr string) (common.Hash48, uint32, error) {
	root, err := common.ParseHash48(rootHex)
	if err != nil {
		return root, 0, fmt.Errorf("invalid root: %w", err)
	}
	index, err := strconv.ParseUint(indexStr, 10, 32)
	if err != nil {
		return root, 0, fmt.Errorf("invalid index %q: %w", indexStr, err)
	}
	return root, uint32(index), nil
}

// GetChunk takes [root, index] and answers with a JSON ChunkResult.
func (j *DA) GetChunk(req []string, res *string) error {
	if len(req) != 2 {
		return fmt.Errorf("GetChunk expects [root, index], got %d args", len(req))
	}
	root, index, err := parseChunkArgs(req[0], req[1])
	if err != nil {
		return err
	}
	result := ChunkResult{Status: StatusOK}
	proof, err := j.node.GetChunk(root, index)
	if err != nil {
		result.Status = chunkStatus(err)
		result.Error = err.Error()
	} else {
		result.Proof = proof
	}
	b, err := json.Marshal(result)
	if err != nil {
		return err
	}
	*res = string(b)
	return nil
}

// GetParams answers with the JSON ParamsInfo.
func (j *DA) GetParams(req []string, res *string) error {
	b, err := json.Marshal(j.node.params.Info())
	if err != nil {
		return err
	}
	*res = string(b)
	return nil
}

// GetBlockRoot takes [blockHash] and answers with a JSON BlockRoot.
func (j *DA) GetBlockRoot(req []string, res *string) error {
	if len(req) != 1 {
		return fmt.Errorf("GetBlockRoot expects [blockHash], got %d args", len(req))
	}
	raw, err := common.DecodeHex(req[0])
	if err != nil || len(raw) != 32 {
		return fmt.Errorf("invalid block hash %q", req[0])
	}
	root, height, err := j.node.store.RootByBlock(common.BytesToHash(raw))
	if err != nil {
		return err
	}
	b, err := json.Marshal(BlockRoot{Root: root, Height: height})
	if err != nil {
		return err
	}
	*res = string(b)
	return nil
}

func (n *Node) startRPCServer(addr string) error {
	server := rpc.NewServer()
	if err := server.RegisterName("da", &DA{node: n}); err != nil {
		return err
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("rpc listen %s: %w", addr, err)
	}
	n.rpcListener = listener
	log.Info(log.RPC, "RPC server started", "addr", listener.Addr().String())

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		for {
			conn, err := listener.Accept()
			if err != nil {
				if n.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
					return
				}
				log.Warn(log.RPC, "Failed to accept connection", "err", err)
				continue
			}
			go server.ServeConn(conn)
		}
	}()
	return nil
}

// ----------------- client side -----------------

type NodeClient struct {
	Addr   string
	Client *rpc.Client
}

func DialNodeClient(addr string) (*NodeClient, error) {
	client, err := rpc.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial rpc %s: %w", addr, err)
	}
	return &NodeClient{Addr: addr, Client: client}, nil
}

func (nc *NodeClient) Close() error {
	return nc.Client.Close()
}

// GetChunk returns the proof, or an error matching the daerrors store
// sentinel for the miss.
func (nc *NodeClient) GetChunk(root common.Hash48, index uint32) (*da.MultiChunkProof, error) {
	var resultStr string
	err := nc.Client.Call("da.GetChunk", []string{root.Hex(), strconv.FormatUint(uint64(index), 10)}, &resultStr)
	if err != nil {
		return nil, err
	}
	var result ChunkResult
	if err := json.Unmarshal([]byte(resultStr), &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal chunk result: %w", err)
	}
	if err := statusError(result.Status, result.Error); err != nil {
		return nil, err
	}
	if result.Proof == nil {
		return nil, errors.New("chunk result without proof")
	}
	return result.Proof, nil
}

func (nc *NodeClient) GetParams() (da.ParamsInfo, error) {
	var resultStr string
	var info da.ParamsInfo
	if err := nc.Client.Call("da.GetParams", []string{}, &resultStr); err != nil {
		return info, err
	}
	err := json.Unmarshal([]byte(resultStr), &info)
	return info, err
}

func (nc *NodeClient) GetBlockRoot(blockHash common.Hash) (BlockRoot, error) {
	var resultStr string
	var br BlockRoot
	if err := nc.Client.Call("da.GetBlockRoot", []string{blockHash.Hex()}, &resultStr); err != nil {
		return br, err
	}
	err := json.Unmarshal([]byte(resultStr), &br)
	return br, err
}
