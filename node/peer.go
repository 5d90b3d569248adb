package node

import (
	"context"
	"fmt"
	"sync"

	"github.com/Pauli-Group/Hegemon-sub002/da"
	"github.com/Pauli-Group/Hegemon-sub002/log"
	"github.com/quic-go/quic-go"
	"golang.org/x/sync/singleflight"
)

// Peer is the client side of the chunk protocol towards one remote node. It
// implements sampling.Peer.
type Peer struct {
	node     *Node
	PeerAddr string `json:"peer_addr"`

	connectionMu sync.Mutex
	conn         quic.Connection

	requests singleflight.Group
}

func NewPeer(n *Node, peerAddr string) *Peer {
	return &Peer{node: n, PeerAddr: peerAddr}
}

func (p *Peer) String() string {
	return fmt.Sprintf("%s => %s", p.node, p.PeerAddr)
}

func (p *Peer) ID() string {
	return p.PeerAddr
}

// connection returns the cached connection, dialing when there is none or
// the cached one has closed.
func (p *Peer) connection(ctx context.Context) (quic.Connection, error) {
	p.connectionMu.Lock()
	defer p.connectionMu.Unlock()
	if p.conn != nil && p.conn.Context().Err() == nil {
		return p.conn, nil
	}
	conn, err := quic.DialAddr(ctx, p.PeerAddr, p.node.clientTLSConfig, GenerateQuicConfig())
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", p.PeerAddr, err)
	}
	p.conn = conn
	return conn, nil
}

func (p *Peer) dropConnection(conn quic.Connection) {
	p.connectionMu.Lock()
	defer p.connectionMu.Unlock()
	if p.conn == conn {
		p.conn = nil
	}
}

// openStream opens a bidirectional stream and writes the stream code.
func (p *Peer) openStream(ctx context.Context, code uint8) (quic.Stream, error) {
	conn, err := p.connection(ctx)
	if err != nil {
		return nil, err
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		p.dropConnection(conn)
		return nil, fmt.Errorf("open stream: %w", err)
	}
	setStreamDeadline(ctx, stream)
	if _, err := stream.Write([]byte{code}); err != nil {
		stream.CancelWrite(ErrCodeCancelled)
		return nil, err
	}
	return stream, nil
}

func (p *Peer) Close() error {
	p.connectionMu.Lock()
	defer p.connectionMu.Unlock()
	if p.conn == nil {
		return nil
	}
	err := p.conn.CloseWithError(0, "peer closed")
	p.conn = nil
	return err
}

// RequestChunk fetches one chunk and proof. Concurrent requests for the same
// chunk share one round trip. The shared round trip is bounded by
// streamTimeout and the node's lifetime, not by any one caller's context;
// each caller stops waiting when its own ctx is done.
func (p *Peer) RequestChunk(ctx context.Context, req da.ChunkRequest) (*da.ChunkResponse, error) {
	key := fmt.Sprintf("%x/%d", req.Root[:], req.Index)
	ch := p.requests.DoChan(key, func() (interface{}, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), streamTimeout)
		defer cancel()
		stop := context.AfterFunc(p.node.ctx, cancel)
		defer stop()
		return p.SendChunkRequest(shared, req)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			log.Trace(log.Net, "chunk request shared", "peer", p.PeerAddr, "index", req.Index)
		}
		return res.Val.(*da.ChunkResponse), nil
	}
}
