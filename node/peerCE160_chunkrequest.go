package node

import (
	"context"
	"fmt"

	"github.com/Pauli-Group/Hegemon-sub002/da"
	"github.com/Pauli-Group/Hegemon-sub002/daerrors"
	"github.com/Pauli-Group/Hegemon-sub002/log"
	"github.com/quic-go/quic-go"
)

/*
CE 160: Chunk request
Used by sampling verifiers and light clients to fetch one erasure-coded chunk
with its two-layer proof.

DaRoot = [u8; 48]
Global Index = u32
ChunkResponse = 0x00 (not held) OR 0x01 ++ MultiChunkProof

Verifier -> Holder

--> Code ++ len ++ DaRoot ++ Global Index
--> FIN
<-- len ++ ChunkResponse
<-- FIN

A holder that fails to read its store resets the stream with ErrCodeIO
instead of answering "not held".
*/

func (p *Peer) SendChunkRequest(ctx context.Context, req da.ChunkRequest) (*da.ChunkResponse, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	n := p.node
	eventID := n.telemetryClient.ChunkRequestSent(p.PeerAddr, req.Root, req.Index)
	resp, err := p.sendChunkRequest(ctx, req)
	if err != nil {
		n.telemetryClient.ChunkRequestFailed(eventID, p.PeerAddr, req.Root, req.Index, err.Error())
		n.metrics.chunkRequests.WithLabelValues("error").Inc()
		return nil, err
	}
	if resp.Found() {
		n.metrics.chunkRequests.WithLabelValues("found").Inc()
	} else {
		n.metrics.chunkRequests.WithLabelValues("miss").Inc()
	}
	return resp, nil
}

func (p *Peer) sendChunkRequest(ctx context.Context, req da.ChunkRequest) (*da.ChunkResponse, error) {
	code := CE160_ChunkRequest
	stream, err := p.openStream(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("openStream[CE160]: %w", err)
	}
	stop := context.AfterFunc(ctx, func() {
		stream.CancelRead(ErrCodeCancelled)
		stream.CancelWrite(ErrCodeCancelled)
	})
	defer stop()

	// --> DaRoot ++ Global Index
	if err := sendQuicBytes(ctx, stream, req.ToBytes()); err != nil {
		stream.CancelRead(ErrCodeCancelled)
		return nil, fmt.Errorf("sendQuicBytes[CE160]: %w", err)
	}
	// --> FIN
	stream.Close()

	// <-- ChunkResponse
	msg, err := receiveQuicBytes(ctx, stream, maxResponseSize)
	if err != nil {
		return nil, fmt.Errorf("receiveQuicBytes[CE160]: %w", err)
	}
	var resp da.ChunkResponse
	if err := resp.FromBytes(msg); err != nil {
		return nil, fmt.Errorf("%w: %v", daerrors.ErrXInvalidProofFromPeer, err)
	}
	return &resp, nil
}

// holder answers a CE160 request from its retention store.
func (n *Node) onChunkRequest(ctx context.Context, stream quic.Stream, msg []byte, peer string) error {
	defer stream.Close()

	var req da.ChunkRequest
	if err := req.FromBytes(msg); err != nil {
		stream.CancelWrite(ErrCodeBadRequest)
		return fmt.Errorf("onChunkRequest: decode failed: %w", err)
	}

	var resp da.ChunkResponse
	proof, err := n.GetChunk(req.Root, req.Index)
	switch {
	case err == nil:
		resp.Proof = proof
	case daerrors.Sentinel(err) == daerrors.ErrSIoFailure:
		stream.CancelWrite(ErrCodeIO)
		log.Error(log.Net, "onChunkRequest: store failure", "root", req.Root.Short(), "index", req.Index, "err", err)
		return err
	default:
		log.Trace(log.Net, "onChunkRequest: not held", "root", req.Root.Short(), "index", req.Index, "err", err)
	}
	n.telemetryClient.ChunkServed(peer, req.Root, req.Index, resp.Found())

	// <-- ChunkResponse
	if err := sendQuicBytes(ctx, stream, resp.ToBytes()); err != nil {
		stream.CancelWrite(ErrCodeIO)
		return fmt.Errorf("onChunkRequest: send response failed: %w", err)
	}
	return nil
}
