package node

import (
	"github.com/Pauli-Group/Hegemon-sub002/common"
	"github.com/Pauli-Group/Hegemon-sub002/log"
	"github.com/Pauli-Group/Hegemon-sub002/sampling"
)

// nodeObserver forwards sampling progress to metrics and telemetry.
type nodeObserver struct {
	n *Node
}

func (o *nodeObserver) ChunkRequested(peer string, c sampling.Challenge) {
	log.Trace(log.Sampling, "chunk requested", "peer", peer, "root", c.Root.Short(), "index", c.Index)
}

func (o *nodeObserver) ChallengeDone(blockHash common.Hash, r sampling.Result) {
	o.n.metrics.samples.WithLabelValues(r.State.String()).Inc()
	if r.State == sampling.Verified {
		o.n.telemetryClient.SampleVerified(blockHash, r.Root, r.Index, r.Peer, r.Attempts)
		return
	}
	o.n.telemetryClient.SampleFailed(blockHash, r.Root, r.Index, r.Peer, r.Attempts, r.State.String())
}
