package node

import (
	"time"

	"github.com/Pauli-Group/Hegemon-sub002/common"
	"github.com/Pauli-Group/Hegemon-sub002/log"
	"github.com/Pauli-Group/Hegemon-sub002/storage"
)

// triggerPrune asks the pruner for a sweep without blocking.
func (n *Node) triggerPrune() {
	select {
	case n.pruneCh <- struct{}{}:
	default:
	}
}

func (n *Node) runPruner() {
	interval := n.cfg.PruneInterval.D()
	if interval <= 0 {
		interval = DefaultConfig().PruneInterval.D()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
		case <-n.pruneCh:
		}
		if _, err := n.PruneAt(n.Height()); err != nil {
			log.Error(log.Store, "prune failed", "height", n.Height(), "err", err)
		}
	}
}

// PruneAt removes every root whose blocks all sit below current - HotWindow.
func (n *Node) PruneAt(current uint64) (storage.PruneStats, error) {
	stats, err := n.store.Prune(current, n.cfg.HotWindow)
	if err != nil {
		return stats, err
	}
	if stats.Blocks > 0 {
		n.dropReports(stats.Dropped)
		n.metrics.recordPrune(stats)
		n.telemetryClient.PruneCompleted(stats.Cutoff, stats.Blocks, stats.Roots, stats.Chunks, stats.Took)
		log.Debug(log.Node, "prune sweep", "current", current, "window", n.cfg.HotWindow, "roots", stats.Roots)
	}
	return stats, nil
}

// dropReports forgets the audit reports of pruned blocks.
func (n *Node) dropReports(blocks []common.Hash) {
	n.reportsMu.Lock()
	defer n.reportsMu.Unlock()
	for _, b := range blocks {
		delete(n.reports, b)
	}
}
