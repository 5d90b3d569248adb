package storage

import "sync/atomic"

// Metrics tracks retention store activity.
type Metrics struct {
	puts          atomic.Uint64
	duplicatePuts atomic.Uint64
	reads         atomic.Uint64
	hits          atomic.Uint64
	misses        atomic.Uint64
	prunedRoots   atomic.Uint64
	prunedBlocks  atomic.Uint64
	prunedChunks  atomic.Uint64
	ioFailures    atomic.Uint64
}

// NewMetrics creates a new metrics tracker.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordPut records a block put; duplicate puts are no-ops on disk.
func (m *Metrics) RecordPut(duplicate bool) {
	m.puts.Add(1)
	if duplicate {
		m.duplicatePuts.Add(1)
	}
}

// RecordRead records a chunk read.
func (m *Metrics) RecordRead(hit bool) {
	m.reads.Add(1)
	if hit {
		m.hits.Add(1)
	} else {
		m.misses.Add(1)
	}
}

func (m *Metrics) RecordPrune(stats PruneStats) {
	m.prunedRoots.Add(uint64(stats.Roots))
	m.prunedBlocks.Add(uint64(stats.Blocks))
	m.prunedChunks.Add(uint64(stats.Chunks))
}

func (m *Metrics) RecordIOFailure() {
	m.ioFailures.Add(1)
}

func (m *Metrics) Puts() uint64          { return m.puts.Load() }
func (m *Metrics) DuplicatePuts() uint64 { return m.duplicatePuts.Load() }
func (m *Metrics) Reads() uint64         { return m.reads.Load() }
func (m *Metrics) Hits() uint64          { return m.hits.Load() }
func (m *Metrics) Misses() uint64        { return m.misses.Load() }
func (m *Metrics) PrunedRoots() uint64   { return m.prunedRoots.Load() }
func (m *Metrics) PrunedBlocks() uint64  { return m.prunedBlocks.Load() }
func (m *Metrics) PrunedChunks() uint64  { return m.prunedChunks.Load() }
func (m *Metrics) IOFailures() uint64    { return m.ioFailures.Load() }

// HitRatio returns the read hit ratio (0.0 - 1.0).
func (m *Metrics) HitRatio() float64 {
	hits := m.hits.Load()
	total := hits + m.misses.Load()
	if total == 0 {
		return 0.0
	}
	return float64(hits) / float64(total)
}
