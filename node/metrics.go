package node

import (
	"net/http"

	"github.com/Pauli-Group/Hegemon-sub002/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "danode"

// Metrics are the node's Prometheus collectors. Each node owns a registry so
// several nodes can run in one process.
type Metrics struct {
	registry *prometheus.Registry

	chunksServed   prometheus.Counter
	chunkMisses    *prometheus.CounterVec
	chunkRequests  *prometheus.CounterVec
	imports        *prometheus.CounterVec
	bindingRejects prometheus.Counter
	samples        *prometheus.CounterVec
	audits         *prometheus.CounterVec
	prunedRoots    prometheus.Counter
	prunedChunks   prometheus.Counter
	height         prometheus.Gauge
}

func NewMetrics(store *storage.Metrics) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		chunksServed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace, Name: "chunks_served_total",
			Help: "Chunk requests answered with a proof.",
		}),
		chunkMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Name: "chunk_misses_total",
			Help: "Chunk requests that could not be answered, by reason.",
		}, []string{"reason"}),
		chunkRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Name: "chunk_requests_total",
			Help: "Outbound chunk requests, by result.",
		}, []string{"result"}),
		imports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Name: "block_imports_total",
			Help: "Block imports, by result.",
		}, []string{"result"}),
		bindingRejects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace, Name: "binding_rejections_total",
			Help: "Blocks rejected because a ciphertext binding did not match.",
		}),
		samples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Name: "samples_total",
			Help: "Sampling challenges, by terminal state.",
		}, []string{"state"}),
		audits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Name: "audits_total",
			Help: "Availability audits, by outcome.",
		}, []string{"outcome"}),
		prunedRoots: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace, Name: "pruned_roots_total",
			Help: "DaRoots removed by pruning.",
		}),
		prunedChunks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace, Name: "pruned_chunks_total",
			Help: "Chunk records removed by pruning.",
		}),
		height: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace, Name: "best_height",
			Help: "Highest imported or produced block height.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.chunksServed, m.chunkMisses, m.chunkRequests, m.imports, m.bindingRejects,
		m.samples, m.audits, m.prunedRoots, m.prunedChunks, m.height,
	)
	if store != nil {
		m.registry.MustRegister(
			prometheus.NewCounterFunc(prometheus.CounterOpts{
				Namespace: metricsNamespace, Subsystem: "store", Name: "reads_total",
				Help: "Retention store chunk reads.",
			}, func() float64 { return float64(store.Reads()) }),
			prometheus.NewCounterFunc(prometheus.CounterOpts{
				Namespace: metricsNamespace, Subsystem: "store", Name: "io_failures_total",
				Help: "Retention store I/O failures.",
			}, func() float64 { return float64(store.IOFailures()) }),
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: metricsNamespace, Subsystem: "store", Name: "hit_ratio",
				Help: "Fraction of chunk reads that found a record.",
			}, store.HitRatio),
		)
	}
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) recordPrune(stats storage.PruneStats) {
	m.prunedRoots.Add(float64(stats.Roots))
	m.prunedChunks.Add(float64(stats.Chunks))
}
