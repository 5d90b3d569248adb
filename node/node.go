package node

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/Pauli-Group/Hegemon-sub002/binding"
	"github.com/Pauli-Group/Hegemon-sub002/common"
	"github.com/Pauli-Group/Hegemon-sub002/da"
	"github.com/Pauli-Group/Hegemon-sub002/daerrors"
	"github.com/Pauli-Group/Hegemon-sub002/ed25519"
	"github.com/Pauli-Group/Hegemon-sub002/log"
	"github.com/Pauli-Group/Hegemon-sub002/node/gosafe"
	"github.com/Pauli-Group/Hegemon-sub002/sampling"
	"github.com/Pauli-Group/Hegemon-sub002/storage"
	"github.com/Pauli-Group/Hegemon-sub002/telemetry"
	"github.com/quic-go/quic-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Block is the DA view of a block: its identity, the DaRoot carried in the
// header and the shielded-output ciphertexts with their bindings.
type Block struct {
	Hash     common.Hash       `json:"hash"`
	Height   uint64            `json:"height"`
	DaRoot   common.Hash48     `json:"da_root"`
	Txs      [][][]byte        `json:"txs"`
	Bindings []binding.Binding `json:"bindings"`
}

// Node ties the DA core to storage, the peer network and the RPC surfaces.
type Node struct {
	cfg    Config
	params da.Params

	store    *storage.RetentionStore
	checker  *binding.Checker
	verifier *sampling.Verifier
	metrics  *Metrics
	tracer   trace.Tracer

	telemetryClient *telemetry.TelemetryClient

	key             ed25519.PrivateKey
	tlsConfig       *tls.Config
	clientTLSConfig *tls.Config
	server          *quic.Listener

	peersMu sync.RWMutex
	peers   map[string]*Peer

	workers   *gosafe.WorkerManager
	reportsMu sync.RWMutex
	reports   map[common.Hash]*sampling.Report

	height  atomic.Uint64
	pruneCh chan struct{}

	rpcListener net.Listener
	httpServer  *http.Server
	httpAddr    net.Addr

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started atomic.Bool
	closed  atomic.Bool
}

type Option func(*Node)

// WithTelemetry replaces the telemetry client built from the config.
func WithTelemetry(tc *telemetry.TelemetryClient) Option {
	return func(n *Node) { n.telemetryClient = tc }
}

// WithHasher replaces the ciphertext hasher used by binding checks.
func WithHasher(h binding.Hasher) Option {
	return func(n *Node) { n.checker = binding.NewChecker(h) }
}

// WithTracerProvider traces the node's operations on tp instead of the
// global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(n *Node) { n.tracer = tp.Tracer("github.com/Pauli-Group/Hegemon-sub002/node") }
}

// NewNode opens the store and prepares every component. Nothing listens
// until Start.
func NewNode(cfg Config, opts ...Option) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	kv, err := openKV(cfg)
	if err != nil {
		return nil, err
	}
	store := storage.NewRetentionStore(kv, cfg.PruneBatch)

	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		store.Close()
		return nil, err
	}
	cert, err := generateSelfSignedCert(priv.Public().(ed25519.PublicKey), priv)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("generate certificate: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	n := &Node{
		cfg:             cfg,
		params:          cfg.Params(),
		store:           store,
		checker:         binding.NewChecker(nil),
		tracer:          otel.Tracer("github.com/Pauli-Group/Hegemon-sub002/node"),
		key:             priv,
		tlsConfig:       serverTLSConfig(cert),
		clientTLSConfig: clientTLSConfig(cert),
		peers:           make(map[string]*Peer),
		workers:         gosafe.NewWorkerManager(ctx),
		reports:         make(map[common.Hash]*sampling.Report),
		pruneCh:         make(chan struct{}, 1),
		ctx:             ctx,
		cancel:          cancel,
	}
	n.metrics = NewMetrics(store.Metrics())
	for _, opt := range opts {
		opt(n)
	}
	if n.telemetryClient == nil {
		n.telemetryClient = newTelemetryClient(cfg)
	}

	vopts := []sampling.Option{sampling.WithObserver(&nodeObserver{n: n})}
	if cfg.RandomizeSamples {
		secret, err := da.GenerateNodeSecret()
		if err != nil {
			cancel()
			store.Close()
			return nil, err
		}
		vopts = append(vopts, sampling.WithSecret(secret))
	}
	n.verifier = sampling.NewVerifier(cfg.SamplingConfig(), vopts...)

	for _, addr := range cfg.Peers {
		n.AddPeer(addr)
	}
	log.Info(log.Node, "node created", "name", cfg.NodeName, "engine", cfg.StoreEngine,
		"chunk_size", n.params.ChunkSize, "sample_count", n.params.SampleCount, "hot_window", cfg.HotWindow)
	return n, nil
}

func openKV(cfg Config) (storage.KV, error) {
	switch strings.ToLower(cfg.StoreEngine) {
	case EngineLevelDB:
		return storage.NewPersistenceStore(filepath.Join(cfg.DataDir, "leveldb"))
	case EngineBolt:
		return storage.NewBoltStore(filepath.Join(cfg.DataDir, "da.bolt"))
	default:
		return storage.NewMemoryPersistenceStore()
	}
}

func newTelemetryClient(cfg Config) *telemetry.TelemetryClient {
	if cfg.TelemetryAddr == "" {
		return telemetry.NewNoOpTelemetryClient()
	}
	host, port, err := net.SplitHostPort(cfg.TelemetryAddr)
	if err != nil {
		log.Warn(log.Telemetry, "bad telemetry address, telemetry disabled", "addr", cfg.TelemetryAddr, "err", err)
		return telemetry.NewNoOpTelemetryClient()
	}
	tc := telemetry.NewTelemetryClient(host, port)
	info := telemetry.NodeInfo{
		NodeName:    cfg.NodeName,
		NodeVersion: Version,
		ChunkSize:   cfg.ChunkSize,
		SampleCount: cfg.SampleCount,
	}
	if qh, qp, err := net.SplitHostPort(cfg.QuicAddr); err == nil {
		if ip, p, err := telemetry.ParseTelemetryAddress(qh, qp); err == nil {
			info.PeerAddress, info.PeerPort = ip, p
		}
	}
	if err := tc.Connect(info); err != nil {
		log.Warn(log.Telemetry, "telemetry server unreachable, telemetry disabled", "addr", cfg.TelemetryAddr, "err", err)
		return telemetry.NewNoOpTelemetryClient()
	}
	return tc
}

// Version is reported to telemetry and on /health.
var Version = "0.1.0"

func (n *Node) String() string {
	return fmt.Sprintf("[%s]", n.cfg.NodeName)
}

func (n *Node) Config() Config                 { return n.cfg }
func (n *Node) Params() da.Params              { return n.params }
func (n *Node) Store() *storage.RetentionStore { return n.store }
func (n *Node) Metrics() *Metrics              { return n.metrics }
func (n *Node) Verifier() *sampling.Verifier   { return n.verifier }

// Height is the highest block height seen by this node.
func (n *Node) Height() uint64 {
	return n.height.Load()
}

func (n *Node) noteHeight(h uint64) {
	for {
		cur := n.height.Load()
		if h <= cur || n.height.CompareAndSwap(cur, h) {
			break
		}
	}
	n.metrics.height.Set(float64(n.height.Load()))
}

// Start opens the QUIC, net/rpc and HTTP listeners that are configured and
// starts the pruner.
func (n *Node) Start() error {
	if !n.started.CompareAndSwap(false, true) {
		return errors.New("node already started")
	}
	if n.cfg.QuicAddr != "" {
		listener, err := quic.ListenAddr(n.cfg.QuicAddr, n.tlsConfig, GenerateQuicConfig())
		if err != nil {
			return fmt.Errorf("quic listen %s: %w", n.cfg.QuicAddr, err)
		}
		n.server = listener
		log.Info(log.Net, "quic listening", "addr", listener.Addr().String())
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			n.runServer()
		}()
	}
	if n.cfg.RPCAddr != "" {
		if err := n.startRPCServer(n.cfg.RPCAddr); err != nil {
			n.Stop()
			return err
		}
	}
	if n.cfg.HTTPAddr != "" {
		if err := n.startHTTPServer(n.cfg.HTTPAddr); err != nil {
			n.Stop()
			return err
		}
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.runPruner()
	}()
	return nil
}

// Stop cancels in-flight audits, closes listeners and the store.
func (n *Node) Stop() error {
	if !n.closed.CompareAndSwap(false, true) {
		return nil
	}
	n.cancel()
	if n.server != nil {
		n.server.Close()
	}
	if n.rpcListener != nil {
		n.rpcListener.Close()
	}
	if n.httpServer != nil {
		n.httpServer.Close()
	}
	n.workers.Wait()
	n.wg.Wait()

	n.peersMu.Lock()
	for _, p := range n.peers {
		p.Close()
	}
	n.peersMu.Unlock()
	n.telemetryClient.Close()
	return n.store.Close()
}

// QuicAddr is the bound QUIC address, or nil when not listening.
func (n *Node) QuicAddr() net.Addr {
	if n.server == nil {
		return nil
	}
	return n.server.Addr()
}

func (n *Node) RPCAddr() net.Addr {
	if n.rpcListener == nil {
		return nil
	}
	return n.rpcListener.Addr()
}

func (n *Node) HTTPAddr() net.Addr {
	return n.httpAddr
}

// AddPeer registers a peer by QUIC address. Adding a known address returns
// the existing peer.
func (n *Node) AddPeer(addr string) *Peer {
	n.peersMu.Lock()
	defer n.peersMu.Unlock()
	if p, ok := n.peers[addr]; ok {
		return p
	}
	p := NewPeer(n, addr)
	n.peers[addr] = p
	return p
}

func (n *Node) samplingPeers() []sampling.Peer {
	n.peersMu.RLock()
	defer n.peersMu.RUnlock()
	out := make([]sampling.Peer, 0, len(n.peers))
	for _, p := range n.peers {
		out = append(out, p)
	}
	return out
}

// ProduceBlock lays out the block's ciphertexts, encodes and stores the blob
// and returns the block with its DaRoot and bindings filled in.
func (n *Node) ProduceBlock(blockHash common.Hash, height uint64, txs [][][]byte) (*Block, error) {
	_, span := n.tracer.Start(n.ctx, "node.ProduceBlock", trace.WithAttributes(
		attribute.String("block", blockHash.Hex()), attribute.Int64("height", int64(height))))
	defer span.End()

	blob := da.BuildBlob(txs)
	spans, err := da.ParseBlob(blob)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	enc, err := da.EncodeBlob(blob, n.params)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("encode blob: %w", err)
	}
	bindings, err := n.checker.BindingsFor(enc, spans)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if _, err := n.store.Put(blockHash, height, enc); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	n.noteHeight(height)
	n.telemetryClient.BlobStored(blockHash, height, enc.Root(), enc.DataLen(), enc.Layout().TotalChunks())
	n.triggerPrune()
	span.SetAttributes(attribute.String("da_root", enc.Root().Hex()))
	log.Info(log.Node, "block produced", "block", blockHash.Short(), "height", height,
		"root", enc.Root().Short(), "bytes", enc.DataLen(), "chunks", enc.Layout().TotalChunks())
	return &Block{Hash: blockHash, Height: height, DaRoot: enc.Root(), Txs: txs, Bindings: bindings}, nil
}

// ImportBlock re-encodes the block's blob, checks the header DaRoot and
// every ciphertext binding, stores the chunks and schedules an advisory
// availability audit. The block is rejected before anything is stored if
// any check fails.
func (n *Node) ImportBlock(ctx context.Context, blk *Block) error {
	ctx, span := n.tracer.Start(ctx, "node.ImportBlock", trace.WithAttributes(
		attribute.String("block", blk.Hash.Hex()), attribute.Int64("height", int64(blk.Height))))
	defer span.End()

	err := n.importBlock(ctx, blk)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		n.metrics.imports.WithLabelValues(importResult(err)).Inc()
		log.Warn(log.Node, "block import rejected", "block", blk.Hash.Short(), "height", blk.Height, "err", err)
		return err
	}
	n.metrics.imports.WithLabelValues("accepted").Inc()
	return nil
}

func (n *Node) importBlock(ctx context.Context, blk *Block) error {
	blob := da.BuildBlob(blk.Txs)
	spans, err := da.ParseBlob(blob)
	if err != nil {
		return err
	}
	enc, err := da.EncodeBlob(blob, n.params)
	if err != nil {
		return fmt.Errorf("encode blob: %w", err)
	}
	if enc.Root() != blk.DaRoot {
		return fmt.Errorf("%w: header %s, blob %s", daerrors.ErrERootMismatch, blk.DaRoot.Short(), enc.Root().Short())
	}
	if err := n.checker.Check(ctx, enc, spans, blk.Bindings); err != nil {
		var mm *binding.MismatchError
		if errors.As(err, &mm) {
			n.metrics.bindingRejects.Inc()
			n.telemetryClient.BindingRejected(blk.Hash, mm.Tx, mm.Output, mm.Reason)
		}
		return err
	}
	stored, err := n.store.Put(blk.Hash, blk.Height, enc)
	if err != nil {
		return err
	}
	n.noteHeight(blk.Height)
	n.telemetryClient.BlobStored(blk.Hash, blk.Height, enc.Root(), enc.DataLen(), enc.Layout().TotalChunks())
	log.Info(log.Node, "block imported", "block", blk.Hash.Short(), "height", blk.Height,
		"root", enc.Root().Short(), "new", stored, "outputs", len(spans))

	n.startAudit(blk.Hash, enc.Root(), enc.Layout())
	n.triggerPrune()
	return nil
}

func importResult(err error) string {
	switch daerrors.KindOf(err) {
	case daerrors.KindBinding:
		return "binding_rejected"
	case daerrors.KindEncoding:
		if errors.Is(err, daerrors.ErrERootMismatch) {
			return "root_mismatch"
		}
		return "encoding_error"
	case daerrors.KindStore:
		return "store_error"
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "cancelled"
	}
	return "error"
}

// startAudit samples the block's chunks from peers in the background.
func (n *Node) startAudit(blockHash common.Hash, root common.Hash48, layout *da.Layout) {
	peers := n.samplingPeers()
	if len(peers) == 0 {
		log.Debug(log.Sampling, "no peers, audit skipped", "block", blockHash.Short())
		return
	}
	n.workers.StartWorker(blockHash.Hex(), "audit", func(ctx context.Context) {
		report, err := n.verifier.Audit(ctx, blockHash, root, layout, peers)
		if err != nil {
			n.metrics.audits.WithLabelValues("cancelled").Inc()
			return
		}
		outcome := "available"
		if !report.Available() {
			outcome = "unavailable"
		}
		n.metrics.audits.WithLabelValues(outcome).Inc()
		n.reportsMu.Lock()
		defer n.reportsMu.Unlock()
		// the block may have been pruned while the audit ran
		if _, _, err := n.store.RootByBlock(blockHash); err == nil {
			n.reports[blockHash] = report
		}
	})
}

// CancelImport drops the outstanding audit of an abandoned block. It returns
// the number of audits cancelled.
func (n *Node) CancelImport(blockHash common.Hash) int {
	c := n.workers.StopKey(blockHash.Hex())
	if c > 0 {
		log.Info(log.Node, "import abandoned, audit cancelled", "block", blockHash.Short())
	}
	return c
}

// AuditReport returns the finished audit of a block.
func (n *Node) AuditReport(blockHash common.Hash) (*sampling.Report, bool) {
	n.reportsMu.RLock()
	defer n.reportsMu.RUnlock()
	r, ok := n.reports[blockHash]
	return r, ok
}

// GetChunk serves one chunk and proof from the retention store.
func (n *Node) GetChunk(root common.Hash48, index uint32) (*da.MultiChunkProof, error) {
	proof, err := n.store.Get(root, index)
	if err != nil {
		n.metrics.chunkMisses.WithLabelValues(chunkStatus(err)).Inc()
		return nil, err
	}
	n.metrics.chunksServed.Inc()
	return proof, nil
}
