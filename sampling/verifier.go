package sampling

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/Pauli-Group/Hegemon-sub002/common"
	"github.com/Pauli-Group/Hegemon-sub002/da"
	"github.com/Pauli-Group/Hegemon-sub002/daerrors"
	"github.com/Pauli-Group/Hegemon-sub002/log"
	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// Peer is the request/response channel to one remote node.
type Peer interface {
	ID() string
	RequestChunk(ctx context.Context, req da.ChunkRequest) (*da.ChunkResponse, error)
}

// Observer receives per-attempt and per-challenge notifications.
type Observer interface {
	ChunkRequested(peer string, c Challenge)
	ChallengeDone(blockHash common.Hash, r Result)
}

type nopObserver struct{}

func (nopObserver) ChunkRequested(string, Challenge)  {}
func (nopObserver) ChallengeDone(common.Hash, Result) {}

// Config bounds one audit cycle.
type Config struct {
	SampleCount    int           `json:"sample_count"`
	Timeout        time.Duration `json:"timeout"`
	MaxAttempts    int           `json:"max_attempts"`
	InitialBackoff time.Duration `json:"initial_backoff"`
	MaxBackoff     time.Duration `json:"max_backoff"`
	Parallelism    int           `json:"parallelism"`
}

func DefaultConfig() Config {
	return Config{
		SampleCount:    da.DefaultSampleCount,
		Timeout:        2 * time.Second,
		MaxAttempts:    3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		Parallelism:    8,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.SampleCount <= 0 {
		c.SampleCount = d.SampleCount
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = d.InitialBackoff
	}
	if c.MaxBackoff < c.InitialBackoff {
		c.MaxBackoff = c.InitialBackoff
	}
	if c.Parallelism <= 0 {
		c.Parallelism = d.Parallelism
	}
	return c
}

// Verifier runs availability audits against peers.
type Verifier struct {
	cfg      Config
	secret   da.NodeSecret
	observer Observer
	tracer   trace.Tracer
	inFlight atomic.Int64
}

type Option func(*Verifier)

func WithObserver(o Observer) Option {
	return func(v *Verifier) {
		if o != nil {
			v.observer = o
		}
	}
}

// WithSecret mixes a node-private secret into challenge derivation.
func WithSecret(s da.NodeSecret) Option {
	return func(v *Verifier) { v.secret = s }
}

func NewVerifier(cfg Config, opts ...Option) *Verifier {
	v := &Verifier{
		cfg:      cfg.withDefaults(),
		observer: nopObserver{},
		tracer:   otel.Tracer("github.com/Pauli-Group/Hegemon-sub002/sampling"),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

func (v *Verifier) Config() Config {
	return v.cfg
}

// State is ChallengeIssued while any audit is in flight, Idle otherwise.
func (v *Verifier) State() State {
	if v.inFlight.Load() > 0 {
		return ChallengeIssued
	}
	return Idle
}

// Challenges derives the challenge set for a block. With the zero secret it
// is the same on every node.
func (v *Verifier) Challenges(blockHash common.Hash, root common.Hash48, layout *da.Layout) []Challenge {
	idx := da.SampleIndices(v.secret, blockHash, root, layout, v.cfg.SampleCount)
	out := make([]Challenge, len(idx))
	for i, g := range idx {
		out[i] = Challenge{Root: root, Index: g}
	}
	return out
}

// Audit issues every challenge for the block and waits for all of them. When
// ctx is cancelled the outstanding challenges are dropped and no report is
// produced.
func (v *Verifier) Audit(ctx context.Context, blockHash common.Hash, root common.Hash48, layout *da.Layout, peers []Peer) (*Report, error) {
	v.inFlight.Add(1)
	defer v.inFlight.Add(-1)

	ctx, span := v.tracer.Start(ctx, "sampling.Audit", trace.WithAttributes(
		attribute.String("block", blockHash.Hex()),
		attribute.String("root", root.Hex()),
		attribute.Int("peers", len(peers)),
	))
	defer span.End()

	challenges := v.Challenges(blockHash, root, layout)
	results := make([]Result, len(challenges))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.cfg.Parallelism)
	for i, c := range challenges {
		g.Go(func() error {
			r := v.challenge(gctx, c, i, peers)
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i] = r
			v.observer.ChallengeDone(blockHash, r)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.SetStatus(codes.Error, "cancelled")
		log.Debug(log.Sampling, "audit cancelled", "block", blockHash.Short(), "err", err)
		return nil, err
	}

	report := &Report{BlockHash: blockHash, Root: root, Results: results}
	for _, r := range results {
		if r.State == Verified {
			report.Passed++
		} else {
			report.Failed++
		}
	}
	span.SetAttributes(attribute.Int("passed", report.Passed), attribute.Int("failed", report.Failed))
	if !report.Available() {
		span.SetStatus(codes.Error, "unavailable")
		log.Warn(log.Sampling, "availability audit failed", "block", blockHash.Short(),
			"root", root.Short(), "passed", report.Passed, "failed", report.Failed)
	} else {
		log.Debug(log.Sampling, "availability audit passed", "block", blockHash.Short(), "samples", len(results))
	}
	return report, nil
}

// challenge runs one challenge with bounded retries. Attempt n goes to
// peer (offset+n) mod len(peers).
func (v *Verifier) challenge(ctx context.Context, c Challenge, offset int, peers []Peer) Result {
	res := Result{Challenge: c, State: ChallengeIssued}
	if len(peers) == 0 {
		res.State = FailedUnavailable
		res.Err = fmt.Errorf("%w: no peers", daerrors.ErrXPeerUnavailable)
		return res
	}

	ctx, span := v.tracer.Start(ctx, "sampling.Challenge", trace.WithAttributes(attribute.Int64("index", int64(c.Index))))
	defer span.End()

	req := da.ChunkRequest{Root: c.Root, Index: c.Index}
	var lastErr error
	op := func() error {
		peer := peers[(offset+res.Attempts)%len(peers)]
		res.Attempts++
		res.Peer = peer.ID()
		v.observer.ChunkRequested(peer.ID(), c)

		actx, cancel := context.WithTimeout(ctx, v.cfg.Timeout)
		resp, err := peer.RequestChunk(actx, req)
		timedOut := errors.Is(actx.Err(), context.DeadlineExceeded)
		cancel()
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if err != nil && timedOut {
			err = context.DeadlineExceeded
		}
		lastErr = v.check(peer.ID(), c, resp, err)
		return lastErr
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = v.cfg.InitialBackoff
	eb.MaxInterval = v.cfg.MaxBackoff
	eb.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(v.cfg.MaxAttempts-1)), ctx)

	err := backoff.Retry(op, policy)
	if err == nil {
		lastErr = nil
	} else if lastErr == nil {
		lastErr = err
	}
	res.Err = lastErr
	res.State = stateOf(lastErr)
	if res.State != Verified {
		span.SetStatus(codes.Error, res.State.String())
		log.Debug(log.Sampling, "challenge failed", "index", c.Index, "peer", res.Peer, "attempts", res.Attempts, "err", lastErr)
	}
	return res
}

func (v *Verifier) check(peer string, c Challenge, resp *da.ChunkResponse, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: peer %s chunk %d", daerrors.ErrXTimeout, peer, c.Index)
	case err != nil:
		return fmt.Errorf("%w: peer %s: %v", daerrors.ErrXPeerUnavailable, peer, err)
	case !resp.Found():
		return fmt.Errorf("%w: peer %s does not hold chunk %d", daerrors.ErrXPeerUnavailable, peer, c.Index)
	case resp.Proof.Index != c.Index:
		return fmt.Errorf("%w: peer %s answered chunk %d for %d", daerrors.ErrXInvalidProofFromPeer, peer, resp.Proof.Index, c.Index)
	}
	if verr := da.VerifyMultiChunk(c.Root, resp.Proof); verr != nil {
		return fmt.Errorf("%w: peer %s: %v", daerrors.ErrXInvalidProofFromPeer, peer, verr)
	}
	return nil
}
