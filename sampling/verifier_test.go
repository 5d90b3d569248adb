package sampling

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Pauli-Group/Hegemon-sub002/common"
	"github.com/Pauli-Group/Hegemon-sub002/da"
	"github.com/stretchr/testify/require"
)

type behaviour int

const (
	honest behaviour = iota
	missing
	corrupt
	slow
	broken
	wrongIndex
)

type fakePeer struct {
	id    string
	enc   *da.Encoding
	mode  behaviour
	calls atomic.Int64
}

func (p *fakePeer) ID() string { return p.id }

func (p *fakePeer) RequestChunk(ctx context.Context, req da.ChunkRequest) (*da.ChunkResponse, error) {
	p.calls.Add(1)
	switch p.mode {
	case missing:
		return &da.ChunkResponse{}, nil
	case slow:
		<-ctx.Done()
		return nil, ctx.Err()
	case broken:
		return nil, errors.New("connection reset")
	}
	proof, err := p.enc.Proof(req.Index)
	if err != nil {
		return &da.ChunkResponse{}, nil
	}
	cp, err := da.MultiChunkProofFromBytes(proof.ToBytes())
	if err != nil {
		return nil, err
	}
	switch p.mode {
	case corrupt:
		cp.Chunk.Data[0] ^= 0xff
	case wrongIndex:
		other, _ := p.enc.Proof((req.Index + 1) % uint32(p.enc.Layout().TotalChunks()))
		cp = other
	}
	return &da.ChunkResponse{Proof: cp}, nil
}

type recorder struct {
	mu       sync.Mutex
	requests int
	results  []Result
}

func (r *recorder) ChunkRequested(string, Challenge) {
	r.mu.Lock()
	r.requests++
	r.mu.Unlock()
}

func (r *recorder) ChallengeDone(_ common.Hash, res Result) {
	r.mu.Lock()
	r.results = append(r.results, res)
	r.mu.Unlock()
}

func fixture(t *testing.T) (*da.Encoding, common.Hash) {
	t.Helper()
	blob := make([]byte, 3000)
	rand.New(rand.NewSource(11)).Read(blob)
	enc, err := da.EncodeBlob(blob, da.Params{ChunkSize: 32, SampleCount: 8})
	require.NoError(t, err)
	return enc, common.HexToHash("0xabcdef")
}

func fastConfig() Config {
	return Config{
		SampleCount:    8,
		Timeout:        50 * time.Millisecond,
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Parallelism:    4,
	}
}

func TestAuditHonestPeers(t *testing.T) {
	enc, block := fixture(t)
	rec := &recorder{}
	v := NewVerifier(fastConfig(), WithObserver(rec))
	peers := []Peer{&fakePeer{id: "a", enc: enc}, &fakePeer{id: "b", enc: enc}}

	report, err := v.Audit(context.Background(), block, enc.Root(), enc.Layout(), peers)
	require.NoError(t, err)
	require.True(t, report.Available())
	require.Equal(t, 8, report.Passed)
	for _, r := range report.Results {
		require.Equal(t, Verified, r.State)
		require.Equal(t, 1, r.Attempts)
	}
	require.Len(t, rec.results, 8)
	require.Equal(t, 8, rec.requests)
	require.Equal(t, Idle, v.State())
}

func TestChallengesAreReplayable(t *testing.T) {
	enc, block := fixture(t)
	a := NewVerifier(fastConfig()).Challenges(block, enc.Root(), enc.Layout())
	b := NewVerifier(fastConfig()).Challenges(block, enc.Root(), enc.Layout())
	require.Equal(t, a, b)
	require.Len(t, a, 8)

	secret, err := da.GenerateNodeSecret()
	require.NoError(t, err)
	c := NewVerifier(fastConfig(), WithSecret(secret)).Challenges(block, enc.Root(), enc.Layout())
	require.NotEqual(t, a, c)
}

func TestAuditFailureStates(t *testing.T) {
	enc, block := fixture(t)
	cases := []struct {
		mode  behaviour
		state State
	}{
		{missing, FailedUnavailable},
		{broken, FailedUnavailable},
		{corrupt, FailedInvalidProof},
		{wrongIndex, FailedInvalidProof},
		{slow, FailedTimeout},
	}
	for _, c := range cases {
		peer := &fakePeer{id: "bad", enc: enc, mode: c.mode}
		v := NewVerifier(fastConfig())
		report, err := v.Audit(context.Background(), block, enc.Root(), enc.Layout(), []Peer{peer})
		require.NoError(t, err)
		require.False(t, report.Available())
		require.Equal(t, 8, report.Failed)
		for _, r := range report.Results {
			require.Equal(t, c.state, r.State, "mode %d", c.mode)
			require.Equal(t, 3, r.Attempts)
			require.Error(t, r.Err)
		}
		require.Equal(t, int64(8*3), peer.calls.Load())
	}
}

func TestAuditRetriesOnNextPeer(t *testing.T) {
	enc, block := fixture(t)
	bad := &fakePeer{id: "bad", enc: enc, mode: corrupt}
	good := &fakePeer{id: "good", enc: enc}
	v := NewVerifier(fastConfig())

	report, err := v.Audit(context.Background(), block, enc.Root(), enc.Layout(), []Peer{bad, good})
	require.NoError(t, err)
	require.True(t, report.Available())
	for _, r := range report.Results {
		require.Equal(t, "good", r.Peer)
		require.LessOrEqual(t, r.Attempts, 2)
	}
}

func TestAuditNoPeers(t *testing.T) {
	enc, block := fixture(t)
	report, err := NewVerifier(fastConfig()).Audit(context.Background(), block, enc.Root(), enc.Layout(), nil)
	require.NoError(t, err)
	require.Equal(t, 8, report.Failed)
	require.Equal(t, FailedUnavailable, report.Results[0].State)
}

func TestAuditCancellationDropsChallenges(t *testing.T) {
	enc, block := fixture(t)
	cfg := fastConfig()
	cfg.Timeout = time.Minute
	rec := &recorder{}
	v := NewVerifier(cfg, WithObserver(rec))
	peer := &fakePeer{id: "slow", enc: enc, mode: slow}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	var report *Report
	var err error
	go func() {
		report, err = v.Audit(ctx, block, enc.Root(), enc.Layout(), []Peer{peer})
		close(done)
	}()
	require.Eventually(t, func() bool { return peer.calls.Load() > 0 }, time.Second, time.Millisecond)
	require.Equal(t, ChallengeIssued, v.State())
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("audit did not stop after cancellation")
	}
	require.ErrorIs(t, err, context.Canceled)
	require.Nil(t, report)
	require.Empty(t, rec.results)
	require.Equal(t, Idle, v.State())
}
