package binding

import (
	"context"
	"fmt"
	"runtime"

	"github.com/Pauli-Group/Hegemon-sub002/common"
	"github.com/Pauli-Group/Hegemon-sub002/da"
	"github.com/Pauli-Group/Hegemon-sub002/daerrors"
	"github.com/Pauli-Group/Hegemon-sub002/log"
	"golang.org/x/sync/errgroup"
)

// Binding ties one output's committed ciphertext hash to the global index of
// the chunk where its bytes start. Both values come from the proof system.
type Binding struct {
	CiphertextHash common.Hash48 `json:"ciphertext_hash"`
	GlobalIndex    uint32        `json:"global_index"`
}

// Hasher recomputes the ciphertext hash over raw bytes.
type Hasher interface {
	Hash(ciphertext []byte) common.Hash48
}

var ciphertextDomain = []byte("ciphertext-hash")

// Blake3Hasher is blake3-384 over "ciphertext-hash" || bytes.
type Blake3Hasher struct{}

func (Blake3Hasher) Hash(ciphertext []byte) common.Hash48 {
	return common.Blake3_384(ciphertextDomain, ciphertext)
}

// RangeReader serves blob bytes; *da.Encoding reads them from its data chunks.
type RangeReader interface {
	Layout() *da.Layout
	ReadRange(offset, length int) ([]byte, error)
}

// MismatchError names the output that failed.
type MismatchError struct {
	Tx     int
	Output int
	Reason string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("%v: tx %d output %d: %s", daerrors.ErrBHashMismatch, e.Tx, e.Output, e.Reason)
}

func (e *MismatchError) Unwrap() error {
	return daerrors.ErrBHashMismatch
}

// Checker verifies ciphertext bindings during import.
type Checker struct {
	hasher      Hasher
	parallelism int
}

func NewChecker(h Hasher) *Checker {
	if h == nil {
		h = Blake3Hasher{}
	}
	return &Checker{hasher: h, parallelism: runtime.GOMAXPROCS(0)}
}

// BindingsFor computes the bindings an honest producer would publish for spans.
func (c *Checker) BindingsFor(src RangeReader, spans []da.CiphertextSpan) ([]Binding, error) {
	out := make([]Binding, len(spans))
	for i, sp := range spans {
		b, err := c.expected(src, sp)
		if err != nil {
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}

func (c *Checker) expected(src RangeReader, sp da.CiphertextSpan) (Binding, error) {
	ct, err := src.ReadRange(sp.Offset, sp.Length)
	if err != nil {
		return Binding{}, err
	}
	b := Binding{CiphertextHash: c.hasher.Hash(ct)}
	if sp.Length > 0 {
		b.GlobalIndex, err = src.Layout().ChunkForOffset(sp.Offset)
	} else {
		b.GlobalIndex, err = startChunk(src.Layout(), sp.Offset)
	}
	return b, err
}

// startChunk locates zero-length ciphertexts, which may sit at the very end of the blob.
func startChunk(l *da.Layout, offset int) (uint32, error) {
	if offset < l.DataLen {
		return l.ChunkForOffset(offset)
	}
	if offset == 0 {
		return 0, nil
	}
	return l.ChunkForOffset(offset - 1)
}

// Check verifies every binding against its span. All outputs are checked,
// independently and in parallel, before the result is returned; any failure
// is a *MismatchError wrapping daerrors.ErrBHashMismatch.
func (c *Checker) Check(ctx context.Context, src RangeReader, spans []da.CiphertextSpan, bindings []Binding) error {
	if len(spans) != len(bindings) {
		return &MismatchError{Tx: -1, Output: -1, Reason: fmt.Sprintf("%d ciphertexts but %d bindings", len(spans), len(bindings))}
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.parallelism)
	for i := range spans {
		sp, want := spans[i], bindings[i]
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			got, err := c.expected(src, sp)
			if err != nil {
				return &MismatchError{Tx: sp.Tx, Output: sp.Output, Reason: err.Error()}
			}
			if got.GlobalIndex != want.GlobalIndex {
				return &MismatchError{Tx: sp.Tx, Output: sp.Output,
					Reason: fmt.Sprintf("bound to chunk %d, bytes start in chunk %d", want.GlobalIndex, got.GlobalIndex)}
			}
			if got.CiphertextHash != want.CiphertextHash {
				return &MismatchError{Tx: sp.Tx, Output: sp.Output,
					Reason: fmt.Sprintf("hash %s, bound %s", got.CiphertextHash.Short(), want.CiphertextHash.Short())}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Warn(log.Binding, "binding check failed", "err", err)
		return err
	}
	log.Debug(log.Binding, "bindings verified", "outputs", len(spans))
	return nil
}
