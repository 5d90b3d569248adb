package daerrors

import (
	"errors"
	"strings"
)

// Encoding (E) Errors
var (
	ErrEOversizedPage      = errors.New("E1|OversizedPage: Requested shard count exceeds the shard ceiling.")
	ErrEInvalidParams      = errors.New("E2|InvalidParams: Encoding parameters are out of range.")
	ErrEInsufficientShards = errors.New("E3|InsufficientShards: Fewer than k distinct, uncorrupted shards were supplied.")
	ErrERootMismatch       = errors.New("E4|RootMismatch: Re-encoded blob does not match the header DaRoot.")
)

// Index (I) Errors
var (
	ErrIIndexOutOfRange = errors.New("I1|IndexOutOfRange: Page or chunk index outside the addressable range.")
)

// Proof (P) Errors
var (
	ErrPBadChunk    = errors.New("P1|BadChunk: Chunk is malformed for its page (empty, misindexed or wrong size).")
	ErrPBadPagePath = errors.New("P2|BadPagePath: Chunk and page-internal sibling path do not reach the page root.")
	ErrPBadRootPath = errors.New("P3|BadRootPath: Page-root sibling path does not reach the DaRoot.")
)

// Store (S) Errors
var (
	ErrSUnknownRoot  = errors.New("S1|UnknownRoot: DaRoot was never stored on this node.")
	ErrSPruned       = errors.New("S2|Pruned: DaRoot fell out of the hot retention window.")
	ErrSIoFailure    = errors.New("S3|IoFailure: Local storage read or write failed.")
	ErrSUnknownChunk = errors.New("S4|UnknownChunk: Global index is not a chunk of this DaRoot.")
)

// Binding (B) Errors
var (
	ErrBHashMismatch = errors.New("B1|HashMismatch: Ciphertext bytes do not match the bound ciphertext hash.")
)

// Sampling (X) Errors
var (
	ErrXTimeout              = errors.New("X1|Timeout: Peer did not answer the challenge before the deadline.")
	ErrXPeerUnavailable      = errors.New("X2|PeerUnavailable: No peer could serve the challenged chunk.")
	ErrXInvalidProofFromPeer = errors.New("X3|InvalidProofFromPeer: Peer returned a chunk proof that failed verification.")
)

// Kind is the error category. Callers switch on it exhaustively.
type Kind uint8

const (
	KindNone Kind = iota
	KindEncoding
	KindIndex
	KindProof
	KindStore
	KindBinding
	KindSampling
	KindUnknown
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindEncoding:
		return "encoding"
	case KindIndex:
		return "index"
	case KindProof:
		return "proof"
	case KindStore:
		return "store"
	case KindBinding:
		return "binding"
	case KindSampling:
		return "sampling"
	default:
		return "unknown"
	}
}

var catalogue = []struct {
	err  error
	kind Kind
}{
	{ErrEOversizedPage, KindEncoding},
	{ErrEInvalidParams, KindEncoding},
	{ErrEInsufficientShards, KindEncoding},
	{ErrERootMismatch, KindEncoding},
	{ErrIIndexOutOfRange, KindIndex},
	{ErrPBadChunk, KindProof},
	{ErrPBadPagePath, KindProof},
	{ErrPBadRootPath, KindProof},
	{ErrSUnknownRoot, KindStore},
	{ErrSPruned, KindStore},
	{ErrSIoFailure, KindStore},
	{ErrSUnknownChunk, KindStore},
	{ErrBHashMismatch, KindBinding},
	{ErrXTimeout, KindSampling},
	{ErrXPeerUnavailable, KindSampling},
	{ErrXInvalidProofFromPeer, KindSampling},
}

// Sentinel returns the catalogue error wrapped somewhere in err, or nil.
func Sentinel(err error) error {
	if err == nil {
		return nil
	}
	for _, c := range catalogue {
		if errors.Is(err, c.err) {
			return c.err
		}
	}
	return nil
}

// KindOf classifies err by the first catalogue sentinel it wraps.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	for _, c := range catalogue {
		if errors.Is(err, c.err) {
			return c.kind
		}
	}
	return KindUnknown
}

// GetErrorName extracts the error name, e.g. "Pruned".
func GetErrorName(err error) string {
	if err == nil {
		return "No Error"
	}
	errStr := err.Error()
	if s := Sentinel(err); s != nil {
		errStr = s.Error()
	}
	if !strings.Contains(errStr, "|") || !strings.Contains(errStr, ":") {
		return errStr
	}
	parts := strings.SplitN(errStr, "|", 2)
	nameParts := strings.SplitN(parts[1], ":", 2)
	return strings.TrimSpace(nameParts[0])
}

// GetErrorCode extracts the error code, e.g. "S2".
func GetErrorCode(err error) string {
	if err == nil {
		return ""
	}
	errStr := err.Error()
	if s := Sentinel(err); s != nil {
		errStr = s.Error()
	}
	if !strings.Contains(errStr, "|") {
		return ""
	}
	parts := strings.SplitN(errStr, "|", 2)
	return strings.TrimSpace(parts[0])
}

// GetErrorCodeWithName returns the error code and name in the format "Code_ErrorName".
func GetErrorCodeWithName(err error) string {
	code := GetErrorCode(err)
	name := GetErrorName(err)
	if code == "" || name == "" {
		return ""
	}
	return code + "_" + name
}
