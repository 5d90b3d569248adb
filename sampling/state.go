package sampling

import (
	"errors"

	"github.com/Pauli-Group/Hegemon-sub002/common"
	"github.com/Pauli-Group/Hegemon-sub002/daerrors"
)

// State of a challenge within an audit cycle:
// Idle -> ChallengeIssued -> {Verified | FailedTimeout | FailedInvalidProof | FailedUnavailable}.
type State uint8

const (
	Idle State = iota
	ChallengeIssued
	Verified
	FailedTimeout
	FailedInvalidProof
	FailedUnavailable
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case ChallengeIssued:
		return "challenge_issued"
	case Verified:
		return "verified"
	case FailedTimeout:
		return "failed_timeout"
	case FailedInvalidProof:
		return "failed_invalid_proof"
	case FailedUnavailable:
		return "failed_unavailable"
	default:
		return "unknown"
	}
}

func (s State) Failed() bool {
	return s == FailedTimeout || s == FailedInvalidProof || s == FailedUnavailable
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// stateOf maps a terminal sampling error to its failure state.
func stateOf(err error) State {
	switch {
	case err == nil:
		return Verified
	case errors.Is(err, daerrors.ErrXTimeout):
		return FailedTimeout
	case errors.Is(err, daerrors.ErrXInvalidProofFromPeer):
		return FailedInvalidProof
	default:
		return FailedUnavailable
	}
}

// Challenge is one sampled chunk of one DaRoot.
type Challenge struct {
	Root  common.Hash48 `json:"root"`
	Index uint32        `json:"index"`
}

// Result is the outcome of one challenge.
type Result struct {
	Challenge
	State    State  `json:"state"`
	Peer     string `json:"peer,omitempty"`
	Attempts int    `json:"attempts"`
	Err      error  `json:"-"`
}

// Report is the outcome of one audit cycle.
type Report struct {
	BlockHash common.Hash   `json:"block_hash"`
	Root      common.Hash48 `json:"root"`
	Results   []Result      `json:"results"`
	Passed    int           `json:"passed"`
	Failed    int           `json:"failed"`
}

// Available is true when every challenge verified.
func (r *Report) Available() bool {
	return r.Failed == 0
}
