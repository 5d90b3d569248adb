package storage

import "errors"

// ErrClosed is returned by operations on a closed KV.
var ErrClosed = errors.New("kv store closed")

// Reader is a consistent read view. Slices passed to Iterate callbacks are
// only valid during the callback.
type Reader interface {
	Get(key []byte) ([]byte, bool, error)
	Has(key []byte) (bool, error)
	// Iterate visits keys with the given prefix in order until fn returns false.
	Iterate(prefix []byte, fn func(key, value []byte) bool) error
}

// Writer collects mutations applied atomically when Update returns nil.
type Writer interface {
	Put(key, value []byte) error
	Delete(key []byte) error
}

// KV is the durable byte store behind the retention store.
type KV interface {
	Reader
	// View runs fn against a point-in-time snapshot.
	View(fn func(Reader) error) error
	// Update runs fn with a reader of committed state and a writer whose
	// mutations are committed in one atomic batch. Reads do not observe
	// the pending writes.
	Update(fn func(Reader, Writer) error) error
	Close() error
}

func hasPrefix(key, prefix []byte) bool {
	if len(key) < len(prefix) {
		return false
	}
	for i := range prefix {
		if key[i] != prefix[i] {
			return false
		}
	}
	return true
}

func copyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
