package storage

import (
	"bytes"
	"sort"
	"sync"

	"github.com/Pauli-Group/Hegemon-sub002/common"
)

// rootLocks serializes writers per DaRoot. Entries are dropped once unused.
type rootLocks struct {
	mu    sync.Mutex
	locks map[common.Hash48]*rootLock
}

type rootLock struct {
	mu   sync.Mutex
	refs int
}

func newRootLocks() *rootLocks {
	return &rootLocks{locks: make(map[common.Hash48]*rootLock)}
}

func (l *rootLocks) lock(root common.Hash48) {
	l.mu.Lock()
	e, ok := l.locks[root]
	if !ok {
		e = &rootLock{}
		l.locks[root] = e
	}
	e.refs++
	l.mu.Unlock()
	e.mu.Lock()
}

func (l *rootLocks) unlock(root common.Hash48) {
	l.mu.Lock()
	e := l.locks[root]
	e.refs--
	if e.refs == 0 {
		delete(l.locks, root)
	}
	l.mu.Unlock()
	e.mu.Unlock()
}

// lockAll takes the locks of roots in byte order and returns the release func.
func (l *rootLocks) lockAll(roots []common.Hash48) func() {
	seen := make(map[common.Hash48]struct{}, len(roots))
	sorted := make([]common.Hash48, 0, len(roots))
	for _, r := range roots {
		if _, dup := seen[r]; !dup {
			seen[r] = struct{}{}
			sorted = append(sorted, r)
		}
	}
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i][:], sorted[j][:]) < 0
	})
	for _, r := range sorted {
		l.lock(r)
	}
	return func() {
		for i := len(sorted) - 1; i >= 0; i-- {
			l.unlock(sorted[i])
		}
	}
}
