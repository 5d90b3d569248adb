package storage

import (
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"
	leveldbstorage "github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// PersistenceStore wraps LevelDB for raw key-value persistence.
// Thread-safe: LevelDB handles its own synchronization.
type PersistenceStore struct {
	db   *leveldb.DB
	path string
}

// NewPersistenceStore opens or creates a LevelDB database at the given path.
// If path is empty, uses in-memory storage.
func NewPersistenceStore(path string) (*PersistenceStore, error) {
	var db *leveldb.DB
	var err error

	if path == "" {
		memStorage := leveldbstorage.NewMemStorage()
		db, err = leveldb.Open(memStorage, nil)
	} else {
		db, err = leveldb.OpenFile(path, nil)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database at %s: %w", path, err)
	}

	return &PersistenceStore{db: db, path: path}, nil
}

// NewMemoryPersistenceStore creates an in-memory PersistenceStore for testing.
func NewMemoryPersistenceStore() (*PersistenceStore, error) {
	return NewPersistenceStore("")
}

// Get retrieves a value by key. Returns (nil, false, nil) if not found.
func (ps *PersistenceStore) Get(key []byte) ([]byte, bool, error) {
	return levelGet(ps.db.Get, key)
}

func (ps *PersistenceStore) Has(key []byte) (bool, error) {
	return ps.db.Has(key, nil)
}

func (ps *PersistenceStore) Iterate(prefix []byte, fn func(key, value []byte) bool) error {
	return levelIterate(ps.db.NewIterator(util.BytesPrefix(prefix), nil), prefix, fn)
}

// View reads from a LevelDB snapshot, so concurrent batches are either
// fully visible or not at all.
func (ps *PersistenceStore) View(fn func(Reader) error) error {
	snap, err := ps.db.GetSnapshot()
	if err != nil {
		return mapLevelErr(err)
	}
	defer snap.Release()
	return fn(&levelSnapshot{snap: snap})
}

// Update commits everything fn writes as a single leveldb.Batch.
func (ps *PersistenceStore) Update(fn func(Reader, Writer) error) error {
	batch := new(leveldb.Batch)
	if err := fn(ps, &levelBatch{batch: batch}); err != nil {
		return err
	}
	if batch.Len() == 0 {
		return nil
	}
	return mapLevelErr(ps.db.Write(batch, nil))
}

func (ps *PersistenceStore) Close() error {
	return ps.db.Close()
}

type levelSnapshot struct {
	snap *leveldb.Snapshot
}

func (s *levelSnapshot) Get(key []byte) ([]byte, bool, error) {
	return levelGet(s.snap.Get, key)
}

func (s *levelSnapshot) Has(key []byte) (bool, error) {
	ok, err := s.snap.Has(key, nil)
	return ok, mapLevelErr(err)
}

func (s *levelSnapshot) Iterate(prefix []byte, fn func(key, value []byte) bool) error {
	return levelIterate(s.snap.NewIterator(util.BytesPrefix(prefix), nil), prefix, fn)
}

type levelBatch struct {
	batch *leveldb.Batch
}

func (b *levelBatch) Put(key, value []byte) error {
	b.batch.Put(key, value)
	return nil
}

func (b *levelBatch) Delete(key []byte) error {
	b.batch.Delete(key)
	return nil
}

func levelGet(get func([]byte, *opt.ReadOptions) ([]byte, error), key []byte) ([]byte, bool, error) {
	data, err := get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("Get %x: %w", key, mapLevelErr(err))
	}
	return data, true, nil
}

func levelIterate(iter iterator.Iterator, prefix []byte, fn func(key, value []byte) bool) error {
	defer iter.Release()
	for iter.Next() {
		if !hasPrefix(iter.Key(), prefix) {
			break
		}
		if !fn(iter.Key(), iter.Value()) {
			break
		}
	}
	if err := iter.Error(); err != nil {
		return fmt.Errorf("Iterate %x: %w", prefix, mapLevelErr(err))
	}
	return nil
}

func mapLevelErr(err error) error {
	if errors.Is(err, leveldb.ErrClosed) {
		return ErrClosed
	}
	return err
}
