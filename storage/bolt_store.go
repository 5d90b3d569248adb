package storage

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var daBucket = []byte("da")

// BoltStore is a KV on a single bbolt file. Readers use bbolt's MVCC read
// transactions and writers are serialized by bbolt itself.
type BoltStore struct {
	db *bolt.DB
}

func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database at %s: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(daBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, err
	}
	return &BoltStore{db: db}, nil
}

func (bs *BoltStore) Get(key []byte) (value []byte, found bool, err error) {
	err = bs.View(func(r Reader) error {
		value, found, err = r.Get(key)
		return err
	})
	return value, found, err
}

func (bs *BoltStore) Has(key []byte) (bool, error) {
	_, found, err := bs.Get(key)
	return found, err
}

func (bs *BoltStore) Iterate(prefix []byte, fn func(key, value []byte) bool) error {
	return bs.View(func(r Reader) error {
		return r.Iterate(prefix, fn)
	})
}

func (bs *BoltStore) View(fn func(Reader) error) error {
	return mapBoltErr(bs.db.View(func(tx *bolt.Tx) error {
		return fn(&boltTx{bucket: tx.Bucket(daBucket)})
	}))
}

// Update runs fn inside one bbolt write transaction; pending writes are
// buffered so reads see only committed state, matching the LevelDB backend.
func (bs *BoltStore) Update(fn func(Reader, Writer) error) error {
	return mapBoltErr(bs.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(daBucket)
		w := &boltBatch{}
		if err := fn(&boltTx{bucket: b}, w); err != nil {
			return err
		}
		for _, op := range w.ops {
			var err error
			if op.del {
				err = b.Delete(op.key)
			} else {
				err = b.Put(op.key, op.value)
			}
			if err != nil {
				return err
			}
		}
		return nil
	}))
}

func (bs *BoltStore) Close() error {
	return bs.db.Close()
}

type boltTx struct {
	bucket *bolt.Bucket
}

func (t *boltTx) Get(key []byte) ([]byte, bool, error) {
	v := t.bucket.Get(key)
	if v == nil {
		return nil, false, nil
	}
	return copyBytes(v), true, nil
}

func (t *boltTx) Has(key []byte) (bool, error) {
	return t.bucket.Get(key) != nil, nil
}

func (t *boltTx) Iterate(prefix []byte, fn func(key, value []byte) bool) error {
	c := t.bucket.Cursor()
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		if !fn(k, v) {
			break
		}
	}
	return nil
}

type boltOp struct {
	key, value []byte
	del        bool
}

type boltBatch struct {
	ops []boltOp
}

func (w *boltBatch) Put(key, value []byte) error {
	w.ops = append(w.ops, boltOp{key: copyBytes(key), value: copyBytes(value)})
	return nil
}

func (w *boltBatch) Delete(key []byte) error {
	w.ops = append(w.ops, boltOp{key: copyBytes(key), del: true})
	return nil
}

func mapBoltErr(err error) error {
	if errors.Is(err, bolt.ErrDatabaseNotOpen) {
		return ErrClosed
	}
	return err
}
