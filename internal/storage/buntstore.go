package storage

import (
	"github.com/pkg/errors"
	"github.com/tidwall/buntdb"

	"github.com/rckangaroo/coordinator/internal/kangerr"
)

// BuntStore implements the Store interface over a github.com/tidwall/buntdb
// database, giving the in-process Store abstraction a durable, crash-safe
// backend without pulling in a cgo-dependent engine.
//
// BuntStore characteristics:
//   - Single file, fsync'd on every write transaction
//   - All keys held in an in-memory B-tree, so reads never touch disk
//   - One writer at a time, unlimited concurrent readers (buntdb's own
//     locking), matching the coordinator's single-writer model exactly
//   - ":memory:" as the path opens a non-persistent instance, useful for
//     tests that want the real transaction semantics without a temp file
//
// Suitable for:
//   - The DP store, work ledger, and state cell's durability requirements
//   - Datasets that fit comfortably in memory (the in-process B-tree is the
//     source of truth even when file-backed)
//
// Not suitable for:
//   - Datasets too large to hold in memory
//   - Multi-process sharing (buntdb takes an exclusive file lock)
type BuntStore struct {
	db *buntdb.DB
}

// NewBuntStore opens (or creates) a buntdb database at path. Use ":memory:"
// for a non-persistent instance.
func NewBuntStore(path string) (*BuntStore, error) {
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, err
	}
	var cfg buntdb.Config
	if err := db.ReadConfig(&cfg); err != nil {
		db.Close()
		return nil, err
	}
	cfg.SyncPolicy = buntdb.Always
	if err := db.SetConfig(cfg); err != nil {
		db.Close()
		return nil, err
	}
	return &BuntStore{db: db}, nil
}

// Get implements Store.
func (b *BuntStore) Get(key string) ([]byte, error) {
	var value []byte
	err := b.db.View(func(tx *buntdb.Tx) error {
		v, err := tx.Get(key)
		if err != nil {
			return err
		}
		value = []byte(v)
		return nil
	})
	if errors.Is(err, buntdb.ErrNotFound) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, errors.Wrap(kangerr.ErrStorageUnavailable, err.Error())
	}
	return value, nil
}

// Put implements Store.
func (b *BuntStore) Put(key string, value []byte) error {
	if err := b.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(key, string(value), nil)
		return err
	}); err != nil {
		return errors.Wrap(kangerr.ErrStorageUnavailable, err.Error())
	}
	return nil
}

// Delete implements Store; idempotent, like MemoryStore's.
func (b *BuntStore) Delete(key string) error {
	err := b.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(key)
		return err
	})
	if errors.Is(err, buntdb.ErrNotFound) {
		return nil
	}
	if err != nil {
		return errors.Wrap(kangerr.ErrStorageUnavailable, err.Error())
	}
	return nil
}

// List implements Store, returning every key in the database.
func (b *BuntStore) List() []string {
	return b.ListPrefix("")
}

// ListPrefix implements Store using buntdb's default ascending key index,
// so results arrive lexicographically sorted without an extra pass.
func (b *BuntStore) ListPrefix(prefix string) []string {
	keys := make([]string, 0)
	_ = b.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys(prefix+"*", func(key, _ string) bool {
			keys = append(keys, key)
			return true
		})
	})
	return keys
}

// Stats implements Store by scanning all values; buntdb does not maintain
// running totals, so this is O(n) like MemoryStore's.
func (b *BuntStore) Stats() StoreStats {
	var stats StoreStats
	_ = b.db.View(func(tx *buntdb.Tx) error {
		return tx.Ascend("", func(key, value string) bool {
			stats.Keys++
			stats.Bytes += len(value)
			return true
		})
	})
	return stats
}

// Close implements Store, flushing and releasing the underlying file.
func (b *BuntStore) Close() error {
	return b.db.Close()
}

// Update exposes a single atomic read-modify-write transaction to callers
// that need more than Get/Put composition — specifically dpstore's
// lookup-then-insert and workledger's claim_next, both of which must be
// linearizable with respect to each other.
func (b *BuntStore) Update(fn func(tx *buntdb.Tx) error) error {
	return b.db.Update(fn)
}

// View exposes a single read-only transaction for callers that need a
// consistent multi-key snapshot. coordinator.Status does not use it: it
// reads the DP count, chunk counts, and state through separate calls.
func (b *BuntStore) View(fn func(tx *buntdb.Tx) error) error {
	return b.db.View(fn)
}
