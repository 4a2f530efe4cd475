// Package dpstore is the durable mapping from distinguished-point fingerprint
// to accumulated walk distance: component B of the coordinator. It owns the
// DP-UNIQ invariant — the first successful insert of a given x-coordinate
// owns that slot for the lifetime of the search — by enforcing it inside a
// single storage transaction rather than trusting callers to serialize
// themselves.
package dpstore

import (
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/tidwall/buntdb"

	"github.com/rckangaroo/coordinator/internal/kangerr"
	"github.com/rckangaroo/coordinator/internal/storage"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// WalkType enumerates the kangaroo walk families. It is immutable once
// attached to a DP.
type WalkType uint8

const (
	TAME WalkType = iota
	WILD1
	WILD2
)

// String renders the walk type the way it appears on the wire and in logs.
func (t WalkType) String() string {
	switch t {
	case TAME:
		return "TAME"
	case WILD1:
		return "WILD1"
	case WILD2:
		return "WILD2"
	default:
		return "UNKNOWN"
	}
}

// Point is a distinguished point as stored: fingerprint x, accumulated
// distance d, walk type t, the client that reported it, and the server
// wall-clock at insertion. x and d are carried as hex strings, matching the
// wire and storage encodings byte for byte — the store never interprets
// them as numbers.
type Point struct {
	X      string    `json:"x"`
	D      string    `json:"d"`
	T      WalkType  `json:"t"`
	Client string    `json:"client"`
	TS     time.Time `json:"ts"`
}

const keyPrefix = "dp:"

func key(x string) string { return keyPrefix + x }

// Store is the DP table, backed by anything satisfying storage.Store. When
// the backend also exposes transactional Update (as storage.BuntStore
// does), Insert performs its lookup-then-set inside one transaction and
// DP-UNIQ is enforced by the backend's single-writer semantics. Backends
// without a transactional Update (storage.MemoryStore, in tests) fall back
// to a package-level mutex, which is still correct for the in-process case
// MemoryStore is meant for.
type Store struct {
	backend storage.Store
	txn     transactional
}

// transactional is implemented by storage backends that can run an atomic
// read-modify-write, which Insert needs to make lookup-then-set race-free.
type transactional interface {
	Update(fn func(tx *buntdb.Tx) error) error
}

// New wraps backend as a DP store.
func New(backend storage.Store) *Store {
	s := &Store{backend: backend}
	if txn, ok := backend.(transactional); ok {
		s.txn = txn
	}
	return s
}

// Lookup performs an exact-match fingerprint lookup. ok is false when no DP
// is stored at x.
func (s *Store) Lookup(x string) (pt Point, ok bool, err error) {
	raw, err := s.backend.Get(key(x))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return Point{}, false, nil
	}
	if err != nil {
		return Point{}, false, err
	}
	if err := json.Unmarshal(raw, &pt); err != nil {
		return Point{}, false, errors.Wrap(err, "dpstore: corrupt record")
	}
	return pt, true, nil
}

// Insert stores a DP if x is not already present. inserted is false when x
// was already occupied — the existing row is left untouched, per DP-UNIQ.
func (s *Store) Insert(x, d string, t WalkType, client string, ts time.Time) (inserted bool, existing Point, err error) {
	pt := Point{X: x, D: d, T: t, Client: client, TS: ts}
	encoded, err := json.Marshal(pt)
	if err != nil {
		return false, Point{}, errors.Wrap(err, "dpstore: encode")
	}

	if s.txn != nil {
		err = s.txn.Update(func(tx *buntdb.Tx) error {
			if v, getErr := tx.Get(key(x)); getErr == nil {
				inserted = false
				return json.Unmarshal([]byte(v), &existing)
			} else if getErr != buntdb.ErrNotFound {
				return errors.Wrap(kangerr.ErrStorageUnavailable, getErr.Error())
			}
			_, _, setErr := tx.Set(key(x), string(encoded), nil)
			if setErr != nil {
				return errors.Wrap(kangerr.ErrStorageUnavailable, setErr.Error())
			}
			inserted = true
			existing = pt
			return nil
		})
		if err != nil {
			return false, Point{}, errors.Wrap(err, "dpstore: insert")
		}
		return inserted, existing, nil
	}

	fallbackMu.Lock()
	defer fallbackMu.Unlock()
	if found, ok, lookupErr := s.Lookup(x); lookupErr != nil {
		return false, Point{}, lookupErr
	} else if ok {
		return false, found, nil
	}
	if err := s.backend.Put(key(x), encoded); err != nil {
		return false, Point{}, errors.Wrap(err, "dpstore: insert")
	}
	return true, pt, nil
}

// Count returns the number of stored distinguished points.
func (s *Store) Count() int {
	return len(s.backend.ListPrefix(keyPrefix))
}

// fallbackMu serializes Insert for non-transactional backends only;
// BuntStore-backed stores never touch it.
var fallbackMu sync.Mutex
