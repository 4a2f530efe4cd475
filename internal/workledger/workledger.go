// Package workledger is the work-distribution table: component C of the
// coordinator. It slices a scalar search range into fixed-size chunks and
// hands them out FIFO by range_id, preserving any chunk already assigned
// across a reconfiguration — rebuild never revokes outstanding work.
package workledger

import (
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/tidwall/buntdb"

	"github.com/rckangaroo/coordinator/internal/kangerr"
	"github.com/rckangaroo/coordinator/internal/storage"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// State is a work chunk's lifecycle state. Only the pending/assigned
// transition is implemented; completed/failed are reserved for a reaper or
// future client protocol and are never set by this package.
type State string

const (
	Pending   State = "pending"
	Assigned  State = "assigned"
	Completed State = "completed"
	Failed    State = "failed"
)

// Chunk is a single slice of the scalar search range, stored and
// transmitted as hex bounds. Start is inclusive, End exclusive.
type Chunk struct {
	RangeID    string    `json:"range_id"`
	Start      string    `json:"start"`
	End        string    `json:"end"`
	BitRange   int       `json:"bit_range"`
	DPBits     int       `json:"dp_bits"`
	State      State     `json:"state"`
	Assignee   string    `json:"assignee,omitempty"`
	AssignedAt time.Time `json:"assigned_at,omitempty"`
}

const (
	chunkPrefix  = "work:"
	counterKey   = "work:meta:next_id"
	chunkIDWidth = 6
)

func chunkKey(rangeID string) string { return chunkPrefix + rangeID }

func formatRangeID(n uint64) string {
	return fmt.Sprintf("range_%0*d", chunkIDWidth, n)
}

// Ledger is the work-chunk table, backed by anything satisfying
// storage.Store. claim_next requires linearizability with respect to
// concurrent claims, so Ledger uses a transactional Update when the backend
// offers one (storage.BuntStore does); otherwise it falls back to an
// in-process mutex, adequate for MemoryStore's single-process use.
type Ledger struct {
	backend    storage.Store
	txn        transactional
	fallbackMu sync.Mutex
}

type transactional interface {
	Update(fn func(tx *buntdb.Tx) error) error
}

// New wraps backend as a work ledger.
func New(backend storage.Store) *Ledger {
	l := &Ledger{backend: backend}
	if txn, ok := backend.(transactional); ok {
		l.txn = txn
	}
	return l
}

// Rebuild deletes every chunk in the pending state, then regenerates chunks
// of chunkSize covering [start, end); the final chunk is truncated to fit.
// Assigned chunks are left untouched. New range_ids continue monotonically
// from whatever the ledger has issued before, across rebuilds.
func (l *Ledger) Rebuild(start, end, chunkSize *big.Int, bitRange, dpBits int) error {
	if l.txn != nil {
		return l.txn.Update(func(tx *buntdb.Tx) error {
			return l.rebuildTx(tx, start, end, chunkSize, bitRange, dpBits)
		})
	}
	l.fallbackMu.Lock()
	defer l.fallbackMu.Unlock()
	return l.rebuildFallback(start, end, chunkSize, bitRange, dpBits)
}

func (l *Ledger) rebuildTx(tx *buntdb.Tx, start, end, chunkSize *big.Int, bitRange, dpBits int) error {
	var toDelete []string
	err := tx.AscendKeys(chunkPrefix+"*", func(k, v string) bool {
		if k == counterKey {
			return true
		}
		var c Chunk
		if jsonErr := json.Unmarshal([]byte(v), &c); jsonErr != nil {
			return true
		}
		if c.State == Pending {
			toDelete = append(toDelete, k)
		}
		return true
	})
	if err != nil {
		return errors.Wrap(kangerr.ErrStorageUnavailable, err.Error())
	}
	for _, k := range toDelete {
		if _, delErr := tx.Delete(k); delErr != nil {
			return errors.Wrap(kangerr.ErrStorageUnavailable, delErr.Error())
		}
	}

	next, err := nextCounterTx(tx)
	if err != nil {
		return err
	}

	chunks := sliceRange(start, end, chunkSize, bitRange, dpBits, next)
	for _, c := range chunks {
		encoded, marshalErr := json.Marshal(c)
		if marshalErr != nil {
			return marshalErr
		}
		if _, _, setErr := tx.Set(chunkKey(c.RangeID), string(encoded), nil); setErr != nil {
			return errors.Wrap(kangerr.ErrStorageUnavailable, setErr.Error())
		}
	}
	return setCounterTx(tx, next+uint64(len(chunks)))
}

func (l *Ledger) rebuildFallback(start, end, chunkSize *big.Int, bitRange, dpBits int) error {
	for _, k := range l.backend.ListPrefix(chunkPrefix) {
		if k == counterKey {
			continue
		}
		raw, err := l.backend.Get(k)
		if err != nil {
			continue
		}
		var c Chunk
		if err := json.Unmarshal(raw, &c); err != nil {
			continue
		}
		if c.State == Pending {
			if err := l.backend.Delete(k); err != nil {
				return err
			}
		}
	}

	next, err := l.nextCounterFallback()
	if err != nil {
		return err
	}

	chunks := sliceRange(start, end, chunkSize, bitRange, dpBits, next)
	for _, c := range chunks {
		encoded, err := json.Marshal(c)
		if err != nil {
			return err
		}
		if err := l.backend.Put(chunkKey(c.RangeID), encoded); err != nil {
			return err
		}
	}
	return l.backend.Put(counterKey, []byte(fmt.Sprintf("%d", next+uint64(len(chunks)))))
}

func sliceRange(start, end, chunkSize *big.Int, bitRange, dpBits int, firstID uint64) []Chunk {
	var chunks []Chunk
	cur := new(big.Int).Set(start)
	id := firstID
	for cur.Cmp(end) < 0 {
		next := new(big.Int).Add(cur, chunkSize)
		if next.Cmp(end) > 0 {
			next = new(big.Int).Set(end)
		}
		chunks = append(chunks, Chunk{
			RangeID:  formatRangeID(id),
			Start:    cur.Text(16),
			End:      next.Text(16),
			BitRange: bitRange,
			DPBits:   dpBits,
			State:    Pending,
		})
		cur = next
		id++
	}
	return chunks
}

func nextCounterTx(tx *buntdb.Tx) (uint64, error) {
	v, err := tx.Get(counterKey)
	if err == buntdb.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(kangerr.ErrStorageUnavailable, err.Error())
	}
	var n uint64
	_, scanErr := fmt.Sscanf(v, "%d", &n)
	return n, scanErr
}

func setCounterTx(tx *buntdb.Tx, n uint64) error {
	if _, _, err := tx.Set(counterKey, fmt.Sprintf("%d", n), nil); err != nil {
		return errors.Wrap(kangerr.ErrStorageUnavailable, err.Error())
	}
	return nil
}

func (l *Ledger) nextCounterFallback() (uint64, error) {
	raw, err := l.backend.Get(counterKey)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var n uint64
	_, scanErr := fmt.Sscanf(string(raw), "%d", &n)
	return n, scanErr
}

// ClaimNext atomically selects the pending chunk with the smallest
// range_id, marks it assigned to client at ts, and returns it. ok is false
// when no pending chunk remains.
func (l *Ledger) ClaimNext(client string, ts time.Time) (chunk Chunk, ok bool, err error) {
	if l.txn != nil {
		err = l.txn.Update(func(tx *buntdb.Tx) error {
			chunk, ok, err = claimNextTx(tx, client, ts)
			return err
		})
		return chunk, ok, err
	}
	l.fallbackMu.Lock()
	defer l.fallbackMu.Unlock()
	return l.claimNextFallback(client, ts)
}

func claimNextTx(tx *buntdb.Tx, client string, ts time.Time) (Chunk, bool, error) {
	var candidateKey string
	var candidate Chunk
	found := false

	err := tx.AscendKeys(chunkPrefix+"*", func(k, v string) bool {
		if k == counterKey {
			return true
		}
		var c Chunk
		if jsonErr := json.Unmarshal([]byte(v), &c); jsonErr != nil {
			return true
		}
		if c.State == Pending {
			candidateKey = k
			candidate = c
			found = true
			return false
		}
		return true
	})
	if err != nil {
		return Chunk{}, false, errors.Wrap(kangerr.ErrStorageUnavailable, err.Error())
	}
	if !found {
		return Chunk{}, false, nil
	}

	candidate.State = Assigned
	candidate.Assignee = client
	candidate.AssignedAt = ts
	encoded, err := json.Marshal(candidate)
	if err != nil {
		return Chunk{}, false, err
	}
	if _, _, err := tx.Set(candidateKey, string(encoded), nil); err != nil {
		return Chunk{}, false, errors.Wrap(kangerr.ErrStorageUnavailable, err.Error())
	}
	return candidate, true, nil
}

func (l *Ledger) claimNextFallback(client string, ts time.Time) (Chunk, bool, error) {
	keys := l.backend.ListPrefix(chunkPrefix)
	sort.Strings(keys)
	for _, k := range keys {
		if k == counterKey {
			continue
		}
		raw, err := l.backend.Get(k)
		if err != nil {
			continue
		}
		var c Chunk
		if err := json.Unmarshal(raw, &c); err != nil {
			continue
		}
		if c.State != Pending {
			continue
		}
		c.State = Assigned
		c.Assignee = client
		c.AssignedAt = ts
		encoded, err := json.Marshal(c)
		if err != nil {
			return Chunk{}, false, err
		}
		if err := l.backend.Put(k, encoded); err != nil {
			return Chunk{}, false, err
		}
		return c, true, nil
	}
	return Chunk{}, false, nil
}

// Counts returns the number of chunks in each lifecycle state, used by
// status() to report work_ranges.
func (l *Ledger) Counts() map[State]int {
	counts := map[State]int{}
	for _, k := range l.backend.ListPrefix(chunkPrefix) {
		if k == counterKey {
			continue
		}
		raw, err := l.backend.Get(k)
		if err != nil {
			continue
		}
		var c Chunk
		if err := json.Unmarshal(raw, &c); err != nil {
			continue
		}
		counts[c.State]++
	}
	return counts
}

// ReapStale transitions every assigned chunk whose assigned_at is older
// than cutoff back to pending, clearing its assignee. It is not part of the
// core claim/rebuild contract — nothing in this package or the coordinator
// calls it automatically. It exists for the optional reaper to use.
func (l *Ledger) ReapStale(cutoff time.Time) (reaped []string, err error) {
	if l.txn != nil {
		err = l.txn.Update(func(tx *buntdb.Tx) error {
			reaped, err = reapStaleTx(tx, cutoff)
			return err
		})
		return reaped, err
	}

	l.fallbackMu.Lock()
	defer l.fallbackMu.Unlock()
	for _, k := range l.backend.ListPrefix(chunkPrefix) {
		if k == counterKey {
			continue
		}
		raw, getErr := l.backend.Get(k)
		if getErr != nil {
			continue
		}
		var c Chunk
		if jsonErr := json.Unmarshal(raw, &c); jsonErr != nil {
			continue
		}
		if c.State != Assigned || !c.AssignedAt.Before(cutoff) {
			continue
		}
		c.State = Pending
		c.Assignee = ""
		c.AssignedAt = time.Time{}
		encoded, marshalErr := json.Marshal(c)
		if marshalErr != nil {
			return reaped, marshalErr
		}
		if putErr := l.backend.Put(k, encoded); putErr != nil {
			return reaped, putErr
		}
		reaped = append(reaped, c.RangeID)
	}
	return reaped, nil
}

func reapStaleTx(tx *buntdb.Tx, cutoff time.Time) ([]string, error) {
	type pending struct {
		key  string
		c    Chunk
	}
	var stale []pending

	err := tx.AscendKeys(chunkPrefix+"*", func(k, v string) bool {
		if k == counterKey {
			return true
		}
		var c Chunk
		if jsonErr := json.Unmarshal([]byte(v), &c); jsonErr != nil {
			return true
		}
		if c.State == Assigned && c.AssignedAt.Before(cutoff) {
			stale = append(stale, pending{key: k, c: c})
		}
		return true
	})
	if err != nil {
		return nil, errors.Wrap(kangerr.ErrStorageUnavailable, err.Error())
	}

	reaped := make([]string, 0, len(stale))
	for _, p := range stale {
		p.c.State = Pending
		p.c.Assignee = ""
		p.c.AssignedAt = time.Time{}
		encoded, marshalErr := json.Marshal(p.c)
		if marshalErr != nil {
			return reaped, marshalErr
		}
		if _, _, setErr := tx.Set(p.key, string(encoded), nil); setErr != nil {
			return reaped, errors.Wrap(kangerr.ErrStorageUnavailable, setErr.Error())
		}
		reaped = append(reaped, p.c.RangeID)
	}
	return reaped, nil
}
