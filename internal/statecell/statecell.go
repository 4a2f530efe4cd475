// Package statecell is the singleton search-state record: component D of
// the coordinator. It holds the configured search range, target pubkey, and
// the write-once solved/solution pair. All reads and writes happen inside
// the coordinator's mutex, so statecell itself does no locking; the
// transactional storage backend only needs to guarantee that reads observe
// the last durable write.
package statecell

import (
	"math/big"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"

	"github.com/rckangaroo/coordinator/internal/storage"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const key = "state:singleton"

// State is the search-parameter singleton. Hex fields carry scalars exactly
// as configured and transmitted, without leading 0x.
type State struct {
	RangeStart string `json:"range_start"`
	RangeEnd   string `json:"range_end"`
	PubKey     string `json:"pubkey"`
	DPBits     int    `json:"dp_bits"`
	BitRange   int    `json:"bit_range"`
	ChunkSize  string `json:"chunk_size"`
	Solved     bool   `json:"solved"`
	Solution   string `json:"solution,omitempty"`
}

// Cell wraps a storage backend as the search-state singleton.
type Cell struct {
	backend storage.Store
}

// New wraps backend as a state cell.
func New(backend storage.Store) *Cell {
	return &Cell{backend: backend}
}

// Get returns the current state. ok is false before the first Configure.
func (c *Cell) Get() (State, bool, error) {
	raw, err := c.backend.Get(key)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, err
	}
	var s State
	if err := json.Unmarshal(raw, &s); err != nil {
		return State{}, false, errors.Wrap(err, "statecell: corrupt record")
	}
	return s, true, nil
}

// Configure overwrites the search parameters and resets solved/solution.
// Callers hold the coordinator mutex, so no additional synchronization is
// required here.
func (c *Cell) Configure(s State) error {
	s.Solved = false
	s.Solution = ""
	return c.put(s)
}

// MarkSolved freezes the solution. It is a no-op (returns false) if the
// cell is already solved, enforcing write-once semantics even if the
// coordinator is ever called out of its usual single-writer discipline.
func (c *Cell) MarkSolved(solution string) (bool, error) {
	s, ok, err := c.Get()
	if err != nil {
		return false, err
	}
	if !ok {
		return false, errors.New("statecell: not configured")
	}
	if s.Solved {
		return false, nil
	}
	s.Solved = true
	s.Solution = solution
	return true, c.put(s)
}

func (c *Cell) put(s State) error {
	encoded, err := json.Marshal(s)
	if err != nil {
		return errors.Wrap(err, "statecell: encode")
	}
	return c.backend.Put(key, encoded)
}

// BitRangeFor computes ceil(log2(end - start)), the bit_range derivation
// used at configure time.
func BitRangeFor(start, end *big.Int) int {
	width := new(big.Int).Sub(end, start)
	if width.Sign() <= 0 {
		return 0
	}
	bits := width.BitLen()
	// BitLen already reports ceil(log2(width+1)) effectively for non powers
	// of two; for exact powers of two it reports log2(width)+1, so subtract
	// one when width is an exact power of two.
	if new(big.Int).Lsh(big.NewInt(1), uint(bits-1)).Cmp(width) == 0 {
		return bits - 1
	}
	return bits
}
