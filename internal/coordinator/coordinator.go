// Package coordinator is the single process-wide instance that owns all
// three persistent tables and serializes every mutating operation behind
// one mutex — the linearization point for the whole search. It is
// component F: the orchestration layer wiring the curve oracle, DP store,
// work ledger, state cell, and collision resolver into the four contracts
// the request surface exposes.
package coordinator

import (
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/rckangaroo/coordinator/internal/curveoracle"
	"github.com/rckangaroo/coordinator/internal/dpstore"
	"github.com/rckangaroo/coordinator/internal/kangerr"
	"github.com/rckangaroo/coordinator/internal/resolver"
	"github.com/rckangaroo/coordinator/internal/statecell"
	"github.com/rckangaroo/coordinator/internal/storage"
	"github.com/rckangaroo/coordinator/internal/workledger"
)

const unresolvedCollisionCapacity = 64

// Coordinator serializes configure, get_work, and submit_points behind a
// single mutex. Status reads take the same mutex: there is no
// finer-grained locking, and the mutex is the only linearization point
// in the system.
type Coordinator struct {
	mu sync.Mutex

	dps    *dpstore.Store
	ledger *workledger.Ledger
	state  *statecell.Cell
	oracle curveoracle.Oracle
	logger *zap.Logger

	unresolved []resolver.CollisionDescriptor
}

// New constructs a Coordinator over the given storage backend and curve
// oracle. The same backend is shared by the DP store, work ledger, and
// state cell — they distinguish their data by key prefix, not by separate
// databases.
func New(backend storage.Store, oracle curveoracle.Oracle, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		dps:    dpstore.New(backend),
		ledger: workledger.New(backend),
		state:  statecell.New(backend),
		oracle: oracle,
		logger: logger,
	}
}

// ConfigureRequest is the parsed form of a configure call.
type ConfigureRequest struct {
	Start, End *big.Int
	PubKeyHex  string
	DPBits     int
	ChunkSize  *big.Int
}

// Configure validates the request, (re)writes the search state, and
// rebuilds the work ledger. It refuses with kangerr.ErrAlreadySolved once
// the search has a frozen solution, and with kangerr.ErrMalformedInput for
// any structurally invalid request.
func (c *Coordinator) Configure(req ConfigureRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cur, ok, err := c.state.Get(); err != nil {
		return err
	} else if ok && cur.Solved {
		return kangerr.ErrAlreadySolved
	}

	if req.Start == nil || req.End == nil || req.ChunkSize == nil {
		return errors.Wrap(kangerr.ErrMalformedInput, "configure: missing range bounds")
	}
	if req.Start.Cmp(req.End) >= 0 {
		return errors.Wrap(kangerr.ErrMalformedInput, "configure: start must be less than end")
	}
	if req.ChunkSize.Sign() <= 0 {
		return errors.Wrap(kangerr.ErrMalformedInput, "configure: chunk_size must be positive")
	}
	if req.DPBits <= 0 {
		return errors.Wrap(kangerr.ErrMalformedInput, "configure: dp_bits must be positive")
	}

	pub, err := curveoracle.ParsePublicKey(req.PubKeyHex)
	if err != nil {
		return err
	}

	bitRange := statecell.BitRangeFor(req.Start, req.End)

	if err := c.state.Configure(statecell.State{
		RangeStart: req.Start.Text(16),
		RangeEnd:   req.End.Text(16),
		PubKey:     pub.HexString(),
		DPBits:     req.DPBits,
		BitRange:   bitRange,
		ChunkSize:  req.ChunkSize.Text(16),
	}); err != nil {
		return err
	}

	if err := c.ledger.Rebuild(req.Start, req.End, req.ChunkSize, bitRange, req.DPBits); err != nil {
		return err
	}

	c.unresolved = nil
	c.logger.Info("search configured",
		zap.String("start", req.Start.Text(16)),
		zap.String("end", req.End.Text(16)),
		zap.Int("bit_range", bitRange),
		zap.Int("dp_bits", req.DPBits),
	)
	return nil
}

// GetWork claims the next pending chunk for client. ok is false both when
// the search is solved and when no pending chunk remains — get_work never
// distinguishes the two to callers.
func (c *Coordinator) GetWork(client string) (workledger.Chunk, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok, err := c.state.Get()
	if err != nil {
		return workledger.Chunk{}, false, err
	}
	if !ok || st.Solved {
		return workledger.Chunk{}, false, nil
	}

	return c.ledger.ClaimNext(client, time.Now())
}

// PointSubmission is one reported distinguished point.
type PointSubmission struct {
	X, D string
	T    dpstore.WalkType
}

// SubmitResult is the outcome of a submit_points call.
type SubmitResult struct {
	Solved   bool
	Solution string
	Accepted int
}

// SubmitPoints processes points in order: lookup first, insert on miss,
// resolve on hit. The first collision in the batch that yields a verified
// scalar freezes the search; subsequent collisions in the same batch are
// ignored. If the search is already solved, the stored solution is
// returned without touching the store.
func (c *Coordinator) SubmitPoints(client string, points []PointSubmission) (SubmitResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok, err := c.state.Get()
	if err != nil {
		return SubmitResult{}, err
	}
	if !ok {
		return SubmitResult{}, errors.Wrap(kangerr.ErrMalformedInput, "submit_points: search not configured")
	}
	if st.Solved {
		return SubmitResult{Solved: true, Solution: st.Solution}, nil
	}

	rangeStart, _ := new(big.Int).SetString(st.RangeStart, 16)
	pub, err := curveoracle.ParsePublicKey(st.PubKey)
	if err != nil {
		return SubmitResult{}, err
	}
	ctx := resolver.SearchContext{
		Order:      c.oracle.Order(),
		RangeStart: rangeStart,
		BitRange:   st.BitRange,
		Target:     pub,
		Oracle:     c.oracle,
	}

	solved := false
	var solution *big.Int
	now := time.Now()

	for _, pt := range points {
		existing, hit, err := c.dps.Lookup(pt.X)
		if err != nil {
			return SubmitResult{}, err
		}
		if !hit {
			inserted, _, err := c.dps.Insert(pt.X, pt.D, pt.T, client, now)
			if err != nil {
				return SubmitResult{}, err
			}
			if !inserted {
				// Another submission inserted x between our lookup and our
				// insert; the losing insert is dropped silently per §7, but
				// it's worth a debug log tying the drop to its error kind.
				c.logger.Debug("submit_points: insert raced a concurrent insert",
					zap.Error(kangerr.ErrStorageConflict), zap.String("x", pt.X))
			}
			continue
		}

		if solved {
			// A verified scalar already froze this batch; per the
			// tie-break rule further collisions are ignored.
			continue
		}

		candidate := dpstore.Point{X: pt.X, D: pt.D, T: pt.T, Client: client, TS: now}
		out, resolveErr := resolver.Resolve(ctx, existing, candidate)
		if resolveErr != nil {
			c.logger.Warn("submit_points: resolver error", zap.Error(resolveErr), zap.String("x", pt.X))
			continue
		}

		switch out.Kind {
		case resolver.Verified:
			solved = true
			solution = out.Scalar
		case resolver.Unresolved:
			c.recordUnresolved(out.Collision)
			if out.Collision.Kind == "tame-wild-unverified" {
				c.logger.Warn("submit_points: candidate scalar failed verification",
					zap.Error(kangerr.ErrVerificationFailed), zap.String("x", pt.X))
			} else {
				c.logger.Info("submit_points: collision not resolvable",
					zap.Error(kangerr.ErrUnresolvable), zap.String("x", pt.X), zap.String("kind", out.Collision.Kind))
			}
		case resolver.Unsolvable:
			c.logger.Debug("submit_points: degenerate collision",
				zap.Error(kangerr.ErrUnresolvable), zap.String("x", pt.X))
		}
	}

	if solved {
		// Every hex field on the wire is lowercase except the recovered
		// scalar, which is transmitted and stored uppercase.
		solHex := strings.ToUpper(solution.Text(16))
		if _, err := c.state.MarkSolved(solHex); err != nil {
			return SubmitResult{}, err
		}
		c.logger.Info("search solved", zap.String("solution", solHex))
		return SubmitResult{Solved: true, Solution: solHex}, nil
	}

	return SubmitResult{Accepted: len(points)}, nil
}

// Ledger exposes the underlying work ledger for the optional reaper
// (internal/reaper). Nothing in this package calls it automatically; it
// exists purely so an operator can wire ReapStale in from outside.
func (c *Coordinator) Ledger() *workledger.Ledger {
	return c.ledger
}

func (c *Coordinator) recordUnresolved(d resolver.CollisionDescriptor) {
	c.unresolved = append(c.unresolved, d)
	if len(c.unresolved) > unresolvedCollisionCapacity {
		c.unresolved = c.unresolved[len(c.unresolved)-unresolvedCollisionCapacity:]
	}
}

// StatusSnapshot is a point-in-time read of the search: solved state, DP
// count, work chunk counts by lifecycle state, search parameters, and a
// summary of any collisions seen that could not be finalized.
type StatusSnapshot struct {
	Solved               bool
	Solution             string
	DPCount              int
	WorkRangeCounts      map[workledger.State]int
	RangeStart, RangeEnd string
	PubKey               string
	DPBits               int
	UnresolvedCollisions []resolver.CollisionDescriptor
}

// Status returns a consistent snapshot. It takes the coordinator mutex but
// acquires no storage locks beyond read snapshots.
func (c *Coordinator) Status() (StatusSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok, err := c.state.Get()
	if err != nil {
		return StatusSnapshot{}, err
	}
	if !ok {
		return StatusSnapshot{}, nil
	}

	return StatusSnapshot{
		Solved:               st.Solved,
		Solution:             st.Solution,
		DPCount:              c.dps.Count(),
		WorkRangeCounts:      c.ledger.Counts(),
		RangeStart:           st.RangeStart,
		RangeEnd:             st.RangeEnd,
		PubKey:               st.PubKey,
		DPBits:               st.DPBits,
		UnresolvedCollisions: append([]resolver.CollisionDescriptor(nil), c.unresolved...),
	}, nil
}
