// Package resolver is the mathematical core: component E. Given two
// distinguished points that collided at the same x-coordinate, it decides
// whether the collision is solvable and, when it is a tame-wild collision,
// derives the candidate discrete-log scalar. Same-wild and mixed-wild
// collisions are recovered as unresolved candidates only — the recovery
// formula for those cases is not implemented upstream of this port either,
// and guessing one would risk manufacturing a false solution.
package resolver

import (
	"math/big"

	"github.com/pkg/errors"

	"github.com/rckangaroo/coordinator/internal/curveoracle"
	"github.com/rckangaroo/coordinator/internal/dpstore"
)

// OutcomeKind classifies what Resolve decided about a collision.
type OutcomeKind int

const (
	// Unsolvable means the pair is degenerate (TAME/TAME) or a
	// self-collision (same wild type, same distance) — no scalar exists to
	// recover.
	Unsolvable OutcomeKind = iota
	// Unresolved means the collision is mathematically real but the
	// recovery formula for this combination of walk types is not
	// implemented; a descriptor is recorded for status surfacing but the
	// search is not marked solved.
	Unresolved
	// Verified means a candidate scalar was recovered and passed
	// verification (structural, and cryptographic when the oracle
	// supports it).
	Verified
)

// CollisionDescriptor records a collision that could not be turned into a
// verified scalar, so status() can surface it for diagnosis.
type CollisionDescriptor struct {
	Kind string // "same-wild", "mixed-wild", or "tame-wild-unverified"
	D1   string
	T1   dpstore.WalkType
	D2   string
	T2   dpstore.WalkType
}

// Outcome is the result of resolving one collision.
type Outcome struct {
	Kind      OutcomeKind
	Scalar    *big.Int // set only when Kind == Verified
	Collision CollisionDescriptor
}

// SearchContext is the immutable snapshot of search parameters the resolver
// needs. It is passed by value by the coordinator on every call so the
// resolver never holds a pointer back into coordinator-owned state.
type SearchContext struct {
	Order      *big.Int
	RangeStart *big.Int
	BitRange   int
	Target     *curveoracle.PublicKey
	Oracle     curveoracle.Oracle
}

// Resolve decides solvability for DPs a and b, which the caller has already
// established share an x-coordinate. The result is symmetric in a and b.
func Resolve(ctx SearchContext, a, b dpstore.Point) (Outcome, error) {
	if a.T == dpstore.TAME && b.T == dpstore.TAME {
		return Outcome{Kind: Unsolvable}, nil
	}
	if a.T != dpstore.TAME && b.T != dpstore.TAME && a.T == b.T && a.D == b.D {
		return Outcome{Kind: Unsolvable}, nil
	}

	tame, wild, ok := splitTameWild(a, b)
	if ok {
		return resolveTameWild(ctx, tame, wild)
	}

	return resolveWildWild(a, b), nil
}

func splitTameWild(a, b dpstore.Point) (tame, wild dpstore.Point, ok bool) {
	switch {
	case a.T == dpstore.TAME:
		return a, b, true
	case b.T == dpstore.TAME:
		return b, a, true
	default:
		return dpstore.Point{}, dpstore.Point{}, false
	}
}

func resolveTameWild(ctx SearchContext, tame, wild dpstore.Point) (Outcome, error) {
	t, ok := new(big.Int).SetString(tame.D, 16)
	if !ok {
		return Outcome{}, errors.Errorf("resolver: invalid distance hex %q", tame.D)
	}
	w, ok := new(big.Int).SetString(wild.D, 16)
	if !ok {
		return Outcome{}, errors.Errorf("resolver: invalid distance hex %q", wild.D)
	}

	h := new(big.Int).Lsh(big.NewInt(1), uint(ctx.BitRange-1))

	var kRaw *big.Int
	switch wild.T {
	case dpstore.WILD1:
		kRaw = new(big.Int).Sub(t, w)
		kRaw.Add(kRaw, h)
	case dpstore.WILD2:
		halved := new(big.Int).Rsh(w, 1) // integer division by 2
		kRaw = new(big.Int).Sub(t, halved)
		kRaw.Add(kRaw, h)
	default:
		return resolveWildWild(tame, wild), nil
	}

	kRaw.Mod(kRaw, ctx.Order)
	k := new(big.Int).Add(kRaw, ctx.RangeStart)
	k.Mod(k, ctx.Order)

	if !verify(ctx, k) {
		return Outcome{Kind: Unresolved, Collision: CollisionDescriptor{
			Kind: "tame-wild-unverified",
			D1:   tame.D, T1: tame.T,
			D2: wild.D, T2: wild.T,
		}}, nil
	}

	return Outcome{Kind: Verified, Scalar: k}, nil
}

func resolveWildWild(a, b dpstore.Point) Outcome {
	kind := "same-wild"
	if a.T != b.T {
		kind = "mixed-wild"
	}
	return Outcome{Kind: Unresolved, Collision: CollisionDescriptor{
		Kind: kind,
		D1:   a.D, T1: a.T,
		D2: b.D, T2: b.T,
	}}
}

func verify(ctx SearchContext, k *big.Int) bool {
	if k.Sign() <= 0 || k.Cmp(ctx.Order) >= 0 {
		return false
	}
	if ctx.Oracle == nil || !ctx.Oracle.HasFullVerification() {
		return true
	}
	return ctx.Oracle.Verify(k, ctx.Target)
}
