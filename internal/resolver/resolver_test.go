package resolver

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rckangaroo/coordinator/internal/curveoracle"
	"github.com/rckangaroo/coordinator/internal/dpstore"
)

func stubContext(bitRange int, rangeStart *big.Int) SearchContext {
	oracle := curveoracle.NewStubOracle()
	return SearchContext{
		Order:      oracle.Order(),
		RangeStart: rangeStart,
		BitRange:   bitRange,
		Target:     nil,
		Oracle:     oracle,
	}
}

func TestResolveTameTameIsUnsolvable(t *testing.T) {
	ctx := stubContext(8, big.NewInt(0))
	a := dpstore.Point{X: "aa", D: "10", T: dpstore.TAME}
	b := dpstore.Point{X: "aa", D: "20", T: dpstore.TAME}

	out, err := Resolve(ctx, a, b)
	require.NoError(t, err)
	assert.Equal(t, Unsolvable, out.Kind)
}

func TestResolveSelfCollisionIsUnsolvable(t *testing.T) {
	ctx := stubContext(8, big.NewInt(0))
	a := dpstore.Point{X: "aa", D: "10", T: dpstore.WILD1}
	b := dpstore.Point{X: "aa", D: "10", T: dpstore.WILD1}

	out, err := Resolve(ctx, a, b)
	require.NoError(t, err)
	assert.Equal(t, Unsolvable, out.Kind)
}

// TestResolveTameWild1 matches the spec's worked example S3: bit_range=8 so
// H=0x80, S=0, tame distance 0x10, WILD1 distance 0x08; expected scalar
// 0x88.
func TestResolveTameWild1(t *testing.T) {
	ctx := stubContext(8, big.NewInt(0))
	tame := dpstore.Point{X: "aa", D: "10", T: dpstore.TAME}
	wild := dpstore.Point{X: "aa", D: "08", T: dpstore.WILD1}

	out, err := Resolve(ctx, tame, wild)
	require.NoError(t, err)
	require.Equal(t, Verified, out.Kind)
	assert.Equal(t, "88", out.Scalar.Text(16))
}

func TestResolveTameWildIsSymmetric(t *testing.T) {
	ctx := stubContext(8, big.NewInt(0))
	tame := dpstore.Point{X: "aa", D: "10", T: dpstore.TAME}
	wild := dpstore.Point{X: "aa", D: "08", T: dpstore.WILD1}

	ab, err := Resolve(ctx, tame, wild)
	require.NoError(t, err)
	ba, err := Resolve(ctx, wild, tame)
	require.NoError(t, err)

	assert.Equal(t, ab.Kind, ba.Kind)
	assert.Equal(t, 0, ab.Scalar.Cmp(ba.Scalar))
}

func TestResolveSameWildIsUnresolved(t *testing.T) {
	ctx := stubContext(8, big.NewInt(0))
	a := dpstore.Point{X: "aa", D: "10", T: dpstore.WILD1}
	b := dpstore.Point{X: "aa", D: "20", T: dpstore.WILD1}

	out, err := Resolve(ctx, a, b)
	require.NoError(t, err)
	assert.Equal(t, Unresolved, out.Kind)
	assert.Equal(t, "same-wild", out.Collision.Kind)
}

func TestResolveMixedWildIsUnresolved(t *testing.T) {
	ctx := stubContext(8, big.NewInt(0))
	a := dpstore.Point{X: "aa", D: "10", T: dpstore.WILD1}
	b := dpstore.Point{X: "aa", D: "20", T: dpstore.WILD2}

	out, err := Resolve(ctx, a, b)
	require.NoError(t, err)
	assert.Equal(t, Unresolved, out.Kind)
	assert.Equal(t, "mixed-wild", out.Collision.Kind)
}

// TestTameWildRoundTrip is the spec's property 5: for k in [0, 2^bitRange)
// and any tame distance t, feeding (t, TAME) and (w1, WILD1) where
// w1 = t - k + H, or (w2, WILD2) where w2 = 2*(t - k + H), recovers
// (k + S) mod n. When that value is 0 it fails the structural 0 < k < n
// check, so the outcome is Unresolved instead of Verified.
func TestTameWildRoundTrip(t *testing.T) {
	bitRange := 16
	order := curveoracle.Order
	h := new(big.Int).Lsh(big.NewInt(1), uint(bitRange-1))

	rangeStarts := []*big.Int{big.NewInt(0), big.NewInt(0x1000)}
	tameDistances := []*big.Int{big.NewInt(0x10), big.NewInt(0x1234), big.NewInt(0x7fff)}
	ks := []*big.Int{big.NewInt(0), big.NewInt(1), big.NewInt(0x42), big.NewInt(0xffff)}

	for _, s := range rangeStarts {
		ctx := stubContext(bitRange, s)
		for _, k := range ks {
			for _, tame := range tameDistances {
				tMinusKPlusH := new(big.Int).Sub(tame, k)
				tMinusKPlusH.Add(tMinusKPlusH, h)
				tMinusKPlusH.Mod(tMinusKPlusH, order)

				w1 := new(big.Int).Set(tMinusKPlusH)
				w2 := new(big.Int).Lsh(tMinusKPlusH, 1)

				want := new(big.Int).Add(k, s)
				want.Mod(want, order)
				wantKind := Verified
				if want.Sign() == 0 {
					wantKind = Unresolved
				}

				tamePt := dpstore.Point{X: "x", D: tame.Text(16), T: dpstore.TAME}

				wild1Pt := dpstore.Point{X: "x", D: w1.Text(16), T: dpstore.WILD1}
				out1, err := Resolve(ctx, tamePt, wild1Pt)
				require.NoError(t, err)
				require.Equal(t, wantKind, out1.Kind)
				if wantKind == Verified {
					assert.Equal(t, 0, want.Cmp(out1.Scalar), "WILD1 round trip: k=%s t=%s", k, tame)
				}

				wild2Pt := dpstore.Point{X: "x", D: w2.Text(16), T: dpstore.WILD2}
				out2, err := Resolve(ctx, tamePt, wild2Pt)
				require.NoError(t, err)
				require.Equal(t, wantKind, out2.Kind)
				if wantKind == Verified {
					assert.Equal(t, 0, want.Cmp(out2.Scalar), "WILD2 round trip: k=%s t=%s", k, tame)
				}
			}
		}
	}
}

func TestResolveInvalidDistanceHex(t *testing.T) {
	ctx := stubContext(8, big.NewInt(0))
	tame := dpstore.Point{X: "aa", D: "not-hex", T: dpstore.TAME}
	wild := dpstore.Point{X: "aa", D: "08", T: dpstore.WILD1}

	_, err := Resolve(ctx, tame, wild)
	assert.Error(t, err)
}
