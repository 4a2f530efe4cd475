// Package curveoracle provides the secp256k1 curve collaborator used by the
// collision resolver and coordinator: the constants of the curve (order,
// generator) plus, for full verification, scalar multiplication and point
// compression. The source this system was distilled from elided this
// entirely; here it is an explicit, pluggable Oracle so the resolver's
// contract never changes whether verification is "stubbed but honest" or
// fully cryptographic.
package curveoracle

import (
	"bytes"
	"encoding/hex"
	"math/big"

	secp256k1 "github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/pkg/errors"

	"github.com/rckangaroo/coordinator/internal/kangerr"
)

// Order is n, the order of the secp256k1 group.
var Order = mustParseHex("FFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFEBAAEDCE6AF48A03BBFD25E8CD0364141")

var (
	generatorX = mustParseHex("79BE667EF9DCBBAC55A06295CE870B07029BFCDB2DCE28D959F2815B16F81798")
	generatorY = mustParseHex("483ADA7726A3C4655DA4FBFC0E1108A8FD17B448A68554199C47D08FFB10D4B8")
)

func mustParseHex(s string) *big.Int {
	n, ok := new(big.Int).SetString(s, 16)
	if !ok {
		panic("curveoracle: invalid constant " + s)
	}
	return n
}

// KeyForm distinguishes the two public key wire encodings: compressed
// (33-byte, 02/03-prefixed) and uncompressed (65-byte, 04-prefixed).
type KeyForm int

const (
	// Compressed is the 33-byte `02`/`03`-prefixed encoding.
	Compressed KeyForm = iota
	// Uncompressed is the 65-byte `04`-prefixed encoding.
	Uncompressed
)

// PublicKey is the parsed sum-typed descriptor: { Compressed(x, parity) |
// Uncompressed(x, y) }. It replaces the dynamic string-prefix tests of the
// source with a value produced once at configure time.
type PublicKey struct {
	X, Y   *big.Int
	Form   KeyForm
	Parity byte // 0x02 or 0x03; meaningful only when Form == Compressed
	raw    []byte
}

// Raw returns a copy of the original wire encoding.
func (p *PublicKey) Raw() []byte {
	return append([]byte(nil), p.raw...)
}

// HexString lowercases and hex-encodes the original wire encoding. The
// coordinator stores this form in the search state, which is what get_work
// replies and status snapshots echo back.
func (p *PublicKey) HexString() string {
	return hex.EncodeToString(p.raw)
}

// ParsePublicKey parses a hex-encoded secp256k1 public key in either
// compressed or uncompressed form. Any prefix outside {02, 03, 04}, or a
// length mismatched to the prefix, is reported as kangerr.ErrMalformedInput.
func ParsePublicKey(hexStr string) (*PublicKey, error) {
	raw, err := hex.DecodeString(hexStr)
	if err != nil {
		return nil, errors.Wrapf(kangerr.ErrMalformedInput, "pubkey: %v", err)
	}
	if len(raw) == 0 {
		return nil, errors.Wrap(kangerr.ErrMalformedInput, "pubkey: empty")
	}

	switch raw[0] {
	case 0x02, 0x03:
		if len(raw) != 33 {
			return nil, errors.Wrapf(kangerr.ErrMalformedInput, "pubkey: compressed form must be 33 bytes, got %d", len(raw))
		}
		return &PublicKey{
			X:      new(big.Int).SetBytes(raw[1:]),
			Form:   Compressed,
			Parity: raw[0],
			raw:    raw,
		}, nil
	case 0x04:
		if len(raw) != 65 {
			return nil, errors.Wrapf(kangerr.ErrMalformedInput, "pubkey: uncompressed form must be 65 bytes, got %d", len(raw))
		}
		return &PublicKey{
			X:    new(big.Int).SetBytes(raw[1:33]),
			Y:    new(big.Int).SetBytes(raw[33:65]),
			Form: Uncompressed,
			raw:  raw,
		}, nil
	default:
		return nil, errors.Wrapf(kangerr.ErrMalformedInput, "pubkey: unrecognized prefix 0x%02x", raw[0])
	}
}

// Oracle is the pluggable curve-arithmetic collaborator. The resolver
// consumes only Order; verification additionally consumes ScalarMul and
// Compress. See Secp256k1Oracle and StubOracle.
type Oracle interface {
	// Order returns n, the group order.
	Order() *big.Int
	// Generator returns the coordinates of G.
	Generator() (x, y *big.Int)
	// ScalarMul computes k·G. Implementations that cannot perform curve
	// arithmetic return (nil, nil).
	ScalarMul(k *big.Int) (x, y *big.Int)
	// Compress returns the 33-byte compressed encoding of a point.
	// Implementations that cannot perform curve arithmetic return nil.
	Compress(x, y *big.Int) []byte
	// Verify reports whether k is consistent with pub. Implementations
	// without real curve arithmetic perform structural validation only
	// (0 < k < n); see HasFullVerification.
	Verify(k *big.Int, pub *PublicKey) bool
	// HasFullVerification reports whether Verify performs real k·G
	// cryptographic verification as opposed to structural checks alone.
	HasFullVerification() bool
}

// Secp256k1Oracle is the production Oracle, backed by
// github.com/decred/dcrd/dcrec/secp256k1/v4. It performs real scalar
// multiplication and point compression, making Verify a full cryptographic
// check.
type Secp256k1Oracle struct{}

// NewSecp256k1Oracle constructs the production curve oracle.
func NewSecp256k1Oracle() *Secp256k1Oracle { return &Secp256k1Oracle{} }

// Order implements Oracle.
func (Secp256k1Oracle) Order() *big.Int { return new(big.Int).Set(Order) }

// Generator implements Oracle.
func (Secp256k1Oracle) Generator() (x, y *big.Int) {
	return new(big.Int).Set(generatorX), new(big.Int).Set(generatorY)
}

// ScalarMul implements Oracle by deriving a private key from k and reading
// its public point back out of the library's uncompressed serialization —
// the dcrec API intentionally does not expose raw field elements, so the
// round trip through SerializeUncompressed is the supported way to recover
// (X, Y) as big.Int.
func (Secp256k1Oracle) ScalarMul(k *big.Int) (x, y *big.Int) {
	kMod := new(big.Int).Mod(k, Order)
	if kMod.Sign() == 0 {
		return nil, nil
	}
	var buf [32]byte
	kMod.FillBytes(buf[:])
	priv := secp256k1.PrivKeyFromBytes(buf[:])
	defer priv.Zero()

	uncompressed := priv.PubKey().SerializeUncompressed()
	x = new(big.Int).SetBytes(uncompressed[1:33])
	y = new(big.Int).SetBytes(uncompressed[33:65])
	return x, y
}

// Compress implements Oracle.
func (Secp256k1Oracle) Compress(x, y *big.Int) []byte {
	if x == nil || y == nil {
		return nil
	}
	buf := make([]byte, 65)
	buf[0] = 0x04
	x.FillBytes(buf[1:33])
	y.FillBytes(buf[33:65])

	pub, err := secp256k1.ParsePubKey(buf)
	if err != nil {
		return nil
	}
	return pub.SerializeCompressed()
}

// Verify implements Oracle with a full k·G cryptographic check: k must be
// structurally valid and k·G, compressed, must equal the target's
// compressed encoding.
func (o Secp256k1Oracle) Verify(k *big.Int, pub *PublicKey) bool {
	if k.Sign() <= 0 || k.Cmp(Order) >= 0 {
		return false
	}
	x, y := o.ScalarMul(k)
	got := o.Compress(x, y)
	if got == nil {
		return false
	}

	want := pub.raw
	if pub.Form == Uncompressed {
		want = o.Compress(pub.X, pub.Y)
	}
	return bytes.Equal(got, want)
}

// HasFullVerification implements Oracle.
func (Secp256k1Oracle) HasFullVerification() bool { return true }

// StubOracle is a curve oracle with no curve arithmetic at all: it reports
// the real order and generator (needed by the resolver's formulas) but
// cannot compute k·G. Verify falls back to the structural check alone —
// stubbed but honest: HasFullVerification always reports false here, so
// callers never mistake a structurally-valid k for a cryptographically
// verified one.
type StubOracle struct{}

// NewStubOracle constructs a structural-only curve oracle, useful for tests
// and environments without the production dependency available.
func NewStubOracle() *StubOracle { return &StubOracle{} }

// Order implements Oracle.
func (StubOracle) Order() *big.Int { return new(big.Int).Set(Order) }

// Generator implements Oracle.
func (StubOracle) Generator() (x, y *big.Int) {
	return new(big.Int).Set(generatorX), new(big.Int).Set(generatorY)
}

// ScalarMul implements Oracle; always unavailable.
func (StubOracle) ScalarMul(*big.Int) (x, y *big.Int) { return nil, nil }

// Compress implements Oracle; always unavailable.
func (StubOracle) Compress(*big.Int, *big.Int) []byte { return nil }

// Verify implements Oracle with structural validation only.
func (StubOracle) Verify(k *big.Int, _ *PublicKey) bool {
	return k.Sign() > 0 && k.Cmp(Order) < 0
}

// HasFullVerification implements Oracle.
func (StubOracle) HasFullVerification() bool { return false }
