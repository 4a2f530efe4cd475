package coordinator

import (
	"math/big"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rckangaroo/coordinator/internal/curveoracle"
	"github.com/rckangaroo/coordinator/internal/dpstore"
	"github.com/rckangaroo/coordinator/internal/kangerr"
	"github.com/rckangaroo/coordinator/internal/storage"
)

func bigHex(s string) *big.Int {
	n, _ := new(big.Int).SetString(s, 16)
	return n
}

func newTestCoordinator(t *testing.T) *Coordinator {
	t.Helper()
	return New(storage.NewMemoryStore(), curveoracle.NewStubOracle(), zap.NewNop())
}

// a syntactically valid compressed pubkey for tests that don't care about
// its value, only that parsing succeeds.
const testPubKey = "02" + "79be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f2815b16f81798"

func TestConfigureRejectsMalformedPubkey(t *testing.T) {
	c := newTestCoordinator(t)
	err := c.Configure(ConfigureRequest{
		Start: bigHex("100"), End: bigHex("200"),
		PubKeyHex: "00abc", DPBits: 4, ChunkSize: bigHex("40"),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, kangerr.ErrMalformedInput)

	st, err := c.Status()
	require.NoError(t, err)
	assert.Zero(t, st, "no state should be written on malformed configure")
}

func TestSingleClientWalkthrough(t *testing.T) {
	c := newTestCoordinator(t)
	require.NoError(t, c.Configure(ConfigureRequest{
		Start: bigHex("100"), End: bigHex("200"),
		PubKeyHex: testPubKey, DPBits: 4, ChunkSize: bigHex("40"),
	}))

	wantRanges := []struct{ start, end string }{
		{"100", "140"}, {"140", "180"}, {"180", "1c0"}, {"1c0", "200"},
	}
	for i, want := range wantRanges {
		chunk, ok, err := c.GetWork("client-1")
		require.NoError(t, err)
		require.True(t, ok, "expected chunk %d", i)
		assert.Equal(t, want.start, chunk.Start)
		assert.Equal(t, want.end, chunk.End)
	}

	_, ok, err := c.GetWork("client-1")
	require.NoError(t, err)
	assert.False(t, ok, "fifth get_work call should return none")
}

func TestCollisionTameWild1(t *testing.T) {
	c := newTestCoordinator(t)
	require.NoError(t, c.Configure(ConfigureRequest{
		Start: bigHex("0"), End: bigHex("100"),
		PubKeyHex: testPubKey, DPBits: 4, ChunkSize: bigHex("40"),
	}))

	res, err := c.SubmitPoints("client-1", []PointSubmission{
		{X: "aa", D: "10", T: dpstore.TAME},
	})
	require.NoError(t, err)
	assert.False(t, res.Solved)

	res, err = c.SubmitPoints("client-2", []PointSubmission{
		{X: "aa", D: "08", T: dpstore.WILD1},
	})
	require.NoError(t, err)
	require.True(t, res.Solved)
	assert.Equal(t, "88", res.Solution)

	st, err := c.Status()
	require.NoError(t, err)
	assert.True(t, st.Solved)
	assert.Equal(t, "88", st.Solution)
}

// TestSolutionHexIsUppercase confirms the recovered scalar is rendered in
// uppercase hex, distinguishing it from every other hex field on the wire.
func TestSolutionHexIsUppercase(t *testing.T) {
	c := newTestCoordinator(t)
	require.NoError(t, c.Configure(ConfigureRequest{
		Start: bigHex("0"), End: bigHex("100"),
		PubKeyHex: testPubKey, DPBits: 4, ChunkSize: bigHex("40"),
	}))

	res, err := c.SubmitPoints("client-1", []PointSubmission{
		{X: "bb", D: "a3c", T: dpstore.TAME},
	})
	require.NoError(t, err)
	assert.False(t, res.Solved)

	res, err = c.SubmitPoints("client-2", []PointSubmission{
		{X: "bb", D: "0", T: dpstore.WILD1},
	})
	require.NoError(t, err)
	require.True(t, res.Solved)
	assert.Equal(t, "ABC", res.Solution)
	assert.Equal(t, res.Solution, strings.ToUpper(res.Solution))
}

func TestCollisionTameWild2Halving(t *testing.T) {
	c := newTestCoordinator(t)
	require.NoError(t, c.Configure(ConfigureRequest{
		Start: bigHex("0"), End: bigHex("100"),
		PubKeyHex: testPubKey, DPBits: 4, ChunkSize: bigHex("40"),
	}))

	_, err := c.SubmitPoints("client-1", []PointSubmission{
		{X: "bb", D: "20", T: dpstore.TAME},
	})
	require.NoError(t, err)

	res, err := c.SubmitPoints("client-2", []PointSubmission{
		{X: "bb", D: "10", T: dpstore.WILD2},
	})
	require.NoError(t, err)
	require.True(t, res.Solved)
	assert.Equal(t, "98", res.Solution)
}

func TestDuplicateInsert(t *testing.T) {
	c := newTestCoordinator(t)
	require.NoError(t, c.Configure(ConfigureRequest{
		Start: bigHex("0"), End: bigHex("100"),
		PubKeyHex: testPubKey, DPBits: 4, ChunkSize: bigHex("40"),
	}))

	points := []PointSubmission{{X: "cc", D: "05", T: dpstore.TAME}}
	res, err := c.SubmitPoints("client-1", points)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Accepted)

	res, err = c.SubmitPoints("client-1", points)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Accepted, "reply reflects input length even on a duplicate")

	st, err := c.Status()
	require.NoError(t, err)
	assert.Equal(t, 1, st.DPCount, "duplicate insert must not grow the DP table")
}

func TestPostSolveIdempotence(t *testing.T) {
	c := newTestCoordinator(t)
	require.NoError(t, c.Configure(ConfigureRequest{
		Start: bigHex("0"), End: bigHex("100"),
		PubKeyHex: testPubKey, DPBits: 4, ChunkSize: bigHex("40"),
	}))

	_, err := c.SubmitPoints("client-1", []PointSubmission{{X: "aa", D: "10", T: dpstore.TAME}})
	require.NoError(t, err)
	res, err := c.SubmitPoints("client-2", []PointSubmission{{X: "aa", D: "08", T: dpstore.WILD1}})
	require.NoError(t, err)
	require.True(t, res.Solved)

	before, err := c.Status()
	require.NoError(t, err)

	res, err = c.SubmitPoints("client-3", []PointSubmission{{X: "zz", D: "ff", T: dpstore.TAME}})
	require.NoError(t, err)
	assert.Equal(t, "solved", statusString(res))
	assert.Equal(t, "88", res.Solution)

	after, err := c.Status()
	require.NoError(t, err)
	assert.Equal(t, before.DPCount, after.DPCount, "DP table must not grow once solved")
}

func statusString(r SubmitResult) string {
	if r.Solved {
		return "solved"
	}
	return "success"
}

func TestConfigureRefusesAfterSolved(t *testing.T) {
	c := newTestCoordinator(t)
	require.NoError(t, c.Configure(ConfigureRequest{
		Start: bigHex("0"), End: bigHex("100"),
		PubKeyHex: testPubKey, DPBits: 4, ChunkSize: bigHex("40"),
	}))
	_, err := c.SubmitPoints("client-1", []PointSubmission{{X: "aa", D: "10", T: dpstore.TAME}})
	require.NoError(t, err)
	res, err := c.SubmitPoints("client-2", []PointSubmission{{X: "aa", D: "08", T: dpstore.WILD1}})
	require.NoError(t, err)
	require.True(t, res.Solved)

	err = c.Configure(ConfigureRequest{
		Start: bigHex("0"), End: bigHex("200"),
		PubKeyHex: testPubKey, DPBits: 4, ChunkSize: bigHex("40"),
	})
	assert.ErrorIs(t, err, kangerr.ErrAlreadySolved)
}

func TestGetWorkReturnsNoneWhenSolved(t *testing.T) {
	c := newTestCoordinator(t)
	require.NoError(t, c.Configure(ConfigureRequest{
		Start: bigHex("0"), End: bigHex("100"),
		PubKeyHex: testPubKey, DPBits: 4, ChunkSize: bigHex("40"),
	}))
	_, err := c.SubmitPoints("client-1", []PointSubmission{{X: "aa", D: "10", T: dpstore.TAME}})
	require.NoError(t, err)
	res, err := c.SubmitPoints("client-2", []PointSubmission{{X: "aa", D: "08", T: dpstore.WILD1}})
	require.NoError(t, err)
	require.True(t, res.Solved)

	_, ok, err := c.GetWork("client-3")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSubmitPointsTieBreakIgnoresSubsequentCollisions(t *testing.T) {
	c := newTestCoordinator(t)
	require.NoError(t, c.Configure(ConfigureRequest{
		Start: bigHex("0"), End: bigHex("100"),
		PubKeyHex: testPubKey, DPBits: 4, ChunkSize: bigHex("40"),
	}))

	_, err := c.SubmitPoints("client-1", []PointSubmission{
		{X: "aa", D: "10", T: dpstore.TAME},
		{X: "bb", D: "20", T: dpstore.TAME},
	})
	require.NoError(t, err)

	// Both points collide in the same batch; the first verified scalar
	// (aa) should freeze the search and the second collision (bb) must be
	// ignored rather than producing a different solution.
	res, err := c.SubmitPoints("client-2", []PointSubmission{
		{X: "aa", D: "08", T: dpstore.WILD1},
		{X: "bb", D: "10", T: dpstore.WILD2},
	})
	require.NoError(t, err)
	require.True(t, res.Solved)
	assert.Equal(t, "88", res.Solution)
}

func TestStatusReportsUnresolvedCollisions(t *testing.T) {
	c := newTestCoordinator(t)
	require.NoError(t, c.Configure(ConfigureRequest{
		Start: bigHex("0"), End: bigHex("100"),
		PubKeyHex: testPubKey, DPBits: 4, ChunkSize: bigHex("40"),
	}))

	_, err := c.SubmitPoints("client-1", []PointSubmission{{X: "aa", D: "10", T: dpstore.WILD1}})
	require.NoError(t, err)
	_, err = c.SubmitPoints("client-2", []PointSubmission{{X: "aa", D: "20", T: dpstore.WILD1}})
	require.NoError(t, err)

	st, err := c.Status()
	require.NoError(t, err)
	assert.False(t, st.Solved)
	require.Len(t, st.UnresolvedCollisions, 1)
	assert.Equal(t, "same-wild", st.UnresolvedCollisions[0].Kind)
}
