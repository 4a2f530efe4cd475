package statecell

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rckangaroo/coordinator/internal/storage"
)

func bigHex(s string) *big.Int {
	n, _ := new(big.Int).SetString(s, 16)
	return n
}

func TestGetBeforeConfigure(t *testing.T) {
	cell := New(storage.NewMemoryStore())
	_, ok, err := cell.Get()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConfigureThenGet(t *testing.T) {
	cell := New(storage.NewMemoryStore())
	want := State{
		RangeStart: "100",
		RangeEnd:   "200",
		PubKey:     "02aabbcc",
		DPBits:     4,
		BitRange:   8,
		ChunkSize:  "40",
	}
	require.NoError(t, cell.Configure(want))

	got, ok, err := cell.Get()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want.RangeStart, got.RangeStart)
	assert.Equal(t, want.PubKey, got.PubKey)
	assert.False(t, got.Solved)
}

func TestConfigureResetsSolved(t *testing.T) {
	cell := New(storage.NewMemoryStore())
	require.NoError(t, cell.Configure(State{RangeStart: "0", RangeEnd: "40"}))

	ok, err := cell.MarkSolved("deadbeef")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, cell.Configure(State{RangeStart: "0", RangeEnd: "80"}))

	got, _, err := cell.Get()
	require.NoError(t, err)
	assert.False(t, got.Solved, "reconfigure must reset solved")
	assert.Empty(t, got.Solution)
}

func TestMarkSolvedIsWriteOnce(t *testing.T) {
	cell := New(storage.NewMemoryStore())
	require.NoError(t, cell.Configure(State{RangeStart: "0", RangeEnd: "40"}))

	ok, err := cell.MarkSolved("88")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = cell.MarkSolved("ff")
	require.NoError(t, err)
	assert.False(t, ok, "second MarkSolved must be rejected")

	got, _, err := cell.Get()
	require.NoError(t, err)
	assert.Equal(t, "88", got.Solution, "solution must stay frozen at the first value")
}

func TestMarkSolvedWithoutConfigure(t *testing.T) {
	cell := New(storage.NewMemoryStore())
	_, err := cell.MarkSolved("88")
	assert.Error(t, err)
}

func TestBitRangeFor(t *testing.T) {
	cases := []struct {
		start, end string
		want       int
	}{
		{"100", "200", 8}, // width 0x100 == 256, exact power of two
		{"100", "140", 6}, // width 0x40 == 64, exact power of two
		{"0", "c8", 8},    // width 200, not a power of two
		{"0", "9", 4},     // width 9
	}
	for _, c := range cases {
		got := BitRangeFor(bigHex(c.start), bigHex(c.end))
		if got != c.want {
			t.Errorf("BitRangeFor(%s, %s) = %d, want %d", c.start, c.end, got, c.want)
		}
	}
}
