package reaper

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rckangaroo/coordinator/internal/storage"
	"github.com/rckangaroo/coordinator/internal/workledger"
)

func bigHex(s string) *big.Int {
	n, _ := new(big.Int).SetString(s, 16)
	return n
}

func TestReaperRequeuesStaleAssignments(t *testing.T) {
	ledger := workledger.New(storage.NewMemoryStore())
	require.NoError(t, ledger.Rebuild(bigHex("0"), bigHex("80"), bigHex("40"), 8, 4))

	old := time.Now().Add(-time.Hour)
	_, ok, err := ledger.ClaimNext("stale-client", old)
	require.NoError(t, err)
	require.True(t, ok)

	r := New(ledger, zap.NewNop(), 10*time.Millisecond, time.Minute)
	r.reapOnce()

	counts := ledger.Counts()
	assert.Equal(t, 2, counts[workledger.Pending], "stale assignment must be requeued as pending alongside the unclaimed chunk")
	assert.Equal(t, 0, counts[workledger.Assigned])
}

func TestReaperLeavesFreshAssignmentsAlone(t *testing.T) {
	ledger := workledger.New(storage.NewMemoryStore())
	require.NoError(t, ledger.Rebuild(bigHex("0"), bigHex("40"), bigHex("40"), 8, 4))

	_, ok, err := ledger.ClaimNext("fresh-client", time.Now())
	require.NoError(t, err)
	require.True(t, ok)

	r := New(ledger, zap.NewNop(), 10*time.Millisecond, time.Hour)
	r.reapOnce()

	counts := ledger.Counts()
	assert.Equal(t, 1, counts[workledger.Assigned], "fresh assignment must not be reaped")
}

func TestReaperStartStop(t *testing.T) {
	ledger := workledger.New(storage.NewMemoryStore())
	require.NoError(t, ledger.Rebuild(bigHex("0"), bigHex("40"), bigHex("40"), 8, 4))

	r := New(ledger, zap.NewNop(), 5*time.Millisecond, time.Hour)
	r.Start(context.Background())
	time.Sleep(20 * time.Millisecond)
	r.Stop()
}
