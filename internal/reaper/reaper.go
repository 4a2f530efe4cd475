// Package reaper is an optional background goroutine that requeues work
// chunks whose assignment has gone stale — a client claimed a chunk and
// never reported back. It is not part of the core coordinator contract:
// reconfiguration never revokes outstanding work, and nothing in
// internal/coordinator starts a reaper automatically. A process that
// wants this behavior constructs and starts one explicitly.
package reaper

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rckangaroo/coordinator/internal/workledger"
)

// Reaper polls the work ledger on a fixed interval and transitions any
// chunk assigned longer than staleAfter back to pending.
type Reaper struct {
	ledger     *workledger.Ledger
	logger     *zap.Logger
	interval   time.Duration
	staleAfter time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a Reaper that checks every interval for chunks assigned
// more than staleAfter ago.
func New(ledger *workledger.Ledger, logger *zap.Logger, interval, staleAfter time.Duration) *Reaper {
	return &Reaper{
		ledger:     ledger,
		logger:     logger,
		interval:   interval,
		staleAfter: staleAfter,
	}
}

// Start begins polling in a background goroutine. Calling Start twice
// without an intervening Stop leaks the first goroutine; callers are
// expected to own a single Reaper per process, as the optional-extension
// note describes.
func (r *Reaper) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				r.reapOnce()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop cancels the polling goroutine and waits for it to exit.
func (r *Reaper) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

func (r *Reaper) reapOnce() {
	cutoff := time.Now().Add(-r.staleAfter)
	reaped, err := r.ledger.ReapStale(cutoff)
	if err != nil {
		r.logger.Warn("reaper: failed to scan for stale chunks", zap.Error(err))
		return
	}
	if len(reaped) > 0 {
		r.logger.Info("reaper: requeued stale chunks", zap.Strings("range_ids", reaped), zap.Duration("stale_after", r.staleAfter))
	}
}
