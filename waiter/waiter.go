// Package waiter implements the single-slot rendezvous (spec.md §4.2,
// C3) that a synchronous channel send blocks on until the matching recv
// pops the item (or the item is forcibly removed on timeout/interrupt).
//
// The inner binary semaphore is golang.org/x/sync/semaphore.Weighted
// with capacity 1 rather than a bare sync.Mutex-as-semaphore, so wait()
// composes with context.Context cancellation/timeout the way the rest of
// this module's blocking calls do.
/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package waiter

import (
	"context"
	"runtime"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/NVIDIA/interpchannels/cmn/atomic"
	"github.com/NVIDIA/interpchannels/cmn/cos"
	"github.com/NVIDIA/interpchannels/cmn/debug"
	"github.com/NVIDIA/interpchannels/config"
)

// settleSpinIters bounds how long Settle tight-spins before falling back to
// config.Rom.SettlePoll-granularity sleeping. Release->Released is normally
// a handful of instructions, so this budget is never exhausted on the
// common path; it only matters if the releasing goroutine gets preempted
// mid-transition.
const settleSpinIters = 64

type status int32

const (
	noStatus status = iota
	acquired
	releasing
	released
)

// Waiter is stack-allocated at the send_wait call site (spec.md §3, §4.5):
// the channel item holds a non-owning reference bounded by the send
// call's lifetime, and every exit path from send_wait proves the item no
// longer references it before the stack frame returns.
type Waiter struct {
	sema      *semaphore.Weighted
	st        atomic.Int32
	delivered atomic.Bool

	// ItemID is the opaque token (the queued item's own address) used by
	// Channel.Remove to find and unlink this waiter's item in O(n).
	ItemID uintptr
}

func New() *Waiter {
	return &Waiter{sema: semaphore.NewWeighted(1)}
}

// Arm transitions NoStatus -> Acquired and takes the only permit, so the
// first Wait call blocks until Release gives it back. Must be called
// under the channel's mutex per spec.md §4.4 step 5.
func (w *Waiter) Arm() {
	debug.Assert(w.st.Load() == int32(noStatus), "arm called twice")
	ok := w.sema.TryAcquire(1)
	debug.Assert(ok, "waiter semaphore unexpectedly held at arm time")
	w.st.Store(int32(acquired))
}

// Wait blocks until Release is called or timeout elapses. timeout <= 0
// means wait forever (no deadline). channel.SendWait and
// channel.SendBuffer(blocking=true) pass their timeout through
// unchanged, so a zero timeout there also waits with no deadline; it
// does not make them non-blocking. The non-blocking sends
// (channel.Send, channel.SendBuffer(blocking=false)) never call Wait.
func (w *Waiter) Wait(ctx context.Context, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	err := w.sema.Acquire(ctx, 1)
	if err == nil {
		w.sema.Release(1) // give the permit back; this Waiter is single-use
		return nil
	}
	switch ctx.Err() {
	case context.DeadlineExceeded:
		return cos.ErrTimeout
	default:
		return cos.ErrInterrupted
	}
}

// Release transitions Acquired -> Releasing, records delivered, wakes
// any Wait call, then transitions to Released. Must be called exactly
// once per Arm.
func (w *Waiter) Release(delivered bool) {
	debug.Assert(w.st.Load() == int32(acquired), "release without arm")
	w.st.Store(int32(releasing))
	w.delivered.Store(delivered)
	w.sema.Release(1)
	w.st.Store(int32(released))
}

// Settle busy-yields until status leaves Releasing, guaranteeing the
// effects of a concurrent Release are fully observable before the
// Waiter's stack memory is reclaimed (spec.md §4.2, §4.5 step 4).
// Tight-spins for a bounded budget first - Release->Released is a handful
// of instructions, never a blocking call - then falls back to
// config.Rom.SettlePoll-granularity sleeping so a preempted releaser
// doesn't burn a full core indefinitely.
func (w *Waiter) Settle() {
	for i := 0; status(w.st.Load()) == releasing; i++ {
		if i < settleSpinIters {
			runtime.Gosched()
			continue
		}
		time.Sleep(config.Rom.SettlePoll)
	}
}

func (w *Waiter) Delivered() bool { return w.delivered.Load() }

// Armed reports whether Arm has run.
func (w *Waiter) Armed() bool { return w.st.Load() != int32(noStatus) }
