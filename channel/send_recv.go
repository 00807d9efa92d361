package channel

import (
	"context"
	"errors"
	"time"

	"github.com/NVIDIA/interpchannels/cmn/cos"
	"github.com/NVIDIA/interpchannels/cmn/debug"
	"github.com/NVIDIA/interpchannels/interp"
	"github.com/NVIDIA/interpchannels/policy"
	"github.com/NVIDIA/interpchannels/waiter"
	"github.com/NVIDIA/interpchannels/xid"
)

// Send is channel_send: pack value under origin, enqueue it unsynchronized.
// An invalid unbound (the caller's unbound_op=None case) substitutes this
// channel's own default, same as queue_put's documented substitution.
func Send(xreg *xid.Registry, ireg interp.Registry, ch *Channel, origin interp.Id, value any, unbound policy.UnboundOp) error {
	if !unbound.Valid() {
		unbound = ch.DefaultUnbound()
	}
	rec, err := xreg.Pack(origin, value)
	if err != nil {
		return err
	}
	if err := ch.Add(origin, rec, nil, unbound); err != nil {
		_ = rec.Release(ireg)
		return err
	}
	return nil
}

// SendWait is channel_send_wait (spec.md §4.5): a synchronous send that
// blocks until a receiver pops the item, or until timeout/ctx
// cancellation. On the unhappy path it must race a concurrent Next()
// that may pop the item the instant the timeout fires - Settle() absorbs
// that race before Remove() decides whether the item was actually
// delivered.
func SendWait(ctx context.Context, xreg *xid.Registry, ireg interp.Registry, ch *Channel, origin interp.Id, value any, unbound policy.UnboundOp, timeout time.Duration) error {
	if !unbound.Valid() {
		unbound = ch.DefaultUnbound()
	}
	rec, err := xreg.Pack(origin, value)
	if err != nil {
		return err
	}
	w := waiter.New()
	if err := ch.Add(origin, rec, w, unbound); err != nil {
		_ = rec.Release(ireg)
		return err
	}

	waitErr := w.Wait(ctx, timeout)
	if waitErr == nil {
		if !w.Delivered() {
			// released without delivery: the channel was force-closed or
			// the item was dropped while this send was waiting.
			return cos.ErrChannelClosedWhileWaiting
		}
		return nil
	}

	// timeout or interruption: settle any in-flight Release, then try to
	// remove the item ourselves.
	w.Settle()
	removedRec, removedWaiter := ch.Remove(w.ItemID)
	if removedRec == nil {
		// already popped by a receiver between the deadline firing and us
		// taking the lock - if it was actually delivered, that's success
		// despite the timeout error.
		if w.Delivered() {
			return nil
		}
		return waitErr
	}
	debug.Assert(removedWaiter == w)
	_ = removedRec.Release(ireg)
	return waitErr
}

// SendBuffer is channel_send_buffer (spec.md §4.9, §6): sends a zero-copy
// xid.BufferView instead of a value looked up through the type registry -
// the caller supplies the packer's onRelease (origin-side refcount
// decrement) directly, since a buffer view has no registered Packer of
// its own to discover via xreg.Pack. blocking=false mirrors Send (fire
// and enqueue); blocking=true mirrors SendWait (rendezvous with a
// receiver, racing Settle()/Remove() the same way on timeout/interrupt).
func SendBuffer(ctx context.Context, ireg interp.Registry, ch *Channel, origin interp.Id, bv *xid.BufferView, onRelease func(), unbound policy.UnboundOp, blocking bool, timeout time.Duration) error {
	if !unbound.Valid() {
		unbound = ch.DefaultUnbound()
	}
	rec, err := xid.NewBufferViewPacker(onRelease)(origin, bv)
	if err != nil {
		return err
	}
	rec.Origin = origin

	if !blocking {
		if err := ch.Add(origin, rec, nil, unbound); err != nil {
			_ = rec.Release(ireg)
			return err
		}
		return nil
	}

	w := waiter.New()
	if err := ch.Add(origin, rec, w, unbound); err != nil {
		_ = rec.Release(ireg)
		return err
	}
	waitErr := w.Wait(ctx, timeout)
	if waitErr == nil {
		if !w.Delivered() {
			return cos.ErrChannelClosedWhileWaiting
		}
		return nil
	}
	w.Settle()
	removedRec, removedWaiter := ch.Remove(w.ItemID)
	if removedRec == nil {
		if w.Delivered() {
			return nil
		}
		return waitErr
	}
	debug.Assert(removedWaiter == w)
	_ = removedRec.Release(ireg)
	return waitErr
}

// RecvResult is what a successful Next surfaces to a caller: either a
// concrete unpacked value, or an "unbound" marker for an item whose
// origin interpreter died under UnboundOp Replace.
type RecvResult struct {
	Value   any
	Unbound bool
}

// Recv is channel_recv / the non-blocking half of channel_recv_wait: a
// single pop attempt, no blocking.
func Recv(ireg interp.Registry, ch *Channel, recvInterp interp.Id) (RecvResult, error) {
	pr, err := ch.Next(recvInterp)
	if err != nil {
		return RecvResult{}, err
	}
	if pr.cleared {
		if pr.w != nil {
			pr.w.Release(true)
		}
		switch pr.unbound {
		case policy.Error:
			return RecvResult{}, cos.NewErrUnbound(int64(pr.origin))
		case policy.Replace:
			return RecvResult{Unbound: true}, nil
		default:
			debug.Assert(false, "cleared item reached Recv under UnboundOp.Remove")
		}
	}
	val, err := pr.rec.Unpack()
	relErr := pr.rec.Release(ireg)
	if pr.w != nil {
		pr.w.Release(true)
	}
	if err != nil {
		return RecvResult{}, err
	}
	if relErr != nil {
		debug.Infof("release after recv: %v", relErr)
	}
	return RecvResult{Value: val}, nil
}

// RecvWait is channel_recv_wait: poll Next until an item is available, the
// channel reports empty-while-closed, or the deadline/ctx expires.
func RecvWait(ctx context.Context, ireg interp.Registry, ch *Channel, recvInterp interp.Id, timeout time.Duration, poll time.Duration) (RecvResult, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		res, err := Recv(ireg, ch, recvInterp)
		if err == nil || !errors.Is(err, errEmpty) {
			return res, err
		}
		if ctx != nil {
			select {
			case <-ctx.Done():
				return RecvResult{}, ctx.Err()
			default:
			}
		}
		if timeout > 0 && time.Now().After(deadline) {
			return RecvResult{}, err
		}
		time.Sleep(poll)
	}
}
