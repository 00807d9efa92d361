package channel

import (
	"sync"

	"github.com/NVIDIA/interpchannels/cmn/cos"
	"github.com/NVIDIA/interpchannels/cmn/debug"
	"github.com/NVIDIA/interpchannels/interp"
	"github.com/NVIDIA/interpchannels/policy"
	"github.com/NVIDIA/interpchannels/waiter"
	"github.com/NVIDIA/interpchannels/xid"
)

// Channel is C6: composition of the end-association table (C4), the
// item queue (C5), a per-channel mutex, and closing state.
type Channel struct {
	mu      sync.Mutex
	ends    endTable
	q       itemQueue
	open    bool
	closing bool

	defaultUnbound policy.UnboundOp

	ireg interp.Registry
	xreg *xid.Registry
}

func newChannel(defaultUnbound policy.UnboundOp, ireg interp.Registry, xreg *xid.Registry) *Channel {
	return &Channel{open: true, defaultUnbound: defaultUnbound, ireg: ireg, xreg: xreg}
}

// Add is spec.md §4.4's Channel.add: pack is already done by the caller
// (xreg.Pack happened before the mutex was taken, since packing never
// suspends and keeping it out from under the lock matters under §5's
// ordering rules only for fairness, not correctness - but doing it
// outside the lock keeps the critical section tiny regardless).
func (c *Channel) Add(origin interp.Id, rec *xid.Record, w *waiter.Waiter, unbound policy.UnboundOp) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.open || c.closing {
		return cos.ErrChannelClosed
	}
	if err := c.ends.associate(sideSend, origin); err != nil {
		return err
	}
	it := &item{origin: origin, rec: rec, unbound: unbound}
	if w != nil {
		w.ItemID = it.id()
		w.Arm()
		it.waiter = w
	}
	c.q.push(it)
	debug.Assert(c.q.count >= 0)
	return nil
}

// popResult is what Next hands back to the package-level Recv/RecvWait
// wrappers: they decide whether to Unpack, release the waiter, and how
// to surface an unbound item.
type popResult struct {
	rec     *xid.Record
	w       *waiter.Waiter
	unbound policy.UnboundOp
	cleared bool
	origin  interp.Id
}

var errEmpty = cos.ErrChannelEmpty

// Next is spec.md §4.4's Channel.next.
func (c *Channel) Next(recvInterp interp.Id) (popResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.open {
		return popResult{}, cos.ErrChannelClosed
	}
	if err := c.ends.associate(sideRecv, recvInterp); err != nil {
		return popResult{}, err
	}
	if c.q.count == 0 {
		if c.closing {
			c.open = false
			c.ends.releaseAll(true, true)
		}
		return popResult{}, errEmpty
	}
	it := c.q.pop()
	return popResult{rec: it.rec, w: it.waiter, unbound: it.unbound, cleared: it.cleared, origin: it.origin}, nil
}

// Remove implements spec.md §4.4's O(n) forced single-item removal, used
// by a timed-out or interrupted synchronous send. Returns the removed
// item's xid record and waiter (nil, nil if no item with that id was
// found - it was already delivered).
func (c *Channel) Remove(itemID uintptr) (*xid.Record, *waiter.Waiter) {
	c.mu.Lock()
	it := c.q.unlink(itemID)
	c.mu.Unlock()
	if it == nil {
		return nil, nil
	}
	return it.rec, it.waiter
}

// Close implements spec.md §4.4's two close modes. A Close with both
// send and recv false is read as "close both" - the same surprising
// interpretation spec.md §9 documents for channel_release.
func (c *Channel) Close(send, recv, force bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.open {
		return cos.ErrChannelClosed
	}
	if !send && !recv {
		send, recv = true, true
	}

	if !force && c.q.count > 0 {
		if !send {
			return cos.ErrChannelNotEmpty
		}
		c.closing = true
		c.ends.releaseAll(true, false)
		return nil
	}

	// immediate: drain and release whatever remains (force path), or the
	// queue is already empty.
	for c.q.count > 0 {
		it := c.q.pop()
		if it.rec != nil {
			_ = it.rec.Release(c.ireg)
		}
		if it.waiter != nil {
			it.waiter.Release(false)
		}
	}
	c.open = false
	c.ends.releaseAll(send, recv)
	return nil
}

// ReleaseEnd is channel_release: the current interpreter releases its
// send and/or recv end. Both-false is read as both, matching Close.
func (c *Channel) ReleaseEnd(id interp.Id, send, recv bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !send && !recv {
		send, recv = true, true
	}
	if send {
		c.ends.releaseEnd(sideSend, id)
	}
	if recv {
		c.ends.releaseEnd(sideRecv, id)
	}
}

func (c *Channel) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.q.count
}

// DefaultUnbound reports the UnboundOp this channel was created with -
// channel_list_all's per-entry unbound_op (spec.md §6) and the default
// channel_send substitutes when a caller leaves unbound_op unspecified.
// Immutable after newChannel, so no locking is needed to read it.
func (c *Channel) DefaultUnbound() policy.UnboundOp { return c.defaultUnbound }

// Info is channel_get_info's payload (spec.md §6).
type Info struct {
	Open            bool
	Closing         bool
	Closed          bool
	Count           int
	SendOpenCount   int
	RecvOpenCount   int
	SendEnds        []interp.Id
	RecvEnds        []interp.Id
	CurrentSendStat EndStatus
	CurrentRecvStat EndStatus
}

func (c *Channel) Info(current interp.Id) Info {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Info{
		Open:            c.open,
		Closing:         c.closing,
		Closed:          !c.open,
		Count:           c.q.count,
		SendOpenCount:   c.ends.sendOpenCount,
		RecvOpenCount:   c.ends.recvOpenCount,
		SendEnds:        c.ends.listInterpreters(sideSend, false),
		RecvEnds:        c.ends.listInterpreters(sideRecv, false),
		CurrentSendStat: c.ends.status(sideSend, current),
		CurrentRecvStat: c.ends.status(sideRecv, current),
	}
}

// drainForInterpreter is called by the teardown hook (C9) - it clears or
// removes items whose origin is the dying interpreter id, per their
// unbound policy, and flips id's end associations closed.
func (c *Channel) drainForInterpreter(id interp.Id, releaseUnderOrigin func(*xid.Record)) {
	c.mu.Lock()
	var toClear []*item
	var toRemove []uintptr
	for it := c.q.head; it != nil; it = it.next {
		if it.origin != id || it.cleared {
			continue
		}
		switch it.unbound {
		case policy.Remove:
			toRemove = append(toRemove, it.id())
		case policy.Error, policy.Replace:
			toClear = append(toClear, it)
		}
	}
	for _, it := range toClear {
		it.cleared = true
	}
	c.ends.releaseEnd(sideSend, id)
	c.ends.releaseEnd(sideRecv, id)
	c.mu.Unlock()

	for _, it := range toClear {
		if it.rec != nil {
			releaseUnderOrigin(it.rec)
			it.rec = nil
		}
	}
	for _, target := range toRemove {
		if rec, w := c.Remove(target); rec != nil {
			releaseUnderOrigin(rec)
			if w != nil {
				w.Release(false)
			}
		}
	}
}
