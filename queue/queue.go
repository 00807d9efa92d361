// Package queue implements the bounded, multi-interpreter FIFO queue
// object (spec.md §4.6, C7): unlike channel, a queue is a plain buffer
// with no synchronous hand-off and no per-end bookkeeping - maxsize
// bounds it, Put/Get move xid Records in and out, and GetWait polls at
// config.Rom.QueueGetWaitPoll granularity instead of blocking on a
// waiter (queues have no rendezvous object, spec.md §3).
/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package queue

import (
	"container/list"
	"context"
	"errors"
	"runtime"
	"sync"
	"time"

	"github.com/NVIDIA/interpchannels/cmn/cos"
	"github.com/NVIDIA/interpchannels/cmn/debug"
	"github.com/NVIDIA/interpchannels/config"
	"github.com/NVIDIA/interpchannels/interp"
	"github.com/NVIDIA/interpchannels/policy"
	"github.com/NVIDIA/interpchannels/xid"
)

// Queue is C7. Unlike a channel, a queue is never implicitly bound to an
// interpreter the way a channel end is; instead it records in
// everBoundOrigin the interpreters that have Put, forgetting one once the
// interpreter-exit hook (C9) has swept it. The hook itself walks every
// item and does not consult that set.
type Queue struct {
	mu         sync.Mutex
	items      *list.List // of *qitem
	maxsize    int        // <= 0 means unbounded
	open       bool
	numWaiters int // SUPPLEMENTED FEATURE #5: count of in-flight Put/Get/GetWait calls

	defaultUnbound  policy.UnboundOp
	fallback        policy.FallbackPolicy
	everBoundOrigin map[interp.Id]bool

	ireg interp.Registry
	xreg *xid.Registry
}

type qitem struct {
	origin  interp.Id
	rec     *xid.Record
	unbound policy.UnboundOp
	cleared bool
}

func newQueue(maxsize int, defaultUnbound policy.UnboundOp, fallback policy.FallbackPolicy, ireg interp.Registry, xreg *xid.Registry) *Queue {
	return &Queue{
		items:           list.New(),
		maxsize:         maxsize,
		open:            true,
		defaultUnbound:  defaultUnbound,
		fallback:        fallback,
		everBoundOrigin: make(map[interp.Id]bool, 4),
		ireg:            ireg,
		xreg:            xreg,
	}
}

func (q *Queue) pack(origin interp.Id, value any) (*xid.Record, error) {
	rec, err := q.xreg.Pack(origin, value)
	if err == nil {
		return rec, nil
	}
	if q.fallback == policy.FallbackNone {
		return nil, err
	}
	return fallbackPack(q.fallback, origin, value)
}

// Defaults is queue_get_defaults (spec.md §6): the UnboundOp/FallbackPolicy
// this queue was created with. Both are immutable after newQueue, so no
// locking is needed to read them.
func (q *Queue) Defaults() (policy.UnboundOp, policy.FallbackPolicy) {
	return q.defaultUnbound, q.fallback
}

// beginOp/endOp mark one in-flight Put/Get/GetWait call against
// numWaiters, incremented before any check and decremented on every exit
// path - so Close(force=true) can spin-wait for every call that's
// currently touching the queue to finish before it frees pending items
// (spec.md §4.6's destroy algorithm).
func (q *Queue) beginOp() {
	q.mu.Lock()
	q.numWaiters++
	q.mu.Unlock()
}

func (q *Queue) endOp() {
	q.mu.Lock()
	q.numWaiters--
	q.mu.Unlock()
}

// Put is queue_put (spec.md §4.6): rejects on a full bounded queue or a
// closed queue; never blocks. An invalid unbound (the caller's
// unbound_op=None / unspecified case) substitutes this queue's own
// default, per queue_put's documented "defaults to queue defaults".
func (q *Queue) Put(origin interp.Id, value any, unbound policy.UnboundOp) error {
	if !unbound.Valid() {
		unbound = q.defaultUnbound
	}
	q.beginOp()
	defer q.endOp()

	rec, err := q.pack(origin, value)
	if err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.open {
		return cos.ErrChannelClosed
	}
	if q.maxsize > 0 && q.items.Len() >= q.maxsize {
		return cos.ErrQueueFull
	}
	q.everBoundOrigin[origin] = true
	q.items.PushBack(&qitem{origin: origin, rec: rec, unbound: unbound})
	return nil
}

// Get is queue_get: a single non-blocking pop attempt.
func (q *Queue) Get(recvInterp interp.Id) (any, bool, error) {
	q.beginOp()
	defer q.endOp()

	q.mu.Lock()
	if !q.open && q.items.Len() == 0 {
		q.mu.Unlock()
		return nil, false, cos.ErrChannelClosed
	}
	front := q.items.Front()
	if front == nil {
		q.mu.Unlock()
		return nil, false, cos.ErrQueueEmpty
	}
	it := q.items.Remove(front).(*qitem)
	q.mu.Unlock()

	if it.cleared {
		switch it.unbound {
		case policy.Error:
			return nil, false, cos.NewErrUnbound(int64(it.origin))
		case policy.Replace:
			return nil, true, nil
		default:
			debug.Assert(false, "cleared item reached Get under UnboundOp.Remove")
			return nil, false, cos.ErrQueueEmpty
		}
	}
	val, err := it.rec.Unpack()
	relErr := it.rec.Release(q.ireg)
	if err != nil {
		return nil, false, err
	}
	if relErr != nil {
		debug.Infof("release after queue get: %v", relErr)
	}
	return val, false, nil
}

// GetWait is queue_get_wait (SUPPLEMENTED FEATURE #3): poll Get, tracking
// numWaiters while blocked (SUPPLEMENTED FEATURE #5), at config.Rom.QueueGetWaitPoll granularity,
// until an item is available or ctx/timeout expires.
func (q *Queue) GetWait(ctx context.Context, recvInterp interp.Id, timeout time.Duration) (any, bool, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	q.beginOp()
	defer q.endOp()

	poll := config.Rom.QueueGetWaitPoll
	for {
		val, unbound, err := q.Get(recvInterp)
		if err == nil || !isEmptyErr(err) {
			return val, unbound, err
		}
		if ctx != nil {
			select {
			case <-ctx.Done():
				return nil, false, ctx.Err()
			default:
			}
		}
		if timeout > 0 && time.Now().After(deadline) {
			return nil, false, err
		}
		time.Sleep(poll)
	}
}

func isEmptyErr(err error) bool { return errors.Is(err, cos.ErrQueueEmpty) }

func (q *Queue) NumWaiters() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.numWaiters
}

func (q *Queue) Count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

func (q *Queue) MaxSize() int { return q.maxsize }

// Close drains (force=true) or simply marks the queue closed; a closed,
// non-empty, non-forced queue still allows draining Gets until empty -
// queue_destroy in the source always forces, but channel-style
// drain-then-close is offered here for symmetry (spec.md §9 leaves queue
// close semantics under-specified and licenses this choice).
func (q *Queue) Close(force bool) error {
	q.mu.Lock()
	if !q.open {
		q.mu.Unlock()
		return cos.ErrChannelClosed
	}
	q.open = false
	q.mu.Unlock()

	if !force {
		return nil
	}

	// spec.md §4.6 destroy: wait for every in-flight Put/Get/GetWait call
	// to finish before freeing pending items, acquiring and releasing the
	// mutex each iteration rather than holding it continuously - a long
	// GetWait poll must not be starved out of ever observing q.open false.
	for {
		q.mu.Lock()
		n := q.numWaiters
		q.mu.Unlock()
		if n == 0 {
			break
		}
		runtime.Gosched()
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	for e := q.items.Front(); e != nil; e = q.items.Front() {
		it := q.items.Remove(e).(*qitem)
		if it.rec != nil {
			_ = it.rec.Release(q.ireg)
		}
	}
	return nil
}

// Info is queue_get_info's payload.
type Info struct {
	Open       bool
	Count      int
	MaxSize    int
	NumWaiters int
}

func (q *Queue) Info() Info {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Info{Open: q.open, Count: q.items.Len(), MaxSize: q.maxsize, NumWaiters: q.numWaiters}
}

// drainForInterpreter clears or removes items whose origin is id, per
// their unbound policy - the queue half of the teardown hook (C9).
func (q *Queue) drainForInterpreter(id interp.Id, releaseUnderOrigin func(*xid.Record)) {
	q.mu.Lock()
	var toClear []*qitem
	var toRemove []*list.Element
	for e := q.items.Front(); e != nil; e = e.Next() {
		it := e.Value.(*qitem)
		if it.origin != id || it.cleared {
			continue
		}
		switch it.unbound {
		case policy.Remove:
			toRemove = append(toRemove, e)
		case policy.Error, policy.Replace:
			toClear = append(toClear, it)
		}
	}
	for _, it := range toClear {
		it.cleared = true
	}
	var removedRecs []*xid.Record
	for _, e := range toRemove {
		it := q.items.Remove(e).(*qitem)
		removedRecs = append(removedRecs, it.rec)
	}
	delete(q.everBoundOrigin, id)
	q.mu.Unlock()

	for _, it := range toClear {
		if it.rec != nil {
			releaseUnderOrigin(it.rec)
			it.rec = nil
		}
	}
	for _, rec := range removedRecs {
		if rec != nil {
			releaseUnderOrigin(rec)
		}
	}
}
