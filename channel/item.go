// Package channel implements the channel object (spec.md §4.4, C4+C5+C6)
// and its registry (the channel half of C8): reference-counted FIFO
// conduits with multiple bound senders/receivers, per-interpreter
// end-association, optional synchronous send, and drain-and-close.
/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package channel

import (
	"unsafe"

	"github.com/NVIDIA/interpchannels/interp"
	"github.com/NVIDIA/interpchannels/policy"
	"github.com/NVIDIA/interpchannels/waiter"
	"github.com/NVIDIA/interpchannels/xid"
)

// item is a queued channel entry (spec.md §3 "Channel item"): origin,
// xid, an optional waiter for a synchronous send, the item's own
// unbound-disposition policy, and an intrusive next link. Created on
// send, destroyed on successful recv, forced removal, or
// interpreter-cleanup.
type item struct {
	origin  interp.Id
	rec     *xid.Record // nil once cleared by the interpreter-exit hook
	cleared bool        // true once the exit hook has visited this item
	waiter  *waiter.Waiter
	unbound policy.UnboundOp
	next    *item
}

// id returns the item's own address as an opaque token - stable for the
// item's lifetime, used by Channel.Remove and by Waiter.ItemID (design
// note §9: "an item's address serves as its id").
func (it *item) id() uintptr { return uintptr(unsafe.Pointer(it)) }

type itemQueue struct {
	head, tail *item
	count      int
}

func (q *itemQueue) push(it *item) {
	if q.tail == nil {
		q.head, q.tail = it, it
	} else {
		q.tail.next = it
		q.tail = it
	}
	q.count++
}

func (q *itemQueue) pop() *item {
	if q.head == nil {
		return nil
	}
	it := q.head
	q.head = it.next
	if q.head == nil {
		q.tail = nil
	}
	it.next = nil
	q.count--
	return it
}

// unlink removes the item whose id() == target, anywhere in the list.
// O(n), matching spec.md §4.4's "Removal of a specific item" algorithm.
func (q *itemQueue) unlink(target uintptr) *item {
	var prev *item
	for cur := q.head; cur != nil; cur = cur.next {
		if cur.id() == target {
			if prev == nil {
				q.head = cur.next
			} else {
				prev.next = cur.next
			}
			if cur == q.tail {
				q.tail = prev
			}
			cur.next = nil
			q.count--
			return cur
		}
		prev = cur
	}
	return nil
}
