// Package xid implements the cross-interpreter data transport (spec.md
// §4.1, C1) and its type registry (C2): packaging a value from
// interpreter src into an opaque, interpreter-independent Record, and
// later rebuilding an equivalent value in interpreter dst.
/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package xid

import (
	"github.com/NVIDIA/interpchannels/cmn/atomic"
	"github.com/NVIDIA/interpchannels/cmn/debug"
	"github.com/NVIDIA/interpchannels/interp"
)

// Unpacker produces a fresh equivalent value while the receiving
// interpreter is active. Required on every Record.
type Unpacker func() (any, error)

// Packer materializes value (owned by src) into a Record. Optional per
// type; NotShareable (via the registry) is the "no packer" outcome.
type Packer func(src interp.Id, value any) (*Record, error)

// Record is the opaque carrier described by spec.md §3: exactly payload,
// obj_ref, origin, unpack, free. Field names here are exported because
// Record crosses the xid/channel/queue package boundary, but callers
// outside xid should only ever call Unpack/Release.
type Record struct {
	// Payload is a tagged, interpreter-independent value whose meaning is
	// known only to the packer/unpacker pair - the Go analogue of "a raw
	// pointer-sized handle": deep-copy packers stash the copied value
	// itself here and capture it in unpack via closure instead (Payload
	// is then unused/nil); BufferView and other handle-carrying packers
	// use Payload for the handle free needs to dispose of.
	Payload any
	// ObjRef is an owning reference to the source object, held in the
	// source interpreter until Release. Nil iff the XID doesn't pin
	// anything in the origin (e.g. a plain deep-copy packer).
	ObjRef any

	Origin interp.Id

	unpack Unpacker
	free   func(payload any)

	released atomic.Bool
}

// NewRecord builds a Record around an explicit unpack/free pair, for
// packers that live outside this package (queue's fallback serializers,
// spec.md §4.9's Marshal/Pickle policies). payload, if non-nil, is what
// free receives; objRef, if non-nil, is what Release clears to nil after
// free runs.
func NewRecord(payload, objRef any, unpack Unpacker, free func(payload any)) *Record {
	debug.Assert(unpack != nil, "xid record requires unpack")
	return &Record{Payload: payload, ObjRef: objRef, unpack: unpack, free: free}
}

// Unpack invokes the unpack callback. Must be called while the receiving
// interpreter is active; this module trusts the caller (channel.Recv /
// queue.Get) to already be running inside that context.
func (r *Record) Unpack() (any, error) {
	debug.Assert(r.unpack != nil, "xid record missing required unpack")
	return r.unpack()
}

// Release disposes of the record: runs free (if any) and drops ObjRef,
// both while reg says the origin interpreter is active. Idempotent -
// spec.md §3 says "immutable except via release", and release may be
// called from either the normal recv path or the interpreter-exit hook,
// never both racing (the item is logically owned by exactly one of
// them at a time under the channel/queue mutex discipline of §5).
func (r *Record) Release(reg interp.Registry) error {
	if !r.released.CAS(false, true) {
		return nil
	}
	if r.free == nil && r.ObjRef == nil {
		return nil
	}
	ok := reg.RunIn(r.Origin, func() {
		if r.free != nil {
			r.free(r.Payload)
		}
		r.ObjRef = nil
	})
	if ok {
		return nil
	}
	// Best-effort per spec.md §4.1: origin is gone, so the ObjRef drop is
	// skipped (nothing in this process can own a reference the way the
	// origin did), but the payload's own cleanup - if it touches only
	// this process's raw memory and not origin-interpreter state - still
	// runs outside the origin's context.
	if r.free != nil {
		r.free(r.Payload)
	}
	return errOriginGone(r.Origin)
}
