// Package policy holds the small enums shared by channel and queue:
// UnboundOp (spec.md §3) and FallbackPolicy (queue-only, §3). A separate
// package avoids an import cycle between channel and queue, which both
// need these enums but share nothing else.
/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package policy

// UnboundOp governs what a receiver observes for an item whose origin
// interpreter died before the item was received.
type UnboundOp int

const (
	// Remove drops the item silently; the receiver never sees it.
	Remove UnboundOp = iota
	// Error: the receiver observes the unbound sentinel and the
	// original error code.
	Error
	// Replace: the receiver observes the unbound sentinel but no error -
	// recv succeeds, returning an explicit marker.
	Replace

	// Unspecified is the caller's "use the channel/queue's own default"
	// sentinel (channel_send/queue_put's unbound_op=None, spec.md §6) -
	// not itself a valid policy (Valid() is false for it). channel.Send,
	// SendWait, SendBuffer, Queue.Put and both Registry.Create methods
	// replace it with a default; Channel.Add itself does not check it.
	Unspecified UnboundOp = -1
)

func (u UnboundOp) String() string {
	switch u {
	case Remove:
		return "remove"
	case Error:
		return "error"
	case Replace:
		return "replace"
	default:
		return "unknown"
	}
}

func (u UnboundOp) Valid() bool { return u >= Remove && u <= Replace }

// FallbackPolicy is the queue-only serialization strategy applied at
// send time when a value's type has no native xid packer.
type FallbackPolicy int

const (
	// FallbackNone fails immediately: no fallback attempted.
	FallbackNone FallbackPolicy = iota
	// FallbackMarshal attempts a shallow, language-provided
	// serialize/deserialize round trip.
	FallbackMarshal
	// FallbackPickle attempts a deeper serializer able to handle a wider
	// range of shapes, at higher cost.
	FallbackPickle
)

func (f FallbackPolicy) Valid() bool { return f >= FallbackNone && f <= FallbackPickle }
