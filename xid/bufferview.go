package xid

import (
	"github.com/NVIDIA/interpchannels/interp"
)

// BufferView is the zero-copy payload kind of spec.md §4.9: the
// underlying memory is owned by an object in the sender interpreter, so
// the receiver's view must not outlive a release trampoline that runs
// the decrement back on the origin interpreter.
//
// Source is the origin-owned backing array; unlike the built-in packers
// in builtin.go, BufferView intentionally does NOT copy it - that's the whole
// point of a zero-copy buffer. Release, scheduled via RunIn onto the
// origin interpreter, is the only thing that makes this safe: every
// other value type in this package is deep-copied by its unpacker, and
// spec.md's Open Questions (§9) flag the window where the origin is torn
// down while a receiver still holds a BufferView as unresolved -
// forbidden by contract, not prevented by this package.
type BufferView struct {
	Source  []byte
	release func()
}

// NewBufferViewPacker builds a Packer that shares src by reference and
// calls onRelease (under the origin interpreter, via RunIn) when the
// Record is released; channel.Recv releases it right after unpacking, so
// onRelease runs while the receiver still holds its view. The view
// returned by unpack has no release of its own, and nothing ties
// onRelease to the receiver dropping that view. onRelease typically
// decrements a refcount on the object src is backed by.
func NewBufferViewPacker(onRelease func()) Packer {
	return func(origin interp.Id, value any) (*Record, error) {
		bv := value.(*BufferView)
		bv.release = onRelease
		return &Record{
			Payload: bv,
			ObjRef:  bv,
			unpack: func() (any, error) {
				return &BufferView{Source: bv.Source}, nil
			},
			free: func(payload any) {
				v := payload.(*BufferView)
				if v.release != nil {
					v.release()
				}
			},
		}, nil
	}
}
