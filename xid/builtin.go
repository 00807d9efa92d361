package xid

import (
	"fmt"
	"reflect"

	"github.com/NVIDIA/interpchannels/interp"
)

// errOriginGone reports a best-effort Release whose origin interpreter
// no longer exists (spec.md §4.1: "If the origin is gone the operation
// is best-effort ... and the error is reported").
func errOriginGone(origin interp.Id) error {
	return fmt.Errorf("xid release: origin interpreter %d is gone", origin)
}

// nilPacker handles the explicit nil value: spec.md §3 allows payload to
// be null "when the unpacker is self-contained" - nil is the simplest
// case of that.
var nilPacker Packer = func(_ interp.Id, _ any) (*Record, error) {
	return &Record{unpack: func() (any, error) { return nil, nil }}, nil
}

// DeepCopyPacker builds a Packer for any value type that is already
// immutable/by-value in Go (ints, floats, bool, string, and the
// channel/queue handle types): the "fresh equivalent value" the unpacker
// must produce is just the same Go value, since Go values of these kinds
// never alias interpreter-local state. Exported so channel/queue can
// register their own id types without xid importing either package.
func DeepCopyPacker[T any]() Packer {
	return func(_ interp.Id, value any) (*Record, error) {
		v := value.(T)
		return &Record{unpack: func() (any, error) { return v, nil }}, nil
	}
}

// bytesPacker copies the slice so the receiver's value never aliases the
// sender's backing array - required, since []byte is a reference type
// and the two interpreters must not share memory through it.
func bytesPacker(_ interp.Id, value any) (*Record, error) {
	src := value.([]byte)
	cp := make([]byte, len(src))
	copy(cp, src)
	return &Record{unpack: func() (any, error) { return cp, nil }}, nil
}

func init() {
	Default.Register(reflect.TypeOf(int(0)), DeepCopyPacker[int]())
	Default.Register(reflect.TypeOf(int8(0)), DeepCopyPacker[int8]())
	Default.Register(reflect.TypeOf(int16(0)), DeepCopyPacker[int16]())
	Default.Register(reflect.TypeOf(int32(0)), DeepCopyPacker[int32]())
	Default.Register(reflect.TypeOf(int64(0)), DeepCopyPacker[int64]())
	Default.Register(reflect.TypeOf(uint(0)), DeepCopyPacker[uint]())
	Default.Register(reflect.TypeOf(uint8(0)), DeepCopyPacker[uint8]())
	Default.Register(reflect.TypeOf(uint16(0)), DeepCopyPacker[uint16]())
	Default.Register(reflect.TypeOf(uint32(0)), DeepCopyPacker[uint32]())
	Default.Register(reflect.TypeOf(uint64(0)), DeepCopyPacker[uint64]())
	Default.Register(reflect.TypeOf(float32(0)), DeepCopyPacker[float32]())
	Default.Register(reflect.TypeOf(float64(0)), DeepCopyPacker[float64]())
	Default.Register(reflect.TypeOf(false), DeepCopyPacker[bool]())
	Default.Register(reflect.TypeOf(""), DeepCopyPacker[string]())
	Default.Register(reflect.TypeOf([]byte(nil)), bytesPacker)
}
