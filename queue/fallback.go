package queue

import (
	"bytes"
	"reflect"

	jsoniter "github.com/json-iterator/go"
	"github.com/tinylib/msgp/msgp"

	"github.com/NVIDIA/interpchannels/cmn/cos"
	"github.com/NVIDIA/interpchannels/interp"
	"github.com/NVIDIA/interpchannels/policy"
	"github.com/NVIDIA/interpchannels/xid"
)

var jsonAPI = jsoniter.ConfigFastest

// fallbackPack is queue's answer to a value with no registered xid
// packer (spec.md §4.9): instead of failing outright the way a bare
// channel send does, a queue configured with FallbackMarshal or
// FallbackPickle serializes the value into a self-contained byte
// payload that needs no origin-interpreter cooperation to release -
// the resulting Record's free is nil and ObjRef is nil, so Release is a
// no-op (spec.md §4.1's "nothing to release" case).
func fallbackPack(policyKind policy.FallbackPolicy, origin interp.Id, value any) (*xid.Record, error) {
	switch policyKind {
	case policy.FallbackMarshal:
		return marshalPack(value)
	case policy.FallbackPickle:
		return picklePack(value)
	default:
		return nil, cos.ErrNotShareable
	}
}

// marshalPack round-trips value through JSON. Reconstructing the
// concrete type on Unpack needs the type back, so the Record captures
// reflect.Type alongside the encoded bytes.
func marshalPack(value any) (*xid.Record, error) {
	typ := reflect.TypeOf(value)
	data, err := jsonAPI.Marshal(value)
	if err != nil {
		return nil, err
	}
	unpack := func() (any, error) {
		out := reflect.New(typ)
		if err := jsonAPI.Unmarshal(data, out.Interface()); err != nil {
			return nil, err
		}
		return out.Elem().Interface(), nil
	}
	return xid.NewRecord(nil, nil, unpack, nil), nil
}

// picklePack is the deeper fallback: it requires value to implement
// msgp.Encodable (tinylib/msgp's generated MarshalMsg-style interface,
// grounded on the teacher's dsort recManager.Records.EncodeMsg usage)
// and requires *value's type to implement msgp.Decodable so Unpack can
// allocate a fresh instance and decode into it.
var decodableType = reflect.TypeOf((*msgp.Decodable)(nil)).Elem()

func picklePack(value any) (*xid.Record, error) {
	enc, ok := value.(msgp.Encodable)
	if !ok {
		return nil, cos.ErrNotShareable
	}
	elemTyp := reflect.TypeOf(value)
	if elemTyp.Kind() == reflect.Pointer {
		elemTyp = elemTyp.Elem()
	}
	if !reflect.PointerTo(elemTyp).Implements(decodableType) {
		return nil, cos.ErrNotShareable
	}
	returnPointer := reflect.TypeOf(value).Kind() == reflect.Pointer

	var buf bytes.Buffer
	w := msgp.NewWriter(&buf)
	if err := enc.EncodeMsg(w); err != nil {
		return nil, err
	}
	if err := w.Flush(); err != nil {
		return nil, err
	}
	data := buf.Bytes()

	unpack := func() (any, error) {
		out := reflect.New(elemTyp)
		dec := out.Interface().(msgp.Decodable)
		r := msgp.NewReader(bytes.NewReader(data))
		if err := dec.DecodeMsg(r); err != nil {
			return nil, err
		}
		if returnPointer {
			return out.Interface(), nil
		}
		return out.Elem().Interface(), nil
	}
	return xid.NewRecord(nil, nil, unpack, nil), nil
}
