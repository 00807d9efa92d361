package xid_test

import (
	"errors"
	"reflect"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/NVIDIA/interpchannels/cmn/cos"
	"github.com/NVIDIA/interpchannels/interp"
	"github.com/NVIDIA/interpchannels/xid"
)

var _ = Describe("builtin packers", func() {
	It("round-trips an int by deep copy", func() {
		rec, err := xid.Default.Pack(interp.Id(1), 42)
		Expect(err).NotTo(HaveOccurred())
		val, err := rec.Unpack()
		Expect(err).NotTo(HaveOccurred())
		Expect(val).To(Equal(42))
	})

	It("round-trips a string", func() {
		rec, err := xid.Default.Pack(interp.Id(1), "hello")
		Expect(err).NotTo(HaveOccurred())
		val, err := rec.Unpack()
		Expect(err).NotTo(HaveOccurred())
		Expect(val).To(Equal("hello"))
	})

	It("copies []byte rather than aliasing the source slice", func() {
		src := []byte{1, 2, 3}
		rec, err := xid.Default.Pack(interp.Id(1), src)
		Expect(err).NotTo(HaveOccurred())
		src[0] = 99
		val, err := rec.Unpack()
		Expect(err).NotTo(HaveOccurred())
		Expect(val.([]byte)[0]).To(Equal(byte(1)))
	})

	It("handles an explicit nil value", func() {
		rec, err := xid.Default.Pack(interp.Id(1), nil)
		Expect(err).NotTo(HaveOccurred())
		val, err := rec.Unpack()
		Expect(err).NotTo(HaveOccurred())
		Expect(val).To(BeNil())
	})

	It("rejects a type with no registered packer", func() {
		type unregistered struct{ X int }
		_, err := xid.Default.Pack(interp.Id(1), unregistered{X: 1})
		Expect(errors.Is(err, cos.ErrNotShareable)).To(BeTrue())
	})
})

var _ = Describe("local registration", func() {
	type localOnly struct{ V int }

	It("is visible only to the registering interpreter", func() {
		reg := xid.NewRegistry()
		reg.RegisterLocal(interp.Id(5), reflect.TypeOf(localOnly{}), func(_ interp.Id, v any) (*xid.Record, error) {
			lv := v.(localOnly)
			return xid.NewRecord(nil, nil, func() (any, error) { return lv, nil }, nil), nil
		})

		Expect(reg.Check(interp.Id(5), localOnly{V: 1})).To(BeTrue())
		Expect(reg.Check(interp.Id(6), localOnly{V: 1})).To(BeFalse())
	})
})

var _ = Describe("weak entries", func() {
	It("is pruned once alive reports false", func() {
		reg := xid.NewRegistry()
		live := true
		reg.RegisterWeak(reflect.TypeOf(weakThing{}), func(_ interp.Id, v any) (*xid.Record, error) {
			return xid.NewRecord(nil, nil, func() (any, error) { return v, nil }, nil), nil
		}, func() bool { return live })

		Expect(reg.Check(interp.Id(1), weakThing{})).To(BeTrue())
		live = false
		Expect(reg.Check(interp.Id(1), weakThing{})).To(BeFalse())
	})
})

type weakThing struct{}

var _ = Describe("BufferView", func() {
	It("shares its backing array by reference and releases via the origin", func() {
		released := false
		reg := xid.NewRegistry()
		reg.Register(reflect.TypeOf(&xid.BufferView{}), xid.NewBufferViewPacker(func() { released = true }))

		ireg := interp.NewLocalRegistry()
		origin := ireg.Spawn()
		src := []byte{9, 9, 9}
		bv := &xid.BufferView{Source: src}

		rec, err := reg.Pack(origin, bv)
		Expect(err).NotTo(HaveOccurred())

		val, err := rec.Unpack()
		Expect(err).NotTo(HaveOccurred())
		view := val.(*xid.BufferView)
		Expect(view.Source).To(Equal(src))

		Expect(rec.Release(ireg)).To(Succeed())
		Expect(released).To(BeTrue())
	})

	It("is best-effort if the origin interpreter is already gone", func() {
		reg := xid.NewRegistry()
		reg.Register(reflect.TypeOf(&xid.BufferView{}), xid.NewBufferViewPacker(func() {}))

		ireg := interp.NewLocalRegistry()
		origin := ireg.Spawn()
		bv := &xid.BufferView{Source: []byte{1}}
		rec, err := reg.Pack(origin, bv)
		Expect(err).NotTo(HaveOccurred())

		ireg.Destroy(origin)
		Expect(rec.Release(ireg)).To(HaveOccurred())
	})
})
