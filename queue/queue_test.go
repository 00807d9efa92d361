package queue_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/NVIDIA/interpchannels/cmn/cos"
	"github.com/NVIDIA/interpchannels/interp"
	"github.com/NVIDIA/interpchannels/policy"
	"github.com/NVIDIA/interpchannels/queue"
	"github.com/NVIDIA/interpchannels/xid"
)

func newFixture() (*interp.LocalRegistry, *queue.Registry) {
	ireg := interp.NewLocalRegistry()
	return ireg, queue.NewRegistry(ireg, xid.Default)
}

var _ = Describe("Put/Get", func() {
	It("is FIFO and bounded", func() {
		ireg, qReg := newFixture()
		id := qReg.Create(2, policy.Remove, policy.FallbackNone)
		q, err := qReg.Get(id)
		Expect(err).NotTo(HaveOccurred())
		sender := ireg.Spawn()
		recver := ireg.Spawn()

		Expect(q.Put(sender, 1, policy.Remove)).To(Succeed())
		Expect(q.Put(sender, 2, policy.Remove)).To(Succeed())
		Expect(q.Put(sender, 3, policy.Remove)).To(MatchError(cos.ErrQueueFull))

		v1, unbound, err := q.Get(recver)
		Expect(err).NotTo(HaveOccurred())
		Expect(unbound).To(BeFalse())
		Expect(v1).To(Equal(1))

		v2, _, err := q.Get(recver)
		Expect(err).NotTo(HaveOccurred())
		Expect(v2).To(Equal(2))

		_, _, err = q.Get(recver)
		Expect(errors.Is(err, cos.ErrQueueEmpty)).To(BeTrue())
	})
})

var _ = Describe("GetWait", func() {
	It("blocks until a Put arrives, tracking NumWaiters meanwhile", func() {
		ireg, qReg := newFixture()
		id := qReg.Create(0, policy.Remove, policy.FallbackNone)
		q, _ := qReg.Get(id)
		sender := ireg.Spawn()
		recver := ireg.Spawn()

		resCh := make(chan int, 1)
		go func() {
			v, _, err := q.GetWait(context.Background(), recver, 0)
			if err == nil {
				resCh <- v.(int)
			}
		}()

		Eventually(func() int { return q.NumWaiters() }).Should(Equal(1))
		Expect(q.Put(sender, 42, policy.Remove)).To(Succeed())

		Eventually(resCh).Should(Receive(Equal(42)))
		Eventually(func() int { return q.NumWaiters() }).Should(Equal(0))
	})

	It("times out when nothing arrives", func() {
		ireg, qReg := newFixture()
		id := qReg.Create(0, policy.Remove, policy.FallbackNone)
		q, _ := qReg.Get(id)
		recver := ireg.Spawn()

		_, _, err := q.GetWait(context.Background(), recver, 30*time.Millisecond)
		Expect(errors.Is(err, cos.ErrQueueEmpty)).To(BeTrue())
	})
})

var _ = Describe("fallback serialization", func() {
	type notNativelyShareable struct {
		A int
		B string
	}

	It("round-trips an unshareable type through the Marshal fallback", func() {
		ireg, qReg := newFixture()
		id := qReg.Create(0, policy.Remove, policy.FallbackMarshal)
		q, _ := qReg.Get(id)
		sender := ireg.Spawn()
		recver := ireg.Spawn()

		Expect(q.Put(sender, notNativelyShareable{A: 1, B: "x"}, policy.Remove)).To(Succeed())
		v, _, err := q.Get(recver)
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(Equal(notNativelyShareable{A: 1, B: "x"}))
	})

	It("fails an unshareable type when fallback is disabled", func() {
		ireg, qReg := newFixture()
		id := qReg.Create(0, policy.Remove, policy.FallbackNone)
		q, _ := qReg.Get(id)
		sender := ireg.Spawn()

		err := q.Put(sender, notNativelyShareable{A: 1}, policy.Remove)
		Expect(errors.Is(err, cos.ErrNotShareable)).To(BeTrue())
	})
})

var _ = Describe("interpreter teardown", func() {
	It("drops a dead origin's Remove-policy items", func() {
		ireg, qReg := newFixture()
		id := qReg.Create(0, policy.Remove, policy.FallbackNone)
		q, _ := qReg.Get(id)
		sender := ireg.Spawn()
		recver := ireg.Spawn()

		Expect(q.Put(sender, 1, policy.Remove)).To(Succeed())
		qReg.DropInterpreter(sender)

		_, _, err := q.Get(recver)
		Expect(errors.Is(err, cos.ErrQueueEmpty)).To(BeTrue())
	})
})

var _ = Describe("Registry", func() {
	It("starts ids at one", func() {
		_, qReg := newFixture()
		id := qReg.Create(0, policy.Remove, policy.FallbackNone)
		Expect(id).To(Equal(queue.Id(1)))
	})

	It("lists every queue paired with its own unbound_op and fallback", func() {
		_, qReg := newFixture()
		a := qReg.Create(0, policy.Error, policy.FallbackNone)
		b := qReg.Create(0, policy.Replace, policy.FallbackMarshal)
		Expect(qReg.ListAll()).To(Equal([]queue.ListEntry{
			{Id: a, DefaultUnbound: policy.Error, Fallback: policy.FallbackNone},
			{Id: b, DefaultUnbound: policy.Replace, Fallback: policy.FallbackMarshal},
		}))
	})
})

var _ = Describe("defaults", func() {
	It("exposes queue_get_defaults", func() {
		_, qReg := newFixture()
		id := qReg.Create(0, policy.Error, policy.FallbackMarshal)
		q, _ := qReg.Get(id)
		unbound, fallback := q.Defaults()
		Expect(unbound).To(Equal(policy.Error))
		Expect(fallback).To(Equal(policy.FallbackMarshal))
	})

	It("substitutes the queue's own default when Put is given an unspecified unbound_op", func() {
		ireg, qReg := newFixture()
		id := qReg.Create(0, policy.Error, policy.FallbackNone)
		q, _ := qReg.Get(id)
		sender := ireg.Spawn()
		recver := ireg.Spawn()

		Expect(q.Put(sender, 1, policy.Unspecified)).To(Succeed())
		qReg.DropInterpreter(sender)

		_, _, err := q.Get(recver)
		var unbound *cos.ErrUnbound
		Expect(errors.As(err, &unbound)).To(BeTrue())
	})
})
