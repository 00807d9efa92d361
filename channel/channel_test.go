package channel_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/NVIDIA/interpchannels/channel"
	"github.com/NVIDIA/interpchannels/cmn/cos"
	"github.com/NVIDIA/interpchannels/interp"
	"github.com/NVIDIA/interpchannels/policy"
	"github.com/NVIDIA/interpchannels/xid"
)

func newFixture() (*interp.LocalRegistry, *xid.Registry, *channel.Registry) {
	ireg := interp.NewLocalRegistry()
	xreg := xid.Default
	return ireg, xreg, channel.NewRegistry(ireg, xreg)
}

var _ = Describe("Send/Recv", func() {
	It("delivers a plain send to a later recv, FIFO", func() {
		ireg, xreg, chReg := newFixture()
		id := chReg.Create(policy.Remove)
		ch, err := chReg.Get(id)
		Expect(err).NotTo(HaveOccurred())

		sender := ireg.Spawn()
		recver := ireg.Spawn()

		Expect(channel.Send(xreg, ireg, ch, sender, 1, policy.Remove)).To(Succeed())
		Expect(channel.Send(xreg, ireg, ch, sender, 2, policy.Remove)).To(Succeed())

		r1, err := channel.Recv(ireg, ch, recver)
		Expect(err).NotTo(HaveOccurred())
		Expect(r1.Value).To(Equal(1))

		r2, err := channel.Recv(ireg, ch, recver)
		Expect(err).NotTo(HaveOccurred())
		Expect(r2.Value).To(Equal(2))
	})

	It("reports ChannelEmpty on an empty, still-open channel", func() {
		ireg, _, chReg := newFixture()
		id := chReg.Create(policy.Remove)
		ch, _ := chReg.Get(id)
		recver := ireg.Spawn()

		_, err := channel.Recv(ireg, ch, recver)
		Expect(errors.Is(err, cos.ErrChannelEmpty)).To(BeTrue())
	})
})

var _ = Describe("Close", func() {
	It("drains then reports Empty, then Closed, on a send-only close with items pending", func() {
		ireg, xreg, chReg := newFixture()
		id := chReg.Create(policy.Remove)
		ch, _ := chReg.Get(id)
		sender := ireg.Spawn()
		recver := ireg.Spawn()

		Expect(channel.Send(xreg, ireg, ch, sender, 7, policy.Remove)).To(Succeed())
		Expect(ch.Close(true, false, false)).To(Succeed())

		// the item queued before Close is still delivered.
		r, err := channel.Recv(ireg, ch, recver)
		Expect(err).NotTo(HaveOccurred())
		Expect(r.Value).To(Equal(7))

		// the call that discovers the queue empty while closing flips the
		// channel closed and reports Empty for this one call...
		_, err = channel.Recv(ireg, ch, recver)
		Expect(errors.Is(err, cos.ErrChannelEmpty)).To(BeTrue())

		// ...and every call after that reports Closed.
		_, err = channel.Recv(ireg, ch, recver)
		Expect(errors.Is(err, cos.ErrChannelClosed)).To(BeTrue())
	})

	It("force-closes immediately, releasing any pending items", func() {
		ireg, xreg, chReg := newFixture()
		id := chReg.Create(policy.Remove)
		ch, _ := chReg.Get(id)
		sender := ireg.Spawn()

		Expect(channel.Send(xreg, ireg, ch, sender, 1, policy.Remove)).To(Succeed())
		Expect(ch.Close(false, false, true)).To(Succeed())
		Expect(ch.Close(false, false, true)).To(MatchError(cos.ErrChannelClosed))
	})

	It("rejects a non-forced recv-only close while items remain", func() {
		ireg, xreg, chReg := newFixture()
		id := chReg.Create(policy.Remove)
		ch, _ := chReg.Get(id)
		sender := ireg.Spawn()

		Expect(channel.Send(xreg, ireg, ch, sender, 1, policy.Remove)).To(Succeed())
		err := ch.Close(false, true, false)
		Expect(errors.Is(err, cos.ErrChannelNotEmpty)).To(BeTrue())
	})
})

var _ = Describe("SendBuffer", func() {
	It("delivers a zero-copy buffer view and releases it on the origin side", func() {
		ireg, _, chReg := newFixture()
		id := chReg.Create(policy.Remove)
		ch, _ := chReg.Get(id)
		sender := ireg.Spawn()
		recver := ireg.Spawn()

		released := false
		bv := &xid.BufferView{Source: []byte("payload")}
		onRelease := func() { released = true }

		Expect(channel.SendBuffer(context.Background(), ireg, ch, sender, bv, onRelease, policy.Remove, false, 0)).To(Succeed())

		res, err := channel.Recv(ireg, ch, recver)
		Expect(err).NotTo(HaveOccurred())
		got, ok := res.Value.(*xid.BufferView)
		Expect(ok).To(BeTrue())
		Expect(got.Source).To(Equal([]byte("payload")))
		Expect(released).To(BeTrue())
	})

	It("rendezvous-blocks like SendWait when blocking=true", func() {
		ireg, _, chReg := newFixture()
		id := chReg.Create(policy.Remove)
		ch, _ := chReg.Get(id)
		sender := ireg.Spawn()
		recver := ireg.Spawn()

		bv := &xid.BufferView{Source: []byte("x")}
		errCh := make(chan error, 1)
		go func() {
			errCh <- channel.SendBuffer(context.Background(), ireg, ch, sender, bv, func() {}, policy.Remove, true, 0)
		}()

		Eventually(func() int { return ch.Count() }).Should(Equal(1))
		_, err := channel.Recv(ireg, ch, recver)
		Expect(err).NotTo(HaveOccurred())
		Eventually(errCh).Should(Receive(BeNil()))
	})
})

var _ = Describe("SendWait", func() {
	It("succeeds once a recv pops the item", func() {
		ireg, xreg, chReg := newFixture()
		id := chReg.Create(policy.Remove)
		ch, _ := chReg.Get(id)
		sender := ireg.Spawn()
		recver := ireg.Spawn()

		errCh := make(chan error, 1)
		go func() {
			errCh <- channel.SendWait(context.Background(), xreg, ireg, ch, sender, 5, policy.Remove, 0)
		}()

		Eventually(func() int { return ch.Count() }).Should(Equal(1))
		res, err := channel.Recv(ireg, ch, recver)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Value).To(Equal(5))

		Eventually(errCh).Should(Receive(BeNil()))
	})

	It("times out and removes its own item when nobody receives", func() {
		ireg, xreg, chReg := newFixture()
		id := chReg.Create(policy.Remove)
		ch, _ := chReg.Get(id)
		sender := ireg.Spawn()

		err := channel.SendWait(context.Background(), xreg, ireg, ch, sender, 5, policy.Remove, 20*time.Millisecond)
		Expect(errors.Is(err, cos.ErrTimeout)).To(BeTrue())
		Expect(ch.Count()).To(Equal(0))
	})
})

var _ = Describe("Registry", func() {
	It("assigns ascending ids starting at zero and lists them in order", func() {
		_, _, chReg := newFixture()
		a := chReg.Create(policy.Remove)
		b := chReg.Create(policy.Remove)
		c := chReg.Create(policy.Remove)
		Expect(a).To(Equal(channel.Id(0)))
		Expect(chReg.ListAll()).To(Equal([]channel.ListEntry{
			{Id: a, DefaultUnbound: policy.Remove},
			{Id: b, DefaultUnbound: policy.Remove},
			{Id: c, DefaultUnbound: policy.Remove},
		}))
	})

	It("force-closes and forgets a channel once its refcount reaches zero", func() {
		_, _, chReg := newFixture()
		id := chReg.Create(policy.Remove)
		Expect(chReg.DecRef(id)).To(Succeed())
		_, err := chReg.Get(id)
		Expect(cos.IsErrNotFound(err)).To(BeTrue())
	})
})

var _ = Describe("defaults", func() {
	It("exposes the channel's own default unbound_op", func() {
		_, _, chReg := newFixture()
		id := chReg.Create(policy.Error)
		ch, _ := chReg.Get(id)
		Expect(ch.DefaultUnbound()).To(Equal(policy.Error))
	})

	It("substitutes the channel's own default when Send is given an unspecified unbound_op", func() {
		ireg, xreg, chReg := newFixture()
		id := chReg.Create(policy.Error)
		ch, _ := chReg.Get(id)
		sender := ireg.Spawn()
		recver := ireg.Spawn()

		Expect(channel.Send(xreg, ireg, ch, sender, 1, policy.Unspecified)).To(Succeed())
		chReg.DropInterpreter(sender)

		_, err := channel.Recv(ireg, ch, recver)
		var unbound *cos.ErrUnbound
		Expect(errors.As(err, &unbound)).To(BeTrue())
	})
})

var _ = Describe("channel/queue ids as shareable values", func() {
	It("round-trips a channel.Id through another channel, via the built-in xid packer", func() {
		ireg, xreg, chReg := newFixture()
		carrier := chReg.Create(policy.Remove)
		carrierCh, _ := chReg.Get(carrier)
		payload := chReg.Create(policy.Remove)

		sender := ireg.Spawn()
		recver := ireg.Spawn()

		Expect(channel.Send(xreg, ireg, carrierCh, sender, payload, policy.Remove)).To(Succeed())
		res, err := channel.Recv(ireg, carrierCh, recver)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Value).To(Equal(payload))
	})
})

var _ = Describe("interpreter teardown", func() {
	It("removes a Remove-policy item whose origin interpreter died", func() {
		ireg, xreg, chReg := newFixture()
		id := chReg.Create(policy.Remove)
		ch, _ := chReg.Get(id)
		sender := ireg.Spawn()
		recver := ireg.Spawn()

		Expect(channel.Send(xreg, ireg, ch, sender, 1, policy.Remove)).To(Succeed())
		chReg.DropInterpreter(sender)

		_, err := channel.Recv(ireg, ch, recver)
		Expect(errors.Is(err, cos.ErrChannelEmpty)).To(BeTrue())
	})

	It("surfaces a Replace-policy item as unbound instead of erroring", func() {
		ireg, xreg, chReg := newFixture()
		id := chReg.Create(policy.Remove)
		ch, _ := chReg.Get(id)
		sender := ireg.Spawn()
		recver := ireg.Spawn()

		Expect(channel.Send(xreg, ireg, ch, sender, 1, policy.Replace)).To(Succeed())
		chReg.DropInterpreter(sender)

		res, err := channel.Recv(ireg, ch, recver)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Unbound).To(BeTrue())
	})

	It("surfaces a Error-policy item as ErrUnbound", func() {
		ireg, xreg, chReg := newFixture()
		id := chReg.Create(policy.Remove)
		ch, _ := chReg.Get(id)
		sender := ireg.Spawn()
		recver := ireg.Spawn()

		Expect(channel.Send(xreg, ireg, ch, sender, 1, policy.Error)).To(Succeed())
		chReg.DropInterpreter(sender)

		_, err := channel.Recv(ireg, ch, recver)
		var unbound *cos.ErrUnbound
		Expect(errors.As(err, &unbound)).To(BeTrue())
	})
})
