package cos_test

import (
	"errors"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/NVIDIA/interpchannels/cmn/cos"
	pkgerrors "github.com/pkg/errors"
)

var _ = Describe("ErrNotFound", func() {
	It("reports a not-found message naming what was missing", func() {
		err := cos.NewErrNotFound("channel %d", 7)
		Expect(err.Error()).To(ContainSubstring("channel 7"))
		Expect(cos.IsErrNotFound(err)).To(BeTrue())
	})

	It("is not mistaken for an unrelated error", func() {
		Expect(cos.IsErrNotFound(errors.New("boom"))).To(BeFalse())
	})

	It("is still recognized once wrapped with call-site context", func() {
		wrapped := pkgerrors.Wrap(cos.NewErrNotFound("queue %d", 9), "queue.Registry.Get")
		Expect(cos.IsErrNotFound(wrapped)).To(BeTrue())
		Expect(wrapped.Error()).To(ContainSubstring("queue.Registry.Get"))
	})
})

var _ = Describe("ErrUnbound", func() {
	It("carries the origin id and matches errors.Is against any instance", func() {
		a := cos.NewErrUnbound(3)
		b := cos.NewErrUnbound(99)
		Expect(errors.Is(a, b)).To(BeTrue())
		Expect(a.Error()).To(ContainSubstring("3"))
	})
})

var _ = Describe("Errs", func() {
	It("dedupes identical errors and caps collection at maxErrs", func() {
		var e cos.Errs
		for i := 0; i < 10; i++ {
			e.Add(errors.New("dup"))
		}
		e.Add(errors.New("other"))
		Expect(e.Cnt()).To(Equal(2))
		for _, s := range []string{"a", "b", "c", "d", "e"} {
			e.Add(errors.New(s))
		}
		Expect(e.Cnt()).To(Equal(4))
	})

	It("joins into a single error describing how many more there were", func() {
		var e cos.Errs
		e.Add(errors.New("first"))
		e.Add(errors.New("second"))
		e.Add(errors.New("third"))
		Expect(e.Error()).To(ContainSubstring("first"))
		Expect(e.Error()).To(ContainSubstring("more error"))
	})
})

var _ = Describe("Plural", func() {
	It("is empty for exactly one", func() {
		Expect(cos.Plural(1)).To(Equal(""))
	})
	It("is 's' otherwise", func() {
		Expect(cos.Plural(0)).To(Equal("s"))
		Expect(cos.Plural(2)).To(Equal("s"))
	})
})
