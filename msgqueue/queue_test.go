package msgqueue

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Queue", func() {
	var q *Queue

	BeforeEach(func() {
		q = NewQueue("Queue")
	})

	It("should pop requests in push order", func() {
		for i := 0; i < 3; i++ {
			req := Request{}
			req.Data[0] = uint32(i)
			Expect(q.PushRequest(0, &req)).To(Succeed())
		}

		for i := 0; i < 3; i++ {
			req, ok := q.PopRequest(0)
			Expect(ok).To(BeTrue())
			Expect(req.Data[0]).To(Equal(uint32(i)))
		}
	})

	It("should fail to push to a full ring", func() {
		req := Request{}
		for i := 0; i < QueueCapacity; i++ {
			Expect(q.PushRequest(1, &req)).To(Succeed())
		}

		Expect(q.PushRequest(1, &req)).To(MatchError(ErrQueueFull))
		Expect(q.RequestCount(1)).To(Equal(QueueCapacity))
	})

	It("should return no message when empty", func() {
		_, ok := q.PopRequest(0)
		Expect(ok).To(BeFalse())

		_, ok = q.PopResponse(0)
		Expect(ok).To(BeFalse())
	})

	It("should never exceed capacity across pointer wrap", func() {
		req := Request{}

		// Push/pop enough times for both pointers to wrap several
		// times through the 2x-capacity pointer space.
		for round := 0; round < 5*pointerWrap; round++ {
			Expect(q.PushRequest(2, &req)).To(Succeed())
			Expect(q.PushRequest(2, &req)).To(Succeed())
			Expect(q.RequestCount(2)).To(Equal(2))

			_, ok := q.PopRequest(2)
			Expect(ok).To(BeTrue())
			_, ok = q.PopRequest(2)
			Expect(ok).To(BeTrue())
			Expect(q.RequestCount(2)).To(Equal(0))
		}
	})

	It("should not corrupt indices when popping empty", func() {
		req := Request{}
		req.Data[0] = 7

		_, ok := q.PopRequest(3)
		Expect(ok).To(BeFalse())

		Expect(q.PushRequest(3, &req)).To(Succeed())
		got, ok := q.PopRequest(3)
		Expect(ok).To(BeTrue())
		Expect(got.Data[0]).To(Equal(uint32(7)))
	})

	It("should keep channels independent", func() {
		req := Request{}
		Expect(q.PushRequest(0, &req)).To(Succeed())

		Expect(q.RequestCount(0)).To(Equal(1))
		Expect(q.RequestCount(1)).To(Equal(0))

		_, ok := q.PopRequest(1)
		Expect(ok).To(BeFalse())
	})

	It("should reject out-of-range channels", func() {
		req := Request{}
		Expect(q.PushRequest(NumChannels, &req)).To(MatchError(ErrBadChannel))

		_, ok := q.PopRequest(-1)
		Expect(ok).To(BeFalse())
	})
})
