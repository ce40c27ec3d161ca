package cm2dm

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// loopbackSource feeds an Inbox straight from an Outbox, the way the
// transport does in production.
type loopbackSource struct {
	outbox *Outbox
}

func (s *loopbackSource) NextMessage() (Message, error) {
	return s.outbox.NextMessage(), nil
}

func (s *loopbackSource) Ack(a Ack) error {
	_ = s.outbox.Ack(a)
	return nil
}

var _ = Describe("Inbox", func() {
	var in *Inbox

	BeforeEach(func() {
		in = NewInbox()
	})

	It("should invoke the processor once but ack every delivery", func() {
		calls := 0
		in.OnMessage(MsgIDFanSpeedUpdate, func(id MsgID, data uint32) bool {
			calls++
			return false
		})

		msg := Message{ID: MsgIDFanSpeedUpdate, Seq: 9, Data: 70}

		ack, stop := in.Deliver(msg)
		Expect(stop).To(BeFalse())
		Expect(ack).To(Equal(Ack{ID: MsgIDFanSpeedUpdate, Seq: 9}))

		ack, stop = in.Deliver(msg)
		Expect(stop).To(BeFalse())
		Expect(ack).To(Equal(Ack{ID: MsgIDFanSpeedUpdate, Seq: 9}))

		Expect(calls).To(Equal(1))
	})

	It("should process again after the dedup state is reset", func() {
		calls := 0
		in.OnMessage(MsgIDReady, func(id MsgID, data uint32) bool {
			calls++
			return false
		})

		msg := Message{ID: MsgIDReady, Seq: 3}

		in.Deliver(msg)
		in.ResetDedup()
		in.Deliver(msg)

		Expect(calls).To(Equal(2))
	})

	It("should ignore kinds with no processor", func() {
		msg := Message{ID: MsgIDPing, Seq: 1}

		ack, stop := in.Deliver(msg)
		Expect(stop).To(BeFalse())
		Expect(ack.ID).To(Equal(MsgIDPing))
	})

	It("should stop a poll pass when a processor requests it", func() {
		o := NewOutbox()
		src := &loopbackSource{outbox: o}

		var seen []MsgID
		in.OnMessage(MsgIDResetReq, func(id MsgID, data uint32) bool {
			seen = append(seen, id)
			return true
		})
		in.OnMessage(MsgIDReady, func(id MsgID, data uint32) bool {
			seen = append(seen, id)
			return false
		})

		o.Post(MsgIDResetReq, uint32(ResetLevelAsic))
		o.Post(MsgIDReady, 0)

		Expect(in.Poll(src)).To(Succeed())

		// ResetReq is selected first and stops the pass; Ready stays
		// with the sender until the next poll.
		Expect(seen).To(Equal([]MsgID{MsgIDResetReq}))

		Expect(in.Poll(src)).To(Succeed())
		Expect(seen).To(Equal([]MsgID{MsgIDResetReq, MsgIDReady}))
	})

	It("should drain all pending kinds in one bounded pass", func() {
		o := NewOutbox()
		src := &loopbackSource{outbox: o}

		values := map[MsgID]uint32{}
		for _, id := range []MsgID{
			MsgIDPing, MsgIDFanSpeedUpdate, MsgIDTelemHeartbeatUpdate,
		} {
			in.OnMessage(id, func(id MsgID, data uint32) bool {
				values[id] = data
				return false
			})
		}

		o.Post(MsgIDPing, 1)
		o.Post(MsgIDFanSpeedUpdate, 2)
		o.Post(MsgIDTelemHeartbeatUpdate, 3)

		Expect(in.Poll(src)).To(Succeed())

		Expect(values).To(Equal(map[MsgID]uint32{
			MsgIDPing:                 1,
			MsgIDFanSpeedUpdate:       2,
			MsgIDTelemHeartbeatUpdate: 3,
		}))

		_, inFlight := o.InFlight()
		Expect(inFlight).To(BeFalse())
	})
})
