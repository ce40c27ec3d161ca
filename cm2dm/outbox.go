package cm2dm

import (
	"errors"
	"math/bits"
	"sync/atomic"
)

// ErrAckMismatch reports an acknowledgment whose kind or sequence number does
// not match the in-flight message. The message stays in flight for
// redelivery.
var ErrAckMismatch = errors.New("cm2dm: ack does not match in-flight message")

// An Outbox holds the pending outbound notifications of one firmware domain.
// Post may be called from any context, including interrupt-style producers;
// NextMessage and Ack belong to the single poll-loop consumer.
type Outbox struct {
	pending   atomic.Uint32
	nextValue [MsgCount]atomic.Uint32

	nextRR  uint8
	nextSeq uint8

	inFlight bool
	current  Message
}

// NewOutbox creates an empty Outbox.
func NewOutbox() *Outbox {
	return &Outbox{}
}

// Post records an update for the given kind. If an update of the same kind is
// already pending it is silently overwritten; the receiver only ever observes
// the final value.
func (o *Outbox) Post(id MsgID, data uint32) {
	o.nextValue[id].Store(data)
	o.pending.Or(1 << id)
}

// nextIDRoundRobin picks the pending kind to send, starting just above the
// kind chosen last time so that the chosen kind becomes lowest priority on
// the next selection.
func (o *Outbox) nextIDRoundRobin(pending uint32) MsgID {
	hiPending := pending &^ (1<<o.nextRR - 1)

	search := pending
	if hiPending != 0 {
		search = hiPending
	}

	id := MsgID(bits.TrailingZeros32(search))
	o.nextRR = (uint8(id) + 1) % uint8(MsgCount)

	return id
}

// NextMessage exposes the message the transport should deliver. If a message
// is already in flight it is returned again unchanged, with the same sequence
// number, so replays and transport failures resolve to redelivery. When
// nothing is pending a Null message is returned.
func (o *Outbox) NextMessage() Message {
	if !o.inFlight {
		pending := o.pending.Load()

		if pending != 0 {
			id := o.nextIDRoundRobin(pending)

			o.pending.And(^(uint32(1) << id))
			// The bit must be cleared before the value is read. A
			// racing Post writes the value first and sets the bit
			// after, so we may send the same data twice but we
			// always send the final value.
			o.current = Message{
				ID:   id,
				Seq:  o.nextSeq,
				Data: o.nextValue[id].Load(),
			}
			o.nextSeq++
			o.inFlight = true
		}
	}

	if !o.inFlight {
		return Message{}
	}

	return o.current
}

// Ack retires the in-flight message if, and only if, both the kind and the
// sequence number match exactly. Stale or mismatched acks are rejected and
// the message stays in flight.
func (o *Outbox) Ack(ack Ack) error {
	if !o.inFlight || ack.ID != o.current.ID || ack.Seq != o.current.Seq {
		return ErrAckMismatch
	}

	o.inFlight = false
	o.current = Message{}

	return nil
}

// InFlight reports the message awaiting acknowledgment, if any.
func (o *Outbox) InFlight() (Message, bool) {
	return o.current, o.inFlight
}

// PendingCount returns the number of kinds with an update waiting to be sent.
func (o *Outbox) PendingCount() int {
	n := 0
	for v := o.pending.Load(); v != 0; v &= v - 1 {
		n++
	}

	return n
}
