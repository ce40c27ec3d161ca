package cm2dm

import "log"

// A Processor handles one delivered message kind. Returning true stops the
// current poll pass, for kinds whose side effects invalidate further polling
// (reset requests).
type Processor func(id MsgID, data uint32) (stop bool)

// A MessageSource is the transport-side view of the peer's outbox: fetch the
// current message, acknowledge a delivery.
type MessageSource interface {
	NextMessage() (Message, error)
	Ack(Ack) error
}

// An Inbox is the receiving side of the link. It deduplicates redelivered
// messages by sequence number and routes fresh messages to per-kind
// processors. Duplicates are still acknowledged so the sender can retire
// them.
type Inbox struct {
	processors [MsgCount]Processor

	lastSeqValid bool
	lastSeq      uint8

	lastWarnedSeq uint16
}

// NewInbox creates an Inbox with no processors registered.
func NewInbox() *Inbox {
	return &Inbox{lastWarnedSeq: 0xFFFF}
}

// OnMessage registers the processor for one message kind. Registering a kind
// twice is a configuration error.
func (in *Inbox) OnMessage(id MsgID, p Processor) {
	if in.processors[id] != nil {
		log.Panicf("cm2dm: duplicate processor for message id %d", id)
	}

	in.processors[id] = p
}

// ResetDedup forgets the last-seen sequence number. Called when the peer
// domain restarts and its sequence numbering begins anew.
func (in *Inbox) ResetDedup() {
	in.lastSeqValid = false
}

// Deliver processes one received message. The returned ack must be sent for
// every non-Null delivery, duplicate or not. The processor runs only for
// genuinely new sequence numbers; a repeated sequence number indicates an ack
// failure and is logged once per value.
func (in *Inbox) Deliver(msg Message) (ack Ack, stop bool) {
	ack = Ack{ID: msg.ID, Seq: msg.Seq}

	if in.lastSeqValid && in.lastSeq == msg.Seq {
		if uint16(msg.Seq) != in.lastWarnedSeq {
			log.Printf("cm2dm: received duplicate message (id %d seq %d)",
				msg.ID, msg.Seq)
			in.lastWarnedSeq = uint16(msg.Seq)
		}

		return ack, false
	}

	in.lastSeqValid = true
	in.lastSeq = msg.Seq

	if msg.ID < MsgCount && in.processors[msg.ID] != nil {
		stop = in.processors[msg.ID](msg.ID, msg.Data)
	}

	return ack, stop
}

// Poll drains the peer's outbox through the transport, bounded to one pass
// over all message kinds so a tick always makes forward progress even when
// every kind is pending.
func (in *Inbox) Poll(src MessageSource) error {
	for i := 0; i < int(MsgCount); i++ {
		msg, err := src.NextMessage()
		if err != nil {
			return err
		}

		if msg.ID == MsgIDNull {
			// No messages pending; the sequence number is not
			// valid on a Null message.
			return nil
		}

		ack, stop := in.Deliver(msg)

		if err := src.Ack(ack); err != nil {
			return err
		}

		if stop {
			return nil
		}
	}

	return nil
}
