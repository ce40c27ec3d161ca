// Package cm2dm implements the chip-management to die-management notification
// protocol: a one-at-a-time, at-most-one-unacknowledged-message link between
// the two firmware domains. The chip-management side posts updates into an
// Outbox that the transport polls; the die-management side feeds delivered
// messages through an Inbox that deduplicates replays and acknowledges every
// delivery.
package cm2dm

import (
	"encoding/binary"
	"errors"
)

// MsgID identifies one kind of outbound notification. At most one update per
// kind is pending at a time; newer posts of the same kind overwrite the value.
type MsgID uint8

const (
	// MsgIDNull is the placeholder exposed to the transport when no
	// message is pending.
	MsgIDNull MsgID = iota

	// MsgIDResetReq asks the die-management domain to reset the chip or
	// the controller. The data word carries the ResetLevel.
	MsgIDResetReq

	// MsgIDPing asks the peer to prove liveness.
	MsgIDPing

	// MsgIDFanSpeedUpdate carries a new target fan speed percentage.
	MsgIDFanSpeedUpdate

	// MsgIDReady announces that the sender is ready to receive messages.
	MsgIDReady

	// MsgIDAutoResetTimeoutUpdate arms or disarms the liveness watchdog.
	// The data word is the timeout in milliseconds; zero disarms.
	MsgIDAutoResetTimeoutUpdate

	// MsgIDTelemHeartbeatUpdate carries the telemetry heartbeat counter.
	MsgIDTelemHeartbeatUpdate

	// MsgIDForcedFanSpeedUpdate carries an operator-forced fan speed.
	MsgIDForcedFanSpeedUpdate

	// MsgCount bounds per-tick scans over all message kinds.
	MsgCount
)

// ResetLevel selects what a reset request resets.
type ResetLevel uint32

const (
	// ResetLevelAsic resets the ASIC only.
	ResetLevelAsic ResetLevel = 0

	// ResetLevelDmc resets the ASIC and the die-management controller.
	ResetLevelDmc ResetLevel = 3
)

// MsgLen is the wire size of a Message.
const MsgLen = 6

// AckLen is the wire size of an Ack.
const AckLen = 2

// PingToken is the liveness reply payload.
const PingToken = 0xA5A5

// ErrBadLength reports a wire record of unexpected size.
var ErrBadLength = errors.New("cm2dm: bad record length")

// A Message is one cross-domain notification.
type Message struct {
	ID   MsgID
	Seq  uint8
	Data uint32
}

// Encode appends the 6-byte wire form of the message to buf.
func (m Message) Encode(buf []byte) []byte {
	buf = append(buf, byte(m.ID), m.Seq)
	return binary.LittleEndian.AppendUint32(buf, m.Data)
}

// DecodeMessage parses a 6-byte wire record.
func DecodeMessage(buf []byte) (Message, error) {
	if len(buf) != MsgLen {
		return Message{}, ErrBadLength
	}

	return Message{
		ID:   MsgID(buf[0]),
		Seq:  buf[1],
		Data: binary.LittleEndian.Uint32(buf[2:]),
	}, nil
}

// An Ack acknowledges one message. It retires the in-flight message only when
// both fields match exactly.
type Ack struct {
	ID  MsgID
	Seq uint8
}

// Encode appends the 2-byte wire form of the ack to buf.
func (a Ack) Encode(buf []byte) []byte {
	return append(buf, byte(a.ID), a.Seq)
}

// DecodeAck parses a 2-byte wire record.
func DecodeAck(buf []byte) (Ack, error) {
	if len(buf) != AckLen {
		return Ack{}, ErrBadLength
	}

	return Ack{ID: MsgID(buf[0]), Seq: buf[1]}, nil
}

// StaticInfoLen is the wire size of a StaticInfo record.
const StaticInfoLen = 24

// StaticInfo is the init-handshake payload the die-management domain sends
// after a reset. Version must be non-zero for the record to be valid.
type StaticInfo struct {
	Version      uint32
	BLVersion    uint32
	AppVersion   uint32
	StartTime    uint32
	InitDuration uint32
	LastFaultPC  uint32
}

// Encode appends the packed little-endian wire form to buf.
func (s StaticInfo) Encode(buf []byte) []byte {
	for _, w := range [...]uint32{
		s.Version, s.BLVersion, s.AppVersion,
		s.StartTime, s.InitDuration, s.LastFaultPC,
	} {
		buf = binary.LittleEndian.AppendUint32(buf, w)
	}

	return buf
}

// DecodeStaticInfo parses a packed StaticInfo record.
func DecodeStaticInfo(buf []byte) (StaticInfo, error) {
	if len(buf) != StaticInfoLen {
		return StaticInfo{}, ErrBadLength
	}

	return StaticInfo{
		Version:      binary.LittleEndian.Uint32(buf[0:]),
		BLVersion:    binary.LittleEndian.Uint32(buf[4:]),
		AppVersion:   binary.LittleEndian.Uint32(buf[8:]),
		StartTime:    binary.LittleEndian.Uint32(buf[12:]),
		InitDuration: binary.LittleEndian.Uint32(buf[16:]),
		LastFaultPC:  binary.LittleEndian.Uint32(buf[20:]),
	}, nil
}
