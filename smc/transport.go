package smc

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/sarchlab/bhmc/cm2dm"
)

// ErrBadRecord reports an inbound transport record that fails validation.
var ErrBadRecord = errors.New("smc: bad transport record")

// OutboundMessage returns the wire form of the notification the transport
// should deliver next. With nothing pending it encodes a Null message.
func (c *Controller) OutboundMessage() []byte {
	return c.outbox.NextMessage().Encode(nil)
}

// AckOutbound feeds an acknowledgment received from the peer back into the
// outbox.
func (c *Controller) AckOutbound(data []byte) error {
	ack, err := cm2dm.DecodeAck(data)
	if err != nil {
		return err
	}

	return c.outbox.Ack(ack)
}

// ReceiveStaticInfo ingests the peer's post-reset handshake record. A zero
// version marks the record invalid.
func (c *Controller) ReceiveStaticInfo(data []byte) error {
	info, err := cm2dm.DecodeStaticInfo(data)
	if err != nil {
		return err
	}

	if info.Version == 0 {
		return fmt.Errorf("%w: static info version 0", ErrBadRecord)
	}

	c.telemetry.Set(TagDMBLFWVersion, info.BLVersion)
	c.telemetry.Set(TagDMAppFWVersion, info.AppVersion)

	c.mu.Lock()
	c.dmStartTime = info.StartTime
	c.dmInitDuration = info.InitDuration
	if info.LastFaultPC != 0 {
		c.dmLastFaultPC = info.LastFaultPC
	}
	c.mu.Unlock()

	return nil
}

// ReceivePingReply completes an in-progress liveness check.
func (c *Controller) ReceivePingReply(data []byte) error {
	if len(data) != 2 {
		return cm2dm.ErrBadLength
	}

	if binary.LittleEndian.Uint16(data) != cm2dm.PingToken {
		return fmt.Errorf("%w: bad ping token", ErrBadRecord)
	}

	c.pingGate.Signal()

	return nil
}

// PingReply answers the pull-style liveness check: the peer reads the token
// instead of writing it.
func (c *Controller) PingReply() []byte {
	c.pingGate.Signal()

	buf := make([]byte, 2)
	binary.LittleEndian.PutUint16(buf, cm2dm.PingToken)

	return buf
}

// ReceiveInputPower records the board input power measurement in watts.
func (c *Controller) ReceiveInputPower(data []byte) error {
	if len(data) != 2 {
		return cm2dm.ErrBadLength
	}

	w := binary.LittleEndian.Uint16(data)

	c.mu.Lock()
	c.inputPower = w
	c.mu.Unlock()

	c.telemetry.Set(TagInputPower, uint32(w))

	return nil
}

// InputPower returns the last reported board input power in watts.
func (c *Controller) InputPower() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.inputPower
}

// ReceiveFanRPM records the measured fan speed for telemetry.
func (c *Controller) ReceiveFanRPM(data []byte) error {
	if len(data) != 2 {
		return cm2dm.ErrBadLength
	}

	c.telemetry.Set(TagFanRPM, uint32(binary.LittleEndian.Uint16(data)))

	return nil
}

// ReceivePowerLimit records the detected power-supply limit in watts.
func (c *Controller) ReceivePowerLimit(data []byte) error {
	if len(data) != 2 {
		return cm2dm.ErrBadLength
	}

	c.telemetry.Set(TagBoardPowerLimit,
		uint32(binary.LittleEndian.Uint16(data)))

	return nil
}

// ReceiveThermTripCount records the peer's thermal-trip counter.
func (c *Controller) ReceiveThermTripCount(data []byte) error {
	if len(data) != 2 {
		return cm2dm.ErrBadLength
	}

	c.telemetry.Set(TagThermTripCount,
		uint32(binary.LittleEndian.Uint16(data)))

	return nil
}

// SelectTelemetryTag latches the tag a following ReadTelemetryData returns.
func (c *Controller) SelectTelemetryTag(data []byte) error {
	if len(data) != 1 {
		return cm2dm.ErrBadLength
	}

	c.mu.Lock()
	c.telemetryReg = Tag(data[0])
	c.mu.Unlock()

	return nil
}

// ReadTelemetryData returns the selected telemetry value: a validity byte
// (zero when valid), two reserved bytes, then the value.
func (c *Controller) ReadTelemetryData() []byte {
	c.mu.Lock()
	tag := c.telemetryReg
	c.mu.Unlock()

	buf := make([]byte, 7)

	value, ok := c.telemetry.Get(tag)
	if !ok {
		buf[0] = 1
	}

	binary.LittleEndian.PutUint32(buf[3:], value)

	return buf
}

// Control-data bit positions within the packed status word.
const (
	ctlTriggerAsicReset       = 1 << 8
	ctlTriggerAsicAndDmcReset = 1 << 12
)

// ReadControlData returns the 20-byte control block the peer polls around
// resets. The trailing PEC covers the length byte and the first 19 data
// bytes; it predates the transport's own checksum and is kept for
// compatibility.
func (c *Controller) ReadControlData() []byte {
	buf := make([]byte, 20)

	var ctl uint32

	c.mu.Lock()
	if c.resetAsicCalled {
		ctl |= ctlTriggerAsicReset
	}
	if c.resetDmcCalled {
		ctl |= ctlTriggerAsicAndDmcReset
	}
	c.mu.Unlock()

	binary.LittleEndian.PutUint32(buf[11:], ctl)

	pec := crc8([]byte{uint8(len(buf))}, 0)
	pec = crc8(buf[:len(buf)-1], pec)
	buf[len(buf)-1] = pec

	return buf
}

// ReceiveDMCLog passes the peer's log bytes through to the configured sink.
func (c *Controller) ReceiveDMCLog(data []byte) error {
	_, err := c.logSink.Write(data)

	return err
}

// crc8 computes the SMBus PEC polynomial x^8+x^2+x+1 over data, continuing
// from crc.
func crc8(data []byte, crc uint8) uint8 {
	for _, b := range data {
		crc ^= b

		for i := 0; i < 8; i++ {
			if crc&0x80 != 0 {
				crc = crc<<1 ^ 0x07
			} else {
				crc <<= 1
			}
		}
	}

	return crc
}
