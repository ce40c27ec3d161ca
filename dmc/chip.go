// Package dmc implements the die-management firmware domain: the board-side
// controller that polls each chip's notification outbox, sequences resets,
// drives the fan, and feeds board telemetry back to the chip-management
// domain.
package dmc

import (
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sarchlab/bhmc/cm2dm"
)

// pingRetries bounds how often a ping reply is retried against a flaky bus.
const pingRetries = 10

// ErrPingFailed reports that a ping reply could not be delivered.
var ErrPingFailed = errors.New("dmc: ping reply failed")

// A Link is the transport to one chip's management firmware.
type Link interface {
	// NextMessage reads the chip's current outbound notification.
	NextMessage() (cm2dm.Message, error)

	// Ack acknowledges one delivered notification.
	Ack(cm2dm.Ack) error

	// ReadPing pulls the liveness token from the chip.
	ReadPing() (uint16, error)

	// WritePing pushes the liveness token to the chip.
	WritePing(token uint16) error

	SendStaticInfo(cm2dm.StaticInfo) error
	SendPowerLimit(watts uint16) error
	SendInputPower(watts uint16) error
	SendFanRPM(rpm uint16) error
	SendFanSpeed(percent uint8) error
	SendThermTripCount(count uint16) error
	WriteLogs(data []byte) error
}

// A ResetPort performs the out-of-band reset and debug accesses to one chip.
type ResetPort interface {
	// ResetChip asserts and releases the chip reset sequence.
	ResetChip() error

	// HangPC reads the stalled core's program counter for fault records.
	HangPC() (uint32, error)
}

// A Rebooter restarts the die-management controller itself.
type Rebooter interface {
	Reboot()
}

// A Chip is the per-chip state of the die-management domain.
type Chip struct {
	link  Link
	reset ResetPort

	inbox    *cm2dm.Inbox
	watchdog *cm2dm.Watchdog
	rebooter Rebooter

	// Urgent conditions, set from interrupt-style contexts and cleared by
	// the board loop.
	thermTripTriggered atomic.Bool
	wdogTriggered      atomic.Bool
	triggerReset       atomic.Bool

	mu              sync.Mutex
	fanSpeed        uint8
	fanSpeedForced  bool
	needsInitData   bool
	thermTripCount  uint16
	hangPC          uint32
	performingReset bool

	// onFanChange tells the owning board to recompute the shared fan
	// duty.
	onFanChange func()

	// onWake nudges the board loop after an urgent flag is raised.
	onWake func()
}

// NewChip creates a Chip over its transport and reset port and registers the
// notification processors.
func NewChip(link Link, reset ResetPort) *Chip {
	c := &Chip{
		link:        link,
		reset:       reset,
		inbox:       cm2dm.NewInbox(),
		onFanChange: func() {},
		onWake:      func() {},
	}

	c.watchdog = cm2dm.NewWatchdog(c.watchdogExpired)

	c.inbox.OnMessage(cm2dm.MsgIDResetReq, c.processResetReq)
	c.inbox.OnMessage(cm2dm.MsgIDPing, c.processPing)
	c.inbox.OnMessage(cm2dm.MsgIDFanSpeedUpdate, c.processFanSpeed)
	c.inbox.OnMessage(cm2dm.MsgIDForcedFanSpeedUpdate, c.processForcedFanSpeed)
	c.inbox.OnMessage(cm2dm.MsgIDReady, c.processReady)
	c.inbox.OnMessage(cm2dm.MsgIDAutoResetTimeoutUpdate, c.processAutoResetTimeout)
	c.inbox.OnMessage(cm2dm.MsgIDTelemHeartbeatUpdate, c.processHeartbeat)

	return c
}

// WithRebooter sets the controller-reset collaborator used for the deepest
// reset level.
func (c *Chip) WithRebooter(r Rebooter) *Chip {
	c.rebooter = r

	return c
}

// PollCM2DM drains the chip's pending notifications once.
func (c *Chip) PollCM2DM() {
	if err := c.inbox.Poll(c.link); err != nil {
		log.Printf("dmc: notification poll: %v", err)
	}
}

func (c *Chip) processResetReq(id cm2dm.MsgID, data uint32) bool {
	switch cm2dm.ResetLevel(data) {
	case cm2dm.ResetLevelAsic:
		log.Printf("dmc: received chip reset request")
		c.ResetChip()

	case cm2dm.ResetLevelDmc:
		log.Printf("dmc: received controller reset request")
		if c.rebooter != nil {
			c.rebooter.Reboot()
		}
	}

	return true
}

func (c *Chip) processPing(id cm2dm.MsgID, data uint32) bool {
	var err error

	for i := 0; i < pingRetries; i++ {
		if data == 0 {
			_, err = c.link.ReadPing()
		} else {
			err = c.link.WritePing(cm2dm.PingToken)
		}

		if err == nil {
			return false
		}
	}

	log.Printf("dmc: %v: %v", ErrPingFailed, err)

	return false
}

func (c *Chip) processFanSpeed(id cm2dm.MsgID, data uint32) bool {
	c.mu.Lock()
	c.fanSpeed = uint8(data)
	c.fanSpeedForced = false
	c.mu.Unlock()

	c.onFanChange()

	return false
}

func (c *Chip) processForcedFanSpeed(id cm2dm.MsgID, data uint32) bool {
	c.mu.Lock()
	c.fanSpeed = uint8(data)
	c.fanSpeedForced = true
	c.mu.Unlock()

	c.onFanChange()

	return false
}

func (c *Chip) processReady(id cm2dm.MsgID, data uint32) bool {
	c.mu.Lock()
	c.needsInitData = true
	c.mu.Unlock()

	return false
}

func (c *Chip) processAutoResetTimeout(id cm2dm.MsgID, data uint32) bool {
	c.watchdog.SetTimeout(time.Duration(data) * time.Millisecond)

	return false
}

func (c *Chip) processHeartbeat(id cm2dm.MsgID, data uint32) bool {
	c.watchdog.Heartbeat(data)

	return false
}

func (c *Chip) watchdogExpired() {
	c.wdogTriggered.Store(true)
	c.onWake()
}

// OnThermTrip flags the chip's thermal-trip interrupt for the board loop.
func (c *Chip) OnThermTrip() {
	c.thermTripTriggered.Store(true)
	c.onWake()
}

// OnPerst flags the host-side reset interrupt for the board loop.
func (c *Chip) OnPerst() {
	c.triggerReset.Store(true)
	c.onWake()
}

// FanSpeed returns the chip's requested fan speed and whether it is forced.
func (c *Chip) FanSpeed() (percent uint8, forced bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.fanSpeed, c.fanSpeedForced
}

// ThermTripCount returns how many thermal trips this chip has taken since
// the last host reset.
func (c *Chip) ThermTripCount() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.thermTripCount
}

// WatchdogArmed reports whether the chip's auto-reset watchdog is running.
func (c *Chip) WatchdogArmed() bool {
	return c.watchdog.Armed()
}

// ResetChip runs the chip reset sequence.
func (c *Chip) ResetChip() {
	c.mu.Lock()
	c.performingReset = true
	c.mu.Unlock()

	if err := c.reset.ResetChip(); err != nil {
		log.Printf("dmc: chip reset: %v", err)
	}

	c.mu.Lock()
	c.performingReset = false
	c.mu.Unlock()
}
