package dmc

import (
	"context"
	"io"
	"log"
	"time"

	"github.com/sarchlab/bhmc/cm2dm"
	"github.com/sarchlab/bhmc/events"
)

// Periodic event bits posted by the shared pacing timer.
const (
	EventBoardPower uint32 = 1 << iota
	EventFanRPM
	EventCM2DMPoll
	EventLogs
)

// initialFanSpeed is the duty applied before any chip asks for one.
const initialFanSpeed = 35

// logChunkSize bounds how many buffered log bytes are forwarded per tick.
const logChunkSize = 32

// A FanPWM drives the shared board fan and reads its tachometer.
type FanPWM interface {
	SetDutyPercent(percent uint8) error
	RPM() (uint16, error)
}

// A PowerSensor measures board input power in watts.
type PowerSensor interface {
	Watts() (uint16, error)
}

// A Board owns every chip on the carrier plus the shared peripherals. One
// loop goroutine services urgent per-chip flags, the once-per-reset init
// handshake, and the periodic feedback work.
type Board struct {
	chips []*Chip

	fan    FanPWM
	power  PowerSensor
	logSrc io.Reader

	events *events.Mask

	staticInfo cm2dm.StaticInfo
	maxPower   uint16
}

// NewBoard creates a Board over its chips.
func NewBoard(chips ...*Chip) *Board {
	b := &Board{
		chips:  chips,
		events: events.NewMask(),
	}

	for _, c := range chips {
		c.mu.Lock()
		c.fanSpeed = initialFanSpeed
		c.mu.Unlock()

		c.onFanChange = b.UpdateFanSpeed
		c.onWake = func() { b.events.Post(0) }
	}

	return b
}

// WithFan attaches the shared fan controller.
func (b *Board) WithFan(fan FanPWM) *Board {
	b.fan = fan

	return b
}

// WithPowerSensor attaches the board power measurement.
func (b *Board) WithPowerSensor(p PowerSensor) *Board {
	b.power = p

	return b
}

// WithLogSource attaches the buffered log stream forwarded to the primary
// chip.
func (b *Board) WithLogSource(r io.Reader) *Board {
	b.logSrc = r

	return b
}

// WithStaticInfo sets the handshake record sent after every chip reset.
func (b *Board) WithStaticInfo(info cm2dm.StaticInfo) *Board {
	b.staticInfo = info

	return b
}

// WithMaxPower sets the detected power-supply limit in watts.
func (b *Board) WithMaxPower(watts uint16) *Board {
	b.maxPower = watts

	return b
}

// Name identifies the board on the monitoring dashboard.
func (b *Board) Name() string {
	return "dmc"
}

// Events exposes the board's wake mask.
func (b *Board) Events() *events.Mask {
	return b.events
}

// UpdateFanSpeed recomputes the shared fan duty: the highest requested speed
// across chips, with any forced speed taking precedence, and reports the
// final speed back for telemetry.
func (b *Board) UpdateFanSpeed() {
	if b.fan == nil {
		return
	}

	var speed, forced uint8

	for _, c := range b.chips {
		s, f := c.FanSpeed()

		speed = max8(speed, s)
		if f {
			forced = max8(forced, s)
		}
	}

	if forced != 0 {
		speed = forced
	}

	if err := b.fan.SetDutyPercent(speed); err != nil {
		log.Printf("dmc: fan duty: %v", err)
		return
	}

	for _, c := range b.chips {
		if err := c.link.SendFanSpeed(speed); err != nil {
			log.Printf("dmc: fan speed report: %v", err)
		}
	}
}

// handleThermTrip services tripped chips: fan to full, count the trip, and
// reset the chip unless a host-side reset is already pending.
func (b *Board) handleThermTrip() {
	for _, c := range b.chips {
		if !c.thermTripTriggered.Swap(false) {
			continue
		}

		log.Printf("dmc: thermal trip")

		c.mu.Lock()
		c.fanSpeed = 100
		c.fanSpeedForced = true
		c.mu.Unlock()

		b.UpdateFanSpeed()

		// A pending host reset outranks the trip handler.
		if !c.triggerReset.Load() {
			c.mu.Lock()
			c.thermTripCount++
			c.mu.Unlock()

			c.ResetChip()
		}
	}
}

// handleWatchdogReset services chips whose auto-reset watchdog expired:
// record the hang PC, disarm, fan to full, reset.
func (b *Board) handleWatchdogReset() {
	for _, c := range b.chips {
		if !c.wdogTriggered.Swap(false) {
			continue
		}

		log.Printf("dmc: auto-reset watchdog expired")

		if pc, err := c.reset.HangPC(); err == nil {
			c.mu.Lock()
			c.hangPC = pc
			c.mu.Unlock()
		}

		c.watchdog.SetTimeout(0)

		c.mu.Lock()
		c.fanSpeed = 100
		c.fanSpeedForced = true
		c.mu.Unlock()

		b.UpdateFanSpeed()

		c.ResetChip()
	}
}

// handlePerst services host-initiated resets. The chip restarts its sequence
// numbering, so the dedup state must be forgotten.
func (b *Board) handlePerst() {
	for _, c := range b.chips {
		if !c.triggerReset.Swap(false) {
			continue
		}

		c.inbox.ResetDedup()
		c.ResetChip()

		c.mu.Lock()
		c.thermTripCount = 0
		c.hangPC = 0
		c.mu.Unlock()
	}
}

// sendInitData runs the once-per-reset handshake toward chips that announced
// Ready. The gate stays up until every record goes through, so a failed
// transfer retries on the next pass.
func (b *Board) sendInitData() {
	for _, c := range b.chips {
		c.mu.Lock()
		needed := c.needsInitData
		trips := c.thermTripCount
		hangPC := c.hangPC
		c.mu.Unlock()

		if !needed {
			continue
		}

		info := b.staticInfo
		info.LastFaultPC = hangPC

		if c.link.SendStaticInfo(info) != nil ||
			c.link.SendPowerLimit(b.maxPower) != nil ||
			c.link.SendThermTripCount(trips) != nil {
			continue
		}

		c.mu.Lock()
		c.needsInitData = false
		c.mu.Unlock()
	}
}

func (b *Board) boardPowerUpdate() {
	if b.power == nil {
		return
	}

	watts, err := b.power.Watts()
	if err != nil {
		log.Printf("dmc: power sense: %v", err)
		return
	}

	for _, c := range b.chips {
		if err := c.link.SendInputPower(watts); err != nil {
			log.Printf("dmc: input power report: %v", err)
		}
	}
}

func (b *Board) fanRPMFeedback() {
	if b.fan == nil {
		return
	}

	rpm, err := b.fan.RPM()
	if err != nil {
		log.Printf("dmc: fan rpm: %v", err)
		return
	}

	for _, c := range b.chips {
		if err := c.link.SendFanRPM(rpm); err != nil {
			log.Printf("dmc: fan rpm report: %v", err)
		}
	}
}

// forwardLogs moves one chunk of buffered controller logs to the primary
// chip.
func (b *Board) forwardLogs() {
	if b.logSrc == nil || len(b.chips) == 0 {
		return
	}

	buf := make([]byte, logChunkSize)

	n, err := b.logSrc.Read(buf)
	if n > 0 {
		if err := b.chips[0].link.WriteLogs(buf[:n]); err != nil {
			log.Printf("dmc: log forward: %v", err)
		}
	}

	if err != nil && err != io.EOF {
		log.Printf("dmc: log source: %v", err)
	}
}

// Service runs one pass of the board loop: urgent flags in priority order,
// the init handshake, then whichever periodic work the event bits request.
func (b *Board) Service() {
	ev := b.events.Take()

	b.handleThermTrip()
	b.handleWatchdogReset()
	b.handlePerst()
	b.sendInitData()

	if ev&EventBoardPower != 0 {
		b.boardPowerUpdate()
	}

	if ev&EventFanRPM != 0 {
		b.fanRPMFeedback()
	}

	if ev&EventCM2DMPoll != 0 {
		for _, c := range b.chips {
			c.PollCM2DM()
		}
	}

	if ev&EventLogs != 0 {
		b.forwardLogs()
	}
}

// Run applies the initial fan duty and services the board until the context
// is canceled. tick paces the periodic feedback work.
func (b *Board) Run(ctx context.Context, tick time.Duration) error {
	b.UpdateFanSpeed()

	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-b.events.Wake():
			b.Service()
		case <-ticker.C:
			b.events.Post(EventBoardPower | EventFanRPM |
				EventCM2DMPoll | EventLogs)
			b.Service()
		}
	}
}

func max8(a, b uint8) uint8 {
	if a > b {
		return a
	}

	return b
}
