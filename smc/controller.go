package smc

import (
	"context"
	"io"
	"log"
	"sync"
	"time"

	"github.com/sarchlab/bhmc/aiclk"
	"github.com/sarchlab/bhmc/cm2dm"
	"github.com/sarchlab/bhmc/events"
	"github.com/sarchlab/bhmc/harvesting"
	"github.com/sarchlab/bhmc/msgqueue"
	"github.com/sarchlab/bhmc/noc"
)

// Event bits serviced by the controller loop, in decreasing priority.
const (
	EventThermTrip uint32 = 1 << iota
	EventWatchdogFault
	EventPGoodChange
	EventResetRequest
	EventTick
)

// A WatchdogDevice programs the domain's own hardware watchdog.
type WatchdogDevice interface {
	InstallTimeout(ms uint32) error
	Disable() error
}

// A Regulator adjusts the core voltage rail. Voltages are in mV.
type Regulator interface {
	SetVoltage(mv uint32) error
	Voltage() (uint32, error)
}

// defaults, overridable through the With options.
const (
	defaultPingTimeout     = 300 * time.Millisecond
	defaultResetDelay      = 5 * time.Millisecond
	defaultWdtFeedInterval = 1000
)

// A Controller is the chip-management domain. It owns the host command
// dispatcher, the outbound notification state toward the die-management
// domain, and the glue to the interconnect and clock subsystems. Command
// handlers run on the single dispatch context.
type Controller struct {
	queue      *msgqueue.Queue
	dispatcher *msgqueue.Dispatcher
	outbox     *cm2dm.Outbox
	pingGate   *cm2dm.PingGate
	telemetry  *Telemetry
	events     *events.Mask

	nocEngine *noc.Engine
	tiles     harvesting.TileEnable

	ppm   *aiclk.PPM
	curve *aiclk.VFCurve

	wdt             WatchdogDevice
	wdtFeedInterval uint32

	regulator Regulator

	logSink io.Writer

	pingTimeout time.Duration
	resetDelay  time.Duration

	// onLockdown runs before a chip reset is requested, so outer layers
	// can quiesce traffic first.
	onLockdown func()

	mu               sync.Mutex
	inputPower       uint16
	telemetryReg     Tag
	dmStartTime      uint32
	dmInitDuration   uint32
	dmLastFaultPC    uint32
	lastPingDuration time.Duration
	resetAsicCalled  bool
	resetDmcCalled   bool
}

// NewController creates a Controller over the given request queue and
// registers all command handlers.
func NewController(queue *msgqueue.Queue) *Controller {
	c := &Controller{
		queue:           queue,
		dispatcher:      msgqueue.NewDispatcher("smc", queue),
		outbox:          cm2dm.NewOutbox(),
		pingGate:        cm2dm.NewPingGate(),
		telemetry:       NewTelemetry(),
		events:          events.NewMask(),
		tiles:           harvesting.AllEnabled(),
		pingTimeout:     defaultPingTimeout,
		resetDelay:      defaultResetDelay,
		wdtFeedInterval: defaultWdtFeedInterval,
		logSink:         io.Discard,
	}

	c.registerHandlers()

	return c
}

// WithNocEngine attaches the translation engine and the tile enablement the
// debug command falls back to.
func (c *Controller) WithNocEngine(e *noc.Engine, tiles harvesting.TileEnable) *Controller {
	c.nocEngine = e
	c.tiles = tiles

	return c
}

// WithAiclk attaches the clock arbiter and its voltage-frequency curve.
func (c *Controller) WithAiclk(ppm *aiclk.PPM, curve *aiclk.VFCurve) *Controller {
	c.ppm = ppm
	c.curve = curve

	return c
}

// WithWatchdogDevice attaches the hardware watchdog. Timeouts at or below the
// feed interval in ms are rejected.
func (c *Controller) WithWatchdogDevice(wdt WatchdogDevice, feedIntervalMS uint32) *Controller {
	c.wdt = wdt
	c.wdtFeedInterval = feedIntervalMS

	return c
}

// WithRegulator attaches the core voltage regulator.
func (c *Controller) WithRegulator(r Regulator) *Controller {
	c.regulator = r

	return c
}

// WithPingTimeout bounds how long a liveness check waits for the peer.
func (c *Controller) WithPingTimeout(d time.Duration) *Controller {
	c.pingTimeout = d

	return c
}

// WithDMCLogSink routes the peer domain's log passthrough.
func (c *Controller) WithDMCLogSink(w io.Writer) *Controller {
	c.logSink = w

	return c
}

// WithLockdownHook sets the callback invoked before a reset request is
// posted.
func (c *Controller) WithLockdownHook(f func()) *Controller {
	c.onLockdown = f

	return c
}

// Name identifies the controller on the monitoring dashboard.
func (c *Controller) Name() string {
	return c.dispatcher.Name()
}

// Dispatcher exposes the command dispatcher for additional registrations
// during bring-up.
func (c *Controller) Dispatcher() *msgqueue.Dispatcher {
	return c.dispatcher
}

// Outbox exposes the outbound notification state to the transport.
func (c *Controller) Outbox() *cm2dm.Outbox {
	return c.outbox
}

// Telemetry exposes the host-visible telemetry table.
func (c *Controller) Telemetry() *Telemetry {
	return c.telemetry
}

// Events exposes the controller's event mask to interrupt-style producers.
func (c *Controller) Events() *events.Mask {
	return c.events
}

// AnnounceReady tells the peer domain this side is ready to receive
// messages. Called once at the end of bring-up.
func (c *Controller) AnnounceReady() {
	c.outbox.Post(cm2dm.MsgIDReady, 0)
}

// UpdateFanSpeed posts a new target fan speed percentage.
func (c *Controller) UpdateFanSpeed(percent uint32) {
	c.outbox.Post(cm2dm.MsgIDFanSpeedUpdate, percent)
}

// IssueChipReset quiesces and posts a reset request to the peer domain,
// which owns the actual reset sequencing.
func (c *Controller) IssueChipReset(level cm2dm.ResetLevel) {
	if c.onLockdown != nil {
		c.onLockdown()
	}

	c.mu.Lock()
	c.resetAsicCalled = c.resetAsicCalled || level == cm2dm.ResetLevelAsic
	c.resetDmcCalled = c.resetDmcCalled || level == cm2dm.ResetLevelDmc
	c.mu.Unlock()

	c.outbox.Post(cm2dm.MsgIDResetReq, uint32(level))
}

// dvfsKick re-arbitrates the clock after a limit change. Only one of the two
// step directions acts.
func (c *Controller) dvfsKick() {
	if c.ppm == nil {
		return
	}

	c.ppm.CalculateTarget()

	if err := c.ppm.DecreaseToTarget(); err != nil {
		log.Printf("smc: aiclk decrease: %v", err)
	}

	if err := c.ppm.IncreaseToTarget(); err != nil {
		log.Printf("smc: aiclk increase: %v", err)
	}
}

// Service drains the event mask once, handling fatal conditions before
// periodic work. The fatal paths all funnel into a chip reset request.
func (c *Controller) Service() {
	ev := c.events.Take()

	if ev&EventThermTrip != 0 {
		log.Printf("smc: thermal trip, requesting chip reset")
		c.IssueChipReset(cm2dm.ResetLevelAsic)
	}

	if ev&EventWatchdogFault != 0 {
		log.Printf("smc: watchdog fault, requesting chip reset")
		c.IssueChipReset(cm2dm.ResetLevelAsic)
	}

	if ev&EventPGoodChange != 0 {
		log.Printf("smc: power-good change")
	}

	if ev&EventResetRequest != 0 {
		c.IssueChipReset(cm2dm.ResetLevelAsic)
	}

	c.dispatcher.ProcessAll()
}

// TelemetryTick advances the heartbeat and notifies the peer domain's
// watchdog.
func (c *Controller) TelemetryTick() {
	hb := c.telemetry.IncrementHeartbeat()
	c.outbox.Post(cm2dm.MsgIDTelemHeartbeatUpdate, hb)
}

// Run services events until the context is canceled. tick paces the periodic
// work when no events arrive.
func (c *Controller) Run(ctx context.Context, tick time.Duration) error {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.events.Wake():
			c.Service()
		case <-ticker.C:
			c.Service()
			c.TelemetryTick()
		}
	}
}
