// Package loopback provides an in-process rig that joins the two firmware
// domains without hardware: simulated clock, regulator, fan, and register bus
// devices, plus a Link that shuttles cross-domain records between a
// chip-management Controller and a die-management Chip through their wire
// encodings. The rig backs the command-line runner and bring-up
// experimentation.
package loopback

import (
	"encoding/binary"
	"sync"

	"github.com/sarchlab/bhmc/cm2dm"
	"github.com/sarchlab/bhmc/smc"
)

// A Clock is a simulated PLL that accepts any requested rate.
type Clock struct {
	mu   sync.Mutex
	rate uint32
}

// NewClock creates a Clock at the given boot rate in MHz.
func NewClock(bootMHz uint32) *Clock {
	return &Clock{rate: bootMHz}
}

// SetRate programs the simulated PLL.
func (c *Clock) SetRate(freqMHz uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.rate = freqMHz

	return nil
}

// Rate returns the current simulated rate.
func (c *Clock) Rate() (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.rate, nil
}

// A Regulator is a simulated core voltage rail.
type Regulator struct {
	mu sync.Mutex
	mv uint32
}

// NewRegulator creates a Regulator at the given voltage in mV.
func NewRegulator(mv uint32) *Regulator {
	return &Regulator{mv: mv}
}

// SetVoltage programs the simulated rail.
func (r *Regulator) SetVoltage(mv uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.mv = mv

	return nil
}

// Voltage returns the current simulated voltage.
func (r *Regulator) Voltage() (uint32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.mv, nil
}

// A Watchdog is a simulated hardware watchdog that only remembers its
// programming.
type Watchdog struct {
	mu        sync.Mutex
	timeoutMS uint32
	armed     bool
}

// NewWatchdog creates a disarmed Watchdog.
func NewWatchdog() *Watchdog {
	return &Watchdog{}
}

// InstallTimeout arms the watchdog with the given timeout.
func (w *Watchdog) InstallTimeout(ms uint32) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.timeoutMS = ms
	w.armed = true

	return nil
}

// Disable disarms the watchdog.
func (w *Watchdog) Disable() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.armed = false

	return nil
}

// Armed reports whether a timeout is installed.
func (w *Watchdog) Armed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.armed
}

// A RegBus is a map-backed interconnect register space covering both rings.
type RegBus struct {
	mu   sync.Mutex
	regs map[regAddr]uint32
}

type regAddr struct {
	ring int
	x, y uint8
	reg  uint32
}

// NewRegBus creates an empty register space.
func NewRegBus() *RegBus {
	return &RegBus{regs: make(map[regAddr]uint32)}
}

// Read returns the register value at a node addressed by physical
// coordinates.
func (b *RegBus) Read(ring int, x, y uint8, reg uint32) uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.regs[regAddr{ring, x, y, reg}]
}

// Write stores a register value at a node addressed by physical coordinates.
func (b *RegBus) Write(ring int, x, y uint8, reg uint32, value uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.regs[regAddr{ring, x, y, reg}] = value
}

// ReadLocal reads a management-node register over the direct bus.
func (b *RegBus) ReadLocal(ring int, reg uint32) uint32 {
	x, y := managementCoords(ring)

	return b.Read(ring, x, y, reg)
}

// WriteLocal writes a management-node register over the direct bus.
func (b *RegBus) WriteLocal(ring int, reg uint32, value uint32) {
	x, y := managementCoords(ring)

	b.Write(ring, x, y, reg, value)
}

func managementCoords(ring int) (x, y uint8) {
	if ring == 1 {
		return 8, 11
	}

	return 8, 0
}

// A Fan is a simulated fan whose tachometer tracks the programmed duty.
type Fan struct {
	mu   sync.Mutex
	duty uint8
}

// NewFan creates a stopped Fan.
func NewFan() *Fan {
	return &Fan{}
}

// SetDutyPercent programs the simulated PWM.
func (f *Fan) SetDutyPercent(percent uint8) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.duty = percent

	return nil
}

// RPM returns a tachometer reading derived from the duty.
func (f *Fan) RPM() (uint16, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return uint16(f.duty) * 45, nil
}

// Duty returns the current duty percentage.
func (f *Fan) Duty() uint8 {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.duty
}

// A PowerSensor reports a fixed board input power.
type PowerSensor struct {
	watts uint16
}

// NewPowerSensor creates a PowerSensor reading the given wattage.
func NewPowerSensor(watts uint16) *PowerSensor {
	return &PowerSensor{watts: watts}
}

// Watts returns the simulated measurement.
func (p *PowerSensor) Watts() (uint16, error) {
	return p.watts, nil
}

// A ResetPort counts simulated chip reset sequences.
type ResetPort struct {
	mu     sync.Mutex
	resets int

	// onReset, when set, re-runs the chip side's post-reset bring-up.
	onReset func()
}

// NewResetPort creates a ResetPort.
func NewResetPort() *ResetPort {
	return &ResetPort{}
}

// WithResetHook sets a callback run after each simulated reset sequence.
func (p *ResetPort) WithResetHook(f func()) *ResetPort {
	p.onReset = f

	return p
}

// ResetChip performs the simulated reset sequence.
func (p *ResetPort) ResetChip() error {
	p.mu.Lock()
	p.resets++
	f := p.onReset
	p.mu.Unlock()

	if f != nil {
		f()
	}

	return nil
}

// HangPC returns a zero fault address; the simulated chip never hangs.
func (p *ResetPort) HangPC() (uint32, error) {
	return 0, nil
}

// Resets returns how many reset sequences have run.
func (p *ResetPort) Resets() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.resets
}

// A Link connects a die-management Chip directly to a chip-management
// Controller in the same process, moving every record through its wire
// encoding.
type Link struct {
	controller *smc.Controller
}

// NewLink creates a Link toward the given controller.
func NewLink(c *smc.Controller) *Link {
	return &Link{controller: c}
}

// NextMessage reads the controller's current outbound notification.
func (l *Link) NextMessage() (cm2dm.Message, error) {
	return cm2dm.DecodeMessage(l.controller.OutboundMessage())
}

// Ack acknowledges one delivered notification.
func (l *Link) Ack(ack cm2dm.Ack) error {
	return l.controller.AckOutbound(ack.Encode(nil))
}

// ReadPing pulls the liveness token from the controller.
func (l *Link) ReadPing() (uint16, error) {
	return binary.LittleEndian.Uint16(l.controller.PingReply()), nil
}

// WritePing pushes the liveness token to the controller.
func (l *Link) WritePing(token uint16) error {
	buf := make([]byte, 2)
	binary.LittleEndian.PutUint16(buf, token)

	return l.controller.ReceivePingReply(buf)
}

// SendStaticInfo delivers the post-reset handshake record.
func (l *Link) SendStaticInfo(info cm2dm.StaticInfo) error {
	return l.controller.ReceiveStaticInfo(info.Encode(nil))
}

// SendPowerLimit delivers the power-supply limit in watts.
func (l *Link) SendPowerLimit(watts uint16) error {
	return l.controller.ReceivePowerLimit(le16(watts))
}

// SendInputPower delivers a board power measurement in watts.
func (l *Link) SendInputPower(watts uint16) error {
	return l.controller.ReceiveInputPower(le16(watts))
}

// SendFanRPM delivers a fan tachometer reading.
func (l *Link) SendFanRPM(rpm uint16) error {
	return l.controller.ReceiveFanRPM(le16(rpm))
}

// SendFanSpeed delivers the applied fan duty for telemetry.
func (l *Link) SendFanSpeed(percent uint8) error {
	l.controller.Telemetry().Set(smc.TagFanSpeed, uint32(percent))

	return nil
}

// SendThermTripCount delivers the thermal-trip counter.
func (l *Link) SendThermTripCount(count uint16) error {
	return l.controller.ReceiveThermTripCount(le16(count))
}

// WriteLogs passes buffered controller logs through to the chip side.
func (l *Link) WriteLogs(data []byte) error {
	return l.controller.ReceiveDMCLog(data)
}

func le16(v uint16) []byte {
	buf := make([]byte, 2)
	binary.LittleEndian.PutUint16(buf, v)

	return buf
}
