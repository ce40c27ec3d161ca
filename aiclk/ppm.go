package aiclk

import (
	"errors"
	"math/rand"
)

// ArbMax identifies a source imposing an upper frequency limit.
type ArbMax int

const (
	ArbMaxFmax ArbMax = iota
	ArbMaxTDP
	ArbMaxFastTDC
	ArbMaxTDC
	ArbMaxThm
	ArbMaxBoardPower
	ArbMaxVoltage
	ArbMaxGDDRThm
	ArbMaxCount
)

// ArbMin identifies a source imposing a lower frequency limit.
type ArbMin int

const (
	ArbMinFmin ArbMin = iota
	ArbMinBusy
	ArbMinCount
)

// Bounds for the configurable frequency range, in MHz.
const (
	FmaxMax = 1400
	FmaxMin = 800
	FminMax = 800
	FminMin = 200
)

// Mode reports how the clock is currently controlled.
type Mode uint32

const (
	ModeUncontrolled Mode = 1
	ModeForced       Mode = 2
	ModeUnforced     Mode = 3
)

// ErrFreqOutOfRange is returned when a forced or sweep frequency falls
// outside the supported range.
var ErrFreqOutOfRange = errors.New("aiclk: frequency out of range")

// A ClockController adjusts the PLL backing the AI clock. Rates are in MHz.
type ClockController interface {
	SetRate(freqMHz uint32) error
	Rate() (uint32, error)
}

// PPM owns the arbitration state of the AI clock. It is driven from the
// single dispatch context; methods are not safe for concurrent use.
type PPM struct {
	clock ClockController
	curve *VFCurve
	rng   *rand.Rand

	enabled bool

	currFreq uint32
	targFreq uint32
	bootFreq uint32
	fmax     uint32
	fmin     uint32

	// forcedFreq overrides arbitration entirely; zero means not forced.
	forcedFreq uint32

	sweepEnabled bool
	sweepLow     uint32
	sweepHigh    uint32

	arbMax [ArbMaxCount]float32
	arbMin [ArbMinCount]float32
}

// NewPPM creates an arbiter over the given clock with the widest supported
// frequency range.
func NewPPM(clock ClockController, curve *VFCurve) *PPM {
	return &PPM{
		clock: clock,
		curve: curve,
		rng:   rand.New(rand.NewSource(1)),
		fmax:  FmaxMax,
		fmin:  FminMin,
	}
}

// WithLimits narrows the frequency range to the part's fused limits, clamped
// to the supported bounds.
func (p *PPM) WithLimits(fmax, fmin uint32) *PPM {
	p.fmax = clampU32(fmax, FmaxMin, FmaxMax)
	p.fmin = clampU32(fmin, FminMin, FminMax)

	return p
}

// Init records the boot frequency and releases every arbiter to its
// non-limiting value.
func (p *PPM) Init() error {
	freq, err := p.clock.Rate()
	if err != nil {
		return err
	}

	p.bootFreq = freq
	p.currFreq = freq
	p.targFreq = freq

	p.forcedFreq = 0
	p.sweepEnabled = false

	for i := ArbMax(0); i < ArbMaxCount; i++ {
		p.arbMax[i] = float32(p.fmax)
	}

	for i := ArbMin(0); i < ArbMinCount; i++ {
		p.arbMin[i] = float32(p.fmin)
	}

	p.enabled = true

	return nil
}

// SetArbMax sets one source's upper limit, clamped to the frequency range.
func (p *PPM) SetArbMax(arb ArbMax, freqMHz float32) {
	p.arbMax[arb] = clamp(freqMHz, float32(p.fmin), float32(p.fmax))
}

// SetArbMin sets one source's lower limit, clamped to the frequency range.
func (p *PPM) SetArbMin(arb ArbMin, freqMHz float32) {
	p.arbMin[arb] = clamp(freqMHz, float32(p.fmin), float32(p.fmax))
}

// ArbMaxLimit returns one source's current upper limit.
func (p *PPM) ArbMaxLimit(arb ArbMax) float32 {
	return p.arbMax[arb]
}

// SetBusy raises or releases the busy floor.
func (p *PPM) SetBusy(busy bool) {
	if busy {
		p.SetArbMin(ArbMinBusy, float32(p.fmax))
	} else {
		p.SetArbMin(ArbMinBusy, float32(p.fmin))
	}
}

// CalculateTarget resolves the arbiters into the next target frequency: the
// highest minimum, limited by the lowest maximum, and never below fmin. A
// forced frequency overrides the result entirely.
func (p *PPM) CalculateTarget() {
	targ := uint32(p.fmin)

	for i := ArbMin(0); i < ArbMinCount; i++ {
		if uint32(p.arbMin[i]) > targ {
			targ = uint32(p.arbMin[i])
		}
	}

	for i := ArbMax(0); i < ArbMaxCount; i++ {
		if uint32(p.arbMax[i]) < targ {
			targ = uint32(p.arbMax[i])
		}
	}

	if targ < p.fmin {
		targ = p.fmin
	}

	p.targFreq = targ

	if p.sweepEnabled {
		span := p.sweepHigh - p.sweepLow + 1
		p.targFreq = p.rng.Uint32()%span + p.sweepLow
	}

	if p.forcedFreq != 0 {
		p.targFreq = p.forcedFreq
	}
}

// IncreaseToTarget raises the clock if the target is above the current
// frequency. Called after power budgets have been raised.
func (p *PPM) IncreaseToTarget() error {
	if p.targFreq <= p.currFreq {
		return nil
	}

	return p.setRate(p.targFreq)
}

// DecreaseToTarget lowers the clock if the target is below the current
// frequency. Called before power budgets are lowered.
func (p *PPM) DecreaseToTarget() error {
	if p.targFreq >= p.currFreq {
		return nil
	}

	return p.setRate(p.targFreq)
}

func (p *PPM) setRate(freqMHz uint32) error {
	if err := p.clock.SetRate(freqMHz); err != nil {
		return err
	}

	p.currFreq = freqMHz

	return nil
}

// Force pins the target frequency, bypassing arbitration. Zero releases the
// pin. With arbitration not running the clock is programmed directly, and
// zero restores the boot frequency.
func (p *PPM) Force(freqMHz uint32) error {
	if freqMHz != 0 && (freqMHz > FmaxMax || freqMHz < FminMin) {
		return ErrFreqOutOfRange
	}

	if p.enabled {
		p.forcedFreq = freqMHz
		return nil
	}

	if freqMHz == 0 {
		freqMHz = p.bootFreq
	}

	return p.clock.SetRate(freqMHz)
}

// Sweep randomizes the target within [low, high] on every arbitration pass,
// for stress testing.
func (p *PPM) Sweep(lowMHz, highMHz uint32) error {
	if lowMHz == 0 || highMHz == 0 {
		return ErrFreqOutOfRange
	}

	p.sweepLow = maxU32(lowMHz, p.fmin)
	p.sweepHigh = minU32(highMHz, p.fmax)
	p.sweepEnabled = true

	return nil
}

// StopSweep ends a frequency sweep.
func (p *PPM) StopSweep() {
	p.sweepEnabled = false
}

// CurrentRate reads the clock's actual rate in MHz.
func (p *PPM) CurrentRate() (uint32, error) {
	return p.clock.Rate()
}

// Target returns the most recently arbitrated target frequency.
func (p *PPM) Target() uint32 {
	return p.targFreq
}

// Mode reports the current control mode for telemetry.
func (p *PPM) Mode() Mode {
	switch {
	case !p.enabled:
		return ModeUncontrolled
	case p.forcedFreq != 0:
		return ModeForced
	default:
		return ModeUnforced
	}
}

// MaxFreqForVoltage returns the highest frequency whose curve voltage does
// not exceed the given voltage. The curve is monotonically increasing over
// the search range, so a binary search suffices. The result is meaningless if
// even fmin needs more than the given voltage.
func (p *PPM) MaxFreqForVoltage(voltageMV uint32) uint32 {
	// Starting above fmax covers the case where fmax itself fits.
	high := p.fmax + 1
	low := p.fmin

	for low < high {
		mid := (low + high) / 2

		if p.curve.Voltage(float32(mid)) > float32(voltageMV) {
			high = mid
		} else {
			low = mid + 1
		}
	}

	return low - 1
}

// InitArbMaxVoltage pins the voltage arbiter to the highest frequency
// reachable at the regulator's maximum voltage.
func (p *PPM) InitArbMaxVoltage(vddMaxMV uint32) {
	p.SetArbMax(ArbMaxVoltage, float32(p.MaxFreqForVoltage(vddMaxMV)))
}

func clampU32(v, lo, hi uint32) uint32 {
	if v < lo {
		return lo
	}

	if v > hi {
		return hi
	}

	return v
}

func maxU32(a, b uint32) uint32 {
	if a > b {
		return a
	}

	return b
}

func minU32(a, b uint32) uint32 {
	if a < b {
		return a
	}

	return b
}
