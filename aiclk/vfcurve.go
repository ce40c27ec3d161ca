// Package aiclk arbitrates the AI-clock frequency. Throttlers and host
// commands feed per-source minimum and maximum limits; the arbiter resolves
// them into one target frequency and steps the PLL toward it.
package aiclk

// Margin bounds, in MHz and mV.
const (
	freqMarginMax    = 300.0
	freqMarginMin    = -300.0
	voltageMarginMax = 150.0
	voltageMarginMin = -150.0
)

// Fitted coefficients of the chip's voltage-frequency curve.
const (
	vfQuadraticCoeff = 0.00031395
	vfLinearCoeff    = -0.43953
	vfConstant       = 828.83
)

// A VFCurve maps a frequency to the minimum voltage that sustains it. Margins
// shift the curve to cover part-to-part variation.
type VFCurve struct {
	freqMarginMHz   float32
	voltageMarginMV float32
}

// NewVFCurve creates a curve with the most conservative margins.
func NewVFCurve() *VFCurve {
	return &VFCurve{
		freqMarginMHz:   freqMarginMax,
		voltageMarginMV: voltageMarginMax,
	}
}

// WithMargins sets the frequency and voltage margins, clamped to the
// supported range.
func (c *VFCurve) WithMargins(freqMHz, voltageMV float32) *VFCurve {
	c.freqMarginMHz = clamp(freqMHz, freqMarginMin, freqMarginMax)
	c.voltageMarginMV = clamp(voltageMV, voltageMarginMin, voltageMarginMax)

	return c
}

// Voltage returns the voltage in mV required to run at the given frequency in
// MHz.
func (c *VFCurve) Voltage(freqMHz float32) float32 {
	f := freqMHz + c.freqMarginMHz
	voltageMV := vfQuadraticCoeff*f*f + vfLinearCoeff*f + vfConstant

	return voltageMV + c.voltageMarginMV
}

func clamp(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}

	if v > hi {
		return hi
	}

	return v
}
