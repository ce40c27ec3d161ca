package aiclk

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("VFCurve", func() {
	It("should evaluate the fitted curve with zero margins", func() {
		curve := NewVFCurve().WithMargins(0, 0)

		Expect(curve.Voltage(1400)).To(BeNumerically("~", 828.83, 0.01))
	})

	It("should apply both margins", func() {
		base := NewVFCurve().WithMargins(0, 0)
		curve := NewVFCurve().WithMargins(100, 50)

		Expect(curve.Voltage(900)).To(
			BeNumerically("~", base.Voltage(1000)+50, 0.01))
	})

	It("should clamp margins to the supported range", func() {
		curve := NewVFCurve().WithMargins(1000, -1000)
		want := NewVFCurve().WithMargins(300, -150)

		Expect(curve.Voltage(600)).To(Equal(want.Voltage(600)))
	})

	It("should increase monotonically over the upper arbitration range", func() {
		curve := NewVFCurve()

		prev := curve.Voltage(FmaxMin)
		for f := float32(FmaxMin + 1); f <= FmaxMax; f++ {
			v := curve.Voltage(f)
			Expect(v).To(BeNumerically(">", prev))
			prev = v
		}
	})
})
