package noc

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/bhmc/harvesting"
)

type busWrite struct {
	ring int
	x, y uint8
	reg  uint32
	val  uint32
}

// fakeRegBus keeps a shadow copy of every register and a log of writes in
// order.
type fakeRegBus struct {
	regs   map[busWrite]uint32
	writes []busWrite
}

func newFakeRegBus() *fakeRegBus {
	return &fakeRegBus{regs: map[busWrite]uint32{}}
}

func (b *fakeRegBus) key(ring int, x, y uint8, reg uint32) busWrite {
	return busWrite{ring: ring, x: x, y: y, reg: reg}
}

func (b *fakeRegBus) Read(ring int, x, y uint8, reg uint32) uint32 {
	return b.regs[b.key(ring, x, y, reg)]
}

func (b *fakeRegBus) Write(ring int, x, y uint8, reg uint32, value uint32) {
	b.regs[b.key(ring, x, y, reg)] = value
	b.writes = append(b.writes,
		busWrite{ring: ring, x: x, y: y, reg: reg, val: value})
}

func (b *fakeRegBus) ReadLocal(ring int, reg uint32) uint32 {
	x, y := arcCoords(ring)
	return b.Read(ring, x, y, reg)
}

func (b *fakeRegBus) WriteLocal(ring int, reg uint32, value uint32) {
	x, y := arcCoords(ring)
	b.Write(ring, x, y, reg, value)
}

var _ = Describe("Engine", func() {
	var (
		bus    *fakeRegBus
		engine *Engine
	)

	BeforeEach(func() {
		bus = newFakeRegBus()
		engine = NewEngine(bus)
	})

	It("should enable translation on every node", func() {
		engine.Init(0, 0, 0xFF, 0)

		for ring := 0; ring < NumRings; ring++ {
			for x := uint8(0); x < XSize; x++ {
				for y := uint8(0); y < YSize; y++ {
					cfg0 := bus.Read(ring, x, y, RegNiuCfg0)
					Expect(cfg0 & (1 << NiuCfg0TranslateEn)).NotTo(
						BeZero(), "ring %d node (%d,%d)", ring, x, y)
				}
			}
		}

		Expect(engine.Enabled()).To(BeTrue())
	})

	It("should write the management node's enable bit last on each ring", func() {
		engine.Init(0, 0, 0xFF, 0)

		for ring := 0; ring < NumRings; ring++ {
			arcX, arcY := arcCoords(ring)

			last := -1
			for i, w := range bus.writes {
				if w.ring == ring &&
					w.reg == RegNiuCfg0 &&
					w.val&(1<<NiuCfg0TranslateEn) != 0 {
					last = i
				}
			}

			Expect(last).To(BeNumerically(">=", 0))
			Expect(bus.writes[last].x).To(Equal(arcX))
			Expect(bus.writes[last].y).To(Equal(arcY))
		}
	})

	It("should program the packed tables on every node", func() {
		engine.Init(0, 1<<3, 0xFF, 0)

		ring0 := ComputeTranslation(0, 1<<3, 0xFF, 0)
		wantX := packTable(&ring0.TableX)
		wantY := packTable(&ring0.TableY)

		for i := 0; i < len(wantX); i++ {
			Expect(bus.Read(0, 5, 5, RegXTranslateTable(i))).
				To(Equal(wantX[i]))
			Expect(bus.Read(0, 5, 5, RegYTranslateTable(i))).
				To(Equal(wantY[i]))
		}

		Expect(bus.Read(0, 5, 5, RegIDLogic)).
			To(Equal(uint32(ring0.LogicalCoords[5][5])))
		Expect(bus.Read(0, 5, 5, RegDDRTranslateTable(5))).To(BeZero())
	})

	It("should report every node write through the node hook", func() {
		nodes := 0
		engine.WithNodeHook(func() { nodes++ })

		engine.Init(0, 0, 0xFF, 0)

		Expect(nodes).To(Equal(XSize * YSize * NumRings))
	})

	It("should notify the change hook", func() {
		var states []bool
		engine.WithChangeHook(func(enabled bool) {
			states = append(states, enabled)
		})

		engine.Init(0, 0, 0xFF, 0)
		engine.Clear()

		Expect(states).To(Equal([]bool{true, false}))
	})

	Context("when clearing translation", func() {
		It("should disable the management node first over the direct bus", func() {
			engine.Init(0, 0, 0xFF, 0)

			bus.writes = nil
			engine.Clear()

			arcX, arcY := arcCoords(0)
			first := bus.writes[0]
			Expect(first.x).To(Equal(arcX))
			Expect(first.y).To(Equal(arcY))
			Expect(first.reg).To(Equal(uint32(RegNiuCfg0)))
			Expect(first.val & (1 << NiuCfg0TranslateEn)).To(BeZero())
		})

		It("should leave every node disabled with identity logical coordinates", func() {
			engine.Init(1, 1<<2, 3, 0)
			engine.Clear()

			for ring := 0; ring < NumRings; ring++ {
				for x := uint8(0); x < XSize; x++ {
					for y := uint8(0); y < YSize; y++ {
						cfg0 := bus.Read(ring, x, y, RegNiuCfg0)
						Expect(cfg0 & (1 << NiuCfg0TranslateEn)).
							To(BeZero())

						Expect(bus.Read(ring, x, y, RegIDLogic)).
							To(Equal(uint32(y)<<6 | uint32(x)))
					}
				}
			}

			Expect(engine.Enabled()).To(BeFalse())
		})
	})

	Describe("broadcast exclusion", func() {
		It("should exclude the fixed columns and rows plus harvested columns", func() {
			engine.ProgramBroadcastExclusion(1 << 3)

			wantCol0 := uint32(1<<0 | 1<<8 | 1<<9 | 1<<15)
			wantRow0 := uint32(1<<0 | 1<<1)

			Expect(bus.Read(0, 3, 4, RegRouterCfg(1))).To(Equal(wantCol0))
			Expect(bus.Read(0, 3, 4, RegRouterCfg(2))).To(BeZero())
			Expect(bus.Read(0, 3, 4, RegRouterCfg(3))).To(Equal(wantRow0))
			Expect(bus.Read(0, 3, 4, RegRouterCfg(4))).To(BeZero())
		})

		It("should reflect the masks for ring 1", func() {
			engine.ProgramBroadcastExclusion(1 << 3)

			wantCol1 := uint32(1<<Ring1X(0) | 1<<Ring1X(8) | 1<<Ring1X(9) |
				1<<Ring1X(15))
			wantRow1 := uint32(1<<Ring1Y(0) | 1<<Ring1Y(1))

			Expect(bus.Read(1, 3, 4, RegRouterCfg(1))).To(Equal(wantCol1))
			Expect(bus.Read(1, 3, 4, RegRouterCfg(3))).To(Equal(wantRow1))
		})

		It("should derive parameters from the tile-enable state", func() {
			te := harvesting.AllEnabled()
			te.TensixCols &^= 1 << 3
			te.GDDR = 0xFB

			engine.InitFromHarvesting(te)

			Expect(engine.Enabled()).To(BeTrue())

			ring0 := ComputeTranslation(
				te.PCIeInstance(), te.BadTensixCols(), te.BadGDDR(),
				te.SkipEth())
			wantX := packTable(&ring0.TableX)

			Expect(bus.Read(0, 1, 2, RegXTranslateTable(0))).
				To(Equal(wantX[0]))
		})
	})
})
