package noc

import "github.com/sarchlab/bhmc/harvesting"

// NIU config register indices, as passed to RegBus accessors.
const (
	RegNiuCfg0  = 0x0
	RegIDLogic  = 0x12
	RegColMask  = 0x14
	RegRowMask  = 0x15
	regXTable   = 0x6
	regYTable   = 0xC
	regDDRTable = 0x16
)

// RegRouterCfg returns the index of router config register n.
func RegRouterCfg(n int) uint32 {
	return uint32(n + 1)
}

// RegXTranslateTable returns the index of packed X-table word n.
func RegXTranslateTable(n int) uint32 {
	return uint32(n + regXTable)
}

// RegYTranslateTable returns the index of packed Y-table word n.
func RegYTranslateTable(n int) uint32 {
	return uint32(n + regYTable)
}

// RegDDRTranslateTable returns the index of DDR-translation word n.
func RegDDRTranslateTable(n int) uint32 {
	return uint32(n + regDDRTable)
}

// NIU_CFG_0 field positions.
const (
	NiuCfg0TileClkOff  = 12
	NiuCfg0TranslateEn = 14
)

// A RegBus is the register-access collaborator the engine programs nodes
// through. Read/Write address a node by its current physical coordinates on
// one ring; ReadLocal/WriteLocal reach the management node's own NIU
// registers over the direct bus, usable even when the node's pre-translation
// coordinates are unknown.
type RegBus interface {
	Read(ring int, x, y uint8, reg uint32) uint32
	Write(ring int, x, y uint8, reg uint32, value uint32)

	ReadLocal(ring int, reg uint32) uint32
	WriteLocal(ring int, reg uint32, value uint32)
}

// An Engine owns the translation state of both interconnect rings and
// programs it through a RegBus. All methods run on the single dispatch
// context; reprogram operations never interleave.
type Engine struct {
	bus     RegBus
	enabled bool

	// onChange, when set, observes translation enable/disable for
	// telemetry.
	onChange func(enabled bool)

	// onNode, when set, is called after each node's translation state is
	// written, for progress reporting.
	onNode func()
}

// NewEngine creates an Engine driving the given register bus.
func NewEngine(bus RegBus) *Engine {
	return &Engine{bus: bus}
}

// WithChangeHook sets a callback invoked whenever translation is enabled or
// disabled.
func (e *Engine) WithChangeHook(f func(enabled bool)) *Engine {
	e.onChange = f
	return e
}

// WithNodeHook sets a callback invoked after each node's translation state
// has been written during a reprogram sweep.
func (e *Engine) WithNodeHook(f func()) *Engine {
	e.onNode = f
	return e
}

// Enabled reports whether coordinate translation is currently programmed.
func (e *Engine) Enabled() bool {
	return e.enabled
}

func packTable(table *[PreTranslationSize]uint8) [6]uint32 {
	var words [6]uint32

	for i := 0; i < PreTranslationSize; i++ {
		word := i / tableEntriesPerWord
		shift := i % tableEntriesPerWord * translateIDWidth

		words[word] |= uint32(table[i]) << shift
	}

	return words
}

func arcCoords(ring int) (x, y uint8) {
	if ring == 0 {
		return ArcX, ArcY
	}

	return ArcX, Ring1Y(ArcY)
}

// program writes one ring's translation state to every node. The management
// node's own translation-enable bit is written strictly last so the node
// never loses interconnect access mid-update.
func (e *Engine) program(t *Translation, ring int) {
	tableX := packTable(&t.TableX)
	tableY := packTable(&t.TableY)

	arcX, arcY := arcCoords(ring)

	for x := uint8(0); x < XSize; x++ {
		for y := uint8(0); y < YSize; y++ {
			cfg0 := e.bus.Read(ring, x, y, RegNiuCfg0)

			if !t.Enable {
				cfg0 &^= 1 << NiuCfg0TranslateEn
				e.bus.Write(ring, x, y, RegNiuCfg0, cfg0)
			}

			e.bus.Write(ring, x, y, RegColMask, t.ColMask)
			e.bus.Write(ring, x, y, RegRowMask, t.RowMask)

			// Clear the east/west DDR columns so the legacy DDR
			// translation path is never used.
			e.bus.Write(ring, x, y, RegDDRTranslateTable(5), 0)

			e.bus.Write(ring, x, y, RegIDLogic,
				uint32(t.LogicalCoords[x][y]))

			for i := 0; i < len(tableX); i++ {
				e.bus.Write(ring, x, y, RegXTranslateTable(i), tableX[i])
				e.bus.Write(ring, x, y, RegYTranslateTable(i), tableY[i])
			}

			if t.Enable && (x != arcX || y != arcY) {
				cfg0 |= 1 << NiuCfg0TranslateEn
				e.bus.Write(ring, x, y, RegNiuCfg0, cfg0)
			}

			if e.onNode != nil {
				e.onNode()
			}
		}
	}

	cfg0 := e.bus.Read(ring, arcX, arcY, RegNiuCfg0)

	if t.Enable {
		cfg0 |= 1 << NiuCfg0TranslateEn
	} else {
		cfg0 &^= 1 << NiuCfg0TranslateEn
	}

	e.bus.Write(ring, arcX, arcY, RegNiuCfg0, cfg0)
}

// ProgramBroadcastExclusion marks the rows and columns that must never
// receive broadcast traffic: the DRAM columns, the management/security
// column, the Ethernet and PCIe/SerDes rows, and any harvested compute
// column. Written independently of (and before) coordinate translation.
func (e *Engine) ProgramBroadcastExclusion(badTensixCols uint16) {
	colMask := [NumRings]uint32{
		1<<0 | 1<<8 | 1<<9,
		1<<Ring1X(0) | 1<<Ring1X(8) | 1<<Ring1X(9),
	}

	rowMask := [NumRings]uint32{
		1<<0 | 1<<1,
		1<<Ring1Y(0) | 1<<Ring1Y(1),
	}

	for i := 0; i < harvesting.NumTensixCols; i++ {
		if badTensixCols&(1<<i) != 0 {
			x := tensixEthNoc0X[i]

			colMask[0] |= 1 << x
			colMask[1] |= 1 << Ring1X(x)
		}
	}

	for y := uint8(0); y < YSize; y++ {
		for x := uint8(0); x < XSize; x++ {
			for ring := 0; ring < NumRings; ring++ {
				e.bus.Write(ring, x, y, RegRouterCfg(1), colMask[ring])
				e.bus.Write(ring, x, y, RegRouterCfg(2), 0)
				e.bus.Write(ring, x, y, RegRouterCfg(3), rowMask[ring])
				e.bus.Write(ring, x, y, RegRouterCfg(4), 0)
			}
		}
	}
}

// Init computes and programs translation for both rings and enables it.
func (e *Engine) Init(pcieInstance int, badTensixCols uint16, badGDDR uint8, skipEth uint16) {
	ring0 := ComputeTranslation(pcieInstance, badTensixCols, badGDDR, skipEth)
	e.program(&ring0, 0)

	ring1 := MirrorForRing1(&ring0)
	e.program(&ring1, 1)

	e.enabled = true

	if e.onChange != nil {
		e.onChange(true)
	}
}

// InitFromHarvesting derives the translation parameters from the tile
// enablement state and programs both rings.
func (e *Engine) InitFromHarvesting(te harvesting.TileEnable) {
	e.Init(te.PCIeInstance(), te.BadTensixCols(), te.BadGDDR(), te.SkipEth())
}

// disableArcTranslation turns off the management node's own translation over
// the direct bus, so the follow-up sweep can address nodes by physical
// coordinates regardless of the previous table contents.
func (e *Engine) disableArcTranslation() {
	for ring := 0; ring < NumRings; ring++ {
		cfg0 := e.bus.ReadLocal(ring, RegNiuCfg0)
		cfg0 &^= 1 << NiuCfg0TranslateEn
		e.bus.WriteLocal(ring, RegNiuCfg0, cfg0)
	}
}

// Clear resets both rings to a harvesting-blind identity state with
// translation disabled.
func (e *Engine) Clear() {
	e.disableArcTranslation()

	var t Translation

	for x := uint8(0); x < XSize; x++ {
		for y := uint8(0); y < YSize; y++ {
			t.setLogicalCoord(x, y, x, y)
		}
	}

	e.program(&t, 0)
	e.program(&t, 1)

	e.enabled = false

	if e.onChange != nil {
		e.onChange(false)
	}
}
