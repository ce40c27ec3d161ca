// Package harvesting tracks which physical tiles of the chip passed
// manufacturing and runtime health checks. The enablement bitmaps are
// computed once at boot from fuses and configuration, and stay immutable
// except through the explicit debug command that reprograms coordinate
// translation.
package harvesting

import "math/bits"

// NumTensixCols is the number of physical compute columns.
const NumTensixCols = 14

// NumGDDR is the number of DRAM channel instances.
const NumGDDR = 8

// NumEth is the number of Ethernet lanes.
const NumEth = 14

// NumPCIe is the number of PCIe instances.
const NumPCIe = 2

// NoBadGDDR is the sentinel meaning every DRAM channel is healthy.
const NoBadGDDR = 0xFF

// PCIeMode describes how a PCIe instance is configured.
type PCIeMode uint8

const (
	// PCIeDisabled marks an unused instance.
	PCIeDisabled PCIeMode = iota

	// PCIeEndpoint marks the instance exposed to the host.
	PCIeEndpoint

	// PCIeRootComplex marks an instance driving downstream devices.
	PCIeRootComplex
)

// TileEnable is the per-class enablement state. A set bit means the unit is
// healthy and usable.
type TileEnable struct {
	TensixCols uint16
	GDDR       uint8
	Eth        uint16
	PCIeUsage  [NumPCIe]PCIeMode
}

// AllEnabled returns the enablement state of a fully healthy part.
func AllEnabled() TileEnable {
	return TileEnable{
		TensixCols: 1<<NumTensixCols - 1,
		GDDR:       1<<NumGDDR - 1,
		Eth:        1<<NumEth - 1,
		PCIeUsage:  [NumPCIe]PCIeMode{PCIeEndpoint, PCIeDisabled},
	}
}

// BadTensixCols returns the bitmap of disabled compute columns.
func (t TileEnable) BadTensixCols() uint16 {
	return (1<<NumTensixCols - 1) &^ t.TensixCols
}

// BadGDDR returns the lowest-numbered disabled DRAM channel, or NoBadGDDR
// when all channels are healthy.
func (t TileEnable) BadGDDR() uint8 {
	bad := bits.TrailingZeros8(^t.GDDR)
	if bad >= NumGDDR {
		return NoBadGDDR
	}

	return uint8(bad)
}

// SkipEth returns the Ethernet lanes to omit from coordinate translation.
// SerDes multiplexing statically claims one lane from each of the groups
// 4..6 and 7..9 for PCIe; the highest disabled lane in each group is the one
// skipped.
func (t TileEnable) SkipEth() uint16 {
	var skip uint16

	if g := ^t.Eth & (0x7 << 4); g != 0 {
		skip |= 1 << (15 - bits.LeadingZeros16(g))
	}

	if g := ^t.Eth & (0x7 << 7); g != 0 {
		skip |= 1 << (15 - bits.LeadingZeros16(g))
	}

	return skip
}

// PCIeInstance returns the instance to place at the endpoint translation
// slot. When no instance is an endpoint the choice does not matter.
func (t TileEnable) PCIeInstance() int {
	if t.PCIeUsage[0] == PCIeEndpoint {
		return 0
	}

	return 1
}
