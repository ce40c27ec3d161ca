// Package noc computes and programs the coordinate-translation tables of the
// on-chip interconnect. Translation maps a stable "pre-translation" logical
// coordinate space onto the physical grid, compacting around harvested tiles
// so software always sees a dense, ordered view of the healthy units.
package noc

// XSize and YSize give the physical grid dimensions of one interconnect ring.
const (
	XSize = 17
	YSize = 12
)

// NumRings is the number of interconnect planes. Ring 1 is the point
// reflection of ring 0 through the grid center.
const NumRings = 2

// PreTranslationSize is the size of the pre-translation coordinate space in
// each axis.
const PreTranslationSize = 32

// translateIDWidth is the width of one table entry in the packed register
// encoding; tableEntriesPerWord entries fit in one 32-bit register.
const (
	translateIDWidth    = 5
	tableEntriesPerWord = 32 / translateIDWidth
)

// ArcX, ArcY locate the management (ARC) node on ring 0.
const (
	ArcX = 8
	ArcY = 0
)

// Ring1X converts a ring-0 X coordinate to its ring-1 equivalent.
func Ring1X(x uint8) uint8 {
	return XSize - x - 1
}

// Ring1Y converts a ring-0 Y coordinate to its ring-1 equivalent.
func Ring1Y(y uint8) uint8 {
	return YSize - y - 1
}

// tensixEthNoc0X is the ring-0 X coordinate of compute column i and Ethernet
// lane i. The interleaved order is fixed by the hardware floorplan.
var tensixEthNoc0X = [14]uint8{1, 16, 2, 15, 3, 14, 4, 13, 5, 12, 6, 11, 7, 10}

// l2cpuNoc0Y is the ring-0 Y coordinate of L2CPU instance i.
var l2cpuNoc0Y = [4]uint8{3, 9, 5, 7}

// gddrY lists the ring-0 Y coordinates of the three ports of DRAM channel i
// and i+4. Port order within a channel does not matter.
var gddrY = [4][3]uint8{{0, 1, 11}, {2, 10, 3}, {9, 4, 8}, {5, 7, 6}}

// TensixColX returns the ring-0 X coordinate of physical compute column i.
func TensixColX(i int) uint8 {
	return tensixEthNoc0X[i]
}
