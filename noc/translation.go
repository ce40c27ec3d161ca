package noc

import "math/bits"

// A Translation holds one ring's coordinate-translation state: the per-axis
// remap tables, the row/column masks limiting where translation applies, and
// the logical-coordinate table the interconnect overlay uses for multicast
// addressing.
//
// The logical-coordinate table is the inverse of the remap tables restricted
// to each tile class's coordinate box. It cannot be derived from the remap
// tables alone because outside the boxes the tables alias freely.
type Translation struct {
	Enable bool

	TableX [PreTranslationSize]uint8
	TableY [PreTranslationSize]uint8

	ColMask uint32
	RowMask uint32

	LogicalCoords [XSize][YSize]uint16
}

func (t *Translation) setLogicalCoord(postX, postY, logicalX, logicalY uint8) {
	t.LogicalCoords[postX][postY] = uint16(logicalY)<<6 | uint16(logicalX)
}

// LogicalCoord unpacks the logical coordinate recorded for a physical
// position.
func (t *Translation) LogicalCoord(postX, postY uint8) (x, y uint8) {
	v := t.LogicalCoords[postX][postY]
	return uint8(v & 0x3F), uint8(v >> 6)
}

// MakeIdentity returns an enabled translation that maps every coordinate to
// itself.
func MakeIdentity() Translation {
	var t Translation

	t.Enable = true

	for i := 0; i < PreTranslationSize; i++ {
		if i < XSize {
			t.TableX[i] = uint8(i)
		}
		if i < YSize {
			t.TableY[i] = uint8(i)
		}
	}

	for x := uint8(0); x < XSize; x++ {
		for y := uint8(0); y < YSize; y++ {
			t.setLogicalCoord(x, y, x, y)
		}
	}

	return t
}

// applyLogicalCoords records the inverse mapping for every pre-translation
// coordinate in the given box whose translated position lands inside the
// target physical range.
func (t *Translation) applyLogicalCoords(
	postXStart, postYStart, postXEnd, postYEnd uint8,
	preXStart, preYStart, preXEnd, preYEnd uint8,
) {
	for preX := preXStart; preX <= preXEnd; preX++ {
		postX := t.TableX[preX]

		if postX < postXStart || postX > postXEnd {
			continue
		}

		for preY := preYStart; preY <= preYEnd; preY++ {
			postY := t.TableY[preY]

			if postY < postYStart || postY > postYEnd {
				continue
			}

			t.setLogicalCoord(postX, postY, preX, preY)
		}
	}
}

// copySkipIndices fills out with entries of in, omitting the input positions
// whose bit is set in skipMask. With fewer surviving inputs than output
// slots, the survivors fill from the front and the remaining slots keep their
// previous values.
func copySkipIndices(out, in []uint8, skipMask uint32) {
	for len(out) > 0 && len(in) > 0 {
		if skipMask&1 == 0 {
			out[0] = in[0]
			out = out[1:]
		}

		skipMask >>= 1
		in = in[1:]
	}
}

// ComputeTranslation builds the ring-0 translation for the given harvesting
// pattern. badTensixCols is a bitmap over physical compute columns, badGDDR
// a channel id or the all-healthy sentinel, skipEth a bitmap of Ethernet
// lanes statically claimed by SerDes multiplexing.
//
// There is no runtime validation that each tile class keeps at least one
// enabled unit; with a whole class harvested the compaction loops write no
// valid slots for it. Callers must have validated the minimum viable
// configuration beforehand.
func ComputeTranslation(
	pcieInstance int,
	badTensixCols uint16,
	badGDDR uint8,
	skipEth uint16,
) Translation {
	t := MakeIdentity()

	// Block column translation on the PCIe and Ethernet rows; column
	// remapping only applies to the compute rows.
	t.RowMask |= 1<<0 | 1<<1

	// Compute columns: fill the primary slots 1..7 and 10..16 with the
	// healthy columns in ascending physical order, then park the bad
	// columns in the tail slots from 16 downward.
	goodTensixX := uint32(0x7F<<1 | 0x7F<<10)

	for i := 0; i < len(tensixEthNoc0X); i++ {
		if badTensixCols&(1<<i) != 0 {
			goodTensixX &^= 1 << tensixEthNoc0X[i]
		}
	}

	for slot := 1; slot <= 7 && goodTensixX != 0; slot++ {
		next := bits.TrailingZeros32(goodTensixX)
		goodTensixX &^= 1 << next
		t.TableX[slot] = uint8(next)
	}

	for slot := 10; slot <= 16 && goodTensixX != 0; slot++ {
		next := bits.TrailingZeros32(goodTensixX)
		goodTensixX &^= 1 << next
		t.TableX[slot] = uint8(next)
	}

	// At most 7 bad columns fit here; the loop only touches slots 10..16
	// and never reaches back into 1..7.
	for slot, bad := 16, badTensixCols; slot >= 10 && bad != 0; slot-- {
		next := bits.TrailingZeros16(bad)
		bad &^= 1 << next
		t.TableX[slot] = tensixEthNoc0X[next]
	}

	t.applyLogicalCoords(1, 2, 7, 11, 1, 2, 16, 11)
	t.applyLogicalCoords(10, 2, 16, 11, 1, 2, 16, 11)

	// DRAM channels: the half containing a bad channel becomes "east".
	if badGDDR >= 4 {
		t.TableX[17] = 0 // west
		t.TableX[18] = 9 // east
	} else {
		t.TableX[17] = 9 // east
		t.TableX[18] = 0 // west
	}

	gddrOrder := [4]uint8{0, 1, 2, 3}

	if badGDDR != 0xFF {
		// Move the bad channel's row to the end (highest Y).
		badRow := badGDDR % 4
		copy(gddrOrder[badRow:], gddrOrder[badRow+1:])
		gddrOrder[3] = badRow
	}

	for g := 0; g < len(gddrOrder); g++ {
		copy(t.TableY[12+g*3:12+g*3+3], gddrY[gddrOrder[g]][:])
	}

	t.applyLogicalCoords(0, 0, 0, 11, 17, 12, 17, 23)
	t.applyLogicalCoords(9, 0, 9, 11, 17, 12, 17, 23)

	// PCIe: slot (19,24) maps to whichever instance is the endpoint.
	pcieX := uint8(2)
	if pcieInstance != 0 {
		pcieX = 11
	}

	t.TableX[19] = pcieX
	t.TableY[24] = 0
	t.applyLogicalCoords(pcieX, 0, pcieX, 0, 19, 24, 19, 24)

	// Ethernet: row 25, lanes compacted over the skip mask so the slot
	// order gives a predictable mapping from coordinate to SerDes.
	t.TableY[25] = 1
	copySkipIndices(t.TableX[20:32], tensixEthNoc0X[:], uint32(skipEth))
	t.applyLogicalCoords(1, 1, 7, 1, 20, 25, 31, 25)
	t.applyLogicalCoords(10, 1, 16, 1, 20, 25, 31, 25)

	// L2CPU: column 8, slots 26..29 ordered by instance.
	copy(t.TableY[26:30], l2cpuNoc0Y[:])
	t.applyLogicalCoords(8, 3, 8, 9, 8, 26, 8, 29)

	// Security node: (8,30) maps to (8,2).
	t.TableY[30] = 2
	t.applyLogicalCoords(8, 2, 8, 2, 8, 30, 8, 30)

	return t
}

// MirrorForRing1 derives the ring-1 translation by point-reflecting every
// ring-0 coordinate through the grid center. The two rings are never
// computed independently, so they stay consistent mirror images.
func MirrorForRing1(ring0 *Translation) Translation {
	t := *ring0

	for i := 0; i < PreTranslationSize; i++ {
		t.TableX[i] = Ring1X(ring0.TableX[i])
		t.TableY[i] = Ring1Y(ring0.TableY[i])
	}

	for x := uint8(0); x < XSize; x++ {
		for y := uint8(0); y < YSize; y++ {
			t.LogicalCoords[x][y] =
				ring0.LogicalCoords[Ring1X(x)][Ring1Y(y)]
		}
	}

	return t
}
