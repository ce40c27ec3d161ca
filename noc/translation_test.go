package noc

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var tensixSlots = []int{1, 2, 3, 4, 5, 6, 7, 10, 11, 12, 13, 14, 15, 16}

var _ = Describe("ComputeTranslation", func() {
	It("should be the identity for a fully healthy part", func() {
		t := ComputeTranslation(0, 0, 0xFF, 0)

		for _, slot := range tensixSlots {
			Expect(t.TableX[slot]).To(Equal(uint8(slot)))
		}
	})

	It("should compact good columns and park bad ones in the tail", func() {
		// Physical compute columns 3 and 9 bad; their ring-0 X
		// coordinates are 15 and 12.
		t := ComputeTranslation(0, 1<<3|1<<9, 0xFF, 0)

		// The lowest good X coordinates fill the primary slots in
		// ascending order.
		Expect(t.TableX[1:8]).To(Equal([]uint8{1, 2, 3, 4, 5, 6, 7}))
		Expect(t.TableX[10:15]).To(Equal([]uint8{10, 11, 13, 14, 16}))

		// Bad columns land in the tail slots in descending slot
		// order.
		Expect(t.TableX[16]).To(Equal(uint8(15)))
		Expect(t.TableX[15]).To(Equal(uint8(12)))
	})

	It("should keep the compute-column mapping injective", func() {
		patterns := []uint16{
			0,
			1 << 0,
			1<<3 | 1<<9,
			1<<0 | 1<<1 | 1<<13,
			0x7F, // seven bad columns
		}

		for _, bad := range patterns {
			t := ComputeTranslation(0, bad, 0xFF, 0)

			seen := map[uint8]bool{}
			for _, slot := range tensixSlots {
				x := t.TableX[slot]
				Expect(seen[x]).To(BeFalse(),
					"alias at slot %d for pattern %#x", slot, bad)
				seen[x] = true
			}
		}
	})

	It("should place the bad GDDR half east", func() {
		t := ComputeTranslation(0, 0, 0xFF, 0)
		Expect(t.TableX[17]).To(Equal(uint8(0)))
		Expect(t.TableX[18]).To(Equal(uint8(9)))

		// A bad channel in the east half keeps west first.
		t = ComputeTranslation(0, 0, 6, 0)
		Expect(t.TableX[17]).To(Equal(uint8(0)))
		Expect(t.TableX[18]).To(Equal(uint8(9)))

		// A bad channel in the west half flips the order.
		t = ComputeTranslation(0, 0, 1, 0)
		Expect(t.TableX[17]).To(Equal(uint8(9)))
		Expect(t.TableX[18]).To(Equal(uint8(0)))
	})

	It("should order the bad GDDR channel's rows last", func() {
		t := ComputeTranslation(0, 0, 6, 0)

		var want []uint8
		for _, row := range []int{0, 1, 3, 2} {
			want = append(want, gddrY[row][:]...)
		}

		Expect(t.TableY[12:24]).To(Equal(want))
	})

	It("should map the endpoint PCIe instance at the fixed slot", func() {
		t := ComputeTranslation(0, 0, 0xFF, 0)
		Expect(t.TableX[19]).To(Equal(uint8(2)))
		Expect(t.TableY[24]).To(Equal(uint8(0)))

		t = ComputeTranslation(1, 0, 0xFF, 0)
		Expect(t.TableX[19]).To(Equal(uint8(11)))
	})

	It("should compact Ethernet lanes over the skip mask", func() {
		t := ComputeTranslation(0, 0, 0xFF, 1<<4|1<<8)

		Expect(t.TableY[25]).To(Equal(uint8(1)))
		Expect(t.TableX[20:32]).To(Equal([]uint8{
			1, 16, 2, 15, 14, 4, 13, 12, 6, 11, 7, 10,
		}))
	})

	It("should tolerate a skip mask denser than the spare slots", func() {
		// Three skipped lanes leave 11 survivors for the 12 Ethernet
		// slots; the unfilled tail slot stays unwritten.
		t := ComputeTranslation(0, 0, 0xFF, 0x0007)

		Expect(t.TableX[20:31]).To(Equal([]uint8{
			15, 3, 14, 4, 13, 5, 12, 6, 11, 7, 10,
		}))
		Expect(t.TableX[31]).To(BeZero())
	})

	It("should leave every Ethernet slot unwritten with all lanes skipped", func() {
		t := ComputeTranslation(0, 0, 0xFF, 0x3FFF)

		for slot := 20; slot < PreTranslationSize; slot++ {
			Expect(t.TableX[slot]).To(BeZero())
		}
	})

	It("should pin the L2CPU and security mappings regardless of harvesting", func() {
		for _, bad := range []uint16{0, 1<<2 | 1<<5} {
			t := ComputeTranslation(0, bad, 3, 0)

			Expect(t.TableY[26:30]).To(Equal([]uint8{3, 9, 5, 7}))
			Expect(t.TableY[30]).To(Equal(uint8(2)))
		}
	})

	It("should block column translation on the Ethernet and PCIe rows", func() {
		t := ComputeTranslation(0, 0, 0xFF, 0)
		Expect(t.RowMask & 0x3).To(Equal(uint32(0x3)))
	})

	It("should satisfy the forward/inverse round trip", func() {
		t := ComputeTranslation(1, 1<<2|1<<7, 5, 1<<4|1<<7)

		roundTrip := func(px, py uint8) {
			lx, ly := t.LogicalCoord(px, py)
			Expect(t.TableX[lx]).To(Equal(px),
				"x mismatch at post (%d,%d)", px, py)
			Expect(t.TableY[ly]).To(Equal(py),
				"y mismatch at post (%d,%d)", px, py)
		}

		// Compute box.
		for _, px := range tensixSlots {
			for py := uint8(2); py <= 11; py++ {
				roundTrip(uint8(px), py)
			}
		}

		// The GDDR column addressed through slot 17.
		for py := uint8(0); py <= 11; py++ {
			roundTrip(t.TableX[17], py)
		}

		// L2CPU rows and the security node.
		for _, py := range []uint8{3, 9, 5, 7, 2} {
			roundTrip(8, py)
		}
	})
})

var _ = Describe("MirrorForRing1", func() {
	It("should point-reflect every table entry through the grid center", func() {
		ring0 := ComputeTranslation(0, 1<<5, 2, 1<<6|1<<9)
		ring1 := MirrorForRing1(&ring0)

		for i := 0; i < PreTranslationSize; i++ {
			Expect(ring1.TableX[i]).To(Equal(XSize - ring0.TableX[i] - 1))
			Expect(ring1.TableY[i]).To(Equal(YSize - ring0.TableY[i] - 1))
		}

		for x := uint8(0); x < XSize; x++ {
			for y := uint8(0); y < YSize; y++ {
				Expect(ring1.LogicalCoords[x][y]).To(Equal(
					ring0.LogicalCoords[XSize-x-1][YSize-y-1]))
			}
		}
	})
})
