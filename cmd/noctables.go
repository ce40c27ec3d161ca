package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sarchlab/bhmc/noc"
)

var nocTablesFlags = struct {
	badTensixCols uint16
	badGDDR       uint8
	skipEth       uint16
	pcieInstance  int
	ring          int
}{}

var nocTablesCmd = &cobra.Command{
	Use:   "noc-tables",
	Short: "Print the translation tables for a harvesting pattern.",
	Long: `noc-tables computes the coordinate-translation tables that would ` +
		`be programmed for the given harvesting pattern and prints them, ` +
		`without touching any hardware.`,
	RunE: printNocTables,
}

func init() {
	nocTablesCmd.Flags().Uint16Var(&nocTablesFlags.badTensixCols,
		"bad-tensix-cols", 0, "bitmap of harvested compute columns")
	nocTablesCmd.Flags().Uint8Var(&nocTablesFlags.badGDDR,
		"bad-gddr", 0xFF, "harvested DRAM channel, 0xFF for none")
	nocTablesCmd.Flags().Uint16Var(&nocTablesFlags.skipEth,
		"skip-eth", 0, "bitmap of Ethernet lanes claimed by SerDes")
	nocTablesCmd.Flags().IntVar(&nocTablesFlags.pcieInstance,
		"pcie-instance", 0, "PCIe endpoint instance, 0 or 1")
	nocTablesCmd.Flags().IntVar(&nocTablesFlags.ring,
		"ring", 0, "interconnect ring, 0 or 1")

	rootCmd.AddCommand(nocTablesCmd)
}

func printNocTables(_ *cobra.Command, _ []string) error {
	f := nocTablesFlags

	if f.ring < 0 || f.ring >= noc.NumRings {
		return fmt.Errorf("invalid ring %d", f.ring)
	}

	if f.badGDDR >= 8 && f.badGDDR != 0xFF {
		return fmt.Errorf("invalid DRAM channel %d", f.badGDDR)
	}

	t := noc.ComputeTranslation(
		f.pcieInstance, f.badTensixCols, f.badGDDR, f.skipEth)
	if f.ring == 1 {
		t = noc.MirrorForRing1(&t)
	}

	fmt.Printf("ring %d, bad tensix cols %#04x, bad gddr %#02x, "+
		"skip eth %#03x, pcie instance %d\n\n",
		f.ring, f.badTensixCols, f.badGDDR, f.skipEth, f.pcieInstance)

	fmt.Println("x:")
	printTable(t.TableX[:])
	fmt.Println("y:")
	printTable(t.TableY[:])

	fmt.Printf("col mask %#08x, row mask %#08x\n", t.ColMask, t.RowMask)

	return nil
}

func printTable(table []uint8) {
	for i, v := range table {
		fmt.Printf("  %2d -> %2d", i, v)
		if i%4 == 3 {
			fmt.Println()
		}
	}
	fmt.Println()
}
