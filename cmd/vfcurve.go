package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sarchlab/bhmc/aiclk"
)

var vfCurveFlags = struct {
	lowMHz        uint32
	highMHz       uint32
	stepMHz       uint32
	freqMarginMHz float32
	voltMarginMV  float32
}{}

var vfCurveCmd = &cobra.Command{
	Use:   "vf-curve",
	Short: "Print the voltage-frequency curve over a frequency range.",
	RunE:  printVFCurve,
}

func init() {
	vfCurveCmd.Flags().Uint32Var(&vfCurveFlags.lowMHz, "low", 800,
		"lowest frequency in MHz")
	vfCurveCmd.Flags().Uint32Var(&vfCurveFlags.highMHz, "high", 1400,
		"highest frequency in MHz")
	vfCurveCmd.Flags().Uint32Var(&vfCurveFlags.stepMHz, "step", 50,
		"step size in MHz")
	vfCurveCmd.Flags().Float32Var(&vfCurveFlags.freqMarginMHz,
		"freq-margin", 0, "frequency margin in MHz")
	vfCurveCmd.Flags().Float32Var(&vfCurveFlags.voltMarginMV,
		"voltage-margin", 0, "voltage margin in mV")

	rootCmd.AddCommand(vfCurveCmd)
}

func printVFCurve(_ *cobra.Command, _ []string) error {
	f := vfCurveFlags

	if f.highMHz < f.lowMHz || f.stepMHz == 0 {
		return fmt.Errorf("invalid range %d..%d step %d",
			f.lowMHz, f.highMHz, f.stepMHz)
	}

	curve := aiclk.NewVFCurve().
		WithMargins(f.freqMarginMHz, f.voltMarginMV)

	fmt.Println("  MHz     mV")
	for freq := f.lowMHz; freq <= f.highMHz; freq += f.stepMHz {
		fmt.Printf("%5d  %5.1f\n", freq, curve.Voltage(float32(freq)))
	}

	return nil
}
