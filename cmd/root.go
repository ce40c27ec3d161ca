// Package cmd provides the command-line interface for the management
// controller firmware stack.
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use: "bhmc",
	Short: "BHMC runs and inspects the Blackhole management controller " +
		"firmware stack.",
	Long: `BHMC runs the management controller firmware stack against ` +
		`simulated devices and provides inspection helpers for the ` +
		`interconnect translation tables and the voltage-frequency curve.`,
}

// Execute adds all child commands to the root command and sets flags
// appropriately.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
