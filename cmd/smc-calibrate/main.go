package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/XiaoConstantine/smc-go/cmd/smc-calibrate/internal/commands"
)

var rootCmd = &cobra.Command{
	Use:   "smc-calibrate",
	Short: "Sequential Monte Carlo parameter calibration",
	Long: `A command-line interface for Bayesian parameter estimation with
Sequential Monte Carlo sampling.

The CLI provides:
- Calibration runs defined entirely in YAML, no code required
- Built-in forward models for common response shapes
- SQLite persistence of every tempering stage
- Parquet export of posterior populations for external analysis`,
	Version: "0.1.0",
}

func main() {
	rootCmd.AddCommand(commands.NewRunCommand())
	rootCmd.AddCommand(commands.NewRunsCommand())
	rootCmd.AddCommand(commands.NewExportCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
