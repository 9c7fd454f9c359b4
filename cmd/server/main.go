package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const configFlagName = "config"

var rootCmd = &cobra.Command{
	Use:          "kerdos",
	Short:        "Binary-outcome central limit order book engine",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringP(configFlagName, "c", "", "path to the YAML configuration file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
