package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "assessgate",
		Short:        "Assessment submission and report access gateway",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(idCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
