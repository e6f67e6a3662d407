package main

import (
	"fmt"
	"os"

	"abstats/internal"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var logger = internal.NewDefaultLogger()

func main() {
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:          "abctl",
		Short:        "Operator tool for the A/B testing statistics engine",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		newPowerCmd(),
		newBoundariesCmd(),
		newSimulateCmd(),
		newMigrateCmd(),
		newReplayCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
