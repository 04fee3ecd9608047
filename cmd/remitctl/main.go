// Command remitctl runs operator tasks: schema migrations, key generation
// and one-off sweeps.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "remitctl",
		Short:         "Operator tooling for the StellarRemit API",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	rootCmd.AddCommand(newMigrateCmd(), newKeygenCmd(), newSweepCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
