package main

import (
	"os"

	"github.com/spf13/cobra"
)

/* relay mirrors the events captured for a webhook and forwards them to local destinations
 * main.go only wires the commands, each command owns its dependencies
 */

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "relay",
		Short:        "Relay captured webhook events to local destinations",
		SilenceUsage: true,
	}
	root.AddCommand(newRunCmd(), newValidateCmd(), newSecretCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
