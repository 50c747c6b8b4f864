package main

import (
	"fmt"

	"github.com/marcelsud/webhook-relay/dispatcher/signature"
	"github.com/spf13/cobra"
)

func newSecretCmd() *cobra.Command {
	var size int
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Generate a Standard Webhooks signing secret for a destination",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := signature.GenerateSecret(size)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), secret.String())
			return nil
		},
	}
	cmd.Flags().IntVar(&size, "bytes", 32, "secret size in bytes")
	return cmd
}
