package main

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/marcelsud/webhook-relay/destinations"
	"github.com/spf13/cobra"
)

/* validate checks a destinations file without starting anything
 * Usage: relay validate [destinations.yaml]
 * Exit codes: 0 = valid, 1 = invalid
 */
func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [destinations.yaml]",
		Short: "Validate a destinations file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "destinations.yaml"
			if len(args) > 0 {
				path = args[0]
			}
			return validateFile(cmd.OutOrStdout(), path)
		},
	}
}

func validateFile(out io.Writer, path string) error {
	fmt.Fprintf(out, "Validating destinations file: %s\n\n", path)

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading destinations file: %w", err)
	}
	fallback, sets, err := destinations.Parse(data)
	if err != nil {
		fmt.Fprintf(out, "VALIDATION FAILED\n\n")
		return err
	}

	fmt.Fprintf(out, "VALIDATION PASSED\n")
	if fallback != nil {
		printSet(out, "default", *fallback)
	}
	keys := make([]string, 0, len(sets))
	for k := range sets {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		printSet(out, k, sets[k])
	}
	return nil
}

func printSet(out io.Writer, key string, set destinations.Set) {
	fmt.Fprintf(out, "\nWebhook: %s\n", key)
	for i, d := range set.Destinations {
		fmt.Fprintf(out, "  %d. %s\n", i+1, d.Name)
		fmt.Fprintf(out, "     URL:     %s\n", d.URL)
		fmt.Fprintf(out, "     Timeout: %s\n", d.EffectiveTimeout())
		if d.Ping {
			fmt.Fprintf(out, "     Ping:    %s\n", d.ProbeURL())
		}
		if d.SigningSecret != "" {
			fmt.Fprintf(out, "     Signed:  yes\n")
		}
	}
	for _, r := range set.Rules {
		fmt.Fprintf(out, "  rule: %s -> %s\n", r.Source, r.Destination)
		if _, ok := set.Destination(r.Destination); !ok {
			fmt.Fprintf(out, "  warning: no destination named %s\n", r.Destination)
		}
	}
}
