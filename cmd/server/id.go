package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"assessgate/internal/identifier"
)

func idCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "id",
		Short: "Generate and normalize diagnosis identifiers",
	}
	cmd.AddCommand(idGenerateCmd())
	cmd.AddCommand(idNormalizeCmd())
	return cmd
}

func idGenerateCmd() *cobra.Command {
	var (
		prefix string
		count  int
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Print new diagnosis identifiers",
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := identifier.ParsePrefixKind(prefix)
			if err != nil {
				return err
			}
			if count < 1 {
				return errors.New("--count must be at least 1")
			}
			ids := identifier.New()
			for range count {
				fmt.Fprintln(cmd.OutOrStdout(), ids.Generate(kind))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&prefix, "prefix", "primary", "prefix scheme: primary or legacy")
	cmd.Flags().IntVarP(&count, "count", "n", 1, "number of identifiers to print")
	return cmd
}

func idNormalizeCmd() *cobra.Command {
	var prefix string
	cmd := &cobra.Command{
		Use:   "normalize <id>...",
		Short: "Map identifiers onto the canonical scheme",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := identifier.ParsePrefixKind(prefix)
			if err != nil {
				return err
			}
			for _, raw := range args {
				if !identifier.Valid(raw) {
					return fmt.Errorf("invalid identifier %q", raw)
				}
				fmt.Fprintln(cmd.OutOrStdout(), identifier.Normalize(raw, kind))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&prefix, "prefix", "primary", "prefix scheme: primary or legacy")
	return cmd
}
