package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sjhoshi/estatdl/internal/manifest"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <manifest.csv>",
		Short: "Validate a manifest without downloading anything",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := manifest.Load(args[0])
			if err != nil {
				return err
			}
			printValidation(result)
			if n := len(result.InvalidRows); n > 0 {
				return fmt.Errorf("%d manifest rows were invalid", n)
			}
			return nil
		},
	}
}
