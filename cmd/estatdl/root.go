package main

import (
	"github.com/spf13/cobra"
)

const version = "0.2.0"

var cfgPath string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "estatdl",
		Short:        "Download statistical data from e-Stat",
		Long:         "estatdl reads a CSV manifest of e-Stat dataset URLs, downloads each file\nconcurrently, converts text payloads to UTF-8 and can fetch per-table\nmetadata from the e-Stat REST API.",
		Version:      version,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file (default estatdl.yaml if present)")

	cmd.AddCommand(newDownloadCmd())
	cmd.AddCommand(newMetadataCmd())
	cmd.AddCommand(newValidateCmd())

	return cmd
}
