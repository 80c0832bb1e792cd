package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sjhoshi/estatdl/internal/domain"
	"github.com/sjhoshi/estatdl/internal/estat"
	"github.com/sjhoshi/estatdl/internal/fetch"
	"github.com/sjhoshi/estatdl/internal/infra/config"
	"github.com/sjhoshi/estatdl/internal/infra/logger"
	"github.com/sjhoshi/estatdl/internal/manifest"
	"github.com/sjhoshi/estatdl/internal/metadata"
	"github.com/sjhoshi/estatdl/internal/progress"
)

func newMetadataCmd() *cobra.Command {
	var (
		outputDir     string
		maxConcurrent int
	)

	cmd := &cobra.Command{
		Use:   "metadata <manifest.csv>",
		Short: "Fetch e-Stat metadata for the manifest's DB entries",
		Long:  "Fetch per-table metadata from the e-Stat REST API for every DB row in the\nmanifest. Requires an API key in ESTAT_API_KEY.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("output-dir") {
				cfg.OutputDir = outputDir
			}
			if cmd.Flags().Changed("max-concurrent") {
				cfg.Metadata.MaxConcurrent = maxConcurrent
			}
			return runMetadata(cmd.Context(), cfg, args[0])
		},
	}

	cmd.Flags().StringVarP(&outputDir, "output-dir", "o", "tmp_dl", "directory to save metadata files")
	cmd.Flags().IntVarP(&maxConcurrent, "max-concurrent", "c", 5, "maximum number of concurrent API requests")

	return cmd
}

func runMetadata(ctx context.Context, cfg *config.Config, manifestPath string) error {
	log, err := logger.New(logger.ParseLevel(cfg.Log.Level), cfg.Log.Path)
	if err != nil {
		return err
	}

	client, err := estat.New(fetch.NewClient(fetch.Options{Timeout: cfg.Metadata.Timeout}), estat.Options{
		BaseURL:    cfg.API.BaseURL,
		AppID:      cfg.API.Key,
		RatePerSec: cfg.API.Rate,
	})
	if errors.Is(err, domain.ErrAPIKeyMissing) {
		return fmt.Errorf("%w (set ESTAT_API_KEY)", err)
	}
	if err != nil {
		return err
	}

	validation, err := manifest.Load(manifestPath)
	if err != nil {
		return err
	}
	printValidation(validation)

	entries := validation.DBEntries
	if len(entries) == 0 {
		return fmt.Errorf("%w: manifest has no DB rows", domain.ErrNoEntries)
	}

	reporter := progress.New(nil, len(entries), 0)
	reporter.Start()

	fetcher := metadata.New(client, log, metadata.Options{
		OutputDir:     cfg.OutputDir,
		MaxConcurrent: cfg.Metadata.MaxConcurrent,
		Retries:       cfg.Download.Retries,
		Reporter:      reporter,
	})

	result, runErr := fetcher.Run(ctx, entries, filepath.Base(manifestPath))
	reporter.Stop()
	printMetadataResult(result)

	if runErr != nil {
		return runErr
	}
	return exitStatus(cfg, len(result.Failed), len(entries), len(validation.InvalidRows))
}
