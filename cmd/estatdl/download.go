package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/sjhoshi/estatdl/internal/domain"
	"github.com/sjhoshi/estatdl/internal/engine"
	"github.com/sjhoshi/estatdl/internal/fetch"
	"github.com/sjhoshi/estatdl/internal/infra/config"
	"github.com/sjhoshi/estatdl/internal/infra/logger"
	"github.com/sjhoshi/estatdl/internal/manifest"
	"github.com/sjhoshi/estatdl/internal/progress"
)

func newDownloadCmd() *cobra.Command {
	var (
		outputDir     string
		maxConcurrent int
		timeout       time.Duration
		strict        bool
	)

	cmd := &cobra.Command{
		Use:   "download <manifest.csv>",
		Short: "Download the dataset files listed in a CSV manifest",
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
				cfg.Download.MaxConcurrent = maxConcurrent
			}
			if cmd.Flags().Changed("timeout") {
				cfg.Download.Timeout = timeout
			}
			if cmd.Flags().Changed("strict") {
				cfg.Strict = strict
			}
			return runDownload(cmd.Context(), cfg, args[0])
		},
	}

	cmd.Flags().StringVarP(&outputDir, "output-dir", "o", "tmp_dl", "directory to save downloaded files")
	cmd.Flags().IntVarP(&maxConcurrent, "max-concurrent", "c", 4, "maximum number of concurrent downloads")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "per-download timeout")
	cmd.Flags().BoolVar(&strict, "strict", true, "exit non-zero when the manifest has invalid rows")

	return cmd
}

func runDownload(ctx context.Context, cfg *config.Config, manifestPath string) error {
	log, err := logger.New(logger.ParseLevel(cfg.Log.Level), cfg.Log.Path)
	if err != nil {
		return err
	}

	validation, err := manifest.Load(manifestPath)
	if err != nil {
		return err
	}
	printValidation(validation)

	entries := validation.URLEntries
	if len(entries) == 0 {
		return fmt.Errorf("%w in %s", domain.ErrNoEntries, manifestPath)
	}

	reporter := progress.New(nil, len(entries), 0)
	reporter.Start()

	client := fetch.NewClient(fetch.Options{Timeout: cfg.Download.Timeout})
	eng := engine.New(client, log, engine.Options{
		OutputDir:     cfg.OutputDir,
		MaxConcurrent: cfg.Download.MaxConcurrent,
		Retries:       cfg.Download.Retries,
		Reporter:      reporter,
	})

	result, runErr := eng.Download(ctx, entries, filepath.Base(manifestPath))
	reporter.Stop()
	printDownloadResult(result)

	if runErr != nil {
		return runErr
	}
	return exitStatus(cfg, len(result.Failed), len(entries), len(validation.InvalidRows))
}

// exitStatus turns counts into the process exit policy: any failed entry is
// an error, and with strict mode invalid manifest rows are too.
func exitStatus(cfg *config.Config, failed, total, invalidRows int) error {
	if failed > 0 {
		return fmt.Errorf("%d of %d entries failed", failed, total)
	}
	if cfg.Strict && invalidRows > 0 {
		return fmt.Errorf("%d manifest rows were invalid", invalidRows)
	}
	return nil
}
