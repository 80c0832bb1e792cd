// Package metadata fans out keyed API requests for the manifest's DB
// entries, one JSON document per table, with the same bounded-concurrency
// and failure-isolation contract as the download pool.
package metadata

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sjhoshi/estatdl/internal/domain"
	"github.com/sjhoshi/estatdl/internal/estat"
	"github.com/sjhoshi/estatdl/internal/fetch"
	"github.com/sjhoshi/estatdl/internal/infra/logger"
	"github.com/sjhoshi/estatdl/internal/manifest"
	"github.com/sjhoshi/estatdl/internal/progress"
)

type Options struct {
	// OutputDir is the base directory for metadata files.
	OutputDir string

	// MaxConcurrent bounds in-flight API requests. Default: 5.
	MaxConcurrent int

	// Retries is the per-entry retry budget for transient failures.
	// Default: 3.
	Retries int

	// Reporter receives per-entry progress events. Optional.
	Reporter *progress.Reporter
}

type Fetcher struct {
	client *estat.Client
	log    *logger.Logger
	opts   Options

	backoffUnit time.Duration
}

func New(client *estat.Client, log *logger.Logger, opts Options) *Fetcher {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 5
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	return &Fetcher{client: client, log: log, opts: opts, backoffUnit: time.Second}
}

// Run fetches metadata for every entry. Each goroutine owns one
// index-aligned slot, so the aggregate keeps manifest order and needs no
// locking. Individual failures are recorded, never propagated: the group
// only stops early on context cancellation.
func (f *Fetcher) Run(ctx context.Context, entries []domain.Entry, manifestName string) (*domain.MetadataResult, error) {
	result := &domain.MetadataResult{}
	if len(entries) == 0 {
		return result, nil
	}

	baseDir := f.opts.OutputDir
	if stem := manifest.Stem(manifestName); stem != "" {
		baseDir = filepath.Join(baseDir, stem)
	}
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	type slot struct {
		path    string
		failure *domain.Failure
	}
	slots := make([]slot, len(entries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.opts.MaxConcurrent)

	for i, entry := range entries {
		i, entry := i, entry
		g.Go(func() error {
			if f.opts.Reporter != nil {
				f.opts.Reporter.Began()
			}
			path, err := f.fetchOne(gctx, baseDir, entry)
			if err != nil {
				slots[i].failure = &domain.Failure{
					Entry:      entry,
					StatusCode: fetch.StatusCode(err),
					Reason:     err.Error(),
				}
				f.log.Error("metadata failed %s: %v", entry.StatsDataID, err)
			} else {
				slots[i].path = path
				f.log.Info("metadata finished %s -> %s", entry.StatsDataID, path)
			}
			if f.opts.Reporter != nil {
				f.opts.Reporter.Finished(err == nil)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return result, err
	}
	if err := ctx.Err(); err != nil {
		return result, err
	}

	for _, s := range slots {
		if s.failure != nil {
			result.Failed = append(result.Failed, *s.failure)
		} else if s.path != "" {
			result.Successful = append(result.Successful, s.path)
		}
	}
	return result, nil
}

// fetchOne retries transient API failures in place; the schedule matches
// the download pool (2s/4s/8s by default).
func (f *Fetcher) fetchOne(ctx context.Context, baseDir string, entry domain.Entry) (string, error) {
	var body []byte
	var err error

	for attempt := 0; ; attempt++ {
		body, err = f.client.MetaInfo(ctx, entry.StatsDataID)
		if err == nil || !fetch.Retryable(err) || attempt >= f.opts.Retries {
			break
		}

		delay := time.Duration(math.Pow(2, float64(attempt+1))) * f.backoffUnit
		f.log.Warn("retry metadata %s: attempt %d/%d in %v - %v",
			entry.StatsDataID, attempt+1, f.opts.Retries, delay, err)

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}
	}
	if err != nil {
		return "", err
	}

	final := filepath.Join(baseDir, entry.Filename())
	tmp := final + ".part"
	if err := os.WriteFile(tmp, body, 0644); err != nil {
		return "", fmt.Errorf("write metadata: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("finalize %s: %w", entry.Filename(), err)
	}
	return final, nil
}
