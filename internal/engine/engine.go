// Package engine runs the bounded download pool. At most MaxConcurrent
// fetches are in flight; transient failures are requeued with exponential
// backoff; one entry failing never stops the rest. Results are collected
// into index-aligned slots so the aggregate keeps manifest order no matter
// the completion order.
package engine

import (
	"context"
	"math"
	"path/filepath"
	"time"

	"github.com/segmentio/ksuid"

	"github.com/sjhoshi/estatdl/internal/domain"
	"github.com/sjhoshi/estatdl/internal/fetch"
	"github.com/sjhoshi/estatdl/internal/infra/logger"
	"github.com/sjhoshi/estatdl/internal/manifest"
	"github.com/sjhoshi/estatdl/internal/progress"
)

type Options struct {
	// OutputDir is the base directory for downloads.
	OutputDir string

	// MaxConcurrent bounds the number of in-flight fetches. Default: 4.
	MaxConcurrent int

	// Retries is the per-entry retry budget for transient failures.
	// Default: 3, giving 2s/4s/8s backoff.
	Retries int

	// Reporter receives per-entry progress events. Optional.
	Reporter *progress.Reporter
}

type Engine struct {
	client *fetch.Client
	log    *logger.Logger
	opts   Options

	// runID tags temp files and log lines for this invocation.
	runID string

	// backoffUnit is a second in production; tests shrink it.
	backoffUnit time.Duration
}

func New(client *fetch.Client, log *logger.Logger, opts Options) *Engine {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 4
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	return &Engine{
		client:      client,
		log:         log,
		opts:        opts,
		runID:       ksuid.New().String(),
		backoffUnit: time.Second,
	}
}

func (e *Engine) RunID() string { return e.runID }

type job struct {
	entry domain.Entry
	index int
	retry int
}

type jobResult struct {
	job     job
	path    string
	warning string
	err     error
}

// slot holds the terminal outcome for one entry, indexed by manifest order.
type slot struct {
	status  domain.EntryStatus
	path    string
	warning string
	failure *domain.Failure
}

// Download fetches every entry and aggregates the outcome. manifestName is
// the manifest file name; its stem becomes a subdirectory under OutputDir.
// On cancellation the partial result is returned together with ctx.Err();
// no temp files survive.
func (e *Engine) Download(ctx context.Context, entries []domain.Entry, manifestName string) (*domain.DownloadResult, error) {
	result := &domain.DownloadResult{}
	if len(entries) == 0 {
		return result, nil
	}

	baseDir := e.opts.OutputDir
	if stem := manifest.Stem(manifestName); stem != "" {
		baseDir = filepath.Join(baseDir, stem)
	}

	slots := make([]slot, len(entries))
	for i := range slots {
		slots[i].status = domain.StatusPending
	}

	// The pool context stops workers and pending retry timers once the
	// collector is done, whether by completion or cancellation. The jobs
	// channel is never closed; termination is context-driven, so a late
	// retry timer can never hit a closed channel.
	poolCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan job, len(entries)+e.opts.MaxConcurrent)
	// Sized for the worst case of every entry exhausting its budget, so
	// workers never block on the results side during shutdown.
	results := make(chan jobResult, len(entries)*(e.opts.Retries+1))

	for w := 0; w < e.opts.MaxConcurrent; w++ {
		go e.worker(poolCtx, baseDir, jobs, results)
	}

	go func() {
		for i, entry := range entries {
			select {
			case <-poolCtx.Done():
				return
			case jobs <- job{entry: entry, index: i}:
			}
		}
	}()

	completed := 0
	for completed < len(entries) {
		select {
		case <-ctx.Done():
			e.log.Warn("[%s] interrupted with %d/%d entries done", e.runID, completed, len(entries))
			e.collect(slots, result)
			return result, ctx.Err()

		case res := <-results:
			if res.err != nil && fetch.Retryable(res.err) && res.job.retry < e.opts.Retries {
				res.job.retry++
				delay := time.Duration(math.Pow(2, float64(res.job.retry))) * e.backoffUnit
				slots[res.job.index].status = domain.StatusRetryPending

				e.log.Warn("[%s] retry %s: attempt %d/%d in %v - %v",
					e.runID, res.job.entry.StatsDataID, res.job.retry, e.opts.Retries, delay, res.err)

				j := res.job
				time.AfterFunc(delay, func() {
					select {
					case <-poolCtx.Done():
					case jobs <- j:
					}
				})
				continue
			}

			s := &slots[res.job.index]
			if res.err != nil {
				s.status = domain.StatusFailed
				s.failure = &domain.Failure{
					Entry:      res.job.entry,
					StatusCode: fetch.StatusCode(res.err),
					Reason:     res.err.Error(),
				}
				e.log.Error("[%s] failed %s: %v", e.runID, res.job.entry.StatsDataID, res.err)
			} else {
				s.status = domain.StatusSucceeded
				s.path = res.path
				s.warning = res.warning
				e.log.Info("[%s] finished %s -> %s", e.runID, res.job.entry.StatsDataID, res.path)
			}
			if e.opts.Reporter != nil {
				e.opts.Reporter.Finished(res.err == nil)
			}
			completed++
		}
	}

	e.collect(slots, result)
	return result, nil
}

func (e *Engine) collect(slots []slot, result *domain.DownloadResult) {
	for _, s := range slots {
		switch s.status {
		case domain.StatusSucceeded:
			result.Successful = append(result.Successful, s.path)
			if s.warning != "" {
				result.Warnings = append(result.Warnings, s.warning)
			}
		case domain.StatusFailed:
			result.Failed = append(result.Failed, *s.failure)
		}
	}
}

