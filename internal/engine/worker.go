package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/sjhoshi/estatdl/internal/domain"
	"github.com/sjhoshi/estatdl/internal/textenc"
)

// worker pulls jobs until the pool context is cancelled.
func (e *Engine) worker(ctx context.Context, baseDir string, jobs <-chan job, results chan<- jobResult) {
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-jobs:
			if !ok {
				return
			}
			if e.opts.Reporter != nil && j.retry == 0 {
				e.opts.Reporter.Began()
			}
			path, warning, err := e.processEntry(ctx, baseDir, j.entry)
			select {
			case <-ctx.Done():
				return
			case results <- jobResult{job: j, path: path, warning: warning, err: err}:
			}
		}
	}
}

// processEntry fetches one entry. The payload streams into a run-scoped
// .part file which is renamed into place only after the whole pipeline
// succeeded, so a mid-stream failure leaves nothing behind.
func (e *Engine) processEntry(ctx context.Context, baseDir string, entry domain.Entry) (string, string, error) {
	dir := baseDir
	if entry.SurveyDate != "" {
		dir = filepath.Join(dir, sanitizeComponent(entry.SurveyDate))
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", "", fmt.Errorf("create output dir: %w", err)
	}

	final := filepath.Join(dir, entry.Filename())
	tmp := fmt.Sprintf("%s.%s.part", final, e.runID)

	f, err := os.Create(tmp)
	if err != nil {
		return "", "", fmt.Errorf("create temp file: %w", err)
	}

	_, err = e.client.Download(ctx, entry.URL, f)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("close temp file: %w", cerr)
	}
	if err != nil {
		os.Remove(tmp)
		return "", "", err
	}

	var warning string
	if entry.Format == domain.FormatCSV {
		warning, err = e.transcodeCSV(tmp, entry)
		if err != nil {
			os.Remove(tmp)
			return "", "", err
		}
	}

	// Overwrites any previous run's output for the same entry.
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return "", "", fmt.Errorf("finalize %s: %w", entry.Filename(), err)
	}

	return final, warning, nil
}

// transcodeCSV rewrites the temp file as UTF-8. A payload whose encoding
// cannot be determined is kept byte-for-byte and reported as a warning,
// not a failure.
func (e *Engine) transcodeCSV(tmp string, entry domain.Entry) (string, error) {
	raw, err := os.ReadFile(tmp)
	if err != nil {
		return "", fmt.Errorf("read back payload: %w", err)
	}

	decoded, name, encErr := textenc.ToUTF8(raw)
	if encErr != nil {
		e.log.Warn("[%s] %s: encoding not detected, keeping raw bytes", e.runID, entry.StatsDataID)
		return fmt.Sprintf("%s: encoding not detected, kept raw bytes", entry.StatsDataID), nil
	}

	if name != textenc.NameUTF8 {
		if err := os.WriteFile(tmp, decoded, 0644); err != nil {
			return "", fmt.Errorf("write transcoded payload: %w", err)
		}
	}
	return "", nil
}

var unsafePathChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)

// sanitizeComponent makes a manifest field safe to use as a single
// directory name.
func sanitizeComponent(name string) string {
	name = unsafePathChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, ". ")
	if name == "" {
		return "_"
	}
	return name
}
