package engine

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/sjhoshi/estatdl/internal/domain"
	"github.com/sjhoshi/estatdl/internal/fetch"
	"github.com/sjhoshi/estatdl/internal/infra/logger"
)

func testEngine(t *testing.T, opts Options) *Engine {
	t.Helper()
	client := fetch.NewClient(fetch.Options{Timeout: 10 * time.Second})
	e := New(client, logger.NewWriter(io.Discard, logger.LevelError), opts)
	e.backoffUnit = time.Millisecond
	return e
}

func csvEntry(id, url string) domain.Entry {
	return domain.Entry{URL: url, Format: domain.FormatCSV, StatsDataID: id}
}

func TestDownloadTwoEntries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "col_a,col_b\n1,2\n")
	}))
	defer srv.Close()

	outDir := t.TempDir()
	e := testEngine(t, Options{OutputDir: outDir, MaxConcurrent: 2})

	entries := []domain.Entry{
		csvEntry("0000000001", srv.URL+"/a"),
		csvEntry("0000000002", srv.URL+"/b"),
	}

	result, err := e.Download(context.Background(), entries, "urls.csv")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Successful) != 2 {
		t.Fatalf("expected 2 successes, got %d (failed: %v)", len(result.Successful), result.Failed)
	}

	// Output lands under <output>/<manifest stem>/ and keeps input order.
	want := filepath.Join(outDir, "urls", "0000000001.csv")
	if result.Successful[0] != want {
		t.Errorf("successful[0] = %q, want %q", result.Successful[0], want)
	}
	for _, p := range result.Successful {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("missing output file %s: %v", p, err)
		}
	}
}

func TestDownloadFailureIsolation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/missing") {
			http.NotFound(w, r)
			return
		}
		io.WriteString(w, "a,b\n1,2\n")
	}))
	defer srv.Close()

	e := testEngine(t, Options{OutputDir: t.TempDir(), MaxConcurrent: 3})
	entries := []domain.Entry{
		csvEntry("0000000001", srv.URL+"/ok1"),
		csvEntry("0000000002", srv.URL+"/missing"),
		csvEntry("0000000003", srv.URL+"/ok2"),
	}

	result, err := e.Download(context.Background(), entries, "m.csv")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Successful) != 2 {
		t.Errorf("expected 2 successes, got %d", len(result.Successful))
	}
	if len(result.Failed) != 1 {
		t.Fatalf("expected 1 failure, got %d", len(result.Failed))
	}
	if result.Failed[0].Entry.StatsDataID != "0000000002" {
		t.Errorf("failed entry = %s", result.Failed[0].Entry.StatsDataID)
	}
	if result.Failed[0].StatusCode != http.StatusNotFound {
		t.Errorf("failure status = %d", result.Failed[0].StatusCode)
	}
}

func TestDownloadRetriesTransientFailure(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		io.WriteString(w, "a,b\n1,2\n")
	}))
	defer srv.Close()

	e := testEngine(t, Options{OutputDir: t.TempDir(), MaxConcurrent: 1, Retries: 3})
	result, err := e.Download(context.Background(),
		[]domain.Entry{csvEntry("0000000001", srv.URL)}, "m.csv")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Failed) != 0 {
		t.Fatalf("503-then-200 must succeed, got failures: %v", result.Failed)
	}
	if len(result.Successful) != 1 {
		t.Fatalf("expected 1 success, got %d", len(result.Successful))
	}
	if hits.Load() != 2 {
		t.Errorf("expected 2 requests, got %d", hits.Load())
	}
}

func TestDownloadTerminal4xxIsNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	e := testEngine(t, Options{OutputDir: t.TempDir(), MaxConcurrent: 1, Retries: 3})
	result, err := e.Download(context.Background(),
		[]domain.Entry{csvEntry("0000000001", srv.URL)}, "m.csv")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Failed) != 1 {
		t.Fatalf("expected 1 failure, got %v", result)
	}
	if hits.Load() != 1 {
		t.Errorf("403 must not be retried, saw %d requests", hits.Load())
	}
}

func TestConcurrencyBound(t *testing.T) {
	const limit = 2
	var inFlight, peak atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		io.WriteString(w, "a\n1\n")
	}))
	defer srv.Close()

	e := testEngine(t, Options{OutputDir: t.TempDir(), MaxConcurrent: limit})
	var entries []domain.Entry
	for i := 0; i < 8; i++ {
		entries = append(entries, csvEntry(fmt.Sprintf("%010d", i+1), srv.URL+fmt.Sprintf("/%d", i)))
	}

	result, err := e.Download(context.Background(), entries, "m.csv")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Successful) != 8 {
		t.Fatalf("expected 8 successes, got %d", len(result.Successful))
	}
	if got := peak.Load(); got > limit {
		t.Errorf("peak in-flight = %d, limit %d", got, limit)
	}
}

func TestDownloadTranscodesShiftJIS(t *testing.T) {
	// "テスト,データ,123" in Shift_JIS.
	payload := []byte("\x83\x65\x83\x58\x83\x67,\x83\x66\x81\x5b\x83\x5e,123")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer srv.Close()

	e := testEngine(t, Options{OutputDir: t.TempDir(), MaxConcurrent: 1})
	result, err := e.Download(context.Background(),
		[]domain.Entry{csvEntry("0000000001", srv.URL)}, "m.csv")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Successful) != 1 {
		t.Fatalf("expected success, got %v", result.Failed)
	}

	got, err := os.ReadFile(result.Successful[0])
	if err != nil {
		t.Fatal(err)
	}
	if !utf8.Valid(got) {
		t.Fatal("output is not valid UTF-8")
	}
	if string(got) != "テスト,データ,123" {
		t.Errorf("transcoded payload = %q", got)
	}
}

func TestDownloadUndetectableEncodingIsWarningNotFailure(t *testing.T) {
	payload := []byte{0x80, 0x81, 0xfd, 0xfe, 0xff, 0x80, 0x9f, 0xfd}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer srv.Close()

	e := testEngine(t, Options{OutputDir: t.TempDir(), MaxConcurrent: 1})
	result, err := e.Download(context.Background(),
		[]domain.Entry{csvEntry("0000000001", srv.URL)}, "m.csv")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Failed) != 0 || len(result.Successful) != 1 {
		t.Fatalf("undetectable encoding must not fail the entry: %v", result)
	}
	if len(result.Warnings) != 1 {
		t.Fatalf("expected 1 warning, got %v", result.Warnings)
	}

	// Raw bytes are kept untouched.
	got, err := os.ReadFile(result.Successful[0])
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(payload) {
		t.Errorf("payload was modified: %v", got)
	}
}

func TestDownloadSurveyDateSubdir(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "a\n1\n")
	}))
	defer srv.Close()

	outDir := t.TempDir()
	e := testEngine(t, Options{OutputDir: outDir, MaxConcurrent: 1})

	entry := csvEntry("0000000001", srv.URL)
	entry.SurveyDate = "2022-04"

	result, err := e.Download(context.Background(), []domain.Entry{entry}, "m.csv")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := filepath.Join(outDir, "m", "2022-04", "0000000001.csv")
	if len(result.Successful) != 1 || result.Successful[0] != want {
		t.Fatalf("successful = %v, want [%s]", result.Successful, want)
	}
}

func TestDownloadOverwritesExisting(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "fresh\n")
	}))
	defer srv.Close()

	outDir := t.TempDir()
	stale := filepath.Join(outDir, "m", "0000000001.csv")
	if err := os.MkdirAll(filepath.Dir(stale), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(stale, []byte("stale\n"), 0644); err != nil {
		t.Fatal(err)
	}

	e := testEngine(t, Options{OutputDir: outDir, MaxConcurrent: 1})
	if _, err := e.Download(context.Background(),
		[]domain.Entry{csvEntry("0000000001", srv.URL)}, "m.csv"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := os.ReadFile(stale)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "fresh\n" {
		t.Errorf("existing file was not overwritten: %q", got)
	}
}

func TestNoTempFilesLeftBehind(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/bad") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		io.WriteString(w, "a\n1\n")
	}))
	defer srv.Close()

	outDir := t.TempDir()
	e := testEngine(t, Options{OutputDir: outDir, MaxConcurrent: 2})
	entries := []domain.Entry{
		csvEntry("0000000001", srv.URL+"/ok"),
		csvEntry("0000000002", srv.URL+"/bad"),
	}

	if _, err := e.Download(context.Background(), entries, "m.csv"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err := filepath.WalkDir(outDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if strings.HasSuffix(path, ".part") {
			t.Errorf("temp file left behind: %s", path)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestDownloadCancellation(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		io.WriteString(w, "a\n1\n")
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	e := testEngine(t, Options{OutputDir: t.TempDir(), MaxConcurrent: 2})

	done := make(chan error, 1)
	go func() {
		_, err := e.Download(ctx, []domain.Entry{
			csvEntry("0000000001", srv.URL+"/1"),
			csvEntry("0000000002", srv.URL+"/2"),
			csvEntry("0000000003", srv.URL+"/3"),
		}, "m.csv")
		done <- err
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Download did not return after cancellation")
	}
}

func TestSanitizeComponent(t *testing.T) {
	if got := sanitizeComponent("2022/04"); got != "2022_04" {
		t.Errorf("sanitizeComponent = %q", got)
	}
	if got := sanitizeComponent("..."); got != "_" {
		t.Errorf("sanitizeComponent dots = %q", got)
	}
}
