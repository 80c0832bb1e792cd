package domain

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

type FileFormat string

const (
	FormatCSV FileFormat = "CSV"
	FormatXLS FileFormat = "XLS"
	FormatDB  FileFormat = "DB"
)

// statsDataIDPattern matches the numeric table IDs e-Stat hands out.
// Older tables use 10 digits, newer ones 12.
var statsDataIDPattern = regexp.MustCompile(`^\d{10}(\d{2})?$`)

func ParseFormat(s string) (FileFormat, error) {
	switch FileFormat(strings.ToUpper(strings.TrimSpace(s))) {
	case FormatCSV:
		return FormatCSV, nil
	case FormatXLS:
		return FormatXLS, nil
	case FormatDB:
		return FormatDB, nil
	}
	return "", fmt.Errorf("format must be CSV, XLS or DB, got %q", s)
}

// Entry is one row of the manifest. Identity is StatsDataID.
// Entries are immutable once produced by the manifest loader.
type Entry struct {
	URL         string
	Format      FileFormat
	StatsDataID string
	Title       string
	SurveyDate  string
}

// IsMetadata reports whether the entry targets the metadata API
// instead of a direct file download.
func (e Entry) IsMetadata() bool { return e.Format == FormatDB }

// Filename derives the deterministic output name for the entry.
func (e Entry) Filename() string {
	switch e.Format {
	case FormatXLS:
		return e.StatsDataID + ".xlsx"
	case FormatDB:
		return e.StatsDataID + ".meta.json"
	default:
		return e.StatsDataID + ".csv"
	}
}

// Validate checks the per-row invariants. The manifest loader records the
// returned error as a row validation failure, it never aborts the run.
func (e Entry) Validate() error {
	if e.StatsDataID == "" {
		return fmt.Errorf("stats_data_id cannot be empty")
	}
	if !statsDataIDPattern.MatchString(e.StatsDataID) {
		return fmt.Errorf("stats_data_id must be a 10 or 12-digit number")
	}

	if e.IsMetadata() {
		// DB rows carry the table ID in the url column.
		if !statsDataIDPattern.MatchString(strings.TrimSpace(e.URL)) {
			return fmt.Errorf("DB entries must carry a 10 or 12-digit ID in the url column")
		}
		return nil
	}

	u, err := url.Parse(e.URL)
	if err != nil {
		return fmt.Errorf("invalid URL: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL must use http or https")
	}
	host := u.Hostname()
	if host != "e-stat.go.jp" && !strings.HasSuffix(host, ".e-stat.go.jp") {
		return fmt.Errorf("URL must be from e-stat.go.jp domain")
	}
	return nil
}
