// Package manifest loads and validates the CSV manifest listing download
// targets. A structurally broken manifest (unreadable file, missing required
// columns) is a fatal error; a bad individual row is recorded and skipped.
package manifest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sjhoshi/estatdl/internal/domain"
	"github.com/sjhoshi/estatdl/internal/textenc"
)

const (
	colURL        = "url"
	colFormat     = "format"
	colID         = "stats_data_id"
	colTitle      = "title"
	colSurveyDate = "dataset__title__survey_date"
)

var requiredColumns = []string{colURL, colFormat, colID}

// Stem returns the manifest file name without directory or extension; the
// fetchers use it as the per-manifest output subdirectory.
func Stem(path string) string {
	base := filepath.Base(path)
	if base == "." || base == string(filepath.Separator) {
		return ""
	}
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Load reads the manifest at path and validates every row.
func Load(path string) (*domain.ValidationResult, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	// The manifest itself may arrive in Shift_JIS, same as the payloads.
	decoded, _, encErr := textenc.ToUTF8(raw)
	if errors.Is(encErr, textenc.ErrUnknownEncoding) {
		return nil, fmt.Errorf("manifest %s: unreadable encoding", path)
	}

	return parse(strings.NewReader(string(decoded)))
}

func parse(r io.Reader) (*domain.ValidationResult, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read manifest header: %w", err)
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.TrimSpace(strings.ToLower(name))] = i
	}

	var missing []string
	for _, name := range requiredColumns {
		if _, ok := cols[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required columns: %s", strings.Join(missing, ", "))
	}

	result := &domain.ValidationResult{}
	row := 0
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		row++
		if err != nil {
			result.InvalidRows = append(result.InvalidRows, domain.InvalidRow{
				Row: row, Reason: err.Error(),
			})
			continue
		}

		entry, err := entryFromRecord(record, cols)
		if err != nil {
			result.InvalidRows = append(result.InvalidRows, domain.InvalidRow{
				Row: row, Reason: err.Error(),
			})
			continue
		}

		if entry.IsMetadata() {
			result.DBEntries = append(result.DBEntries, entry)
		} else {
			result.URLEntries = append(result.URLEntries, entry)
		}
	}

	return result, nil
}

func entryFromRecord(record []string, cols map[string]int) (domain.Entry, error) {
	field := func(name string) string {
		i, ok := cols[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	format, err := domain.ParseFormat(field(colFormat))
	if err != nil {
		return domain.Entry{}, err
	}

	entry := domain.Entry{
		URL:         field(colURL),
		Format:      format,
		StatsDataID: field(colID),
		Title:       field(colTitle),
		SurveyDate:  field(colSurveyDate),
	}

	if err := entry.Validate(); err != nil {
		return domain.Entry{}, err
	}
	return entry, nil
}
