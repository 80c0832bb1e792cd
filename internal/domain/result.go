package domain

// InvalidRow records a manifest row that failed validation.
// Row is the 1-based index of the data row (the header is row 0).
type InvalidRow struct {
	Row    int
	Reason string
}

// ValidationResult is the outcome of loading a manifest. URL and DB entries
// keep their manifest order, as do the invalid rows.
type ValidationResult struct {
	URLEntries  []Entry
	DBEntries   []Entry
	InvalidRows []InvalidRow
}

// Valid reports the number of rows that passed validation.
func (r *ValidationResult) Valid() int {
	return len(r.URLEntries) + len(r.DBEntries)
}

// Failure records one entry that could not be fetched after the retry
// budget was spent. StatusCode is 0 when the failure never got an HTTP
// response (network error, write error).
type Failure struct {
	Entry      Entry
	StatusCode int
	Reason     string
}

// DownloadResult aggregates a download run. Successful paths and failures
// preserve manifest order regardless of completion order.
type DownloadResult struct {
	Successful []string
	Failed     []Failure
	Warnings   []string
}

// MetadataResult aggregates a metadata run.
type MetadataResult struct {
	Successful []string
	Failed     []Failure
}
