package main

import (
	"fmt"

	"github.com/sjhoshi/estatdl/internal/domain"
)

// The summary is the tool's stdout contract: validation counts first, then
// one line per outcome, mirroring the manifest order.

func printValidation(r *domain.ValidationResult) {
	fmt.Printf("Valid entries: %d (%d download, %d metadata)\n",
		r.Valid(), len(r.URLEntries), len(r.DBEntries))

	if len(r.InvalidRows) > 0 {
		fmt.Printf("\nInvalid rows:\n")
		for _, row := range r.InvalidRows {
			fmt.Printf("  row %d: %s\n", row.Row, row.Reason)
		}
	}
}

func printDownloadResult(r *domain.DownloadResult) {
	if len(r.Successful) > 0 {
		fmt.Printf("\nSuccessfully downloaded %d files:\n", len(r.Successful))
		for _, path := range r.Successful {
			fmt.Printf("  + %s\n", path)
		}
	}

	for _, w := range r.Warnings {
		fmt.Printf("  warning: %s\n", w)
	}

	printFailures(r.Failed, "download")
}

func printMetadataResult(r *domain.MetadataResult) {
	if len(r.Successful) > 0 {
		fmt.Printf("\nSuccessfully fetched %d metadata files:\n", len(r.Successful))
		for _, path := range r.Successful {
			fmt.Printf("  + %s\n", path)
		}
	}

	printFailures(r.Failed, "fetch")
}

func printFailures(failed []domain.Failure, verb string) {
	if len(failed) == 0 {
		return
	}
	fmt.Printf("\nFailed to %s %d entries:\n", verb, len(failed))
	for _, f := range failed {
		if f.StatusCode != 0 {
			fmt.Printf("  - %s (status %d): %s\n", f.Entry.StatsDataID, f.StatusCode, f.Reason)
		} else {
			fmt.Printf("  - %s: %s\n", f.Entry.StatsDataID, f.Reason)
		}
	}
}
