package domain

import "errors"

// ErrAPIKeyMissing indicates the metadata mode was started without an API key
var ErrAPIKeyMissing = errors.New("e-Stat API key is not configured")

// ErrNoEntries indicates a manifest with zero valid rows for the requested mode
var ErrNoEntries = errors.New("no valid entries found")
