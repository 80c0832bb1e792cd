package domain

// EntryStatus tracks a single entry through the pool.
//
// Pending → InFlight → Succeeded
//                    → RetryPending → InFlight (bounded by the retry budget)
//                    → Failed
//
// Succeeded and Failed are terminal.
type EntryStatus string

const (
	StatusPending      EntryStatus = "pending"
	StatusInFlight     EntryStatus = "inflight"
	StatusRetryPending EntryStatus = "retry_pending"
	StatusSucceeded    EntryStatus = "succeeded"
	StatusFailed       EntryStatus = "failed"
)

// Terminal reports whether the status can no longer change.
func (s EntryStatus) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}
