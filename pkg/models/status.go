package models

// URLStatus represents the lifecycle state of a discovered URL
type URLStatus string

const (
	URLStatusUnset    URLStatus = ""          // Zero value = unset/unknown
	URLStatusPending  URLStatus = "pending"   // Discovered, waiting in the frontier queue
	URLStatusInFlight URLStatus = "in_flight" // Handed to a worker, fetch in progress
	URLStatusDone     URLStatus = "done"      // Fetched and processed successfully
	URLStatusFailed   URLStatus = "failed"    // Terminal failure (retries exhausted or non-retryable)
	URLStatusSkipped  URLStatus = "skipped"   // Excluded by policy, depth, or URL cap; never fetched
)

// String implements fmt.Stringer for logging
func (s URLStatus) String() string {
	if s == "" {
		return "unset"
	}
	return string(s)
}

// IsValid returns true if the status is a known operational value
func (s URLStatus) IsValid() bool {
	switch s {
	case URLStatusPending, URLStatusInFlight, URLStatusDone, URLStatusFailed, URLStatusSkipped:
		return true
	}
	return false
}

// IsTerminal returns true if no further transition is possible from the status
func (s URLStatus) IsTerminal() bool {
	switch s {
	case URLStatusDone, URLStatusFailed, URLStatusSkipped:
		return true
	}
	return false
}
