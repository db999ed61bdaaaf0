package models

import "time"

// WorkItem represents a URL and its depth handed to a worker
type WorkItem struct {
	URL     string // Canonical form; the frontier only hands out canonical URLs
	Depth   int
	Attempt int // 0 on first dispatch, >0 when re-offered by the retry controller
}

// URLRecord tracks a single discovered URL. The canonical URL string is the
// record's identity; the frontier's record map never holds two records for
// the same canonical form.
type URLRecord struct {
	URL          string    `json:"url"`
	Domain       string    `json:"domain"`
	Depth        int       `json:"depth"`
	ParentURL    string    `json:"parent_url,omitempty"`
	DiscoveredAt time.Time `json:"discovered_at"`
	Status       URLStatus `json:"status"`
	Reason       string    `json:"reason,omitempty"` // Audit reason for skipped/failed records
}

// RetryTicket schedules a delayed re-attempt for a URL whose fetch failed.
// Owned by the retry controller; handed to the frontier by value only.
type RetryTicket struct {
	URL          string    `json:"url"`
	Depth        int       `json:"depth"`
	Attempts     int       `json:"attempts"`
	NextEligible time.Time `json:"next_eligible"`
	LastError    string    `json:"last_error,omitempty"` // Categorized error kind of the last failure
}

// Counters aggregates crawl progress numbers. The snapshot is the
// authoritative owner; workers report deltas through the engine.
type Counters struct {
	Discovered int `json:"discovered"`
	Fetched    int `json:"fetched"`
	Failed     int `json:"failed"`
	Skipped    int `json:"skipped"`
	Retried    int `json:"retried"`
}

// SnapshotSchemaVersion tags persisted snapshots so incompatible files are
// rejected cleanly on load rather than misread.
const SnapshotSchemaVersion = 1

// CrawlSnapshot is the serializable projection of crawl progress written by
// the state store and read once at startup to rebuild the frontier.
type CrawlSnapshot struct {
	SchemaVersion int                  `json:"schema_version"`
	SessionID     string               `json:"session_id"`
	SeedURL       string               `json:"seed_url"`
	StartedAt     time.Time            `json:"started_at"`
	SavedAt       time.Time            `json:"saved_at"`
	Final         bool                 `json:"final"`
	Visited       []URLRecord          `json:"visited"`
	Pending       []WorkItem           `json:"pending"`
	DomainClocks  map[string]time.Time `json:"domain_clocks"`
	RetryTickets  []RetryTicket        `json:"retry_tickets"`
	Counters      Counters             `json:"counters"`
}

// FetchAudit records the outcome of a single fetch attempt for a URL,
// persisted to the audit store independently of the snapshot.
type FetchAudit struct {
	Status        URLStatus `json:"status"`
	StatusCode    int       `json:"status_code,omitempty"`
	ContentType   string    `json:"content_type,omitempty"`
	ContentLength int64     `json:"content_length,omitempty"`
	ResponseTime  int64     `json:"response_time_ms,omitempty"`
	ErrorKind     string    `json:"error_kind,omitempty"`
	Attempts      int       `json:"attempts"`
	Rendered      bool      `json:"rendered,omitempty"`
	FetchedAt     time.Time `json:"fetched_at"`
}
