package frontier

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"site-mapper/pkg/models"
	"site-mapper/pkg/parse"
	"site-mapper/pkg/utils"
)

// Dequeue outcome signals. Workers must distinguish transient unavailability
// (ErrNoWorkReady: items exist but every domain clock or retry eligibility is
// in the future) from exhaustion (ErrQueueEmpty: nothing queued at all).
var (
	ErrNoWorkReady = errors.New("frontier: no work ready")
	ErrQueueEmpty  = errors.New("frontier: queue empty")
)

// queueItem is a pending queue entry. eligibleAt is zero for first attempts
// and set to the retry ticket's next-eligible-time for re-offered URLs.
type queueItem struct {
	url        string // Canonical
	depth      int
	attempt    int
	eligibleAt time.Time
}

// Options configures a Frontier instance.
type Options struct {
	MaxDepth     int           // 0 = unbounded
	MaxURLs      int           // 0 = unbounded; cap on URLs admitted to the queue
	DefaultDelay time.Duration // Minimum gap between fetches to the same domain
}

// Frontier is the deduplicated, ordered work queue of URLs to visit. It owns
// the canonical-URL record map (the deduplication authority), the FIFO
// pending queue, and the per-domain politeness clocks. Every mutation is
// serialized under a single mutex; Dequeue removes an item and marks its
// record in_flight in one critical section so no two workers ever receive
// the same URL.
type Frontier struct {
	mu             sync.Mutex
	records        map[string]*models.URLRecord
	order          []string // Canonical URLs in discovery order, for the final report
	queue          []queueItem
	domainClocks   map[string]time.Time
	domainInFlight map[string]int
	inFlight       int
	counters     models.Counters
	admitted     int // URLs admitted to the queue across the frontier's lifetime
	closed       bool

	opts Options
	log  *logrus.Entry
}

// New creates an empty Frontier.
func New(opts Options, log *logrus.Entry) *Frontier {
	return &Frontier{
		records:        make(map[string]*models.URLRecord),
		domainClocks:   make(map[string]time.Time),
		domainInFlight: make(map[string]int),
		opts:           opts,
		log:            log,
	}
}

// Enqueue registers a discovered URL. If the canonical form is already known
// this is a no-op regardless of how many pages reference it. URLs beyond
// MaxDepth, past the MaxURLs admission cap, or discovered after Close get a
// record with status skipped (so they show up in the audit counts) but are
// never queued. Returns true if the URL was queued for fetching.
func (f *Frontier) Enqueue(rawURL string, depth int, parentURL string) (bool, error) {
	canon, parsed, err := parse.ParseAndNormalize(rawURL)
	if err != nil {
		return false, fmt.Errorf("%w: enqueue URL '%s': %w", utils.ErrParsing, rawURL, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.records[canon]; exists {
		return false, nil // Dedup: at most one record per canonical URL
	}

	rec := &models.URLRecord{
		URL:          canon,
		Domain:       parsed.Hostname(),
		Depth:        depth,
		ParentURL:    parentURL,
		DiscoveredAt: time.Now(),
		Status:       models.URLStatusPending,
	}
	f.records[canon] = rec
	f.order = append(f.order, canon)

	if f.closed {
		rec.Status = models.URLStatusSkipped
		rec.Reason = utils.CategorizeError(utils.ErrURLLimitReached)
		f.counters.Skipped++
		f.log.WithField("url", canon).Debug("Frontier closed, discovery recorded as skipped")
		return false, nil
	}
	if f.opts.MaxDepth > 0 && depth > f.opts.MaxDepth {
		rec.Status = models.URLStatusSkipped
		rec.Reason = utils.CategorizeError(utils.ErrMaxDepthExceeded)
		f.counters.Skipped++
		f.log.WithFields(logrus.Fields{"url": canon, "depth": depth}).Debug("Discovered URL past max depth, recorded as skipped")
		return false, nil
	}
	if f.opts.MaxURLs > 0 && f.admitted >= f.opts.MaxURLs {
		rec.Status = models.URLStatusSkipped
		rec.Reason = utils.CategorizeError(utils.ErrURLLimitReached)
		f.counters.Skipped++
		f.log.WithField("url", canon).Debug("URL limit reached, recorded as skipped")
		return false, nil
	}

	f.admitted++
	f.counters.Discovered++
	f.queue = append(f.queue, queueItem{url: canon, depth: depth})
	return true, nil
}

// Dequeue returns the oldest pending URL whose domain politeness clock and
// retry eligibility have both elapsed, transitioning its record to in_flight
// atomically. FIFO-by-discovery-time is preserved: the scan skips not-ready
// items without reordering them. When a per-domain delay is configured the
// domain is reserved for the duration of the fetch: a second URL for the
// same domain is not handed out until the first completes and its clock
// elapses, so concurrent workers cannot shrink the gap between fetches.
func (f *Frontier) Dequeue(now time.Time) (models.WorkItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return models.WorkItem{}, ErrQueueEmpty
	}
	if len(f.queue) == 0 {
		return models.WorkItem{}, ErrQueueEmpty
	}

	for i, item := range f.queue {
		if !item.eligibleAt.IsZero() && now.Before(item.eligibleAt) {
			continue
		}
		rec := f.records[item.url]
		if f.opts.DefaultDelay > 0 && f.domainInFlight[rec.Domain] > 0 {
			continue
		}
		if next, ok := f.domainClocks[rec.Domain]; ok && now.Before(next) {
			continue
		}

		f.queue = append(f.queue[:i], f.queue[i+1:]...)
		rec.Status = models.URLStatusInFlight
		f.inFlight++
		f.domainInFlight[rec.Domain]++
		return models.WorkItem{URL: item.url, Depth: item.depth, Attempt: item.attempt}, nil
	}

	return models.WorkItem{}, ErrNoWorkReady
}

// advanceDomainClock pushes the domain's next-allowed-fetch-time forward by
// the greater of the configured delay and the policy-supplied crawl delay.
// Caller must hold f.mu.
func (f *Frontier) advanceDomainClock(domain string, crawlDelay time.Duration) {
	delay := f.opts.DefaultDelay
	if crawlDelay > delay {
		delay = crawlDelay
	}
	if delay > 0 {
		f.domainClocks[domain] = time.Now().Add(delay)
	}
}

// MarkDone transitions an in_flight record to done and advances the domain
// politeness clock.
func (f *Frontier) MarkDone(canonURL string, crawlDelay time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	rec, err := f.takeInFlight(canonURL)
	if err != nil {
		return err
	}
	rec.Status = models.URLStatusDone
	f.counters.Fetched++
	f.advanceDomainClock(rec.Domain, crawlDelay)
	return nil
}

// MarkFailed transitions an in_flight record to terminal failed with an
// audit reason, and advances the domain politeness clock (the request was
// still attempted).
func (f *Frontier) MarkFailed(canonURL, reason string, crawlDelay time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	rec, err := f.takeInFlight(canonURL)
	if err != nil {
		return err
	}
	rec.Status = models.URLStatusFailed
	rec.Reason = reason
	f.counters.Failed++
	f.advanceDomainClock(rec.Domain, crawlDelay)
	return nil
}

// MarkSkipped transitions an in_flight record to skipped (policy deny after
// dequeue). No network call was made, so the domain clock is untouched.
func (f *Frontier) MarkSkipped(canonURL, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	rec, err := f.takeInFlight(canonURL)
	if err != nil {
		return err
	}
	rec.Status = models.URLStatusSkipped
	rec.Reason = reason
	f.counters.Skipped++
	return nil
}

// Requeue re-offers a URL after a retryable failure. The ticket's
// next-eligible-time acts on the queue item exactly like a politeness clock:
// Dequeue will not hand the URL to any worker before it elapses. On a closed
// frontier the item would sit in a queue Dequeue no longer serves and wedge
// the completion predicate, so the record is made terminal failed instead;
// the returned bool reports whether the URL was actually re-offered.
func (f *Frontier) Requeue(ticket models.RetryTicket) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	rec, err := f.takeInFlight(ticket.URL)
	if err != nil {
		return false, err
	}
	if f.closed {
		rec.Status = models.URLStatusFailed
		rec.Reason = ticket.LastError
		f.counters.Failed++
		f.log.WithField("url", ticket.URL).Debug("Frontier closed, retry abandoned as failed")
		return false, nil
	}
	rec.Status = models.URLStatusPending
	rec.Reason = ticket.LastError
	f.counters.Retried++
	f.queue = append(f.queue, queueItem{
		url:        ticket.URL,
		depth:      ticket.Depth,
		attempt:    ticket.Attempts,
		eligibleAt: ticket.NextEligible,
	})
	f.log.WithFields(logrus.Fields{
		"url":      ticket.URL,
		"attempt":  ticket.Attempts,
		"eligible": ticket.NextEligible.Format(time.RFC3339),
	}).Debug("URL requeued for retry")
	return true, nil
}

// takeInFlight looks up a record, decrements the in-flight counts, and
// releases the domain reservation, validating the expected state transition.
// Caller must hold f.mu.
func (f *Frontier) takeInFlight(canonURL string) (*models.URLRecord, error) {
	rec, ok := f.records[canonURL]
	if !ok {
		return nil, fmt.Errorf("frontier: unknown URL '%s'", canonURL)
	}
	if rec.Status != models.URLStatusInFlight {
		return nil, fmt.Errorf("frontier: URL '%s' is %s, expected in_flight", canonURL, rec.Status)
	}
	f.inFlight--
	if f.domainInFlight[rec.Domain] > 0 {
		f.domainInFlight[rec.Domain]--
	}
	return rec, nil
}

// RecordSkipped registers a discovered URL that policy filtered out before
// it could be queued (non-content extension, for example), so it appears in
// the skip counts. Dedup applies: a URL already known keeps its record.
func (f *Frontier) RecordSkipped(rawURL string, depth int, parentURL, reason string) {
	canon, parsed, err := parse.ParseAndNormalize(rawURL)
	if err != nil {
		return // Unparseable links are simply not recorded
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.records[canon]; exists {
		return
	}
	f.records[canon] = &models.URLRecord{
		URL:          canon,
		Domain:       parsed.Hostname(),
		Depth:        depth,
		ParentURL:    parentURL,
		DiscoveredAt: time.Now(),
		Status:       models.URLStatusSkipped,
		Reason:       reason,
	}
	f.order = append(f.order, canon)
	f.counters.Skipped++
}

// Release returns an in_flight URL to the pending queue without counting a
// retry. Used on shutdown when a fetch was cancelled mid-flight: the URL
// stays pending in the snapshot and is re-offered on resume.
func (f *Frontier) Release(item models.WorkItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	rec, err := f.takeInFlight(item.URL)
	if err != nil {
		return err
	}
	rec.Status = models.URLStatusPending
	f.queue = append(f.queue, queueItem{url: item.URL, depth: item.Depth, attempt: item.Attempt})
	return nil
}

// SkipPending drains the queue, marking every remaining pending record as
// skipped with the given reason. Used when the done-count limit fires so
// leftover discoveries appear in the skip count instead of vanishing.
func (f *Frontier) SkipPending(reason string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.skipPendingLocked(reason)
}

// skipPendingLocked drains the queue. Caller must hold f.mu.
func (f *Frontier) skipPendingLocked(reason string) int {
	skipped := 0
	for _, item := range f.queue {
		rec := f.records[item.url]
		rec.Status = models.URLStatusSkipped
		rec.Reason = reason
		f.counters.Skipped++
		skipped++
	}
	f.queue = nil
	return skipped
}

// Close makes all subsequent Dequeue calls return ErrQueueEmpty. Later
// discoveries are recorded as skipped and retries become terminal failures.
// Workers decline new work and drain their in-flight fetch.
func (f *Frontier) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

// Shutdown drains the pending queue and closes the frontier in one critical
// section, so no Enqueue or Requeue can slip an item into the queue between
// the drain and the close. Returns the number of records marked skipped.
func (f *Frontier) Shutdown(reason string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	skipped := f.skipPendingLocked(reason)
	f.closed = true
	return skipped
}

// Completed reports the frontier's completion predicate: nothing queued
// (including future-eligible retry items) and nothing in flight.
func (f *Frontier) Completed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queue) == 0 && f.inFlight == 0
}

// Len returns the number of queued items (thread-safe).
func (f *Frontier) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queue)
}

// InFlight returns the number of URLs currently held by workers.
func (f *Frontier) InFlight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inFlight
}

// Counters returns a copy of the progress counters.
func (f *Frontier) Counters() models.Counters {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counters
}

// DoneCount returns the number of URLs marked done so far.
func (f *Frontier) DoneCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counters.Fetched
}

// DoneURLs returns the done URLs in discovery order.
func (f *Frontier) DoneURLs() []models.URLRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.URLRecord
	for _, u := range f.order {
		if rec := f.records[u]; rec.Status == models.URLStatusDone {
			out = append(out, *rec)
		}
	}
	return out
}

// RecordsByStatus returns copies of all records with the given status, in
// discovery order.
func (f *Frontier) RecordsByStatus(status models.URLStatus) []models.URLRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.URLRecord
	for _, u := range f.order {
		if rec := f.records[u]; rec.Status == status {
			out = append(out, *rec)
		}
	}
	return out
}
