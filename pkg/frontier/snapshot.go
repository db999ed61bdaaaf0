package frontier

import (
	"time"

	"site-mapper/pkg/models"
)

// Export projects the frontier into the serializable snapshot fields.
// In-flight records are exported as pending and added back to the pending
// list: a checkpoint taken mid-fetch must re-offer interrupted URLs on
// resume rather than lose them.
func (f *Frontier) Export() (visited []models.URLRecord, pending []models.WorkItem, clocks map[string]time.Time, tickets []models.RetryTicket, counters models.Counters) {
	f.mu.Lock()
	defer f.mu.Unlock()

	visited = make([]models.URLRecord, 0, len(f.order))
	for _, u := range f.order {
		rec := *f.records[u]
		if rec.Status == models.URLStatusInFlight {
			rec.Status = models.URLStatusPending
			pending = append(pending, models.WorkItem{URL: rec.URL, Depth: rec.Depth})
		}
		visited = append(visited, rec)
	}

	for _, item := range f.queue {
		if item.attempt > 0 {
			tickets = append(tickets, models.RetryTicket{
				URL:          item.url,
				Depth:        item.depth,
				Attempts:     item.attempt,
				NextEligible: item.eligibleAt,
			})
			continue
		}
		pending = append(pending, models.WorkItem{URL: item.url, Depth: item.depth})
	}

	clocks = make(map[string]time.Time, len(f.domainClocks))
	for d, t := range f.domainClocks {
		clocks[d] = t
	}

	return visited, pending, clocks, tickets, f.counters
}

// Restore rebuilds the frontier from a loaded snapshot. Must be called
// before any worker runs; it replaces all internal state.
func (f *Frontier) Restore(snap *models.CrawlSnapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.records = make(map[string]*models.URLRecord, len(snap.Visited))
	f.order = f.order[:0]
	f.queue = f.queue[:0]
	f.inFlight = 0
	f.domainInFlight = make(map[string]int)

	for i := range snap.Visited {
		rec := snap.Visited[i] // Copy
		if rec.Status == models.URLStatusInFlight {
			rec.Status = models.URLStatusPending // Interrupted mid-fetch in a stale snapshot
		}
		f.records[rec.URL] = &rec
		f.order = append(f.order, rec.URL)
	}

	queued := make(map[string]bool, len(snap.Pending))
	for _, item := range snap.Pending {
		if rec, ok := f.records[item.URL]; !ok || rec.Status != models.URLStatusPending || queued[item.URL] {
			continue // Queue entries must always have exactly one pending record
		}
		queued[item.URL] = true
		f.queue = append(f.queue, queueItem{url: item.URL, depth: item.Depth, attempt: item.Attempt})
	}
	for _, ticket := range snap.RetryTickets {
		if rec, ok := f.records[ticket.URL]; !ok || rec.Status != models.URLStatusPending || queued[ticket.URL] {
			continue
		}
		queued[ticket.URL] = true
		f.queue = append(f.queue, queueItem{
			url:        ticket.URL,
			depth:      ticket.Depth,
			attempt:    ticket.Attempts,
			eligibleAt: ticket.NextEligible,
		})
	}

	f.domainClocks = make(map[string]time.Time, len(snap.DomainClocks))
	for d, t := range snap.DomainClocks {
		f.domainClocks[d] = t
	}

	f.counters = snap.Counters
	f.admitted = snap.Counters.Discovered

	f.log.WithField("visited", len(f.records)).WithField("pending", len(f.queue)).Info("Frontier restored from snapshot")
}
