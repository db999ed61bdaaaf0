package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"site-mapper/pkg/config"
	"site-mapper/pkg/extract"
	"site-mapper/pkg/fetch"
	"site-mapper/pkg/frontier"
	"site-mapper/pkg/models"
	"site-mapper/pkg/parse"
	"site-mapper/pkg/render"
	"site-mapper/pkg/retry"
	"site-mapper/pkg/state"
	"site-mapper/pkg/storage"
	"site-mapper/pkg/utils"
)

// defaultSkippedExtensions lists URL path extensions that never lead to
// crawlable HTML. Overridable via crawl.skipped_extensions.
var defaultSkippedExtensions = []string{
	".jpg", ".jpeg", ".png", ".gif", ".svg", ".webp", ".ico", ".bmp",
	".css", ".js", ".mjs", ".map",
	".pdf", ".zip", ".tar", ".gz", ".rar", ".7z",
	".mp3", ".mp4", ".avi", ".mov", ".webm", ".wav",
	".woff", ".woff2", ".ttf", ".eot", ".otf",
	".doc", ".docx", ".xls", ".xlsx", ".ppt", ".pptx",
	".exe", ".dmg", ".iso",
}

// Crawler coordinates the whole crawl: it seeds the frontier, runs the
// worker pool, drives the checkpoint cadence, and assembles the final
// report inputs. Workers hold no private progress state; everything
// observable lives in the frontier, the snapshot, and the audit store.
type Crawler struct {
	appCfg   *config.AppConfig
	crawlCfg *config.CrawlConfig

	frontier  *frontier.Frontier
	fetcher   fetch.PageFetcher
	policy    fetch.PolicyChecker
	extractor extract.LinkExtractor
	heuristic render.Strategy // nil when rendering is disabled
	renderer  render.Renderer // nil when rendering is disabled
	retrier   *retry.Controller
	snapshots *state.Store
	audit     *storage.AuditStore

	crawlCtx context.Context
	cancel   context.CancelFunc
	log      *logrus.Entry

	sessionID string
	startedAt time.Time
	seedCanon string

	skippedExts map[string]bool

	wg         sync.WaitGroup
	finished   chan struct{} // Closed when the completion predicate first holds
	finishOnce sync.Once

	checkpointReq            chan struct{}
	completedSinceCheckpoint atomic.Int64

	fatalMu  sync.Mutex
	fatalErr error
}

// New wires a Crawler from its collaborators. renderer and heuristic may
// both be nil to disable JavaScript rendering.
func New(
	appCfg *config.AppConfig,
	crawlCfg *config.CrawlConfig,
	fr *frontier.Frontier,
	fetcher fetch.PageFetcher,
	policy fetch.PolicyChecker,
	extractor extract.LinkExtractor,
	heuristic render.Strategy,
	renderer render.Renderer,
	retrier *retry.Controller,
	snapshots *state.Store,
	audit *storage.AuditStore,
	ctx context.Context,
	cancel context.CancelFunc,
	log *logrus.Entry,
) (*Crawler, error) {
	seedCanon, _, err := parse.ParseAndNormalize(crawlCfg.SeedURL)
	if err != nil {
		return nil, fmt.Errorf("%w: seed URL '%s': %w", utils.ErrParsing, crawlCfg.SeedURL, err)
	}

	exts := crawlCfg.SkippedExtensions
	if len(exts) == 0 {
		exts = defaultSkippedExtensions
	}
	skippedExts := make(map[string]bool, len(exts))
	for _, ext := range exts {
		skippedExts[strings.ToLower(ext)] = true
	}

	return &Crawler{
		appCfg:        appCfg,
		crawlCfg:      crawlCfg,
		frontier:      fr,
		fetcher:       fetcher,
		policy:        policy,
		extractor:     extractor,
		heuristic:     heuristic,
		renderer:      renderer,
		retrier:       retrier,
		snapshots:     snapshots,
		audit:         audit,
		crawlCtx:      ctx,
		cancel:        cancel,
		log:           log,
		seedCanon:     seedCanon,
		skippedExts:   skippedExts,
		finished:      make(chan struct{}),
		checkpointReq: make(chan struct{}, 1),
	}, nil
}

// SessionID returns the crawl session identifier (set during Run).
func (c *Crawler) SessionID() string { return c.sessionID }

// StartedAt returns the session start time (set during Run).
func (c *Crawler) StartedAt() time.Time { return c.startedAt }

// Run executes the crawl to completion or cancellation. In resume mode an
// existing snapshot rebuilds the frontier and the original session
// identity is kept; otherwise the seed URL starts a fresh session.
func (c *Crawler) Run(resume bool) error {
	resumed := false
	if resume {
		snap, err := c.snapshots.Load()
		if err != nil {
			return err // State store I/O failure is crawl-fatal
		}
		if snap != nil {
			c.frontier.Restore(snap)
			c.sessionID = snap.SessionID
			c.startedAt = snap.StartedAt
			if snap.SeedURL != "" {
				c.seedCanon = snap.SeedURL
			}
			resumed = true
			if snap.Final {
				c.log.Info("Snapshot is from a completed crawl, nothing to resume")
			}
		}
	}

	if !resumed {
		c.sessionID = uuid.NewString()
		c.startedAt = time.Now()
		if err := c.snapshots.Remove(); err != nil {
			return err
		}
		added, err := c.frontier.Enqueue(c.crawlCfg.SeedURL, 0, "")
		if err != nil {
			return fmt.Errorf("%w: %w", utils.ErrSeedFetch, err)
		}
		if !added {
			return fmt.Errorf("%w: seed URL '%s' was not admitted to the queue", utils.ErrSeedFetch, c.crawlCfg.SeedURL)
		}
	}

	runLog := c.log.WithFields(logrus.Fields{
		"session": c.sessionID,
		"domain":  c.crawlCfg.AllowedDomain,
		"resume":  resumed,
	})
	runLog.Infof("Crawl starting with %d worker(s)", c.appCfg.NumWorkers)
	runStart := time.Now()

	go c.checkpointLoop()
	go c.progressLoop()

	for i := 1; i <= c.appCfg.NumWorkers; i++ {
		c.wg.Add(1)
		go c.worker(c.log.WithField("worker_id", i))
	}
	c.wg.Wait()

	// Workers have drained; make sure the loops shut down too.
	c.finishOnce.Do(func() { close(c.finished) })

	if err := c.fatal(); err != nil {
		return err
	}

	if ctxErr := c.crawlCtx.Err(); ctxErr != nil {
		// Interrupted: persist progress so the next run resumes here.
		if err := c.snapshots.Checkpoint(c.buildSnapshot()); err != nil {
			runLog.WithField("error", err).Error("Failed to write shutdown checkpoint")
			return err
		}
		runLog.Warnf("Crawl interrupted after %v, progress checkpointed", time.Since(runStart).Round(time.Second))
		return ctxErr
	}

	if c.frontier.DoneCount() == 0 {
		// The seed never completed and nothing else did either: surface the
		// seed's terminal failure as the crawl's cause.
		return c.seedFailureError()
	}

	if err := c.snapshots.Finalize(c.buildSnapshot()); err != nil {
		return err
	}

	counters := c.frontier.Counters()
	runLog.WithFields(logrus.Fields{
		"duration":   time.Since(runStart).Round(time.Millisecond).String(),
		"discovered": counters.Discovered,
		"done":       counters.Fetched,
		"failed":     counters.Failed,
		"skipped":    counters.Skipped,
		"retried":    counters.Retried,
	}).Info("Crawl finished")
	return nil
}

// seedFailureError reconstructs the seed's failure reason from its record.
func (c *Crawler) seedFailureError() error {
	for _, rec := range c.frontier.RecordsByStatus(models.URLStatusFailed) {
		if rec.URL == c.seedCanon {
			return fmt.Errorf("%w: '%s' (%s)", utils.ErrSeedFetch, c.seedCanon, rec.Reason)
		}
	}
	for _, rec := range c.frontier.RecordsByStatus(models.URLStatusSkipped) {
		if rec.URL == c.seedCanon {
			return fmt.Errorf("%w: '%s' (%s)", utils.ErrSeedFetch, c.seedCanon, rec.Reason)
		}
	}
	return fmt.Errorf("%w: '%s'", utils.ErrSeedFetch, c.seedCanon)
}

// worker runs the loop for a single worker goroutine.
func (c *Crawler) worker(workerLog *logrus.Entry) {
	defer c.wg.Done()
	workerLog.Debug("Worker starting")
	defer workerLog.Debug("Worker finished")

	for {
		select {
		case <-c.crawlCtx.Done():
			return
		case <-c.finished:
			return
		default:
		}

		item, err := c.frontier.Dequeue(time.Now())
		switch {
		case err == nil:
			c.processTask(item, workerLog)
		case errors.Is(err, frontier.ErrNoWorkReady):
			// Politeness clocks or retry eligibility are in the future.
			c.idleWait()
		case errors.Is(err, frontier.ErrQueueEmpty):
			if c.frontier.Completed() {
				c.finishOnce.Do(func() { close(c.finished) })
				return
			}
			// Another worker's in-flight page may still discover links.
			c.idleWait()
		default:
			workerLog.WithField("error", err).Error("Unexpected dequeue error")
			c.idleWait()
		}
	}
}

// idleWait sleeps the bounded idle backoff, waking early on shutdown.
func (c *Crawler) idleWait() {
	select {
	case <-c.crawlCtx.Done():
	case <-c.finished:
	case <-time.After(c.appCfg.IdleBackoff):
	}
}

// processTask handles one dequeued URL end to end: policy check, fetch,
// optional render, link extraction, frontier bookkeeping, audit record.
func (c *Crawler) processTask(item models.WorkItem, workerLog *logrus.Entry) {
	taskLog := workerLog.WithFields(logrus.Fields{"url": item.URL, "depth": item.Depth, "attempt": item.Attempt})

	parsed, err := url.Parse(item.URL)
	if err != nil {
		// Canonical URLs always parse; treat defensively as terminal.
		c.markTerminal(item, fmt.Errorf("%w: '%s': %w", utils.ErrParsing, item.URL, err), 0, taskLog)
		return
	}

	decision := fetch.Decision{Allowed: true}
	if c.policy != nil {
		decision = c.policy.CheckAllowed(c.crawlCtx, parsed)
	}
	if !decision.Allowed {
		reason := utils.CategorizeError(utils.ErrRobotsDisallowed)
		if err := c.frontier.MarkSkipped(item.URL, reason); err != nil {
			taskLog.WithField("error", err).Error("Failed to mark URL skipped")
			return
		}
		c.recordAudit(item.URL, &models.FetchAudit{
			Status:    models.URLStatusSkipped,
			ErrorKind: reason,
			Attempts:  item.Attempt + 1,
			FetchedAt: time.Now(),
		}, taskLog)
		taskLog.Info("Disallowed by robots.txt, skipped without fetching")
		c.noteCompletion()
		return
	}

	res, fetchErr := c.fetcher.Fetch(c.crawlCtx, item.URL)
	if fetchErr != nil {
		if c.crawlCtx.Err() != nil && errors.Is(fetchErr, context.Canceled) {
			// Shutdown aborted the fetch; keep the URL pending for resume.
			if relErr := c.frontier.Release(item); relErr != nil {
				taskLog.WithField("error", relErr).Error("Failed to release interrupted URL")
			}
			return
		}
		c.handleFetchFailure(item, fetchErr, taskLog)
		return
	}

	body := res.Body
	renderedPage := false
	if c.renderer != nil && c.heuristic != nil &&
		c.heuristic.NeedsRendering(item.URL, res.ContentType, res.Body) {
		if html, ok := c.renderer.Render(c.crawlCtx, item.URL, c.appCfg.Render.RenderTimeout); ok {
			body = []byte(html)
			renderedPage = true
			taskLog.Debug("Page rendered with headless browser")
		} else {
			taskLog.Debug("Render failed, using static HTML")
		}
	}

	links, exErr := c.extractor.ExtractLinks(item.URL, body, res.ContentType)
	if exErr != nil {
		taskLog.WithField("error", exErr).Warn("Link extraction failed, treating page as link-free")
	}
	enqueued := c.enqueueDiscovered(links, res.FinalURL, item, taskLog)

	if err := c.frontier.MarkDone(item.URL, decision.CrawlDelay); err != nil {
		taskLog.WithField("error", err).Error("Failed to mark URL done")
		return
	}
	c.recordAudit(item.URL, &models.FetchAudit{
		Status:        models.URLStatusDone,
		StatusCode:    res.StatusCode,
		ContentType:   res.ContentType,
		ContentLength: int64(len(res.Body)),
		ResponseTime:  res.ResponseTime.Milliseconds(),
		Attempts:      item.Attempt + 1,
		Rendered:      renderedPage,
		FetchedAt:     time.Now(),
	}, taskLog)
	taskLog.WithFields(logrus.Fields{
		"status_code": res.StatusCode,
		"links":       len(links),
		"enqueued":    enqueued,
		"rendered":    renderedPage,
	}).Info("Page mapped")
	c.noteCompletion()

	if c.crawlCfg.MaxURLs > 0 && c.frontier.DoneCount() >= c.crawlCfg.MaxURLs {
		// Drain and close atomically so a concurrent Requeue or discovery
		// cannot land in the queue after the drain.
		skipped := c.frontier.Shutdown(utils.CategorizeError(utils.ErrURLLimitReached))
		if skipped > 0 {
			taskLog.WithField("skipped", skipped).Info("URL limit reached, remaining queue skipped")
		}
	}
}

// handleFetchFailure routes a failed fetch through the retry controller: a
// ticket re-offers the URL via the frontier, anything else is terminal.
func (c *Crawler) handleFetchFailure(item models.WorkItem, fetchErr error, taskLog *logrus.Entry) {
	if ticket, ok := c.retrier.Next(item, fetchErr); ok {
		requeued, err := c.frontier.Requeue(ticket)
		if err != nil {
			taskLog.WithField("error", err).Error("Failed to requeue URL for retry")
			return
		}
		status := models.URLStatusPending
		if !requeued {
			// The frontier closed mid-flight and recorded the URL as failed.
			status = models.URLStatusFailed
			c.noteCompletion()
		}
		c.recordAudit(item.URL, &models.FetchAudit{
			Status:    status,
			ErrorKind: ticket.LastError,
			Attempts:  ticket.Attempts,
			FetchedAt: time.Now(),
		}, taskLog)
		return
	}
	c.markTerminal(item, fetchErr, item.Attempt+1, taskLog)
}

// markTerminal transitions a URL to failed with its categorized reason.
func (c *Crawler) markTerminal(item models.WorkItem, fetchErr error, attempts int, taskLog *logrus.Entry) {
	finalErr := fetchErr
	if item.Attempt > 0 && retry.Retryable(fetchErr) {
		finalErr = fmt.Errorf("%w: %w", utils.ErrRetriesExhausted, fetchErr)
	}
	reason := utils.CategorizeError(finalErr)

	if err := c.frontier.MarkFailed(item.URL, reason, 0); err != nil {
		taskLog.WithField("error", err).Error("Failed to mark URL failed")
		return
	}
	c.recordAudit(item.URL, &models.FetchAudit{
		Status:    models.URLStatusFailed,
		ErrorKind: reason,
		Attempts:  attempts,
		FetchedAt: time.Now(),
	}, taskLog)
	taskLog.WithFields(logrus.Fields{"reason": reason, "error": fetchErr}).Warn("URL failed terminally")
	c.noteCompletion()
}

// enqueueDiscovered resolves extracted links against the final (post
// redirect) URL and feeds in-scope ones back into the frontier at depth+1.
// Cross-domain links are out of scope and silently dropped; same-domain
// links with non-content extensions are recorded as skipped.
func (c *Crawler) enqueueDiscovered(links []string, base *url.URL, item models.WorkItem, taskLog *logrus.Entry) int {
	if base == nil {
		return 0
	}
	enqueued := 0
	for _, link := range links {
		ref, err := url.Parse(link)
		if err != nil {
			taskLog.WithField("href", link).Debug("Unparseable href, skipping")
			continue
		}
		abs := base.ResolveReference(ref)
		if abs.Scheme != "http" && abs.Scheme != "https" {
			continue
		}
		if !strings.EqualFold(abs.Hostname(), c.crawlCfg.AllowedDomain) {
			continue
		}
		if c.skippedExts[strings.ToLower(path.Ext(abs.Path))] {
			c.frontier.RecordSkipped(abs.String(), item.Depth+1, item.URL,
				utils.CategorizeError(utils.ErrNonContentURL))
			continue
		}
		added, err := c.frontier.Enqueue(abs.String(), item.Depth+1, item.URL)
		if err != nil {
			taskLog.WithFields(logrus.Fields{"href": link, "error": err}).Debug("Enqueue failed")
			continue
		}
		if added {
			enqueued++
		}
	}
	return enqueued
}

// recordAudit writes a fetch outcome to the audit store. Audit failures are
// logged but never interrupt the crawl.
func (c *Crawler) recordAudit(canonURL string, audit *models.FetchAudit, taskLog *logrus.Entry) {
	if c.audit == nil {
		return
	}
	if err := c.audit.Record(canonURL, audit); err != nil {
		taskLog.WithField("error", err).Error("Failed to write audit record")
	}
}

// noteCompletion counts a terminal outcome toward the page-count checkpoint
// trigger.
func (c *Crawler) noteCompletion() {
	if c.completedSinceCheckpoint.Add(1) >= int64(c.appCfg.CheckpointEveryPages) {
		select {
		case c.checkpointReq <- struct{}{}:
		default: // A checkpoint is already requested
		}
	}
}

// buildSnapshot projects current progress into the serializable form.
func (c *Crawler) buildSnapshot() *models.CrawlSnapshot {
	visited, pending, clocks, tickets, counters := c.frontier.Export()
	return &models.CrawlSnapshot{
		SessionID:    c.sessionID,
		SeedURL:      c.seedCanon,
		StartedAt:    c.startedAt,
		Visited:      visited,
		Pending:      pending,
		DomainClocks: clocks,
		RetryTickets: tickets,
		Counters:     counters,
	}
}

// checkpointLoop writes a snapshot every CheckpointInterval or every
// CheckpointEveryPages completed fetches, whichever fires first. A
// checkpoint write failure aborts the crawl: running on without a working
// state store would silently break resumability.
func (c *Crawler) checkpointLoop() {
	ticker := time.NewTicker(c.appCfg.CheckpointInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.crawlCtx.Done():
			return
		case <-c.finished:
			return
		case <-ticker.C:
		case <-c.checkpointReq:
		}

		c.completedSinceCheckpoint.Store(0)
		if err := c.snapshots.Checkpoint(c.buildSnapshot()); err != nil {
			c.log.WithField("error", err).Error("Checkpoint failed, aborting crawl")
			c.setFatal(err)
			c.cancel()
			return
		}
	}
}

// progressLoop logs crawl progress periodically.
func (c *Crawler) progressLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-c.crawlCtx.Done():
			return
		case <-c.finished:
			return
		case <-ticker.C:
			counters := c.frontier.Counters()
			c.log.WithFields(logrus.Fields{
				"discovered": counters.Discovered,
				"done":       counters.Fetched,
				"failed":     counters.Failed,
				"skipped":    counters.Skipped,
				"retried":    counters.Retried,
				"queued":     c.frontier.Len(),
				"in_flight":  c.frontier.InFlight(),
			}).Info("Crawl progress")
		}
	}
}

func (c *Crawler) setFatal(err error) {
	c.fatalMu.Lock()
	defer c.fatalMu.Unlock()
	if c.fatalErr == nil {
		c.fatalErr = err
	}
}

func (c *Crawler) fatal() error {
	c.fatalMu.Lock()
	defer c.fatalMu.Unlock()
	return c.fatalErr
}
