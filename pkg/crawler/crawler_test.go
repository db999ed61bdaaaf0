package crawler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"site-mapper/pkg/config"
	"site-mapper/pkg/extract"
	"site-mapper/pkg/fetch"
	"site-mapper/pkg/frontier"
	"site-mapper/pkg/models"
	"site-mapper/pkg/retry"
	"site-mapper/pkg/state"
	"site-mapper/pkg/utils"
)

// testLogger returns a logger entry that discards output
func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

// newTestCrawler wires a crawler against a test server with fast timings,
// no rendering, and no audit store.
func newTestCrawler(t *testing.T, srvURL string, maxDepth, maxURLs int) (*Crawler, *frontier.Frontier, context.CancelFunc) {
	t.Helper()

	parsed, err := url.Parse(srvURL)
	if err != nil {
		t.Fatalf("parsing test server URL: %v", err)
	}

	appCfg := &config.AppConfig{
		NumWorkers:           3,
		MaxRetries:           2,
		InitialRetryDelay:    10 * time.Millisecond,
		MaxRetryDelay:        50 * time.Millisecond,
		StateDir:             t.TempDir(),
		OutputBaseDir:        t.TempDir(),
		CheckpointInterval:   time.Hour, // Page-count trigger only, and far away
		CheckpointEveryPages: 10000,
		IdleBackoff:          5 * time.Millisecond,
	}
	crawlCfg := &config.CrawlConfig{
		SeedURL:          srvURL + "/",
		AllowedDomain:    parsed.Hostname(),
		UserAgent:        "site-mapper-test/1.0",
		MaxDepth:         maxDepth,
		MaxURLs:          maxURLs,
		MaxBodySizeBytes: 1 << 20,
	}

	logEntry := testLogger()
	fr := frontier.New(frontier.Options{MaxDepth: maxDepth, MaxURLs: maxURLs}, logEntry)
	fetcher := fetch.NewFetcher(&http.Client{}, crawlCfg.UserAgent, crawlCfg.MaxBodySizeBytes, 5*time.Second, logEntry)
	robots := fetch.NewRobotsChecker(fetcher, crawlCfg.UserAgent, logEntry)
	extractor := extract.NewGoqueryExtractor(false, logEntry)
	retrier := retry.NewController(appCfg.MaxRetries, appCfg.InitialRetryDelay, appCfg.MaxRetryDelay, logEntry)

	snapshots, err := state.NewStore(appCfg.StateDir, crawlCfg.AllowedDomain, logEntry)
	if err != nil {
		t.Fatalf("creating snapshot store: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	c, err := New(appCfg, crawlCfg, fr, fetcher, robots, extractor, nil, nil,
		retrier, snapshots, nil, ctx, cancel, logEntry)
	if err != nil {
		t.Fatalf("creating crawler: %v", err)
	}
	return c, fr, cancel
}

func page(links ...string) string {
	var sb strings.Builder
	sb.WriteString("<html><body><p>Plenty of visible text so extraction has something around it.</p>")
	for _, l := range links {
		sb.WriteString(`<a href="` + l + `">link</a>`)
	}
	sb.WriteString("</body></html>")
	return sb.String()
}

func TestRun_MapsSite(t *testing.T) {
	var flakyHits atomic.Int64
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "User-agent: *\nDisallow: /private/\n")
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			io.WriteString(w, page("/a", "/b", "/style.css", "http://other.invalid/x", "/private/secret", "/flaky"))
		case "/a":
			io.WriteString(w, page("/b", "/c"))
		case "/b":
			io.WriteString(w, page())
		case "/c":
			http.NotFound(w, r)
		case "/flaky":
			if flakyHits.Add(1) == 1 {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			io.WriteString(w, page())
		default:
			http.NotFound(w, r)
		}
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c, fr, _ := newTestCrawler(t, srv.URL, 0, 0)
	if err := c.Run(false); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	done := fr.DoneURLs()
	doneURLs := make(map[string]int, len(done))
	for _, rec := range done {
		u, _ := url.Parse(rec.URL)
		doneURLs[u.Path] = rec.Depth
	}

	wantDone := map[string]int{"/": 0, "/a": 1, "/b": 1, "/flaky": 1}
	if len(doneURLs) != len(wantDone) {
		t.Fatalf("done URLs = %v, want %v", doneURLs, wantDone)
	}
	for path, depth := range wantDone {
		if got, ok := doneURLs[path]; !ok || got != depth {
			t.Errorf("done[%s] depth = %d (present=%v), want %d", path, got, ok, depth)
		}
	}

	// The retried page was fetched twice
	if got := flakyHits.Load(); got != 2 {
		t.Errorf("/flaky hit %d times, want 2 (one failure, one retry)", got)
	}

	// /c is terminal failed with a 404 category
	failed := fr.RecordsByStatus(models.URLStatusFailed)
	if len(failed) != 1 || !strings.HasSuffix(failed[0].URL, "/c") || failed[0].Reason != "HTTP_404" {
		t.Errorf("failed records = %+v, want /c with HTTP_404", failed)
	}

	// /style.css (extension) and /private/secret (robots) are skipped
	skippedReasons := make(map[string]string)
	for _, rec := range fr.RecordsByStatus(models.URLStatusSkipped) {
		u, _ := url.Parse(rec.URL)
		skippedReasons[u.Path] = rec.Reason
	}
	if skippedReasons["/style.css"] != "Policy_Extension" {
		t.Errorf("skipped[/style.css] = %q, want Policy_Extension", skippedReasons["/style.css"])
	}
	if skippedReasons["/private/secret"] != "Policy_Robots" {
		t.Errorf("skipped[/private/secret] = %q, want Policy_Robots", skippedReasons["/private/secret"])
	}

	// Cross-domain link was dropped entirely, not recorded
	for path := range skippedReasons {
		if strings.Contains(path, "other.invalid") {
			t.Error("cross-domain link should not be recorded at all")
		}
	}

	if fr.Counters().Retried != 1 {
		t.Errorf("Counters().Retried = %d, want 1", fr.Counters().Retried)
	}
}

func TestRun_SeedFailureAborts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c, _, _ := newTestCrawler(t, srv.URL, 0, 0)
	err := c.Run(false)
	if !errors.Is(err, utils.ErrSeedFetch) {
		t.Errorf("Run() with failing seed = %v, want ErrSeedFetch", err)
	}
}

func TestRun_MaxDepth(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			io.WriteString(w, page("/d1"))
		case "/d1":
			io.WriteString(w, page("/d2"))
		case "/d2":
			io.WriteString(w, page("/d3"))
		default:
			io.WriteString(w, page())
		}
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c, fr, _ := newTestCrawler(t, srv.URL, 1, 0)
	if err := c.Run(false); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if got := len(fr.DoneURLs()); got != 2 {
		t.Errorf("done count with maxDepth=1 is %d, want 2 (seed + one level)", got)
	}
	skipped := fr.RecordsByStatus(models.URLStatusSkipped)
	if len(skipped) != 1 || !strings.HasSuffix(skipped[0].URL, "/d2") {
		t.Errorf("skipped = %+v, want /d2 past max depth", skipped)
	}
}

func TestRun_MaxURLs(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			io.WriteString(w, page("/p1", "/p2", "/p3", "/p4"))
		case "/p1":
			io.WriteString(w, page("/p5"))
		default:
			io.WriteString(w, page())
		}
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c, fr, _ := newTestCrawler(t, srv.URL, 0, 2)
	if err := c.Run(false); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	// The crawl stops after exactly two pages are mapped
	done := fr.DoneURLs()
	if len(done) != 2 {
		t.Fatalf("done count = %d, want exactly 2", len(done))
	}
	donePaths := make(map[string]bool, 2)
	for _, rec := range done {
		u, _ := url.Parse(rec.URL)
		donePaths[u.Path] = true
	}
	if !donePaths["/"] || !donePaths["/p1"] {
		t.Errorf("done pages = %v, want / and /p1", donePaths)
	}

	// Everything discovered past the cap shows up in the skip counts
	for _, rec := range fr.RecordsByStatus(models.URLStatusSkipped) {
		if rec.Reason != "Policy_URLLimit" {
			t.Errorf("skipped %s reason = %q, want Policy_URLLimit", rec.URL, rec.Reason)
		}
	}
	if got := fr.Counters().Skipped; got != 4 {
		t.Errorf("Counters().Skipped = %d, want 4 (/p2-/p5)", got)
	}
	if fr.Counters().Fetched != 2 {
		t.Errorf("Counters().Fetched = %d, want 2", fr.Counters().Fetched)
	}
}

func TestRun_FinalSnapshotWritten(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, page())
	}))
	defer srv.Close()

	c, _, _ := newTestCrawler(t, srv.URL, 0, 0)
	if err := c.Run(false); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	snap, err := c.snapshots.Load()
	if err != nil {
		t.Fatalf("loading final snapshot: %v", err)
	}
	if snap == nil {
		t.Fatal("no snapshot written after a completed crawl")
	}
	if !snap.Final {
		t.Error("final snapshot should be marked Final")
	}
	if snap.SessionID == "" {
		t.Error("snapshot should carry a session ID")
	}
	if snap.Counters.Fetched != 1 {
		t.Errorf("snapshot Counters.Fetched = %d, want 1", snap.Counters.Fetched)
	}
}

func TestRun_ResumePreservesSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, page())
	}))
	defer srv.Close()

	c, _, _ := newTestCrawler(t, srv.URL, 0, 0)
	if err := c.Run(false); err != nil {
		t.Fatalf("first Run() error: %v", err)
	}
	firstSession := c.SessionID()

	// A second crawler resuming from the same state dir keeps the session
	c2, fr2, _ := newTestCrawler(t, srv.URL, 0, 0)
	c2.snapshots = c.snapshots
	if err := c2.Run(true); err != nil {
		t.Fatalf("resumed Run() error: %v", err)
	}
	if c2.SessionID() != firstSession {
		t.Errorf("resumed session = %q, want original %q", c2.SessionID(), firstSession)
	}
	if got := fr2.Counters().Fetched; got != 1 {
		t.Errorf("resumed Counters().Fetched = %d, want 1 carried from snapshot", got)
	}
}

func TestWriteReport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			io.WriteString(w, page("/a"))
			return
		}
		io.WriteString(w, page())
	}))
	defer srv.Close()

	c, _, _ := newTestCrawler(t, srv.URL, 0, 0)
	if err := c.Run(false); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	dir := t.TempDir()
	path, err := c.WriteReport(dir)
	if err != nil {
		t.Fatalf("WriteReport() error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading report: %v", err)
	}
	report := string(data)
	if !strings.Contains(report, "depth=0") {
		t.Error("report should list the seed with its depth")
	}
	if !strings.Contains(report, "depth=1") {
		t.Error("report should list discovered pages with their depth")
	}
	if !strings.Contains(report, "# Site map for") {
		t.Error("report should carry a header")
	}
}
