package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"
)

const testRobotsTxt = `User-agent: site-mapper-test
Disallow: /private/
Crawl-delay: 2

User-agent: *
Disallow: /admin/
`

func robotsServer(t *testing.T, fetches *atomic.Int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			if fetches != nil {
				fetches.Add(1)
			}
			w.Write([]byte(testRobotsTxt))
			return
		}
		w.Write([]byte("page"))
	}))
}

func TestRobotsChecker_AllowDeny(t *testing.T) {
	srv := robotsServer(t, nil)
	defer srv.Close()

	fetcher := newTestFetcher(0, 0)
	rc := NewRobotsChecker(fetcher, "site-mapper-test/1.0", testLogger())

	allowed, _ := url.Parse(srv.URL + "/docs/page")
	if d := rc.CheckAllowed(context.Background(), allowed); !d.Allowed {
		t.Error("public path should be allowed")
	}

	denied, _ := url.Parse(srv.URL + "/private/secret")
	if d := rc.CheckAllowed(context.Background(), denied); d.Allowed {
		t.Error("/private/ should be disallowed for our agent group")
	}
}

func TestRobotsChecker_CrawlDelay(t *testing.T) {
	srv := robotsServer(t, nil)
	defer srv.Close()

	rc := NewRobotsChecker(newTestFetcher(0, 0), "site-mapper-test/1.0", testLogger())

	target, _ := url.Parse(srv.URL + "/docs/page")
	d := rc.CheckAllowed(context.Background(), target)
	if d.CrawlDelay != 2*time.Second {
		t.Errorf("CrawlDelay = %v, want 2s", d.CrawlDelay)
	}
}

func TestRobotsChecker_CachesPerHost(t *testing.T) {
	var fetches atomic.Int64
	srv := robotsServer(t, &fetches)
	defer srv.Close()

	rc := NewRobotsChecker(newTestFetcher(0, 0), "site-mapper-test/1.0", testLogger())

	for i := 0; i < 5; i++ {
		target, _ := url.Parse(srv.URL + "/docs/page")
		rc.CheckAllowed(context.Background(), target)
	}
	if got := fetches.Load(); got != 1 {
		t.Errorf("robots.txt fetched %d times, want 1 (cached per host)", got)
	}
}

func TestRobotsChecker_MissingRobotsAllowsAll(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	rc := NewRobotsChecker(newTestFetcher(0, 0), "site-mapper-test/1.0", testLogger())

	target, _ := url.Parse(srv.URL + "/anything")
	if d := rc.CheckAllowed(context.Background(), target); !d.Allowed {
		t.Error("missing robots.txt should allow everything")
	}
}
