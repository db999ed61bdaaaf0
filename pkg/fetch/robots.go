package fetch

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/temoto/robotstxt"
)

// Decision is the policy checker's verdict for a URL. CrawlDelay is zero
// when robots.txt supplies none; the frontier takes the greater of it and
// the configured per-domain delay.
type Decision struct {
	Allowed    bool
	CrawlDelay time.Duration
}

// PolicyChecker decides whether a URL may be fetched.
type PolicyChecker interface {
	CheckAllowed(ctx context.Context, target *url.URL) Decision
}

// RobotsChecker fetches, parses, and caches robots.txt per host, then
// answers allow/deny plus the group's crawl-delay. A failed or missing
// robots.txt allows everything, per convention.
type RobotsChecker struct {
	fetcher   PageFetcher
	userAgent string
	cache     map[string]*robotstxt.RobotsData // hostname -> parsed data (nil = fetch failed, allow all)
	cacheMu   sync.Mutex
	log       *logrus.Entry
}

// NewRobotsChecker creates a RobotsChecker.
func NewRobotsChecker(fetcher PageFetcher, userAgent string, log *logrus.Entry) *RobotsChecker {
	return &RobotsChecker{
		fetcher:   fetcher,
		userAgent: userAgent,
		cache:     make(map[string]*robotstxt.RobotsData),
		log:       log,
	}
}

// robotsData returns cached robots data for the target's host, fetching it
// on first use. One fetch per host regardless of how many URLs are checked.
func (rc *RobotsChecker) robotsData(ctx context.Context, target *url.URL) *robotstxt.RobotsData {
	host := target.Hostname()

	rc.cacheMu.Lock()
	data, found := rc.cache[host]
	rc.cacheMu.Unlock()
	if found {
		return data // Could be nil (previous failure)
	}

	robotsURL := &url.URL{Scheme: target.Scheme, Host: target.Host, Path: "/robots.txt"}
	if robotsURL.Scheme != "http" && robotsURL.Scheme != "https" {
		robotsURL.Scheme = "https"
	}
	hostLog := rc.log.WithFields(logrus.Fields{"host": host, "robots_url": robotsURL.String()})
	hostLog.Info("Fetching robots.txt...")

	var parsed *robotstxt.RobotsData
	res, err := rc.fetcher.Fetch(ctx, robotsURL.String())
	if err != nil {
		hostLog.Warnf("Fetching robots.txt failed, allowing all: %v", err)
	} else {
		parsed, err = robotstxt.FromBytes(res.Body)
		if err != nil {
			hostLog.Warnf("Parsing robots.txt failed, allowing all: %v", err)
			parsed = nil
		} else {
			hostLog.Info("Successfully fetched and parsed robots.txt")
		}
	}

	rc.cacheMu.Lock()
	rc.cache[host] = parsed // Cache failures too, so we don't hammer the host
	rc.cacheMu.Unlock()
	return parsed
}

// CheckAllowed implements PolicyChecker. A deny means the URL transitions
// straight to skipped with no network call for the page itself.
func (rc *RobotsChecker) CheckAllowed(ctx context.Context, target *url.URL) Decision {
	data := rc.robotsData(ctx, target)
	if data == nil {
		return Decision{Allowed: true}
	}

	group := data.FindGroup(rc.userAgent)
	if group == nil {
		return Decision{Allowed: true}
	}
	return Decision{
		Allowed:    group.Test(target.RequestURI()),
		CrawlDelay: group.CrawlDelay,
	}
}
