package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"site-mapper/pkg/utils"
)

// Result carries a successful fetch back to the worker. Body is fully read
// and the connection released before Result is returned.
type Result struct {
	Body         []byte
	ContentType  string
	StatusCode   int
	FinalURL     *url.URL // After redirects
	ResponseTime time.Duration
}

// PageFetcher performs a single HTTP fetch attempt. Retry scheduling lives
// in the retry controller, not here: a failed attempt surfaces as a
// classified error and the frontier re-offers the URL when its ticket says so.
type PageFetcher interface {
	Fetch(ctx context.Context, rawURL string) (*Result, error)
}

// Fetcher is the default PageFetcher over a shared http.Client.
type Fetcher struct {
	client      *http.Client
	userAgent   string
	maxBodySize int64
	perFetch    time.Duration // Per-fetch timeout; bounds the only unbounded-blocking operation
	log         *logrus.Entry
}

// NewFetcher creates a Fetcher.
func NewFetcher(client *http.Client, userAgent string, maxBodySize int64, perFetchTimeout time.Duration, log *logrus.Entry) *Fetcher {
	if maxBodySize <= 0 {
		maxBodySize = 10 << 20 // 10 MiB
	}
	return &Fetcher{
		client:      client,
		userAgent:   userAgent,
		maxBodySize: maxBodySize,
		perFetch:    perFetchTimeout,
		log:         log,
	}
}

// Fetch performs one GET attempt. Non-2xx statuses are returned as sentinel
// errors so the retry controller can classify them: 5xx -> ErrServerHTTPError
// (retryable), 429 -> ErrTooManyRequests (retryable), other 4xx ->
// ErrClientHTTPError (terminal).
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Result, error) {
	if f.perFetch > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.perFetch)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: creating request for '%s': %w", utils.ErrRequestCreation, rawURL, err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err // Network-level error; classification happens upstream
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	reqLog := f.log.WithFields(logrus.Fields{"url": rawURL, "status_code": resp.StatusCode})

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		// Fall through to body read below
	case resp.StatusCode >= 500:
		reqLog.Warn("Server error")
		return nil, fmt.Errorf("%w: status %d %s", utils.ErrServerHTTPError, resp.StatusCode, resp.Status)
	case resp.StatusCode == http.StatusTooManyRequests:
		reqLog.Warn("Rate limited by server")
		return nil, fmt.Errorf("%w: status %d %s", utils.ErrTooManyRequests, resp.StatusCode, resp.Status)
	case resp.StatusCode >= 400:
		reqLog.Warn("Client error (4xx)")
		return nil, fmt.Errorf("%w: status %d %s", utils.ErrClientHTTPError, resp.StatusCode, resp.Status)
	default:
		reqLog.Warnf("Unexpected status: %d", resp.StatusCode)
		return nil, fmt.Errorf("%w: status %d %s", utils.ErrOtherHTTPError, resp.StatusCode, resp.Status)
	}

	limited := io.LimitReader(resp.Body, f.maxBodySize+1) // +1 to detect exceeding the limit
	body, readErr := io.ReadAll(limited)
	if readErr != nil {
		return nil, fmt.Errorf("%w: reading body from '%s': %w", utils.ErrResponseBodyRead, rawURL, readErr)
	}
	if int64(len(body)) > f.maxBodySize {
		return nil, fmt.Errorf("%w: page '%s' exceeds max size (%d bytes)", utils.ErrResponseBodyRead, rawURL, f.maxBodySize)
	}

	contentType := resp.Header.Get("Content-Type")
	if ct := strings.ToLower(contentType); ct != "" && !strings.HasPrefix(ct, "text/html") && !strings.HasPrefix(ct, "application/xhtml+xml") {
		reqLog.Debugf("Non-HTML Content-Type '%s'", contentType)
	}

	reqLog.WithField("bytes", len(body)).Debug("Fetched successfully")
	return &Result{
		Body:         body,
		ContentType:  contentType,
		StatusCode:   resp.StatusCode,
		FinalURL:     resp.Request.URL,
		ResponseTime: time.Since(start),
	}, nil
}
