package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"site-mapper/pkg/models"
	"site-mapper/pkg/utils"
)

// Controller classifies fetch failures and schedules delayed re-attempts.
// It is the sole owner of retry tickets; the frontier receives them by value
// and honors their next-eligible-time at dequeue.
//
// State machine per URL: first-attempt -> (failure) -> retry-scheduled(k)
// -> (success) -> done, or (failure, k) -> retry-scheduled(k+1) while
// k+1 <= MaxRetries, else terminal failed. Non-retryable failures bypass
// the schedule entirely.
type Controller struct {
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	log        *logrus.Entry
}

// NewController creates a Controller with the given schedule parameters.
func NewController(maxRetries int, baseDelay, maxDelay time.Duration, log *logrus.Entry) *Controller {
	if baseDelay <= 0 {
		baseDelay = time.Second
	}
	if maxDelay <= 0 {
		maxDelay = 60 * time.Second
	}
	return &Controller{
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		maxDelay:   maxDelay,
		log:        log,
	}
}

// Retryable reports whether a fetch error is transient (timeout, connection
// reset, 5xx, 429) as opposed to permanent (other 4xx, malformed URL,
// policy deny), which must go straight to terminal failed.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, utils.ErrServerHTTPError),
		errors.Is(err, utils.ErrTooManyRequests):
		return true
	case errors.Is(err, utils.ErrClientHTTPError),
		errors.Is(err, utils.ErrOtherHTTPError),
		errors.Is(err, utils.ErrRobotsDisallowed),
		errors.Is(err, utils.ErrScopeViolation),
		errors.Is(err, utils.ErrParsing),
		errors.Is(err, utils.ErrRequestCreation):
		return false
	case errors.Is(err, context.Canceled):
		return false // Shutdown in progress, not a network fault
	case errors.Is(err, context.DeadlineExceeded):
		return true // Per-fetch timeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true // Includes timeouts, refused connections, DNS failures
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "reset by peer") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "eof") {
		return true
	}
	return false
}

// Backoff computes the delay before retry attempt number `attempt`
// (1-based): min(maxDelay, baseDelay * 2^(attempt-1)), jittered +/- 10%
// to avoid thundering herd against a recovering server.
func (c *Controller) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	backoff := float64(c.baseDelay) * math.Pow(2, float64(attempt-1))
	delay := time.Duration(backoff)
	if delay <= 0 || delay > c.maxDelay {
		delay = c.maxDelay
	}

	var jitter time.Duration
	if span := int64(delay) / 5; span > 0 { // rand.Int63n panics on a zero bound; sub-5ns delays go unjittered
		jitter = time.Duration(rand.Int63n(span)) - (delay / 10) // +/- 10% range is delay/5 wide centered at 0
	}
	final := delay + jitter
	if final < 0 {
		final = 0
	}
	return final
}

// Next decides the fate of a failed fetch. For a retryable error within the
// attempt budget it returns a ticket carrying the next-eligible-time and
// ok=true; otherwise ok=false and the URL must be marked terminal failed.
// item.Attempt counts prior retries (0 on the first dispatch), so a URL
// whose every attempt fails is tried exactly maxRetries+1 times.
func (c *Controller) Next(item models.WorkItem, fetchErr error) (models.RetryTicket, bool) {
	kind := utils.CategorizeError(fetchErr)

	if !Retryable(fetchErr) {
		c.log.WithFields(logrus.Fields{"url": item.URL, "kind": kind}).Debug("Non-retryable failure, no ticket issued")
		return models.RetryTicket{}, false
	}
	if item.Attempt+1 > c.maxRetries {
		c.log.WithFields(logrus.Fields{"url": item.URL, "attempts": item.Attempt + 1, "kind": kind}).Debug("Retry budget exhausted")
		return models.RetryTicket{}, false
	}

	attempt := item.Attempt + 1
	delay := c.Backoff(attempt)
	ticket := models.RetryTicket{
		URL:          item.URL,
		Depth:        item.Depth,
		Attempts:     attempt,
		NextEligible: time.Now().Add(delay),
		LastError:    kind,
	}
	c.log.WithFields(logrus.Fields{
		"url":     item.URL,
		"attempt": attempt,
		"delay":   delay,
		"kind":    kind,
	}).Warn("Fetch failed, retry scheduled")
	return ticket, true
}

// MaxRetries exposes the configured budget (used in reports).
func (c *Controller) MaxRetries() int { return c.maxRetries }
