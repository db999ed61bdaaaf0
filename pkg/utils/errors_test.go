package utils

import (
	"context"
	"fmt"
	"testing"
)

func TestCategorizeError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, "None"},
		{"robots", fmt.Errorf("%w: /private", ErrRobotsDisallowed), "Policy_Robots"},
		{"extension", ErrNonContentURL, "Policy_Extension"},
		{"max depth", ErrMaxDepthExceeded, "Policy_MaxDepth"},
		{"url limit", ErrURLLimitReached, "Policy_URLLimit"},
		{"server 5xx", fmt.Errorf("%w: status 502 502 Bad Gateway", ErrServerHTTPError), "HTTP_5xx"},
		{"429", fmt.Errorf("%w: status 429 429 Too Many Requests", ErrTooManyRequests), "HTTP_429"},
		{"404", fmt.Errorf("%w: status 404 404 Not Found", ErrClientHTTPError), "HTTP_404"},
		{"403", fmt.Errorf("%w: status 403 403 Forbidden", ErrClientHTTPError), "HTTP_403"},
		{"plain 4xx", fmt.Errorf("%w: status 410 410 Gone", ErrClientHTTPError), "HTTP_4xx"},
		{"cancelled", context.Canceled, "System_ContextCanceled"},
		{"deadline", context.DeadlineExceeded, "System_ContextDeadlineExceeded"},
		{"url parse", fmt.Errorf("%w: bad URL 'x'", ErrParsing), "Parsing_URL"},
		{"body read", fmt.Errorf("%w: too large", ErrResponseBodyRead), "Network_BodyRead"},
		{"seed", fmt.Errorf("%w: HTTP 404", ErrSeedFetch), "Seed_FetchFailed"},
		{"unmatched", fmt.Errorf("something odd"), "Unknown"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CategorizeError(tc.err); got != tc.want {
				t.Errorf("CategorizeError(%v) = %q, want %q", tc.err, got, tc.want)
			}
		})
	}
}

// Exhausted retries wrap the original failure with a second %w verb, so the
// category must reflect the underlying cause even through the double wrap.
func TestCategorizeError_RetriesExhausted(t *testing.T) {
	cases := []struct {
		name  string
		cause error
		want  string
	}{
		{"server error", fmt.Errorf("%w: status 500 500 Internal Server Error", ErrServerHTTPError), "RetriesExhausted_HTTPServer"},
		{"429", fmt.Errorf("%w: status 429 429 Too Many Requests", ErrTooManyRequests), "RetriesExhausted_HTTP429"},
		{"connection refused", fmt.Errorf("dial tcp 127.0.0.1:80: connection refused"), "RetriesExhausted_ConnectionRefused"},
		{"connection reset", fmt.Errorf("read tcp: connection reset by peer"), "RetriesExhausted_ConnectionReset"},
		{"other network", fmt.Errorf("dial tcp: no route to host"), "RetriesExhausted_NetworkOther"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			wrapped := fmt.Errorf("%w: %w", ErrRetriesExhausted, tc.cause)
			if got := CategorizeError(wrapped); got != tc.want {
				t.Errorf("CategorizeError(%v) = %q, want %q", wrapped, got, tc.want)
			}
		})
	}
}
