package utils

import (
	"context"
	"errors"
	"net"
	"os"
	"strings"
)

// --- Sentinel Errors for Categorization ---
var (
	ErrServerHTTPError  = errors.New("server HTTP error (5xx)")       // Wraps status; retryable
	ErrClientHTTPError  = errors.New("client HTTP error (4xx)")       // Wraps status; not retryable
	ErrTooManyRequests  = errors.New("rate limited by server (429)")  // Retryable despite being 4xx
	ErrOtherHTTPError   = errors.New("other HTTP error (non-2xx)")    // Wraps status
	ErrRobotsDisallowed = errors.New("disallowed by robots.txt")
	ErrScopeViolation   = errors.New("URL outside the seed domain")
	ErrNonContentURL    = errors.New("non-content URL extension")
	ErrMaxDepthExceeded = errors.New("maximum crawl depth exceeded")
	ErrURLLimitReached  = errors.New("maximum URL limit reached")
	ErrRetriesExhausted = errors.New("all retry attempts failed") // Wraps the last underlying error
	ErrParsing          = errors.New("parsing error")             // Wraps URL/HTML/JSON parse errors
	ErrFilesystem       = errors.New("filesystem error")          // Wraps os errors; fatal for the state store
	ErrDatabase         = errors.New("database error")            // Wraps badger errors
	ErrSnapshotCorrupt  = errors.New("snapshot corrupt or incompatible")
	ErrRequestCreation  = errors.New("failed to create HTTP request")
	ErrResponseBodyRead = errors.New("failed to read response body")
	ErrConfigValidation = errors.New("configuration validation error")
	ErrSeedFetch        = errors.New("seed URL fetch failed")
)

// CategorizeError maps an error to a predefined category string used in the
// final report and the fetch audit log.
func CategorizeError(err error) string {
	if err == nil {
		return "None"
	}

	switch {
	case errors.Is(err, ErrRetriesExhausted):
		// errors.Is traverses multi-%w wrapping, so check the whole chain
		// rather than a single Unwrap level.
		if errors.Is(err, ErrServerHTTPError) {
			return "RetriesExhausted_HTTPServer"
		}
		if errors.Is(err, ErrTooManyRequests) {
			return "RetriesExhausted_HTTP429"
		}
		errMsg := strings.ToLower(err.Error())
		if strings.Contains(errMsg, "timeout") || strings.Contains(errMsg, "deadline exceeded") {
			return "RetriesExhausted_NetworkTimeout"
		}
		if strings.Contains(errMsg, "connection refused") {
			return "RetriesExhausted_ConnectionRefused"
		}
		if strings.Contains(errMsg, "reset by peer") {
			return "RetriesExhausted_ConnectionReset"
		}
		return "RetriesExhausted_NetworkOther"
	case errors.Is(err, ErrTooManyRequests):
		return "HTTP_429"
	case errors.Is(err, ErrClientHTTPError):
		errMsg := err.Error()
		if strings.Contains(errMsg, " 404 ") {
			return "HTTP_404"
		}
		if strings.Contains(errMsg, " 403 ") {
			return "HTTP_403"
		}
		if strings.Contains(errMsg, " 401 ") {
			return "HTTP_401"
		}
		return "HTTP_4xx"
	case errors.Is(err, ErrServerHTTPError):
		return "HTTP_5xx"
	case errors.Is(err, ErrOtherHTTPError):
		return "HTTP_OtherStatus"
	case errors.Is(err, ErrRobotsDisallowed):
		return "Policy_Robots"
	case errors.Is(err, ErrScopeViolation):
		return "Policy_Scope"
	case errors.Is(err, ErrNonContentURL):
		return "Policy_Extension"
	case errors.Is(err, ErrMaxDepthExceeded):
		return "Policy_MaxDepth"
	case errors.Is(err, ErrURLLimitReached):
		return "Policy_URLLimit"
	case errors.Is(err, ErrParsing):
		if strings.Contains(err.Error(), "URL") {
			return "Parsing_URL"
		}
		return "Parsing_Other"
	case errors.Is(err, ErrFilesystem):
		if errors.Is(err, os.ErrPermission) {
			return "Filesystem_Permission"
		}
		if errors.Is(err, os.ErrNotExist) {
			return "Filesystem_NotExist"
		}
		return "Filesystem_Other"
	case errors.Is(err, ErrDatabase):
		return "Database_Other"
	case errors.Is(err, ErrSnapshotCorrupt):
		return "State_SnapshotCorrupt"
	case errors.Is(err, ErrRequestCreation):
		return "Internal_RequestCreation"
	case errors.Is(err, ErrResponseBodyRead):
		return "Network_BodyRead"
	case errors.Is(err, ErrConfigValidation):
		return "Config_Validation"
	case errors.Is(err, ErrSeedFetch):
		return "Seed_FetchFailed"
	}

	// --- Fallback checks for common underlying error types/strings ---

	if errors.Is(err, context.Canceled) {
		return "System_ContextCanceled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "System_ContextDeadlineExceeded"
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "Network_Timeout"
	}
	lowerErrMsg := strings.ToLower(err.Error())
	if strings.Contains(lowerErrMsg, "timeout") {
		return "Network_TimeoutGeneric"
	}
	if strings.Contains(lowerErrMsg, "connection refused") {
		return "Network_ConnectionRefused"
	}
	if strings.Contains(lowerErrMsg, "no such host") {
		return "Network_DNSLookup"
	}
	if strings.Contains(lowerErrMsg, "tls") || strings.Contains(lowerErrMsg, "certificate") {
		return "Network_TLS"
	}
	if strings.Contains(lowerErrMsg, "reset by peer") {
		return "Network_ConnectionReset"
	}
	if strings.Contains(lowerErrMsg, "broken pipe") {
		return "Network_BrokenPipe"
	}

	return "Unknown"
}
