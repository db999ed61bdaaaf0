package config

import (
	"fmt"
	"net/url"
	"time"

	"site-mapper/pkg/utils"
)

// Validate checks AppConfig fields and applies sensible defaults.
// Returns collected warnings and any fatal error.
// Modifies receiver in place to apply defaults.
func (c *AppConfig) Validate() (warnings []string, err error) {
	// NumWorkers
	if c.NumWorkers <= 0 {
		warnings = append(warnings, "num_workers should be > 0, defaulting to 4")
		c.NumWorkers = 4
	}

	// MaxRetries
	if c.MaxRetries < 0 {
		warnings = append(warnings, "max_retries cannot be negative, setting to 0")
		c.MaxRetries = 0
	}
	if c.MaxRetries == 0 && c.InitialRetryDelay == 0 {
		c.MaxRetries = 3
	}

	// Retry delays (only if retries enabled)
	if c.MaxRetries > 0 {
		if c.InitialRetryDelay <= 0 {
			c.InitialRetryDelay = 1 * time.Second
		}
		if c.MaxRetryDelay <= 0 {
			c.MaxRetryDelay = 30 * time.Second
		}
	}

	// InitialRetryDelay > MaxRetryDelay check
	if c.InitialRetryDelay > c.MaxRetryDelay && c.MaxRetryDelay > 0 {
		warnings = append(warnings, fmt.Sprintf(
			"initial_retry_delay (%v) > max_retry_delay (%v), using max_retry_delay for initial",
			c.InitialRetryDelay, c.MaxRetryDelay))
		c.InitialRetryDelay = c.MaxRetryDelay
	}

	// GlobalCrawlTimeout
	if c.GlobalCrawlTimeout < 0 {
		warnings = append(warnings, "global_crawl_timeout cannot be negative, disabling timeout")
		c.GlobalCrawlTimeout = 0
	}

	// StateDir
	if c.StateDir == "" {
		warnings = append(warnings, "state_dir is empty, defaulting to './crawl_state'")
		c.StateDir = "./crawl_state"
	}

	// OutputBaseDir
	if c.OutputBaseDir == "" {
		warnings = append(warnings, "output_base_dir is empty, defaulting to './site_maps'")
		c.OutputBaseDir = "./site_maps"
	}

	// Checkpoint cadence: either trigger may fire; both need sane floors
	if c.CheckpointInterval <= 0 {
		c.CheckpointInterval = 30 * time.Second
	}
	if c.CheckpointEveryPages <= 0 {
		c.CheckpointEveryPages = 25
	}

	// IdleBackoff
	if c.IdleBackoff <= 0 {
		c.IdleBackoff = 200 * time.Millisecond
	}

	c.validateHTTPClientSettings()
	c.validateRenderSettings(&warnings)

	return warnings, nil // AppConfig validation never fails fatally
}

// validateHTTPClientSettings applies defaults to HTTP client settings.
func (c *AppConfig) validateHTTPClientSettings() {
	h := &c.HTTPClientSettings
	if h.Timeout <= 0 {
		h.Timeout = 45 * time.Second
	}
	if h.MaxIdleConns <= 0 {
		h.MaxIdleConns = 100
	}
	if h.MaxIdleConnsPerHost <= 0 {
		h.MaxIdleConnsPerHost = 2
	}
	if h.IdleConnTimeout <= 0 {
		h.IdleConnTimeout = 90 * time.Second
	}
	if h.TLSHandshakeTimeout <= 0 {
		h.TLSHandshakeTimeout = 10 * time.Second
	}
	if h.ExpectContinueTimeout <= 0 {
		h.ExpectContinueTimeout = 1 * time.Second
	}
	if h.DialerTimeout <= 0 {
		h.DialerTimeout = 15 * time.Second
	}
	if h.DialerKeepAlive <= 0 {
		h.DialerKeepAlive = 30 * time.Second
	}
}

// validateRenderSettings applies defaults to the rendering settings.
func (c *AppConfig) validateRenderSettings(warnings *[]string) {
	r := &c.Render
	if !r.Enabled {
		return
	}
	if r.MaxConcurrent <= 0 {
		r.MaxConcurrent = 2
	}
	if r.RenderTimeout <= 0 {
		r.RenderTimeout = 30 * time.Second
	}
	if r.MinVisibleText < 0 {
		*warnings = append(*warnings, "render.min_visible_text cannot be negative, using default")
		r.MinVisibleText = 0
	}
}

// Validate checks CrawlConfig fields and applies defaults.
// Returns collected warnings and any fatal error.
// Modifies receiver in place (domain derivation, user agent default).
func (c *CrawlConfig) Validate() (warnings []string, err error) {
	// Required: SeedURL
	if c.SeedURL == "" {
		return nil, fmt.Errorf("%w: crawl needs a seed_url", utils.ErrConfigValidation)
	}
	parsed, parseErr := url.ParseRequestURI(c.SeedURL)
	if parseErr != nil {
		return nil, fmt.Errorf("%w: seed_url '%s' is not a valid absolute URL: %w",
			utils.ErrConfigValidation, c.SeedURL, parseErr)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("%w: seed_url scheme must be http or https, got '%s'",
			utils.ErrConfigValidation, parsed.Scheme)
	}

	// AllowedDomain derivation
	if c.AllowedDomain == "" {
		c.AllowedDomain = parsed.Hostname()
		warnings = append(warnings, fmt.Sprintf("allowed_domain not set, derived '%s' from seed_url", c.AllowedDomain))
	}

	// UserAgent
	if c.UserAgent == "" {
		c.UserAgent = "site-mapper/1.0"
	}

	// DelayPerHost
	if c.DelayPerHost < 0 {
		warnings = append(warnings, "delay_per_host cannot be negative, setting to 0")
		c.DelayPerHost = 0
	}

	// MaxDepth / MaxURLs: 0 means unbounded
	if c.MaxDepth < 0 {
		warnings = append(warnings, "max_depth cannot be negative, setting to 0 (unlimited)")
		c.MaxDepth = 0
	}
	if c.MaxURLs < 0 {
		warnings = append(warnings, "max_urls cannot be negative, setting to 0 (unlimited)")
		c.MaxURLs = 0
	}

	// MaxBodySizeBytes
	if c.MaxBodySizeBytes <= 0 {
		c.MaxBodySizeBytes = 10 << 20 // 10 MiB
	}

	// PerFetchTimeout
	if c.PerFetchTimeout < 0 {
		warnings = append(warnings, "per_fetch_timeout cannot be negative, disabling timeout")
		c.PerFetchTimeout = 0
	}

	return warnings, nil
}
