package config

import "time"

// CrawlConfig holds the parameters of a single site crawl
type CrawlConfig struct {
	SeedURL           string        `yaml:"seed_url"`
	AllowedDomain     string        `yaml:"allowed_domain,omitempty"` // Defaults to the seed's host
	UserAgent         string        `yaml:"user_agent,omitempty"`
	DelayPerHost      time.Duration `yaml:"delay_per_host,omitempty"`
	MaxDepth          int           `yaml:"max_depth"`
	MaxURLs           int           `yaml:"max_urls,omitempty"`
	RespectNofollow   bool          `yaml:"respect_nofollow,omitempty"`
	SkippedExtensions []string      `yaml:"skipped_extensions,omitempty"` // Overrides the built-in non-content extension list
	MaxBodySizeBytes  int64         `yaml:"max_body_size_bytes,omitempty"`
	PerFetchTimeout   time.Duration `yaml:"per_fetch_timeout,omitempty"`
}

// RenderConfig holds settings for optional JavaScript rendering
type RenderConfig struct {
	Enabled        bool          `yaml:"enabled"`
	MaxConcurrent  int           `yaml:"max_concurrent,omitempty"`
	RenderTimeout  time.Duration `yaml:"render_timeout,omitempty"`
	MinVisibleText int           `yaml:"min_visible_text,omitempty"` // Visible-text threshold for the render heuristic
}

// AppConfig holds the global application configuration
type AppConfig struct {
	NumWorkers           int              `yaml:"num_workers"`
	MaxRetries           int              `yaml:"max_retries,omitempty"`
	InitialRetryDelay    time.Duration    `yaml:"initial_retry_delay,omitempty"`
	MaxRetryDelay        time.Duration    `yaml:"max_retry_delay,omitempty"`
	GlobalCrawlTimeout   time.Duration    `yaml:"global_crawl_timeout,omitempty"`
	StateDir             string           `yaml:"state_dir"`
	OutputBaseDir        string           `yaml:"output_base_dir"`
	CheckpointInterval   time.Duration    `yaml:"checkpoint_interval,omitempty"`
	CheckpointEveryPages int              `yaml:"checkpoint_every_pages,omitempty"`
	IdleBackoff          time.Duration    `yaml:"idle_backoff,omitempty"` // Worker sleep when no work is ready yet
	HTTPClientSettings   HTTPClientConfig `yaml:"http_client_settings,omitempty"`
	Render               RenderConfig     `yaml:"render,omitempty"`
	Crawl                CrawlConfig      `yaml:"crawl"`
}

// HTTPClientConfig holds settings for the shared HTTP client
type HTTPClientConfig struct {
	Timeout               time.Duration `yaml:"timeout,omitempty"`                 // Overall request timeout
	MaxIdleConns          int           `yaml:"max_idle_conns,omitempty"`          // Max total idle connections
	MaxIdleConnsPerHost   int           `yaml:"max_idle_conns_per_host,omitempty"` // Max idle connections per host
	IdleConnTimeout       time.Duration `yaml:"idle_conn_timeout,omitempty"`       // Timeout for idle connections
	TLSHandshakeTimeout   time.Duration `yaml:"tls_handshake_timeout,omitempty"`   // Timeout for TLS handshake
	ExpectContinueTimeout time.Duration `yaml:"expect_continue_timeout,omitempty"` // Timeout for 100-continue
	DialerTimeout         time.Duration `yaml:"dialer_timeout,omitempty"`          // Connection dial timeout
	DialerKeepAlive       time.Duration `yaml:"dialer_keep_alive,omitempty"`       // TCP keep-alive interval
}
