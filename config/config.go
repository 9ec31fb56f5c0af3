package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Run modes understood by the orchestrator.
const (
	ModeParallel = "parallel"
	ModeFallback = "fallback"
)

// Config holds scraper configuration.
type Config struct {
	Query    string
	MinPrice int
	MaxPrice int
	Mode     string
	Interval time.Duration
	Once     bool

	// Identity pool.
	UseProxy             bool
	ProxyList            []string
	ProxyFile            string
	ProxyAutoFetch       bool
	ProxyRelayAddr       string
	ProxyCheckURL        string
	ProxyCheckTimeout    time.Duration
	ProxyMaxCandidates   int
	ProxyCheckWorkers    int
	ProxyWanted          int
	ProxyRefreshCycles   int
	ProxyRefreshInterval time.Duration

	// Fetcher.
	Timeout          time.Duration
	MaxAttempts      int
	RetryBackoff     time.Duration
	RetryBackoffMax  time.Duration
	JitterMin        time.Duration
	JitterMax        time.Duration
	RequestRPS       float64
	BlockMarkers     []string
	RespectRobotsTxt bool

	// Orchestrator.
	Sources         []SourceConfig
	SourcesFile     string
	MinSources      int
	MinListings     int
	FallbackCooloff time.Duration

	// Persistence and delivery.
	StoreType         string // memory, csv, jsonl, dual, postgres, mongo
	StorePath         string
	PostgresDSN       string
	MongoURI          string
	MongoDatabase     string
	DedupeMaxSize     int
	PipelineWorkers   int
	WebhookURL        string
	KafkaBrokers      []string
	KafkaTopic        string
	NotifyMinVerdict  string
	MetricsAddr       string
	Verbose           bool
	ShutdownGraceTime time.Duration
}

// DefaultConfig returns conservative defaults for the car catalogs.
func DefaultConfig() *Config {
	return &Config{
		Query:    "octavia",
		MinPrice: 1000,
		MaxPrice: 30000,
		Mode:     ModeParallel,
		Interval: 60 * time.Second,

		UseProxy:             true,
		ProxyFile:            "proxies.txt",
		ProxyAutoFetch:       true,
		ProxyRelayAddr:       "127.0.0.1:9050",
		ProxyCheckURL:        "http://httpbin.org/ip",
		ProxyCheckTimeout:    5 * time.Second,
		ProxyMaxCandidates:   50,
		ProxyCheckWorkers:    10,
		ProxyWanted:          10,
		ProxyRefreshCycles:   30,
		ProxyRefreshInterval: 0,

		Timeout:         15 * time.Second,
		MaxAttempts:     3,
		RetryBackoff:    2 * time.Second,
		RetryBackoffMax: 10 * time.Second,
		JitterMin:       500 * time.Millisecond,
		JitterMax:       time.Second,
		BlockMarkers:    []string{"blocked", "access denied", "captcha", "recaptcha"},

		Sources:         DefaultSources(),
		MinSources:      1,
		FallbackCooloff: 2 * time.Second,

		StoreType:         "jsonl",
		StorePath:         "output/deals.jsonl",
		MongoDatabase:     "carscraper",
		DedupeMaxSize:     100000,
		PipelineWorkers:   4,
		KafkaTopic:        "car-deals",
		NotifyMinVerdict:  "SUPER_DEAL",
		ShutdownGraceTime: 5 * time.Second,
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Query) == "" {
		return fmt.Errorf("query cannot be empty")
	}
	if c.MinPrice < 0 {
		return fmt.Errorf("min price cannot be negative")
	}
	if c.MaxPrice > 0 && c.MaxPrice < c.MinPrice {
		return fmt.Errorf("max price (%d) cannot be below min price (%d)", c.MaxPrice, c.MinPrice)
	}
	if c.Mode != ModeParallel && c.Mode != ModeFallback {
		return fmt.Errorf("mode must be %s or %s", ModeParallel, ModeFallback)
	}
	if !c.Once && c.Interval <= 0 {
		return fmt.Errorf("interval must be positive")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("max attempts must be positive")
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("retry backoff cannot be negative")
	}
	if c.RetryBackoffMax < 0 {
		return fmt.Errorf("retry backoff max cannot be negative")
	}
	if c.RetryBackoffMax > 0 && c.RetryBackoff > c.RetryBackoffMax {
		return fmt.Errorf("retry backoff (%s) cannot exceed retry backoff max (%s)", c.RetryBackoff, c.RetryBackoffMax)
	}
	if c.JitterMin < 0 || c.JitterMax < c.JitterMin {
		return fmt.Errorf("jitter range %s..%s is invalid", c.JitterMin, c.JitterMax)
	}
	if c.RequestRPS < 0 {
		return fmt.Errorf("request rps cannot be negative")
	}
	if c.ProxyCheckURL != "" {
		parsed, err := url.Parse(c.ProxyCheckURL)
		if err != nil {
			return fmt.Errorf("invalid check URL: %w", err)
		}
		if parsed.Host == "" {
			return fmt.Errorf("check URL must include a host")
		}
	}
	for _, raw := range c.ProxyList {
		if _, err := url.Parse(raw); err != nil {
			return fmt.Errorf("invalid proxy %q: %w", raw, err)
		}
	}
	if c.ProxyRefreshCycles < 0 {
		return fmt.Errorf("proxy refresh cycles cannot be negative")
	}
	if c.MinSources < 0 || c.MinListings < 0 {
		return fmt.Errorf("success thresholds cannot be negative")
	}
	if len(c.Sources) == 0 {
		return fmt.Errorf("at least one source must be configured")
	}
	enabled := 0
	for _, src := range c.Sources {
		if err := src.Validate(); err != nil {
			return err
		}
		if src.Enabled {
			enabled++
		}
	}
	if enabled == 0 {
		return fmt.Errorf("all sources are disabled")
	}
	if c.MinSources > enabled {
		return fmt.Errorf("min sources (%d) exceeds enabled sources (%d)", c.MinSources, enabled)
	}
	switch c.StoreType {
	case "memory":
	case "csv", "jsonl", "dual":
		if c.StorePath == "" {
			return fmt.Errorf("store path cannot be empty for %s store", c.StoreType)
		}
	case "postgres":
		if c.PostgresDSN == "" {
			return fmt.Errorf("postgres store requires PG_DSN")
		}
	case "mongo":
		if c.MongoURI == "" {
			return fmt.Errorf("mongo store requires MONGO_URI")
		}
	default:
		return fmt.Errorf("store type must be memory, csv, jsonl, dual, postgres, or mongo")
	}
	if c.DedupeMaxSize <= 0 {
		return fmt.Errorf("dedupe max size must be positive")
	}
	if c.PipelineWorkers <= 0 {
		return fmt.Errorf("pipeline workers must be positive")
	}
	return nil
}

// Source returns the configuration for a named source.
func (c *Config) Source(name string) (SourceConfig, bool) {
	for _, src := range c.Sources {
		if src.Name == name {
			return src, true
		}
	}
	return SourceConfig{}, false
}
