package main

import (
	"fmt"
	"strings"

	"github.com/aluiziolira/go-scrape-cars/config"
)

// applyEnv overlays environment variables onto cfg. Flags parsed afterwards
// take precedence.
func applyEnv(cfg *config.Config) error {
	strs := []struct {
		key string
		dst *string
	}{
		{"SCRAPER_QUERY", &cfg.Query},
		{"SCRAPER_MODE", &cfg.Mode},
		{"SCRAPER_SOURCES_FILE", &cfg.SourcesFile},
		{"PROXY_FILE", &cfg.ProxyFile},
		{"PROXY_RELAY_ADDR", &cfg.ProxyRelayAddr},
		{"PROXY_CHECK_URL", &cfg.ProxyCheckURL},
		{"STORE_TYPE", &cfg.StoreType},
		{"STORE_PATH", &cfg.StorePath},
		{"PG_DSN", &cfg.PostgresDSN},
		{"MONGO_URI", &cfg.MongoURI},
		{"MONGO_DATABASE", &cfg.MongoDatabase},
		{"NOTIFY_WEBHOOK_URL", &cfg.WebhookURL},
		{"NOTIFY_KAFKA_TOPIC", &cfg.KafkaTopic},
		{"NOTIFY_MIN_VERDICT", &cfg.NotifyMinVerdict},
		{"SCRAPER_METRICS_ADDR", &cfg.MetricsAddr},
	}
	for _, s := range strs {
		if value, ok := config.EnvString(s.key); ok {
			*s.dst = value
		}
	}

	if value, ok := config.EnvString("PROXY_LIST"); ok {
		cfg.ProxyList = config.SplitList(value)
	}
	if value, ok := config.EnvString("NOTIFY_KAFKA_BROKERS"); ok {
		cfg.KafkaBrokers = config.SplitList(value)
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"SCRAPER_MIN_PRICE", &cfg.MinPrice},
		{"SCRAPER_MAX_PRICE", &cfg.MaxPrice},
		{"SCRAPER_MIN_SOURCES", &cfg.MinSources},
		{"SCRAPER_MIN_LISTINGS", &cfg.MinListings},
		{"SCRAPER_MAX_ATTEMPTS", &cfg.MaxAttempts},
		{"PROXY_REFRESH_CYCLES", &cfg.ProxyRefreshCycles},
		{"PIPELINE_WORKERS", &cfg.PipelineWorkers},
	}
	for _, i := range ints {
		value, ok, err := config.EnvInt(i.key)
		if err != nil {
			return err
		}
		if ok {
			*i.dst = value
		}
	}

	bools := []struct {
		key string
		dst *bool
	}{
		{"USE_PROXY", &cfg.UseProxy},
		{"PROXY_AUTO_FETCH", &cfg.ProxyAutoFetch},
		{"SCRAPER_RESPECT_ROBOTS", &cfg.RespectRobotsTxt},
		{"SCRAPER_ONCE", &cfg.Once},
	}
	for _, b := range bools {
		value, ok, err := config.EnvBool(b.key)
		if err != nil {
			return err
		}
		if ok {
			*b.dst = value
		}
	}

	if value, ok, err := config.EnvDuration("SCRAPER_INTERVAL"); err != nil {
		return err
	} else if ok {
		cfg.Interval = value
	}
	if value, ok, err := config.EnvDuration("PROXY_REFRESH_INTERVAL"); err != nil {
		return err
	} else if ok {
		cfg.ProxyRefreshInterval = value
	}
	if value, ok, err := config.EnvDuration("SCRAPER_TIMEOUT"); err != nil {
		return err
	} else if ok {
		cfg.Timeout = value
	}
	if value, ok, err := config.EnvFloat("SCRAPER_REQUEST_RPS"); err != nil {
		return err
	} else if ok {
		cfg.RequestRPS = value
	}
	return nil
}

// loadSources applies the YAML descriptor table and per-source env overrides.
func loadSources(cfg *config.Config) error {
	if cfg.SourcesFile != "" {
		sources, err := config.LoadSources(cfg.SourcesFile, cfg.Sources)
		if err != nil {
			return err
		}
		cfg.Sources = sources
	}
	if err := config.ApplySourceEnv(cfg.Sources); err != nil {
		return fmt.Errorf("source env: %w", err)
	}
	cfg.Mode = strings.ToLower(cfg.Mode)
	cfg.StoreType = strings.ToLower(cfg.StoreType)
	return nil
}
