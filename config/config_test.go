package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name: "empty query",
			mutate: func(cfg *Config) {
				cfg.Query = "  "
			},
			wantErr: "query",
		},
		{
			name: "inverted price range",
			mutate: func(cfg *Config) {
				cfg.MinPrice = 5000
				cfg.MaxPrice = 1000
			},
			wantErr: "max price",
		},
		{
			name: "unknown mode",
			mutate: func(cfg *Config) {
				cfg.Mode = "serial"
			},
			wantErr: "mode",
		},
		{
			name: "negative timeout",
			mutate: func(cfg *Config) {
				cfg.Timeout = -1 * time.Second
			},
			wantErr: "timeout",
		},
		{
			name: "zero attempts",
			mutate: func(cfg *Config) {
				cfg.MaxAttempts = 0
			},
			wantErr: "max attempts",
		},
		{
			name: "backoff above max",
			mutate: func(cfg *Config) {
				cfg.RetryBackoff = time.Minute
				cfg.RetryBackoffMax = time.Second
			},
			wantErr: "retry backoff",
		},
		{
			name: "check url without host",
			mutate: func(cfg *Config) {
				cfg.ProxyCheckURL = "http://"
			},
			wantErr: "check URL",
		},
		{
			name: "all sources disabled",
			mutate: func(cfg *Config) {
				for i := range cfg.Sources {
					cfg.Sources[i].Enabled = false
				}
			},
			wantErr: "disabled",
		},
		{
			name: "min sources above enabled",
			mutate: func(cfg *Config) {
				cfg.MinSources = 3
			},
			wantErr: "min sources",
		},
		{
			name: "postgres without dsn",
			mutate: func(cfg *Config) {
				cfg.StoreType = "postgres"
			},
			wantErr: "PG_DSN",
		},
		{
			name: "unknown store",
			mutate: func(cfg *Config) {
				cfg.StoreType = "dynamo"
			},
			wantErr: "store type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate, got %v", err)
	}
}

func TestDefaultSourcesPriorityOrder(t *testing.T) {
	cfg := DefaultConfig()
	autosme, ok := cfg.Source("autosme")
	if !ok {
		t.Fatalf("autosme descriptor missing")
	}
	if autosme.Enabled {
		t.Fatalf("autosme should ship disabled")
	}
	for i := 1; i < len(cfg.Sources); i++ {
		if cfg.Sources[i-1].Priority >= cfg.Sources[i].Priority {
			t.Fatalf("sources not in priority order: %+v", cfg.Sources)
		}
	}
}

func TestLoadSourcesOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sources.yaml")
	body := `sources:
  - name: autosme
    enabled: true
    timeout: 5s
  - name: bazos
    priority: 9
    cap: 4
  - name: custom
    enabled: true
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	sources, err := LoadSources(path, DefaultSources())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(sources) != 4 {
		t.Fatalf("sources=%d, want 4", len(sources))
	}

	byName := make(map[string]SourceConfig)
	for _, src := range sources {
		byName[src.Name] = src
	}
	if got := byName["autosme"]; !got.Enabled || got.Timeout != 5*time.Second {
		t.Fatalf("autosme overlay = %+v", got)
	}
	if got := byName["bazos"]; got.Priority != 9 || got.Cap != 4 || !got.Enabled {
		t.Fatalf("bazos overlay = %+v", got)
	}
	if got := byName["custom"]; !got.Enabled || got.Timeout != 20*time.Second || got.Cap != 15 {
		t.Fatalf("custom entry = %+v", got)
	}
}

func TestLoadSourcesBadTimeout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sources.yaml")
	if err := os.WriteFile(path, []byte("sources:\n  - name: bazos\n    timeout: soon\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadSources(path, DefaultSources()); err == nil {
		t.Fatalf("expected timeout parse error")
	}
}

func TestApplySourceEnv(t *testing.T) {
	t.Setenv("SCRAPER_AUTOSME_ENABLED", "true")
	t.Setenv("SCRAPER_BAZOS_TIMEOUT", "3s")

	sources := DefaultSources()
	if err := ApplySourceEnv(sources); err != nil {
		t.Fatalf("apply: %v", err)
	}
	for _, src := range sources {
		switch src.Name {
		case "autosme":
			if !src.Enabled {
				t.Fatalf("autosme should be enabled by env")
			}
		case "bazos":
			if src.Timeout != 3*time.Second {
				t.Fatalf("bazos timeout=%s, want 3s", src.Timeout)
			}
		}
	}
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	t.Setenv("TEST_BOOL", "no")
	t.Setenv("TEST_BAD_INT", "forty")

	if v, ok, err := EnvInt("TEST_INT"); err != nil || !ok || v != 42 {
		t.Fatalf("EnvInt = %d, %v, %v", v, ok, err)
	}
	if v, ok, err := EnvBool("TEST_BOOL"); err != nil || !ok || v {
		t.Fatalf("EnvBool = %v, %v, %v", v, ok, err)
	}
	if _, _, err := EnvInt("TEST_BAD_INT"); err == nil {
		t.Fatalf("expected parse error")
	}
	if _, ok := EnvString("TEST_UNSET_KEY"); ok {
		t.Fatalf("unset key reported as set")
	}
	if got := SplitList(" a, ,b ,"); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("SplitList = %v", got)
	}
}
