package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// SourceConfig is one row of the adapter descriptor table.
type SourceConfig struct {
	Name     string        `yaml:"name"`
	Priority int           `yaml:"priority"`
	Timeout  time.Duration `yaml:"timeout"`
	Enabled  bool          `yaml:"enabled"`
	Cap      int           `yaml:"cap"`
}

// Validate checks a single descriptor.
func (s SourceConfig) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("source name cannot be empty")
	}
	if s.Timeout <= 0 {
		return fmt.Errorf("source %s: timeout must be positive", s.Name)
	}
	if s.Cap <= 0 {
		return fmt.Errorf("source %s: cap must be positive", s.Name)
	}
	return nil
}

// DefaultSources returns the built-in descriptor table.
func DefaultSources() []SourceConfig {
	return []SourceConfig{
		{Name: "bazos", Priority: 1, Timeout: 20 * time.Second, Enabled: true, Cap: 15},
		{Name: "autobazar", Priority: 2, Timeout: 20 * time.Second, Enabled: true, Cap: 15},
		// Upstream search URL returns 404 since the site was restructured.
		{Name: "autosme", Priority: 3, Timeout: 20 * time.Second, Enabled: false, Cap: 15},
	}
}

type sourcesFile struct {
	Sources []struct {
		Name     string `yaml:"name"`
		Priority *int   `yaml:"priority"`
		Timeout  string `yaml:"timeout"`
		Enabled  *bool  `yaml:"enabled"`
		Cap      *int   `yaml:"cap"`
	} `yaml:"sources"`
}

// LoadSources reads a YAML descriptor file and overlays it onto base.
// Entries for names not present in base are appended.
func LoadSources(path string, base []SourceConfig) ([]SourceConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sources file: %w", err)
	}

	var file sourcesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse sources file: %w", err)
	}

	out := make([]SourceConfig, len(base))
	copy(out, base)
	index := make(map[string]int, len(out))
	for i, src := range out {
		index[src.Name] = i
	}

	for _, entry := range file.Sources {
		if entry.Name == "" {
			return nil, fmt.Errorf("sources file: entry without name")
		}
		i, ok := index[entry.Name]
		if !ok {
			out = append(out, SourceConfig{Name: entry.Name, Timeout: 20 * time.Second, Cap: 15})
			i = len(out) - 1
			index[entry.Name] = i
		}
		src := &out[i]
		if entry.Priority != nil {
			src.Priority = *entry.Priority
		}
		if entry.Enabled != nil {
			src.Enabled = *entry.Enabled
		}
		if entry.Cap != nil {
			src.Cap = *entry.Cap
		}
		if entry.Timeout != "" {
			d, err := time.ParseDuration(entry.Timeout)
			if err != nil {
				return nil, fmt.Errorf("sources file: %s timeout: %w", entry.Name, err)
			}
			src.Timeout = d
		}
	}
	return out, nil
}
