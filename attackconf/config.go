// Package attackconf provides loading and parsing of attackmap.yaml
// configuration files. All accessors tolerate nil sections and fall back to
// working defaults, so a missing or sparse file never blocks startup.
package attackconf

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents an attackmap.yaml configuration file.
type Config struct {
	// Catalog configures the ATT&CK catalog source and cache.
	Catalog *CatalogConfig `yaml:"catalog,omitempty"`

	// Mapper configures match filtering.
	Mapper *MapperConfig `yaml:"mapper,omitempty"`

	// Navigator configures layer score scaling and color buckets.
	Navigator *NavigatorConfig `yaml:"navigator,omitempty"`

	// Dashboards configures rendered output locations.
	Dashboards *DashboardsConfig `yaml:"dashboards,omitempty"`

	// Store configures per-case match persistence.
	Store *StoreConfig `yaml:"store,omitempty"`
}

// CatalogConfig configures the catalog store.
type CatalogConfig struct {
	// SourceURL is the STIX bundle to fetch.
	SourceURL string `yaml:"source_url,omitempty"`

	// CachePath is the on-disk cache document location.
	CachePath string `yaml:"cache_path,omitempty"`

	// TTL is how long a cached snapshot stays fresh.
	// Format: Go duration string (e.g., "168h").
	// Default: 168h
	TTL string `yaml:"ttl,omitempty"`

	// RefreshInterval is the background refresh cadence.
	// Format: Go duration string (e.g., "12h").
	// Default: 12h
	RefreshInterval string `yaml:"refresh_interval,omitempty"`

	// AutoRefresh starts a background refresher on the catalog store.
	// Default: false (refresh happens on demand)
	AutoRefresh bool `yaml:"auto_refresh,omitempty"`
}

// GetSourceURL returns the configured bundle URL or the upstream
// enterprise-attack default.
func (c *CatalogConfig) GetSourceURL() string {
	if c == nil || c.SourceURL == "" {
		return "https://raw.githubusercontent.com/mitre/cti/master/enterprise-attack/enterprise-attack.json"
	}
	return c.SourceURL
}

// GetCachePath returns the configured cache path, defaulting to
// ~/.attackmap/catalog.json (or ./attackmap-catalog.json when the home
// directory cannot be resolved).
func (c *CatalogConfig) GetCachePath() string {
	if c != nil && c.CachePath != "" {
		return c.CachePath
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "attackmap-catalog.json"
	}
	return filepath.Join(home, ".attackmap", "catalog.json")
}

// GetTTL parses the TTL string and returns a duration.
// Returns the default value if not set or invalid.
func (c *CatalogConfig) GetTTL() time.Duration {
	if c == nil || c.TTL == "" {
		return 168 * time.Hour
	}
	d, err := time.ParseDuration(c.TTL)
	if err != nil || d <= 0 {
		return 168 * time.Hour
	}
	return d
}

// GetRefreshInterval parses the refresh interval string and returns a
// duration. Returns the default value if not set or invalid.
func (c *CatalogConfig) GetRefreshInterval() time.Duration {
	if c == nil || c.RefreshInterval == "" {
		return 12 * time.Hour
	}
	d, err := time.ParseDuration(c.RefreshInterval)
	if err != nil || d <= 0 {
		return 12 * time.Hour
	}
	return d
}

// GetAutoRefresh reports whether the catalog store should refresh itself in
// the background.
func (c *CatalogConfig) GetAutoRefresh() bool {
	if c == nil {
		return false
	}
	return c.AutoRefresh
}

// MapperConfig configures match filtering.
type MapperConfig struct {
	// MinConfidence drops matches scoring below it.
	// Default: 0 (keep everything above the per-artifact thresholds)
	MinConfidence float64 `yaml:"min_confidence,omitempty"`

	// CustomMappings extends the built-in mapping table with
	// site-specific artifact rules.
	CustomMappings []CustomMappingConfig `yaml:"custom_mappings,omitempty"`
}

// CustomMappingConfig is one authored artifact to technique mapping.
type CustomMappingConfig struct {
	// ArtifactType is the artifact kind the mapping applies to.
	ArtifactType string `yaml:"artifact_type"`

	// TechniqueID is the mapped ATT&CK identifier.
	TechniqueID string `yaml:"technique_id"`

	// Confidence is the authored base confidence in [0,1].
	Confidence float64 `yaml:"confidence"`
}

// GetMinConfidence returns the configured floor clamped to [0,1].
func (m *MapperConfig) GetMinConfidence() float64 {
	if m == nil || m.MinConfidence < 0 {
		return 0
	}
	if m.MinConfidence > 1 {
		return 1
	}
	return m.MinConfidence
}

// GetCustomMappings returns the configured custom mappings, or nil when the
// section is absent.
func (m *MapperConfig) GetCustomMappings() []CustomMappingConfig {
	if m == nil {
		return nil
	}
	return m.CustomMappings
}

// NavigatorConfig configures layer rendering.
type NavigatorConfig struct {
	// MaxScore is the layer score for confidence 1.0. Default: 100
	MaxScore int `yaml:"max_score,omitempty"`

	// LowMax is the exclusive upper bound of the low-confidence bucket.
	// Default: 0.5
	LowMax float64 `yaml:"low_max,omitempty"`

	// HighMin is the inclusive lower bound of the high-confidence bucket.
	// Default: 0.8
	HighMin float64 `yaml:"high_min,omitempty"`
}

// GetMaxScore returns the configured scale or the default value.
func (n *NavigatorConfig) GetMaxScore() int {
	if n == nil || n.MaxScore <= 0 {
		return 100
	}
	return n.MaxScore
}

// GetLowMax returns the low bucket boundary or the default value.
func (n *NavigatorConfig) GetLowMax() float64 {
	if n == nil || n.LowMax <= 0 || n.LowMax > 1 {
		return 0.5
	}
	return n.LowMax
}

// GetHighMin returns the high bucket boundary or the default value.
func (n *NavigatorConfig) GetHighMin() float64 {
	if n == nil || n.HighMin <= 0 || n.HighMin > 1 {
		return 0.8
	}
	return n.HighMin
}

// DashboardsConfig configures rendered output locations.
type DashboardsConfig struct {
	// OutputDir receives the rendered dashboard files. Default: "dashboards"
	OutputDir string `yaml:"output_dir,omitempty"`
}

// GetOutputDir returns the output directory or the default value.
func (d *DashboardsConfig) GetOutputDir() string {
	if d == nil || d.OutputDir == "" {
		return "dashboards"
	}
	return d.OutputDir
}

// StoreConfig configures per-case match persistence.
type StoreConfig struct {
	// Backend selects the store implementation: "memory", "file", or
	// "redis". Default: "memory"
	Backend string `yaml:"backend,omitempty"`

	// Dir is the base directory for the file backend. Default: "cases"
	Dir string `yaml:"dir,omitempty"`

	// RedisURL is the connection string for the redis backend.
	// Default: "redis://localhost:6379"
	RedisURL string `yaml:"redis_url,omitempty"`
}

// GetBackend returns the configured backend name or the default value.
func (s *StoreConfig) GetBackend() string {
	if s == nil || s.Backend == "" {
		return "memory"
	}
	return s.Backend
}

// GetDir returns the file backend directory or the default value.
func (s *StoreConfig) GetDir() string {
	if s == nil || s.Dir == "" {
		return "cases"
	}
	return s.Dir
}

// GetRedisURL returns the redis connection string or the default value.
func (s *StoreConfig) GetRedisURL() string {
	if s == nil || s.RedisURL == "" {
		return "redis://localhost:6379"
	}
	return s.RedisURL
}

// Load reads and parses an attackmap.yaml file from the given path.
// If the path is a directory, it looks for attackmap.yaml or attackmap.yml
// in that directory.
func Load(path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat path: %w", err)
	}

	var configPath string
	if info.IsDir() {
		yamlPath := filepath.Join(path, "attackmap.yaml")
		if _, err := os.Stat(yamlPath); err == nil {
			configPath = yamlPath
		} else {
			ymlPath := filepath.Join(path, "attackmap.yml")
			if _, err := os.Stat(ymlPath); err == nil {
				configPath = ymlPath
			} else {
				return nil, fmt.Errorf("no attackmap.yaml or attackmap.yml found in %s", path)
			}
		}
	} else {
		configPath = path
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

// LoadFromDir searches for attackmap.yaml starting from the given directory
// and walking up to parent directories until found or root is reached.
func LoadFromDir(dir string) (*Config, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	for {
		config, err := Load(absDir)
		if err == nil {
			return config, nil
		}

		parent := filepath.Dir(absDir)
		if parent == absDir {
			return nil, fmt.Errorf("no attackmap.yaml found in %s or parent directories", dir)
		}
		absDir = parent
	}
}
