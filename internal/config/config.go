// Package config provides layered configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the resolved configuration.
type Config struct {
	// API settings
	BaseURL string `yaml:"base_url"`

	// Auth endpoint paths, relative to BaseURL.
	LoginPath   string `yaml:"login_path"`
	RefreshPath string `yaml:"refresh_path"`
	LogoutPath  string `yaml:"logout_path"`

	// RequestTimeout bounds a single HTTP request.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// RefreshLead is how long before token expiry the proactive refresh fires.
	RefreshLead time.Duration `yaml:"refresh_lead"`

	// ConfigDir holds persisted artifacts (fallback credential file).
	ConfigDir string `yaml:"config_dir"`

	// Output settings
	Format string `yaml:"format"`

	// Verbose enables debug logging when > 0.
	Verbose int `yaml:"verbose"`

	// Sources tracks where each value came from (for debugging).
	Sources map[string]string `yaml:"-"`
}

// Source indicates where a config value came from.
type Source string

const (
	SourceDefault Source = "default"
	SourceGlobal  Source = "global"
	SourceEnv     Source = "env"
	SourceFlag    Source = "flag"
)

// FlagOverrides holds command-line flag values.
type FlagOverrides struct {
	BaseURL string
	Format  string
	Verbose int
}

// fileConfig mirrors the keys accepted from the YAML config file.
type fileConfig struct {
	BaseURL        string `yaml:"base_url"`
	LoginPath      string `yaml:"login_path"`
	RefreshPath    string `yaml:"refresh_path"`
	LogoutPath     string `yaml:"logout_path"`
	RequestTimeout string `yaml:"request_timeout"`
	RefreshLead    string `yaml:"refresh_lead"`
	ConfigDir      string `yaml:"config_dir"`
	Format         string `yaml:"format"`
	Verbose        *int   `yaml:"verbose"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		BaseURL:        "https://api.stockdesk.io/v1",
		LoginPath:      "/auth/login",
		RefreshPath:    "/auth/refresh",
		LogoutPath:     "/auth/logout",
		RequestTimeout: 30 * time.Second,
		RefreshLead:    5 * time.Minute,
		ConfigDir:      GlobalConfigDir(),
		Format:         "json",
		Sources:        make(map[string]string),
	}
}

// GlobalConfigDir returns the global configuration directory.
func GlobalConfigDir() string {
	if dir := os.Getenv("STOCKDESK_CONFIG_DIR"); dir != "" {
		return dir
	}
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "stockdesk")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "stockdesk")
}

// globalConfigPath returns the path of the global YAML config file.
func globalConfigPath() string {
	return filepath.Join(GlobalConfigDir(), "config.yaml")
}

// Load loads configuration from all sources with proper precedence.
// Precedence: flags > env > global file > defaults.
func Load(overrides FlagOverrides) (*Config, error) {
	cfg := Default()

	loadFromFile(cfg, globalConfigPath(), SourceGlobal)
	LoadFromEnv(cfg)
	ApplyOverrides(cfg, overrides)

	cfg.BaseURL = NormalizeBaseURL(cfg.BaseURL)
	return cfg, nil
}

func loadFromFile(cfg *Config, path string, source Source) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: Path is from trusted config locations
	if err != nil {
		return // File doesn't exist, skip
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		fmt.Fprintf(os.Stderr, "warning: skipping malformed config at %s: %v\n", path, err)
		return
	}

	if fc.BaseURL != "" {
		cfg.BaseURL = fc.BaseURL
		cfg.Sources["base_url"] = string(source)
	}
	if fc.LoginPath != "" {
		cfg.LoginPath = fc.LoginPath
		cfg.Sources["login_path"] = string(source)
	}
	if fc.RefreshPath != "" {
		cfg.RefreshPath = fc.RefreshPath
		cfg.Sources["refresh_path"] = string(source)
	}
	if fc.LogoutPath != "" {
		cfg.LogoutPath = fc.LogoutPath
		cfg.Sources["logout_path"] = string(source)
	}
	if fc.RequestTimeout != "" {
		if d, err := time.ParseDuration(fc.RequestTimeout); err == nil && d > 0 {
			cfg.RequestTimeout = d
			cfg.Sources["request_timeout"] = string(source)
		}
	}
	if fc.RefreshLead != "" {
		if d, err := time.ParseDuration(fc.RefreshLead); err == nil && d > 0 {
			cfg.RefreshLead = d
			cfg.Sources["refresh_lead"] = string(source)
		}
	}
	if fc.ConfigDir != "" {
		cfg.ConfigDir = fc.ConfigDir
		cfg.Sources["config_dir"] = string(source)
	}
	if fc.Format != "" {
		cfg.Format = fc.Format
		cfg.Sources["format"] = string(source)
	}
	if fc.Verbose != nil && *fc.Verbose >= 0 {
		cfg.Verbose = *fc.Verbose
		cfg.Sources["verbose"] = string(source)
	}
}

// LoadFromEnv loads configuration from environment variables.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("STOCKDESK_BASE_URL"); v != "" {
		cfg.BaseURL = v
		cfg.Sources["base_url"] = string(SourceEnv)
	}
	if v := os.Getenv("STOCKDESK_FORMAT"); v != "" {
		cfg.Format = v
		cfg.Sources["format"] = string(SourceEnv)
	}
	if v := os.Getenv("STOCKDESK_VERBOSE"); v != "" {
		if level, err := strconv.Atoi(v); err == nil && level >= 0 {
			cfg.Verbose = level
			cfg.Sources["verbose"] = string(SourceEnv)
		}
	}
	if v := os.Getenv("STOCKDESK_REQUEST_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.RequestTimeout = d
			cfg.Sources["request_timeout"] = string(SourceEnv)
		}
	}
	if v := os.Getenv("STOCKDESK_REFRESH_LEAD"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.RefreshLead = d
			cfg.Sources["refresh_lead"] = string(SourceEnv)
		}
	}
}

// ApplyOverrides applies command-line flag values to the config.
func ApplyOverrides(cfg *Config, overrides FlagOverrides) {
	if overrides.BaseURL != "" {
		cfg.BaseURL = overrides.BaseURL
		cfg.Sources["base_url"] = string(SourceFlag)
	}
	if overrides.Format != "" {
		cfg.Format = overrides.Format
		cfg.Sources["format"] = string(SourceFlag)
	}
	if overrides.Verbose > 0 {
		cfg.Verbose = overrides.Verbose
		cfg.Sources["verbose"] = string(SourceFlag)
	}
}

// NormalizeBaseURL trims trailing slashes and defaults the scheme to https.
func NormalizeBaseURL(raw string) string {
	url := strings.TrimRight(strings.TrimSpace(raw), "/")
	if url == "" {
		return url
	}
	if !strings.Contains(url, "://") {
		url = "https://" + url
	}
	return url
}
