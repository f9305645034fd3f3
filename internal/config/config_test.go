package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "https://api.stockdesk.io/v1", cfg.BaseURL)
	assert.Equal(t, "/auth/login", cfg.LoginPath)
	assert.Equal(t, "/auth/refresh", cfg.RefreshPath)
	assert.Equal(t, "/auth/logout", cfg.LogoutPath)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 5*time.Minute, cfg.RefreshLead)
	assert.Equal(t, "json", cfg.Format)
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
base_url: https://wms.internal.example.com/api
refresh_lead: 2m
verbose: 1
`), 0600))

	cfg := Default()
	loadFromFile(cfg, path, SourceGlobal)

	assert.Equal(t, "https://wms.internal.example.com/api", cfg.BaseURL)
	assert.Equal(t, 2*time.Minute, cfg.RefreshLead)
	assert.Equal(t, 1, cfg.Verbose)
	assert.Equal(t, string(SourceGlobal), cfg.Sources["base_url"])
	assert.Equal(t, string(SourceGlobal), cfg.Sources["refresh_lead"])

	// Untouched keys keep their default source (absent from Sources).
	assert.NotContains(t, cfg.Sources, "login_path")
}

func TestLoadFromFileMalformed(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("base_url: [unclosed"), 0600))

	cfg := Default()
	loadFromFile(cfg, path, SourceGlobal)

	// Malformed file is skipped; defaults survive.
	assert.Equal(t, "https://api.stockdesk.io/v1", cfg.BaseURL)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("STOCKDESK_BASE_URL", "https://staging.stockdesk.io/v1")
	t.Setenv("STOCKDESK_VERBOSE", "2")
	t.Setenv("STOCKDESK_REFRESH_LEAD", "90s")

	cfg := Default()
	LoadFromEnv(cfg)

	assert.Equal(t, "https://staging.stockdesk.io/v1", cfg.BaseURL)
	assert.Equal(t, 2, cfg.Verbose)
	assert.Equal(t, 90*time.Second, cfg.RefreshLead)
	assert.Equal(t, string(SourceEnv), cfg.Sources["base_url"])
}

func TestFlagsOverrideEnv(t *testing.T) {
	t.Setenv("STOCKDESK_BASE_URL", "https://env.example.com")

	cfg := Default()
	LoadFromEnv(cfg)
	ApplyOverrides(cfg, FlagOverrides{BaseURL: "https://flag.example.com"})

	assert.Equal(t, "https://flag.example.com", cfg.BaseURL)
	assert.Equal(t, string(SourceFlag), cfg.Sources["base_url"])
}

func TestNormalizeBaseURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://api.example.com/", "https://api.example.com"},
		{"https://api.example.com///", "https://api.example.com"},
		{"api.example.com", "https://api.example.com"},
		{"http://localhost:3000", "http://localhost:3000"},
		{"  https://api.example.com ", "https://api.example.com"},
		{"", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeBaseURL(tt.in), "input %q", tt.in)
	}
}

func TestLoadPrecedence(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("STOCKDESK_CONFIG_DIR", tmpDir)
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "config.yaml"), []byte(`
base_url: https://file.example.com
format: quiet
`), 0600))
	t.Setenv("STOCKDESK_FORMAT", "json")

	cfg, err := Load(FlagOverrides{})
	require.NoError(t, err)

	assert.Equal(t, "https://file.example.com", cfg.BaseURL)
	assert.Equal(t, "json", cfg.Format, "env overrides file")
}
