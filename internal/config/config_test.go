package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

// load runs a throwaway app with the global flags and returns the parsed config
func load(t *testing.T, args ...string) (*Config, error) {
	t.Helper()
	flags := Flags()
	var cfg *Config
	app := &cli.App{
		Name:   "csync",
		Flags:  flags,
		Before: Before(flags),
		Action: func(c *cli.Context) error {
			var err error
			cfg, err = FromCLI(c)
			return err
		},
	}
	err := app.Run(append([]string{"csync"}, args...))
	return cfg, err
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "csync.db", cfg.DBPath)
	assert.Equal(t, "HEAD", cfg.ProbeMethod)
	assert.True(t, cfg.Backup.UseSSL)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty db", func(c *Config) { c.DBPath = "" }},
		{"ftp api", func(c *Config) { c.APIURL = "ftp://example.org" }},
		{"api without host", func(c *Config) { c.APIURL = "https://" }},
		{"zero sync timeout", func(c *Config) { c.SyncTimeout = 0 }},
		{"negative probe interval", func(c *Config) { c.ProbeInterval = -time.Second }},
		{"post probe", func(c *Config) { c.ProbeMethod = "POST" }},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestHealthURL(t *testing.T) {
	tests := []struct {
		api, path, expected string
	}{
		{"https://api.example.org", "/health", "https://api.example.org/health"},
		{"https://api.example.org/v1/", "health", "https://api.example.org/v1/health"},
		{"https://api.example.org", "https://status.example.org/ping", "https://status.example.org/ping"},
	}

	for _, tt := range tests {
		cfg := Default()
		cfg.APIURL = tt.api
		cfg.HealthPath = tt.path
		assert.Equal(t, tt.expected, cfg.HealthURL())
	}
}

func TestRequireAPI(t *testing.T) {
	cfg := Default()
	assert.Error(t, cfg.RequireAPI())
	cfg.APIURL = "https://api.example.org"
	assert.NoError(t, cfg.RequireAPI())
}

func TestFromCLIFlags(t *testing.T) {
	cfg, err := load(t,
		"--db", "/tmp/field.db",
		"--api-url", "https://api.example.org",
		"--probe-method", "get",
		"--probe-interval", "10s",
		"--backup-ssl=false",
		"--log-format", "json",
	)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/field.db", cfg.DBPath)
	assert.Equal(t, "https://api.example.org", cfg.APIURL)
	assert.Equal(t, 10*time.Second, cfg.ProbeInterval)
	assert.False(t, cfg.Backup.UseSSL)
	assert.Equal(t, "json", cfg.Log.Format)

	conn := cfg.Connectivity()
	assert.Equal(t, "GET", conn.Method)
	assert.Equal(t, "https://api.example.org/health", conn.URL)

	ing := cfg.Ingest("csync/test")
	assert.Equal(t, "https://api.example.org", ing.BaseURL)
	assert.Equal(t, cfg.SyncTimeout, ing.Timeout)
}

func TestFromCLIEnv(t *testing.T) {
	t.Setenv("CSYNC_API_URL", "http://10.0.0.2:8080")
	t.Setenv("CSYNC_SYNC_TIMEOUT", "90s")

	cfg, err := load(t)
	require.NoError(t, err)
	assert.Equal(t, "http://10.0.0.2:8080", cfg.APIURL)
	assert.Equal(t, 90*time.Second, cfg.SyncTimeout)
}

func TestFromCLIYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "csync.yaml")
	content := `api-url: https://yaml.example.org
probe-timeout: 2s
backup-bucket: respaldos
token: from-file
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := load(t, "--config", path, "--token", "from-flag")
	require.NoError(t, err)

	assert.Equal(t, "https://yaml.example.org", cfg.APIURL)
	assert.Equal(t, 2*time.Second, cfg.ProbeTimeout)
	assert.Equal(t, "respaldos", cfg.Backup.Bucket)
	assert.Equal(t, "from-flag", cfg.Token, "command line wins over the file")
}

func TestFromCLIInvalid(t *testing.T) {
	_, err := load(t, "--api-url", "not a url")
	assert.Error(t, err)
}
