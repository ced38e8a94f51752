package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "local", cfg.Mode)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "@every 10m", cfg.Schedule.Spec)
	assert.True(t, cfg.Schedule.RunAtStartup)
	assert.Equal(t, 4, cfg.Crawl.BoardConcurrency)
	assert.Equal(t, 5, cfg.Crawl.PostConcurrency)
	assert.Equal(t, 10, cfg.Crawl.CommentConcurrency)
	assert.InDelta(t, 0.3, cfg.Crawl.HotPostProbability, 1e-9)
	assert.Equal(t, []string{"[deleted]", "AutoModerator"}, cfg.Crawl.ExcludedAuthors)
	assert.Equal(t, 5*time.Minute, cfg.Crawl.BoardListTTL)
	assert.Equal(t, 24*time.Hour, cfg.Crawl.UserHistoryTTL)
	assert.Equal(t, 15*time.Second, cfg.RedditTimeout())
	assert.Equal(t, "http://localhost:5173", cfg.GatewayBaseURL())
}

func TestLoadFileOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode: deployed
server:
  port: 9090
crawl:
  board_concurrency: 2
  hot_post_probability: 0
gateway:
  deployed_url: https://example.com
  write_key: sekrit
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "deployed", cfg.Mode)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 2, cfg.Crawl.BoardConcurrency)
	assert.Zero(t, cfg.Crawl.HotPostProbability)
	assert.Equal(t, "https://example.com", cfg.GatewayBaseURL())
	// Untouched keys keep their defaults.
	assert.Equal(t, 5, cfg.Crawl.PostConcurrency)
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid, err := Load("")
	require.NoError(t, err)

	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad mode", func(c *Config) { c.Mode = "staging" }, "mode"},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"empty schedule", func(c *Config) { c.Schedule.Spec = "" }, "schedule.spec"},
		{"zero gate", func(c *Config) { c.Crawl.CommentConcurrency = 0 }, "concurrency"},
		{"probability above one", func(c *Config) { c.Crawl.HotPostProbability = 1.5 }, "hot_post_probability"},
		{"unbounded tree", func(c *Config) { c.Crawl.MaxTreeDepth = 0 }, "bounded"},
		{"zero timeout", func(c *Config) { c.Gateway.TimeoutSeconds = 0 }, "timeout"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid
			tc.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}

	require.NoError(t, valid.Validate())
}
