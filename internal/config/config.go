// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Mode     string         `mapstructure:"mode"`
	Server   ServerConfig   `mapstructure:"server"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
	Reddit   RedditConfig   `mapstructure:"reddit"`
	Gateway  GatewayConfig  `mapstructure:"gateway"`
	Crawl    CrawlConfig    `mapstructure:"crawl"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls the ops HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// ScheduleConfig controls recurring runs in serve mode.
type ScheduleConfig struct {
	Spec         string `mapstructure:"spec"`
	RunAtStartup bool   `mapstructure:"run_at_startup"`
}

// RedditConfig holds source platform credentials and client tuning.
type RedditConfig struct {
	ClientID          string  `mapstructure:"client_id"`
	ClientSecret      string  `mapstructure:"client_secret"`
	Username          string  `mapstructure:"username"`
	Password          string  `mapstructure:"password"`
	UserAgent         string  `mapstructure:"user_agent"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	TimeoutSeconds    int     `mapstructure:"timeout_seconds"`
	MaxRetries        int     `mapstructure:"max_retries"`
}

// GatewayConfig holds the persistence API endpoints and write key. Mode
// selects which base URL is active.
type GatewayConfig struct {
	LocalURL       string `mapstructure:"local_url"`
	DeployedURL    string `mapstructure:"deployed_url"`
	WriteKey       string `mapstructure:"write_key"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// CrawlConfig governs traversal fan-out, sampling, and caching behavior.
type CrawlConfig struct {
	BoardConcurrency   int           `mapstructure:"board_concurrency"`
	PostConcurrency    int           `mapstructure:"post_concurrency"`
	CommentConcurrency int           `mapstructure:"comment_concurrency"`
	PostLimit          int           `mapstructure:"post_limit"`
	HotPostProbability float64       `mapstructure:"hot_post_probability"`
	MaxTreeComments    int           `mapstructure:"max_tree_comments"`
	MaxTreeDepth       int           `mapstructure:"max_tree_depth"`
	HistoryLimit       int           `mapstructure:"history_limit"`
	WriteBatchSize     int           `mapstructure:"write_batch_size"`
	ExcludedAuthors    []string      `mapstructure:"excluded_authors"`
	BoardListTTL       time.Duration `mapstructure:"board_list_ttl"`
	UserHistoryTTL     time.Duration `mapstructure:"user_history_ttl"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SPYGLASS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "local")
	v.SetDefault("server.port", 8080)
	v.SetDefault("schedule.spec", "@every 10m")
	v.SetDefault("schedule.run_at_startup", true)
	v.SetDefault("reddit.user_agent", "spyglass-crawler/1.0 (subreddit analysis)")
	v.SetDefault("reddit.requests_per_second", 1.0)
	v.SetDefault("reddit.timeout_seconds", 15)
	v.SetDefault("reddit.max_retries", 3)
	v.SetDefault("gateway.local_url", "http://localhost:5173")
	v.SetDefault("gateway.deployed_url", "https://spyglass-gamma.vercel.app")
	v.SetDefault("gateway.timeout_seconds", 15)
	v.SetDefault("crawl.board_concurrency", 4)
	v.SetDefault("crawl.post_concurrency", 5)
	v.SetDefault("crawl.comment_concurrency", 10)
	v.SetDefault("crawl.post_limit", 5)
	v.SetDefault("crawl.hot_post_probability", 0.3)
	v.SetDefault("crawl.max_tree_comments", 100)
	v.SetDefault("crawl.max_tree_depth", 5)
	v.SetDefault("crawl.history_limit", 100)
	v.SetDefault("crawl.write_batch_size", 5)
	v.SetDefault("crawl.excluded_authors", []string{"[deleted]", "AutoModerator"})
	v.SetDefault("crawl.board_list_ttl", "5m")
	v.SetDefault("crawl.user_history_ttl", "24h")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Mode != "local" && c.Mode != "deployed" {
		return fmt.Errorf("mode must be local or deployed, got %q", c.Mode)
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Schedule.Spec == "" {
		return fmt.Errorf("schedule.spec must be set")
	}
	if c.Crawl.BoardConcurrency <= 0 || c.Crawl.PostConcurrency <= 0 || c.Crawl.CommentConcurrency <= 0 {
		return fmt.Errorf("crawl concurrency gates must be > 0")
	}
	if c.Crawl.HotPostProbability < 0 || c.Crawl.HotPostProbability > 1 {
		return fmt.Errorf("crawl.hot_post_probability must be within [0, 1]")
	}
	if c.Crawl.MaxTreeComments <= 0 || c.Crawl.MaxTreeDepth <= 0 {
		return fmt.Errorf("comment tree expansion must be bounded")
	}
	if c.Crawl.HistoryLimit <= 0 {
		return fmt.Errorf("crawl.history_limit must be > 0")
	}
	if c.Crawl.WriteBatchSize <= 0 {
		return fmt.Errorf("crawl.write_batch_size must be > 0")
	}
	if c.Reddit.TimeoutSeconds <= 0 || c.Gateway.TimeoutSeconds <= 0 {
		return fmt.Errorf("request timeouts must be > 0")
	}
	return nil
}

// GatewayBaseURL returns the persistence API base URL for the active mode.
func (c Config) GatewayBaseURL() string {
	if c.Mode == "deployed" {
		return c.Gateway.DeployedURL
	}
	return c.Gateway.LocalURL
}

// RedditTimeout converts the configured timeout into a duration.
func (c Config) RedditTimeout() time.Duration {
	return time.Duration(c.Reddit.TimeoutSeconds) * time.Second
}

// GatewayTimeout converts the configured timeout into a duration.
func (c Config) GatewayTimeout() time.Duration {
	return time.Duration(c.Gateway.TimeoutSeconds) * time.Second
}
