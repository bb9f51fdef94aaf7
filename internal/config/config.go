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
	Logging  LoggingConfig  `mapstructure:"logging"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Database DatabaseConfig `mapstructure:"database"`
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Server   ServerConfig   `mapstructure:"server"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// RedisConfig controls access to the task state store.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// DatabaseConfig controls access to the relational database.
type DatabaseConfig struct {
	DSN             string `mapstructure:"dsn"`
	MaxConns        int32  `mapstructure:"max_conns"`
	MinConns        int32  `mapstructure:"min_conns"`
	ConnLifetimeMin int    `mapstructure:"conn_lifetime_minutes"`
}

// CrawlerConfig governs the crawl engine.
type CrawlerConfig struct {
	BaseURL         string   `mapstructure:"base_url"`
	FeedURL         string   `mapstructure:"feed_url"`
	UserAgent       string   `mapstructure:"user_agent"`
	CookieFile      string   `mapstructure:"cookie_file"`
	PageSize        int      `mapstructure:"page_size"`
	MaxCommentPages int      `mapstructure:"max_comment_pages"`
	MaxFeedPages    int      `mapstructure:"max_feed_pages"`
	FeedPageSize    int      `mapstructure:"feed_page_size"`
	CommentSorts    []string `mapstructure:"comment_sorts"`
	DelayMinMs      int      `mapstructure:"delay_min_ms"`
	DelayMaxMs      int      `mapstructure:"delay_max_ms"`
	IgnoreRobots    bool     `mapstructure:"ignore_robots"`
	SweepRetentionH int      `mapstructure:"sweep_retention_hours"`
}

// HTTPConfig configures the fetcher's transport behavior.
type HTTPConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// ServerConfig controls the status API server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
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
	v.SetDefault("logging.development", true)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "spider:cache")
	v.SetDefault("database.max_conns", 4)
	v.SetDefault("database.min_conns", 1)
	v.SetDefault("database.conn_lifetime_minutes", 30)
	v.SetDefault("crawler.base_url", "https://movie.douban.com")
	v.SetDefault("crawler.feed_url", "https://m.douban.com/rexxar/api/v2/movie/recommend")
	v.SetDefault("crawler.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64)")
	v.SetDefault("crawler.page_size", 20)
	v.SetDefault("crawler.max_comment_pages", 10)
	v.SetDefault("crawler.max_feed_pages", 5)
	v.SetDefault("crawler.feed_page_size", 20)
	v.SetDefault("crawler.comment_sorts", []string{"new_score", "time"})
	v.SetDefault("crawler.delay_min_ms", 1000)
	v.SetDefault("crawler.delay_max_ms", 3000)
	v.SetDefault("crawler.ignore_robots", true)
	v.SetDefault("crawler.sweep_retention_hours", 72)
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("server.port", 8080)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr must be set")
	}
	if c.Crawler.PageSize <= 0 {
		return fmt.Errorf("crawler.page_size must be > 0")
	}
	if c.Crawler.MaxCommentPages <= 0 {
		return fmt.Errorf("crawler.max_comment_pages must be > 0")
	}
	if c.Crawler.DelayMinMs < 0 || c.Crawler.DelayMaxMs < c.Crawler.DelayMinMs {
		return fmt.Errorf("crawler delay window is inverted")
	}
	if len(c.Crawler.CommentSorts) == 0 {
		return fmt.Errorf("crawler.comment_sorts must not be empty")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	return nil
}

// DelayMin returns the lower edge of the inter-request delay window.
func (c Config) DelayMin() time.Duration {
	return time.Duration(c.Crawler.DelayMinMs) * time.Millisecond
}

// DelayMax returns the upper edge of the inter-request delay window.
func (c Config) DelayMax() time.Duration {
	return time.Duration(c.Crawler.DelayMaxMs) * time.Millisecond
}

// FetchTimeout returns the per-request HTTP timeout.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// ConnLifetime returns the maximum Postgres connection lifetime.
func (c Config) ConnLifetime() time.Duration {
	return time.Duration(c.Database.ConnLifetimeMin) * time.Minute
}

// SweepRetention returns how long COMPLETED task records are kept.
func (c Config) SweepRetention() time.Duration {
	return time.Duration(c.Crawler.SweepRetentionH) * time.Hour
}
