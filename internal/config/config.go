package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the harvester configuration loaded from environment variables
// and config files. It is built once and passed around immutably; no
// component mutates it after Load.
type Config struct {
	AppName  string `mapstructure:"app_name"`
	Env      string `mapstructure:"app_env"`
	LogLevel string `mapstructure:"log_level"`

	TargetsFile    string `mapstructure:"targets_file"`
	PublishersFile string `mapstructure:"publishers_file"`
	CookieFile     string `mapstructure:"cookie_file"`

	OutputDir     string `mapstructure:"output_dir"`
	TextDir       string `mapstructure:"text_output_dir"`
	MediaDir      string `mapstructure:"media_output_dir"`
	SaveFormat    string `mapstructure:"save_format"`
	LedgerType    string `mapstructure:"ledger_type"`
	LedgerPath    string `mapstructure:"ledger_path"`
	LedgerTTLSecs int64  `mapstructure:"ledger_failed_ttl_seconds"`
	LedgerTTL     time.Duration `mapstructure:"-"`

	// Per-stage and global admission ceilings.
	KeywordConcurrency       int `mapstructure:"keyword_concurrency"`
	PostDetailConcurrency    int `mapstructure:"post_detail_concurrency"`
	CommentConcurrency       int `mapstructure:"comment_concurrency"`
	UserConcurrency          int `mapstructure:"user_concurrency"`
	MediaDownloadConcurrency int `mapstructure:"media_download_concurrency"`
	GlobalConcurrency        int `mapstructure:"global_concurrency"`

	// Jitter window applied after every permit release, and the slower window
	// producers apply between result pages.
	RequestDelayLowMs  int64 `mapstructure:"request_delay_low_ms"`
	RequestDelayHighMs int64 `mapstructure:"request_delay_high_ms"`
	PageDelayLowMs     int64 `mapstructure:"page_delay_low_ms"`
	PageDelayHighMs    int64 `mapstructure:"page_delay_high_ms"`
	RequestDelayLow    time.Duration `mapstructure:"-"`
	RequestDelayHigh   time.Duration `mapstructure:"-"`
	PageDelayLow       time.Duration `mapstructure:"-"`
	PageDelayHigh      time.Duration `mapstructure:"-"`

	// Queued writer tuning.
	QueueCapacity   int           `mapstructure:"queue_capacity"`
	BatchSize       int           `mapstructure:"batch_size"`
	FlushIntervalMs int64         `mapstructure:"flush_interval_ms"`
	MaxWriteRetries int           `mapstructure:"max_write_retries"`
	FlushInterval   time.Duration `mapstructure:"-"`

	// Network fetch behavior.
	RequestTimeoutSecs int64         `mapstructure:"request_timeout_seconds"`
	RequestTimeout     time.Duration `mapstructure:"-"`

	// Media download behavior.
	EnableMediaDownload bool          `mapstructure:"enable_media_download"`
	OverwriteExisting   bool          `mapstructure:"overwrite_existing_media"`
	MaxDownloadAttempts int           `mapstructure:"max_download_attempts"`
	DownloadTimeoutSecs int64         `mapstructure:"download_timeout_seconds"`
	DownloadTimeout     time.Duration `mapstructure:"-"`

	// Shutdown drain behavior.
	DrainGraceMs int64         `mapstructure:"drain_grace_ms"`
	DrainGrace   time.Duration `mapstructure:"-"`

	// Session renewal budget before a paused producer is abandoned.
	AuthRenewTimeoutSecs int64         `mapstructure:"auth_renew_timeout_seconds"`
	AuthRenewTimeout     time.Duration `mapstructure:"-"`

	// Per-source budgets enforced at the dedup boundary.
	MaxPostsPerKeyword    int `mapstructure:"max_posts_per_keyword"`
	MaxCommentsPerKeyword int `mapstructure:"max_comments_per_keyword"`
	MaxCommentsPerPost    int `mapstructure:"max_comments_per_post"`
}

// Load reads configuration from environment variables and config files.
func Load() (*Config, error) {
	_ = godotenv.Load("configs/.env")

	v := viper.New()

	v.SetDefault("app_name", "weibo-harvester")
	v.SetDefault("app_env", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("targets_file", "./configs/targets.yaml")
	v.SetDefault("publishers_file", "")
	v.SetDefault("cookie_file", "./configs/cookies.json")

	v.SetDefault("output_dir", "./data")
	v.SetDefault("text_output_dir", "text")
	v.SetDefault("media_output_dir", "media")
	v.SetDefault("save_format", "both")
	v.SetDefault("ledger_type", "bbolt")
	v.SetDefault("ledger_path", "./data/downloads.db")
	v.SetDefault("ledger_failed_ttl_seconds", int64((24*time.Hour)/time.Second))

	v.SetDefault("keyword_concurrency", 2)
	v.SetDefault("post_detail_concurrency", 4)
	v.SetDefault("comment_concurrency", 3)
	v.SetDefault("user_concurrency", 2)
	v.SetDefault("media_download_concurrency", 6)
	v.SetDefault("global_concurrency", 8)

	v.SetDefault("request_delay_low_ms", 300)
	v.SetDefault("request_delay_high_ms", 800)
	v.SetDefault("page_delay_low_ms", 800)
	v.SetDefault("page_delay_high_ms", 1500)

	v.SetDefault("queue_capacity", 512)
	v.SetDefault("batch_size", 200)
	v.SetDefault("flush_interval_ms", 250)
	v.SetDefault("max_write_retries", 3)

	v.SetDefault("request_timeout_seconds", 15)

	v.SetDefault("enable_media_download", true)
	v.SetDefault("overwrite_existing_media", false)
	v.SetDefault("max_download_attempts", 3)
	v.SetDefault("download_timeout_seconds", 60)

	v.SetDefault("drain_grace_ms", 10_000)
	v.SetDefault("auth_renew_timeout_seconds", 300)

	v.SetDefault("max_posts_per_keyword", 0)
	v.SetDefault("max_comments_per_keyword", 0)
	v.SetDefault("max_comments_per_post", 0)

	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// normalize validates raw values and derives duration fields.
func (c *Config) normalize() error {
	for name, value := range map[string]int{
		"keyword_concurrency":        c.KeywordConcurrency,
		"post_detail_concurrency":    c.PostDetailConcurrency,
		"comment_concurrency":        c.CommentConcurrency,
		"user_concurrency":           c.UserConcurrency,
		"media_download_concurrency": c.MediaDownloadConcurrency,
		"global_concurrency":         c.GlobalConcurrency,
		"queue_capacity":             c.QueueCapacity,
		"batch_size":                 c.BatchSize,
		"max_download_attempts":      c.MaxDownloadAttempts,
	} {
		if value <= 0 {
			return fmt.Errorf("invalid %s (must be positive)", name)
		}
	}
	if c.MaxWriteRetries < 0 {
		return fmt.Errorf("invalid max_write_retries (must not be negative)")
	}
	if c.RequestDelayLowMs < 0 || c.RequestDelayHighMs < c.RequestDelayLowMs {
		return fmt.Errorf("invalid request delay window [%d, %d]", c.RequestDelayLowMs, c.RequestDelayHighMs)
	}
	if c.PageDelayLowMs < 0 || c.PageDelayHighMs < c.PageDelayLowMs {
		return fmt.Errorf("invalid page delay window [%d, %d]", c.PageDelayLowMs, c.PageDelayHighMs)
	}
	if c.FlushIntervalMs <= 0 {
		return fmt.Errorf("invalid flush_interval_ms (must be positive)")
	}
	if c.RequestTimeoutSecs <= 0 || c.DownloadTimeoutSecs <= 0 {
		return fmt.Errorf("invalid request/download timeout (must be positive seconds)")
	}

	switch c.NormalizedSaveFormat() {
	case "csv", "json", "both":
	default:
		return fmt.Errorf("invalid save_format %q (expected csv, json, or both)", c.SaveFormat)
	}

	c.LedgerTTL = time.Duration(c.LedgerTTLSecs) * time.Second
	c.RequestDelayLow = time.Duration(c.RequestDelayLowMs) * time.Millisecond
	c.RequestDelayHigh = time.Duration(c.RequestDelayHighMs) * time.Millisecond
	c.PageDelayLow = time.Duration(c.PageDelayLowMs) * time.Millisecond
	c.PageDelayHigh = time.Duration(c.PageDelayHighMs) * time.Millisecond
	c.FlushInterval = time.Duration(c.FlushIntervalMs) * time.Millisecond
	c.RequestTimeout = time.Duration(c.RequestTimeoutSecs) * time.Second
	c.DownloadTimeout = time.Duration(c.DownloadTimeoutSecs) * time.Second
	c.DrainGrace = time.Duration(c.DrainGraceMs) * time.Millisecond
	c.AuthRenewTimeout = time.Duration(c.AuthRenewTimeoutSecs) * time.Second
	return nil
}

// NormalizedSaveFormat returns the lowercase save format, defaulting to both.
func (c *Config) NormalizedSaveFormat() string {
	value := strings.ToLower(strings.TrimSpace(c.SaveFormat))
	if value == "" {
		return "both"
	}
	return value
}

// WriteCSV reports whether delimited-record output is enabled.
func (c *Config) WriteCSV() bool {
	f := c.NormalizedSaveFormat()
	return f == "csv" || f == "both"
}

// WriteJSON reports whether line-delimited JSON output is enabled.
func (c *Config) WriteJSON() bool {
	f := c.NormalizedSaveFormat()
	return f == "json" || f == "both"
}
