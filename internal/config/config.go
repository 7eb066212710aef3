// Package config loads and validates poller configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Poll       PollConfig       `mapstructure:"poll"`
	Fetch      FetchConfig      `mapstructure:"fetch"`
	Output     OutputConfig     `mapstructure:"output"`
	Aggregator AggregatorConfig `mapstructure:"aggregator"`
	Cursor     CursorConfig     `mapstructure:"cursor"`
	Archive    ArchiveConfig    `mapstructure:"archive"`
	DB         DBConfig         `mapstructure:"db"`
	SQLite     SQLiteConfig     `mapstructure:"sqlite"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// PollConfig controls the poll loop and its starting cursor.
type PollConfig struct {
	SinceID               string `mapstructure:"since_id"`
	MaxID                 string `mapstructure:"max_id"`
	IncludeWarnings       bool   `mapstructure:"include_warnings"`
	MaxSubpages           int    `mapstructure:"max_subpages"`
	ResetBackoffOnResults bool   `mapstructure:"reset_backoff_on_results"`
}

// FetchConfig configures the timeline API client.
type FetchConfig struct {
	BaseURL              string        `mapstructure:"base_url"`
	Path                 string        `mapstructure:"path"`
	BearerToken          string        `mapstructure:"bearer_token"`
	UserAgent            string        `mapstructure:"user_agent"`
	Count                int           `mapstructure:"count"`
	Timeout              time.Duration `mapstructure:"timeout"`
	ConnectionErrorLimit int           `mapstructure:"connection_error_limit"`
	HTTPErrorLimit       int           `mapstructure:"http_error_limit"`
	MaxRateLimitWait     time.Duration `mapstructure:"max_rate_limit_wait"`
}

// OutputConfig selects where emitted records go. Path "-" or empty is
// stdout, gs://bucket/object is Cloud Storage, anything else a local file.
type OutputConfig struct {
	Path   string `mapstructure:"path"`
	Append bool   `mapstructure:"append"`
}

// AggregatorConfig selects the URL frequency store.
type AggregatorConfig struct {
	Backend   string `mapstructure:"backend"`
	KeyFormat string `mapstructure:"key_format"`
}

// CursorConfig controls since_id persistence.
type CursorConfig struct {
	Persist bool   `mapstructure:"persist"`
	Stream  string `mapstructure:"stream"`
}

// ArchiveConfig controls the archiving side channel.
type ArchiveConfig struct {
	Mode              string        `mapstructure:"mode"`
	Workers           int           `mapstructure:"workers"`
	QueueSize         int           `mapstructure:"queue_size"`
	MinCount          int64         `mapstructure:"min_count"`
	EnqueueTimeout    time.Duration `mapstructure:"enqueue_timeout"`
	BaseURL           string        `mapstructure:"base_url"`
	AvailabilityURL   string        `mapstructure:"availability_url"`
	UserAgent         string        `mapstructure:"user_agent"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerMinute float64       `mapstructure:"requests_per_minute"`
	Burst             int           `mapstructure:"burst"`
}

// DBConfig controls access to Postgres.
type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	CountsTable     string        `mapstructure:"counts_table"`
	CursorTable     string        `mapstructure:"cursor_table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// SQLiteConfig controls the embedded SQLite store.
type SQLiteConfig struct {
	Path        string        `mapstructure:"path"`
	BusyTimeout time.Duration `mapstructure:"busy_timeout"`
}

// PubSubConfig holds the archive job topic.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ServerConfig controls the ops HTTP server. Port 0 disables it.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features and file output.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
	File        string `mapstructure:"file"`
	MaxSizeMB   int    `mapstructure:"max_size_mb"`
	MaxBackups  int    `mapstructure:"max_backups"`
	MaxAgeDays  int    `mapstructure:"max_age_days"`
	Compress    bool   `mapstructure:"compress"`
}

// Aggregator backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

// Key formats.
const (
	KeyFormatURL  = "url"
	KeyFormatSURT = "surt"
)

// New returns a Viper instance with defaults and environment binding applied.
// Callers may bind flags to it before passing it to Decode.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("LOOPY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := New()
	if err := ReadFile(v, path); err != nil {
		return Config{}, err
	}
	return Decode(v)
}

// ReadFile merges the config file at path into v. An empty path is a no-op.
func ReadFile(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

// Decode unmarshals and validates the settings held by v.
func Decode(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("poll.include_warnings", false)
	v.SetDefault("poll.max_subpages", 4)
	v.SetDefault("poll.reset_backoff_on_results", false)
	v.SetDefault("fetch.base_url", "https://api.twitter.com")
	v.SetDefault("fetch.path", "/1.1/statuses/home_timeline.json")
	v.SetDefault("fetch.user_agent", "loopy/0.1")
	v.SetDefault("fetch.count", 200)
	v.SetDefault("fetch.timeout", "30s")
	v.SetDefault("fetch.connection_error_limit", 0)
	v.SetDefault("fetch.http_error_limit", 0)
	v.SetDefault("fetch.max_rate_limit_wait", "15m")
	v.SetDefault("output.path", "-")
	v.SetDefault("output.append", true)
	v.SetDefault("aggregator.backend", BackendMemory)
	v.SetDefault("aggregator.key_format", KeyFormatURL)
	v.SetDefault("cursor.persist", false)
	v.SetDefault("cursor.stream", "default")
	v.SetDefault("archive.mode", "off")
	v.SetDefault("archive.workers", 2)
	v.SetDefault("archive.queue_size", 256)
	v.SetDefault("archive.min_count", 1)
	v.SetDefault("archive.enqueue_timeout", "1s")
	v.SetDefault("archive.base_url", "https://web.archive.org")
	v.SetDefault("archive.availability_url", "https://archive.org/wayback/available")
	v.SetDefault("archive.user_agent", "loopy/0.1 (+https://github.com/JakeFAU/loopy)")
	v.SetDefault("archive.timeout", "2m")
	v.SetDefault("archive.requests_per_minute", 12)
	v.SetDefault("archive.burst", 1)
	v.SetDefault("db.counts_table", "url_counts")
	v.SetDefault("db.cursor_table", "poll_cursor")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.max_conn_lifetime", "30m")
	v.SetDefault("sqlite.path", "data/loopy.db")
	v.SetDefault("sqlite.busy_timeout", "5s")
	v.SetDefault("pubsub.topic_name", "loopy-archive-jobs")
	v.SetDefault("server.port", 0)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 28)
	v.SetDefault("logging.compress", true)
}

func (c *Config) normalize() {
	c.Aggregator.Backend = strings.ToLower(strings.TrimSpace(c.Aggregator.Backend))
	c.Aggregator.KeyFormat = strings.ToLower(strings.TrimSpace(c.Aggregator.KeyFormat))
	c.Archive.Mode = strings.ToLower(strings.TrimSpace(c.Archive.Mode))
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Poll.MaxSubpages <= 0 {
		return fmt.Errorf("poll.max_subpages must be > 0")
	}
	if c.Fetch.ConnectionErrorLimit < 0 {
		return fmt.Errorf("fetch.connection_error_limit must be >= 0")
	}
	if c.Fetch.HTTPErrorLimit < 0 {
		return fmt.Errorf("fetch.http_error_limit must be >= 0")
	}
	if c.Fetch.Timeout <= 0 {
		return fmt.Errorf("fetch.timeout must be > 0")
	}
	switch c.Aggregator.Backend {
	case BackendMemory, BackendSQLite:
	case BackendPostgres:
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set when aggregator.backend is postgres")
		}
	default:
		return fmt.Errorf("aggregator.backend must be one of memory, postgres, sqlite")
	}
	switch c.Aggregator.KeyFormat {
	case KeyFormatURL, KeyFormatSURT:
	default:
		return fmt.Errorf("aggregator.key_format must be url or surt")
	}
	if c.Cursor.Persist && c.Aggregator.Backend == BackendMemory {
		return fmt.Errorf("cursor.persist requires a postgres or sqlite aggregator backend")
	}
	switch c.Archive.Mode {
	case "", "off", "sync", "dryrun":
	case "queue":
		if c.Archive.Workers <= 0 {
			return fmt.Errorf("archive.workers must be > 0 in queue mode")
		}
		if c.Archive.QueueSize <= 0 {
			return fmt.Errorf("archive.queue_size must be > 0 in queue mode")
		}
	case "pubsub":
		if c.PubSub.ProjectID == "" || c.PubSub.TopicName == "" {
			return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set in pubsub mode")
		}
	default:
		return fmt.Errorf("archive.mode must be one of off, sync, queue, pubsub, dryrun")
	}
	if c.Archive.MinCount < 1 {
		return fmt.Errorf("archive.min_count must be >= 1")
	}
	if c.Server.Port < 0 {
		return fmt.Errorf("server.port must be >= 0")
	}
	return nil
}
