// Package config loads and validates archiver configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/bookmark-archiver/internal/archive"
	"github.com/JakeFAU/bookmark-archiver/internal/logging"
	"github.com/JakeFAU/bookmark-archiver/internal/telemetry"
)

// Status store backends.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig     `mapstructure:"server"`
	Auth      AuthConfig       `mapstructure:"auth"`
	Archive   ArchiveConfig    `mapstructure:"archive"`
	Guard     GuardConfig      `mapstructure:"guard"`
	Capture   CaptureConfig    `mapstructure:"capture"`
	Browser   BrowserConfig    `mapstructure:"browser"`
	Submit    SubmitConfig     `mapstructure:"submit"`
	Status    StatusConfig     `mapstructure:"status"`
	Downloads DownloadsConfig  `mapstructure:"downloads"`
	Mirror    MirrorConfig     `mapstructure:"mirror"`
	PubSub    PubSubConfig     `mapstructure:"pubsub"`
	Events    EventsConfig     `mapstructure:"events"`
	Bookmarks BookmarksConfig  `mapstructure:"bookmarks"`
	Logging   logging.Config   `mapstructure:"logging"`
	Telemetry telemetry.Config `mapstructure:"telemetry"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// ArchiveConfig seeds the user settings kept in the status store.
type ArchiveConfig struct {
	ArchiveDir       string   `mapstructure:"archive_dir"`
	Services         []string `mapstructure:"services"`
	BookmarkServices []string `mapstructure:"bookmark_services"`
	ArchiveBookmarks bool     `mapstructure:"archive_bookmarks"`
	Email            string   `mapstructure:"email"`
	Extension        string   `mapstructure:"extension"`
}

// GuardConfig bounds waits on the concurrency guard.
type GuardConfig struct {
	WaitTimeoutSeconds int `mapstructure:"wait_timeout_seconds"`
	// BackoffMs delays the retry of an event that timed out on the guard.
	BackoffMs int `mapstructure:"backoff_ms"`
}

// CaptureConfig tunes page-load and download polling.
type CaptureConfig struct {
	PagePollMs             int    `mapstructure:"page_poll_ms"`
	PageTimeoutSeconds     int    `mapstructure:"page_timeout_seconds"`
	DownloadPollMs         int    `mapstructure:"download_poll_ms"`
	DownloadTimeoutSeconds int    `mapstructure:"download_timeout_seconds"`
	MirrorPrefix           string `mapstructure:"mirror_prefix"`
}

// BrowserConfig configures the headless tab host.
type BrowserConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	MaxParallel   int    `mapstructure:"max_parallel"`
	NavTimeoutSec int    `mapstructure:"nav_timeout_seconds"`
	UserAgent     string `mapstructure:"user_agent"`
}

// SubmitConfig configures archive-service submissions.
type SubmitConfig struct {
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	UserAgent      string  `mapstructure:"user_agent"`
	RatePerSecond  float64 `mapstructure:"rate_per_second"`
	Burst          int     `mapstructure:"burst"`
	ArchiveIsURL   string  `mapstructure:"archive_is_url"`
	ArchiveOrgURL  string  `mapstructure:"archive_org_url"`
	WebCitationURL string  `mapstructure:"webcitation_url"`
}

// StatusConfig selects the status store backend.
type StatusConfig struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
	DSN     string `mapstructure:"dsn"`
	Table   string `mapstructure:"table"`
}

// DownloadsConfig locates the download area.
type DownloadsConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// MirrorConfig enables the optional snapshot mirror.
type MirrorConfig struct {
	GCSBucket string `mapstructure:"gcs_bucket"`
	LocalDir  string `mapstructure:"local_dir"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// EventsConfig sizes the host event pipeline.
type EventsConfig struct {
	QueueDepth  int `mapstructure:"queue_depth"`
	Workers     int `mapstructure:"workers"`
	MaxAttempts int `mapstructure:"max_attempts"`
}

// BookmarksConfig seeds the bookmark tree.
type BookmarksConfig struct {
	ImportFile string `mapstructure:"import_file"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ARCHIVER")
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
	v.SetDefault("server.port", 8080)
	v.SetDefault("archive.archive_dir", "Archiveror")
	v.SetDefault("archive.services", []string{"archive.is"})
	v.SetDefault("archive.bookmark_services", []string{"archive.is", archive.LocalService})
	v.SetDefault("archive.archive_bookmarks", true)
	v.SetDefault("archive.extension", "mhtml")
	v.SetDefault("guard.wait_timeout_seconds", 120)
	v.SetDefault("guard.backoff_ms", 300)
	v.SetDefault("capture.page_poll_ms", 200)
	v.SetDefault("capture.page_timeout_seconds", 60)
	v.SetDefault("capture.download_poll_ms", 200)
	v.SetDefault("capture.download_timeout_seconds", 60)
	v.SetDefault("capture.mirror_prefix", "snapshots")
	v.SetDefault("browser.enabled", false)
	v.SetDefault("browser.max_parallel", 2)
	v.SetDefault("browser.nav_timeout_seconds", 45)
	v.SetDefault("submit.timeout_seconds", 60)
	v.SetDefault("submit.user_agent", "bookmark-archiver/0.1")
	v.SetDefault("submit.rate_per_second", 0.2)
	v.SetDefault("submit.burst", 1)
	v.SetDefault("status.backend", BackendSQLite)
	v.SetDefault("status.path", "archiver.db")
	v.SetDefault("status.table", "archive_status")
	v.SetDefault("downloads.base_dir", "downloads")
	v.SetDefault("events.queue_depth", 256)
	v.SetDefault("events.workers", 2)
	v.SetDefault("events.max_attempts", 3)
	v.SetDefault("logging.development", true)
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "archiver")
	v.SetDefault("telemetry.sample_ratio", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Status.Backend {
	case BackendMemory:
	case BackendSQLite:
		if c.Status.Path == "" {
			return fmt.Errorf("status.path is required for the sqlite backend")
		}
	case BackendPostgres:
		if c.Status.DSN == "" {
			return fmt.Errorf("status.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("status.backend must be one of memory, sqlite, postgres; got %q", c.Status.Backend)
	}
	if strings.TrimSpace(c.Downloads.BaseDir) == "" {
		return fmt.Errorf("downloads.base_dir is required")
	}
	if c.Browser.Enabled && c.Browser.MaxParallel <= 0 {
		return fmt.Errorf("browser.max_parallel must be > 0 when the browser is enabled")
	}
	if c.Events.QueueDepth <= 0 {
		return fmt.Errorf("events.queue_depth must be > 0")
	}
	if c.Events.Workers <= 0 {
		return fmt.Errorf("events.workers must be > 0")
	}
	if c.Submit.TimeoutSeconds <= 0 {
		return fmt.Errorf("submit.timeout_seconds must be > 0")
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry.sample_ratio must be within [0, 1]")
	}
	return nil
}

// Settings returns the user settings the status store falls back to.
func (c ArchiveConfig) Settings() archive.Settings {
	return archive.Settings{
		ArchiveDir:       c.ArchiveDir,
		ArchiveServices:  append([]string(nil), c.Services...),
		BookmarkServices: append([]string(nil), c.BookmarkServices...),
		ArchiveBookmarks: c.ArchiveBookmarks,
		Email:            c.Email,
	}
}

// WaitTimeout converts the guard wait budget.
func (c GuardConfig) WaitTimeout() time.Duration {
	return time.Duration(c.WaitTimeoutSeconds) * time.Second
}

// Backoff converts the retry delay.
func (c GuardConfig) Backoff() time.Duration {
	return time.Duration(c.BackoffMs) * time.Millisecond
}

// PagePoll converts the page-load poll interval.
func (c CaptureConfig) PagePoll() time.Duration {
	return time.Duration(c.PagePollMs) * time.Millisecond
}

// PageTimeout converts the page-load budget.
func (c CaptureConfig) PageTimeout() time.Duration {
	return time.Duration(c.PageTimeoutSeconds) * time.Second
}

// DownloadPoll converts the download poll interval.
func (c CaptureConfig) DownloadPoll() time.Duration {
	return time.Duration(c.DownloadPollMs) * time.Millisecond
}

// DownloadTimeout converts the download budget.
func (c CaptureConfig) DownloadTimeout() time.Duration {
	return time.Duration(c.DownloadTimeoutSeconds) * time.Second
}

// NavTimeout converts the navigation budget.
func (c BrowserConfig) NavTimeout() time.Duration {
	return time.Duration(c.NavTimeoutSec) * time.Second
}

// Timeout converts the submission budget.
func (c SubmitConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}
