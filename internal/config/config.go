package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// NOTE: This file provides the configuration model and full YAML-based
// load/save behavior, including first-run config creation and 0600
// permissions.

// Source names used as keys under `sources:`.
const (
	SourceHolodex   = "holodex"
	SourceHololive  = "hololive"
	SourceNijisanji = "nijisanji"
)

const (
	defaultListen       = "127.0.0.1:8080"
	defaultTimezone     = "Asia/Tokyo"
	defaultRefreshCron  = "0 * * * *"
	defaultFetchTimeout = 15
	defaultReminder     = 30
	defaultKnownLimit   = 500
	defaultCalendarID   = "primary"
	defaultHolodexURL   = "https://holodex.net/api/v2"
)

// SourceConfig toggles one schedule source.
type SourceConfig struct {
	// Enabled controls whether the source is fetched at all.
	Enabled bool `yaml:"enabled" json:"enabled"`
	// ShowAll includes every event of the source instead of only events
	// matching the roster.
	ShowAll bool `yaml:"show_all" json:"show_all"`
	// URL overrides the schedule page (scrape sources only).
	URL string `yaml:"url,omitempty" json:"url,omitempty"`
	// RenderJS loads the page through headless Chromium.
	RenderJS bool `yaml:"render_js,omitempty" json:"render_js,omitempty"`
}

// HolodexConfig holds structured API access.
type HolodexConfig struct {
	APIKey  string `yaml:"api_key" json:"-"`
	BaseURL string `yaml:"base_url" json:"base_url"`
}

// SyncConfig controls novelty tracking, notification and calendar push.
type SyncConfig struct {
	AutoSync          bool   `yaml:"auto_sync" json:"auto_sync"`
	PushToCalendar    bool   `yaml:"push_to_calendar" json:"push_to_calendar"`
	NotifyOnNewStream bool   `yaml:"notify_on_new_stream" json:"notify_on_new_stream"`
	ReminderMinutes   int    `yaml:"reminder_minutes" json:"reminder_minutes"`
	CalendarID        string `yaml:"calendar_id" json:"calendar_id"`
	// KnownLimit caps the persisted known-key window.
	KnownLimit int `yaml:"known_limit" json:"known_limit"`
}

// GoogleConfig holds OAuth client credentials for calendar access.
type GoogleConfig struct {
	ClientID     string `yaml:"client_id" json:"-"`
	ClientSecret string `yaml:"client_secret" json:"-"`
	RedirectURL  string `yaml:"redirect_url" json:"redirect_url"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the Web UI/API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone calendar payloads are expressed in.
	Timezone string `yaml:"timezone" json:"timezone"`

	// RefreshCron is a cron-style schedule string (e.g. "0 * * * *")
	// used for periodic pipeline runs. If empty, it is derived from
	// SyncIntervalMinutes for backward compatibility.
	RefreshCron         string `yaml:"refresh" json:"refresh"`
	SyncIntervalMinutes int    `yaml:"sync_interval_minutes,omitempty" json:"sync_interval_minutes,omitempty"`

	// DBPath is the sqlite file backing the key-value store.
	DBPath string `yaml:"db_path" json:"db_path"`
	// CacheDir holds conditional-GET caches of scraped pages.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	FetchTimeoutSeconds int `yaml:"fetch_timeout_seconds" json:"fetch_timeout_seconds"`

	LogLevel string `yaml:"log_level" json:"log_level"`
	LogFile  string `yaml:"log_file,omitempty" json:"log_file,omitempty"`
	// Rotation limits for LogFile; zero keeps the logger defaults.
	LogMaxSizeMB  int `yaml:"log_max_size_mb,omitempty" json:"log_max_size_mb,omitempty"`
	LogMaxBackups int `yaml:"log_max_backups,omitempty" json:"log_max_backups,omitempty"`
	LogMaxAgeDays int `yaml:"log_max_age_days,omitempty" json:"log_max_age_days,omitempty"`

	Holodex HolodexConfig           `yaml:"holodex" json:"holodex"`
	Sources map[string]SourceConfig `yaml:"sources" json:"sources"`
	Sync    SyncConfig              `yaml:"sync" json:"sync"`
	Google  GoogleConfig            `yaml:"google" json:"google"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:              defaultListen,
		Timezone:            defaultTimezone,
		RefreshCron:         defaultRefreshCron,
		DBPath:              "/var/lib/vtcal/vtcal.db",
		CacheDir:            "/var/lib/vtcal/page-cache",
		FetchTimeoutSeconds: defaultFetchTimeout,
		LogLevel:            "info",
		Holodex:             HolodexConfig{BaseURL: defaultHolodexURL},
		Sources:             defaultSources(),
		Sync: SyncConfig{
			AutoSync:          true,
			PushToCalendar:    false,
			NotifyOnNewStream: true,
			ReminderMinutes:   defaultReminder,
			CalendarID:        defaultCalendarID,
			KnownLimit:        defaultKnownLimit,
		},
		BasicAuth: nil,
	}
}

func defaultSources() map[string]SourceConfig {
	return map[string]SourceConfig{
		// Holodex is queried only for roster channels, so everything it
		// returns is already followed.
		SourceHolodex:   {Enabled: true, ShowAll: true},
		SourceHololive:  {Enabled: true, ShowAll: false},
		SourceNijisanji: {Enabled: true, ShowAll: false},
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs (e.g., older versions) still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}

	// Derive RefreshCron if missing, using SyncIntervalMinutes as a legacy source.
	if c.RefreshCron == "" {
		if c.SyncIntervalMinutes > 0 {
			c.RefreshCron = fmt.Sprintf("@every %dm", c.SyncIntervalMinutes)
		} else {
			c.RefreshCron = defaultRefreshCron
		}
	}
	if c.FetchTimeoutSeconds <= 0 {
		c.FetchTimeoutSeconds = defaultFetchTimeout
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Holodex.BaseURL == "" {
		c.Holodex.BaseURL = defaultHolodexURL
	}
	c.Holodex.BaseURL = strings.TrimRight(c.Holodex.BaseURL, "/")

	if c.Sources == nil {
		c.Sources = defaultSources()
	}
	for name, def := range defaultSources() {
		if _, ok := c.Sources[name]; !ok {
			c.Sources[name] = def
		}
	}

	if c.Sync.ReminderMinutes <= 0 {
		c.Sync.ReminderMinutes = defaultReminder
	}
	if c.Sync.CalendarID == "" {
		c.Sync.CalendarID = defaultCalendarID
	}
	if c.Sync.KnownLimit <= 0 {
		c.Sync.KnownLimit = defaultKnownLimit
	}
}

// Source returns the settings for a named source. Unknown names are
// reported as disabled.
func (c *Config) Source(name string) SourceConfig {
	if c == nil || c.Sources == nil {
		return SourceConfig{}
	}
	return c.Sources[name]
}

// Snapshot returns a deep copy that a pipeline run can read without
// observing concurrent edits.
func (c *Config) Snapshot() Config {
	out := *c
	out.Sources = make(map[string]SourceConfig, len(c.Sources))
	for k, v := range c.Sources {
		out.Sources[k] = v
	}
	if c.BasicAuth != nil {
		ba := *c.BasicAuth
		out.BasicAuth = &ba
	}
	return out
}

// ApplyEnv overrides secrets from the environment (typically populated
// from a .env file by the caller).
func (c *Config) ApplyEnv(getenv func(string) string) {
	if getenv == nil {
		getenv = os.Getenv
	}
	if v := getenv("VTCAL_HOLODEX_API_KEY"); v != "" {
		c.Holodex.APIKey = v
	}
	if v := getenv("VTCAL_GOOGLE_CLIENT_ID"); v != "" {
		c.Google.ClientID = v
	}
	if v := getenv("VTCAL_GOOGLE_CLIENT_SECRET"); v != "" {
		c.Google.ClientSecret = v
	}
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".vtcal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
