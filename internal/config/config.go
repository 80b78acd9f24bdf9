package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"classcal/internal/model"
)

// NOTE: This file provides the configuration model and full YAML-based
// load/save behavior, including first-run config creation and 0600
// permissions.

const (
	DefaultListen           = "127.0.0.1:8080"
	DefaultTimezone         = "America/Los_Angeles"
	DefaultRefresh          = "@every 60s"
	DefaultPlaylistDuration = 10
	DefaultGraceMinutes     = 10
	DefaultWindowDays       = 7
	DefaultProbeTimeoutSec  = 5
	DefaultSlidesGraceSec   = 5

	EmbedProbeHTTP     = "http"
	EmbedProbeChromium = "chromium"
)

// BasicAuthConfig holds HTTP Basic Auth credentials for the Web UI/API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// CatalogConfig points at the catalog documents. Each entry is a file path
// or an http(s) URL; empty means "no such catalog".
type CatalogConfig struct {
	Targets       string `yaml:"targets" json:"targets"`
	ClassMap      string `yaml:"class_map" json:"class_map"`
	Announcements string `yaml:"announcements" json:"announcements"`
	Fallback      string `yaml:"fallback_schedule" json:"fallback_schedule"`
}

// RedisConfig enables the shared fetched-body cache.
type RedisConfig struct {
	Addr       string `yaml:"addr" json:"addr"`
	Password   string `yaml:"password,omitempty" json:"password,omitempty"`
	DB         int    `yaml:"db" json:"db"`
	TTLMinutes int    `yaml:"ttl_minutes" json:"ttl_minutes"`
}

// BatteryConfig locates an optional UPS controller on I2C. Addr 0 disables
// battery reporting.
type BatteryConfig struct {
	Bus  string `yaml:"bus,omitempty" json:"bus,omitempty"`
	Addr int    `yaml:"addr" json:"addr"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the display page and API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone the display lives in. All wall-clock
	// decisions (period windows, date overrides, fallback blocks) use it.
	Timezone string `yaml:"timezone" json:"timezone"`

	// RefreshCron is a robfig/cron spec for the evaluation cycle.
	RefreshCron string `yaml:"refresh" json:"refresh"`
	// RefreshSeconds is the legacy form; used only when RefreshCron is empty.
	RefreshSeconds int `yaml:"refresh_seconds,omitempty" json:"refresh_seconds,omitempty"`

	PlaylistDurationSec  int `yaml:"playlist_duration_sec" json:"playlist_duration_sec"`
	GraceMinutes         int `yaml:"grace_minutes" json:"grace_minutes"`
	WindowDaysBefore     int `yaml:"window_days_before" json:"window_days_before"`
	WindowDaysAfter      int `yaml:"window_days_after" json:"window_days_after"`
	ImageProbeTimeoutSec int `yaml:"image_probe_timeout_sec" json:"image_probe_timeout_sec"`
	SlidesGraceSec       int `yaml:"slides_grace_sec" json:"slides_grace_sec"`

	// Calendar sources, tried in this order: ICSURLs, ICSProxyURL, ICSURL.
	ICSURLs     []string `yaml:"ics_urls" json:"ics_urls"`
	ICSProxyURL string   `yaml:"ics_proxy_url,omitempty" json:"ics_proxy_url,omitempty"`
	ICSURL      string   `yaml:"ics_url,omitempty" json:"ics_url,omitempty"`

	// EventMap maps title keywords to periods; first listed match wins.
	EventMap      model.EventMap `yaml:"event_map,omitempty" json:"event_map,omitempty"`
	DefaultThread string         `yaml:"default_thread,omitempty" json:"default_thread,omitempty"`

	Catalogs CatalogConfig `yaml:"catalogs" json:"catalogs"`

	// CacheDir stores the last good body of each calendar source.
	CacheDir string       `yaml:"cache_dir" json:"cache_dir"`
	Redis    *RedisConfig `yaml:"redis,omitempty" json:"redis,omitempty"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`

	Battery BatteryConfig `yaml:"battery" json:"battery"`

	LogLevel string `yaml:"log_level" json:"log_level"`

	// EmbedProbe selects how slide decks are checked: "http" inspects frame
	// headers, "chromium" loads the deck in headless Chrome.
	EmbedProbe string `yaml:"embed_probe" json:"embed_probe"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	c := &Config{
		ICSURLs: []string{},
		Catalogs: CatalogConfig{
			Targets:       "/etc/classcal/targets.yaml",
			ClassMap:      "/etc/classcal/class_map.yaml",
			Announcements: "/etc/classcal/announcements.yaml",
			Fallback:      "/etc/classcal/fallback_schedule.yaml",
		},
		CacheDir: "/var/cache/classcal",
	}
	c.Normalize()
	return c
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs (e.g., older versions) still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if strings.TrimSpace(c.Timezone) == "" {
		c.Timezone = DefaultTimezone
	}

	if strings.TrimSpace(c.RefreshCron) == "" {
		if c.RefreshSeconds > 0 {
			c.RefreshCron = fmt.Sprintf("@every %ds", c.RefreshSeconds)
		} else {
			c.RefreshCron = DefaultRefresh
		}
	}

	if c.PlaylistDurationSec <= 0 {
		c.PlaylistDurationSec = DefaultPlaylistDuration
	}
	if c.GraceMinutes <= 0 {
		c.GraceMinutes = DefaultGraceMinutes
	}
	if c.WindowDaysBefore <= 0 {
		c.WindowDaysBefore = DefaultWindowDays
	}
	if c.WindowDaysAfter <= 0 {
		c.WindowDaysAfter = DefaultWindowDays
	}
	if c.ImageProbeTimeoutSec <= 0 {
		c.ImageProbeTimeoutSec = DefaultProbeTimeoutSec
	}
	if c.SlidesGraceSec <= 0 {
		c.SlidesGraceSec = DefaultSlidesGraceSec
	}
	if c.ICSURLs == nil {
		c.ICSURLs = []string{}
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	switch strings.ToLower(strings.TrimSpace(c.EmbedProbe)) {
	case EmbedProbeChromium:
		c.EmbedProbe = EmbedProbeChromium
	default:
		// Unknown value; the header probe needs nothing installed.
		c.EmbedProbe = EmbedProbeHTTP
	}

	if c.Redis != nil && strings.TrimSpace(c.Redis.Addr) == "" {
		c.Redis = nil
	}
}

// Location loads the configured display zone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

func (c *Config) Grace() time.Duration {
	return time.Duration(c.GraceMinutes) * time.Minute
}

func (c *Config) ProbeTimeout() time.Duration {
	return time.Duration(c.ImageProbeTimeoutSec) * time.Second
}

func (c *Config) SlidesGrace() time.Duration {
	return time.Duration(c.SlidesGraceSec) * time.Second
}

// RedisTTL is how long a cached body lives in Redis; zero keeps it forever.
func (c *Config) RedisTTL() time.Duration {
	if c.Redis == nil || c.Redis.TTLMinutes <= 0 {
		return 0
	}
	return time.Duration(c.Redis.TTLMinutes) * time.Minute
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
		return nil, fmt.Errorf("parse %s: %w", path, err)
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

	tmp, err := os.CreateTemp(dir, ".classcal-config-*.tmp")
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
