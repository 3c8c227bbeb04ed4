package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration loaded from config.yaml.
type Config struct {
	WatchPath                string          `yaml:"watch_path"                 json:"watch_path"`
	DBPath                   string          `yaml:"db_path"                    json:"-"`
	HTTPAddr                 string          `yaml:"http_addr"                  json:"-"`
	LogLevel                 string          `yaml:"log_level"                  json:"-"`
	AutoStart                *bool           `yaml:"auto_start"                 json:"auto_start"`
	StabilizeMs              int             `yaml:"stabilize_ms"               json:"stabilize_ms"`
	MaxWaitMs                int             `yaml:"max_wait_ms"                json:"max_wait_ms"`
	MountPollSeconds         int             `yaml:"mount_poll_seconds"         json:"mount_poll_seconds"`
	RescanSchedule           string          `yaml:"rescan_schedule"            json:"rescan_schedule"`
	IncludeDrafts            bool            `yaml:"include_drafts"             json:"include_drafts"`
	CatalogTTLSeconds        int             `yaml:"catalog_ttl_seconds"        json:"catalog_ttl_seconds"`
	DownstreamTimeoutSeconds int             `yaml:"downstream_timeout_seconds" json:"downstream_timeout_seconds"`
	AutoApplyTemplates       bool            `yaml:"auto_apply_templates"       json:"auto_apply_templates"`
	Commerce                 CommerceConfig  `yaml:"commerce"                   json:"-"`
	Templates                TemplatesConfig `yaml:"templates"                  json:"templates"`
}

// CommerceConfig points at the catalog / draft REST service.
type CommerceConfig struct {
	BaseURL string `yaml:"base_url"`
	Token   string `yaml:"token"`
}

// TemplatesConfig points at the template auto-apply service. ByPreset maps a
// preset folder name to the template applied to products photographed in it.
type TemplatesConfig struct {
	BaseURL  string            `yaml:"base_url"  json:"base_url"`
	ByPreset map[string]string `yaml:"by_preset" json:"by_preset"`
}

// applyDefaults fills zero/empty fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.WatchPath == "" {
		c.WatchPath = "/mnt/studio"
	}
	if c.DBPath == "" {
		c.DBPath = "/data/studiowatch.db"
	}
	if c.HTTPAddr == "" {
		c.HTTPAddr = ":8080"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.AutoStart == nil {
		t := true
		c.AutoStart = &t
	}
	if c.StabilizeMs == 0 {
		c.StabilizeMs = 30_000
	}
	if c.MaxWaitMs == 0 {
		c.MaxWaitMs = 300_000
	}
	if c.MountPollSeconds == 0 {
		c.MountPollSeconds = 60
	}
	if c.RescanSchedule == "" {
		c.RescanSchedule = "@every 15m"
	}
	if c.CatalogTTLSeconds == 0 {
		c.CatalogTTLSeconds = 300
	}
	if c.DownstreamTimeoutSeconds == 0 {
		c.DownstreamTimeoutSeconds = 120
	}
}

// Load reads and parses the YAML config file at path.
// If the file does not exist, Load returns a default Config so the service
// can start without a mounted config file.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		var cfg Config
		cfg.applyDefaults()
		return &cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open config %q: %w", path, err)
	}
	defer f.Close()

	var cfg Config
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config %q: %w", path, err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Setting keys persisted by the watcher when started with overrides.
const (
	SettingWatchPath   = "watch_path"
	SettingStabilizeMs = "stabilize_ms"
)

// MergeDBSettings overlays settings stored in the DB on top of the config.
// Unknown keys and unparseable values are ignored.
func MergeDBSettings(cfg *Config, settings map[string]string) {
	if v, ok := settings[SettingWatchPath]; ok && v != "" {
		cfg.WatchPath = v
	}
	if v, ok := settings[SettingStabilizeMs]; ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.StabilizeMs = n
		}
	}
}

// StabilizeDuration returns stabilize_ms as a time.Duration.
func (c *Config) StabilizeDuration() time.Duration {
	return time.Duration(c.StabilizeMs) * time.Millisecond
}

// MaxWaitDuration returns max_wait_ms as a time.Duration.
func (c *Config) MaxWaitDuration() time.Duration {
	return time.Duration(c.MaxWaitMs) * time.Millisecond
}

// MountPollInterval returns mount_poll_seconds as a time.Duration.
func (c *Config) MountPollInterval() time.Duration {
	return time.Duration(c.MountPollSeconds) * time.Second
}

// CatalogTTL returns catalog_ttl_seconds as a time.Duration.
func (c *Config) CatalogTTL() time.Duration {
	return time.Duration(c.CatalogTTLSeconds) * time.Second
}

// DownstreamTimeout returns downstream_timeout_seconds as a time.Duration.
func (c *Config) DownstreamTimeout() time.Duration {
	return time.Duration(c.DownstreamTimeoutSeconds) * time.Second
}
