// ABOUTME: Application configuration: timezones, horizon, calendars, cache path.
// ABOUTME: YAML config file with defaults filled by Normalize and env var overrides.

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// CalendarConfig describes one calendar collection on disk.
type CalendarConfig struct {
	// Name is the calendar identifier used throughout the cache.
	Name string `yaml:"name"`
	// Path is the directory holding one .ics file per event group.
	Path string `yaml:"path"`
	// Color is a display hint for the UI layer; the core only stores it.
	Color string `yaml:"color"`
	// Readonly collections reject write-back.
	Readonly bool `yaml:"readonly"`
}

// Config is the top-level application configuration. The core consumes it as
// an opaque struct threaded through explicitly; nothing reads it as ambient
// global state.
type Config struct {
	// DBPath is where the SQLite occurrence cache lives.
	DBPath string `yaml:"db"`

	// DefaultTimezone is the IANA zone floating events are interpreted
	// against when real wall-clock semantics are needed.
	DefaultTimezone string `yaml:"default_timezone"`

	// DisplayTimezone is the reference zone for query result ordering and
	// presentation. Defaults to DefaultTimezone.
	DisplayTimezone string `yaml:"display_timezone"`

	// Horizon is the latest date the expander will ever generate, bounding
	// open-ended recurrence rules. Format: 2006-01-02.
	Horizon string `yaml:"horizon"`

	// DefaultDuration is the synthetic span for datetime events that carry
	// neither DTEND nor DURATION, e.g. "1h".
	DefaultDuration string `yaml:"default_duration"`

	// Listen is the HTTP listen address for the query API.
	Listen string `yaml:"listen"`

	// RefreshCron, if set, re-scans the calendar collections on a cron
	// schedule while serving, e.g. "*/15 * * * *".
	RefreshCron string `yaml:"refresh"`

	// Calendars is the list of configured collections.
	Calendars []CalendarConfig `yaml:"calendars"`
}

// Default returns an in-memory default configuration.
func Default() *Config {
	return &Config{
		DBPath:          "khal.db",
		DefaultTimezone: "UTC",
		Horizon:         "2037-12-31",
		DefaultDuration: "1h",
		Listen:          "127.0.0.1:8585",
	}
}

// Load reads a YAML config file. A missing file yields the defaults rather
// than an error so first runs work without setup.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.Normalize()
	return cfg, nil
}

// Normalize fills in missing/zero values with defaults so partially-filled
// configs still behave correctly.
func (c *Config) Normalize() {
	d := Default()
	if c.DBPath == "" {
		c.DBPath = d.DBPath
	}
	if c.DefaultTimezone == "" {
		c.DefaultTimezone = d.DefaultTimezone
	}
	if c.DisplayTimezone == "" {
		c.DisplayTimezone = c.DefaultTimezone
	}
	if c.Horizon == "" {
		c.Horizon = d.Horizon
	}
	if c.DefaultDuration == "" {
		c.DefaultDuration = d.DefaultDuration
	}
	if c.Listen == "" {
		c.Listen = d.Listen
	}
}

// Validate checks the values that must resolve for the pipeline to run.
func (c *Config) Validate() error {
	if _, err := c.DefaultZone(); err != nil {
		return fmt.Errorf("default_timezone: %w", err)
	}
	if _, err := c.DisplayZone(); err != nil {
		return fmt.Errorf("display_timezone: %w", err)
	}
	if _, err := c.HorizonTime(); err != nil {
		return fmt.Errorf("horizon: %w", err)
	}
	if _, err := c.EventDuration(); err != nil {
		return fmt.Errorf("default_duration: %w", err)
	}
	seen := map[string]bool{}
	for _, cal := range c.Calendars {
		if cal.Name == "" {
			return fmt.Errorf("calendar with empty name")
		}
		if seen[cal.Name] {
			return fmt.Errorf("duplicate calendar name %q", cal.Name)
		}
		seen[cal.Name] = true
	}
	return nil
}

// DefaultZone resolves the configured default timezone.
func (c *Config) DefaultZone() (*time.Location, error) {
	return time.LoadLocation(c.DefaultTimezone)
}

// DisplayZone resolves the configured display timezone.
func (c *Config) DisplayZone() (*time.Location, error) {
	if c.DisplayTimezone == "" {
		return c.DefaultZone()
	}
	return time.LoadLocation(c.DisplayTimezone)
}

// HorizonTime resolves the expansion ceiling as the end of the configured day.
func (c *Config) HorizonTime() (time.Time, error) {
	t, err := time.Parse("2006-01-02", c.Horizon)
	if err != nil {
		return time.Time{}, err
	}
	return t.Add(24*time.Hour - time.Second), nil
}

// EventDuration resolves the synthetic duration for end-less datetime events.
func (c *Config) EventDuration() (time.Duration, error) {
	return time.ParseDuration(c.DefaultDuration)
}

// Calendar looks a configured collection up by name.
func (c *Config) Calendar(name string) (CalendarConfig, bool) {
	for _, cal := range c.Calendars {
		if cal.Name == name {
			return cal, true
		}
	}
	return CalendarConfig{}, false
}
