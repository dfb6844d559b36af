// Package config loads the YAML configuration shared by the watermark
// commands.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	watermark "github.com/gcslaoli/watermark-guard-go"
)

// Config is the top-level configuration.
type Config struct {
	Text      []string          `yaml:"text"`
	Watermark watermark.Partial `yaml:"watermark"`
	Defense   DefenseConfig     `yaml:"defense"`
	File      FileConfig        `yaml:"file"`
	Browser   BrowserConfig     `yaml:"browser"`
	Server    ServerConfig      `yaml:"server"`
	AlarmLog  AlarmLogConfig    `yaml:"alarm_log"`
}

// DefenseConfig controls the tamper watcher.
type DefenseConfig struct {
	Monitor      *bool `yaml:"monitor"` // default true
	NoRestore    bool  `yaml:"no_restore"`
	GuardWrapper bool  `yaml:"guard_wrapper"`
	Wrap         bool  `yaml:"wrap"`
}

// FileConfig controls guarding HTML files on disk.
type FileConfig struct {
	Debounce time.Duration `yaml:"debounce"`
	Parent   string        `yaml:"parent"` // element id to mount under, "" = body
}

// BrowserConfig controls Chrome for the browse command.
type BrowserConfig struct {
	Remote     string        `yaml:"remote"`
	Headful    bool          `yaml:"headful"`
	Stealth    bool          `yaml:"stealth"`
	NavTimeout time.Duration `yaml:"nav_timeout"`
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// AlarmLogConfig locates the alarm database.
type AlarmLogConfig struct {
	Path string `yaml:"path"` // "" disables the log
}

// Default returns the configuration used without a file.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// LoadFile reads a YAML configuration file. An empty path returns Default.
func LoadFile(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Options().Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return &cfg, nil
}

// Options returns the tile options with file values applied over the
// defaults.
func (c *Config) Options() watermark.Options {
	return watermark.Merge(watermark.DefaultOptions(), c.Watermark)
}

// Monitoring reports whether the tamper watcher should run.
func (c *Config) Monitoring() bool {
	return c.Defense.Monitor == nil || *c.Defense.Monitor
}

func (c *Config) applyDefaults() {
	if len(c.Text) == 0 {
		c.Text = []string{"CONFIDENTIAL"}
	}
	if c.File.Debounce <= 0 {
		c.File.Debounce = 50 * time.Millisecond
	}
	if c.Browser.NavTimeout <= 0 {
		c.Browser.NavTimeout = 30 * time.Second
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
}
