// Package config provides YAML-based configuration loading for costdesk.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Environment variables that override file settings.
const (
	EnvAPIURL   = "COSTDESK_API_URL"
	EnvAPIToken = "COSTDESK_API_TOKEN"
)

// Config is the top-level costdesk configuration, loaded from costdesk.yaml.
type Config struct {
	Backend   BackendConfig   `yaml:"backend"`
	Server    ServerConfig    `yaml:"server"`
	Registry  RegistryConfig  `yaml:"registry"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	Telegraph TelegraphConfig `yaml:"telegraph"`
	Log       LogConfig       `yaml:"log"`
}

// BackendConfig locates the analysis service.
type BackendConfig struct {
	BaseURL       string `yaml:"base_url"`
	ChatPath      string `yaml:"chat_path"`
	DashboardPath string `yaml:"dashboard_path"`
	Token         string `yaml:"token"`
	TimeoutSec    int    `yaml:"timeout_sec"` // 0 = no client-side timeout
}

// Timeout returns the request timeout as a duration.
func (b BackendConfig) Timeout() time.Duration {
	return time.Duration(b.TimeoutSec) * time.Second
}

// ServerConfig holds the browser API listener settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// RegistryConfig selects where live sessions are mirrored. Rows only exist
// while their session is alive.
type RegistryConfig struct {
	Driver         string `yaml:"driver"` // "sqlite" or "mysql"
	Path           string `yaml:"path"`   // sqlite DSN
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	User           string `yaml:"user"`
	Password       string `yaml:"password"`
	Database       string `yaml:"database"`
	IdleTimeoutMin int    `yaml:"idle_timeout_min"`
	ReapCron       string `yaml:"reap_cron"`
}

// IdleTimeout returns how long a session may sit idle before it is reaped.
func (r RegistryConfig) IdleTimeout() time.Duration {
	return time.Duration(r.IdleTimeoutMin) * time.Minute
}

// CatalogConfig points at an optional dashboard catalog file.
type CatalogConfig struct {
	Path string `yaml:"path"` // empty = built-in catalog
}

// TelegraphConfig configures the chat-platform bridge.
type TelegraphConfig struct {
	Platform string        `yaml:"platform"` // "slack", "discord", or empty (disabled)
	Channel  string        `yaml:"channel"`
	Slack    SlackConfig   `yaml:"slack"`
	Discord  DiscordConfig `yaml:"discord"`
}

// SlackConfig holds Slack Socket Mode credentials.
type SlackConfig struct {
	AppToken string `yaml:"app_token"`
	BotToken string `yaml:"bot_token"`
}

// DiscordConfig holds Discord bot credentials.
type DiscordConfig struct {
	BotToken string `yaml:"bot_token"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	cfg.applyEnv()
	return &cfg
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// LoadOrDefault is Load, except that a missing file yields the defaults.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Backend.BaseURL == "" {
		c.Backend.BaseURL = "http://localhost:3001/api"
	}
	if c.Backend.ChatPath == "" {
		c.Backend.ChatPath = "chat"
	}
	if c.Backend.DashboardPath == "" {
		c.Backend.DashboardPath = "dashboard"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Registry.Driver == "" {
		c.Registry.Driver = "sqlite"
	}
	if c.Registry.Driver == "sqlite" && c.Registry.Path == "" {
		c.Registry.Path = ":memory:"
	}
	if c.Registry.Driver == "mysql" {
		if c.Registry.Host == "" {
			c.Registry.Host = "127.0.0.1"
		}
		if c.Registry.Port == 0 {
			c.Registry.Port = 3306
		}
		if c.Registry.User == "" {
			c.Registry.User = "root"
		}
		if c.Registry.Database == "" {
			c.Registry.Database = "costdesk"
		}
	}
	if c.Registry.IdleTimeoutMin == 0 {
		c.Registry.IdleTimeoutMin = 60
	}
	if c.Registry.ReapCron == "" {
		c.Registry.ReapCron = "*/5 * * * *"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// applyEnv applies environment overrides.
func (c *Config) applyEnv() {
	if v := os.Getenv(EnvAPIURL); v != "" {
		c.Backend.BaseURL = v
	}
	if v := os.Getenv(EnvAPIToken); v != "" {
		c.Backend.Token = v
	}
}

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// validate checks that all fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if !strings.HasPrefix(c.Backend.BaseURL, "http://") && !strings.HasPrefix(c.Backend.BaseURL, "https://") {
		errs = append(errs, fmt.Sprintf("backend.base_url must be an http(s) URL, got %q", c.Backend.BaseURL))
	}
	if c.Backend.TimeoutSec < 0 {
		errs = append(errs, "backend.timeout_sec must not be negative")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}
	switch c.Registry.Driver {
	case "sqlite", "mysql":
	default:
		errs = append(errs, fmt.Sprintf("registry.driver must be sqlite or mysql, got %q", c.Registry.Driver))
	}
	if c.Registry.IdleTimeoutMin < 0 {
		errs = append(errs, "registry.idle_timeout_min must not be negative")
	}
	if _, err := cronParser.Parse(c.Registry.ReapCron); err != nil {
		errs = append(errs, fmt.Sprintf("registry.reap_cron %q: %v", c.Registry.ReapCron, err))
	}
	switch c.Telegraph.Platform {
	case "":
	case "slack":
		if c.Telegraph.Slack.AppToken == "" {
			errs = append(errs, "telegraph.slack.app_token is required")
		}
		if c.Telegraph.Slack.BotToken == "" {
			errs = append(errs, "telegraph.slack.bot_token is required")
		}
	case "discord":
		if c.Telegraph.Discord.BotToken == "" {
			errs = append(errs, "telegraph.discord.bot_token is required")
		}
	default:
		errs = append(errs, fmt.Sprintf("telegraph.platform must be slack or discord, got %q", c.Telegraph.Platform))
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("log.level must be debug, info, warn, or error, got %q", c.Log.Level))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
