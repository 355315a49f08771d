// Package config loads the watchpost configuration file. Secrets are never
// stored in the file itself: credential fields name the environment variable
// that carries the value, and an unset variable simply leaves the channel
// unconfigured.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/watchpost/watchpost/internal/types"
)

// Config is the complete watchpost configuration.
type Config struct {
	Server        ServerConfig      `yaml:"server"`
	Monitor       MonitorConfig     `yaml:"monitor"`
	Store         StoreConfig       `yaml:"store"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Services      []ServiceConfig   `yaml:"services"`
	Heartbeats    []HeartbeatConfig `yaml:"heartbeats"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Port string `yaml:"port"`
}

// MonitorConfig holds sweep behavior settings. Intervals are plain seconds
// so the YAML stays obvious.
type MonitorConfig struct {
	SweepIntervalSeconds int  `yaml:"sweep_interval_seconds"`
	ProbeTimeoutSeconds  int  `yaml:"probe_timeout_seconds"`
	MaxConcurrency       int  `yaml:"max_concurrency"`
	RefreshExpiries      bool `yaml:"refresh_expiries"`
}

// SweepInterval returns the sweep cadence as a duration.
func (m MonitorConfig) SweepInterval() time.Duration {
	return time.Duration(m.SweepIntervalSeconds) * time.Second
}

// ProbeTimeout returns the uptime probe bound as a duration.
func (m MonitorConfig) ProbeTimeout() time.Duration {
	return time.Duration(m.ProbeTimeoutSeconds) * time.Second
}

// StoreConfig selects the alert store backend.
type StoreConfig struct {
	Driver string `yaml:"driver"` // "memory" or "sqlite"
	Path   string `yaml:"path"`
}

// NotificationsConfig holds outbound channel settings.
type NotificationsConfig struct {
	Email    EmailConfig    `yaml:"email"`
	Telegram TelegramConfig `yaml:"telegram"`
}

// EmailConfig configures the Resend-style email transport. APIKeyEnv names
// the environment variable holding the key.
type EmailConfig struct {
	APIURL    string `yaml:"api_url"`
	APIKeyEnv string `yaml:"api_key_env"`
	From      string `yaml:"from"`
	To        string `yaml:"to"`
}

// Configured reports whether the email channel has everything it needs.
func (e EmailConfig) Configured() bool {
	return e.APIKeyEnv != "" && os.Getenv(e.APIKeyEnv) != "" && e.From != "" && e.To != ""
}

// APIKey resolves the key from the environment.
func (e EmailConfig) APIKey() string { return os.Getenv(e.APIKeyEnv) }

// TelegramConfig configures the Telegram bot transport.
type TelegramConfig struct {
	BotTokenEnv string `yaml:"bot_token_env"`
	ChatIDEnv   string `yaml:"chat_id_env"`
}

// Configured reports whether both the bot token and chat id are present.
func (t TelegramConfig) Configured() bool {
	return t.BotTokenEnv != "" && os.Getenv(t.BotTokenEnv) != "" &&
		t.ChatIDEnv != "" && os.Getenv(t.ChatIDEnv) != ""
}

// BotToken resolves the bot token from the environment.
func (t TelegramConfig) BotToken() string { return os.Getenv(t.BotTokenEnv) }

// ChatID resolves the chat id from the environment.
func (t TelegramConfig) ChatID() string { return os.Getenv(t.ChatIDEnv) }

// ServiceConfig declares a monitored service.
type ServiceConfig struct {
	ID           string     `yaml:"id"`
	Type         string     `yaml:"type"`
	Target       string     `yaml:"target"`
	URL          string     `yaml:"url"`
	Status       string     `yaml:"status"`
	SSLExpiry    *time.Time `yaml:"ssl_expiry"`
	DomainExpiry *time.Time `yaml:"domain_expiry"`
}

// HeartbeatConfig declares a heartbeat monitor.
type HeartbeatConfig struct {
	ID              string `yaml:"id"`
	ServiceID       string `yaml:"service_id"`
	Name            string `yaml:"name"`
	IntervalSeconds int    `yaml:"expected_interval_seconds"`
	GraceSeconds    int    `yaml:"grace_seconds"`
	Paused          bool   `yaml:"paused"`
}

var validServiceTypes = map[string]struct{}{
	string(types.ServiceDomain):  {},
	string(types.ServiceSSL):     {},
	string(types.ServiceWebsite): {},
	string(types.ServiceEmail):   {},
	string(types.ServiceOther):   {},
}

// Load reads, defaults and validates the configuration at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Monitor.SweepIntervalSeconds == 0 {
		c.Monitor.SweepIntervalSeconds = 300
	}
	if c.Monitor.ProbeTimeoutSeconds == 0 {
		c.Monitor.ProbeTimeoutSeconds = 5
	}
	if c.Monitor.MaxConcurrency == 0 {
		c.Monitor.MaxConcurrency = 8
	}
	if c.Store.Driver == "" {
		c.Store.Driver = "memory"
	}
	if c.Store.Driver == "sqlite" && c.Store.Path == "" {
		c.Store.Path = "watchpost.db"
	}
	for i := range c.Services {
		if c.Services[i].Status == "" {
			c.Services[i].Status = types.StatusActive
		}
	}
	for i := range c.Heartbeats {
		if c.Heartbeats[i].GraceSeconds == 0 {
			c.Heartbeats[i].GraceSeconds = 60
		}
	}
}

// Validate checks the configuration for structural problems.
func (c *Config) Validate() error {
	if c.Store.Driver != "memory" && c.Store.Driver != "sqlite" {
		return fmt.Errorf("store driver must be 'memory' or 'sqlite', got %q", c.Store.Driver)
	}

	seen := make(map[string]struct{})
	for _, svc := range c.Services {
		if svc.ID == "" {
			return fmt.Errorf("service with target %q: id is required", svc.Target)
		}
		if _, dup := seen[svc.ID]; dup {
			return fmt.Errorf("service %s: duplicate id", svc.ID)
		}
		seen[svc.ID] = struct{}{}
		if _, ok := validServiceTypes[svc.Type]; !ok {
			return fmt.Errorf("service %s: unknown type %q", svc.ID, svc.Type)
		}
		if svc.Target == "" && svc.URL == "" {
			return fmt.Errorf("service %s: target or url is required", svc.ID)
		}
	}

	hbSeen := make(map[string]struct{})
	for _, hb := range c.Heartbeats {
		if hb.ID == "" || hb.ServiceID == "" {
			return fmt.Errorf("heartbeat %q: id and service_id are required", hb.ID)
		}
		if _, dup := hbSeen[hb.ID]; dup {
			return fmt.Errorf("heartbeat %s: duplicate id", hb.ID)
		}
		hbSeen[hb.ID] = struct{}{}
		if hb.IntervalSeconds <= 0 {
			return fmt.Errorf("heartbeat %s: expected_interval_seconds must be positive", hb.ID)
		}
	}

	return nil
}

// ServiceList converts the declared services to the monitoring core's
// descriptor type.
func (c *Config) ServiceList() []types.Service {
	out := make([]types.Service, 0, len(c.Services))
	for _, s := range c.Services {
		out = append(out, types.Service{
			ID:           s.ID,
			Type:         types.ServiceType(s.Type),
			Target:       s.Target,
			URL:          s.URL,
			Status:       s.Status,
			SSLExpiry:    s.SSLExpiry,
			DomainExpiry: s.DomainExpiry,
		})
	}
	return out
}
