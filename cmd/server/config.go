// Package main provides the PulseStream server CLI.
package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the server configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	ClickHouse    ClickHouseConfig    `yaml:"clickhouse"`
	Queue         QueueConfig         `yaml:"queue"`
	Alerting      AlertingConfig      `yaml:"alerting"`
	Notifications NotificationConfig  `yaml:"notifications"`
	Metrics       MetricsConfig       `yaml:"metrics"`
	Tenants       []TenantSeedConfig  `yaml:"tenants"`
	Verbose       bool                `yaml:"-"` // set via CLI flag
}

// ServerConfig contains HTTP API settings.
type ServerConfig struct {
	Address        string `yaml:"address"`          // HTTP listen address (default: :8080)
	AccessTokenTTL string `yaml:"access_token_ttl"` // JWT lifetime (default: 1h)
	QueryTimeout   string `yaml:"query_timeout"`    // storage-backed call timeout (default: 10s)
}

// DatabaseConfig contains SQLite settings for the control plane.
type DatabaseConfig struct {
	Path string `yaml:"path"` // SQLite database file path
}

// ClickHouseConfig contains optional event store settings. When
// disabled, events are stored in SQLite alongside the control plane.
type ClickHouseConfig struct {
	Enabled       bool     `yaml:"enabled"`
	Addresses     []string `yaml:"addresses"`
	Database      string   `yaml:"database"`
	Username      string   `yaml:"username"`
	Password      string   `yaml:"password"`
	RetentionDays int      `yaml:"retention_days"`
}

// QueueConfig contains the downstream processing queue settings. When
// Kafka is disabled an in-process queue is used.
type QueueConfig struct {
	KafkaEnabled bool     `yaml:"kafka_enabled"`
	Brokers      []string `yaml:"brokers"`
	Topic        string   `yaml:"topic"`
}

// AlertingConfig contains rule evaluation scheduler settings.
type AlertingConfig struct {
	Enabled      bool   `yaml:"enabled"`
	TickInterval string `yaml:"tick_interval"` // scheduler tick (default: 10s)
}

// NotificationConfig contains notification channel settings.
type NotificationConfig struct {
	RateLimitPerMinute int            `yaml:"rate_limit_per_minute"` // dispatches per minute (default: 10)
	Email              *EmailConfig   `yaml:"email"`
	Slack              *SlackConfig   `yaml:"slack"`
	Webhook            *WebhookConfig `yaml:"webhook"`
}

// EmailConfig contains SMTP settings for the email channel.
type EmailConfig struct {
	Host       string   `yaml:"host"`
	Port       int      `yaml:"port"`
	Username   string   `yaml:"username"`
	Password   string   `yaml:"password"`
	From       string   `yaml:"from"`
	Recipients []string `yaml:"recipients"`
}

// SlackConfig contains the Slack webhook settings.
type SlackConfig struct {
	WebhookURL string `yaml:"webhook_url"`
}

// WebhookConfig contains generic webhook settings.
type WebhookConfig struct {
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`
}

// MetricsConfig contains the Prometheus endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"` // metrics listen address (default: :9090)
}

// TenantSeedConfig provisions a tenant on startup if it does not exist.
type TenantSeedConfig struct {
	ID                 string `yaml:"id"`
	Name               string `yaml:"name"`
	RateLimitPerMinute int    `yaml:"rate_limit_per_minute"`
}

// LoadConfig loads configuration from a YAML file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	return cfg
}

// setDefaults sets default values for missing config fields.
func (c *Config) setDefaults() {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.AccessTokenTTL == "" {
		c.Server.AccessTokenTTL = "1h"
	}
	if c.Server.QueryTimeout == "" {
		c.Server.QueryTimeout = "10s"
	}
	if c.Database.Path == "" {
		c.Database.Path = "data/pulsestream.db"
	}
	if c.Queue.Topic == "" {
		c.Queue.Topic = "event-processing"
	}
	if c.Alerting.TickInterval == "" {
		c.Alerting.TickInterval = "10s"
	}
	if c.Notifications.RateLimitPerMinute == 0 {
		c.Notifications.RateLimitPerMinute = 10
	}
	if c.Metrics.Address == "" {
		c.Metrics.Address = ":9090"
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Address == "" {
		return fmt.Errorf("server.address is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	for _, field := range []struct {
		name  string
		value string
	}{
		{"server.access_token_ttl", c.Server.AccessTokenTTL},
		{"server.query_timeout", c.Server.QueryTimeout},
		{"alerting.tick_interval", c.Alerting.TickInterval},
	} {
		if _, err := time.ParseDuration(field.value); err != nil {
			return fmt.Errorf("invalid %s %q: %w", field.name, field.value, err)
		}
	}
	if c.ClickHouse.Enabled && len(c.ClickHouse.Addresses) == 0 {
		return fmt.Errorf("clickhouse.addresses is required when clickhouse is enabled")
	}
	if c.Queue.KafkaEnabled && len(c.Queue.Brokers) == 0 {
		return fmt.Errorf("queue.brokers is required when kafka is enabled")
	}
	for i, t := range c.Tenants {
		if t.ID == "" {
			return fmt.Errorf("tenants[%d].id is required", i)
		}
	}
	return nil
}

// duration parses a duration field already checked by Validate.
func duration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}
