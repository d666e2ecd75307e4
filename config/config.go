// Copyright (c) Session Bridge Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the session bridge.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Refresh  RefreshConfig  `yaml:"refresh"`
	Log      LogConfig      `yaml:"log"`
	Storage  StorageConfig  `yaml:"storage"`
	Notifier NotifierConfig `yaml:"notifier"`
}

// ServerConfig holds listener-related configuration.
type ServerConfig struct {
	// Host is the bind host for the primary and secondary channels.
	Host string `yaml:"host"`

	// BasePort is the primary (HTTP) channel port. The secondary (push)
	// channel binds BasePort+1 unless push_port overrides it.
	BasePort int `yaml:"base_port"`

	// PushPort overrides the secondary channel port. Zero means BasePort+1.
	PushPort int `yaml:"push_port"`

	// PushPath is the websocket upgrade path on the secondary channel.
	PushPath string `yaml:"push_path"`

	// Environment is a label echoed through discovery responses.
	Environment string `yaml:"environment"`

	HealthAddr    string `yaml:"health_addr"`
	HealthEnabled bool   `yaml:"health_enabled"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// RegisterWindow bounds how long an accepted push connection may stay
	// unregistered before it is closed.
	RegisterWindow time.Duration `yaml:"register_window"`

	// IdleTimeout bounds the gap between inbound messages on a registered
	// push connection. Zero disables the idle check.
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// ConnRate/ConnBurst limit push connection attempts per remote IP.
	ConnRate  float64 `yaml:"conn_rate"`
	ConnBurst int     `yaml:"conn_burst"`

	// MsgRate/MsgBurst limit inbound feedback messages per user.
	MsgRate  float64 `yaml:"msg_rate"`
	MsgBurst int     `yaml:"msg_burst"`
}

// RefreshConfig holds auto-refresh scheduler settings.
type RefreshConfig struct {
	// TickInterval is how often refresh policies are scanned.
	TickInterval time.Duration `yaml:"tick_interval"`

	// DefaultInterval is the per-user refresh interval applied when a
	// cookie is stored with auto-refresh but no interval.
	DefaultInterval time.Duration `yaml:"default_interval"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// StorageConfig holds storage backend configuration.
type StorageConfig struct {
	Type string `yaml:"type"` // memory, badger

	// BadgerDB settings
	BadgerDir  string `yaml:"badger_dir"`
	SyncWrites bool   `yaml:"sync_writes"`
}

// NotifierConfig holds upstream feedback notifier configuration.
type NotifierConfig struct {
	Enabled         bool               `yaml:"enabled"`
	QueueSize       int                `yaml:"queue_size"`
	Workers         int                `yaml:"workers"`
	DropPolicy      string             `yaml:"drop_policy"` // "oldest" or "newest"
	ShutdownTimeout time.Duration      `yaml:"shutdown_timeout"`
	Defaults        NotifierDefaults   `yaml:"defaults"`
	Endpoints       []NotifierEndpoint `yaml:"endpoints"`
}

// NotifierDefaults holds defaults applied to all notifier endpoints.
type NotifierDefaults struct {
	Timeout        time.Duration        `yaml:"timeout"`
	Retry          RetryConfig          `yaml:"retry"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// RetryConfig holds retry configuration for upstream delivery.
type RetryConfig struct {
	MaxAttempts     int           `yaml:"max_attempts"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
	Multiplier      float64       `yaml:"multiplier"`
}

// CircuitBreakerConfig holds circuit breaker configuration.
type CircuitBreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	ResetTimeout     time.Duration `yaml:"reset_timeout"`
}

// NotifierEndpoint defines a single upstream endpoint.
type NotifierEndpoint struct {
	Name    string            `yaml:"name"`
	URL     string            `yaml:"url"`
	Kinds   []string          `yaml:"kinds"` // message kind filter (empty = all)
	Headers map[string]string `yaml:"headers"`
	Timeout time.Duration     `yaml:"timeout,omitempty"` // Override default
	Retry   *RetryConfig      `yaml:"retry,omitempty"`   // Override default
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			BasePort:        8765,
			PushPort:        0,
			PushPath:        "/push",
			Environment:     "local",
			HealthAddr:      ":8081",
			HealthEnabled:   true,
			ShutdownTimeout: 30 * time.Second,
			RegisterWindow:  30 * time.Second,
			IdleTimeout:     5 * time.Minute,
			ConnRate:        10,
			ConnBurst:       20,
			MsgRate:         20,
			MsgBurst:        40,
		},
		Refresh: RefreshConfig{
			TickInterval:    time.Minute,
			DefaultInterval: 30 * time.Minute,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Storage: StorageConfig{
			Type:      "badger",
			BadgerDir: "/tmp/sessionbridge/data",
		},
		Notifier: NotifierConfig{
			Enabled:         false,
			QueueSize:       1000,
			Workers:         3,
			DropPolicy:      "oldest",
			ShutdownTimeout: 30 * time.Second,
			Defaults: NotifierDefaults{
				Timeout: 5 * time.Second,
				Retry: RetryConfig{
					MaxAttempts:     3,
					InitialInterval: 1 * time.Second,
					MaxInterval:     30 * time.Second,
					Multiplier:      2.0,
				},
				CircuitBreaker: CircuitBreakerConfig{
					FailureThreshold: 5,
					ResetTimeout:     60 * time.Second,
				},
			},
		},
	}
}

// Load reads configuration from a YAML file, overlaying defaults.
// An empty filename or missing file yields the defaults.
func Load(filename string) (*Config, error) {
	if filename == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.BasePort <= 0 || c.Server.BasePort > 65535 {
		return fmt.Errorf("server.base_port must be in (0, 65535]")
	}
	if c.Server.PushPort < 0 || c.Server.PushPort > 65535 {
		return fmt.Errorf("server.push_port must be in [0, 65535]")
	}
	if c.Server.PushPath == "" {
		return fmt.Errorf("server.push_path cannot be empty")
	}
	if c.Server.RegisterWindow < time.Second {
		return fmt.Errorf("server.register_window must be at least 1 second")
	}

	if c.Refresh.TickInterval < time.Second {
		return fmt.Errorf("refresh.tick_interval must be at least 1 second")
	}
	if c.Refresh.DefaultInterval < time.Second {
		return fmt.Errorf("refresh.default_interval must be at least 1 second")
	}

	switch c.Storage.Type {
	case "memory", "badger":
	default:
		return fmt.Errorf("storage.type must be memory or badger")
	}
	if c.Storage.Type == "badger" && c.Storage.BadgerDir == "" {
		return fmt.Errorf("storage.badger_dir required for badger storage")
	}

	if c.Notifier.Enabled {
		if c.Notifier.Workers < 1 {
			return fmt.Errorf("notifier.workers must be at least 1")
		}
		if c.Notifier.QueueSize < 1 {
			return fmt.Errorf("notifier.queue_size must be at least 1")
		}
		if len(c.Notifier.Endpoints) == 0 {
			return fmt.Errorf("notifier.endpoints required when notifier is enabled")
		}
		for _, ep := range c.Notifier.Endpoints {
			if ep.Name == "" || ep.URL == "" {
				return fmt.Errorf("notifier endpoints require name and url")
			}
		}
	}

	return nil
}
