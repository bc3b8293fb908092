// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/absmach/stomp/client"
	"github.com/absmach/stomp/frame"
	stomptls "github.com/absmach/stomp/pkg/tls"
	"github.com/absmach/stomp/ratelimit"
	"gopkg.in/yaml.v3"
)

// Config holds the configuration of a STOMP client process.
type Config struct {
	Log        LogConfig        `yaml:"log"`
	Connection ConnectionConfig `yaml:"connection"`
	RateLimit  ratelimit.Config `yaml:"rate_limit"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// ConnectionConfig describes the brokers to connect to. URL, when set,
// takes precedence over Hosts and carries its own failover options.
type ConnectionConfig struct {
	URL   string       `yaml:"url"`
	Hosts []HostConfig `yaml:"hosts"`

	Failover              bool          `yaml:"failover"`
	InitialReconnectDelay time.Duration `yaml:"initial_reconnect_delay"`
	MaxReconnectDelay     time.Duration `yaml:"max_reconnect_delay"`
	UseExponentialBackoff bool          `yaml:"use_exponential_backoff"`
	BackoffMultiplier     float64       `yaml:"backoff_multiplier"`
	MaxReconnectAttempts  int           `yaml:"max_reconnect_attempts"` // 0 means unlimited
	Randomize             bool          `yaml:"randomize"`

	ParseTimeout       time.Duration     `yaml:"parse_timeout"`
	MaxBodySize        int               `yaml:"max_body_size"` // bytes, 0 keeps the default
	DialTimeout        time.Duration     `yaml:"dial_timeout"`
	InsecureSkipVerify bool              `yaml:"insecure_skip_verify"`
	ConnectHeaders     map[string]string `yaml:"connect_headers"`

	// TLS applies to hosts with tls enabled.
	TLS stomptls.Config `yaml:"tls"`

	// Per-host circuit breaker; a threshold of 0 disables it.
	BreakerThreshold uint32        `yaml:"breaker_threshold"`
	BreakerTimeout   time.Duration `yaml:"breaker_timeout"`
}

// HostConfig is one broker endpoint.
type HostConfig struct {
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"` // 0 selects the default port
	Login         string `yaml:"login"`
	Passcode      string `yaml:"passcode"`
	TLS           bool   `yaml:"tls"`
	WebSocketPath string `yaml:"ws_path"`
}

// Default returns a configuration with default values.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Connection: ConnectionConfig{
			Hosts: []HostConfig{
				{Host: client.DefaultHost, Port: client.DefaultPort},
			},
			InitialReconnectDelay: client.DefaultInitialDelay,
			MaxReconnectDelay:     client.DefaultMaxDelay,
			UseExponentialBackoff: true,
			BackoffMultiplier:     client.DefaultBackoffMultiplier,
			ParseTimeout:          client.DefaultParseTimeout,
			DialTimeout:           client.DefaultDialTimeout,
			BreakerTimeout:        client.DefaultBreakerTimeout,
		},
		RateLimit: ratelimit.DefaultConfig(),
	}
}

// Load loads configuration from a YAML file.
// If the file doesn't exist, returns default configuration.
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
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("log.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("log.format must be one of: text, json")
	}

	conn := c.Connection
	if conn.URL == "" && len(conn.Hosts) == 0 {
		return fmt.Errorf("connection.url or connection.hosts required")
	}
	for i, h := range conn.Hosts {
		if h.Host == "" {
			return fmt.Errorf("connection.hosts[%d].host cannot be empty", i)
		}
		if h.Port < 0 || h.Port > 65535 {
			return fmt.Errorf("connection.hosts[%d].port must be between 0 and 65535", i)
		}
	}
	if conn.MaxReconnectDelay < conn.InitialReconnectDelay {
		return fmt.Errorf("connection.max_reconnect_delay must not be below initial_reconnect_delay")
	}
	if conn.UseExponentialBackoff && conn.BackoffMultiplier < 1.0 {
		return fmt.Errorf("connection.backoff_multiplier must be at least 1.0")
	}
	if conn.MaxBodySize < 0 {
		return fmt.Errorf("connection.max_body_size cannot be negative")
	}
	if conn.MaxReconnectAttempts < 0 {
		return fmt.Errorf("connection.max_reconnect_attempts cannot be negative")
	}

	if c.RateLimit.Enabled && c.RateLimit.Rate <= 0 {
		return fmt.Errorf("rate_limit.rate must be positive when rate limiting is enabled")
	}

	return nil
}

// Options converts the connection section into client options.
func (c *Config) Options() (*client.Options, error) {
	conn := c.Connection

	var opts *client.Options
	if conn.URL != "" {
		var err error
		if opts, err = ParseURL(conn.URL); err != nil {
			return nil, err
		}
	} else {
		hosts := make([]client.HostSpec, len(conn.Hosts))
		for i, h := range conn.Hosts {
			hosts[i] = client.HostSpec{
				Login:         h.Login,
				Passcode:      h.Passcode,
				Host:          h.Host,
				Port:          h.Port,
				UseTLS:        h.TLS,
				WebSocketPath: h.WebSocketPath,
			}
		}
		opts = client.NewFailoverOptions(hosts...).
			SetFailover(conn.Failover).
			SetReconnectDelay(conn.InitialReconnectDelay, conn.MaxReconnectDelay).
			SetExponentialBackoff(conn.UseExponentialBackoff, conn.BackoffMultiplier).
			SetMaxReconnectAttempts(conn.MaxReconnectAttempts).
			SetRandomizeHosts(conn.Randomize)
	}

	if conn.ParseTimeout > 0 {
		opts.SetParseTimeout(conn.ParseTimeout)
	}
	if conn.DialTimeout > 0 {
		opts.SetDialTimeout(conn.DialTimeout)
	}
	if conn.MaxBodySize > 0 {
		opts.SetMaxBodySize(conn.MaxBodySize)
	}
	if !conn.TLS.IsZero() {
		tlsCfg, err := stomptls.LoadTLSConfig(&conn.TLS)
		if err != nil {
			return nil, fmt.Errorf("invalid connection.tls: %w", err)
		}
		opts.SetTLSConfig(tlsCfg)
	}
	if conn.InsecureSkipVerify {
		opts.SetInsecureSkipVerify(true)
	}
	if conn.BreakerThreshold > 0 {
		opts.SetCircuitBreaker(conn.BreakerThreshold, conn.BreakerTimeout)
	}
	if len(conn.ConnectHeaders) > 0 {
		keys := make([]string, 0, len(conn.ConnectHeaders))
		for k := range conn.ConnectHeaders {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		h := frame.NewHeader()
		for _, k := range keys {
			h.Set(k, conn.ConnectHeaders[k])
		}
		opts.SetConnectHeaders(h)
	}
	if c.RateLimit.Enabled {
		opts.SetPublishRate(c.RateLimit.Rate, c.RateLimit.Burst)
	}

	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid connection configuration: %w", err)
	}
	return opts, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
