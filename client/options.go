// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/absmach/stomp/frame"
	"github.com/absmach/stomp/transport"
	"go.opentelemetry.io/otel/metric"
)

// Default values.
const (
	DefaultPort              = 61613
	DefaultTLSPort           = 61612
	DefaultHost              = "localhost"
	DefaultInitialDelay      = 10 * time.Millisecond
	DefaultMaxDelay          = 30 * time.Second
	DefaultBackoffMultiplier = 2.0
	DefaultParseTimeout      = frame.DefaultParseTimeout
	DefaultMaxBodySize       = frame.DefaultMaxBodySize
	DefaultDialTimeout       = transport.DefaultDialTimeout
	DefaultBreakerTimeout    = 30 * time.Second
)

// HostSpec is one broker endpoint.
type HostSpec struct {
	Login    string
	Passcode string
	Host     string
	Port     int // 0 selects DefaultPort or DefaultTLSPort
	UseTLS   bool

	// WebSocketPath, when set, connects with STOMP over WebSocket on this
	// path instead of a raw TCP stream.
	WebSocketPath string
}

// EffectivePort returns the configured port or the default for the
// transport security in use.
func (h HostSpec) EffectivePort() int {
	if h.Port != 0 {
		return h.Port
	}
	if h.UseTLS {
		return DefaultTLSPort
	}
	return DefaultPort
}

// Addr returns host:port.
func (h HostSpec) Addr() string {
	return net.JoinHostPort(h.Host, strconv.Itoa(h.EffectivePort()))
}

func (h HostSpec) validate() error {
	if h.Host == "" {
		return ErrInvalidHost
	}
	if h.Port < 0 || h.Port > 65535 {
		return ErrInvalidPort
	}
	return nil
}

// FailoverConfig describes the host rotation and the reconnect policy.
type FailoverConfig struct {
	Hosts                 []HostSpec
	InitialDelay          time.Duration // Delay before the first retry
	MaxDelay              time.Duration // Upper bound of the retry delay
	UseExponentialBackoff bool
	BackoffMultiplier     float64
	MaxReconnectAttempts  int  // 0 means unlimited
	RandomizeHosts        bool // Reshuffle the host list before each rotation
	ConnectHeaders        *frame.Header
	ParseTimeout          time.Duration

	// BreakerThreshold trips a per-host circuit breaker after this many
	// consecutive handshake failures; an open breaker fails the attempt
	// without dialing until BreakerTimeout elapses. 0 disables breakers.
	BreakerThreshold uint32
	BreakerTimeout   time.Duration
}

// DialFunc opens a transport to a host.
type DialFunc func(ctx context.Context, host HostSpec) (transport.Transport, error)

// Options configures a Connection and the Client built on it.
type Options struct {
	FailoverConfig

	// Failover enables transparent reconnection across Hosts. Without it
	// only Hosts[0] is used and every failure reaches the caller.
	Failover bool

	TLSConfig   *tls.Config // Used for hosts with UseTLS; nil means a default verifying config
	DialTimeout time.Duration
	KeepAlive   time.Duration
	Dialer      DialFunc // Replaces the network dialer, mainly for tests

	// MaxBodySize limits the body of a received frame. 0 removes the limit.
	MaxBodySize int

	Logger        *slog.Logger
	MeterProvider metric.MeterProvider // nil uses the global provider

	// PublishRate limits Client.Publish per destination in messages per
	// second. 0 disables limiting.
	PublishRate  float64
	PublishBurst int
}

// NewOptions creates Options for a single fixed broker.
func NewOptions(login, passcode, host string, port int) *Options {
	return &Options{
		FailoverConfig: FailoverConfig{
			Hosts:                 []HostSpec{{Login: login, Passcode: passcode, Host: host, Port: port}},
			InitialDelay:          DefaultInitialDelay,
			MaxDelay:              DefaultMaxDelay,
			UseExponentialBackoff: true,
			BackoffMultiplier:     DefaultBackoffMultiplier,
			ParseTimeout:          DefaultParseTimeout,
			BreakerTimeout:        DefaultBreakerTimeout,
		},
		DialTimeout: DefaultDialTimeout,
		MaxBodySize: DefaultMaxBodySize,
	}
}

// NewFailoverOptions creates Options that rotate across hosts.
func NewFailoverOptions(hosts ...HostSpec) *Options {
	o := NewOptions("", "", "", 0)
	o.Hosts = hosts
	o.Failover = true
	return o
}

// SetHosts replaces the host list.
func (o *Options) SetHosts(hosts ...HostSpec) *Options {
	o.Hosts = hosts
	return o
}

// SetFailover enables or disables failover.
func (o *Options) SetFailover(enable bool) *Options {
	o.Failover = enable
	return o
}

// SetReconnectDelay sets the initial and maximum retry delay.
func (o *Options) SetReconnectDelay(initial, max time.Duration) *Options {
	o.InitialDelay = initial
	o.MaxDelay = max
	return o
}

// SetExponentialBackoff enables growth of the retry delay by multiplier.
func (o *Options) SetExponentialBackoff(enable bool, multiplier float64) *Options {
	o.UseExponentialBackoff = enable
	o.BackoffMultiplier = multiplier
	return o
}

// SetMaxReconnectAttempts bounds the number of failed connection attempts.
// 0 retries forever.
func (o *Options) SetMaxReconnectAttempts(n int) *Options {
	o.MaxReconnectAttempts = n
	return o
}

// SetRandomizeHosts reshuffles the host list before every rotation.
func (o *Options) SetRandomizeHosts(enable bool) *Options {
	o.RandomizeHosts = enable
	return o
}

// SetConnectHeaders sets extra headers sent with CONNECT.
func (o *Options) SetConnectHeaders(h *frame.Header) *Options {
	o.ConnectHeaders = h
	return o
}

// SetMaxBodySize limits the body of a received frame to n bytes.
func (o *Options) SetMaxBodySize(n int) *Options {
	o.MaxBodySize = n
	return o
}

// SetParseTimeout bounds the decoding of one frame.
func (o *Options) SetParseTimeout(d time.Duration) *Options {
	o.ParseTimeout = d
	return o
}

// SetCircuitBreaker enables per-host circuit breakers.
func (o *Options) SetCircuitBreaker(threshold uint32, timeout time.Duration) *Options {
	o.BreakerThreshold = threshold
	o.BreakerTimeout = timeout
	return o
}

// SetTLSConfig sets the TLS configuration used for TLS hosts.
func (o *Options) SetTLSConfig(cfg *tls.Config) *Options {
	o.TLSConfig = cfg
	return o
}

// SetInsecureSkipVerify disables broker certificate verification.
func (o *Options) SetInsecureSkipVerify(skip bool) *Options {
	if o.TLSConfig == nil {
		o.TLSConfig = &tls.Config{}
	}
	o.TLSConfig.InsecureSkipVerify = skip
	return o
}

// SetDialTimeout sets the timeout of a single dial.
func (o *Options) SetDialTimeout(d time.Duration) *Options {
	o.DialTimeout = d
	return o
}

// SetDialer replaces the network dialer.
func (o *Options) SetDialer(fn DialFunc) *Options {
	o.Dialer = fn
	return o
}

// SetLogger sets the logger.
func (o *Options) SetLogger(l *slog.Logger) *Options {
	o.Logger = l
	return o
}

// SetMeterProvider sets the OpenTelemetry meter provider.
func (o *Options) SetMeterProvider(mp metric.MeterProvider) *Options {
	o.MeterProvider = mp
	return o
}

// SetPublishRate limits publishes per destination.
func (o *Options) SetPublishRate(perSecond float64, burst int) *Options {
	o.PublishRate = perSecond
	o.PublishBurst = burst
	return o
}

// Validate checks the options for errors.
func (o *Options) Validate() error {
	if o == nil {
		return ErrNilOptions
	}
	if len(o.Hosts) == 0 {
		return ErrNoHosts
	}
	for _, h := range o.Hosts {
		if err := h.validate(); err != nil {
			return err
		}
	}
	if o.Failover {
		if o.InitialDelay < 0 || o.MaxDelay < o.InitialDelay {
			return ErrInvalidDelay
		}
		if o.UseExponentialBackoff && o.BackoffMultiplier < 1 {
			return ErrInvalidMultiplier
		}
	}
	if o.MaxReconnectAttempts < 0 {
		return ErrInvalidAttempts
	}
	if o.PublishRate > 0 && o.PublishBurst <= 0 {
		o.PublishBurst = 1
	}
	return nil
}

func (o *Options) transportConfig(h HostSpec) transport.Config {
	cfg := transport.Config{
		WebSocketPath: h.WebSocketPath,
		DialTimeout:   o.DialTimeout,
		KeepAlive:     o.KeepAlive,
	}
	if h.UseTLS {
		cfg.TLS = o.TLSConfig
		if cfg.TLS == nil {
			cfg.TLS = &tls.Config{MinVersion: tls.VersionTLS12}
		}
	}
	return cfg
}
