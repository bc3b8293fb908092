// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/absmach/stomp/client"
)

// URL errors.
var (
	ErrInvalidURL        = errors.New("invalid broker URL")
	ErrUnsupportedScheme = errors.New("unsupported URL scheme")
	ErrInvalidOption     = errors.New("invalid failover option")
)

const failoverPrefix = "failover:"

// ParseURL converts a broker URL into client options. Accepted forms:
//
//	stomp://[login:passcode@]host[:port]
//	stomp+ssl://[login:passcode@]host[:port]
//	ws://[login:passcode@]host[:port][/path]
//	wss://[login:passcode@]host[:port][/path]
//	failover:(url,url,...)[?options]
//	failover://(url,url,...)[?options]
//
// Failover options are initialReconnectDelay and maxReconnectDelay in
// milliseconds, useExponentialBackOff, backOffMultiplier,
// maxReconnectAttempts and randomize. Unknown options are ignored.
func ParseURL(s string) (*client.Options, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, failoverPrefix) {
		h, err := parseHost(s)
		if err != nil {
			return nil, err
		}
		return client.NewOptions("", "", "", 0).SetHosts(h), nil
	}

	rest := strings.TrimPrefix(strings.TrimPrefix(s, failoverPrefix), "//")
	if !strings.HasPrefix(rest, "(") {
		return nil, fmt.Errorf("%w: %q: missing host list", ErrInvalidURL, s)
	}
	end := strings.Index(rest, ")")
	if end < 0 {
		return nil, fmt.Errorf("%w: %q: unterminated host list", ErrInvalidURL, s)
	}

	var hosts []client.HostSpec
	for _, part := range strings.Split(rest[1:end], ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		h, err := parseHost(part)
		if err != nil {
			return nil, err
		}
		hosts = append(hosts, h)
	}
	if len(hosts) == 0 {
		return nil, fmt.Errorf("%w: %q: no hosts", ErrInvalidURL, s)
	}

	opts := client.NewFailoverOptions(hosts...)
	query := strings.TrimPrefix(rest[end+1:], "?")
	if query == "" {
		return opts, nil
	}
	values, err := url.ParseQuery(query)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	if err := applyFailoverOptions(opts, values); err != nil {
		return nil, err
	}
	return opts, nil
}

func parseHost(s string) (client.HostSpec, error) {
	u, err := url.Parse(s)
	if err != nil {
		return client.HostSpec{}, fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}

	var h client.HostSpec
	switch strings.ToLower(u.Scheme) {
	case "stomp", "tcp":
	case "stomp+ssl", "stomp+tls", "ssl":
		h.UseTLS = true
	case "ws":
		h.WebSocketPath = wsPath(u)
	case "wss":
		h.UseTLS = true
		h.WebSocketPath = wsPath(u)
	default:
		return client.HostSpec{}, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}

	h.Host = u.Hostname()
	if h.Host == "" {
		return client.HostSpec{}, fmt.Errorf("%w: %q: missing host", ErrInvalidURL, s)
	}
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil || port < 1 || port > 65535 {
			return client.HostSpec{}, fmt.Errorf("%w: %q: bad port", ErrInvalidURL, s)
		}
		h.Port = port
	}
	if u.User != nil {
		h.Login = u.User.Username()
		h.Passcode, _ = u.User.Password()
	}
	return h, nil
}

func wsPath(u *url.URL) string {
	if u.Path == "" {
		return "/"
	}
	return u.Path
}

func applyFailoverOptions(opts *client.Options, values url.Values) error {
	for key := range values {
		v := values.Get(key)
		switch key {
		case "initialReconnectDelay":
			ms, err := strconv.ParseInt(v, 10, 64)
			if err != nil || ms < 0 {
				return fmt.Errorf("%w: %s=%q", ErrInvalidOption, key, v)
			}
			opts.InitialDelay = time.Duration(ms) * time.Millisecond
		case "maxReconnectDelay":
			ms, err := strconv.ParseInt(v, 10, 64)
			if err != nil || ms < 0 {
				return fmt.Errorf("%w: %s=%q", ErrInvalidOption, key, v)
			}
			opts.MaxDelay = time.Duration(ms) * time.Millisecond
		case "useExponentialBackOff":
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%w: %s=%q", ErrInvalidOption, key, v)
			}
			opts.UseExponentialBackoff = b
		case "backOffMultiplier":
			m, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("%w: %s=%q", ErrInvalidOption, key, v)
			}
			opts.BackoffMultiplier = m
		case "maxReconnectAttempts":
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%w: %s=%q", ErrInvalidOption, key, v)
			}
			opts.MaxReconnectAttempts = n
		case "randomize":
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%w: %s=%q", ErrInvalidOption, key, v)
			}
			opts.RandomizeHosts = b
		}
	}
	return nil
}
