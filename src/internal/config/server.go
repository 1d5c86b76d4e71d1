package config

import (
	"fmt"
	"net"
	"path/filepath"
	"strings"

	"logmux/src/internal/filter"
)

type HTTPConfig struct {
	Enabled bool   `toml:"enabled"`
	Host    string `toml:"host"`
	Port    int64  `toml:"port"`

	StreamPath string `toml:"stream_path"`
	FilesPath  string `toml:"files_path"`
	StatusPath string `toml:"status_path"`

	// Both must be set to serve TLS
	TLSCertFile string `toml:"tls_cert_file"`
	TLSKeyFile  string `toml:"tls_key_file"`

	Dashboard DashboardConfig `toml:"dashboard"`
	Heartbeat HeartbeatConfig `toml:"heartbeat"`
	NetLimit  *NetLimitConfig `toml:"net_limit"`
}

type DashboardConfig struct {
	Enabled bool `toml:"enabled"`

	// Substring of a source name that marks it as a producer or
	// consumer file on the dashboard panels
	ProducerMatch string `toml:"producer_match"`
	ConsumerMatch string `toml:"consumer_match"`
}

type TCPConfig struct {
	Enabled bool   `toml:"enabled"`
	Host    string `toml:"host"`
	Port    int64  `toml:"port"`

	// Source files to feed; empty tracks every matching file
	Sources []string `toml:"sources"`

	// Filter expression applied to the feed, key=value pairs
	Filter string `toml:"filter"`

	// Line format: "json" or "text"
	Format string `toml:"format"`

	Heartbeat HeartbeatConfig `toml:"heartbeat"`
	NetLimit  *NetLimitConfig `toml:"net_limit"`
}

type HeartbeatConfig struct {
	Enabled          bool   `toml:"enabled"`
	IntervalSeconds  int64  `toml:"interval_seconds"`
	IncludeTimestamp bool   `toml:"include_timestamp"`
	IncludeStats     bool   `toml:"include_stats"`
	Format           string `toml:"format"` // "comment" or "json"
}

type NetLimitConfig struct {
	Enabled             bool     `toml:"enabled"`
	RequestsPerSecond   float64  `toml:"requests_per_second"`
	BurstSize           int64    `toml:"burst_size"`
	MaxConnectionsPerIP int64    `toml:"max_connections_per_ip"`
	MaxConnectionsTotal int64    `toml:"max_connections_total"`
	ResponseCode        int64    `toml:"response_code"`
	ResponseMessage     string   `toml:"response_message"`
	IPWhitelist         []string `toml:"ip_whitelist"`
	IPBlacklist         []string `toml:"ip_blacklist"`
}

func (c *HTTPConfig) validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}

	paths := map[string]string{
		"stream_path": c.StreamPath,
		"files_path":  c.FilesPath,
		"status_path": c.StatusPath,
	}
	seen := make(map[string]string)
	for key, p := range paths {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("%s must start with '/': %q", key, p)
		}
		if other, dup := seen[p]; dup {
			return fmt.Errorf("%s and %s share the same path %q", key, other, p)
		}
		seen[p] = key
	}

	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		return fmt.Errorf("tls_cert_file and tls_key_file must be set together")
	}
	if c.Dashboard.Enabled {
		if c.Dashboard.ProducerMatch == "" || c.Dashboard.ConsumerMatch == "" {
			return fmt.Errorf("dashboard producer_match and consumer_match must not be empty")
		}
	}
	if err := c.Heartbeat.validate(); err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	if err := c.NetLimit.validate(); err != nil {
		return fmt.Errorf("net_limit: %w", err)
	}
	return nil
}

func (c *TCPConfig) validate(src *SourceConfig) error {
	if !c.Enabled {
		return nil
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}

	switch c.Format {
	case "json", "text", "txt", "":
	default:
		return fmt.Errorf("invalid format %q (must be 'json' or 'text')", c.Format)
	}

	if _, err := filter.Compile(c.Filter); err != nil {
		return fmt.Errorf("invalid filter: %w", err)
	}

	for _, name := range c.Sources {
		if name == "" || name != filepath.Base(name) {
			return fmt.Errorf("invalid source name %q", name)
		}
		if ok, err := filepath.Match(src.Pattern, name); err != nil || !ok {
			return fmt.Errorf("source name %q does not match pattern %q", name, src.Pattern)
		}
	}

	if err := c.Heartbeat.validate(); err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	if err := c.NetLimit.validate(); err != nil {
		return fmt.Errorf("net_limit: %w", err)
	}
	return nil
}

func (h *HeartbeatConfig) validate() error {
	if !h.Enabled {
		return nil
	}
	if h.IntervalSeconds < 1 {
		return fmt.Errorf("interval_seconds must be at least 1")
	}
	switch h.Format {
	case "comment", "json", "":
	default:
		return fmt.Errorf("invalid format %q (must be 'comment' or 'json')", h.Format)
	}
	return nil
}

func (n *NetLimitConfig) validate() error {
	if n == nil {
		return nil
	}
	if n.Enabled {
		if n.RequestsPerSecond <= 0 {
			return fmt.Errorf("requests_per_second must be positive")
		}
		if n.BurstSize < 1 {
			return fmt.Errorf("burst_size must be at least 1")
		}
		if n.MaxConnectionsPerIP < 0 || n.MaxConnectionsTotal < 0 {
			return fmt.Errorf("connection limits must not be negative")
		}
	}
	for _, entry := range append(append([]string{}, n.IPWhitelist...), n.IPBlacklist...) {
		if _, _, err := net.ParseCIDR(entry); err != nil {
			if net.ParseIP(entry) == nil {
				return fmt.Errorf("invalid IP or CIDR: %q", entry)
			}
		}
	}
	return nil
}
