package config

import (
	"fmt"
	"path/filepath"

	"logmux/src/internal/core"
)

type Config struct {
	Logging *LogConfig   `toml:"logging"`
	Source  SourceConfig `toml:"source"`
	Stream  StreamConfig `toml:"stream"`
	HTTP    HTTPConfig   `toml:"http"`
	TCP     TCPConfig    `toml:"tcp"`

	// Disables the periodic status log line
	DisableStatusReporter bool `toml:"disable_status_reporter"`
}

type SourceConfig struct {
	// Directory holding producer JSONL files, created at startup if absent
	Directory string `toml:"directory"`

	// Glob pattern source files must match, base names only
	Pattern string `toml:"pattern"`

	PollIntervalMS int64 `toml:"poll_interval_ms"`
	MaxLineBytes   int64 `toml:"max_line_bytes"`
}

type StreamConfig struct {
	// Per subscription queue capacity; overflow drops the oldest records
	QueueSize int64 `toml:"queue_size"`
}

func defaults() *Config {
	return &Config{
		Logging: DefaultLogConfig(),
		Source: SourceConfig{
			Directory:      "./logs",
			Pattern:        "*.jsonl",
			PollIntervalMS: core.DefaultPollInterval.Milliseconds(),
			MaxLineBytes:   core.DefaultMaxLineBytes,
		},
		Stream: StreamConfig{
			QueueSize: core.DefaultQueueSize,
		},
		HTTP: HTTPConfig{
			Enabled:    true,
			Host:       "127.0.0.1",
			Port:       5050,
			StreamPath: "/stream",
			FilesPath:  "/files",
			StatusPath: "/status",
			Dashboard: DashboardConfig{
				Enabled:       true,
				ProducerMatch: "mcp-server",
				ConsumerMatch: "mcp-client",
			},
			Heartbeat: HeartbeatConfig{
				Enabled:          true,
				IntervalSeconds:  30,
				IncludeTimestamp: true,
				IncludeStats:     false,
				Format:           "comment",
			},
		},
		TCP: TCPConfig{
			Enabled: false,
			Host:    "127.0.0.1",
			Port:    9090,
			Format:  "json",
			Heartbeat: HeartbeatConfig{
				Enabled:          false,
				IntervalSeconds:  30,
				IncludeTimestamp: true,
				IncludeStats:     false,
				Format:           "json",
			},
		},
	}
}

func (c *Config) validate() error {
	if c.Logging != nil {
		if err := validateLogConfig(c.Logging); err != nil {
			return fmt.Errorf("logging: %w", err)
		}
	}
	if err := c.validateSource(); err != nil {
		return fmt.Errorf("source: %w", err)
	}
	if err := c.validateStream(); err != nil {
		return fmt.Errorf("stream: %w", err)
	}
	if err := c.HTTP.validate(); err != nil {
		return fmt.Errorf("http: %w", err)
	}
	if err := c.TCP.validate(&c.Source); err != nil {
		return fmt.Errorf("tcp: %w", err)
	}
	return nil
}

func (c *Config) validateSource() error {
	if c.Source.Directory == "" {
		return fmt.Errorf("directory must not be empty")
	}
	if c.Source.Pattern == "" {
		return fmt.Errorf("pattern must not be empty")
	}
	if _, err := filepath.Match(c.Source.Pattern, "probe"); err != nil {
		return fmt.Errorf("invalid pattern %q: %w", c.Source.Pattern, err)
	}
	if c.Source.PollIntervalMS < core.MinPollInterval.Milliseconds() {
		return fmt.Errorf("poll_interval_ms must be at least %d", core.MinPollInterval.Milliseconds())
	}
	if c.Source.MaxLineBytes <= 0 {
		return fmt.Errorf("max_line_bytes must be positive")
	}
	return nil
}

func (c *Config) validateStream() error {
	if c.Stream.QueueSize <= 0 {
		return fmt.Errorf("queue_size must be positive")
	}
	return nil
}
