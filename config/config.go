// Package config loads the explorer's settings from an optional JSON
// file with sane defaults for every field.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/c360/streamscope/errors"
)

// Config represents the complete application configuration.
type Config struct {
	// Listen is the gateway bind address, e.g. "127.0.0.1:8480".
	Listen string `json:"listen"`

	Log     LogConfig     `json:"log,omitempty"`
	Stream  StreamConfig  `json:"stream,omitempty"`
	Browse  BrowseConfig  `json:"browse,omitempty"`
	Gateway GatewayConfig `json:"gateway,omitempty"`

	// ShutdownTimeout bounds the graceful teardown of producers,
	// consumers, streaming loops and cluster connections.
	ShutdownTimeout time.Duration `json:"shutdown_timeout,omitempty"`
}

// LogConfig controls structured logging output.
type LogConfig struct {
	Level  string `json:"level,omitempty"`  // debug, info, warn, error
	Format string `json:"format,omitempty"` // text, json
}

// StreamConfig bounds the streaming delivery loops.
type StreamConfig struct {
	ReceiveTimeout time.Duration `json:"receive_timeout,omitempty"`
	PausePoll      time.Duration `json:"pause_poll,omitempty"`
	AckTimeout     time.Duration `json:"ack_timeout,omitempty"`
	BackoffInitial time.Duration `json:"backoff_initial,omitempty"`
	BackoffMax     time.Duration `json:"backoff_max,omitempty"`
}

// BrowseConfig bounds the reader-based topic peek.
type BrowseConfig struct {
	// Limit caps how many messages one browse call returns.
	Limit int `json:"limit,omitempty"`
	// Timeout bounds the whole browse, not each read.
	Timeout time.Duration `json:"timeout,omitempty"`
}

// GatewayConfig controls the websocket sink.
type GatewayConfig struct {
	// SinkBuffer is the per-client event buffer. When it fills, the
	// oldest events are dropped rather than blocking delivery.
	SinkBuffer int `json:"sink_buffer,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Listen: "127.0.0.1:8480",
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Stream: StreamConfig{
			ReceiveTimeout: 1 * time.Second,
			PausePoll:      100 * time.Millisecond,
			AckTimeout:     5 * time.Second,
			BackoffInitial: 200 * time.Millisecond,
			BackoffMax:     2 * time.Second,
		},
		Browse: BrowseConfig{
			Limit:   100,
			Timeout: 10 * time.Second,
		},
		Gateway: GatewayConfig{
			SinkBuffer: 256,
		},
		ShutdownTimeout: 15 * time.Second,
	}
}

// Load reads a JSON config file and merges it over the defaults. An
// empty path returns the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "Config", "Load", "read "+path)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, errors.WrapInvalid(err, "Config", "Load", "parse "+path)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the config and normalizes string fields.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return errors.WrapInvalid(
			fmt.Errorf("listen address is required"),
			"Config", "Validate", "check listen")
	}

	c.Log.Level = strings.ToLower(c.Log.Level)
	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return errors.WrapInvalid(
			fmt.Errorf("unknown log level %q", c.Log.Level),
			"Config", "Validate", "check log.level")
	}

	c.Log.Format = strings.ToLower(c.Log.Format)
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return errors.WrapInvalid(
			fmt.Errorf("unknown log format %q", c.Log.Format),
			"Config", "Validate", "check log.format")
	}

	if c.Stream.ReceiveTimeout < 0 || c.Stream.PausePoll < 0 || c.Stream.AckTimeout < 0 {
		return errors.WrapInvalid(
			fmt.Errorf("stream timeouts must not be negative"),
			"Config", "Validate", "check stream")
	}

	if c.Browse.Limit < 0 {
		return errors.WrapInvalid(
			fmt.Errorf("browse limit must not be negative"),
			"Config", "Validate", "check browse.limit")
	}

	if c.Gateway.SinkBuffer < 0 {
		return errors.WrapInvalid(
			fmt.Errorf("sink buffer must not be negative"),
			"Config", "Validate", "check gateway.sink_buffer")
	}

	return nil
}

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() *Config {
	if c == nil {
		return &Config{}
	}
	copied := *c
	return &copied
}
