package main

import (
	"flag"
	"fmt"
	"os"
	"time"
)

// CLIConfig holds command-line configuration.
type CLIConfig struct {
	ConfigPath      string
	Listen          string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
	ShowVersion     bool
	Validate        bool
}

func parseFlags() *CLIConfig {
	cfg := &CLIConfig{}

	flag.StringVar(&cfg.ConfigPath, "config",
		getEnv("STREAMSCOPE_CONFIG", ""),
		"Path to configuration file, empty for defaults (env: STREAMSCOPE_CONFIG)")

	flag.StringVar(&cfg.Listen, "listen",
		getEnv("STREAMSCOPE_LISTEN", ""),
		"Gateway listen address, overrides config (env: STREAMSCOPE_LISTEN)")

	flag.StringVar(&cfg.LogLevel, "log-level",
		getEnv("STREAMSCOPE_LOG_LEVEL", ""),
		"Log level: debug, info, warn, error; overrides config (env: STREAMSCOPE_LOG_LEVEL)")

	flag.StringVar(&cfg.LogFormat, "log-format",
		getEnv("STREAMSCOPE_LOG_FORMAT", ""),
		"Log format: json, text; overrides config (env: STREAMSCOPE_LOG_FORMAT)")

	flag.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("STREAMSCOPE_SHUTDOWN_TIMEOUT", 0),
		"Graceful shutdown timeout, overrides config (env: STREAMSCOPE_SHUTDOWN_TIMEOUT)")

	flag.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	flag.BoolVar(&cfg.ShowVersion, "v", false, "Show version information")
	flag.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	flag.Usage = printUsage
	flag.Parse()

	return cfg
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShowVersion {
		return nil
	}

	if cfg.ConfigPath != "" {
		if _, err := os.Stat(cfg.ConfigPath); err != nil {
			return fmt.Errorf("config file not found: %s", cfg.ConfigPath)
		}
	}

	return nil
}

func printUsage() {
	_, _ = fmt.Fprintf(os.Stderr, `%s - broker explorer backend

Usage: %s [options]

Options:
`, appName, os.Args[0])
	flag.PrintDefaults()
	_, _ = fmt.Fprintf(os.Stderr, `
Examples:
  # Run with defaults (listens on 127.0.0.1:8480)
  %s

  # Run with a config file and debug logging
  %s --config=/etc/streamscope/config.json --log-level=debug

  # Validate configuration only
  %s --config=config.json --validate

Version: %s
`, os.Args[0], os.Args[0], os.Args[0], Version)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
