// Package main implements the StreamScope backend: a local gateway
// that manages broker cluster connections, messaging resource handles
// and streaming consumers for the explorer UI.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/c360/streamscope/config"
	gatewayhttp "github.com/c360/streamscope/gateway/http"
	"github.com/c360/streamscope/gateway/ws"
	"github.com/c360/streamscope/manager"
	"github.com/c360/streamscope/metric"
)

// Build information constants
const (
	Version = "0.1.0"
	appName = "streamscope"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}

	cfg, err := initializeConfiguration(cliCfg)
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	if cliCfg.Validate {
		slog.Info("Configuration is valid")
		return nil
	}

	slog.Info("Starting StreamScope",
		"version", Version,
		"config_path", cliCfg.ConfigPath,
		"listen", cfg.Listen)

	registry := metric.NewMetricsRegistry()
	metrics := registry.CoreMetrics()

	hub := ws.NewHub(cfg.Gateway.SinkBuffer, logger.With("component", "ws-hub"), metrics)

	mgr := manager.New(cfg, hub,
		manager.WithLogger(logger.With("component", "manager")),
		manager.WithMetrics(metrics))

	server := gatewayhttp.NewServer(*cfg, mgr, hub, registry.Handler(), logger, metrics)

	return runWithSignalHandling(server, hub, mgr, cfg.ShutdownTimeout)
}

// initializeConfiguration loads the config file and applies flag
// overrides.
func initializeConfiguration(cliCfg *CLIConfig) (*config.Config, error) {
	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if cliCfg.Listen != "" {
		cfg.Listen = cliCfg.Listen
	}
	if cliCfg.LogLevel != "" {
		cfg.Log.Level = cliCfg.LogLevel
	}
	if cliCfg.LogFormat != "" {
		cfg.Log.Format = cliCfg.LogFormat
	}
	if cliCfg.ShutdownTimeout > 0 {
		cfg.ShutdownTimeout = cliCfg.ShutdownTimeout
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// runWithSignalHandling serves until SIGINT/SIGTERM, then tears down
// gateway first and broker resources last.
func runWithSignalHandling(
	server *gatewayhttp.Server,
	hub *ws.Hub,
	mgr *manager.Manager,
	shutdownTimeout time.Duration,
) error {
	signalCtx, signalCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	if err := server.Start(); err != nil {
		return fmt.Errorf("start gateway: %w", err)
	}
	slog.Info("StreamScope started")

	<-signalCtx.Done()
	slog.Info("Received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Drain HTTP before closing the notification channel, then release
	// broker resources: producers, one-shot consumers, streaming
	// consumers, clusters.
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Gateway shutdown failed", "error", err)
	}
	hub.Close()

	if err := mgr.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	slog.Info("StreamScope shutdown complete")
	return nil
}
