// Package main runs the ICE pulse oximetry subscriber. It subscribes to the
// SampleArray and Numeric topics of one domain and prints every valid sample
// until interrupted.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/khtad/hello-openice/config"
	"github.com/khtad/hello-openice/dispatch"
	"github.com/khtad/hello-openice/health"
	"github.com/khtad/hello-openice/metric"
	"github.com/khtad/hello-openice/payload"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "hello-openice"
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	cli, err := parseFlags(args, stderr)
	if err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	if err := validateFlags(cli); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	if cli.ShowVersion {
		_, _ = fmt.Fprintf(stdout, "%s version %s\n", appName, Version)
		return nil
	}
	if cli.ShowHelp {
		return nil
	}

	cfg, err := loadConfig(cli)
	if err != nil {
		return err
	}

	logger := setupLogger(stderr, cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	profiles, err := config.LoadQoSProfiles(cfg.QoS.ProfilesFile)
	if err != nil {
		return fmt.Errorf("load QoS profiles: %w", err)
	}
	subs, err := cfg.Subscriptions(profiles)
	if err != nil {
		return fmt.Errorf("resolve subscriptions: %w", err)
	}

	if cli.Validate {
		logger.Info("Configuration is valid", "domain", cfg.Domain, "profiles", profiles.Names())
		return nil
	}

	logger.Info("Starting hello-openice subscriber",
		"version", Version,
		"build_time", BuildTime,
		"domain", cfg.Domain,
		"simulate", cli.Simulate)

	registry := metric.NewMetricsRegistry()
	loopMetrics, err := dispatch.NewMetrics(registry)
	if err != nil {
		return fmt.Errorf("register dispatch metrics: %w", err)
	}
	payloads, err := payload.NewICERegistry()
	if err != nil {
		return fmt.Errorf("create payload registry: %w", err)
	}

	monitor := health.NewMonitor()
	sub := newSubscriber(subscriberDeps{
		cfg:         cfg,
		subs:        subs,
		logger:      logger,
		consumer:    newRouter(stdout),
		metrics:     registry,
		loopMetrics: loopMetrics,
		payloads:    payloads,
		monitor:     monitor,
	})
	if cli.Simulate {
		sub.simulated(newSimulator(cli.SimulateRate, uint64(time.Now().UnixNano()), logger))
	}

	if cfg.Metrics.Enabled {
		server := metric.NewServer(cfg.Metrics.Addr, cfg.Metrics.Path, registry, func() error {
			return monitor.Err(appName)
		})
		if err := server.Start(); err != nil {
			return fmt.Errorf("start metrics server: %w", err)
		}
		logger.Info("Metrics server listening", "addr", server.Address(), "path", cfg.Metrics.Path)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cli.ShutdownTimeout)
			defer cancel()
			if err := server.Stop(shutdownCtx); err != nil {
				logger.Warn("Metrics server shutdown failed", "error", err)
			}
		}()
	}

	if err := sub.Run(ctx); err != nil {
		return err
	}
	logger.Info("hello-openice shutdown complete")
	return nil
}

// loadConfig layers the config file, environment and command line, in that order.
func loadConfig(cli *CLIConfig) (*config.Config, error) {
	loader := config.NewLoader()
	loader.EnableValidation(false)
	if cli.ConfigPath != "" {
		loader.AddLayer(cli.ConfigPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if cli.DomainSet {
		cfg.Domain = cli.Domain
	}
	if cli.QoSProfiles != "" {
		cfg.QoS.ProfilesFile = cli.QoSProfiles
	}
	if cli.LogLevel != "" {
		cfg.Log.Level = cli.LogLevel
	}
	if cli.LogFormat != "" {
		cfg.Log.Format = cli.LogFormat
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
