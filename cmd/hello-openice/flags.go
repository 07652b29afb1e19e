package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"time"

	"github.com/khtad/hello-openice/config"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	Domain          int
	DomainSet       bool
	ConfigPath      string
	QoSProfiles     string
	LogLevel        string
	LogFormat       string
	Debug           bool
	Simulate        bool
	SimulateRate    time.Duration
	ShutdownTimeout time.Duration
	ShowVersion     bool
	ShowHelp        bool
	Validate        bool
}

func parseFlags(args []string, stderr io.Writer) (*CLIConfig, error) {
	cfg := &CLIConfig{}
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.StringVar(&cfg.ConfigPath, "config",
		getEnv("HELLOICE_CONFIG", ""),
		"Path to JSON configuration file, defaults only when empty (env: HELLOICE_CONFIG)")
	fs.StringVar(&cfg.ConfigPath, "c",
		getEnv("HELLOICE_CONFIG", ""),
		"Path to JSON configuration file (env: HELLOICE_CONFIG)")

	fs.StringVar(&cfg.QoSProfiles, "qos-profiles",
		getEnv("HELLOICE_QOS_PROFILES_FILE", ""),
		"YAML QoS profile library, built-in ice_library when empty (env: HELLOICE_QOS_PROFILES_FILE)")

	fs.StringVar(&cfg.LogLevel, "log-level",
		getEnv("HELLOICE_LOG_LEVEL", ""),
		"Log level: debug, info, warn, error (env: HELLOICE_LOG_LEVEL)")

	fs.StringVar(&cfg.LogFormat, "log-format",
		getEnv("HELLOICE_LOG_FORMAT", ""),
		"Log format: json, text (env: HELLOICE_LOG_FORMAT)")

	fs.BoolVar(&cfg.Debug, "debug",
		getEnvBool("HELLOICE_DEBUG", false),
		"Enable debug logging (env: HELLOICE_DEBUG)")

	fs.BoolVar(&cfg.Simulate, "simulate",
		getEnvBool("HELLOICE_SIMULATE", false),
		"Subscribe to a built-in pulse oximeter simulator instead of NATS (env: HELLOICE_SIMULATE)")

	fs.DurationVar(&cfg.SimulateRate, "simulate-rate",
		getEnvDuration("HELLOICE_SIMULATE_RATE", time.Second),
		"Interval between simulated readings (env: HELLOICE_SIMULATE_RATE)")

	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("HELLOICE_SHUTDOWN_TIMEOUT", 10*time.Second),
		"Graceful shutdown timeout (env: HELLOICE_SHUTDOWN_TIMEOUT)")

	fs.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	fs.BoolVar(&cfg.ShowVersion, "v", false, "Show version information")
	fs.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	fs.BoolVar(&cfg.ShowHelp, "h", false, "Show help information")
	fs.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	fs.Usage = func() { printDetailedHelp(fs, stderr) }

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if cfg.ShowHelp {
		fs.Usage()
		return cfg, nil
	}

	switch fs.NArg() {
	case 0:
	case 1:
		domain, err := strconv.Atoi(fs.Arg(0))
		if err != nil {
			return nil, fmt.Errorf("domain id must be an integer: %q", fs.Arg(0))
		}
		cfg.Domain = domain
		cfg.DomainSet = true
	default:
		return nil, fmt.Errorf("expected at most one argument (domain id), got %d", fs.NArg())
	}

	if cfg.Debug {
		cfg.LogLevel = "debug"
	}
	return cfg, nil
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShowVersion || cfg.ShowHelp {
		return nil
	}
	if cfg.DomainSet && (cfg.Domain < 0 || cfg.Domain > config.MaxDomain) {
		return fmt.Errorf("domain id must be between 0 and %d, got %d", config.MaxDomain, cfg.Domain)
	}
	if cfg.ConfigPath != "" {
		if _, err := os.Stat(cfg.ConfigPath); err != nil {
			return fmt.Errorf("config file not found: %s", cfg.ConfigPath)
		}
	}
	if cfg.LogLevel != "" && !slices.Contains([]string{"debug", "info", "warn", "error"}, cfg.LogLevel) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}
	if cfg.LogFormat != "" && !slices.Contains([]string{"json", "text"}, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}
	if cfg.Simulate && cfg.SimulateRate <= 0 {
		return fmt.Errorf("simulate rate must be positive, got %s", cfg.SimulateRate)
	}
	if cfg.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive, got %s", cfg.ShutdownTimeout)
	}
	return nil
}

func printDetailedHelp(fs *flag.FlagSet, w io.Writer) {
	_, _ = fmt.Fprintf(w, `%s - ICE pulse oximetry subscriber

Usage: %s [options] [domain-id]

Subscribes to the SampleArray and Numeric topics of the given domain
(default 0) and prints every valid sample.

Options:
`, appName, appName)
	fs.PrintDefaults()
	_, _ = fmt.Fprintf(w, `
Examples:
  # Subscribe on domain 15 through the local NATS server
  %s 15

  # Run against the built-in simulator with text logs
  %s -simulate -log-format=text

  # Use a custom QoS profile library
  %s -qos-profiles=configs/qos.yaml -config=configs/site.json

  # Validate configuration only
  %s -validate -config=configs/site.json

Version: %s
Build: %s
`, appName, appName, appName, appName, Version, BuildTime)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
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
