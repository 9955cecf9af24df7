// Package config loads the coordinator daemon's configuration from flags,
// an optional YAML file, and environment variables. Precedence, highest
// first: environment variables (for the keys they cover), then flags given
// on the command line, then the file, then the built-in defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Config holds the coordinator's tunable parameters.
type Config struct {
	// LogLevel is one of debug/info/warn/error.
	LogLevel string `yaml:"log_level"`

	// BusBufferSize is the capacity of the C1 event-bus channel.
	BusBufferSize int `yaml:"bus_buffer_size"`

	// InitiatorGrace is T1: how long a device gets to finish connecting
	// the remaining profiles itself before the coordinator re-requests them.
	InitiatorGrace time.Duration `yaml:"initiator_grace"`

	// ProfileDiscoveryTimeout is T2: the total time budget, measured from
	// first_conn_ts, before an incompletely-connected device is torn down.
	ProfileDiscoveryTimeout time.Duration `yaml:"profile_discovery_timeout"`

	// PhoneOpsEnabled is the initial value of phone_ops_enabled.
	PhoneOpsEnabled bool `yaml:"phone_ops_enabled"`

	// DebugAPIAddr, if non-empty, serves the read-only status API (see
	// internal/btmedia/api) on this address.
	DebugAPIAddr string `yaml:"debug_api_addr"`
}

// Default returns the built-in defaults, matching §6 of the design.
func Default() *Config {
	return &Config{
		LogLevel:                "info",
		BusBufferSize:           256,
		InitiatorGrace:          6 * time.Second,
		ProfileDiscoveryTimeout: 10 * time.Second,
		PhoneOpsEnabled:         true,
		DebugAPIAddr:            "",
	}
}

// Load parses flags, merges an optional YAML file, then applies
// environment-variable overrides, the way the teacher's signaling binary
// loads its config.
func Load(args []string) (*Config, error) {
	cfg := Default()

	fs := pflag.NewFlagSet("btmediad", pflag.ContinueOnError)
	var configPath string
	fs.StringVar(&configPath, "config", "", "path to an optional YAML config file")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	fs.IntVar(&cfg.BusBufferSize, "bus-buffer-size", cfg.BusBufferSize, "capacity of the profile event bus")
	fs.DurationVar(&cfg.InitiatorGrace, "retry-timeout", cfg.InitiatorGrace, "initiator grace window before re-requesting missing profiles")
	fs.DurationVar(&cfg.ProfileDiscoveryTimeout, "discovery-timeout", cfg.ProfileDiscoveryTimeout, "total profile-discovery budget before teardown")
	fs.BoolVar(&cfg.PhoneOpsEnabled, "phone-ops-enabled", cfg.PhoneOpsEnabled, "enable full HFP call control (disable for legacy headsets that just want audio)")
	fs.StringVar(&cfg.DebugAPIAddr, "debug-api-addr", cfg.DebugAPIAddr, "address to serve the read-only debug API on (empty disables it)")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("config: parse flags: %w", err)
	}

	if configPath != "" {
		if err := mergeYAMLFile(cfg, configPath); err != nil {
			return nil, err
		}
		// Flags explicitly set on the command line still win over the file;
		// re-parse so any flag the user actually passed overrides the file.
		if err := fs.Parse(args); err != nil {
			return nil, fmt.Errorf("config: re-parse flags: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if cfg.InitiatorGrace <= 0 {
		return nil, fmt.Errorf("config: retry-timeout must be positive")
	}
	if cfg.ProfileDiscoveryTimeout <= cfg.InitiatorGrace {
		return nil, fmt.Errorf("config: discovery-timeout must exceed retry-timeout")
	}

	return cfg, nil
}

func mergeYAMLFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BTMEDIA_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("BTMEDIA_PHONE_OPS_ENABLED"); v != "" {
		cfg.PhoneOpsEnabled = v == "1" || v == "true"
	}
	if v := os.Getenv("BTMEDIA_DEBUG_API_ADDR"); v != "" {
		cfg.DebugAPIAddr = v
	}
}
