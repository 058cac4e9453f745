// Package config handles loading and validating gsbd's configuration.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is the top-level configuration for the gsbd debug/bridge
// daemon.
type Config struct {
	Broker   BrokerConfig `koanf:"broker"`
	Client   ClientConfig `koanf:"client"`
	Debug    DebugConfig  `koanf:"debug"`
	LogLevel string       `koanf:"log_level"`
}

// BrokerConfig selects and times out the broker connection.
type BrokerConfig struct {
	// Kind is "tcp" or "unix".
	Kind        string        `koanf:"kind"`
	Addr        string        `koanf:"addr"`
	DialTimeout time.Duration `koanf:"dial_timeout"`
}

// ClientConfig identifies this process to the broker.
type ClientConfig struct {
	Name    string `koanf:"name"`
	Version string `koanf:"version"`
}

// DebugConfig controls the HTTP debug/health/metrics surface.
type DebugConfig struct {
	ListenAddr string `koanf:"listen_addr"`
}

// Load reads configuration from a YAML file, layers environment
// variable overrides on top, and returns a fully populated Config.
func Load(path string) (*Config, error) {
	// Load .env file into the process environment (ignored if not present).
	_ = godotenv.Load()

	// Create a new koanf instance. The "." delimiter tells koanf how to
	// separate nested keys internally (e.g., "broker.addr").
	k := koanf.New(".")

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("loading config file: %w", err)
	}

	// Layer environment variables on top. Any env var starting with
	// "GSBD_" can override a config value:
	//   GSBD_BROKER_ADDR -> broker.addr
	if err := k.Load(env.Provider("GSBD_", ".", func(s string) string {
		return strings.ReplaceAll(
			strings.ToLower(strings.TrimPrefix(s, "GSBD_")),
			"_", ".",
		)
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	cfg := Config{
		Broker: BrokerConfig{
			Kind:        "tcp",
			DialTimeout: 5 * time.Second,
		},
		Client: ClientConfig{
			Name:    "gsbd",
			Version: "0.0.0",
		},
		Debug: DebugConfig{
			ListenAddr: ":7654",
		},
		LogLevel: "info",
	}
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if cfg.Broker.Addr == "" {
		return nil, fmt.Errorf("broker.addr is required")
	}
	if cfg.Broker.Kind != "tcp" && cfg.Broker.Kind != "unix" {
		return nil, fmt.Errorf("broker.kind must be \"tcp\" or \"unix\", got %q", cfg.Broker.Kind)
	}

	return &cfg, nil
}
