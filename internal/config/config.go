// Package config loads client configuration from defaults, an optional
// YAML file and APPKIT_* environment variables, in that order.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// DefaultEnvPrefix is the environment variable prefix.
const DefaultEnvPrefix = "APPKIT_"

// Config holds everything the client core needs at startup.
type Config struct {
	// BaseURL is the API origin for the current environment.
	BaseURL string `koanf:"base_url"`

	// Timeout bounds each request unless overridden per call.
	Timeout time.Duration `koanf:"timeout"`

	// DataDir is where the local stores live. Empty means the caller
	// decides (the CLI uses the user config dir).
	DataDir string `koanf:"data_dir"`

	// Env names the environment for logs ("dev", "staging", "prod").
	Env string `koanf:"env"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		BaseURL: "http://localhost:8080",
		Timeout: 30 * time.Second,
		Env:     "dev",
	}
}

// Load layers the YAML file at path (if non-empty) and environment
// variables over the defaults. Env keys map APPKIT_BASE_URL -> base_url.
func Load(path string) (Config, error) {
	cfg := Default()
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	envTransformer := func(s string) string {
		s = strings.TrimPrefix(s, DefaultEnvPrefix)
		return strings.ToLower(s)
	}
	if err := k.Load(env.Provider(DefaultEnvPrefix, ".", envTransformer), nil); err != nil {
		return Config{}, fmt.Errorf("load env: %w", err)
	}

	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.BaseURL == "" {
		return Config{}, fmt.Errorf("base_url must not be empty")
	}
	if cfg.Timeout <= 0 {
		return Config{}, fmt.Errorf("timeout must be positive, got %s", cfg.Timeout)
	}
	return cfg, nil
}
