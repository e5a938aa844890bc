package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads a YAML config file, overlays it on Defaults, applies environment
// overrides, and validates the result. An empty path returns validated
// defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// applyEnvOverrides lets deployments adjust hot settings without editing the
// config file. Only a small, documented set is honored.
func applyEnvOverrides(cfg *Config) {
	if host := os.Getenv("AIDE_OLLAMA_HOST"); host != "" {
		cfg.Fast.Host = host
	}
	if model := os.Getenv("AIDE_FAST_MODEL"); model != "" {
		cfg.Fast.Model = model
	}
	if model := os.Getenv("AIDE_QUALITY_MODEL"); model != "" {
		cfg.Quality.Model = model
	}
	if provider := os.Getenv("AIDE_QUALITY_PROVIDER"); provider != "" {
		cfg.Quality.Provider = Provider(strings.ToLower(provider))
	}
	if db := os.Getenv("AIDE_DB_PATH"); db != "" {
		cfg.DBPath = db
	}
	if dir := os.Getenv("AIDE_AUDIT_DIR"); dir != "" {
		cfg.Policy.AuditDir = dir
	}
	if steps := os.Getenv("AIDE_MAX_STEPS"); steps != "" {
		if n, err := strconv.Atoi(steps); err == nil && n > 0 {
			cfg.Limits.MaxSteps = n
		}
	}
}

// Save writes the configuration to a YAML file. Used by the bootstrap flow to
// materialize defaults for first-run editing.
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", path, err)
	}
	return nil
}
