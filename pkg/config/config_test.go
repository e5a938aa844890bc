package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadThresholds(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero complexity threshold", func(c *Config) { c.Tier.ComplexityThreshold = 0 }},
		{"complexity threshold above one", func(c *Config) { c.Tier.ComplexityThreshold = 1.5 }},
		{"zero risk threshold", func(c *Config) { c.Tier.RiskThreshold = 0 }},
		{"zero max steps", func(c *Config) { c.Limits.MaxSteps = 0 }},
		{"zero repair attempts", func(c *Config) { c.Limits.RepairMaxAttempts = 0 }},
		{"aggregate cap below result cap", func(c *Config) { c.Limits.AggregateMaxBytes = c.Limits.ResultMaxBytes - 1 }},
		{"empty write verbs", func(c *Config) { c.Risk.WriteVerbs = nil }},
		{"empty mask string", func(c *Config) { c.Policy.MaskString = "" }},
		{"remote fast tier", func(c *Config) { c.Fast.Provider = ProviderAnthropic }},
		{"unknown quality provider", func(c *Config) { c.Quality.Provider = "local" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadOverlaysFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "aide.yaml")
	yaml := `
fast:
  provider: ollama
  model: qwen2.5
  host: http://ollama:11434
  max_context_tokens: 8192
  max_reply_tokens: 512
limits:
  max_steps: 3
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "qwen2.5", cfg.Fast.Model)
	assert.Equal(t, "http://ollama:11434", cfg.Fast.Host)
	assert.Equal(t, 3, cfg.Limits.MaxSteps)
	// Untouched sections keep defaults.
	assert.Equal(t, ProviderAnthropic, cfg.Quality.Provider)
	assert.NotEmpty(t, cfg.Risk.WriteVerbs["en"])
}

func TestLoadEnvOverrides(t *testing.T) {
	os.Setenv("AIDE_FAST_MODEL", "phi4")
	os.Setenv("AIDE_MAX_STEPS", "5")
	defer func() {
		os.Unsetenv("AIDE_FAST_MODEL")
		os.Unsetenv("AIDE_MAX_STEPS")
	}()

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "phi4", cfg.Fast.Model)
	assert.Equal(t, 5, cfg.Limits.MaxSteps)
}

func TestQoSDegradedScaling(t *testing.T) {
	qos := QoSCfg{TimeoutSec: 40, MaxTokens: 2000, DegradedPct: 50, DegradedSecs: 10}
	assert.Equal(t, 1000, qos.DegradedMaxTokens())
	assert.Equal(t, 2000, QoSCfg{MaxTokens: 2000}.DegradedMaxTokens())
}

func TestSecretStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := NewSecretStore(dir)
	store.Set("ANTHROPIC_API_KEY", "sk-test-123")
	require.NoError(t, store.Save("hunter2"))
	assert.True(t, store.Exists())

	// A fresh store with the right password recovers the value.
	reopened := NewSecretStore(dir)
	require.NoError(t, reopened.Open("hunter2"))
	val, err := reopened.Get("ANTHROPIC_API_KEY")
	require.NoError(t, err)
	assert.Equal(t, "sk-test-123", val)

	// The wrong password must fail, not return garbage.
	wrong := NewSecretStore(dir)
	assert.Error(t, wrong.Open("wrong"))
}

func TestSecretStoreEnvFallback(t *testing.T) {
	store := NewSecretStore(t.TempDir())
	os.Setenv("AIDE_TEST_SECRET", "from-env")
	defer os.Unsetenv("AIDE_TEST_SECRET")

	val, err := store.Get("AIDE_TEST_SECRET")
	require.NoError(t, err)
	assert.Equal(t, "from-env", val)

	_, err = store.Get("AIDE_MISSING_SECRET")
	assert.Error(t, err)
}
