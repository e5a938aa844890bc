// Package config provides configuration loading, validation, and management
// for the assistant orchestration core.
//
// Configuration is strictly separated from state: tunable policy data (tier
// thresholds, keyword sets, risk maps, QoS) lives here and is loaded once at
// startup; anything that changes during a session (permits, turn counters,
// audit records) belongs to the session stores, never to config.
//
// Heuristic thresholds and keyword sets are deliberately config data rather
// than constants: deployments recalibrate them without code changes.
package config

import (
	"fmt"
	"time"
)

// Provider identifies an inference backend implementation.
type Provider string

const (
	ProviderOllama    Provider = "ollama"
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
	ProviderGemini    Provider = "gemini"
)

// Default model names per provider.
const (
	DefaultOllamaModel    = "llama3.2"
	DefaultAnthropicModel = "claude-sonnet-4-20250514"
	DefaultOpenAIModel    = "gpt-4o"
	DefaultGeminiModel    = "gemini-2.0-flash"
)

// ModelCfg defines the configuration for one inference tier backend.
type ModelCfg struct {
	Provider         Provider `yaml:"provider"`
	Model            string   `yaml:"model"`
	Host             string   `yaml:"host,omitempty"` // Ollama server URL; ignored by remote providers
	APIKeyEnv        string   `yaml:"api_key_env,omitempty"`
	MaxContextTokens int      `yaml:"max_context_tokens"`
	MaxReplyTokens   int      `yaml:"max_reply_tokens"`
	Temperature      float32  `yaml:"temperature"`
}

// QoSCfg carries per-tier request quality-of-service parameters.
type QoSCfg struct {
	TimeoutSec   int `yaml:"timeout_sec"`
	MaxTokens    int `yaml:"max_tokens"`
	RetryBudget  int `yaml:"retry_budget"`
	DegradedPct  int `yaml:"degraded_pct"` // Percentage of MaxTokens granted to degraded/fallback calls
	DegradedSecs int `yaml:"degraded_timeout_sec"`
}

// Timeout returns the request timeout as a duration.
func (q QoSCfg) Timeout() time.Duration {
	return time.Duration(q.TimeoutSec) * time.Second
}

// DegradedTimeout returns the timeout applied to degraded/fallback calls.
func (q QoSCfg) DegradedTimeout() time.Duration {
	return time.Duration(q.DegradedSecs) * time.Second
}

// DegradedMaxTokens returns the output token budget for degraded calls.
func (q QoSCfg) DegradedMaxTokens() int {
	if q.DegradedPct <= 0 || q.DegradedPct >= 100 {
		return q.MaxTokens
	}
	return q.MaxTokens * q.DegradedPct / 100
}

// TierCfg holds the tier decision engine's policy data.
//
// The decision rule itself is fixed (see pkg/tier); only the numbers and
// keyword sets are configuration.
type TierCfg struct {
	ComplexityThreshold float64             `yaml:"complexity_threshold"`
	RiskThreshold       float64             `yaml:"risk_threshold"`
	LongUtteranceRunes  int                 `yaml:"long_utterance_runes"`
	ComplexityKeywords  map[string][]string `yaml:"complexity_keywords"` // group name -> keywords; each group scores once
	FastQoS             QoSCfg              `yaml:"fast_qos"`
	QualityQoS          QoSCfg              `yaml:"quality_qos"`
}

// RiskCfg holds risk classification policy data.
type RiskCfg struct {
	// WriteVerbs lists destructive/mutating verb stems per language.
	// A tool name containing any stem in any configured language scores as risky.
	WriteVerbs map[string][]string `yaml:"write_verbs"`
	// RouteDefaults maps a route name to its default risk tier name.
	RouteDefaults map[string]string `yaml:"route_defaults"`
	// ToolOverrides pins specific tools to a risk tier regardless of verbs.
	ToolOverrides map[string]string `yaml:"tool_overrides"`
	// DenyPatterns short-circuit a tool call to denied before classification.
	DenyPatterns []string `yaml:"deny_patterns"`
}

// PolicyCfg holds confirmation-gate settings.
type PolicyCfg struct {
	// SensitiveFields are substring patterns; matching parameter keys are
	// masked before any record is persisted.
	SensitiveFields []string `yaml:"sensitive_fields"`
	MaskString      string   `yaml:"mask_string"`
	AuditDir        string   `yaml:"audit_dir"`
}

// LimitsCfg bounds loop iterations and tool result sizes.
type LimitsCfg struct {
	MaxSteps           int `yaml:"max_steps"`
	RepairMaxAttempts  int `yaml:"repair_max_attempts"`
	ToolTimeoutSec     int `yaml:"tool_timeout_sec"`
	ResultMaxBytes     int `yaml:"result_max_bytes"`
	AggregateMaxBytes  int `yaml:"aggregate_max_bytes"`
	PromptBudgetTokens int `yaml:"prompt_budget_tokens"`
	EntityTTLSec       int `yaml:"entity_ttl_sec"`
	EntityMaxCount     int `yaml:"entity_max_count"`
	SummaryMaxTurns    int `yaml:"summary_max_turns"`
}

// Config is the root configuration for the orchestration core.
type Config struct {
	Fast     ModelCfg  `yaml:"fast"`
	Quality  ModelCfg  `yaml:"quality"`
	Tier     TierCfg   `yaml:"tier"`
	Risk     RiskCfg   `yaml:"risk"`
	Policy   PolicyCfg `yaml:"policy"`
	Limits   LimitsCfg `yaml:"limits"`
	DBPath   string    `yaml:"db_path"`
	EventDir string    `yaml:"event_dir"`
	// EventLogRotationHours controls daily-style rotation of the event log.
	EventLogRotationHours int `yaml:"event_log_rotation_hours"`
}

// Defaults returns a fully populated configuration with tuned starting values.
// Deployments override via YAML; the values here are starting points, not
// contract.
func Defaults() Config {
	return Config{
		Fast: ModelCfg{
			Provider:         ProviderOllama,
			Model:            DefaultOllamaModel,
			Host:             "http://localhost:11434",
			MaxContextTokens: 8192,
			MaxReplyTokens:   1024,
			Temperature:      0.2,
		},
		Quality: ModelCfg{
			Provider:         ProviderAnthropic,
			Model:            DefaultAnthropicModel,
			APIKeyEnv:        "ANTHROPIC_API_KEY",
			MaxContextTokens: 200000,
			MaxReplyTokens:   4096,
			Temperature:      0.4,
		},
		Tier: TierCfg{
			ComplexityThreshold: 0.55,
			RiskThreshold:       0.5,
			LongUtteranceRunes:  160,
			ComplexityKeywords: map[string][]string{
				"multi_step":  {"and then", "after that", "ardından", "sonra"},
				"comparison":  {"compare", "difference", "versus", "karşılaştır", "fark"},
				"aggregation": {"all", "every", "summarize", "hepsi", "özetle"},
				"temporal":    {"next week", "tomorrow", "last month", "haftaya", "yarın", "geçen ay"},
			},
			FastQoS: QoSCfg{
				TimeoutSec:   12,
				MaxTokens:    768,
				RetryBudget:  1,
				DegradedPct:  50,
				DegradedSecs: 6,
			},
			QualityQoS: QoSCfg{
				TimeoutSec:   45,
				MaxTokens:    2048,
				RetryBudget:  2,
				DegradedPct:  50,
				DegradedSecs: 20,
			},
		},
		Risk: RiskCfg{
			WriteVerbs: map[string][]string{
				"en": {"send", "delete", "remove", "create", "update", "write", "move", "cancel"},
				"tr": {"gönder", "sil", "kaldır", "oluştur", "güncelle", "yaz", "taşı", "iptal"},
			},
			RouteDefaults: map[string]string{
				"calendar":  "MED",
				"mail":      "MED",
				"contacts":  "MED",
				"system":    "HIGH",
				"browser":   "LOW",
				"smalltalk": "LOW",
				"unknown":   "LOW",
			},
			ToolOverrides: map[string]string{
				"system_shutdown": "CRITICAL",
			},
			DenyPatterns: []string{"rm -rf", "format c:", "drop table"},
		},
		Policy: PolicyCfg{
			SensitiveFields: []string{"token", "password", "secret", "api_key", "credential"},
			MaskString:      "[REDACTED]",
			AuditDir:        "logs/audit",
		},
		Limits: LimitsCfg{
			MaxSteps:           8,
			RepairMaxAttempts:  2,
			ToolTimeoutSec:     30,
			ResultMaxBytes:     16 * 1024,
			AggregateMaxBytes:  64 * 1024,
			PromptBudgetTokens: 3000,
			EntityTTLSec:       600,
			EntityMaxCount:     32,
			SummaryMaxTurns:    12,
		},
		DBPath:                "aide.db",
		EventDir:              "logs/events",
		EventLogRotationHours: 24,
	}
}

// Validate checks configuration invariants before the system starts.
func (c *Config) Validate() error {
	if c.Fast.Provider == "" || c.Quality.Provider == "" {
		return fmt.Errorf("both fast and quality tier providers must be set")
	}
	if c.Fast.Provider != ProviderOllama {
		return fmt.Errorf("fast tier must be a local provider, got %q", c.Fast.Provider)
	}
	switch c.Quality.Provider {
	case ProviderAnthropic, ProviderOpenAI, ProviderGemini:
	default:
		return fmt.Errorf("unsupported quality tier provider %q", c.Quality.Provider)
	}
	if c.Tier.ComplexityThreshold <= 0 || c.Tier.ComplexityThreshold > 1 {
		return fmt.Errorf("tier.complexity_threshold must be in (0,1], got %v", c.Tier.ComplexityThreshold)
	}
	if c.Tier.RiskThreshold <= 0 || c.Tier.RiskThreshold > 1 {
		return fmt.Errorf("tier.risk_threshold must be in (0,1], got %v", c.Tier.RiskThreshold)
	}
	if c.Limits.MaxSteps <= 0 {
		return fmt.Errorf("limits.max_steps must be positive")
	}
	if c.Limits.RepairMaxAttempts < 1 {
		return fmt.Errorf("limits.repair_max_attempts must be at least 1")
	}
	if c.Limits.ResultMaxBytes <= 0 || c.Limits.AggregateMaxBytes < c.Limits.ResultMaxBytes {
		return fmt.Errorf("limits result size caps are inconsistent")
	}
	if len(c.Risk.WriteVerbs) == 0 {
		return fmt.Errorf("risk.write_verbs must list at least one language")
	}
	if c.Policy.MaskString == "" {
		return fmt.Errorf("policy.mask_string must not be empty")
	}
	return nil
}
