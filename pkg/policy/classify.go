package policy

import (
	"fmt"
	"strings"

	"aide/pkg/config"
)

// Classifier derives a risk tier for a tool call from configured route
// defaults, per-tool overrides, and write-verb detection in either
// supported language.
type Classifier struct {
	cfg config.RiskCfg
}

// NewClassifier creates a classifier over the given risk config.
func NewClassifier(cfg config.RiskCfg) *Classifier {
	return &Classifier{cfg: cfg}
}

// Classify returns the risk tier for one tool call. declared is the tier
// the tool itself reports; the result is never lower than that.
func (c *Classifier) Classify(toolName, route string, declared RiskTier) RiskTier {
	if override, ok := c.cfg.ToolOverrides[toolName]; ok {
		if tier, err := ParseRiskTier(override); err == nil {
			return tier
		}
	}

	risk := declared
	if name, ok := c.cfg.RouteDefaults[route]; ok {
		if tier, err := ParseRiskTier(name); err == nil {
			risk = MaxRisk(risk, tier)
		}
	}
	if c.HasWriteVerb(toolName) {
		risk = MaxRisk(risk, RiskMed)
	}
	return risk
}

// HasWriteVerb reports whether the tool name contains a destructive or
// mutating verb stem in any configured language.
func (c *Classifier) HasWriteVerb(toolName string) bool {
	lower := strings.ToLower(toolName)
	for _, verbs := range c.cfg.WriteVerbs {
		for _, verb := range verbs {
			if strings.Contains(lower, verb) {
				return true
			}
		}
	}
	return false
}

// DenyMatch reports whether the raw utterance or any string parameter
// matches a configured deny pattern. A match short-circuits evaluation to
// denied before risk classification.
func (c *Classifier) DenyMatch(rawText string, params map[string]any) (bool, string) {
	haystacks := []string{strings.ToLower(rawText)}
	for _, value := range params {
		if s, ok := value.(string); ok {
			haystacks = append(haystacks, strings.ToLower(s))
		}
	}

	for _, pattern := range c.cfg.DenyPatterns {
		needle := strings.ToLower(pattern)
		for _, hay := range haystacks {
			if strings.Contains(hay, needle) {
				return true, fmt.Sprintf("deny pattern %q matched", pattern)
			}
		}
	}
	return false, ""
}
