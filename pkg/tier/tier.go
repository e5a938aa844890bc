// Package tier implements the deterministic fast-vs-quality tier decision.
// Decide is a pure function of its inputs: no wall clock, no randomness,
// so identical inputs always produce identical tier, reason, and scores.
package tier

import (
	"sort"
	"strings"
	"unicode/utf8"

	"aide/pkg/config"
)

// Tier names an inference backend class.
type Tier string

const (
	TierFast    Tier = "fast"
	TierQuality Tier = "quality"
)

// Reason codes carried in TierDecision and traces.
const (
	ReasonHighComplexity       = "high_complexity"
	ReasonConfirmationRequired = "confirmation_required"
	ReasonHighRisk             = "high_risk"
	ReasonLargeToolOutput      = "large_tool_output"
	ReasonDefaultFast          = "default_fast"
)

// Decision is the engine's full answer for one turn. Recomputed every
// turn and never persisted.
type Decision struct {
	RouterTier      Tier
	FinalizerTier   Tier
	RouterReason    string
	FinalizerReason string
	Complexity      float64
	Risk            float64
}

// Engine applies the decision rule over configured thresholds, keyword
// groups, and write-verb sets.
type Engine struct {
	cfg  config.TierCfg
	risk config.RiskCfg
}

// NewEngine creates a decision engine.
func NewEngine(cfg config.TierCfg, risk config.RiskCfg) *Engine {
	return &Engine{cfg: cfg, risk: risk}
}

// Signal weights. The thresholds they are compared against are config
// data; the weights define the fixed monotonic contract.
const (
	keywordGroupWeight  = 0.25
	longUtteranceWeight = 0.2
	multiClauseWeight   = 0.15
	multiToolWeight     = 0.2
)

// Decide picks the router and finalizer tiers for one utterance. The
// finalizer is judged independently: a simple route can still need quality
// finalization when several tools produce output to reconcile.
func (e *Engine) Decide(utterance, route string, toolNames []string, requiresConfirmation bool) Decision {
	complexity := e.complexityScore(utterance)
	risk := e.riskScore(route, toolNames)

	d := Decision{Complexity: complexity, Risk: risk}
	d.RouterTier, d.RouterReason = e.pick(complexity, risk, requiresConfirmation)

	finalizerComplexity := complexity
	if len(toolNames) >= 2 {
		finalizerComplexity = clamp(finalizerComplexity + multiToolWeight)
	}
	d.FinalizerTier, d.FinalizerReason = e.pick(finalizerComplexity, risk, requiresConfirmation)
	if d.FinalizerTier == TierQuality && d.FinalizerReason == ReasonHighComplexity &&
		complexity < e.cfg.ComplexityThreshold {
		d.FinalizerReason = ReasonLargeToolOutput
	}
	return d
}

// QoS returns the QoS parameters for a tier, scaled down for degraded or
// fallback calls.
func (e *Engine) QoS(tier Tier, degraded bool) config.QoSCfg {
	qos := e.cfg.FastQoS
	if tier == TierQuality {
		qos = e.cfg.QualityQoS
	}
	if degraded {
		qos.MaxTokens = qos.DegradedMaxTokens()
		qos.TimeoutSec = qos.DegradedSecs
	}
	return qos
}

func (e *Engine) pick(complexity, risk float64, requiresConfirmation bool) (Tier, string) {
	switch {
	case complexity >= e.cfg.ComplexityThreshold:
		return TierQuality, ReasonHighComplexity
	case requiresConfirmation:
		return TierQuality, ReasonConfirmationRequired
	case risk >= e.cfg.RiskThreshold:
		return TierQuality, ReasonHighRisk
	default:
		return TierFast, ReasonDefaultFast
	}
}

// complexityScore sums the utterance signals. Each keyword group
// contributes at most once no matter how many of its keywords appear.
func (e *Engine) complexityScore(utterance string) float64 {
	lower := strings.ToLower(utterance)
	score := 0.0

	// Iterate groups in sorted order so scoring is deterministic even
	// though the config map is unordered.
	groups := make([]string, 0, len(e.cfg.ComplexityKeywords))
	for group := range e.cfg.ComplexityKeywords {
		groups = append(groups, group)
	}
	sort.Strings(groups)

	for _, group := range groups {
		for _, keyword := range e.cfg.ComplexityKeywords[group] {
			if strings.Contains(lower, keyword) {
				score += keywordGroupWeight
				break
			}
		}
	}

	if utf8.RuneCountInString(utterance) > e.cfg.LongUtteranceRunes {
		score += longUtteranceWeight
	}
	if multiClause(lower) {
		score += multiClauseWeight
	}
	return clamp(score)
}

// riskScore derives risk from the route's default tier and write-verb
// detection over the candidate tool names, in either supported language.
func (e *Engine) riskScore(route string, toolNames []string) float64 {
	score := routeRiskScore(e.risk.RouteDefaults[route])

	for _, name := range toolNames {
		lower := strings.ToLower(name)
		for _, verbs := range e.risk.WriteVerbs {
			for _, verb := range verbs {
				if strings.Contains(lower, verb) {
					if score < 0.5 {
						score = 0.5
					}
					return score
				}
			}
		}
	}
	return score
}

func routeRiskScore(tierName string) float64 {
	switch strings.ToUpper(tierName) {
	case "MED", "MEDIUM":
		return 0.5
	case "HIGH":
		return 0.8
	case "CRITICAL":
		return 1.0
	default:
		return 0.0
	}
}

func multiClause(lower string) bool {
	for _, marker := range []string{" and then ", " after that ", "; ", " ve sonra ", " ardından "} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return strings.Count(lower, "?") > 1
}

func clamp(v float64) float64 {
	if v > 1 {
		return 1
	}
	return v
}
