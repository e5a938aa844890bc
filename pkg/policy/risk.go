// Package policy implements the risk-tiered confirmation gate: risk
// classification, session permits, the FIFO confirmation queue, and the
// append-only audit trail.
package policy

import (
	"fmt"
	"strings"
)

// RiskTier classifies a tool call's potential for harm.
type RiskTier int8

const (
	RiskLow RiskTier = iota
	RiskMed
	RiskHigh
	RiskCritical
)

// String returns the canonical tier name used in config and audit records.
func (r RiskTier) String() string {
	switch r {
	case RiskLow:
		return "LOW"
	case RiskMed:
		return "MED"
	case RiskHigh:
		return "HIGH"
	case RiskCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// ParseRiskTier parses a tier name as found in config files.
func ParseRiskTier(s string) (RiskTier, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LOW":
		return RiskLow, nil
	case "MED", "MEDIUM":
		return RiskMed, nil
	case "HIGH":
		return RiskHigh, nil
	case "CRITICAL":
		return RiskCritical, nil
	default:
		return RiskLow, fmt.Errorf("unknown risk tier %q", s)
	}
}

// MaxRisk returns the higher of two tiers.
func MaxRisk(a, b RiskTier) RiskTier {
	if a > b {
		return a
	}
	return b
}
