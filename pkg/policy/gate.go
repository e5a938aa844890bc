package policy

import (
	"context"

	"aide/pkg/config"
	"aide/pkg/logx"
	"aide/pkg/metrics"
)

// Decision is the gate's verdict for one tool call.
type Decision int8

const (
	DecisionAllowed Decision = iota
	DecisionPending
	DecisionDenied
)

// String returns the wire name used in audit records and events.
func (d Decision) String() string {
	switch d {
	case DecisionAllowed:
		return "allowed"
	case DecisionPending:
		return "pending_confirmation"
	case DecisionDenied:
		return "denied"
	default:
		return "unknown"
	}
}

// ToolCall carries everything the gate needs to judge one call.
type ToolCall struct {
	SessionID            string
	Tool                 string
	Route                string
	RawText              string // the utterance that produced the call
	Declared             RiskTier
	RequiresConfirmation bool
	Params               map[string]any
}

// Evaluation is the gate's full answer for one call.
type Evaluation struct {
	Decision Decision
	Risk     RiskTier
	Reason   string
	AuditID  string
}

// Gate implements the risk-tiered confirmation state machine:
// unchecked -> {allowed | pending_confirmation | denied}.
type Gate struct {
	classifier *Classifier
	redactor   *Redactor
	store      *Store
	audit      *AuditWriter
	logger     *logx.Logger
	recorder   *metrics.Recorder
}

// NewGate wires the gate from config and its persistence collaborators.
// recorder may be nil.
func NewGate(riskCfg config.RiskCfg, policyCfg config.PolicyCfg, store *Store, audit *AuditWriter, logger *logx.Logger, recorder *metrics.Recorder) *Gate {
	if logger == nil {
		logger = logx.NewLogger("policy")
	}
	return &Gate{
		classifier: NewClassifier(riskCfg),
		redactor:   NewRedactor(policyCfg.SensitiveFields, policyCfg.MaskString),
		store:      store,
		audit:      audit,
		logger:     logger,
		recorder:   recorder,
	}
}

// Redact masks sensitive values in params. Exposed so callers redact
// before publishing events or persisting queue slots.
func (g *Gate) Redact(params map[string]any) map[string]any {
	return g.redactor.Redact(params)
}

// Classify returns the effective risk tier for one call.
func (g *Gate) Classify(call ToolCall) RiskTier {
	risk := g.classifier.Classify(call.Tool, call.Route, call.Declared)
	if call.RequiresConfirmation {
		// A confirmation-required tool is at least MED so it passes
		// through the permit machinery.
		risk = MaxRisk(risk, RiskMed)
	}
	return risk
}

// Evaluate runs the gate for one tool call. Deny patterns short-circuit
// before risk classification; LOW is allowed without a permit; MED consults
// session permits; HIGH/CRITICAL always require fresh confirmation.
func (g *Gate) Evaluate(ctx context.Context, call ToolCall) Evaluation {
	if matched, reason := g.classifier.DenyMatch(call.RawText, call.Params); matched {
		eval := Evaluation{Decision: DecisionDenied, Risk: g.Classify(call), Reason: reason}
		eval.AuditID = g.writeAudit(call, eval)
		g.record(eval, call.Route)
		return eval
	}

	risk := g.Classify(call)

	var eval Evaluation
	switch {
	case risk == RiskLow:
		// Allowed immediately; logged for observability, not audited.
		eval = Evaluation{Decision: DecisionAllowed, Risk: risk, Reason: "low_risk"}
		g.logger.Debug("allowing low-risk tool %s for session %s", call.Tool, call.SessionID)
	case risk == RiskMed:
		granted, err := g.store.HasPermit(ctx, call.SessionID, call.Tool)
		if err != nil {
			g.logger.Error("permit lookup failed for (%s, %s): %v", call.SessionID, call.Tool, err)
		}
		if granted {
			eval = Evaluation{Decision: DecisionAllowed, Risk: risk, Reason: "session_permit"}
		} else {
			eval = Evaluation{Decision: DecisionPending, Risk: risk, Reason: "confirmation_required"}
		}
		eval.AuditID = g.writeAudit(call, eval)
	default:
		// HIGH and CRITICAL never honor remembered consent.
		eval = Evaluation{Decision: DecisionPending, Risk: risk, Reason: "high_risk_confirmation_required"}
		eval.AuditID = g.writeAudit(call, eval)
	}

	g.record(eval, call.Route)
	return eval
}

// Confirm records user approval. MED risk creates a session permit so
// later calls of the same tool in this session are auto-allowed;
// HIGH/CRITICAL authorize exactly the one pending item.
func (g *Gate) Confirm(ctx context.Context, call ToolCall, risk RiskTier) string {
	if risk == RiskMed {
		if err := g.store.EnsureSession(ctx, call.SessionID); err != nil {
			g.logger.Error("session upsert failed: %v", err)
		}
		if err := g.store.GrantPermit(ctx, call.SessionID, call.Tool); err != nil {
			g.logger.Error("permit grant failed for (%s, %s): %v", call.SessionID, call.Tool, err)
		}
	}
	eval := Evaluation{Decision: DecisionAllowed, Risk: risk, Reason: "user_confirmed"}
	return g.writeAudit(call, eval)
}

// Decline records user rejection of the pending item. No permit state
// changes; only the declined item is affected.
func (g *Gate) Decline(call ToolCall, risk RiskTier) string {
	eval := Evaluation{Decision: DecisionDenied, Risk: risk, Reason: "user_declined"}
	return g.writeAudit(call, eval)
}

// writeAudit persists one decision. Redaction happens here, before
// persistence. An audit failure must not block the user-facing response;
// it is logged for operational telemetry instead.
func (g *Gate) writeAudit(call ToolCall, eval Evaluation) string {
	if g.audit == nil {
		return ""
	}
	id, err := g.audit.Append(AuditEntry{
		SessionID: call.SessionID,
		Tool:      call.Tool,
		Decision:  eval.Decision.String(),
		Reason:    eval.Reason,
		Risk:      eval.Risk.String(),
		Params:    g.redactor.Redact(call.Params),
	})
	if err != nil {
		g.logger.Error("audit write failed for (%s, %s): %v", call.SessionID, call.Tool, err)
	}
	return id
}

func (g *Gate) record(eval Evaluation, route string) {
	if g.recorder != nil {
		g.recorder.RecordPolicyDecision(eval.Decision.String(), eval.Risk.String(), route)
	}
}
