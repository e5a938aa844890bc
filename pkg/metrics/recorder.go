// Package metrics provides Prometheus recording for turn processing and a
// query service for aggregating usage per session.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder publishes turn-processing metrics to Prometheus.
type Recorder struct {
	requestsTotal   *prometheus.CounterVec
	tokensTotal     *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	tierDecisions   *prometheus.CounterVec
	policyDecisions *prometheus.CounterVec
	fallbacksTotal  *prometheus.CounterVec
	toolExecutions  *prometheus.CounterVec
	toolDuration    *prometheus.HistogramVec
	repairAttempts  *prometheus.CounterVec
}

// NewRecorder creates a recorder registered against the default registry.
func NewRecorder() *Recorder {
	return NewRecorderWith(prometheus.DefaultRegisterer)
}

// NewRecorderWith creates a recorder registered against reg. Tests pass a
// fresh registry so repeated construction does not collide.
func NewRecorderWith(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aide_llm_requests_total",
				Help: "Total number of LLM requests by model, tier, and status",
			},
			[]string{"model", "tier", "session_id", "status", "error_type"},
		),
		tokensTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aide_llm_tokens_total",
				Help: "Total number of tokens used in LLM requests",
			},
			[]string{"model", "tier", "session_id", "type"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "aide_llm_request_duration_seconds",
				Help:    "Duration of LLM requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"model", "tier"},
		),
		tierDecisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aide_tier_decisions_total",
				Help: "Total tier routing decisions by outcome and reason",
			},
			[]string{"router_tier", "finalizer_tier", "reason"},
		),
		policyDecisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aide_policy_decisions_total",
				Help: "Total policy gate decisions by outcome, risk tier, and route",
			},
			[]string{"decision", "risk_tier", "route"},
		),
		fallbacksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aide_fallbacks_total",
				Help: "Total tier fallbacks by direction and reason",
			},
			[]string{"from", "to", "reason"},
		),
		toolExecutions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aide_tool_executions_total",
				Help: "Total tool executions by tool and status",
			},
			[]string{"tool", "status"},
		),
		toolDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "aide_tool_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"tool"},
		),
		repairAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aide_repair_attempts_total",
				Help: "Total planner output repair attempts by outcome",
			},
			[]string{"stage", "outcome"},
		),
	}
}

// ObserveLLMRequest records one completed (or failed) LLM request.
func (r *Recorder) ObserveLLMRequest(
	model, tier, sessionID string,
	promptTokens, completionTokens int,
	success bool,
	errorType string,
	duration time.Duration,
) {
	status := "success"
	if !success {
		status = "error"
	}

	r.requestsTotal.WithLabelValues(model, tier, sessionID, status, errorType).Inc()

	if success {
		r.tokensTotal.WithLabelValues(model, tier, sessionID, "prompt").Add(float64(promptTokens))
		r.tokensTotal.WithLabelValues(model, tier, sessionID, "completion").Add(float64(completionTokens))
	}

	r.requestDuration.WithLabelValues(model, tier).Observe(duration.Seconds())
}

// RecordTierDecision counts one router/finalizer tier selection.
func (r *Recorder) RecordTierDecision(routerTier, finalizerTier, reason string) {
	r.tierDecisions.WithLabelValues(routerTier, finalizerTier, reason).Inc()
}

// RecordPolicyDecision counts one policy gate outcome.
func (r *Recorder) RecordPolicyDecision(decision, riskTier, route string) {
	r.policyDecisions.WithLabelValues(decision, riskTier, route).Inc()
}

// RecordFallback counts one tier fallback.
func (r *Recorder) RecordFallback(from, to, reason string) {
	r.fallbacksTotal.WithLabelValues(from, to, reason).Inc()
}

// ObserveToolExecution records one tool invocation.
func (r *Recorder) ObserveToolExecution(tool, status string, duration time.Duration) {
	r.toolExecutions.WithLabelValues(tool, status).Inc()
	r.toolDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// RecordRepairAttempt counts one planner output repair attempt.
func (r *Recorder) RecordRepairAttempt(stage, outcome string) {
	r.repairAttempts.WithLabelValues(stage, outcome).Inc()
}
