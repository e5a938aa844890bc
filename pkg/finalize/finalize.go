// Package finalize turns tool results and dialog context into the final
// user-facing reply. It runs an ordered guard chain: ask_user passthrough,
// deterministic hard-failure messages, tier-selected generation under a
// token budget, the no-new-facts guard, and tier fallback. Finalize never
// returns an error; every failure path ends in a deterministic reply.
package finalize

import (
	"context"
	"fmt"
	"strings"

	"aide/pkg/config"
	"aide/pkg/llm"
	"aide/pkg/logx"
	"aide/pkg/metrics"
	"aide/pkg/planner"
	"aide/pkg/tier"
	"aide/pkg/tools"
)

// Finalizer strategies reported in the trace.
const (
	StrategyAskUser          = "ask_user"
	StrategyDeterministic    = "deterministic_failure"
	StrategyQuality          = "quality"
	StrategyFast             = "fast"
	StrategyFastFallback     = "fast_fallback"
	StrategyTemplateFallback = "template_fallback"
)

// Deterministic user-facing messages keyed by error kind. Fixed and
// non-technical; raw errors never reach the user.
var failureReplies = map[string]string{
	"tool_execution_error": "I couldn't complete that because the required steps failed. Please try again in a moment.",
	"policy_denied":        "I can't do that.",
	"inference_timeout":    "That took too long to work out. Please try again.",
	"inference_overloaded": "I'm having trouble reaching my reasoning service right now. Please try again shortly.",
	"repair_exhausted":     "I'm sorry, I couldn't work out how to handle that request.",
	"max_steps_exceeded":   "That request needed more steps than I'm allowed to take, so I stopped.",
}

const defaultFailureReply = "I'm sorry, something went wrong and I couldn't complete that."

// DeterministicReply returns the fixed message for an error kind.
func DeterministicReply(kind string) string {
	if reply, ok := failureReplies[kind]; ok {
		return reply
	}
	return defaultFailureReply
}

// TokenCounter sizes prompt text. contextmgr.Manager satisfies it.
type TokenCounter interface {
	CountTokens(text string) int
}

// Input is everything one finalization needs.
type Input struct {
	SessionID     string
	Utterance     string
	Plan          planner.Output
	Results       []tools.ToolResult
	DialogSummary string
	Entities      []string
	Decision      tier.Decision
}

// Output is the finalization result plus trace fields.
type Output struct {
	Reply       string
	Strategy    string
	GuardRetry  bool
	Violations  []string
	FallbackErr string
}

// Finalizer selects and drives the finalizing tier.
type Finalizer struct {
	fast     llm.Client
	quality  llm.Client
	engine   *tier.Engine
	counter  TokenCounter
	limits   config.LimitsCfg
	logger   *logx.Logger
	recorder *metrics.Recorder
}

// New creates a finalizer. recorder may be nil.
func New(fast, quality llm.Client, engine *tier.Engine, counter TokenCounter, limits config.LimitsCfg, logger *logx.Logger, recorder *metrics.Recorder) *Finalizer {
	if logger == nil {
		logger = logx.NewLogger("finalize")
	}
	return &Finalizer{
		fast:     fast,
		quality:  quality,
		engine:   engine,
		counter:  counter,
		limits:   limits,
		logger:   logger,
		recorder: recorder,
	}
}

// Finalize runs the guard chain and always produces a non-empty reply.
func (f *Finalizer) Finalize(ctx context.Context, in Input) Output {
	// Guard 1: a planned question goes out verbatim, no model call.
	if in.Plan.AskUser {
		question := in.Plan.Question
		if question == "" {
			question = in.Plan.DraftReply
		}
		return Output{Reply: question, Strategy: StrategyAskUser}
	}

	// Guard 2: a total tool failure gets a fixed message; a model asked to
	// "explain" it would improvise unsupported content.
	if kind, failed := hardFailure(in); failed {
		return Output{Reply: DeterministicReply(kind), Strategy: StrategyDeterministic}
	}

	selected := f.fast
	selectedTier := tier.TierFast
	strategy := StrategyFast
	if in.Decision.FinalizerTier == tier.TierQuality {
		selected = f.quality
		selectedTier = tier.TierQuality
		strategy = StrategyQuality
	}

	prompt := f.buildPrompt(in)
	reply, err := f.generate(ctx, selected, selectedTier, false, in.SessionID, prompt, "")
	out := Output{Strategy: strategy}

	if err != nil && selectedTier == tier.TierQuality {
		// Guard 5: quality failure degrades to the fast tier instead of
		// propagating.
		f.logger.Warn("quality finalizer failed, degrading to fast: %v", err)
		if f.recorder != nil {
			f.recorder.RecordFallback(string(tier.TierQuality), string(tier.TierFast), "finalizer_failure")
		}
		out.Strategy = StrategyFastFallback
		out.FallbackErr = err.Error()
		selected = f.fast
		selectedTier = tier.TierFast
		reply, err = f.generate(ctx, selected, selectedTier, true, in.SessionID, prompt, "")
	}
	if err != nil {
		return Output{
			Reply:       f.templateReply(in),
			Strategy:    StrategyTemplateFallback,
			FallbackErr: err.Error(),
		}
	}

	// Guard 4: the reply may only assert facts grounded in tool output
	// and dialog context.
	allowed := f.allowedFor(in)
	violations := factViolations(reply, allowed)
	if len(violations) == 0 {
		out.Reply = reply
		return out
	}

	f.logger.Warn("reply introduced ungrounded facts %v, retrying strictly", violations)
	out.GuardRetry = true
	out.Violations = violations
	retry, err := f.generate(ctx, selected, selectedTier, true, in.SessionID, prompt, strictFactInstruction(violations))
	if err == nil {
		if remaining := factViolations(retry, allowed); len(remaining) == 0 {
			out.Reply = retry
			return out
		}
	}

	out.Reply = f.templateReply(in)
	out.Strategy = StrategyTemplateFallback
	return out
}

// hardFailure reports whether the turn cannot be summarized from data:
// every planned tool failed, or the plan needed tools that never ran.
func hardFailure(in Input) (string, bool) {
	if len(in.Plan.ToolPlan) == 0 {
		return "", false
	}
	if len(in.Results) == 0 {
		return "tool_execution_error", true
	}
	for _, result := range in.Results {
		if result.Success {
			return "", false
		}
	}
	return "tool_execution_error", true
}

// generate performs one bounded model call and rejects empty output.
func (f *Finalizer) generate(ctx context.Context, client llm.Client, t tier.Tier, degraded bool, sessionID, prompt, extra string) (string, error) {
	qos := f.engine.QoS(t, degraded)
	callCtx, cancel := context.WithTimeout(ctx, qos.Timeout())
	defer cancel()

	messages := []llm.Message{
		llm.NewSystemMessage("You are a helpful assistant. Reply to the user in their language, grounded strictly in the supplied tool results and context."),
	}
	if extra != "" {
		messages = append(messages, llm.NewSystemMessage(extra))
	}
	messages = append(messages, llm.NewUserMessage(prompt))

	resp, err := client.Complete(callCtx, llm.Request{
		Messages:  messages,
		MaxTokens: qos.MaxTokens,
		SessionID: sessionID,
	})
	if err != nil {
		return "", fmt.Errorf("finalizer completion failed: %w", err)
	}
	reply := strings.TrimSpace(resp.Content)
	if reply == "" {
		return "", fmt.Errorf("finalizer returned empty reply")
	}
	return reply, nil
}

// buildPrompt assembles the finalization prompt inside the configured
// token budget. Tool results are compacted first; anything cut is marked,
// never silently dropped.
func (f *Finalizer) buildPrompt(in Input) string {
	results := f.resultsSection(in.Results)

	assemble := func(resultsSection string) string {
		var b strings.Builder
		fmt.Fprintf(&b, "User request: %s\n", in.Utterance)
		if resultsSection != "" {
			b.WriteString("\nTool results:\n")
			b.WriteString(resultsSection)
		}
		if in.DialogSummary != "" {
			b.WriteString("\nConversation so far:\n")
			b.WriteString(in.DialogSummary)
			b.WriteString("\n")
		}
		if len(in.Entities) > 0 {
			b.WriteString("\nKnown references: ")
			b.WriteString(strings.Join(in.Entities, "; "))
			b.WriteString("\n")
		}
		if in.Plan.DraftReply != "" {
			b.WriteString("\nDraft reply to improve: ")
			b.WriteString(in.Plan.DraftReply)
			b.WriteString("\n")
		}
		return b.String()
	}

	prompt := assemble(results)
	budget := f.limits.PromptBudgetTokens
	for budget > 0 && f.counter.CountTokens(prompt) > budget && len(results) > 64 {
		results = results[:len(results)/2] + tools.TruncationMarker + "\n"
		prompt = assemble(results)
	}
	return prompt
}

func (f *Finalizer) resultsSection(results []tools.ToolResult) string {
	var b strings.Builder
	for _, result := range results {
		status := "ok"
		if !result.Success {
			status = "failed: " + result.Err
		}
		fmt.Fprintf(&b, "- %s (%s): %s\n", result.Tool, status, result.Payload)
	}
	return b.String()
}

// allowedFor collects the fact tokens the reply may use.
func (f *Finalizer) allowedFor(in Input) map[string]struct{} {
	sources := []string{in.Utterance, in.DialogSummary}
	for _, result := range in.Results {
		sources = append(sources, result.Payload)
	}
	sources = append(sources, in.Entities...)
	return allowedFacts(sources...)
}

// templateReply is the deterministic summary built directly from tool
// results when generation cannot be trusted.
func (f *Finalizer) templateReply(in Input) string {
	var ok, failed []string
	for _, result := range in.Results {
		if result.Success {
			ok = append(ok, result.Tool)
		} else {
			failed = append(failed, result.Tool)
		}
	}

	var b strings.Builder
	b.WriteString("Here is what I did")
	if len(ok) > 0 {
		fmt.Fprintf(&b, ": %s completed", strings.Join(ok, ", "))
	}
	if len(failed) > 0 {
		fmt.Fprintf(&b, "; %s failed", strings.Join(failed, ", "))
	}
	b.WriteString(".")
	return b.String()
}
