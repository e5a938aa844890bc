// Package orchestrator drives one utterance through the turn state
// machine: Planning -> Executing -> Verifying -> Finalizing -> Done, with
// AwaitingUser entered whenever planning asks a question or the policy
// gate wants confirmation. A turn paused in AwaitingUser is resumed by the
// next utterance as the same logical turn.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"aide/pkg/config"
	"aide/pkg/contextmgr"
	"aide/pkg/events"
	"aide/pkg/finalize"
	"aide/pkg/llm"
	"aide/pkg/logx"
	"aide/pkg/metrics"
	"aide/pkg/planner"
	"aide/pkg/policy"
	"aide/pkg/proto"
	"aide/pkg/tier"
	"aide/pkg/tools"
)

// Trace is the per-turn diagnostics bundle returned with every reply.
type Trace struct {
	TurnID            string
	Tier              tier.Decision
	PolicyDecisions   []string
	AuditIDs          []string
	FinalizerStrategy string
	ErrorKind         string
	Steps             int
	Elapsed           time.Duration
}

// TurnResult is the outcome of processing one utterance.
type TurnResult struct {
	Reply        string
	Phase        Phase
	AwaitingUser bool
	Trace        Trace
}

// Deps bundles the orchestrator's injected collaborators.
type Deps struct {
	Engine    *tier.Engine
	Planner   *planner.Planner
	Gate      *policy.Gate
	Registry  *tools.Registry
	Adapter   *tools.Adapter
	Finalizer *finalize.Finalizer
	Fast      llm.Client
	Quality   llm.Client
	Bus       *events.Bus
	Store     *policy.Store
	Logger    *logx.Logger
	Recorder  *metrics.Recorder
}

// Orchestrator owns all session states and processes turns. Sessions run
// concurrently; each session's turns run strictly in sequence.
type Orchestrator struct {
	cfg  *config.Config
	deps Deps

	mu       sync.Mutex
	sessions map[string]*sessionState
}

// New creates an orchestrator.
func New(cfg *config.Config, deps Deps) *Orchestrator {
	if deps.Logger == nil {
		deps.Logger = logx.NewLogger("orchestrator")
	}
	return &Orchestrator{
		cfg:      cfg,
		deps:     deps,
		sessions: make(map[string]*sessionState),
	}
}

// HandleUtterance processes one real-world utterance for a session. When
// the session has a turn paused in AwaitingUser, the utterance resumes it;
// otherwise it starts a new logical turn.
func (o *Orchestrator) HandleUtterance(ctx context.Context, sessionID, utterance string) (TurnResult, error) {
	st := o.session(sessionID)

	ctx, cancel := context.WithCancel(ctx)
	o.setCancel(st, cancel)
	defer func() {
		o.setCancel(st, nil)
		cancel()
	}()

	if st.pending != nil {
		if st.pending.awaitingAnswer {
			// The answer and the original utterance form one logical
			// turn; replan over their concatenation.
			turn := st.pending
			st.pending = nil
			turn.utterances = append(turn.utterances, utterance)
			return o.runTurn(ctx, st, turn.utterances, turn.turnID)
		}
		return o.resumeConfirmation(ctx, st, utterance)
	}

	return o.runTurn(ctx, st, []string{utterance}, "")
}

// Cancel aborts the session's in-flight turn (barge-in). Safe to call from
// any goroutine; a session with no turn in flight is a no-op.
func (o *Orchestrator) Cancel(sessionID string) {
	o.mu.Lock()
	var cancel context.CancelFunc
	if st, ok := o.sessions[sessionID]; ok {
		cancel = st.cancel
	}
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// EndSession drops all session state and its permits.
func (o *Orchestrator) EndSession(ctx context.Context, sessionID string) error {
	o.mu.Lock()
	delete(o.sessions, sessionID)
	o.mu.Unlock()
	if o.deps.Store != nil {
		return o.deps.Store.EndSession(ctx, sessionID)
	}
	return nil
}

// ResetSession wipes a session's in-memory state after corruption. The
// session itself survives; its permits do too.
func (o *Orchestrator) ResetSession(sessionID string) {
	o.mu.Lock()
	st, ok := o.sessions[sessionID]
	o.mu.Unlock()
	if ok {
		st.reset()
	}
}

// PendingConfirmations exposes the session's queue for UIs and tests.
func (o *Orchestrator) PendingConfirmations(sessionID string) []policy.PendingConfirmation {
	o.mu.Lock()
	st, ok := o.sessions[sessionID]
	o.mu.Unlock()
	if !ok {
		return nil
	}
	return st.queue.Items()
}

func (o *Orchestrator) session(sessionID string) *sessionState {
	o.mu.Lock()
	defer o.mu.Unlock()
	if st, ok := o.sessions[sessionID]; ok {
		return st
	}
	st := &sessionState{
		id:      sessionID,
		context: contextmgr.NewManager(o.cfg.Limits, o.deps.Logger),
	}
	o.sessions[sessionID] = st
	if o.deps.Store != nil {
		if err := o.deps.Store.EnsureSession(context.Background(), sessionID); err != nil {
			o.deps.Logger.Error("session upsert failed: %v", err)
		}
	}
	return st
}

func (o *Orchestrator) setCancel(st *sessionState, cancel context.CancelFunc) {
	o.mu.Lock()
	st.cancel = cancel
	o.mu.Unlock()
}

// runTurn executes the full phase sequence for one logical turn.
func (o *Orchestrator) runTurn(ctx context.Context, st *sessionState, utterances []string, turnID string) (TurnResult, error) {
	start := time.Now()
	if turnID == "" {
		// Only a fresh logical turn counts; an utterance resuming a paused
		// turn re-enters here under the existing id.
		turnID = uuid.New().String()
		st.turns++
		if o.deps.Store != nil {
			if err := o.deps.Store.IncrementTurns(ctx, st.id); err != nil {
				o.deps.Logger.Error("turn counter update failed: %v", err)
			}
		}
	}

	utterance := strings.Join(utterances, "\n")
	o.publish(events.TurnStart, st.id, turnID, map[string]any{"turn": st.turns})

	// Planning. The router tier is chosen from the utterance alone; the
	// post-plan decision adds route and tool knowledge for the finalizer.
	prelim := o.deps.Engine.Decide(utterance, "unknown", nil, false)
	client := o.clientFor(prelim.RouterTier)
	qos := o.deps.Engine.QoS(prelim.RouterTier, false)

	planCtx, cancelPlan := context.WithTimeout(ctx, qos.Timeout())
	plan, err := o.deps.Planner.Plan(planCtx, client, llm.Request{
		Messages:  o.planMessages(st, utterance),
		MaxTokens: qos.MaxTokens,
		SessionID: st.id,
	}, o.deps.Registry.Catalog())
	cancelPlan()
	if err != nil {
		if ctx.Err() != nil {
			return TurnResult{}, fmt.Errorf("turn cancelled: %w", ctx.Err())
		}
		return o.planningFailure(st, turnID, err, start), nil
	}

	decision := o.deps.Engine.Decide(utterance, plan.Route, planToolNames(plan), plan.RequiresConfirmation)
	if o.deps.Recorder != nil {
		o.deps.Recorder.RecordTierDecision(string(decision.RouterTier), string(decision.FinalizerTier), decision.RouterReason)
	}

	if inconclusivePlan(plan) {
		return o.directAction(ctx, st, turnID, utterances, plan, decision, start)
	}

	turn := &pendingTurn{
		turnID:     turnID,
		utterances: utterances,
		plan:       plan,
		decision:   decision,
		statuses:   make([]stepStatus, len(plan.ToolPlan)),
		cached:     make([]*policy.Evaluation, len(plan.ToolPlan)),
		run:        o.deps.Adapter.NewRun(),
	}

	if plan.AskUser {
		turn.awaitingAnswer = true
		st.pending = turn
		fout := o.deps.Finalizer.Finalize(ctx, finalize.Input{Plan: plan, Decision: decision})
		return TurnResult{
			Reply:        fout.Reply,
			Phase:        PhaseAwaitingUser,
			AwaitingUser: true,
			Trace:        o.trace(turn, fout.Strategy, "", start),
		}, nil
	}

	return o.advance(ctx, st, turn, start)
}

// advance runs Executing and, unless the turn paused, Verifying and
// Finalizing.
func (o *Orchestrator) advance(ctx context.Context, st *sessionState, turn *pendingTurn, start time.Time) (TurnResult, error) {
	awaiting, maxed, err := o.executeSteps(ctx, st, turn)
	if err != nil {
		return TurnResult{}, err
	}
	if maxed {
		o.publish(events.TurnEnd, st.id, turn.turnID, map[string]any{"error_kind": ErrKindMaxSteps})
		return TurnResult{
			Reply: finalize.DeterministicReply(ErrKindMaxSteps),
			Phase: PhaseDone,
			Trace: o.trace(turn, finalize.StrategyDeterministic, ErrKindMaxSteps, start),
		}, nil
	}
	if awaiting {
		st.pending = turn
		head, _ := st.queue.Head()
		return TurnResult{
			Reply:        head.Prompt,
			Phase:        PhaseAwaitingUser,
			AwaitingUser: true,
			Trace:        o.trace(turn, "", "", start),
		}, nil
	}
	return o.finishTurn(ctx, st, turn, start), nil
}

// executeSteps walks the tool plan from the cursor. It returns awaiting
// when a step needs confirmation, maxed when the step bound was hit.
func (o *Orchestrator) executeSteps(ctx context.Context, st *sessionState, turn *pendingTurn) (awaiting, maxed bool, err error) {
	for turn.cursor < len(turn.plan.ToolPlan) {
		if ctx.Err() != nil {
			return false, false, fmt.Errorf("turn cancelled: %w", ctx.Err())
		}
		if turn.steps >= o.cfg.Limits.MaxSteps {
			o.deps.Logger.Warn("session %s turn %s exceeded max steps (%d)", st.id, turn.turnID, o.cfg.Limits.MaxSteps)
			return false, true, nil
		}

		idx := turn.cursor
		step := turn.plan.ToolPlan[idx]

		switch turn.statuses[idx] {
		case stepExecuted, stepSkipped:
			turn.cursor++
			continue
		case stepQueued:
			// This step is the queue head. Re-evaluate: a permit granted
			// while it waited allows it without re-prompting.
			eval := o.evaluateStep(ctx, st, turn, step)
			switch eval.Decision {
			case policy.DecisionAllowed:
				st.queue.Dequeue()
				o.executeStep(ctx, st, turn, idx, step)
			case policy.DecisionDenied:
				st.queue.Dequeue()
				o.skipStep(turn, idx, step, "policy denied: "+eval.Reason)
			default:
				return true, false, nil
			}
			turn.cursor++
			continue
		}

		eval := turn.cached[idx]
		if eval == nil {
			e := o.evaluateStep(ctx, st, turn, step)
			eval = &e
		}
		turn.cached[idx] = nil

		switch eval.Decision {
		case policy.DecisionAllowed:
			o.executeStep(ctx, st, turn, idx, step)
			turn.cursor++
		case policy.DecisionDenied:
			o.skipStep(turn, idx, step, "policy denied: "+eval.Reason)
			turn.cursor++
		default:
			// Enqueue this step, then every later step that also needs
			// confirmation, in plan order. Only the head is surfaced.
			o.enqueueStep(st, turn, idx, step, *eval)
			for j := idx + 1; j < len(turn.plan.ToolPlan); j++ {
				if turn.statuses[j] != stepUnvisited {
					continue
				}
				later := turn.plan.ToolPlan[j]
				laterEval := o.evaluateStep(ctx, st, turn, later)
				if laterEval.Decision == policy.DecisionPending {
					o.enqueueStep(st, turn, j, later, laterEval)
				} else {
					cached := laterEval
					turn.cached[j] = &cached
				}
			}
			return true, false, nil
		}
	}
	return false, false, nil
}

// inconclusivePlan reports a plan that neither acts, asks nor speaks.
func inconclusivePlan(plan planner.Output) bool {
	return len(plan.ToolPlan) == 0 && !plan.AskUser && plan.DraftReply == ""
}

// directAction resolves an inconclusive plan over the wire action protocol:
// the fast tier is asked for exactly one SAY, ASK_USER, FAIL or CALL_TOOL
// object, which then dispatches through the same gate and finalize paths a
// planned turn uses.
func (o *Orchestrator) directAction(ctx context.Context, st *sessionState, turnID string, utterances []string, plan planner.Output, decision tier.Decision, start time.Time) (TurnResult, error) {
	utterance := strings.Join(utterances, "\n")
	qos := o.deps.Engine.QoS(tier.TierFast, false)

	actionCtx, cancelAction := context.WithTimeout(ctx, qos.Timeout())
	action, err := o.deps.Planner.RepairAction(actionCtx, o.deps.Fast, llm.Request{
		Messages:  o.actionMessages(st, utterance),
		MaxTokens: qos.MaxTokens,
		SessionID: st.id,
	}, o.deps.Registry.Catalog())
	cancelAction()
	if err != nil {
		if ctx.Err() != nil {
			return TurnResult{}, fmt.Errorf("turn cancelled: %w", ctx.Err())
		}
		return o.planningFailure(st, turnID, err, start), nil
	}

	turn := &pendingTurn{
		turnID:     turnID,
		utterances: utterances,
		plan:       plan,
		decision:   decision,
	}

	switch action.Type {
	case proto.ActionSay:
		turn.plan.DraftReply = action.Text
		return o.finishTurn(ctx, st, turn, start), nil

	case proto.ActionAskUser:
		turn.plan.AskUser = true
		turn.plan.Question = action.Question
		turn.awaitingAnswer = true
		st.pending = turn
		fout := o.deps.Finalizer.Finalize(ctx, finalize.Input{Plan: turn.plan, Decision: decision})
		return TurnResult{
			Reply:        fout.Reply,
			Phase:        PhaseAwaitingUser,
			AwaitingUser: true,
			Trace:        o.trace(turn, fout.Strategy, "", start),
		}, nil

	case proto.ActionCallTool:
		turn.plan.ToolPlan = []planner.Step{{Name: action.Tool, Args: action.Params}}
		turn.decision = o.deps.Engine.Decide(utterance, plan.Route, []string{action.Tool}, false)
		turn.statuses = make([]stepStatus, 1)
		turn.cached = make([]*policy.Evaluation, 1)
		turn.run = o.deps.Adapter.NewRun()
		return o.advance(ctx, st, turn, start)

	default: // FAIL
		o.deps.Logger.Warn("session %s turn %s action reported failure: %s", st.id, turnID, action.Error)
		o.publish(events.TurnEnd, st.id, turnID, map[string]any{"error_kind": ErrKindToolExecution})
		return TurnResult{
			Reply: finalize.DeterministicReply(ErrKindToolExecution),
			Phase: PhaseDone,
			Trace: o.trace(turn, finalize.StrategyDeterministic, ErrKindToolExecution, start),
		}, nil
	}
}

// actionMessages builds the wire action prompt.
func (o *Orchestrator) actionMessages(st *sessionState, utterance string) []llm.Message {
	var b strings.Builder
	b.WriteString("You are the action engine of a personal assistant. Decide the single next action for the user's request.\n\nAvailable tools:\n")
	for _, def := range o.deps.Registry.Definitions() {
		fmt.Fprintf(&b, "- %s: %s\n", def.Name, def.Description)
	}
	b.WriteString("\nReply with exactly one JSON object and nothing else. One of:\n")
	b.WriteString("{\"type\":\"SAY\",\"text\":\"...\"}\n")
	b.WriteString("{\"type\":\"ASK_USER\",\"question\":\"...\"}\n")
	b.WriteString("{\"type\":\"FAIL\",\"error\":\"...\"}\n")
	b.WriteString("{\"type\":\"CALL_TOOL\",\"tool\":\"...\",\"params\":{}}")

	messages := []llm.Message{llm.NewSystemMessage(b.String())}
	if summary := st.context.Summary(o.cfg.Limits.PromptBudgetTokens / 3); summary != "" {
		messages = append(messages, llm.NewSystemMessage("Conversation so far:\n"+summary))
	}
	messages = append(messages, llm.NewUserMessage(utterance))
	return messages
}

// resumeConfirmation interprets an utterance as the answer for the queue
// head of the paused turn.
func (o *Orchestrator) resumeConfirmation(ctx context.Context, st *sessionState, utterance string) (TurnResult, error) {
	turn := st.pending
	head, ok := st.queue.Head()
	if !ok {
		// A paused confirmation turn with an empty queue is corrupted
		// state; reset rather than repair.
		o.deps.Logger.Error("session %s paused with empty confirmation queue, resetting", st.id)
		st.reset()
		return TurnResult{
			Reply: finalize.DeterministicReply(""),
			Phase: PhaseDone,
		}, nil
	}

	start := time.Now()
	call := policy.ToolCall{
		SessionID: st.id,
		Tool:      head.Tool,
		Route:     turn.plan.Route,
		Params:    head.Params,
	}

	normalized := strings.ToLower(strings.TrimSpace(utterance))
	switch {
	case affirmativeWords[normalized]:
		auditID := o.deps.Gate.Confirm(ctx, call, head.Risk)
		turn.auditIDs = append(turn.auditIDs, auditID)
		st.queue.Dequeue()
		idx := o.headStepIndex(turn)
		st.pending = nil
		o.executeStep(ctx, st, turn, idx, turn.plan.ToolPlan[idx])
		turn.cursor = idx + 1
		return o.advance(ctx, st, turn, start)

	case negativeWords[normalized]:
		auditID := o.deps.Gate.Decline(call, head.Risk)
		turn.auditIDs = append(turn.auditIDs, auditID)
		st.queue.Dequeue()
		idx := o.headStepIndex(turn)
		st.pending = nil
		o.skipStep(turn, idx, turn.plan.ToolPlan[idx], "declined by user")
		turn.cursor = idx + 1
		return o.advance(ctx, st, turn, start)

	default:
		// Not a clear yes or no; re-surface the head prompt.
		return TurnResult{
			Reply:        head.Prompt,
			Phase:        PhaseAwaitingUser,
			AwaitingUser: true,
			Trace:        o.trace(turn, "", "", start),
		}, nil
	}
}

// headStepIndex finds the plan step the queue head corresponds to: the
// first queued step at or after the cursor.
func (o *Orchestrator) headStepIndex(turn *pendingTurn) int {
	for i := turn.cursor; i < len(turn.statuses); i++ {
		if turn.statuses[i] == stepQueued {
			return i
		}
	}
	return turn.cursor
}

// finishTurn runs Verifying and Finalizing and closes out the turn.
func (o *Orchestrator) finishTurn(ctx context.Context, st *sessionState, turn *pendingTurn, start time.Time) TurnResult {
	utterance := turn.joinedUtterance()

	// A plan whose every step was policy-denied gets the refusal message,
	// not a generic failure.
	if len(turn.plan.ToolPlan) > 0 && allPolicyDenied(turn.results) {
		o.publish(events.TurnEnd, st.id, turn.turnID, map[string]any{"error_kind": ErrKindPolicyDenied})
		return TurnResult{
			Reply: finalize.DeterministicReply(ErrKindPolicyDenied),
			Phase: PhaseDone,
			Trace: o.trace(turn, finalize.StrategyDeterministic, ErrKindPolicyDenied, start),
		}
	}

	var entities []string
	for _, entity := range st.context.LiveEntities() {
		entities = append(entities, entity.Kind+": "+entity.Value)
	}

	fout := o.deps.Finalizer.Finalize(ctx, finalize.Input{
		SessionID:     st.id,
		Utterance:     utterance,
		Plan:          turn.plan,
		Results:       turn.results,
		DialogSummary: st.context.Summary(o.cfg.Limits.PromptBudgetTokens / 3),
		Entities:      entities,
		Decision:      turn.decision,
	})

	if fout.Strategy == finalize.StrategyFastFallback {
		o.publish(events.QualityDegraded, st.id, turn.turnID, map[string]any{
			"reason": fout.FallbackErr,
		})
	}

	st.context.RecordTurn(utterance, fout.Reply)
	o.publish(events.TurnEnd, st.id, turn.turnID, map[string]any{
		"strategy": fout.Strategy,
		"steps":    turn.steps,
	})

	errorKind := ""
	if fout.GuardRetry && fout.Strategy == finalize.StrategyTemplateFallback {
		errorKind = ErrKindHallucination
	}
	return TurnResult{
		Reply: fout.Reply,
		Phase: PhaseDone,
		Trace: o.trace(turn, fout.Strategy, errorKind, start),
	}
}

// planningFailure terminates the turn with a deterministic apology.
func (o *Orchestrator) planningFailure(st *sessionState, turnID string, err error, start time.Time) TurnResult {
	kind := classifyPlanFailure(err)
	o.deps.Logger.Warn("planning failed for session %s (%s): %v", st.id, kind, err)
	o.publish(events.TurnEnd, st.id, turnID, map[string]any{"error_kind": kind})

	turn := &pendingTurn{turnID: turnID}
	return TurnResult{
		Reply: finalize.DeterministicReply(kind),
		Phase: PhaseDone,
		Trace: o.trace(turn, finalize.StrategyDeterministic, kind, start),
	}
}

func (o *Orchestrator) evaluateStep(ctx context.Context, st *sessionState, turn *pendingTurn, step planner.Step) policy.Evaluation {
	declared := policy.RiskLow
	requiresConfirmation := false
	if tool, err := o.deps.Registry.Get(step.Name); err == nil {
		declared = tool.RiskTier()
		requiresConfirmation = tool.RequiresConfirmation()
	}

	eval := o.deps.Gate.Evaluate(ctx, policy.ToolCall{
		SessionID:            st.id,
		Tool:                 step.Name,
		Route:                turn.plan.Route,
		RawText:              turn.joinedUtterance(),
		Declared:             declared,
		RequiresConfirmation: requiresConfirmation,
		Params:               step.Args,
	})
	if eval.AuditID != "" {
		turn.auditIDs = append(turn.auditIDs, eval.AuditID)
	}
	o.publish(events.PolicyDecision, st.id, turn.turnID, map[string]any{
		"tool":     step.Name,
		"decision": eval.Decision.String(),
		"risk":     eval.Risk.String(),
		"params":   o.deps.Gate.Redact(step.Args),
	})
	return eval
}

func (o *Orchestrator) executeStep(ctx context.Context, st *sessionState, turn *pendingTurn, idx int, step planner.Step) {
	result := turn.run.Execute(ctx, step.Name, step.Args)
	turn.results = append(turn.results, result)
	turn.statuses[idx] = stepExecuted
	turn.steps++
	o.publish(events.ToolCall, st.id, turn.turnID, map[string]any{
		"tool":       step.Name,
		"success":    result.Success,
		"latency_ms": result.Latency.Milliseconds(),
	})
}

func (o *Orchestrator) skipStep(turn *pendingTurn, idx int, step planner.Step, reason string) {
	turn.results = append(turn.results, tools.ToolResult{
		Tool: step.Name,
		Err:  reason,
	})
	turn.statuses[idx] = stepSkipped
}

func (o *Orchestrator) enqueueStep(st *sessionState, turn *pendingTurn, idx int, step planner.Step, eval policy.Evaluation) {
	prompt := ""
	if tool, err := o.deps.Registry.Get(step.Name); err == nil {
		prompt = tool.ConfirmationPrompt(step.Args)
	}
	if prompt == "" && turn.plan.ConfirmationPrompt != "" {
		prompt = turn.plan.ConfirmationPrompt
	}
	if prompt == "" {
		prompt = fmt.Sprintf("Should I go ahead and run %s?", step.Name)
	}

	st.queue.Enqueue(policy.PendingConfirmation{
		Tool:   step.Name,
		Prompt: prompt,
		Slots:  o.deps.Gate.Redact(step.Args),
		Params: step.Args,
		Risk:   eval.Risk,
	})
	turn.statuses[idx] = stepQueued
}

func (o *Orchestrator) planMessages(st *sessionState, utterance string) []llm.Message {
	var b strings.Builder
	b.WriteString("You are the planning engine of a personal assistant. Decide how to handle the user's request.\n\nAvailable tools:\n")
	for _, def := range o.deps.Registry.Definitions() {
		fmt.Fprintf(&b, "- %s: %s\n", def.Name, def.Description)
		for name, prop := range def.InputSchema.Properties {
			fmt.Fprintf(&b, "    %s (%s) %s\n", name, prop.Type, prop.Description)
		}
	}
	b.WriteString("\nReply with a single JSON object only. Shape:\n")
	b.WriteString(planner.PlanSchemaHint)
	b.WriteString("\nIf required information is missing, set ask_user to true and ask one question.")
	b.WriteString("\nSet requires_confirmation to true for destructive or irreversible actions.")

	messages := []llm.Message{llm.NewSystemMessage(b.String())}
	if summary := st.context.Summary(o.cfg.Limits.PromptBudgetTokens / 3); summary != "" {
		messages = append(messages, llm.NewSystemMessage("Conversation so far:\n"+summary))
	}
	messages = append(messages, llm.NewUserMessage(utterance))
	return messages
}

func (o *Orchestrator) clientFor(t tier.Tier) llm.Client {
	if t == tier.TierQuality && o.deps.Quality != nil {
		return o.deps.Quality
	}
	return o.deps.Fast
}

func (o *Orchestrator) publish(eventType events.Type, sessionID, turnID string, payload map[string]any) {
	if o.deps.Bus == nil {
		return
	}
	o.deps.Bus.Publish(events.Event{
		Type:      eventType,
		SessionID: sessionID,
		TurnID:    turnID,
		Payload:   payload,
	})
}

func (o *Orchestrator) trace(turn *pendingTurn, strategy, errorKind string, start time.Time) Trace {
	var decisions []string
	for _, result := range turn.results {
		status := "ok"
		if !result.Success {
			status = "failed"
		}
		decisions = append(decisions, result.Tool+":"+status)
	}
	return Trace{
		TurnID:            turn.turnID,
		Tier:              turn.decision,
		PolicyDecisions:   decisions,
		AuditIDs:          turn.auditIDs,
		FinalizerStrategy: strategy,
		ErrorKind:         errorKind,
		Steps:             turn.steps,
		Elapsed:           time.Since(start),
	}
}

func allPolicyDenied(results []tools.ToolResult) bool {
	if len(results) == 0 {
		return false
	}
	for _, result := range results {
		if result.Success || !strings.HasPrefix(result.Err, "policy denied") {
			return false
		}
	}
	return true
}

func planToolNames(plan planner.Output) []string {
	names := make([]string, 0, len(plan.ToolPlan))
	for _, step := range plan.ToolPlan {
		names = append(names, step.Name)
	}
	return names
}

func classifyPlanFailure(err error) string {
	var failure *planner.Failure
	if errors.As(err, &failure) {
		return ErrKindRepairExhausted
	}
	switch llm.Classify(err).Type {
	case llm.ErrorTypeTimeout:
		return ErrKindInferenceTimeout
	case llm.ErrorTypeRateLimit, llm.ErrorTypeTransient:
		return ErrKindInferenceOverloaded
	default:
		return ""
	}
}
