package orchestrator

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aide/pkg/config"
	"aide/pkg/finalize"
	"aide/pkg/planner"
	"aide/pkg/policy"
	"aide/pkg/testkit"
	"aide/pkg/tier"
	"aide/pkg/tools"
)

type charCounter struct{}

func (charCounter) CountTokens(text string) int { return len(text) / 4 }

func newOrchestrator(t *testing.T, cfg config.Config, fast, quality *testkit.ScriptedClient, fakes ...tools.Tool) *Orchestrator {
	t.Helper()
	orch, _ := newOrchestratorWithStore(t, cfg, fast, quality, fakes...)
	return orch
}

func newOrchestratorWithStore(t *testing.T, cfg config.Config, fast, quality *testkit.ScriptedClient, fakes ...tools.Tool) (*Orchestrator, *policy.Store) {
	t.Helper()
	dir := t.TempDir()

	store, err := policy.OpenStore(filepath.Join(dir, "policy.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	audit, err := policy.NewAuditWriter(filepath.Join(dir, "audit"))
	require.NoError(t, err)
	t.Cleanup(func() { audit.Close() })

	registry := tools.NewRegistry()
	for _, fake := range fakes {
		require.NoError(t, registry.Register(fake))
	}

	engine := tier.NewEngine(cfg.Tier, cfg.Risk)
	orch := New(&cfg, Deps{
		Engine:    engine,
		Planner:   planner.New(cfg.Limits.RepairMaxAttempts, planner.DefaultCorrections(), nil, nil),
		Gate:      policy.NewGate(cfg.Risk, cfg.Policy, store, audit, nil, nil),
		Registry:  registry,
		Adapter:   tools.NewAdapter(registry, cfg.Limits, nil, nil),
		Finalizer: finalize.New(fast, quality, engine, charCounter{}, cfg.Limits, nil, nil),
		Fast:      fast,
		Quality:   quality,
		Store:     store,
	})
	return orch, store
}

const mailPlan = `{"route":"mail","sub_intent":"send","slots":{"to":"ali@example.com"},"confidence":0.9,` +
	`"tool_plan":[{"tool":"mail_send","args":{"to":"ali@example.com","subject":"Hello"}}],` +
	`"requires_confirmation":true,"confirmation_prompt":"Should I send this email to ali@example.com?"}`

func TestSmalltalkTurnCompletes(t *testing.T) {
	fast := testkit.Replies(
		`{"route":"smalltalk","confidence":0.9,"tool_plan":[],"draft_reply":"Hi!"}`,
		"Hello! How can I help?",
	)
	orch := newOrchestrator(t, config.Defaults(), fast, testkit.Replies("unused"))

	res, err := orch.HandleUtterance(context.Background(), "s1", "hi there")
	require.NoError(t, err)

	assert.Equal(t, PhaseDone, res.Phase)
	assert.False(t, res.AwaitingUser)
	assert.Equal(t, "Hello! How can I help?", res.Reply)
	assert.Equal(t, 2, fast.Calls())
}

func TestMissingRecipientThenConfirmThenSend(t *testing.T) {
	// Turn 1: the plan asks for the address. The answer resumes the same
	// logical turn, replans, and pauses on confirmation. "yes" executes the
	// send exactly once.
	fast := testkit.Replies(
		`{"route":"mail","ask_user":true,"question":"What is Ali's email address?","tool_plan":[]}`,
		mailPlan,
	)
	quality := testkit.Replies("Done, I sent your email to Ali.")
	mail := testkit.NewFakeTool("mail_send", policy.RiskMed)
	mail.Confirm = true
	orch := newOrchestrator(t, config.Defaults(), fast, quality, mail)

	ctx := context.Background()

	res, err := orch.HandleUtterance(ctx, "s1", "send an email to ali")
	require.NoError(t, err)
	assert.True(t, res.AwaitingUser)
	assert.Equal(t, "What is Ali's email address?", res.Reply)
	assert.Empty(t, mail.Invocations())

	res, err = orch.HandleUtterance(ctx, "s1", "ali@example.com")
	require.NoError(t, err)
	assert.True(t, res.AwaitingUser)
	assert.Equal(t, "Should I send this email to ali@example.com?", res.Reply)
	assert.Empty(t, mail.Invocations())
	assert.Len(t, orch.PendingConfirmations("s1"), 1)

	res, err = orch.HandleUtterance(ctx, "s1", "yes")
	require.NoError(t, err)
	assert.Equal(t, PhaseDone, res.Phase)
	assert.Equal(t, "Done, I sent your email to Ali.", res.Reply)
	require.Len(t, mail.Invocations(), 1)
	assert.Equal(t, "ali@example.com", mail.Invocations()[0]["to"])
	assert.Empty(t, orch.PendingConfirmations("s1"))
}

func TestUnclearAnswerRepromptsSameConfirmation(t *testing.T) {
	fast := testkit.Replies(mailPlan)
	mail := testkit.NewFakeTool("mail_send", policy.RiskMed)
	mail.Confirm = true
	orch := newOrchestrator(t, config.Defaults(), fast, testkit.Replies("Sent."), mail)

	ctx := context.Background()
	res, err := orch.HandleUtterance(ctx, "s1", "send the email to ali@example.com")
	require.NoError(t, err)
	require.True(t, res.AwaitingUser)
	prompt := res.Reply

	res, err = orch.HandleUtterance(ctx, "s1", "hmm maybe")
	require.NoError(t, err)
	assert.True(t, res.AwaitingUser)
	assert.Equal(t, prompt, res.Reply)
	assert.Empty(t, mail.Invocations())
	assert.Len(t, orch.PendingConfirmations("s1"), 1)
}

func TestThreeDestructiveStepsQueueInPlanOrder(t *testing.T) {
	plan := `{"route":"calendar","confidence":0.8,"tool_plan":[` +
		`{"tool":"calendar_delete","args":{"id":"all"}},` +
		`{"tool":"contacts_remove","args":{"name":"ali"}},` +
		`{"tool":"system_restart","args":{}}]}`
	fast := testkit.Replies(plan)
	quality := testkit.Replies("Cleanup finished.")

	del := testkit.NewFakeTool("calendar_delete", policy.RiskHigh)
	del.Confirm, del.Prompt = true, "Delete all calendar events?"
	rm := testkit.NewFakeTool("contacts_remove", policy.RiskHigh)
	rm.Confirm, rm.Prompt = true, "Remove the contact?"
	restart := testkit.NewFakeTool("system_restart", policy.RiskHigh)
	restart.Confirm, restart.Prompt = true, "Restart the machine?"

	orch := newOrchestrator(t, config.Defaults(), fast, quality, del, rm, restart)
	ctx := context.Background()

	res, err := orch.HandleUtterance(ctx, "s1", "clean everything up")
	require.NoError(t, err)
	require.True(t, res.AwaitingUser)
	assert.Equal(t, "Delete all calendar events?", res.Reply)

	// All three wait in plan order; only the head is surfaced.
	pending := orch.PendingConfirmations("s1")
	require.Len(t, pending, 3)
	assert.Equal(t, "calendar_delete", pending[0].Tool)
	assert.Equal(t, "contacts_remove", pending[1].Tool)
	assert.Equal(t, "system_restart", pending[2].Tool)

	// Confirming the head runs only that tool and advances the queue.
	res, err = orch.HandleUtterance(ctx, "s1", "yes")
	require.NoError(t, err)
	require.True(t, res.AwaitingUser)
	assert.Equal(t, "Remove the contact?", res.Reply)
	assert.Len(t, del.Invocations(), 1)
	assert.Empty(t, rm.Invocations())
	assert.Len(t, orch.PendingConfirmations("s1"), 2)

	// Declining skips the head without touching the rest.
	res, err = orch.HandleUtterance(ctx, "s1", "no")
	require.NoError(t, err)
	require.True(t, res.AwaitingUser)
	assert.Equal(t, "Restart the machine?", res.Reply)
	assert.Empty(t, rm.Invocations())

	res, err = orch.HandleUtterance(ctx, "s1", "evet")
	require.NoError(t, err)
	assert.Equal(t, PhaseDone, res.Phase)
	assert.Len(t, restart.Invocations(), 1)
	assert.Empty(t, rm.Invocations())
	assert.Empty(t, orch.PendingConfirmations("s1"))
}

func TestSessionPermitSkipsSecondConfirmation(t *testing.T) {
	fast := testkit.Replies(mailPlan, mailPlan)
	quality := testkit.Replies("Sent.", "Sent again.")
	mail := testkit.NewFakeTool("mail_send", policy.RiskMed)
	mail.Confirm = true
	orch := newOrchestrator(t, config.Defaults(), fast, quality, mail)
	ctx := context.Background()

	res, err := orch.HandleUtterance(ctx, "s1", "send the email to ali@example.com")
	require.NoError(t, err)
	require.True(t, res.AwaitingUser)
	res, err = orch.HandleUtterance(ctx, "s1", "yes")
	require.NoError(t, err)
	require.Equal(t, PhaseDone, res.Phase)
	require.Len(t, mail.Invocations(), 1)

	// The permit lives for the session: the second identical call runs
	// without pausing.
	res, err = orch.HandleUtterance(ctx, "s1", "send it to ali@example.com again")
	require.NoError(t, err)
	assert.Equal(t, PhaseDone, res.Phase)
	assert.False(t, res.AwaitingUser)
	assert.Len(t, mail.Invocations(), 2)
}

func TestMaxStepsStopsExecution(t *testing.T) {
	cfg := config.Defaults()
	cfg.Limits.MaxSteps = 2
	plan := `{"route":"browser","confidence":0.8,"tool_plan":[` +
		`{"tool":"browser_open","args":{"url":"a"}},` +
		`{"tool":"browser_open","args":{"url":"b"}},` +
		`{"tool":"browser_open","args":{"url":"c"}}]}`
	fast := testkit.Replies(plan)
	browse := testkit.NewFakeTool("browser_open", policy.RiskLow)
	orch := newOrchestrator(t, cfg, fast, testkit.Replies("unused"), browse)

	res, err := orch.HandleUtterance(context.Background(), "s1", "open those pages")
	require.NoError(t, err)

	assert.Equal(t, PhaseDone, res.Phase)
	assert.Equal(t, finalize.DeterministicReply("max_steps_exceeded"), res.Reply)
	assert.Len(t, browse.Invocations(), 2)
}

func TestRepairExhaustionGetsFixedApology(t *testing.T) {
	fast := testkit.Replies("this is not json at all")
	orch := newOrchestrator(t, config.Defaults(), fast, testkit.Replies("unused"))

	res, err := orch.HandleUtterance(context.Background(), "s1", "do something")
	require.NoError(t, err)

	assert.Equal(t, PhaseDone, res.Phase)
	assert.Equal(t, finalize.DeterministicReply("repair_exhausted"), res.Reply)
	assert.Equal(t, "repair_exhausted", res.Trace.ErrorKind)
	// Initial attempt plus the configured repairs.
	assert.Equal(t, 1+config.Defaults().Limits.RepairMaxAttempts, fast.Calls())
}

func TestInferenceTimeoutGetsFixedApology(t *testing.T) {
	fast := testkit.NewScriptedClient(nil, []error{errors.New("request timeout")})
	orch := newOrchestrator(t, config.Defaults(), fast, testkit.Replies("unused"))

	res, err := orch.HandleUtterance(context.Background(), "s1", "do something")
	require.NoError(t, err)

	assert.Equal(t, finalize.DeterministicReply("inference_timeout"), res.Reply)
	assert.Equal(t, "inference_timeout", res.Trace.ErrorKind)
}

func TestDenyPatternRefusesWholePlan(t *testing.T) {
	plan := `{"route":"system","confidence":0.9,"tool_plan":[{"tool":"system_exec","args":{"cmd":"cleanup"}}]}`
	fast := testkit.Replies(plan)
	execTool := testkit.NewFakeTool("system_exec", policy.RiskMed)
	orch := newOrchestrator(t, config.Defaults(), fast, testkit.Replies("unused"), execTool)

	res, err := orch.HandleUtterance(context.Background(), "s1", "please run rm -rf /tmp for me")
	require.NoError(t, err)

	assert.Equal(t, finalize.DeterministicReply("policy_denied"), res.Reply)
	assert.Equal(t, "policy_denied", res.Trace.ErrorKind)
	assert.Empty(t, execTool.Invocations())
}

func TestInconclusivePlanResolvedByDirectSay(t *testing.T) {
	// A plan with no steps, no question and no draft falls back to the wire
	// action protocol; a SAY action becomes the draft reply.
	fast := testkit.Replies(
		`{"route":"unknown","confidence":0.2,"tool_plan":[]}`,
		`{"type":"SAY","text":"I can help with mail, calendar and contacts."}`,
		"I can help with mail, calendar and contacts.",
	)
	orch := newOrchestrator(t, config.Defaults(), fast, testkit.Replies("unused"))

	res, err := orch.HandleUtterance(context.Background(), "s1", "hm")
	require.NoError(t, err)

	assert.Equal(t, PhaseDone, res.Phase)
	assert.Equal(t, "I can help with mail, calendar and contacts.", res.Reply)
	assert.Equal(t, 3, fast.Calls())
}

func TestInconclusivePlanResolvedByDirectToolCall(t *testing.T) {
	fast := testkit.Replies(
		`{"route":"browser","confidence":0.3,"tool_plan":[]}`,
		`{"type":"CALL_TOOL","tool":"browser_open","params":{"url":"https://example.com"}}`,
		"Opened example.com for you.",
	)
	browse := testkit.NewFakeTool("browser_open", policy.RiskLow)
	orch := newOrchestrator(t, config.Defaults(), fast, testkit.Replies("unused"), browse)

	res, err := orch.HandleUtterance(context.Background(), "s1", "example.com")
	require.NoError(t, err)

	assert.Equal(t, PhaseDone, res.Phase)
	require.Len(t, browse.Invocations(), 1)
	assert.Equal(t, "https://example.com", browse.Invocations()[0]["url"])
	assert.Equal(t, "Opened example.com for you.", res.Reply)
}

func TestDirectActionQuestionPausesTurn(t *testing.T) {
	fast := testkit.Replies(
		`{"route":"mail","confidence":0.4,"tool_plan":[]}`,
		`{"type":"ASK_USER","question":"Which account should I use?"}`,
	)
	orch := newOrchestrator(t, config.Defaults(), fast, testkit.Replies("unused"))

	res, err := orch.HandleUtterance(context.Background(), "s1", "check mail")
	require.NoError(t, err)

	assert.True(t, res.AwaitingUser)
	assert.Equal(t, "Which account should I use?", res.Reply)
}

func TestDirectActionFailureGetsFixedApology(t *testing.T) {
	fast := testkit.Replies(
		`{"route":"unknown","confidence":0.1,"tool_plan":[]}`,
		`{"type":"FAIL","error":"request cannot be mapped to any capability"}`,
	)
	orch := newOrchestrator(t, config.Defaults(), fast, testkit.Replies("unused"))

	res, err := orch.HandleUtterance(context.Background(), "s1", "xyzzy")
	require.NoError(t, err)

	assert.Equal(t, PhaseDone, res.Phase)
	assert.Equal(t, finalize.DeterministicReply("tool_execution_error"), res.Reply)
	assert.Equal(t, "tool_execution_error", res.Trace.ErrorKind)
}

func TestCancelledContextAbortsTurnCleanly(t *testing.T) {
	fast := testkit.Replies(mailPlan, mailPlan)
	quality := testkit.Replies("Sent.")
	mail := testkit.NewFakeTool("mail_send", policy.RiskMed)
	mail.Confirm = true
	orch := newOrchestrator(t, config.Defaults(), fast, quality, mail)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := orch.HandleUtterance(cancelled, "s1", "send the email to ali@example.com")
	require.Error(t, err)
	assert.Empty(t, mail.Invocations())
	assert.Empty(t, orch.PendingConfirmations("s1"))

	// The session is not corrupted: a fresh turn proceeds normally.
	res, err := orch.HandleUtterance(context.Background(), "s1", "send the email to ali@example.com")
	require.NoError(t, err)
	assert.True(t, res.AwaitingUser)
}

func TestResumedTurnCountsOnce(t *testing.T) {
	// Ask-user and confirmation pauses keep the same logical turn; the
	// session turn counter moves only when a fresh turn starts.
	fast := testkit.Replies(
		`{"route":"mail","ask_user":true,"question":"What is Ali's email address?","tool_plan":[]}`,
		mailPlan,
	)
	quality := testkit.Replies("Sent.")
	mail := testkit.NewFakeTool("mail_send", policy.RiskMed)
	mail.Confirm = true
	orch, store := newOrchestratorWithStore(t, config.Defaults(), fast, quality, mail)
	ctx := context.Background()

	_, err := orch.HandleUtterance(ctx, "s1", "send an email to ali")
	require.NoError(t, err)
	_, err = orch.HandleUtterance(ctx, "s1", "ali@example.com")
	require.NoError(t, err)
	_, err = orch.HandleUtterance(ctx, "s1", "yes")
	require.NoError(t, err)

	turns, err := store.SessionTurns(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, turns)

	// The next utterance starts the second logical turn.
	_, err = orch.HandleUtterance(ctx, "s1", "send it to ali@example.com again")
	require.NoError(t, err)
	turns, err = store.SessionTurns(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, turns)
}

func TestEndSessionDropsPermits(t *testing.T) {
	fast := testkit.Replies(mailPlan, mailPlan)
	quality := testkit.Replies("Sent.")
	mail := testkit.NewFakeTool("mail_send", policy.RiskMed)
	mail.Confirm = true
	orch := newOrchestrator(t, config.Defaults(), fast, quality, mail)
	ctx := context.Background()

	_, err := orch.HandleUtterance(ctx, "s1", "send the email to ali@example.com")
	require.NoError(t, err)
	_, err = orch.HandleUtterance(ctx, "s1", "yes")
	require.NoError(t, err)
	require.Len(t, mail.Invocations(), 1)

	require.NoError(t, orch.EndSession(ctx, "s1"))

	// A new session with the same id starts without the old permit.
	res, err := orch.HandleUtterance(ctx, "s1", "send the email to ali@example.com")
	require.NoError(t, err)
	assert.True(t, res.AwaitingUser)
	assert.Len(t, mail.Invocations(), 1)
}
