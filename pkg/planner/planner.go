package planner

import (
	"context"
	"fmt"

	"aide/pkg/llm"
	"aide/pkg/logx"
	"aide/pkg/metrics"
	"aide/pkg/proto"
)

// PlanSchemaHint is appended to planning prompts so weaker models keep the
// output shape in view.
const PlanSchemaHint = `{"route":"calendar|mail|contacts|system|browser|smalltalk|unknown","sub_intent":"...","slots":{},"confidence":0.0,"tool_plan":[{"tool":"...","args":{}}],"draft_reply":"...","ask_user":false,"question":"...","requires_confirmation":false,"confirmation_prompt":"..."}`

// ErrKindRepairExhausted marks a plan that stayed malformed through every
// repair attempt.
const ErrKindRepairExhausted = "repair_exhausted"

// Failure is a deterministic planning failure. Callers surface a fixed
// apology, never this error's text.
type Failure struct {
	Kind   string
	Detail string
}

func (f *Failure) Error() string {
	return fmt.Sprintf("planning failed (%s): %s", f.Kind, f.Detail)
}

// Planner drives the model toward valid structured output with a bounded
// repair loop: each parse or validation failure produces one corrective
// re-ask carrying the offending text and a short error summary.
type Planner struct {
	maxAttempts int // repair attempts after the initial call
	corrections Corrections
	logger      *logx.Logger
	recorder    *metrics.Recorder
}

// New creates a planner. maxAttempts <= 0 falls back to 2; recorder may be
// nil.
func New(maxAttempts int, corrections Corrections, logger *logx.Logger, recorder *metrics.Recorder) *Planner {
	if maxAttempts <= 0 {
		maxAttempts = 2
	}
	if logger == nil {
		logger = logx.NewLogger("planner")
	}
	return &Planner{
		maxAttempts: maxAttempts,
		corrections: corrections,
		logger:      logger,
		recorder:    recorder,
	}
}

// Plan produces a corrected planning output from the model. Inference
// errors propagate unchanged; malformed output goes through the repair
// loop and ends in a repair_exhausted Failure, never a raw parse error.
func (p *Planner) Plan(ctx context.Context, client llm.Client, req llm.Request, catalog proto.Catalog) (Output, error) {
	var lastDetail string

	for attempt := 0; attempt <= p.maxAttempts; attempt++ {
		resp, err := client.Complete(ctx, req)
		if err != nil {
			return Output{}, fmt.Errorf("planning inference failed: %w", err)
		}

		obj, raw, perr := proto.ExtractObject(resp.Content)
		if perr != nil {
			lastDetail = perr.Error()
			req = p.repairRequest(req, raw, resp.Content, lastDetail, PlanSchemaHint)
			p.countAttempt("planner", attempt)
			continue
		}

		out, derr := DecodeOutput(obj)
		if derr != nil {
			lastDetail = derr.Error()
			req = p.repairRequest(req, raw, resp.Content, lastDetail, PlanSchemaHint)
			p.countAttempt("planner", attempt)
			continue
		}

		p.corrections.Apply(&out, catalog, p.logger)
		if attempt > 0 && p.recorder != nil {
			p.recorder.RecordRepairAttempt("planner", "repaired")
		}
		return out, nil
	}

	p.logger.Warn("planning repair exhausted after %d attempts: %s", p.maxAttempts, lastDetail)
	if p.recorder != nil {
		p.recorder.RecordRepairAttempt("planner", ErrKindRepairExhausted)
	}
	return Output{}, &Failure{Kind: ErrKindRepairExhausted, Detail: lastDetail}
}

// RepairAction runs the same loop for the wire action protocol: extract a
// single action object and validate it against the tool catalog.
func (p *Planner) RepairAction(ctx context.Context, client llm.Client, req llm.Request, catalog proto.Catalog) (proto.Action, error) {
	var lastDetail string

	for attempt := 0; attempt <= p.maxAttempts; attempt++ {
		resp, err := client.Complete(ctx, req)
		if err != nil {
			return proto.Action{}, fmt.Errorf("action inference failed: %w", err)
		}

		action, perr := proto.ExtractAction(resp.Content)
		if perr != nil {
			lastDetail = perr.Error()
			req = p.repairRequest(req, perr.Raw, resp.Content, lastDetail, "")
			p.countAttempt("action", attempt)
			continue
		}

		if verr := proto.Validate(action, catalog); verr != nil {
			lastDetail = verr.Error()
			req = p.repairRequest(req, "", resp.Content, lastDetail, "")
			p.countAttempt("action", attempt)
			continue
		}

		if attempt > 0 && p.recorder != nil {
			p.recorder.RecordRepairAttempt("action", "repaired")
		}
		return action, nil
	}

	p.logger.Warn("action repair exhausted after %d attempts: %s", p.maxAttempts, lastDetail)
	if p.recorder != nil {
		p.recorder.RecordRepairAttempt("action", ErrKindRepairExhausted)
	}
	return proto.Action{}, &Failure{Kind: ErrKindRepairExhausted, Detail: lastDetail}
}

// repairRequest extends the conversation with the offending output and a
// corrective instruction asking for a single JSON object only.
func (p *Planner) repairRequest(req llm.Request, raw, full, errSummary, schemaHint string) llm.Request {
	offending := raw
	if offending == "" {
		offending = full
	}

	instruction := fmt.Sprintf(
		"Your previous reply was not usable: %s.\nReply again with a single corrected JSON object and nothing else.",
		errSummary)
	if schemaHint != "" {
		instruction += "\nShape:\n" + schemaHint
	}

	messages := make([]llm.Message, len(req.Messages), len(req.Messages)+2)
	copy(messages, req.Messages)
	messages = append(messages,
		llm.Message{Role: llm.RoleAssistant, Content: offending},
		llm.NewUserMessage(instruction),
	)
	req.Messages = messages
	return req
}

func (p *Planner) countAttempt(stage string, attempt int) {
	p.logger.Debug("%s output invalid on attempt %d, repairing", stage, attempt+1)
	if p.recorder != nil {
		p.recorder.RecordRepairAttempt(stage, "retry")
	}
}
