// Package testkit provides scripted doubles for tests: an llm.Client that
// replays canned responses and a configurable fake tool.
package testkit

import (
	"context"
	"sync"

	"aide/pkg/llm"
	"aide/pkg/policy"
	"aide/pkg/tools"
)

// ScriptedClient replays responses and errors in order and records every
// request it receives. Past the end of the script it returns the last
// response.
type ScriptedClient struct {
	Model  string
	CtxLen int

	mu        sync.Mutex
	responses []llm.Response
	errs      []error
	requests  []llm.Request
	calls     int
}

// NewScriptedClient creates a client that replays the given script. A nil
// error slot means the corresponding response is returned.
func NewScriptedClient(responses []llm.Response, errs []error) *ScriptedClient {
	return &ScriptedClient{
		Model:     "scripted-model",
		CtxLen:    8192,
		responses: responses,
		errs:      errs,
	}
}

// Replies builds a client from plain content strings.
func Replies(contents ...string) *ScriptedClient {
	responses := make([]llm.Response, len(contents))
	for i, content := range contents {
		responses[i] = llm.Response{Content: content}
	}
	return NewScriptedClient(responses, nil)
}

// Complete implements llm.Client.
func (s *ScriptedClient) Complete(_ context.Context, req llm.Request) (llm.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = append(s.requests, req)
	i := s.calls
	s.calls++

	if i < len(s.errs) && s.errs[i] != nil {
		return llm.Response{}, s.errs[i]
	}
	if i < len(s.responses) {
		return s.responses[i], nil
	}
	if len(s.responses) > 0 {
		return s.responses[len(s.responses)-1], nil
	}
	return llm.Response{Content: "ok"}, nil
}

// Stream implements llm.Client as a single-chunk stream.
func (s *ScriptedClient) Stream(ctx context.Context, req llm.Request) (<-chan llm.StreamChunk, error) {
	resp, err := s.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	ch := make(chan llm.StreamChunk, 1)
	ch <- llm.StreamChunk{Content: resp.Content, Done: true}
	close(ch)
	return ch, nil
}

// ModelName implements llm.Client.
func (s *ScriptedClient) ModelName() string { return s.Model }

// ContextLength implements llm.Client.
func (s *ScriptedClient) ContextLength() int { return s.CtxLen }

// Calls returns how many completions were requested.
func (s *ScriptedClient) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Requests returns a copy of every recorded request.
func (s *ScriptedClient) Requests() []llm.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]llm.Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// FakeTool is a configurable tools.Tool double that records its calls.
type FakeTool struct {
	ToolName    string
	Risk        policy.RiskTier
	Confirm     bool
	Prompt      string
	Result      map[string]any
	Err         error
	Schema      tools.InputSchema
	mu          sync.Mutex
	invocations []map[string]any
}

// NewFakeTool creates a succeeding fake tool with an open schema.
func NewFakeTool(name string, risk policy.RiskTier) *FakeTool {
	return &FakeTool{
		ToolName: name,
		Risk:     risk,
		Result:   map[string]any{"ok": true},
	}
}

// Name implements tools.Tool.
func (f *FakeTool) Name() string { return f.ToolName }

// Definition implements tools.Tool.
func (f *FakeTool) Definition() tools.Definition {
	return tools.Definition{
		Name:        f.ToolName,
		Description: "test double",
		InputSchema: f.Schema,
	}
}

// RiskTier implements tools.Tool.
func (f *FakeTool) RiskTier() policy.RiskTier { return f.Risk }

// RequiresConfirmation implements tools.Tool.
func (f *FakeTool) RequiresConfirmation() bool { return f.Confirm }

// ConfirmationPrompt implements tools.Tool.
func (f *FakeTool) ConfirmationPrompt(map[string]any) string { return f.Prompt }

// Exec implements tools.Tool.
func (f *FakeTool) Exec(_ context.Context, args map[string]any) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invocations = append(f.invocations, args)
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Result, nil
}

// Invocations returns the recorded call arguments in order.
func (f *FakeTool) Invocations() []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]map[string]any, len(f.invocations))
	copy(out, f.invocations)
	return out
}
