// Package proto defines the wire action protocol between the planning tier
// and the orchestrator loop.
//
// The planning tier must emit exactly one JSON object with a "type" field of
// SAY, ASK_USER, FAIL, or CALL_TOOL plus the per-type required fields. No
// other top-level shape is accepted. Extraction tolerates surrounding prose
// and markdown fences; validation is strict.
package proto

import (
	"encoding/json"
	"fmt"
)

// ActionType discriminates the action union.
type ActionType string

const (
	ActionSay      ActionType = "SAY"
	ActionAskUser  ActionType = "ASK_USER"
	ActionFail     ActionType = "FAIL"
	ActionCallTool ActionType = "CALL_TOOL"
)

// Action is the validated, immutable result of the action protocol.
// Exactly the fields for its Type are meaningful.
type Action struct {
	Type     ActionType     `json:"type"`
	Text     string         `json:"text,omitempty"`     // SAY
	Question string         `json:"question,omitempty"` // ASK_USER
	Error    string         `json:"error,omitempty"`    // FAIL
	Tool     string         `json:"tool,omitempty"`     // CALL_TOOL
	Params   map[string]any `json:"params,omitempty"`   // CALL_TOOL
}

// ErrorKind classifies extraction failures so callers can branch on whether
// a repair attempt is worthwhile.
type ErrorKind string

const (
	ErrEmptyOutput    ErrorKind = "empty_output"
	ErrNoJSONObject   ErrorKind = "no_json_object"
	ErrJSONDecode     ErrorKind = "json_decode_error"
	ErrJSONNotObject  ErrorKind = "json_not_object"
	ErrUnbalancedJSON ErrorKind = "unbalanced_json"
)

// ParseError carries the failure kind and the offending raw text for repair
// prompts.
type ParseError struct {
	Kind ErrorKind
	Raw  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("action parse failed: %s", e.Kind)
}

// ValidationError reports why a structurally parsed action is not acceptable.
type ValidationError struct {
	Kind   ValidationKind
	Detail string
}

// ValidationKind classifies validation failures.
type ValidationKind string

const (
	ValSchemaError   ValidationKind = "schema_error"
	ValUnknownTool   ValidationKind = "unknown_tool"
	ValInvalidParams ValidationKind = "invalid_params"
)

func (e *ValidationError) Error() string {
	return fmt.Sprintf("action validation failed (%s): %s", e.Kind, e.Detail)
}

// DecodeAction converts a raw JSON object into an Action without validating
// per-type requirements. Unknown fields are ignored.
func DecodeAction(obj map[string]any) (Action, error) {
	data, err := json.Marshal(obj)
	if err != nil {
		return Action{}, fmt.Errorf("failed to re-encode action object: %w", err)
	}
	var action Action
	if err := json.Unmarshal(data, &action); err != nil {
		return Action{}, fmt.Errorf("failed to decode action: %w", err)
	}
	return action, nil
}

// MarshalWire renders the action in its wire format.
func (a Action) MarshalWire() ([]byte, error) {
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal action: %w", err)
	}
	return data, nil
}
