// Package planner turns raw model text into validated planning output. It
// owns the bounded repair loop for malformed model output, the declarative
// field-repair table for loosely-typed planner fields, and the
// deterministic post-route corrections applied before execution.
package planner

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Step is one entry of the ordered tool plan.
type Step struct {
	Name string         `json:"tool"`
	Args map[string]any `json:"args,omitempty"`
}

// Output is the structured result of planning one turn. It may be
// corrected post-hoc by deterministic repair rules before execution.
type Output struct {
	Route                string         `json:"route"`
	SubIntent            string         `json:"sub_intent,omitempty"`
	Slots                map[string]any `json:"slots,omitempty"`
	Confidence           float64        `json:"confidence"`
	ToolPlan             []Step         `json:"tool_plan,omitempty"`
	DraftReply           string         `json:"draft_reply,omitempty"`
	AskUser              bool           `json:"ask_user"`
	Question             string         `json:"question,omitempty"`
	RequiresConfirmation bool           `json:"requires_confirmation"`
	ConfirmationPrompt   string         `json:"confirmation_prompt,omitempty"`
}

// fieldRepair coerces one loosely-typed field to its expected shape. The
// table is applied uniformly after parsing so the repair surface stays
// auditable; a coercion that cannot apply leaves the value untouched for
// strict decoding to reject.
type fieldRepair struct {
	field  string
	coerce func(any) (any, bool)
}

var repairTable = []fieldRepair{
	{"tool_plan", coerceToolPlan},
	{"slots", coerceObject},
	{"confidence", coerceFloat},
	{"ask_user", coerceBool},
	{"requires_confirmation", coerceBool},
	{"route", coerceString},
	{"draft_reply", coerceString},
	{"question", coerceString},
}

// DecodeOutput converts an extracted JSON object into an Output, applying
// the field-repair table first.
func DecodeOutput(obj map[string]any) (Output, error) {
	repaired := make(map[string]any, len(obj))
	for key, value := range obj {
		repaired[key] = value
	}
	for _, repair := range repairTable {
		if value, ok := repaired[repair.field]; ok {
			if fixed, applied := repair.coerce(value); applied {
				repaired[repair.field] = fixed
			}
		}
	}

	data, err := json.Marshal(repaired)
	if err != nil {
		return Output{}, fmt.Errorf("planning output not encodable: %w", err)
	}
	var out Output
	if err := json.Unmarshal(data, &out); err != nil {
		return Output{}, fmt.Errorf("planning output shape invalid: %w", err)
	}

	if out.Route == "" {
		out.Route = "unknown"
	}
	if out.Confidence < 0 {
		out.Confidence = 0
	}
	if out.Confidence > 1 {
		out.Confidence = 1
	}
	return out, nil
}

// coerceToolPlan accepts a single tool-name string, a single step object,
// or a list of either, and normalizes to []Step.
func coerceToolPlan(value any) (any, bool) {
	switch v := value.(type) {
	case string:
		if v == "" {
			return []any{}, true
		}
		return []any{map[string]any{"tool": v}}, true
	case map[string]any:
		return []any{v}, true
	case []any:
		steps := make([]any, 0, len(v))
		for _, item := range v {
			if name, ok := item.(string); ok {
				steps = append(steps, map[string]any{"tool": name})
				continue
			}
			steps = append(steps, item)
		}
		return steps, true
	default:
		return value, false
	}
}

func coerceObject(value any) (any, bool) {
	if _, ok := value.(map[string]any); ok {
		return value, true
	}
	// A null or wrong-typed slots field becomes an empty object rather
	// than failing the whole turn.
	return map[string]any{}, true
}

func coerceFloat(value any) (any, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	default:
		return value, false
	}
}

func coerceBool(value any) (any, bool) {
	switch v := value.(type) {
	case bool:
		return v, true
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "yes", "evet":
			return true, true
		case "false", "no", "hayır", "":
			return false, true
		}
	}
	return value, false
}

func coerceString(value any) (any, bool) {
	switch v := value.(type) {
	case string:
		return v, true
	case float64, json.Number, bool:
		return fmt.Sprintf("%v", v), true
	default:
		return value, false
	}
}
