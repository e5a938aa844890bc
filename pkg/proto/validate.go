package proto

import (
	"encoding/json"
	"fmt"
)

// ParamSpec describes one parameter a tool accepts.
// Type is a JSON-schema primitive name: string, integer, number, boolean,
// array, object.
type ParamSpec struct {
	Name     string
	Type     string
	Required bool
}

// CatalogEntry is the protocol-level view of a registered tool.
type CatalogEntry struct {
	Name   string
	Params []ParamSpec
}

// Catalog maps tool names to their parameter specs. The tool registry
// produces this view; the protocol layer never sees tool implementations.
type Catalog map[string]CatalogEntry

// Validate checks an extracted action against per-type requirements and,
// for CALL_TOOL, against the tool catalog.
func Validate(action Action, catalog Catalog) *ValidationError {
	switch action.Type {
	case ActionSay:
		if action.Text == "" {
			return &ValidationError{Kind: ValSchemaError, Detail: "SAY requires non-empty text"}
		}
	case ActionAskUser:
		if action.Question == "" {
			return &ValidationError{Kind: ValSchemaError, Detail: "ASK_USER requires non-empty question"}
		}
	case ActionFail:
		if action.Error == "" {
			return &ValidationError{Kind: ValSchemaError, Detail: "FAIL requires non-empty error"}
		}
	case ActionCallTool:
		return validateToolCall(action, catalog)
	default:
		return &ValidationError{Kind: ValSchemaError, Detail: fmt.Sprintf("unknown action type %q", action.Type)}
	}
	return nil
}

func validateToolCall(action Action, catalog Catalog) *ValidationError {
	if action.Tool == "" {
		return &ValidationError{Kind: ValSchemaError, Detail: "CALL_TOOL requires non-empty tool name"}
	}
	entry, ok := catalog[action.Tool]
	if !ok {
		return &ValidationError{Kind: ValUnknownTool, Detail: fmt.Sprintf("tool %q is not in the catalog", action.Tool)}
	}

	for _, spec := range entry.Params {
		value, present := action.Params[spec.Name]
		if !present {
			if spec.Required {
				return &ValidationError{
					Kind:   ValInvalidParams,
					Detail: fmt.Sprintf("tool %q missing required parameter %q", action.Tool, spec.Name),
				}
			}
			continue
		}
		if !typeMatches(value, spec.Type) {
			return &ValidationError{
				Kind:   ValInvalidParams,
				Detail: fmt.Sprintf("tool %q parameter %q must be %s", action.Tool, spec.Name, spec.Type),
			}
		}
	}
	return nil
}

// typeMatches checks a decoded JSON value against a schema primitive.
// Booleans never satisfy integer/number checks even though some decoders
// coerce them.
func typeMatches(value any, schemaType string) bool {
	switch schemaType {
	case "string":
		_, ok := value.(string)
		return ok
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "integer":
		return isNumeric(value, true)
	case "number":
		return isNumeric(value, false)
	case "array":
		_, ok := value.([]any)
		return ok
	case "object":
		_, ok := value.(map[string]any)
		return ok
	default:
		// Unknown schema types accept anything; the tool validates further.
		return true
	}
}

func isNumeric(value any, wantInteger bool) bool {
	switch v := value.(type) {
	case bool:
		return false
	case json.Number:
		if !wantInteger {
			_, err := v.Float64()
			return err == nil
		}
		_, err := v.Int64()
		return err == nil
	case float64:
		if !wantInteger {
			return true
		}
		return v == float64(int64(v))
	case int, int32, int64:
		return true
	default:
		return false
	}
}
