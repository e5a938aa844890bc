// Package tools defines the capability contract the orchestrator consumes,
// an explicit registry of tool instances, and the execution adapter that
// enforces timeouts and result size caps.
package tools

import (
	"context"

	"aide/pkg/policy"
	"aide/pkg/proto"
)

// Property describes one field of a tool's input schema.
type Property struct {
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	Enum        []string `json:"enum,omitempty"`
}

// InputSchema describes a tool's accepted parameters.
type InputSchema struct {
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required,omitempty"`
}

// Definition is a tool's callable surface, used for catalogs and prompts.
type Definition struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema InputSchema `json:"input_schema"`
}

// Tool is the capability contract. The orchestrator never assumes anything
// about a tool beyond this interface.
type Tool interface {
	// Name returns the tool's identifier.
	Name() string
	// Definition returns the tool's schema for validation and prompting.
	Definition() Definition
	// RiskTier declares the tool's baseline risk classification.
	RiskTier() policy.RiskTier
	// RequiresConfirmation reports whether every call needs explicit
	// user approval regardless of risk tier.
	RequiresConfirmation() bool
	// ConfirmationPrompt renders a human-readable approval question for
	// the given call. An empty return falls back to a generic prompt.
	ConfirmationPrompt(params map[string]any) string
	// Exec executes the tool with the given arguments.
	Exec(ctx context.Context, args map[string]any) (map[string]any, error)
}

// CatalogEntry converts a definition to the protocol-level parameter view.
func CatalogEntry(def Definition) proto.CatalogEntry {
	required := make(map[string]bool, len(def.InputSchema.Required))
	for _, name := range def.InputSchema.Required {
		required[name] = true
	}

	entry := proto.CatalogEntry{Name: def.Name}
	for name, prop := range def.InputSchema.Properties {
		entry.Params = append(entry.Params, proto.ParamSpec{
			Name:     name,
			Type:     prop.Type,
			Required: required[name],
		})
	}
	return entry
}
