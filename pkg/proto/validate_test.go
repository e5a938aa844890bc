package proto

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCatalog() Catalog {
	return Catalog{
		"mail_send": {
			Name: "mail_send",
			Params: []ParamSpec{
				{Name: "to", Type: "string", Required: true},
				{Name: "subject", Type: "string", Required: false},
				{Name: "max_results", Type: "integer", Required: false},
			},
		},
		"calendar_list": {
			Name: "calendar_list",
			Params: []ParamSpec{
				{Name: "days", Type: "integer", Required: true},
			},
		},
	}
}

func TestValidatePerTypeRequirements(t *testing.T) {
	catalog := testCatalog()

	tests := []struct {
		name    string
		action  Action
		wantErr ValidationKind
	}{
		{"valid say", Action{Type: ActionSay, Text: "hello"}, ""},
		{"empty say", Action{Type: ActionSay}, ValSchemaError},
		{"valid ask", Action{Type: ActionAskUser, Question: "who?"}, ""},
		{"empty ask", Action{Type: ActionAskUser}, ValSchemaError},
		{"valid fail", Action{Type: ActionFail, Error: "cannot comply"}, ""},
		{"empty fail", Action{Type: ActionFail}, ValSchemaError},
		{"unknown type", Action{Type: "SHOUT", Text: "hi"}, ValSchemaError},
		{"empty tool name", Action{Type: ActionCallTool}, ValSchemaError},
		{"unknown tool", Action{Type: ActionCallTool, Tool: "rocket_launch"}, ValUnknownTool},
		{
			"valid tool call",
			Action{Type: ActionCallTool, Tool: "mail_send", Params: map[string]any{"to": "ali@example.com"}},
			"",
		},
		{
			"missing required param",
			Action{Type: ActionCallTool, Tool: "mail_send", Params: map[string]any{"subject": "hi"}},
			ValInvalidParams,
		},
		{
			"wrong param type",
			Action{Type: ActionCallTool, Tool: "mail_send", Params: map[string]any{"to": 42}},
			ValInvalidParams,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.action, catalog)
			if tt.wantErr == "" {
				assert.Nil(t, err)
			} else {
				require.NotNil(t, err)
				assert.Equal(t, tt.wantErr, err.Kind)
			}
		})
	}
}

func TestBooleanNeverSatisfiesNumericTypes(t *testing.T) {
	catalog := testCatalog()

	action := Action{
		Type:   ActionCallTool,
		Tool:   "calendar_list",
		Params: map[string]any{"days": true},
	}
	err := Validate(action, catalog)
	require.NotNil(t, err)
	assert.Equal(t, ValInvalidParams, err.Kind)
}

func TestIntegerTypeChecking(t *testing.T) {
	assert.True(t, typeMatches(float64(7), "integer"))
	assert.False(t, typeMatches(float64(7.5), "integer"))
	assert.True(t, typeMatches(float64(7.5), "number"))
	assert.True(t, typeMatches(json.Number("12"), "integer"))
	assert.False(t, typeMatches(json.Number("12.5"), "integer"))
	assert.True(t, typeMatches(json.Number("12.5"), "number"))
	assert.False(t, typeMatches(true, "integer"))
	assert.False(t, typeMatches(true, "number"))
}

func TestExtractedParamsValidate(t *testing.T) {
	// Numbers arriving via the extractor are json.Number; validation must
	// accept them for integer params.
	action, perr := ExtractAction(`{"type":"CALL_TOOL","tool":"calendar_list","params":{"days":7}}`)
	require.Nil(t, perr)
	assert.Nil(t, Validate(action, testCatalog()))
}
