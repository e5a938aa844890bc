package orchestrator

// Error kinds carried in traces and used to key deterministic user-facing
// replies. Raw error text never reaches the user.
const (
	ErrKindParse               = "parse_error"
	ErrKindSchema              = "schema_error"
	ErrKindUnknownTool         = "unknown_tool"
	ErrKindInvalidParams       = "invalid_params"
	ErrKindPolicyDenied        = "policy_denied"
	ErrKindToolExecution       = "tool_execution_error"
	ErrKindInferenceTimeout    = "inference_timeout"
	ErrKindInferenceOverloaded = "inference_overloaded"
	ErrKindMaxSteps            = "max_steps_exceeded"
	ErrKindHallucination       = "hallucination_detected"
	ErrKindRepairExhausted     = "repair_exhausted"
)

// Confirmation vocabulary in both supported languages.
var affirmativeWords = map[string]bool{
	"yes": true, "y": true, "yeah": true, "yep": true, "sure": true,
	"confirm": true, "ok": true, "okay": true, "do it": true,
	"evet": true, "onayla": true, "olur": true, "tamam": true,
}

var negativeWords = map[string]bool{
	"no": true, "n": true, "nope": true, "cancel": true, "stop": true,
	"don't": true, "dont": true,
	"hayır": true, "hayir": true, "iptal": true, "vazgeç": true, "vazgec": true, "olmaz": true,
}
