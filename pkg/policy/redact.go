package policy

import "strings"

// Redactor masks sensitive parameter values before anything is persisted
// or published. Matching is a case-insensitive substring test on the key.
type Redactor struct {
	fields []string
	mask   string
}

// NewRedactor creates a redactor for the given sensitive-field patterns.
func NewRedactor(sensitiveFields []string, mask string) *Redactor {
	fields := make([]string, len(sensitiveFields))
	for i, f := range sensitiveFields {
		fields[i] = strings.ToLower(f)
	}
	return &Redactor{fields: fields, mask: mask}
}

// Redact returns a deep copy of params with sensitive values replaced by
// the mask string. The input map is never mutated.
func (r *Redactor) Redact(params map[string]any) map[string]any {
	if params == nil {
		return nil
	}
	out := make(map[string]any, len(params))
	for key, value := range params {
		if r.isSensitive(key) {
			out[key] = r.mask
			continue
		}
		if nested, ok := value.(map[string]any); ok {
			out[key] = r.Redact(nested)
			continue
		}
		out[key] = value
	}
	return out
}

func (r *Redactor) isSensitive(key string) bool {
	lower := strings.ToLower(key)
	for _, field := range r.fields {
		if strings.Contains(lower, field) {
			return true
		}
	}
	return false
}
