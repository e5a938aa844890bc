package proto

import (
	"encoding/json"
	"strings"
)

// ExtractObject locates JSON objects embedded in model output and returns the
// decoded object plus its raw span.
//
// The scanner walks from each top-level '{', tracking brace depth and
// string/escape state; braces inside strings do not affect depth. The first
// span whose depth returns to zero is a candidate. When several candidates
// decode successfully, one containing a "route" key is preferred over ones
// without it (planning output carries a route; stray example objects in
// prose usually do not).
func ExtractObject(text string) (map[string]any, string, *ParseError) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, "", &ParseError{Kind: ErrEmptyOutput, Raw: text}
	}

	spans := scanObjectSpans(trimmed)
	if len(spans) == 0 {
		if strings.Contains(trimmed, "{") {
			return nil, "", &ParseError{Kind: ErrUnbalancedJSON, Raw: text}
		}
		// Valid JSON of the wrong shape (array, string, number) is reported
		// distinctly so repair prompts can name the problem.
		var value any
		if err := json.Unmarshal([]byte(trimmed), &value); err == nil {
			return nil, "", &ParseError{Kind: ErrJSONNotObject, Raw: text}
		}
		return nil, "", &ParseError{Kind: ErrNoJSONObject, Raw: text}
	}

	var (
		firstObj  map[string]any
		firstRaw  string
		decodeErr *ParseError
	)
	for _, span := range spans {
		obj, perr := decodeObject(span)
		if perr != nil {
			if decodeErr == nil {
				decodeErr = &ParseError{Kind: perr.Kind, Raw: text}
			}
			continue
		}
		if _, hasRoute := obj["route"]; hasRoute {
			return obj, span, nil
		}
		if firstObj == nil {
			firstObj = obj
			firstRaw = span
		}
	}

	if firstObj != nil {
		return firstObj, firstRaw, nil
	}
	if decodeErr != nil {
		return nil, "", decodeErr
	}
	return nil, "", &ParseError{Kind: ErrNoJSONObject, Raw: text}
}

// ExtractAction extracts and decodes a wire action from raw model text.
// The result still needs Validate before use.
func ExtractAction(text string) (Action, *ParseError) {
	obj, raw, perr := ExtractObject(text)
	if perr != nil {
		return Action{}, perr
	}
	action, err := DecodeAction(obj)
	if err != nil {
		return Action{}, &ParseError{Kind: ErrJSONDecode, Raw: raw}
	}
	return action, nil
}

// scanObjectSpans returns every balanced top-level {...} span in order.
func scanObjectSpans(text string) []string {
	var spans []string

	depth := 0
	start := -1
	inString := false
	escaped := false

	for i := 0; i < len(text); i++ {
		c := text[i]

		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			// Only strings inside an object span matter for depth tracking,
			// but entering string state outside a span is harmless.
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue // Stray closer in prose
			}
			depth--
			if depth == 0 && start >= 0 {
				spans = append(spans, text[start:i+1])
				start = -1
			}
		}
	}

	return spans
}

// decodeObject parses a candidate span with a strict decoder.
func decodeObject(span string) (map[string]any, *ParseError) {
	dec := json.NewDecoder(strings.NewReader(span))
	dec.UseNumber()

	var value any
	if err := dec.Decode(&value); err != nil {
		return nil, &ParseError{Kind: ErrJSONDecode, Raw: span}
	}

	obj, ok := value.(map[string]any)
	if !ok {
		return nil, &ParseError{Kind: ErrJSONNotObject, Raw: span}
	}
	return obj, nil
}
