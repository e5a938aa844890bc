package finalize

import (
	"regexp"
	"strings"
)

// factPattern matches the token classes the guard cares about: ISO dates,
// clock times, then bare numbers. Alternation order matters so a date is
// consumed whole instead of as three numbers.
var factPattern = regexp.MustCompile(`\d{4}-\d{2}-\d{2}|\d{1,2}:\d{2}|\d+(?:[.,]\d+)?`)

// extractFacts returns every numeric/date/time token in text.
func extractFacts(text string) []string {
	return factPattern.FindAllString(text, -1)
}

// allowedFacts builds the set of tokens a candidate reply may use, taken
// from the tool results and dialog context.
func allowedFacts(sources ...string) map[string]struct{} {
	allowed := make(map[string]struct{})
	for _, source := range sources {
		for _, token := range extractFacts(source) {
			allowed[token] = struct{}{}
		}
	}
	return allowed
}

// factViolations returns the tokens the candidate introduces that are not
// in the allowed set. Single-digit tokens are ignored: they are almost
// always list markers ("1.", "2)") rather than asserted facts.
func factViolations(candidate string, allowed map[string]struct{}) []string {
	var violations []string
	seen := make(map[string]struct{})
	for _, token := range extractFacts(candidate) {
		if len(token) == 1 {
			continue
		}
		if _, ok := allowed[token]; ok {
			continue
		}
		if _, dup := seen[token]; dup {
			continue
		}
		seen[token] = struct{}{}
		violations = append(violations, token)
	}
	return violations
}

// strictFactInstruction is the corrective system nudge for the single
// guard retry.
func strictFactInstruction(violations []string) string {
	return "Your draft mentioned facts not present in the tool results: " +
		strings.Join(violations, ", ") +
		". Rewrite the reply using only numbers, dates, and times that appear in the supplied tool results and context. Do not invent any."
}
