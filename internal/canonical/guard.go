package canonical

import (
	"strings"
	"unicode"
)

// mutatingKeywords are statement words that must never appear in a
// WHERE-suffix fragment, regardless of context.
var mutatingKeywords = map[string]struct{}{
	"CREATE":   {},
	"ALTER":    {},
	"DROP":     {},
	"TRUNCATE": {},
	"INSERT":   {},
	"UPDATE":   {},
	"DELETE":   {},
	"COPY":     {},
	"CALL":     {},
	"DO":       {},
	"MERGE":    {},
	"GRANT":    {},
	"REVOKE":   {},
	"EXECUTE":  {},
}

var commentMarkers = []string{"--", "/*", "*/"}

// CheckFragment applies the safety rules to the raw fragment text.
//
// The checks run in a fixed order (terminator, comment, keyword) so the
// reported rule is deterministic when a fragment violates several.
func CheckFragment(fragment string) error {
	if strings.Contains(fragment, ";") {
		return &UnsafeFragmentError{Rule: RuleStatementTerminator, Token: ";"}
	}
	for _, marker := range commentMarkers {
		if strings.Contains(fragment, marker) {
			return &UnsafeFragmentError{Rule: RuleComment, Token: marker}
		}
	}
	for _, word := range words(fragment) {
		upper := strings.ToUpper(word)
		if _, denied := mutatingKeywords[upper]; denied {
			return &UnsafeFragmentError{Rule: RuleMutatingKeyword, Token: upper}
		}
	}
	return nil
}

// words splits s into maximal runs of letters, digits and underscores.
func words(s string) []string {
	var out []string
	start := -1
	for i, r := range s {
		if isWordRune(r) {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			out = append(out, s[start:i])
			start = -1
		}
	}
	if start >= 0 {
		out = append(out, s[start:])
	}
	return out
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
