// Package analysis implements the three LLM reasoning phases of an
// investigation (hypotheses, root cause, severity), their deterministic
// fallbacks, and the remediation advice mapping. The LLM is only ever handed
// closed prompts; everything returned is extracted and validated here.
package analysis

import (
	"regexp"
	"strings"
)

var fencedBlock = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

// ExtractJSON pulls a JSON document out of model output. Two passes: a
// fenced code block first, then a brace-balanced scan from the first '{' or
// '[' to its matching close. Returns "" when no candidate is found.
func ExtractJSON(s string) string {
	if m := fencedBlock.FindStringSubmatch(s); m != nil {
		candidate := strings.TrimSpace(m[1])
		if candidate != "" && (candidate[0] == '{' || candidate[0] == '[') {
			return candidate
		}
	}
	return balancedScan(s)
}

// balancedScan finds the first '{' or '[' and returns the substring through
// its matching close, respecting strings and escapes.
func balancedScan(s string) string {
	start := -1
	var open, closer byte
	for i := 0; i < len(s); i++ {
		if s[i] == '{' || s[i] == '[' {
			start = i
			open = s[i]
			if open == '{' {
				closer = '}'
			} else {
				closer = ']'
			}
			break
		}
	}
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == open:
			depth++
		case c == closer:
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
