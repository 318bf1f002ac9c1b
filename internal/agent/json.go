package agent

import (
	"strings"

	"github.com/rotisserie/eris"
)

// ExtractJSON pulls a JSON document out of model output. It prefers a fenced
// ```json block, then any fenced block, then the first balanced object or
// array in the text.
func ExtractJSON(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", eris.New("agent: empty response")
	}

	for _, fence := range []string{"```json", "```"} {
		if idx := strings.Index(text, fence); idx >= 0 {
			rest := text[idx+len(fence):]
			if end := strings.Index(rest, "```"); end >= 0 {
				candidate := strings.TrimSpace(rest[:end])
				if candidate != "" {
					return candidate, nil
				}
			}
		}
	}

	if doc := firstBalanced(text); doc != "" {
		return doc, nil
	}
	return "", eris.New("agent: no JSON found in response")
}

// firstBalanced returns the first balanced {...} or [...] in s, tracking
// string literals and escapes so braces inside strings do not count.
func firstBalanced(s string) string {
	start := -1
	var open, close byte
	for i := 0; i < len(s); i++ {
		if s[i] == '{' || s[i] == '[' {
			start = i
			open = s[i]
			if open == '{' {
				close = '}'
			} else {
				close = ']'
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
		if escaped {
			escaped = false
			continue
		}
		switch {
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == open:
			depth++
		case c == close:
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
