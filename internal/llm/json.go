package llm

import "strings"

// ExtractJSON returns the first balanced top-level JSON object in s.
// Braces inside string literals are ignored, so markdown fences and chatty
// preambles around the object are tolerated. It returns "" when no complete
// object is present.
func ExtractJSON(s string) string {
	start := -1
	depth := 0
	inString := false
	escaped := false

	for i, ch := range s {
		if escaped {
			escaped = false
			continue
		}
		if ch == '\\' && inString {
			escaped = true
			continue
		}
		if ch == '"' && start != -1 {
			inString = !inString
			continue
		}
		if inString {
			continue
		}

		switch ch {
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 && start != -1 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

// stripFences removes a surrounding markdown code fence, if any.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	for _, p := range []string{"```json", "```JSON", "```"} {
		s = strings.TrimPrefix(s, p)
	}
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
