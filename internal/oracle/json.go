package oracle

import (
	"encoding/json"
	"strings"
)

// cleanModelJSON strips Markdown fences and surrounding prose from a model
// reply, keeping the outermost JSON object or array.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	// Handle ```json ... ``` or ``` ... ``` wrappers.
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			return s
		}
		s = strings.TrimSpace(s)
	}
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	s = strings.TrimSpace(s)

	start := strings.IndexAny(s, "{[")
	if start == -1 {
		return s
	}
	closer := "}"
	if s[start] == '[' {
		closer = "]"
	}
	if end := strings.LastIndex(s, closer); end > start {
		s = strings.TrimSpace(s[start : end+1])
	}
	return s
}

// parseTextAnswer returns the JSON in a free-text reply, or false when there is none.
func parseTextAnswer(text string) (json.RawMessage, bool) {
	clean := cleanModelJSON(text)
	if clean == "" || !json.Valid([]byte(clean)) {
		return nil, false
	}
	if clean[0] != '{' && clean[0] != '[' {
		return nil, false
	}
	return json.RawMessage(clean), true
}
