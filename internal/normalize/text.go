package normalize

import "strings"

var textFields = []string{"note", "memo", "content", "text", "data", "value"}

// Text extracts note text from a load-note response: a bare string, a list
// of strings (first non-empty wins) or an envelope object.
func Text(v any) string {
	return textAt(v, 0)
}

func textAt(v any, depth int) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case []any:
		for _, item := range val {
			if s := textAt(item, depth); s != "" {
				return s
			}
		}
	case []string:
		for _, item := range val {
			if s := strings.TrimSpace(item); s != "" {
				return s
			}
		}
	case map[string]any:
		if depth >= maxEnvelopeDepth {
			return ""
		}
		for _, field := range textFields {
			if s := textAt(val[field], depth+1); s != "" {
				return s
			}
		}
	}
	return ""
}
