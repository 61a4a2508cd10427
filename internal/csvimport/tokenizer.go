package csvimport

import "strings"

// SplitLine splits one CSV line on commas. A double quote toggles quoted
// mode, a doubled quote inside quoted text yields one literal quote, and
// commas inside quotes are kept. Every token is trimmed.
func SplitLine(line string) []string {
	var (
		tokens   []string
		current  strings.Builder
		inQuotes bool
	)

	runes := []rune(line)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '"' && inQuotes && i+1 < len(runes) && runes[i+1] == '"':
			current.WriteRune('"')
			i++
		case r == '"':
			inQuotes = !inQuotes
		case r == ',' && !inQuotes:
			tokens = append(tokens, strings.TrimSpace(current.String()))
			current.Reset()
		default:
			current.WriteRune(r)
		}
	}
	tokens = append(tokens, strings.TrimSpace(current.String()))

	return tokens
}

// splitLines splits text on LF or CRLF and drops blank lines.
func splitLines(text string) []string {
	raw := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	lines := make([]string, 0, len(raw))
	for _, line := range raw {
		line = strings.TrimSuffix(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}
