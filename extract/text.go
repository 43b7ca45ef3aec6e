package extract

import "strings"

// extractText handles plain-text payloads. The first short line doubles as
// the title when no better one is known.
func extractText(payload []byte, fallbackTitle string) *Content {
	c := &Content{Title: fallbackTitle}

	text := strings.TrimSpace(string(payload))
	lines := strings.Split(text, "\n")

	if c.Title == "" && len(lines) > 0 {
		first := collapseSpace(lines[0])
		if first != "" && len(first) <= 120 {
			c.Title = first
		}
	}
	if c.Title == "" {
		c.addWarning("no title found")
	}

	var sb strings.Builder
	for _, line := range lines {
		line = strings.TrimRight(line, " \t")
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
	c.Body = strings.TrimSpace(sb.String())
	c.WordCount = countWords(c.Body)
	if c.Body == "" {
		c.addWarning("no body text extracted")
	}
	return c
}
