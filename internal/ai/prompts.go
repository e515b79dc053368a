package ai

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/thinkscotty/glimpse/internal/models"
)

// A list marker must be followed by whitespace, so "3.5 million" keeps its
// number.
var numberingPattern = regexp.MustCompile(`^\s*(?:\d+[.)](?:\s+|$)|[-*•]\s+)`)

// BuildPrompt constructs the single-turn prompt for one category.
func BuildPrompt(cat models.Category, text string, maxWords int) string {
	switch cat {
	case models.CategoryDescription:
		return fmt.Sprintf(
			"Describe the following text in exactly three words suitable as a visual caption. "+
				"Reply with the three words only: %s", text)
	case models.CategoryKeyPoints:
		return fmt.Sprintf("Create a bulleted list of key points based on the summarized content: %s", text)
	default:
		if maxWords > 0 {
			return fmt.Sprintf("Summarize the following text in at most %d words: %s", maxWords, text)
		}
		return fmt.Sprintf("Summarize the following text: %s", text)
	}
}

// ParseList extracts list items from a reply, dropping numbering and bullets.
func ParseList(text string) []string {
	var items []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if cleaned := stripNumbering(line); cleaned != "" {
			items = append(items, cleaned)
		}
	}
	return items
}

func stripNumbering(s string) string {
	return strings.TrimSpace(numberingPattern.ReplaceAllString(s, ""))
}

// CleanReply strips markdown code fences and wrapping quotes from a reply.
func CleanReply(reply string) string {
	reply = strings.TrimSpace(reply)
	if strings.HasPrefix(reply, "```") {
		reply = strings.TrimPrefix(reply, "```")
		// Drop a language tag on the opening fence.
		if nl := strings.Index(reply, "\n"); nl >= 0 && !strings.ContainsAny(reply[:nl], " \t") {
			reply = reply[nl+1:]
		}
	}
	reply = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(reply), "```"))

	for _, q := range []string{`"`, "'", "“"} {
		closing := q
		if q == "“" {
			closing = "”"
		}
		if len(reply) >= len(q)+len(closing) && strings.HasPrefix(reply, q) && strings.HasSuffix(reply, closing) {
			reply = strings.TrimSpace(reply[len(q) : len(reply)-len(closing)])
			break
		}
	}
	return reply
}
