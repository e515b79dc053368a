package distill

import (
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// Truncator bounds the input handed to a strategy. With a tokenizer it counts
// tokens, otherwise runes.
type Truncator struct {
	enc       *tiktoken.Tiktoken
	encoding  string
	maxTokens int
	maxChars  int
}

// NewTruncator loads the named tiktoken encoding. An empty name, or one that
// cannot be loaded, falls back to rune counting.
func NewTruncator(encoding string, maxTokens, maxChars int) *Truncator {
	t := &Truncator{maxTokens: maxTokens, maxChars: maxChars}
	if encoding == "" || maxTokens <= 0 {
		return t
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		slog.Warn("Tokenizer unavailable, truncating by characters", "encoding", encoding, "error", err)
		return t
	}
	t.enc = enc
	t.encoding = encoding
	return t
}

// Signature describes the bound Truncate applies.
func (t *Truncator) Signature() string {
	switch {
	case t == nil:
		return "untruncated"
	case t.enc != nil:
		return fmt.Sprintf("tokens=%s/%d", t.encoding, t.maxTokens)
	default:
		return fmt.Sprintf("chars=%d", t.maxChars)
	}
}

// Truncate returns text cut to the configured maximum.
func (t *Truncator) Truncate(text string) string {
	if t == nil {
		return text
	}
	if t.enc != nil {
		tokens := t.enc.Encode(text, nil, nil)
		if len(tokens) <= t.maxTokens {
			return text
		}
		return strings.TrimSpace(t.enc.Decode(tokens[:t.maxTokens]))
	}
	return truncateRunes(text, t.maxChars)
}

func truncateRunes(text string, max int) string {
	if max <= 0 || utf8.RuneCountInString(text) <= max {
		return text
	}
	n := 0
	for i := range text {
		if n == max {
			return strings.TrimSpace(text[:i])
		}
		n++
	}
	return text
}
