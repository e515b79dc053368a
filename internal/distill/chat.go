package distill

import (
	"context"
	"fmt"
	"strings"

	"github.com/thinkscotty/glimpse/internal/ai"
	"github.com/thinkscotty/glimpse/internal/models"
)

// Completer sends one prompt to a chat model. *ai.Client implements it.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
	Name() string
}

// Chat distils text with a hosted or local chat model.
type Chat struct {
	client          Completer
	summaryMaxWords int
	// precondense, when set, replaces the text with its frequency summary
	// before prompting for key points.
	precondense *Frequency
}

func NewChat(client Completer, summaryMaxWords int, precondense *Frequency) *Chat {
	return &Chat{client: client, summaryMaxWords: summaryMaxWords, precondense: precondense}
}

func (c *Chat) Name() string { return StrategyChat }

func (c *Chat) Signature() string {
	client := c.client.Name()
	if sg, ok := c.client.(Signer); ok {
		client = sg.Signature()
	}
	pre := "off"
	if c.precondense != nil {
		pre = c.precondense.Signature()
	}
	return fmt.Sprintf("%s client=(%s) summary_max_words=%d precondense=(%s)",
		StrategyChat, client, c.summaryMaxWords, pre)
}

func (c *Chat) Produce(ctx context.Context, text string, cat models.Category) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", nil
	}
	if cat == models.CategoryKeyPoints && c.precondense != nil {
		condensed, _ := c.precondense.Produce(ctx, text, models.CategorySummary)
		if condensed != "" {
			text = condensed
		}
	}
	return c.client.Complete(ctx, ai.BuildPrompt(cat, text, c.summaryMaxWords))
}
