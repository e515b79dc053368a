// Package distill turns a document's text into a summary, a three-word
// description or a list of key points.
package distill

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/thinkscotty/glimpse/internal/config"
	"github.com/thinkscotty/glimpse/internal/metrics"
	"github.com/thinkscotty/glimpse/internal/models"
)

const (
	StrategyFrequency = "frequency"
	StrategySeq2Seq   = "seq2seq"
	StrategyChat      = "chat"
)

// ErrNoChatClient is returned when the chat strategy is built without a client.
var ErrNoChatClient = errors.New("chat strategy requires a chat client")

// Strategy produces one derived text for a document.
type Strategy interface {
	Produce(ctx context.Context, text string, cat models.Category) (string, error)
	Name() string
}

// Signer is implemented by strategies whose output depends on settings beyond
// their name. Results recorded under one signature are not reused under
// another.
type Signer interface {
	Signature() string
}

// SignatureOf returns s's signature, or its name when s is not a Signer.
func SignatureOf(s Strategy) string {
	if sg, ok := s.(Signer); ok {
		return sg.Signature()
	}
	return s.Name()
}

// New builds the strategy named by cfg.Distill.Strategy, wrapped so that its
// input is truncated and its output shaped per category. chat may be nil
// unless the chat strategy is selected.
func New(cfg config.Config, chat Completer) (Strategy, error) {
	freq := NewFrequency(cfg.Frequency.TopN, cfg.Distill.KeyPointsMax)

	var inner Strategy
	switch cfg.Distill.Strategy {
	case StrategyFrequency, "":
		inner = freq
	case StrategySeq2Seq:
		inner = NewSeq2Seq(cfg.Seq2Seq)
	case StrategyChat:
		if chat == nil {
			return nil, ErrNoChatClient
		}
		var pre *Frequency
		if cfg.Chat.Precondense {
			pre = freq
		}
		inner = NewChat(chat, cfg.Distill.SummaryMaxWords, pre)
	default:
		return nil, fmt.Errorf("unknown distill strategy %q", cfg.Distill.Strategy)
	}

	return &Shaped{
		inner:     inner,
		truncator: NewTruncator(cfg.Distill.Tokenizer, cfg.Distill.MaxInputTokens, cfg.Distill.MaxInputChars),
		shaper: Shaper{
			SummaryMaxWords: cfg.Distill.SummaryMaxWords,
			KeyPointsMax:    cfg.Distill.KeyPointsMax,
			Dedupe:          NewSimilarity(cfg.Distill.KeyPointsSimilarity, 3),
		},
	}, nil
}

// Shaped wraps a strategy with input truncation, output shaping and metrics.
type Shaped struct {
	inner     Strategy
	truncator *Truncator
	shaper    Shaper
}

// Wrap returns s with the given truncation and shaping applied.
func Wrap(s Strategy, t *Truncator, shaper Shaper) *Shaped {
	return &Shaped{inner: s, truncator: t, shaper: shaper}
}

func (s *Shaped) Name() string { return s.inner.Name() }

func (s *Shaped) Signature() string {
	return fmt.Sprintf("%s | %s | %s", SignatureOf(s.inner), s.truncator.Signature(), s.shaper.Signature())
}

func (s *Shaped) Produce(ctx context.Context, text string, cat models.Category) (string, error) {
	start := time.Now()
	out, err := s.inner.Produce(ctx, s.truncator.Truncate(text), cat)
	metrics.DistillDuration.WithLabelValues(s.inner.Name()).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.DistillRequests.WithLabelValues(s.inner.Name(), string(cat), "error").Inc()
		return "", err
	}
	metrics.DistillRequests.WithLabelValues(s.inner.Name(), string(cat), "ok").Inc()
	return s.shaper.Shape(cat, out), nil
}
