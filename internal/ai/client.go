package ai

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/thinkscotty/glimpse/internal/config"
	"github.com/thinkscotty/glimpse/internal/metrics"
	"github.com/thinkscotty/glimpse/internal/retry"
)

// ErrEmptyReply is returned when a provider answered without any text.
var ErrEmptyReply = errors.New("empty reply from chat provider")

// Client is the entry point used by the distillers. It paces requests,
// bounds each one with a timeout and reports provider metrics.
type Client struct {
	provider    Provider
	model       string
	limiter     *rate.Limiter
	timeout     time.Duration
	temperature float64
	maxTokens   int
}

// NewClient wraps p with the pacing and request settings from cfg.
// A zero RequestsPerMinute leaves requests unpaced.
func NewClient(p Provider, cfg config.ChatConfig) *Client {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1)
	}
	return &Client{
		provider:    p,
		model:       cfg.Model,
		limiter:     limiter,
		timeout:     cfg.Timeout(),
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}
}

func (c *Client) Name() string { return c.provider.Name() }

// Signature identifies the settings that change what Complete returns for a
// given prompt.
func (c *Client) Signature() string {
	return fmt.Sprintf("%s model=%s temperature=%g max_tokens=%d",
		c.provider.Name(), c.model, c.temperature, c.maxTokens)
}

// Complete sends prompt as a single user message and returns the cleaned reply.
// Provider errors that repeating cannot fix are marked retry.Permanent.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("wait for rate limiter: %w", err)
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	name := c.provider.Name()
	start := time.Now()
	resp, err := c.provider.Chat(ctx, ChatRequest{
		Messages:    []Message{{Role: "user", Content: prompt}},
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	})
	if err != nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) {
			metrics.ChatRequestDuration.WithLabelValues(name, strconv.Itoa(statusErr.StatusCode)).Observe(time.Since(start).Seconds())
			if statusErr.Permanent() {
				return "", retry.Permanent(err)
			}
			return "", err
		}
		metrics.ChatRequestDuration.WithLabelValues(name, "error").Observe(time.Since(start).Seconds())
		return "", err
	}
	metrics.ChatRequestDuration.WithLabelValues(name, "ok").Observe(time.Since(start).Seconds())
	metrics.ChatTokens.WithLabelValues(name).Add(float64(resp.TokensUsed))

	reply := CleanReply(resp.Content)
	if reply == "" {
		return "", fmt.Errorf("%w (%s)", ErrEmptyReply, name)
	}
	return reply, nil
}
