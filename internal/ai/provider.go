package ai

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/thinkscotty/glimpse/internal/config"
)

// Provider is the interface that all chat backends must implement.
type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	Name() string // "openai", "ollama" or "anthropic"
}

// ChatRequest is a provider-agnostic request.
type ChatRequest struct {
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

// ChatResponse is a provider-agnostic response.
type ChatResponse struct {
	Content    string
	TokensUsed int
	Model      string // e.g. "llama3-8b-8192"
	Provider   string
}

// Message represents a single message in a chat conversation.
type Message struct {
	Role    string // "system", "user", "assistant"
	Content string
}

// StatusError is returned when a provider answered with an HTTP error status.
type StatusError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned status %d: %s", e.Provider, e.StatusCode, e.Message)
}

// Permanent reports whether repeating the request cannot help.
func (e *StatusError) Permanent() bool {
	switch e.StatusCode {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden,
		http.StatusNotFound, http.StatusUnprocessableEntity:
		return true
	}
	return false
}

// NewProvider builds the backend named by cfg.Provider.
func NewProvider(cfg config.ChatConfig, apiKey string) (Provider, error) {
	httpClient := &http.Client{Timeout: cfg.Timeout() + 30*time.Second}

	switch cfg.Provider {
	case "openai", "":
		return NewOpenAIProvider(apiKey, cfg.BaseURL, cfg.Model, httpClient), nil
	case "ollama":
		return NewOllamaProvider(cfg.BaseURL, cfg.Model, httpClient)
	case "anthropic":
		return NewAnthropicProvider(apiKey, cfg.BaseURL, cfg.Model, httpClient), nil
	default:
		return nil, fmt.Errorf("unknown chat provider %q", cfg.Provider)
	}
}
