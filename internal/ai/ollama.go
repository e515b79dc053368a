package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
)

const defaultOllamaURL = "http://localhost:11434"

// OllamaProvider implements Provider on the native Ollama chat API.
type OllamaProvider struct {
	client  *api.Client
	model   string
	baseURL string
}

// NewOllamaProvider creates an Ollama provider. An empty baseURL targets the
// local daemon.
func NewOllamaProvider(baseURL, model string, httpClient *http.Client) (*OllamaProvider, error) {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultOllamaURL
	}
	// The native API lives at the root, not under the OpenAI-compatible /v1.
	baseURL = strings.TrimSuffix(strings.TrimRight(baseURL, "/"), "/v1")

	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse ollama url %q: %w", baseURL, err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Minute}
	}
	if model == "" {
		model = "mistral-nemo"
	}

	return &OllamaProvider{
		client:  api.NewClient(parsed, httpClient),
		model:   model,
		baseURL: baseURL,
	}, nil
}

func (o *OllamaProvider) Name() string { return "ollama" }

func (o *OllamaProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	msgs := make([]api.Message, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = api.Message{Role: m.Role, Content: m.Content}
	}

	stream := false
	options := map[string]interface{}{
		"temperature": req.Temperature,
	}
	if req.MaxTokens > 0 {
		options["num_predict"] = req.MaxTokens
	}

	start := time.Now()
	var final api.ChatResponse
	err := o.client.Chat(ctx, &api.ChatRequest{
		Model:    o.model,
		Messages: msgs,
		Stream:   &stream,
		Options:  options,
	}, func(r api.ChatResponse) error {
		final = r
		return nil
	})
	if err != nil {
		var statusErr api.StatusError
		if errors.As(err, &statusErr) {
			msg := statusErr.ErrorMessage
			if msg == "" {
				msg = statusErr.Status
			}
			slog.Error("Ollama API error", "status", statusErr.StatusCode, "model", o.model, "error", msg)
			return nil, &StatusError{Provider: o.Name(), StatusCode: statusErr.StatusCode, Message: msg}
		}
		return nil, fmt.Errorf("ollama request to %s failed: %w", o.baseURL, err)
	}

	slog.Debug("Ollama request completed", "model", o.model, "elapsed", time.Since(start),
		"prompt_tokens", final.PromptEvalCount, "eval_tokens", final.EvalCount)

	return &ChatResponse{
		Content:    final.Message.Content,
		TokensUsed: final.PromptEvalCount + final.EvalCount,
		Model:      o.model,
		Provider:   o.Name(),
	}, nil
}
