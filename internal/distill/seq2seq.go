package distill

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/thinkscotty/glimpse/internal/config"
	"github.com/thinkscotty/glimpse/internal/models"
	"github.com/thinkscotty/glimpse/internal/retry"
)

type seq2seqRequest struct {
	Inputs     string            `json:"inputs"`
	Parameters seq2seqParameters `json:"parameters"`
}

type seq2seqParameters struct {
	NumBeams      int  `json:"num_beams,omitempty"`
	MinLength     int  `json:"min_length"`
	MaxLength     int  `json:"max_length"`
	EarlyStopping bool `json:"early_stopping"`
}

type seq2seqOutput struct {
	SummaryText   string `json:"summary_text"`
	GeneratedText string `json:"generated_text"`
}

// Seq2Seq calls a local summarisation model server that speaks the Hugging
// Face inference payload.
type Seq2Seq struct {
	cfg        config.Seq2SeqConfig
	httpClient *http.Client
}

func NewSeq2Seq(cfg config.Seq2SeqConfig) *Seq2Seq {
	return &Seq2Seq{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout()},
	}
}

func (s *Seq2Seq) Name() string { return StrategySeq2Seq }

func (s *Seq2Seq) Signature() string {
	return fmt.Sprintf("%s url=%s prefix=%q beams=%d length=%d-%d early_stopping=%t",
		StrategySeq2Seq, s.cfg.URL, s.cfg.Prefix, s.cfg.NumBeams, s.cfg.MinLength, s.cfg.MaxLength, s.cfg.EarlyStopping)
}

func (s *Seq2Seq) Produce(ctx context.Context, text string, cat models.Category) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", nil
	}

	minLen, maxLen := s.cfg.MinLength, s.cfg.MaxLength
	if cat == models.CategoryDescription {
		minLen, maxLen = 2, 12
	}

	out, err := s.generate(ctx, text, minLen, maxLen)
	if err != nil {
		return "", err
	}
	if cat == models.CategoryKeyPoints {
		sentences := Sentences(out)
		for i := range sentences {
			sentences[i] = "- " + sentences[i]
		}
		return strings.Join(sentences, "\n"), nil
	}
	return out, nil
}

func (s *Seq2Seq) generate(ctx context.Context, text string, minLen, maxLen int) (string, error) {
	body := seq2seqRequest{
		Inputs: s.cfg.Prefix + text,
		Parameters: seq2seqParameters{
			NumBeams:      s.cfg.NumBeams,
			MinLength:     minLen,
			MaxLength:     maxLen,
			EarlyStopping: s.cfg.EarlyStopping,
		},
	}
	jsonData, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(jsonData))
	if err != nil {
		return "", retry.Permanent(fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("seq2seq request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		slog.Error("Seq2seq server error", "status", resp.StatusCode, "url", s.cfg.URL, "body", truncateRunes(string(respBody), 200))
		err := fmt.Errorf("seq2seq server returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return "", retry.Permanent(err)
		}
		return "", err
	}

	var outputs []seq2seqOutput
	if err := json.Unmarshal(respBody, &outputs); err != nil {
		return "", fmt.Errorf("parse seq2seq response: %w", err)
	}
	if len(outputs) == 0 {
		return "", fmt.Errorf("seq2seq server returned no outputs")
	}

	out := outputs[0].SummaryText
	if out == "" {
		out = outputs[0].GeneratedText
	}
	slog.Debug("Seq2seq request completed", "elapsed", time.Since(start), "chars", len(out))
	return strings.TrimSpace(out), nil
}
