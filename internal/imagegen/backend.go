// Package imagegen drives a text-to-image model server for one library
// document at a time and saves the result next to the document.
package imagegen

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/thinkscotty/glimpse/internal/config"
)

// ErrGenerationFailed wraps every failure reported by the model server.
var ErrGenerationFailed = errors.New("image generation failed")

// Request describes one diffusion run.
type Request struct {
	Prompt         string
	NegativePrompt string
	Steps          int
	GuidanceScale  float64
	Width          int
	Height         int
	Seed           int64
	Sampler        string
	Model          string
}

// Progress is reported once per observed sampling step.
type Progress struct {
	Step    int
	Total   int
	Preview image.Image // nil when the server has no preview yet
}

// Fraction returns progress in [0, 1].
func (p Progress) Fraction() float64 {
	if p.Total <= 0 {
		return 0
	}
	f := float64(p.Step) / float64(p.Total)
	if f > 1 {
		return 1
	}
	return f
}

type ProgressFunc func(Progress)

// Backend runs the diffusion model.
type Backend interface {
	Generate(ctx context.Context, req Request, progress ProgressFunc) (image.Image, error)
}

type txt2imgRequest struct {
	Prompt         string  `json:"prompt"`
	NegativePrompt string  `json:"negative_prompt,omitempty"`
	Steps          int     `json:"steps"`
	CfgScale       float64 `json:"cfg_scale"`
	Width          int     `json:"width"`
	Height         int     `json:"height"`
	Seed           int64   `json:"seed"`
	SamplerName    string  `json:"sampler_name,omitempty"`
}

type txt2imgResponse struct {
	Images []string `json:"images"`
}

type progressResponse struct {
	Progress     float64 `json:"progress"`
	CurrentImage *string `json:"current_image"`
	State        struct {
		SamplingStep  int `json:"sampling_step"`
		SamplingSteps int `json:"sampling_steps"`
	} `json:"state"`
}

// WebUIBackend talks to a server exposing the AUTOMATIC1111 web UI API.
type WebUIBackend struct {
	baseURL    string
	poll       time.Duration
	httpClient *http.Client
}

func NewWebUIBackend(cfg config.DiffusionConfig) *WebUIBackend {
	poll := cfg.PollInterval()
	if poll <= 0 {
		poll = 250 * time.Millisecond
	}
	return &WebUIBackend{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		poll:       poll,
		httpClient: &http.Client{Timeout: cfg.Timeout()},
	}
}

// Generate submits the job and polls the server's progress endpoint while it
// runs, reporting each new sampling step with its intermediate image.
func (b *WebUIBackend) Generate(ctx context.Context, req Request, progress ProgressFunc) (image.Image, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		img image.Image
		err error
	}
	done := make(chan result, 1)
	go func() {
		img, err := b.txt2img(ctx, req)
		done <- result{img, err}
	}()

	ticker := time.NewTicker(b.poll)
	defer ticker.Stop()

	lastStep := 0
	for {
		select {
		case res := <-done:
			if err := ctx.Err(); err != nil {
				b.interrupt()
				return nil, err
			}
			if res.err == nil && progress != nil && lastStep < req.Steps {
				progress(Progress{Step: req.Steps, Total: req.Steps, Preview: res.img})
			}
			return res.img, res.err
		case <-ctx.Done():
			b.interrupt()
			return nil, ctx.Err()
		case <-ticker.C:
			st, err := b.progress(ctx)
			if err != nil {
				slog.Debug("Progress poll failed", "error", err)
				continue
			}
			step := st.State.SamplingStep
			if step <= lastStep || step > req.Steps {
				continue
			}
			lastStep = step
			if progress == nil {
				continue
			}
			var preview image.Image
			if st.CurrentImage != nil && *st.CurrentImage != "" {
				preview, err = decodeBase64Image(*st.CurrentImage)
				if err != nil {
					slog.Debug("Undecodable preview", "step", step, "error", err)
				}
			}
			progress(Progress{Step: step, Total: req.Steps, Preview: preview})
		}
	}
}

func (b *WebUIBackend) txt2img(ctx context.Context, req Request) (image.Image, error) {
	body, err := json.Marshal(txt2imgRequest{
		Prompt:         req.Prompt,
		NegativePrompt: req.NegativePrompt,
		Steps:          req.Steps,
		CfgScale:       req.GuidanceScale,
		Width:          req.Width,
		Height:         req.Height,
		Seed:           req.Seed,
		SamplerName:    req.Sampler,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/sdapi/v1/txt2img", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	slog.Debug("Submitting diffusion job", "url", b.baseURL, "model", req.Model, "steps", req.Steps)
	resp, err := b.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrGenerationFailed, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: server returned status %d: %s", ErrGenerationFailed, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var out txt2imgResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("%w: parse response: %v", ErrGenerationFailed, err)
	}
	if len(out.Images) == 0 {
		return nil, fmt.Errorf("%w: server returned no images", ErrGenerationFailed)
	}
	img, err := decodeBase64Image(out.Images[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	return img, nil
}

func (b *WebUIBackend) progress(ctx context.Context) (*progressResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/sdapi/v1/progress?skip_current_image=false", nil)
	if err != nil {
		return nil, err
	}
	resp, err := b.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("progress returned status %d", resp.StatusCode)
	}
	var st progressResponse
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return nil, fmt.Errorf("parse progress: %w", err)
	}
	return &st, nil
}

// interrupt asks the server to abandon the running job.
func (b *WebUIBackend) interrupt() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/sdapi/v1/interrupt", nil)
	if err != nil {
		return
	}
	resp, err := b.httpClient.Do(httpReq)
	if err != nil {
		slog.Debug("Interrupt failed", "error", err)
		return
	}
	resp.Body.Close()
}

func decodeBase64Image(s string) (image.Image, error) {
	// Some servers prefix a data URL header.
	if i := strings.Index(s, ","); i >= 0 && strings.HasPrefix(s, "data:") {
		s = s[i+1:]
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode base64 image: %w", err)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}
