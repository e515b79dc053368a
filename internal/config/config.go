package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/thinkscotty/glimpse/internal/models"
)

var (
	ErrMissingDirectory  = errors.New("library directory does not exist")
	ErrMissingCredential = errors.New("API credential not configured")
)

// Pipelines accepted by Validate.
const (
	PipelineSummarize = "summarize"
	PipelineGenerate  = "generate"
)

type Config struct {
	Library   LibraryConfig   `yaml:"library"`
	Logging   LoggingConfig   `yaml:"logging"`
	Distill   DistillConfig   `yaml:"distill"`
	Frequency FrequencyConfig `yaml:"frequency"`
	Seq2Seq   Seq2SeqConfig   `yaml:"seq2seq"`
	Chat      ChatConfig      `yaml:"chat"`
	Retry     RetryConfig     `yaml:"retry"`
	Journal   JournalConfig   `yaml:"journal"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Diffusion DiffusionConfig `yaml:"diffusion"`
	Caption   CaptionConfig   `yaml:"caption"`
	Server    ServerConfig    `yaml:"server"`

	// APIKey is only ever read from the environment.
	APIKey string `yaml:"-"`
}

type LibraryConfig struct {
	Dir        string   `yaml:"dir"`
	Extensions []string `yaml:"extensions"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type DistillConfig struct {
	Strategy        string   `yaml:"strategy"` // "frequency", "seq2seq" or "chat"
	Categories      []string `yaml:"categories"`
	MaxInputChars   int      `yaml:"max_input_chars"`
	MaxInputTokens  int      `yaml:"max_input_tokens"`
	Tokenizer       string   `yaml:"tokenizer"` // tiktoken encoding name, empty for rune counting
	SummaryMaxWords int      `yaml:"summary_max_words"`
	KeyPointsMax    int      `yaml:"key_points_max"`

	// KeyPointsSimilarity drops a key point whose trigram Jaccard index
	// against an earlier one reaches this value. Zero disables it.
	KeyPointsSimilarity float64 `yaml:"key_points_similarity"`
}

type FrequencyConfig struct {
	TopN int `yaml:"top_n"`
}

type Seq2SeqConfig struct {
	URL            string `yaml:"url"`
	Prefix         string `yaml:"prefix"`
	NumBeams       int    `yaml:"num_beams"`
	MinLength      int    `yaml:"min_length"`
	MaxLength      int    `yaml:"max_length"`
	EarlyStopping  bool   `yaml:"early_stopping"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type ChatConfig struct {
	Provider          string  `yaml:"provider"` // "openai", "ollama" or "anthropic"
	BaseURL           string  `yaml:"base_url"` // empty selects the provider's default endpoint
	Model             string  `yaml:"model"`
	Temperature       float64 `yaml:"temperature"`
	MaxTokens         int     `yaml:"max_tokens"`
	RequestsPerMinute int     `yaml:"requests_per_minute"`
	TimeoutSeconds    int     `yaml:"timeout_seconds"`
	Precondense       bool    `yaml:"precondense"`
}

type RetryConfig struct {
	MaxAttempts     int `yaml:"max_attempts"`
	BaseDelayMillis int `yaml:"base_delay_millis"`
	MaxDelayMillis  int `yaml:"max_delay_millis"`
}

type JournalConfig struct {
	Path string `yaml:"path"` // empty disables checkpointing
}

type MetricsConfig struct {
	PushgatewayURL string `yaml:"pushgateway_url"`
	Job            string `yaml:"job"`
}

type DiffusionConfig struct {
	URL                string  `yaml:"url"`
	Model              string  `yaml:"model"`
	Steps              int     `yaml:"steps"`
	GuidanceScale      float64 `yaml:"guidance_scale"`
	Width              int     `yaml:"width"`
	Height             int     `yaml:"height"`
	Sampler            string  `yaml:"sampler"`
	NegativePrompt     string  `yaml:"negative_prompt"`
	Seed               int64   `yaml:"seed"`
	PollIntervalMillis int     `yaml:"poll_interval_millis"`
	TimeoutSeconds     int     `yaml:"timeout_seconds"`
}

type CaptionConfig struct {
	Enabled bool `yaml:"enabled"`
	Padding int  `yaml:"padding"`
}

type ServerConfig struct {
	Host                string `yaml:"host"`
	Port                int    `yaml:"port"`
	ReadTimeoutSeconds  int    `yaml:"read_timeout_seconds"`
	WriteTimeoutSeconds int    `yaml:"write_timeout_seconds"`
}

// envOverrides are read from GLIMPSE_* variables and win over the YAML file.
type envOverrides struct {
	APIKey         string `envconfig:"API_KEY"`
	LibraryDir     string `envconfig:"LIBRARY_DIR"`
	ChatBaseURL    string `envconfig:"CHAT_BASE_URL"`
	DiffusionURL   string `envconfig:"DIFFUSION_URL"`
	PushgatewayURL string `envconfig:"PUSHGATEWAY_URL"`
	LogLevel       string `envconfig:"LOG_LEVEL"`
}

func DefaultConfig() Config {
	return Config{
		Library: LibraryConfig{
			Dir:        ".",
			Extensions: []string{".txt"},
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Distill: DistillConfig{
			Strategy:        "frequency",
			Categories:      []string{"summary", "description", "key_points"},
			MaxInputChars:   8000,
			MaxInputTokens:  2048,
			SummaryMaxWords: 120,
			KeyPointsMax:    5,

			KeyPointsSimilarity: 0.8,
		},
		Frequency: FrequencyConfig{
			TopN: 10,
		},
		Seq2Seq: Seq2SeqConfig{
			URL:            "http://localhost:8081/summarize",
			Prefix:         "summarize: ",
			NumBeams:       4,
			MinLength:      30,
			MaxLength:      150,
			EarlyStopping:  true,
			TimeoutSeconds: 300,
		},
		Chat: ChatConfig{
			Provider:       "openai",
			Model:          "llama3-8b-8192",
			Temperature:    0.3,
			MaxTokens:      512,
			TimeoutSeconds: 120,
		},
		Retry: RetryConfig{
			MaxAttempts:     3,
			BaseDelayMillis: 500,
			MaxDelayMillis:  10000,
		},
		Journal: JournalConfig{
			Path: ".glimpse-journal.db",
		},
		Metrics: MetricsConfig{
			Job: "glimpse",
		},
		Diffusion: DiffusionConfig{
			URL:                "http://127.0.0.1:7860",
			Model:              "runwayml/stable-diffusion-v1-5",
			Steps:              25,
			GuidanceScale:      8.5,
			Width:              512,
			Height:             512,
			Sampler:            "Euler a",
			Seed:               -1,
			PollIntervalMillis: 250,
			TimeoutSeconds:     600,
		},
		Caption: CaptionConfig{
			Enabled: false,
			Padding: 10,
		},
		Server: ServerConfig{
			Host:                "127.0.0.1",
			Port:                8532,
			ReadTimeoutSeconds:  30,
			WriteTimeoutSeconds: 30,
		},
	}
}

// Load reads a YAML config file and merges it over defaults, then applies
// GLIMPSE_* environment overrides (a .env file in the working directory is
// loaded first when present). If the YAML file does not exist, defaults are used.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return cfg, err
		}
		slog.Info("No config file found, using defaults", "path", path)
	} else if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}

	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	var env envOverrides
	if err := envconfig.Process("glimpse", &env); err != nil {
		return fmt.Errorf("read environment: %w", err)
	}

	c.APIKey = strings.TrimSpace(env.APIKey)
	if c.APIKey == "" {
		// Name used by the Groq tooling.
		c.APIKey = strings.TrimSpace(os.Getenv("GROQ_API_KEY"))
	}
	if env.LibraryDir != "" {
		c.Library.Dir = env.LibraryDir
	}
	if env.ChatBaseURL != "" {
		c.Chat.BaseURL = env.ChatBaseURL
	}
	if env.DiffusionURL != "" {
		c.Diffusion.URL = env.DiffusionURL
	}
	if env.PushgatewayURL != "" {
		c.Metrics.PushgatewayURL = env.PushgatewayURL
	}
	if env.LogLevel != "" {
		c.Logging.Level = env.LogLevel
	}
	return nil
}

// Validate reports configuration errors that must stop the given pipeline at startup.
func (c Config) Validate(pipeline string) error {
	info, err := os.Stat(c.Library.Dir)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("%w: %s", ErrMissingDirectory, c.Library.Dir)
	}

	switch pipeline {
	case PipelineSummarize:
		return c.validateDistill()
	case PipelineGenerate:
		if strings.TrimSpace(c.Diffusion.URL) == "" {
			return errors.New("diffusion.url is required")
		}
		if c.Diffusion.Steps <= 0 {
			return fmt.Errorf("diffusion.steps must be positive, got %d", c.Diffusion.Steps)
		}
		return nil
	default:
		return fmt.Errorf("unknown pipeline %q", pipeline)
	}
}

func (c Config) validateDistill() error {
	if _, err := c.DistillCategories(); err != nil {
		return err
	}
	if len(c.Library.Extensions) == 0 {
		return errors.New("library.extensions must not be empty")
	}

	switch c.Distill.Strategy {
	case "frequency":
	case "seq2seq":
		if strings.TrimSpace(c.Seq2Seq.URL) == "" {
			return errors.New("seq2seq.url is required for the seq2seq strategy")
		}
	case "chat":
		switch c.Chat.Provider {
		case "ollama":
		case "openai", "anthropic":
			if c.APIKey == "" {
				return fmt.Errorf("%w: set GLIMPSE_API_KEY for the %s provider", ErrMissingCredential, c.Chat.Provider)
			}
		default:
			return fmt.Errorf("unknown chat provider %q", c.Chat.Provider)
		}
	default:
		return fmt.Errorf("unknown distill strategy %q", c.Distill.Strategy)
	}
	return nil
}

// DistillCategories parses distill.categories, dropping duplicates. The
// result follows models.AllCategories order whatever order the file lists.
func (c Config) DistillCategories() ([]models.Category, error) {
	if len(c.Distill.Categories) == 0 {
		return nil, errors.New("distill.categories must not be empty")
	}
	selected := make(map[models.Category]bool)
	for _, raw := range c.Distill.Categories {
		cat, err := models.ParseCategory(raw)
		if err != nil {
			return nil, err
		}
		selected[cat] = true
	}
	var cats []models.Category
	for _, cat := range models.AllCategories {
		if selected[cat] {
			cats = append(cats, cat)
		}
	}
	return cats, nil
}

func (r RetryConfig) BaseDelay() time.Duration {
	return time.Duration(r.BaseDelayMillis) * time.Millisecond
}

func (r RetryConfig) MaxDelay() time.Duration {
	return time.Duration(r.MaxDelayMillis) * time.Millisecond
}

func (d DiffusionConfig) PollInterval() time.Duration {
	return time.Duration(d.PollIntervalMillis) * time.Millisecond
}

func (d DiffusionConfig) Timeout() time.Duration {
	return time.Duration(d.TimeoutSeconds) * time.Second
}

func (c ChatConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func (s Seq2SeqConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}
