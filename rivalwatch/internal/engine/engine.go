// Package engine implements the comparison engine as LLM clients: Google
// Gemini (generateContent) and any OpenAI-compatible chat completions API
// (OpenAI, vLLM, llama-server, Ollama).
//
// A Client is both a classify.Engine and, through Handler, a
// connectivity.Handler serving the "compare_snapshots" service.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/hazyhaar/rivalwatch/connectivity"
	"github.com/hazyhaar/rivalwatch/rivalwatch/internal/classify"
)

// Providers.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// Config configures a Client.
type Config struct {
	Provider    string        // gemini | openai. Default: gemini.
	BaseURL     string        // Default depends on provider.
	APIKey      string        // optional for local OpenAI-compatible servers
	Model       string        // Default depends on provider.
	Temperature *float64      // nil: 0.2. Zero is sent as zero.
	Timeout     time.Duration // Default: 60s.
	Logger      *slog.Logger
}

func (c *Config) defaults() {
	if c.Provider == "" {
		c.Provider = ProviderGemini
	}
	switch c.Provider {
	case ProviderGemini:
		if c.BaseURL == "" {
			c.BaseURL = "https://generativelanguage.googleapis.com"
		}
		if c.Model == "" {
			c.Model = "gemini-1.5-flash"
		}
	case ProviderOpenAI:
		if c.BaseURL == "" {
			c.BaseURL = "https://api.openai.com/v1"
		}
		if c.Model == "" {
			c.Model = "gpt-4o-mini"
		}
	}
	if c.Temperature == nil {
		t := 0.2
		c.Temperature = &t
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// ErrEmptyAnswer is returned when the model answers with no text.
var ErrEmptyAnswer = errors.New("engine: empty answer")

// Client calls an LLM provider.
type Client struct {
	cfg  Config
	http *resty.Client
}

// New creates a Client.
func New(cfg Config) (*Client, error) {
	cfg.defaults()
	if cfg.Provider != ProviderGemini && cfg.Provider != ProviderOpenAI {
		return nil, fmt.Errorf("engine: unknown provider %q", cfg.Provider)
	}
	if cfg.Provider == ProviderGemini && cfg.APIKey == "" {
		return nil, fmt.Errorf("engine: gemini requires an API key")
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json")
	switch {
	case cfg.Provider == ProviderGemini:
		// Header, not ?key=: request URLs end up in errors and logs.
		client.SetHeader("x-goog-api-key", cfg.APIKey)
	case cfg.APIKey != "":
		client.SetAuthToken(cfg.APIKey)
	}
	return &Client{cfg: cfg, http: client}, nil
}

// Compare sends prompt to the model and returns its text answer.
func (c *Client) Compare(ctx context.Context, prompt string) (string, error) {
	start := time.Now()
	var (
		text string
		err  error
	)
	switch c.cfg.Provider {
	case ProviderOpenAI:
		text, err = c.chat(ctx, prompt)
	default:
		text, err = c.generate(ctx, prompt)
	}
	if err != nil {
		return "", err
	}
	c.cfg.Logger.DebugContext(ctx, "engine: answered",
		"provider", c.cfg.Provider, "model", c.cfg.Model,
		"answer_bytes", len(text), "duration_ms", time.Since(start).Milliseconds())
	return text, nil
}

// Handler exposes the client as the compare service: classify.CompareRequest
// in, classify.CompareResponse out.
func (c *Client) Handler() connectivity.Handler {
	return func(ctx context.Context, payload []byte) ([]byte, error) {
		var req classify.CompareRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, fmt.Errorf("engine: decode: %w", err)
		}
		text, err := c.Compare(ctx, req.Prompt)
		if err != nil {
			return nil, err
		}
		return json.Marshal(classify.CompareResponse{Text: text})
	}
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents         []geminiContent `json:"contents"`
	GenerationConfig struct {
		Temperature      float64 `json:"temperature"`
		ResponseMimeType string  `json:"responseMimeType,omitempty"`
	} `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) generate(ctx context.Context, prompt string) (string, error) {
	var body geminiRequest
	body.Contents = []geminiContent{{Role: "user", Parts: []geminiPart{{Text: prompt}}}}
	body.GenerationConfig.Temperature = *c.cfg.Temperature
	body.GenerationConfig.ResponseMimeType = "application/json"

	var out geminiResponse
	var apiErr apiError
	res, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		ForceContentType("application/json").
		SetResult(&out).
		SetError(&apiErr).
		Post("/v1beta/models/" + c.cfg.Model + ":generateContent")
	if err != nil {
		return "", fmt.Errorf("engine: gemini: %w", err)
	}
	if res.IsError() {
		return "", statusError("gemini", res.StatusCode(), apiErr)
	}
	var sb strings.Builder
	if len(out.Candidates) > 0 {
		for _, p := range out.Candidates[0].Content.Parts {
			sb.WriteString(p.Text)
		}
	}
	if sb.Len() == 0 {
		return "", ErrEmptyAnswer
	}
	return sb.String(), nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (c *Client) chat(ctx context.Context, prompt string) (string, error) {
	var out chatResponse
	var apiErr apiError
	res, err := c.http.R().
		SetContext(ctx).
		SetBody(chatRequest{
			Model:       c.cfg.Model,
			Messages:    []chatMessage{{Role: "user", Content: prompt}},
			Temperature: *c.cfg.Temperature,
		}).
		ForceContentType("application/json").
		SetResult(&out).
		SetError(&apiErr).
		Post("/chat/completions")
	if err != nil {
		return "", fmt.Errorf("engine: openai: %w", err)
	}
	if res.IsError() {
		return "", statusError("openai", res.StatusCode(), apiErr)
	}
	if len(out.Choices) == 0 || out.Choices[0].Message.Content == "" {
		return "", ErrEmptyAnswer
	}
	return out.Choices[0].Message.Content, nil
}

func statusError(provider string, status int, e apiError) error {
	if e.Error.Message != "" {
		return fmt.Errorf("engine: %s: status %d: %s", provider, status, e.Error.Message)
	}
	return fmt.Errorf("engine: %s: status %d", provider, status)
}
