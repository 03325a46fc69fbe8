// Package genai wraps the OpenAI chat completions API for LeadPipe.
//
// The client asks for schema-constrained JSON output; the intent classifier
// built on top of it routes inbound messages to conversation flows.
package genai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Default generation settings.
const (
	DefaultModel       = string(openai.ChatModelGPT4oMini)
	DefaultTemperature = 0.0
	DefaultMaxTokens   = 256
)

// ErrNoChoicesReturned is returned when the API answers without any choices.
var ErrNoChoicesReturned = errors.New("no choices returned")

// chatService defines minimal interface for chat completions.
type chatService interface {
	Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error)
}

// completions adapts the SDK service to chatService.
type completions struct {
	svc *openai.ChatCompletionService
}

func (c completions) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	resp, err := c.svc.New(ctx, params)
	if err != nil {
		return openai.ChatCompletion{}, err
	}
	return *resp, nil
}

// Client wraps the OpenAI ChatCompletion service.
type Client struct {
	chat        chatService
	model       string
	temperature float64
	maxTokens   int64
	debugMode   bool
	stateDir    string
}

// Opts holds configuration for the GenAI client.
type Opts struct {
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int64
	DebugMode   bool
	StateDir    string
}

// Option configures the GenAI client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel overrides DefaultModel.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// WithTemperature overrides DefaultTemperature.
func WithTemperature(t float64) Option {
	return func(o *Opts) { o.Temperature = t }
}

// WithMaxTokens caps completion tokens.
func WithMaxTokens(n int64) Option {
	return func(o *Opts) { o.MaxTokens = n }
}

// WithDebugMode writes every request and response under <stateDir>/debug.
func WithDebugMode(enabled bool, stateDir string) Option {
	return func(o *Opts) {
		o.DebugMode = enabled
		o.StateDir = stateDir
	}
}

// NewClient initializes a new GenAI client. The API key falls back to OPENAI_API_KEY.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{Model: DefaultModel, Temperature: DefaultTemperature, MaxTokens: DefaultMaxTokens}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}

	cli := openai.NewClient(option.WithAPIKey(cfg.APIKey))
	slog.Debug("GenAI.NewClient: client created", "model", cfg.Model, "temperature", cfg.Temperature, "debug", cfg.DebugMode)
	return &Client{
		chat:        completions{svc: &cli.Chat.Completions},
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		debugMode:   cfg.DebugMode,
		stateDir:    cfg.StateDir,
	}, nil
}

// Schema describes a strict JSON response format.
type Schema struct {
	Name        string
	Description string
	Definition  map[string]any
}

// GenerateStructured sends a system and user prompt and returns the raw JSON
// content constrained by schema.
func (c *Client) GenerateStructured(ctx context.Context, systemPrompt, userPrompt string, schema Schema) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userPrompt),
		},
		Temperature: openai.Float(c.temperature),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:        schema.Name,
					Description: openai.String(schema.Description),
					Schema:      schema.Definition,
					Strict:      openai.Bool(true),
				},
			},
		},
	}
	if c.maxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(c.maxTokens)
	}

	start := time.Now()
	resp, err := c.chat.Create(ctx, params)
	if err != nil {
		slog.Error("GenAI.GenerateStructured: API call failed", "schema", schema.Name, "error", err, "elapsed", time.Since(start))
		c.writeDebugLog("GenerateStructured", params, nil, err)
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	c.writeDebugLog("GenerateStructured", params, &resp, nil)
	if len(resp.Choices) == 0 {
		slog.Warn("GenAI.GenerateStructured: no choices returned", "schema", schema.Name)
		return "", ErrNoChoicesReturned
	}
	content := resp.Choices[0].Message.Content
	slog.Debug("GenAI.GenerateStructured: completed", "schema", schema.Name, "elapsed", time.Since(start), "length", len(content))
	return content, nil
}

// writeDebugLog persists a request/response pair when debug mode is on.
func (c *Client) writeDebugLog(method string, params openai.ChatCompletionNewParams, resp *openai.ChatCompletion, callErr error) {
	if !c.debugMode || c.stateDir == "" {
		return
	}
	dir := filepath.Join(c.stateDir, "debug")
	if err := os.MkdirAll(dir, 0755); err != nil {
		slog.Warn("GenAI.writeDebugLog: failed to create debug directory", "dir", dir, "error", err)
		return
	}

	entry := map[string]any{
		"timestamp": time.Now().Format(time.RFC3339Nano),
		"method":    method,
		"model":     c.model,
		"params":    params,
		"response":  resp,
	}
	if callErr != nil {
		entry["error"] = callErr.Error()
	}
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		slog.Warn("GenAI.writeDebugLog: failed to marshal debug entry", "error", err)
		return
	}
	name := fmt.Sprintf("%s_%d.json", method, time.Now().UnixNano())
	if err := os.WriteFile(filepath.Join(dir, name), data, 0644); err != nil {
		slog.Warn("GenAI.writeDebugLog: failed to write debug file", "error", err)
	}
}
