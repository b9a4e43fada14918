package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	. "github.com/roelfdiedericks/readmore/internal/logging"
	"github.com/roelfdiedericks/readmore/internal/tokens"
)

// GeminiOpenAIBaseURL is Gemini's OpenAI-compatible endpoint.
const GeminiOpenAIBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai/"

// OpenAIBackend talks to any OpenAI-compatible chat completions API.
type OpenAIBackend struct {
	client    *openai.Client
	baseURL   string
	maxTokens int
}

// NewOpenAIBackend creates a backend from config. The base URL defaults to Gemini.
func NewOpenAIBackend(cfg BackendConfig) (*OpenAIBackend, error) {
	if cfg.APIKey == "" {
		return nil, ConfigError(missingKeyMessage)
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = GeminiOpenAIBaseURL
	}

	config := openai.DefaultConfig(cfg.APIKey)
	config.BaseURL = strings.TrimSuffix(baseURL, "/")
	config.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 2048
	}

	L_debug("llm: openai backend created", "baseURL", baseURL, "maxTokens", maxTokens, "timeout", cfg.Timeout)

	return &OpenAIBackend{
		client:    openai.NewClientWithConfig(config),
		baseURL:   baseURL,
		maxTokens: maxTokens,
	}, nil
}

func (b *OpenAIBackend) Name() string { return "openai" }

// Generate sends a single user message and returns the first choice's content.
func (b *OpenAIBackend) Generate(ctx context.Context, req Request) (string, error) {
	start := time.Now()
	L_debug("llm: request started", "backend", b.Name(), "model", req.Model,
		"promptTokens", tokens.Estimate(req.Prompt), "schema", req.Schema != nil)

	creq := openai.ChatCompletionRequest{
		Model:     req.Model,
		MaxTokens: b.maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
	}
	if req.Schema != nil {
		name := req.SchemaName
		if name == "" {
			name = "response"
		}
		creq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   name,
				Schema: req.Schema,
				Strict: true,
			},
		}
	}

	resp, err := b.client.CreateChatCompletion(ctx, creq)
	if err != nil {
		L_debug("llm: request failed", "backend", b.Name(), "model", req.Model, "error", err)
		return "", fmt.Errorf("openai: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", NewError(KindMalformedResponse, "", fmt.Errorf("openai: response has no choices"))
	}

	text := resp.Choices[0].Message.Content
	L_debug("llm: request completed", "backend", b.Name(), "model", req.Model,
		"outputTokens", resp.Usage.CompletionTokens, "duration", time.Since(start).Round(time.Millisecond))
	return text, nil
}
