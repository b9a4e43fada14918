package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	. "github.com/roelfdiedericks/readmore/internal/logging"
	"github.com/roelfdiedericks/readmore/internal/tokens"
)

// AnthropicBackend generates text with the Anthropic Messages API.
// It has no schema-constrained output, so a schema becomes a prompt instruction.
type AnthropicBackend struct {
	client    anthropic.Client
	maxTokens int
}

// NewAnthropicBackend creates a backend from config.
// Supports a custom BaseURL for Anthropic-compatible APIs.
func NewAnthropicBackend(cfg BackendConfig) (*AnthropicBackend, error) {
	if cfg.APIKey == "" {
		return nil, ConfigError(missingKeyMessage)
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
		option.WithMaxRetries(0), // the gateway owns fallback and retry
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 2048
	}

	L_debug("llm: anthropic backend created", "baseURL", cfg.BaseURL, "maxTokens", maxTokens)

	return &AnthropicBackend{
		client:    anthropic.NewClient(opts...),
		maxTokens: maxTokens,
	}, nil
}

func (b *AnthropicBackend) Name() string { return "anthropic" }

// Generate sends a single user message and concatenates the text blocks of the reply.
func (b *AnthropicBackend) Generate(ctx context.Context, req Request) (string, error) {
	start := time.Now()
	prompt := req.Prompt
	var system []anthropic.TextBlockParam
	if req.Schema != nil {
		schema, err := json.Marshal(req.Schema)
		if err != nil {
			return "", fmt.Errorf("anthropic: marshal schema: %w", err)
		}
		system = []anthropic.TextBlockParam{{
			Text: "Reply with JSON only, no prose and no code fences. The JSON must match this schema: " + string(schema),
		}}
	}

	L_debug("llm: request started", "backend", b.Name(), "model", req.Model,
		"promptTokens", tokens.Estimate(prompt), "schema", req.Schema != nil)

	msg, err := b.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(b.maxTokens),
		System:    system,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		L_debug("llm: request failed", "backend", b.Name(), "model", req.Model, "error", err)
		return "", fmt.Errorf("anthropic: %w", err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			sb.WriteString(text.Text)
		}
	}

	L_debug("llm: request completed", "backend", b.Name(), "model", req.Model,
		"outputTokens", msg.Usage.OutputTokens, "duration", time.Since(start).Round(time.Millisecond))
	return sb.String(), nil
}
