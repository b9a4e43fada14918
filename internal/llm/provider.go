package llm

import (
	"context"
	"time"

	"github.com/sashabaranov/go-openai/jsonschema"
)

// Backend is the text-generation collaborator: given a model identifier and a
// prompt (plus an optional response schema) it returns generated text or fails
// with an error whose message can be classified.
// Implementations: OpenAIBackend, AnthropicBackend
type Backend interface {
	Name() string
	Generate(ctx context.Context, req Request) (string, error)
}

// Request is a single generation call.
type Request struct {
	Model  string
	Prompt string

	// Schema constrains the output shape where the backend supports it.
	// SchemaName labels it for backends that require a name.
	Schema     *jsonschema.Definition
	SchemaName string
}

// BackendConfig selects and configures a backend.
type BackendConfig struct {
	Type      string // "openai" (OpenAI-compatible, incl. Gemini) or "anthropic"
	BaseURL   string
	APIKey    string
	Timeout   time.Duration
	MaxTokens int
}

// StringArraySchema is the response schema for a JSON array of strings.
func StringArraySchema() *jsonschema.Definition {
	return &jsonschema.Definition{
		Type:  jsonschema.Array,
		Items: &jsonschema.Definition{Type: jsonschema.String},
	}
}

const missingKeyMessage = "No API key configured. Set READMORE_API_KEY (or GEMINI_API_KEY) or backend.apiKey."
