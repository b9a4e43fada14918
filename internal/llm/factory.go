package llm

// NewBackend creates a backend from config, dispatching on cfg.Type.
// A missing credential comes back as a KindConfiguration error.
func NewBackend(cfg BackendConfig) (Backend, error) {
	switch cfg.Type {
	case "", "openai", "gemini":
		b, err := NewOpenAIBackend(cfg)
		if err != nil {
			return nil, err
		}
		return b, nil
	case "anthropic":
		b, err := NewAnthropicBackend(cfg)
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, ConfigError("Unknown backend type %q.", cfg.Type)
	}
}
