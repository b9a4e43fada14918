// Package config loads readmore settings: defaults in code, a JSON, TOML or
// YAML file over them, then environment overrides (a .env file is honoured).
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	. "github.com/roelfdiedericks/readmore/internal/logging"
	"github.com/roelfdiedericks/readmore/internal/paths"
)

// Config is the full readmore configuration.
type Config struct {
	Backend BackendConfig `json:"backend" toml:"backend" yaml:"backend"`
	Models  ModelsConfig  `json:"models" toml:"models" yaml:"models"`
	Cache   CacheConfig   `json:"cache" toml:"cache" yaml:"cache"`
	Prompt  PromptConfig  `json:"prompt" toml:"prompt" yaml:"prompt"`
	Stream  StreamConfig  `json:"stream" toml:"stream" yaml:"stream"`
	Retry   RetryConfig   `json:"retry" toml:"retry" yaml:"retry"`
	Page    PageConfig    `json:"page" toml:"page" yaml:"page"`
	HTTP    HTTPConfig    `json:"http" toml:"http" yaml:"http"`
	Logging LoggingConfig `json:"logging" toml:"logging" yaml:"logging"`

	// Path is the file this config was loaded from, empty for defaults only.
	Path string `json:"-" toml:"-" yaml:"-"`
}

type BackendConfig struct {
	Type           string `json:"type" toml:"type" yaml:"type" validate:"oneof=openai gemini anthropic"`
	BaseURL        string `json:"baseURL" toml:"baseURL" yaml:"baseURL" validate:"omitempty,url"`
	APIKey         string `json:"apiKey,omitempty" toml:"apiKey" yaml:"apiKey"`
	TimeoutSeconds int    `json:"timeoutSeconds" toml:"timeoutSeconds" yaml:"timeoutSeconds" validate:"gte=1"`
	MaxTokens      int    `json:"maxTokens" toml:"maxTokens" yaml:"maxTokens" validate:"gte=1"`
}

type ModelsConfig struct {
	Primary         string `json:"primary" toml:"primary" yaml:"primary" validate:"required"`
	Fallback        string `json:"fallback" toml:"fallback" yaml:"fallback" validate:"required"`
	CooldownSeconds int    `json:"cooldownSeconds" toml:"cooldownSeconds" yaml:"cooldownSeconds" validate:"gte=0"`
}

type CacheConfig struct {
	TTLSeconds     int `json:"ttlSeconds" toml:"ttlSeconds" yaml:"ttlSeconds" validate:"gte=1"`
	MaxEntries     int `json:"maxEntries" toml:"maxEntries" yaml:"maxEntries" validate:"gte=1"`
	KeyPrefixChars int `json:"keyPrefixChars" toml:"keyPrefixChars" yaml:"keyPrefixChars" validate:"gte=1"`
}

type PromptConfig struct {
	MaxArticleChars int    `json:"maxArticleChars" toml:"maxArticleChars" yaml:"maxArticleChars" validate:"gte=1"`
	MaxSuggestions  int    `json:"maxSuggestions" toml:"maxSuggestions" yaml:"maxSuggestions" validate:"gte=1,lte=10"`
	Language        string `json:"language" toml:"language" yaml:"language"`
}

type StreamConfig struct {
	WordsPerChunk int `json:"wordsPerChunk" toml:"wordsPerChunk" yaml:"wordsPerChunk" validate:"gte=1"`
	MinDelayMs    int `json:"minDelayMs" toml:"minDelayMs" yaml:"minDelayMs" validate:"gte=0"`
	MaxDelayMs    int `json:"maxDelayMs" toml:"maxDelayMs" yaml:"maxDelayMs" validate:"gtefield=MinDelayMs"`
}

type RetryConfig struct {
	MaxAutoRetries   int `json:"maxAutoRetries" toml:"maxAutoRetries" yaml:"maxAutoRetries" validate:"gte=0,lte=10"`
	BaseDelaySeconds int `json:"baseDelaySeconds" toml:"baseDelaySeconds" yaml:"baseDelaySeconds" validate:"gte=1"`
}

type PageConfig struct {
	ContentSelector string `json:"contentSelector" toml:"contentSelector" yaml:"contentSelector"`
	MountSelector   string `json:"mountSelector" toml:"mountSelector" yaml:"mountSelector"`
	Format          string `json:"format" toml:"format" yaml:"format" validate:"oneof=text markdown"`
}

type HTTPConfig struct {
	Listen string `json:"listen" toml:"listen" yaml:"listen" validate:"required"`
}

type LoggingConfig struct {
	Level string `json:"level" toml:"level" yaml:"level" validate:"oneof=trace debug info warn error"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Backend: BackendConfig{
			Type:           "openai",
			TimeoutSeconds: 60,
			MaxTokens:      2048,
		},
		Models: ModelsConfig{
			Primary:         "gemini-2.5-flash",
			Fallback:        "gemini-2.5-flash-lite",
			CooldownSeconds: 30,
		},
		Cache: CacheConfig{
			TTLSeconds:     300,
			MaxEntries:     256,
			KeyPrefixChars: 200,
		},
		Prompt: PromptConfig{
			MaxArticleChars: 30000,
			MaxSuggestions:  4,
			Language:        "English",
		},
		Stream: StreamConfig{
			WordsPerChunk: 3,
			MinDelayMs:    50,
			MaxDelayMs:    150,
		},
		Retry: RetryConfig{
			MaxAutoRetries:   3,
			BaseDelaySeconds: 2,
		},
		Page: PageConfig{
			ContentSelector: "#page-wrapper",
			MountSelector:   "#root",
			Format:          "text",
		},
		HTTP:    HTTPConfig{Listen: "127.0.0.1:1337"},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads the config at path, or the discovered config when path is empty.
// A missing API key is not an error here; the backend reports it.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		L_warn("config: failed to load .env", "error", err)
	}

	if path == "" {
		found, err := paths.ConfigPath()
		if err != nil {
			return nil, err
		}
		path = found
	} else {
		expanded, err := paths.ExpandTilde(path)
		if err != nil {
			return nil, err
		}
		path = expanded
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := decode(path, data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		cfg.Path = path
		L_debug("config: loaded file", "path", path)
	} else {
		L_debug("config: no config file, using defaults")
	}

	if err := mergo.Merge(cfg, fromEnv(cfg.Backend.Type), mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("config: apply environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decode unmarshals data over cfg according to the file extension.
func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		_, err := toml.Decode(string(data), cfg)
		return err
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	default:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		return dec.Decode(cfg)
	}
}

// fromEnv builds the environment overlay. Empty fields leave the file values alone.
func fromEnv(backendType string) *Config {
	env := &Config{}
	keys := []string{"READMORE_API_KEY", "GEMINI_API_KEY", "API_KEY"}
	if backendType == "anthropic" {
		keys = []string{"READMORE_API_KEY", "ANTHROPIC_API_KEY"}
	}
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			env.Backend.APIKey = v
			break
		}
	}
	env.Backend.BaseURL = os.Getenv("READMORE_BASE_URL")
	env.Models.Primary = os.Getenv("READMORE_PRIMARY_MODEL")
	env.Models.Fallback = os.Getenv("READMORE_FALLBACK_MODEL")
	env.HTTP.Listen = os.Getenv("READMORE_LISTEN")
	env.Logging.Level = os.Getenv("READMORE_LOG_LEVEL")
	return env
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and reports every violation at once.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s must satisfy %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s must satisfy %s", fe.Namespace(), fe.Tag()))
		}
	}
	return fmt.Errorf("config: invalid: %s", strings.Join(msgs, "; "))
}

// Timeout is the backend request timeout.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.Backend.TimeoutSeconds) * time.Second
}

// Cooldown is the minimum time between model switches.
func (c *Config) Cooldown() time.Duration {
	return time.Duration(c.Models.CooldownSeconds) * time.Second
}

// CacheTTL is the response cache time-to-live.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}

// RetryBaseDelay is the first auto-retry delay.
func (c *Config) RetryBaseDelay() time.Duration {
	return time.Duration(c.Retry.BaseDelaySeconds) * time.Second
}

// Redacted returns a copy safe to print.
func (c *Config) Redacted() *Config {
	cp := *c
	if cp.Backend.APIKey != "" {
		cp.Backend.APIKey = "***"
	}
	return &cp
}
