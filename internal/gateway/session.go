package gateway

import (
	"time"

	"github.com/google/uuid"

	"github.com/roelfdiedericks/readmore/internal/cache"
)

// Config holds gateway settings. Zero values take DefaultConfig's values
// except the stream delays, where zero disables pacing.
type Config struct {
	PrimaryModel  string
	FallbackModel string
	Cooldown      time.Duration

	CacheTTL        time.Duration
	CacheMaxEntries int
	KeyPrefixChars  int

	MaxArticleChars int
	MaxSuggestions  int
	Language        string

	WordsPerChunk int
	MinDelay      time.Duration
	MaxDelay      time.Duration

	// Now is the clock for the cache and model selector. Nil means time.Now.
	Now func() time.Time
}

// DefaultConfig returns the standard gateway settings.
func DefaultConfig() Config {
	return Config{
		PrimaryModel:    "gemini-2.5-flash",
		FallbackModel:   "gemini-2.5-flash-lite",
		Cooldown:        30 * time.Second,
		CacheTTL:        cache.DefaultTTL,
		CacheMaxEntries: cache.DefaultMaxEntries,
		KeyPrefixChars:  cache.DefaultKeyPrefixChars,
		MaxArticleChars: 30000,
		MaxSuggestions:  4,
		Language:        "English",
		WordsPerChunk:   3,
		MinDelay:        50 * time.Millisecond,
		MaxDelay:        150 * time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.PrimaryModel == "" {
		c.PrimaryModel = d.PrimaryModel
	}
	if c.FallbackModel == "" {
		c.FallbackModel = d.FallbackModel
	}
	if c.MaxArticleChars <= 0 {
		c.MaxArticleChars = d.MaxArticleChars
	}
	if c.MaxSuggestions <= 0 {
		c.MaxSuggestions = d.MaxSuggestions
	}
	if c.Language == "" {
		c.Language = d.Language
	}
	if c.WordsPerChunk <= 0 {
		c.WordsPerChunk = d.WordsPerChunk
	}
	if c.MaxDelay < c.MinDelay {
		c.MaxDelay = c.MinDelay
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Session is the per-widget-instance state shared by the gateway and the
// orchestrator: its own response cache and model selector.
type Session struct {
	ID       string
	Cache    *cache.Cache
	Selector *ModelSelector
}

// NewSession creates fresh instance state from cfg.
func NewSession(cfg Config) *Session {
	cfg = cfg.withDefaults()
	return &Session{
		ID: uuid.NewString(),
		Cache: cache.New(cache.Options{
			TTL:            cfg.CacheTTL,
			MaxEntries:     cfg.CacheMaxEntries,
			KeyPrefixChars: cfg.KeyPrefixChars,
			Now:            cfg.Now,
		}),
		Selector: NewModelSelector(cfg.PrimaryModel, cfg.FallbackModel, cfg.Cooldown, cfg.Now),
	}
}
