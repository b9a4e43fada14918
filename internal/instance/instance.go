// Package instance assembles one widget instance from configuration: its own
// session, backend, gateway and orchestrator.
package instance

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/roelfdiedericks/readmore/internal/config"
	"github.com/roelfdiedericks/readmore/internal/extract"
	"github.com/roelfdiedericks/readmore/internal/gateway"
	"github.com/roelfdiedericks/readmore/internal/llm"
	. "github.com/roelfdiedericks/readmore/internal/logging"
	"github.com/roelfdiedericks/readmore/internal/widget"
)

// Instance is one widget with isolated cache and model state.
type Instance struct {
	ID      string
	Gateway *gateway.Gateway
	Widget  *widget.Orchestrator

	page       extract.Options
	backendErr error
}

// Options customizes instance construction. The zero value is usable.
type Options struct {
	// Listener receives widget snapshots tagged with the instance ID.
	Listener func(id string, s widget.Snapshot)
	// Backend replaces the configured backend.
	Backend llm.Backend
	// Scheduler replaces the auto-retry timer source.
	Scheduler widget.Scheduler
}

// New builds an instance from cfg. A backend that cannot be created, such as
// one without an API key, does not fail here: the error is shown on Mount.
func New(cfg *config.Config, opts Options) *Instance {
	inst := &Instance{
		ID:   uuid.NewString(),
		page: PageOptions(cfg),
	}

	backend := opts.Backend
	if backend == nil {
		b, err := llm.NewBackend(BackendConfig(cfg))
		if err != nil {
			L_warn("instance: backend unavailable", "id", inst.ID, "error", err)
			inst.backendErr = err
		} else {
			backend = b
		}
	}

	gcfg := GatewayConfig(cfg)
	session := gateway.NewSession(gcfg)
	session.ID = inst.ID
	inst.Gateway = gateway.New(backend, session, gcfg)

	wopts := widget.Options{
		Scheduler:      opts.Scheduler,
		MaxAutoRetries: cfg.Retry.MaxAutoRetries,
		BaseDelay:      cfg.RetryBaseDelay(),
		ID:             inst.ID,
	}
	if wopts.MaxAutoRetries == 0 {
		wopts.MaxAutoRetries = -1
	}
	if opts.Listener != nil {
		id, listen := inst.ID, opts.Listener
		wopts.Listener = func(s widget.Snapshot) { listen(id, s) }
	}
	inst.Widget = widget.New(inst.Gateway, wopts)

	L_debug("instance: created", "id", inst.ID, "primary", gcfg.PrimaryModel, "fallback", gcfg.FallbackModel)
	return inst
}

// BackendErr is the error from creating the backend, if any.
func (i *Instance) BackendErr() error {
	return i.backendErr
}

// MountHTML extracts the article from a host page and mounts the widget.
func (i *Instance) MountHTML(ctx context.Context, html string) {
	page, err := extract.FromHTML(html, i.page)
	if err != nil {
		i.Widget.Mount(ctx, "", err)
		return
	}
	i.Widget.Mount(ctx, page.Article, i.backendErr)
}

// MountText mounts the widget over plain article text.
func (i *Instance) MountText(ctx context.Context, article string) {
	i.Widget.Mount(ctx, article, i.backendErr)
}

// Close stops the widget.
func (i *Instance) Close() {
	i.Widget.Close()
}

// BackendConfig maps file config to backend settings.
func BackendConfig(cfg *config.Config) llm.BackendConfig {
	return llm.BackendConfig{
		Type:      cfg.Backend.Type,
		BaseURL:   cfg.Backend.BaseURL,
		APIKey:    cfg.Backend.APIKey,
		Timeout:   cfg.Timeout(),
		MaxTokens: cfg.Backend.MaxTokens,
	}
}

// GatewayConfig maps file config to gateway settings.
func GatewayConfig(cfg *config.Config) gateway.Config {
	return gateway.Config{
		PrimaryModel:    cfg.Models.Primary,
		FallbackModel:   cfg.Models.Fallback,
		Cooldown:        cfg.Cooldown(),
		CacheTTL:        cfg.CacheTTL(),
		CacheMaxEntries: cfg.Cache.MaxEntries,
		KeyPrefixChars:  cfg.Cache.KeyPrefixChars,
		MaxArticleChars: cfg.Prompt.MaxArticleChars,
		MaxSuggestions:  cfg.Prompt.MaxSuggestions,
		Language:        cfg.Prompt.Language,
		WordsPerChunk:   cfg.Stream.WordsPerChunk,
		MinDelay:        time.Duration(cfg.Stream.MinDelayMs) * time.Millisecond,
		MaxDelay:        time.Duration(cfg.Stream.MaxDelayMs) * time.Millisecond,
	}
}

// PageOptions maps file config to the host page contract.
func PageOptions(cfg *config.Config) extract.Options {
	return extract.Options{
		ContentSelector: cfg.Page.ContentSelector,
		MountSelector:   cfg.Page.MountSelector,
		Format:          cfg.Page.Format,
	}
}
