// Package gateway turns article text into backend requests: suggestion lists
// and answers, with per-instance caching, primary/fallback model selection
// and simulated chunked delivery of answers.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/roelfdiedericks/readmore/internal/llm"
	. "github.com/roelfdiedericks/readmore/internal/logging"
	. "github.com/roelfdiedericks/readmore/internal/metrics"
	"github.com/roelfdiedericks/readmore/internal/tokens"
)

// Cache key kinds
const (
	KindSuggestions = "suggestions"
	KindAnswer      = "answer"
)

// ChunkFunc receives successive snapshots of an answer. Each snapshot is a
// prefix of the final text and the last one is the full text.
type ChunkFunc func(snapshot string)

// Gateway serves one widget instance.
type Gateway struct {
	backend llm.Backend
	session *Session
	cfg     Config
}

// New creates a gateway. A nil backend makes every uncached call fail with a
// configuration error.
func New(backend llm.Backend, session *Session, cfg Config) *Gateway {
	cfg = cfg.withDefaults()
	if session == nil {
		session = NewSession(cfg)
	}
	return &Gateway{backend: backend, session: session, cfg: cfg}
}

// Session returns the instance state this gateway uses.
func (g *Gateway) Session() *Session {
	return g.session
}

// GenerateSuggestions returns up to MaxSuggestions follow-up questions for the article.
// A reply that is not a JSON array of strings is a KindMalformedResponse error.
func (g *Gateway) GenerateSuggestions(ctx context.Context, articleText string) ([]string, error) {
	c := g.session.Cache
	key := c.Key(KindSuggestions, articleText)
	if v, ok := c.Get(key); ok {
		if list, ok := v.([]string); ok {
			MetricHit(TopicCache, KindSuggestions)
			g.session.Selector.Promote()
			L_debug("gateway: suggestions cache hit", "session", g.session.ID, "count", len(list))
			return append([]string(nil), list...), nil
		}
	}
	MetricMiss(TopicCache, KindSuggestions)

	article := tokens.Truncate(articleText, g.cfg.MaxArticleChars)
	text, err := g.generate(ctx, KindSuggestions, llm.Request{
		Prompt:     suggestionsPrompt(article, g.cfg.Language, g.cfg.MaxSuggestions),
		Schema:     llm.StringArraySchema(),
		SchemaName: "suggestions",
	})
	if err != nil {
		return nil, err
	}

	list, err := parseSuggestions(text, g.cfg.MaxSuggestions)
	if err != nil {
		MetricFailWithReason(TopicGateway, KindSuggestions, string(llm.KindMalformedResponse))
		L_warn("gateway: malformed suggestions", "session", g.session.ID, "error", err, "reply", truncateForLog(text))
		return nil, err
	}

	c.Set(key, list)
	L_debug("gateway: suggestions ready", "session", g.session.ID, "count", len(list))
	return append([]string(nil), list...), nil
}

// GetAnswerForSuggestion returns the answer to suggestion, grounded in the article.
// When onChunk is set, growing prefixes are delivered before this returns.
func (g *Gateway) GetAnswerForSuggestion(ctx context.Context, suggestion, articleText string, onChunk ChunkFunc) (string, error) {
	c := g.session.Cache
	key := c.Key(KindAnswer, suggestion+"\n"+articleText)
	if v, ok := c.Get(key); ok {
		if answer, ok := v.(string); ok {
			MetricHit(TopicCache, KindAnswer)
			g.session.Selector.Promote()
			L_debug("gateway: answer cache hit", "session", g.session.ID, "suggestion", suggestion)
			if err := g.deliver(ctx, answer, onChunk); err != nil {
				return "", err
			}
			return answer, nil
		}
	}
	MetricMiss(TopicCache, KindAnswer)

	article := tokens.Truncate(articleText, g.cfg.MaxArticleChars)
	text, err := g.generate(ctx, KindAnswer, llm.Request{
		Prompt: answerPrompt(suggestion, article, g.cfg.Language),
	})
	if err != nil {
		return "", err
	}

	answer := strings.TrimSpace(text)
	if answer == "" {
		MetricFailWithReason(TopicGateway, KindAnswer, string(llm.KindMalformedResponse))
		return "", llm.NewError(llm.KindMalformedResponse, "", fmt.Errorf("empty answer"))
	}

	c.Set(key, answer)
	if err := g.deliver(ctx, answer, onChunk); err != nil {
		return "", err
	}
	return answer, nil
}

// generate calls the backend with the current model. An overload on the
// primary model demotes to the fallback (cooldown permitting) and retries
// once. When a concurrent call already demoted, the retry uses the active
// fallback. There are never more than two attempts.
func (g *Gateway) generate(ctx context.Context, op string, req llm.Request) (string, error) {
	if g.backend == nil {
		return "", llm.ConfigError("No AI backend is configured.")
	}
	sel := g.session.Selector
	reqID := uuid.NewString()[:8]

	tier := sel.Current()
	text, err := g.attempt(ctx, op, reqID, tier, 1, req)
	if err == nil {
		return text, nil
	}

	if err.Kind == llm.KindOverload && tier == Primary && (sel.Demote() || sel.Current() == Fallback) {
		MetricInc(TopicGateway, "fallback")
		text, err = g.attempt(ctx, op, reqID, Fallback, 2, req)
		if err == nil {
			return text, nil
		}
	}

	MetricFailWithReason(TopicGateway, op, string(err.Kind))
	L_error("gateway: request failed", "op", op, "req", reqID, "session", g.session.ID, "kind", err.Kind, "error", err)
	return "", err
}

// attempt makes one backend call on the given tier.
func (g *Gateway) attempt(ctx context.Context, op, reqID string, tier ModelTier, n int, req llm.Request) (string, *llm.Error) {
	sel := g.session.Selector
	req.Model = sel.ModelFor(tier)

	start := time.Now()
	text, err := g.backend.Generate(ctx, req)
	MetricSince(TopicBackend, tier.String(), start)
	if err != nil {
		cerr := llm.Classify(err)
		L_warn("gateway: backend call failed", "op", op, "req", reqID, "model", req.Model, "attempt", n, "kind", cerr.Kind, "error", err)
		return "", cerr
	}

	sel.Promote()
	MetricSuccess(TopicGateway, op)
	L_debug("gateway: backend call succeeded", "op", op, "req", reqID, "model", req.Model, "attempt", n,
		"duration", time.Since(start).Round(time.Millisecond))
	return text, nil
}

// parseSuggestions accepts only a JSON array of strings. A surrounding code
// fence is removed; blank entries are dropped; the list is cut to max.
func parseSuggestions(text string, max int) ([]string, error) {
	body := stripFence(strings.TrimSpace(text))

	var raw []any
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return nil, llm.NewError(llm.KindMalformedResponse, "", fmt.Errorf("suggestions are not a JSON array: %w", err))
	}
	if raw == nil {
		return nil, llm.NewError(llm.KindMalformedResponse, "", fmt.Errorf("suggestions are null"))
	}

	list := make([]string, 0, len(raw))
	for i, item := range raw {
		s, ok := item.(string)
		if !ok {
			return nil, llm.NewError(llm.KindMalformedResponse, "", fmt.Errorf("suggestion %d is %T, not a string", i, item))
		}
		if s = strings.TrimSpace(s); s != "" {
			list = append(list, s)
		}
	}
	if max > 0 && len(list) > max {
		list = list[:max]
	}
	return list, nil
}

// stripFence removes a ``` or ```json fence wrapping the whole text.
func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") || !strings.HasSuffix(s, "```") || len(s) < 6 {
		return s
	}
	inner := strings.TrimSuffix(strings.TrimPrefix(s, "```"), "```")
	if nl := strings.IndexByte(inner, '\n'); nl >= 0 && !strings.ContainsAny(inner[:nl], "[{\"") {
		inner = inner[nl+1:]
	}
	return strings.TrimSpace(inner)
}

func truncateForLog(s string) string {
	const max = 200
	if len(s) <= max {
		return s
	}
	return tokens.Truncate(s, max) + "..."
}
