package gateway

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/roelfdiedericks/readmore/internal/llm"
)

type reply struct {
	text string
	err  error
}

// fakeBackend returns scripted replies in order; the last reply repeats.
type fakeBackend struct {
	mu      sync.Mutex
	replies []reply
	calls   []llm.Request
	// onCall runs before each reply, outside the lock.
	onCall func(n int)
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) Generate(ctx context.Context, req llm.Request) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	n, hook := len(f.calls), f.onCall
	f.mu.Unlock()
	if hook != nil {
		hook(n)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.replies) == 0 {
		return "", errors.New("no scripted reply")
	}
	r := f.replies[0]
	if len(f.replies) > 1 {
		f.replies = f.replies[1:]
	}
	return r.text, r.err
}

func (f *fakeBackend) models() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		out = append(out, c.Model)
	}
	return out
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

var (
	errOverload = errors.New("error, status code: 503, status: 503 Service Unavailable, message: The model is overloaded.")
	errQuota    = errors.New("error, status code: 429, message: Resource has been exhausted")
)

func testConfig(clk *fakeClock) Config {
	cfg := DefaultConfig()
	cfg.PrimaryModel = "primary-model"
	cfg.FallbackModel = "fallback-model"
	cfg.MinDelay = 0
	cfg.MaxDelay = 0
	cfg.Now = clk.Now
	return cfg
}

func newTestGateway(replies ...reply) (*Gateway, *fakeBackend, *fakeClock) {
	clk := newClock()
	fb := &fakeBackend{replies: replies}
	cfg := testConfig(clk)
	return New(fb, NewSession(cfg), cfg), fb, clk
}

func TestGenerateSuggestions(t *testing.T) {
	g, fb, _ := newTestGateway(reply{text: `["What crops depend most on bees?", "How do bees communicate?", "What threatens bee populations?", "How can I attract bees to my garden?"]`})

	got, err := g.GenerateSuggestions(context.Background(), "Bees pollinate crops.")
	if err != nil {
		t.Fatalf("GenerateSuggestions: %v", err)
	}
	if len(got) != 4 || got[1] != "How do bees communicate?" {
		t.Errorf("suggestions = %q", got)
	}
	if len(fb.calls) != 1 {
		t.Fatalf("calls = %d", len(fb.calls))
	}
	req := fb.calls[0]
	if req.Model != "primary-model" || req.Schema == nil || req.SchemaName != "suggestions" {
		t.Errorf("request = model %q schema %v name %q", req.Model, req.Schema, req.SchemaName)
	}
	if !strings.Contains(req.Prompt, "Bees pollinate crops.") {
		t.Error("prompt missing article")
	}

	again, err := g.GenerateSuggestions(context.Background(), "  bees   POLLINATE crops. ")
	if err != nil || len(again) != 4 {
		t.Fatalf("cached call: %q, %v", again, err)
	}
	if len(fb.calls) != 1 {
		t.Errorf("normalized repeat should hit the cache, calls = %d", len(fb.calls))
	}
}

func TestGenerateSuggestionsTruncatesArticle(t *testing.T) {
	g, fb, _ := newTestGateway(reply{text: `[]`})
	article := strings.Repeat("a", 30000) + "TAIL"

	if _, err := g.GenerateSuggestions(context.Background(), article); err != nil {
		t.Fatal(err)
	}
	prompt := fb.calls[0].Prompt
	if !strings.Contains(prompt, strings.Repeat("a", 30000)) || strings.Contains(prompt, "TAIL") {
		t.Error("article not truncated to 30000 characters")
	}
}

func TestParseSuggestions(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		want      []string
		malformed bool
	}{
		{"array", `["a", "b", "c"]`, []string{"a", "b", "c"}, false},
		{"trimmed to four", `["1","2","3","4","5","6"]`, []string{"1", "2", "3", "4"}, false},
		{"empty array", `[]`, []string{}, false},
		{"blank entries dropped", `["a", "  ", "b"]`, []string{"a", "b"}, false},
		{"json fence", "```json\n[\"a\"]\n```", []string{"a"}, false},
		{"bare fence", "```\n[\"a\"]\n```", []string{"a"}, false},
		{"object wrapper", `{"suggestions": ["a"]}`, nil, true},
		{"number item", `["a", 2]`, nil, true},
		{"nested array", `[["a"]]`, nil, true},
		{"null", `null`, nil, true},
		{"prose", `Here are some questions: a, b`, nil, true},
		{"string", `"a"`, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseSuggestions(tt.text, 4)
			if tt.malformed {
				if llm.KindOf(err) != llm.KindMalformedResponse {
					t.Fatalf("err = %v, want malformed response", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if strings.Join(got, "|") != strings.Join(tt.want, "|") || len(got) != len(tt.want) {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMalformedSuggestionsNotCached(t *testing.T) {
	g, fb, _ := newTestGateway(reply{text: `{"oops": true}`}, reply{text: `["ok"]`})

	_, err := g.GenerateSuggestions(context.Background(), "article")
	if llm.KindOf(err) != llm.KindMalformedResponse {
		t.Fatalf("err = %v", err)
	}
	if len(fb.calls) != 1 {
		t.Errorf("malformed reply must not trigger a fallback retry, calls = %d", len(fb.calls))
	}
	got, err := g.GenerateSuggestions(context.Background(), "article")
	if err != nil || len(got) != 1 {
		t.Errorf("second call = %q, %v", got, err)
	}
}

func TestAnswerCacheIdempotence(t *testing.T) {
	g, fb, _ := newTestGateway(reply{text: "  <p>Bees dance to communicate.</p>\n"})

	a1, err := g.GetAnswerForSuggestion(context.Background(), "How do bees communicate?", "Bees pollinate crops.", nil)
	if err != nil {
		t.Fatal(err)
	}
	if a1 != "<p>Bees dance to communicate.</p>" {
		t.Errorf("answer not trimmed: %q", a1)
	}
	a2, err := g.GetAnswerForSuggestion(context.Background(), "How do bees communicate?", "Bees pollinate crops.", nil)
	if err != nil {
		t.Fatal(err)
	}
	if a1 != a2 {
		t.Errorf("cached answer differs: %q vs %q", a1, a2)
	}
	if len(fb.calls) != 1 {
		t.Errorf("backend calls = %d, want 1", len(fb.calls))
	}
	if fb.calls[0].Schema != nil {
		t.Error("answers are free-form, no schema expected")
	}
	for _, want := range []string{"How do bees communicate?", "Bees pollinate crops.", "<p>", "```html"} {
		if !strings.Contains(fb.calls[0].Prompt, want) {
			t.Errorf("answer prompt missing %q", want)
		}
	}
}

func TestAnswerCacheExpiry(t *testing.T) {
	g, fb, clk := newTestGateway(reply{text: "first"}, reply{text: "second"})
	ctx := context.Background()

	if _, err := g.GetAnswerForSuggestion(ctx, "q", "article", nil); err != nil {
		t.Fatal(err)
	}
	clk.Advance(5 * time.Minute)
	got, err := g.GetAnswerForSuggestion(ctx, "q", "article", nil)
	if err != nil {
		t.Fatal(err)
	}
	if got != "second" || len(fb.calls) != 2 {
		t.Errorf("after TTL: got %q with %d calls, want fresh call", got, len(fb.calls))
	}
}

func TestEmptyAnswerIsMalformed(t *testing.T) {
	g, _, _ := newTestGateway(reply{text: "   \n"})
	_, err := g.GetAnswerForSuggestion(context.Background(), "q", "a", nil)
	if llm.KindOf(err) != llm.KindMalformedResponse {
		t.Errorf("err = %v", err)
	}
}

func TestFallbackBound(t *testing.T) {
	g, fb, _ := newTestGateway(reply{err: errOverload})

	_, err := g.GetAnswerForSuggestion(context.Background(), "q", "a", nil)
	if llm.KindOf(err) != llm.KindOverload {
		t.Fatalf("err kind = %s", llm.KindOf(err))
	}
	if got := fb.models(); strings.Join(got, ",") != "primary-model,fallback-model" {
		t.Errorf("attempts = %v, want one primary then one fallback", got)
	}
	if g.Session().Selector.Current() != Fallback {
		t.Error("selector should stay on fallback after failed fallback")
	}
}

func TestFallbackSuccessPromotes(t *testing.T) {
	g, fb, _ := newTestGateway(reply{err: errOverload}, reply{text: "from fallback"})

	got, err := g.GetAnswerForSuggestion(context.Background(), "q", "a", nil)
	if err != nil || got != "from fallback" {
		t.Fatalf("got %q, %v", got, err)
	}
	if len(fb.calls) != 2 {
		t.Errorf("calls = %d", len(fb.calls))
	}
	if g.Session().Selector.Current() != Primary {
		t.Error("success on fallback should promote back to primary")
	}
}

func TestFallbackCooldown(t *testing.T) {
	t.Run("second overload while demoted uses fallback only", func(t *testing.T) {
		g, fb, clk := newTestGateway(reply{err: errOverload})
		ctx := context.Background()

		g.GetAnswerForSuggestion(ctx, "q1", "a", nil)
		clk.Advance(10 * time.Second)
		g.GetAnswerForSuggestion(ctx, "q2", "a", nil)

		if got := strings.Join(fb.models(), ","); got != "primary-model,fallback-model,fallback-model" {
			t.Errorf("attempts = %s", got)
		}
	})

	t.Run("overload within cooldown after promotion is surfaced", func(t *testing.T) {
		g, fb, clk := newTestGateway(reply{err: errOverload}, reply{text: "ok"}, reply{err: errOverload})
		ctx := context.Background()

		if _, err := g.GetAnswerForSuggestion(ctx, "q1", "a", nil); err != nil {
			t.Fatal(err)
		}
		clk.Advance(10 * time.Second)
		_, err := g.GetAnswerForSuggestion(ctx, "q2", "a", nil)
		if llm.KindOf(err) != llm.KindOverload {
			t.Fatalf("err = %v", err)
		}
		if got := strings.Join(fb.models(), ","); got != "primary-model,fallback-model,primary-model" {
			t.Errorf("attempts = %s", got)
		}

		clk.Advance(30 * time.Second)
		g.GetAnswerForSuggestion(ctx, "q3", "a", nil)
		if got := fb.models(); len(got) != 5 || got[4] != "fallback-model" {
			t.Errorf("after cooldown fallback should be allowed again: %v", got)
		}
	})
}

func TestOverloadAfterConcurrentDemotionUsesFallback(t *testing.T) {
	g, fb, _ := newTestGateway(reply{err: errOverload}, reply{text: "<p>ok</p>"})
	sel := g.Session().Selector
	fb.onCall = func(n int) {
		if n == 1 {
			// another request on this instance overloads and demotes first
			if !sel.Demote() {
				t.Error("concurrent demotion should succeed")
			}
		}
	}

	got, err := g.GetAnswerForSuggestion(context.Background(), "q", "a", nil)
	if err != nil {
		t.Fatalf("err = %v", err)
	}
	if got != "<p>ok</p>" {
		t.Errorf("answer = %q", got)
	}
	if models := strings.Join(fb.models(), ","); models != "primary-model,fallback-model" {
		t.Errorf("attempts = %s", models)
	}
}

func TestNonOverloadErrorsNotRetried(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want llm.ErrorKind
	}{
		{"quota", errQuota, llm.KindQuotaExceeded},
		{"auth", errors.New("401 Unauthorized"), llm.KindConfiguration},
		{"network", errors.New("dial tcp: connection refused"), llm.KindNetwork},
		{"unknown", errors.New("weird"), llm.KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, fb, _ := newTestGateway(reply{err: tt.err})
			_, err := g.GenerateSuggestions(context.Background(), "article")
			if llm.KindOf(err) != tt.want {
				t.Errorf("kind = %s, want %s", llm.KindOf(err), tt.want)
			}
			var cerr *llm.Error
			if !errors.As(err, &cerr) || cerr.UserMessage() == "" {
				t.Errorf("error should carry a user-facing message: %v", err)
			}
			if len(fb.calls) != 1 {
				t.Errorf("calls = %d, want 1", len(fb.calls))
			}
		})
	}
}

func TestCacheHitPromotes(t *testing.T) {
	g, fb, _ := newTestGateway(reply{text: "answer"})
	ctx := context.Background()

	if _, err := g.GetAnswerForSuggestion(ctx, "q", "a", nil); err != nil {
		t.Fatal(err)
	}
	if !g.Session().Selector.Demote() {
		t.Fatal("first demotion should be allowed")
	}
	if _, err := g.GetAnswerForSuggestion(ctx, "q", "a", nil); err != nil {
		t.Fatal(err)
	}
	if g.Session().Selector.Current() != Primary {
		t.Error("cache hit should promote to primary")
	}
	if len(fb.calls) != 1 {
		t.Errorf("calls = %d", len(fb.calls))
	}
}

func TestNilBackend(t *testing.T) {
	cfg := testConfig(newClock())
	g := New(nil, nil, cfg)
	_, err := g.GenerateSuggestions(context.Background(), "article")
	if llm.KindOf(err) != llm.KindConfiguration {
		t.Errorf("kind = %s", llm.KindOf(err))
	}
}

func TestSessionsAreIsolated(t *testing.T) {
	clk := newClock()
	cfg := testConfig(clk)
	fb := &fakeBackend{replies: []reply{{text: "answer"}}}
	g1 := New(fb, NewSession(cfg), cfg)
	g2 := New(fb, NewSession(cfg), cfg)

	g1.GetAnswerForSuggestion(context.Background(), "q", "a", nil)
	g2.GetAnswerForSuggestion(context.Background(), "q", "a", nil)
	if len(fb.calls) != 2 {
		t.Errorf("instances must not share a cache, calls = %d", len(fb.calls))
	}
	g1.Session().Selector.Demote()
	if g2.Session().Selector.Current() != Primary {
		t.Error("instances must not share model state")
	}
}
