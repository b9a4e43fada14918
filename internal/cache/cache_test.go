package cache

import (
	"fmt"
	"strings"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) Now() time.Time          { return f.t }
func (f *fakeClock) Advance(d time.Duration) { f.t = f.t.Add(d) }

func newTestCache(max int) (*Cache, *fakeClock) {
	clk := &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	return New(Options{TTL: 5 * time.Minute, MaxEntries: max, KeyPrefixChars: 20, Now: clk.Now}), clk
}

func TestBuildKey(t *testing.T) {
	tests := []struct {
		name  string
		kind  string
		input string
		n     int
		want  string
	}{
		{"plain", "answer", "hello", 10, "answer:hello"},
		{"normalized", "answer", "  Hello \n\t World  ", 50, "answer:hello world"},
		{"truncated", "suggestions", "abcdefghij", 4, "suggestions:abcd"},
		{"rune safe", "answer", "ÑANDÚ corre", 5, "answer:ñandú"},
		{"no bound", "answer", "abc", 0, "answer:abc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BuildKey(tt.kind, tt.input, tt.n); got != tt.want {
				t.Errorf("BuildKey = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestKeyCollisionPastPrefix(t *testing.T) {
	c, _ := newTestCache(10)
	a := c.Key("answer", strings.Repeat("x", 20)+" first tail")
	b := c.Key("answer", strings.Repeat("x", 20)+" second tail")
	if a != b {
		t.Errorf("keys differing only past the prefix should collide: %q vs %q", a, b)
	}
	if c.Key("answer", "x") == c.Key("suggestions", "x") {
		t.Error("kinds must not share keys")
	}
}

func TestGetWithinAndAfterTTL(t *testing.T) {
	c, clk := newTestCache(10)
	c.Set("k", "v")

	clk.Advance(4*time.Minute + 59*time.Second)
	if v, ok := c.Get("k"); !ok || v != "v" {
		t.Fatalf("Get before TTL = %v, %v", v, ok)
	}

	clk.Advance(time.Second)
	if _, ok := c.Get("k"); ok {
		t.Fatal("entry returned at TTL")
	}
	if c.Len() != 0 {
		t.Errorf("expired entry not evicted on access, Len = %d", c.Len())
	}
}

func TestSetRefreshesCreatedAt(t *testing.T) {
	c, clk := newTestCache(10)
	c.Set("k", "old")
	clk.Advance(4 * time.Minute)
	c.Set("k", "new")
	clk.Advance(2 * time.Minute)
	if v, ok := c.Get("k"); !ok || v != "new" {
		t.Errorf("Get = %v, %v, want new", v, ok)
	}
}

func TestCapacityEvictsOldest(t *testing.T) {
	c, clk := newTestCache(3)
	for i := 0; i < 3; i++ {
		c.Set(fmt.Sprintf("k%d", i), i)
		clk.Advance(time.Second)
	}
	c.Set("k3", 3)

	if c.Len() != 3 {
		t.Fatalf("Len = %d, want 3", c.Len())
	}
	if _, ok := c.Get("k0"); ok {
		t.Error("oldest entry should have been evicted")
	}
	for _, k := range []string{"k1", "k2", "k3"} {
		if _, ok := c.Get(k); !ok {
			t.Errorf("%s missing", k)
		}
	}
}

func TestCapacityPrefersExpired(t *testing.T) {
	c, clk := newTestCache(2)
	c.Set("stale", 1)
	clk.Advance(6 * time.Minute)
	c.Set("fresh", 2)
	c.Set("newest", 3)

	if _, ok := c.Get("fresh"); !ok {
		t.Error("fresh entry evicted while an expired one was present")
	}
	if _, ok := c.Get("newest"); !ok {
		t.Error("newest entry missing")
	}
}

func TestClear(t *testing.T) {
	c, _ := newTestCache(10)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Clear()
	if c.Len() != 0 {
		t.Errorf("Len after Clear = %d", c.Len())
	}
	if _, ok := c.Get("a"); ok {
		t.Error("entry survived Clear")
	}
}
