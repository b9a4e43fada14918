package metrics

import (
	"maps"
	"sync"
	"time"
)

// MetricType names the kind of a metric in snapshots.
type MetricType string

const (
	TypeTiming      MetricType = "timing"
	TypeHitMiss     MetricType = "hit_miss"
	TypeCounter     MetricType = "counter"
	TypeGauge       MetricType = "gauge"
	TypeSuccessFail MetricType = "success_fail"
)

// MetricSnapshot is a point-in-time view of one metric.
type MetricSnapshot struct {
	Path string      `json:"path"`
	Type MetricType  `json:"type"`
	Data interface{} `json:"data"`
}

// TimingMetric tracks latency, e.g. backend calls per model tier.
type TimingMetric struct {
	mu    sync.Mutex
	count int64
	total time.Duration
	min   time.Duration
	max   time.Duration
	last  time.Duration
}

func (t *TimingMetric) observe(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.count == 0 || d < t.min {
		t.min = d
	}
	if d > t.max {
		t.max = d
	}
	t.count++
	t.total += d
	t.last = d
}

// TimingSnapshot is the JSON form of a TimingMetric.
type TimingSnapshot struct {
	Count  int64   `json:"count"`
	AvgMs  float64 `json:"avg_ms"`
	MinMs  float64 `json:"min_ms"`
	MaxMs  float64 `json:"max_ms"`
	LastMs float64 `json:"last_ms"`
}

func (t *TimingMetric) snapshot() TimingSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := TimingSnapshot{Count: t.count, MinMs: ms(t.min), MaxMs: ms(t.max), LastMs: ms(t.last)}
	if t.count > 0 {
		s.AvgMs = ms(t.total) / float64(t.count)
	}
	return s
}

// HitMissMetric tracks response cache lookups.
type HitMissMetric struct {
	mu     sync.Mutex
	hits   int64
	misses int64
}

func (h *HitMissMetric) record(hit bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if hit {
		h.hits++
	} else {
		h.misses++
	}
}

// HitMissSnapshot is the JSON form of a HitMissMetric.
type HitMissSnapshot struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

func (h *HitMissMetric) snapshot() HitMissSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := HitMissSnapshot{Hits: h.hits, Misses: h.misses}
	if total := h.hits + h.misses; total > 0 {
		s.HitRate = float64(h.hits) / float64(total)
	}
	return s
}

// CounterMetric only goes up: fallbacks taken, retries scheduled, requests limited.
type CounterMetric struct {
	mu    sync.Mutex
	value int64
}

func (c *CounterMetric) add(delta int64) {
	c.mu.Lock()
	c.value += delta
	c.mu.Unlock()
}

// CounterSnapshot is the JSON form of a CounterMetric.
type CounterSnapshot struct {
	Value int64 `json:"value"`
}

func (c *CounterMetric) snapshot() CounterSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CounterSnapshot{Value: c.value}
}

// GaugeMetric holds a current value and its range, e.g. live widget connections.
type GaugeMetric struct {
	mu    sync.Mutex
	set   bool
	value int64
	min   int64
	max   int64
}

func (g *GaugeMetric) store(v int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.set || v < g.min {
		g.min = v
	}
	if !g.set || v > g.max {
		g.max = v
	}
	g.set = true
	g.value = v
}

// GaugeSnapshot is the JSON form of a GaugeMetric.
type GaugeSnapshot struct {
	Value int64 `json:"value"`
	Min   int64 `json:"min"`
	Max   int64 `json:"max"`
}

func (g *GaugeMetric) snapshot() GaugeSnapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return GaugeSnapshot{Value: g.value, Min: g.min, Max: g.max}
}

// SuccessFailMetric counts outcomes, with failures broken down by error kind.
type SuccessFailMetric struct {
	mu       sync.Mutex
	success  int64
	failures int64
	reasons  map[string]int64
}

func (sf *SuccessFailMetric) record(ok bool, reason string) {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	if ok {
		sf.success++
		return
	}
	if reason == "" {
		reason = "unknown"
	}
	if sf.reasons == nil {
		sf.reasons = make(map[string]int64)
	}
	sf.failures++
	sf.reasons[reason]++
}

// SuccessFailSnapshot is the JSON form of a SuccessFailMetric.
type SuccessFailSnapshot struct {
	Success        int64            `json:"success"`
	Failures       int64            `json:"failures"`
	SuccessRate    float64          `json:"success_rate"`
	FailureReasons map[string]int64 `json:"failure_reasons,omitempty"`
}

func (sf *SuccessFailMetric) snapshot() SuccessFailSnapshot {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	s := SuccessFailSnapshot{Success: sf.success, Failures: sf.failures, FailureReasons: maps.Clone(sf.reasons)}
	if total := sf.success + sf.failures; total > 0 {
		s.SuccessRate = float64(sf.success) / float64(total)
	}
	return s
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
