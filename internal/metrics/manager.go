// Package metrics keeps in-process counters for the gateway, cache and
// widget instances. Metrics live for the process lifetime and are exposed
// as a JSON snapshot.
package metrics

import (
	"sort"
	"sync"
	"time"
)

// MetricsManager holds all metrics keyed by "topic/function" path.
type MetricsManager struct {
	mu          sync.RWMutex
	timings     map[string]*TimingMetric
	hitMiss     map[string]*HitMissMetric
	counters    map[string]*CounterMetric
	gauges      map[string]*GaugeMetric
	successFail map[string]*SuccessFailMetric
}

var (
	instance *MetricsManager
	once     sync.Once
)

// NewManager creates an empty manager. Tests use this instead of the singleton.
func NewManager() *MetricsManager {
	return &MetricsManager{
		timings:     make(map[string]*TimingMetric),
		hitMiss:     make(map[string]*HitMissMetric),
		counters:    make(map[string]*CounterMetric),
		gauges:      make(map[string]*GaugeMetric),
		successFail: make(map[string]*SuccessFailMetric),
	}
}

// GetInstance returns the singleton metrics manager
func GetInstance() *MetricsManager {
	once.Do(func() {
		instance = NewManager()
	})
	return instance
}

// buildPath creates a normalized path from topic and function
func buildPath(topic, function string) string {
	if function == "" {
		return topic
	}
	return topic + "/" + function
}

func newMetric[T any]() *T { return new(T) }

// getOrCreate returns the metric at path in m, creating it with mk.
func getOrCreate[T any](mu *sync.RWMutex, m map[string]*T, path string, mk func() *T) *T {
	mu.RLock()
	v, ok := m[path]
	mu.RUnlock()
	if ok {
		return v
	}
	mu.Lock()
	defer mu.Unlock()
	if v, ok = m[path]; !ok {
		v = mk()
		m[path] = v
	}
	return v
}

// RecordDuration records one observed latency.
func (m *MetricsManager) RecordDuration(topic, function string, duration time.Duration) {
	getOrCreate(&m.mu, m.timings, buildPath(topic, function), newMetric[TimingMetric]).observe(duration)
}

// RecordHit records a cache hit.
func (m *MetricsManager) RecordHit(topic, function string) {
	getOrCreate(&m.mu, m.hitMiss, buildPath(topic, function), newMetric[HitMissMetric]).record(true)
}

// RecordMiss records a cache miss.
func (m *MetricsManager) RecordMiss(topic, function string) {
	getOrCreate(&m.mu, m.hitMiss, buildPath(topic, function), newMetric[HitMissMetric]).record(false)
}

// AddCounter adds delta to a counter.
func (m *MetricsManager) AddCounter(topic, function string, delta int64) {
	getOrCreate(&m.mu, m.counters, buildPath(topic, function), newMetric[CounterMetric]).add(delta)
}

// SetGauge sets a gauge value.
func (m *MetricsManager) SetGauge(topic, function string, value int64) {
	getOrCreate(&m.mu, m.gauges, buildPath(topic, function), newMetric[GaugeMetric]).store(value)
}

// RecordSuccess records a successful operation.
func (m *MetricsManager) RecordSuccess(topic, function string) {
	getOrCreate(&m.mu, m.successFail, buildPath(topic, function), newMetric[SuccessFailMetric]).record(true, "")
}

// RecordFailure records a failed operation. An empty reason is counted as "unknown".
func (m *MetricsManager) RecordFailure(topic, function, reason string) {
	getOrCreate(&m.mu, m.successFail, buildPath(topic, function), newMetric[SuccessFailMetric]).record(false, reason)
}

// GetSnapshot returns a point-in-time copy of every metric, sorted by path.
func (m *MetricsManager) GetSnapshot() []MetricSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []MetricSnapshot
	for path, t := range m.timings {
		out = append(out, MetricSnapshot{Path: path, Type: TypeTiming, Data: t.snapshot()})
	}
	for path, h := range m.hitMiss {
		out = append(out, MetricSnapshot{Path: path, Type: TypeHitMiss, Data: h.snapshot()})
	}
	for path, c := range m.counters {
		out = append(out, MetricSnapshot{Path: path, Type: TypeCounter, Data: c.snapshot()})
	}
	for path, g := range m.gauges {
		out = append(out, MetricSnapshot{Path: path, Type: TypeGauge, Data: g.snapshot()})
	}
	for path, sf := range m.successFail {
		out = append(out, MetricSnapshot{Path: path, Type: TypeSuccessFail, Data: sf.snapshot()})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Path == out[j].Path {
			return out[i].Type < out[j].Type
		}
		return out[i].Path < out[j].Path
	})
	return out
}
