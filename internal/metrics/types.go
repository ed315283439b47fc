// Package metrics provides running statistics, Prometheus-compatible
// counters and persistent evaluation history for reid-eval.
package metrics

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"
)

// Counter represents a monotonically increasing counter.
type Counter struct {
	name  string
	help  string
	value int64
}

// NewCounter creates a new counter.
func NewCounter(name, help string) *Counter {
	return &Counter{name: name, help: help}
}

// Inc increments the counter by 1.
func (c *Counter) Inc() {
	atomic.AddInt64(&c.value, 1)
}

// Add adds the given value to the counter.
func (c *Counter) Add(delta int64) {
	if delta < 0 {
		return // Counters can't decrease
	}
	atomic.AddInt64(&c.value, delta)
}

// Value returns the current counter value.
func (c *Counter) Value() int64 {
	return atomic.LoadInt64(&c.value)
}

// Gauge holds a float64 that can go up and down.
type Gauge struct {
	name string
	help string
	bits uint64
}

// NewGauge creates a new gauge.
func NewGauge(name, help string) *Gauge {
	return &Gauge{name: name, help: help}
}

// Set sets the gauge to the given value.
func (g *Gauge) Set(value float64) {
	atomic.StoreUint64(&g.bits, math.Float64bits(value))
}

// Value returns the current gauge value.
func (g *Gauge) Value() float64 {
	return math.Float64frombits(atomic.LoadUint64(&g.bits))
}

// CounterVec is a family of counters partitioned by one label.
type CounterVec struct {
	name     string
	help     string
	label    string
	mu       sync.RWMutex
	counters map[string]*Counter
}

// NewCounterVec creates a counter family keyed by label.
func NewCounterVec(name, help, label string) *CounterVec {
	return &CounterVec{
		name:     name,
		help:     help,
		label:    label,
		counters: make(map[string]*Counter),
	}
}

// With returns the counter for the given label value, creating it if needed.
func (v *CounterVec) With(value string) *Counter {
	v.mu.RLock()
	c, ok := v.counters[value]
	v.mu.RUnlock()
	if ok {
		return c
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if c, ok = v.counters[value]; !ok {
		c = NewCounter(v.name, v.help)
		v.counters[value] = c
	}
	return c
}

// Values returns a snapshot of every label value and its count.
func (v *CounterVec) Values() map[string]int64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make(map[string]int64, len(v.counters))
	for k, c := range v.counters {
		out[k] = c.Value()
	}
	return out
}

// GaugeVec is a family of gauges partitioned by one label.
type GaugeVec struct {
	name   string
	help   string
	label  string
	mu     sync.RWMutex
	gauges map[string]*Gauge
}

// NewGaugeVec creates a gauge family keyed by label.
func NewGaugeVec(name, help, label string) *GaugeVec {
	return &GaugeVec{
		name:   name,
		help:   help,
		label:  label,
		gauges: make(map[string]*Gauge),
	}
}

// With returns the gauge for the given label value, creating it if needed.
func (v *GaugeVec) With(value string) *Gauge {
	v.mu.Lock()
	defer v.mu.Unlock()
	g, ok := v.gauges[value]
	if !ok {
		g = NewGauge(v.name, v.help)
		v.gauges[value] = g
	}
	return g
}

// Values returns a snapshot of every label value and its gauge reading.
func (v *GaugeVec) Values() map[string]float64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make(map[string]float64, len(v.gauges))
	for k, g := range v.gauges {
		out[k] = g.Value()
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
