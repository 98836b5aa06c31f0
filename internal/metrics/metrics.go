// Package metrics keeps labelled counters in memory for /api/metrics and
// reports every increment to the global OpenTelemetry meter.
package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// series is one counter value for a name and label set.
type series struct {
	value atomic.Int64
	attrs attribute.Set
}

// counter groups every series of one metric name behind a single OTel
// instrument.
type counter struct {
	inst   metric.Int64Counter
	series map[string]*series // keyed by encoded label set
}

// Registry is safe for concurrent use. A nil *Registry drops increments.
type Registry struct {
	mu       sync.Mutex
	meter    metric.Meter
	counters map[string]*counter
}

func NewRegistry() *Registry {
	return &Registry{
		meter:    otel.GetMeterProvider().Meter("imagetohd"),
		counters: make(map[string]*counter),
	}
}

func labelSet(labels map[string]string) attribute.Set {
	kvs := make([]attribute.KeyValue, 0, len(labels))
	for k, v := range labels {
		kvs = append(kvs, attribute.String(k, v))
	}
	return attribute.NewSet(kvs...)
}

// key renders name{k=v,...} with labels in sorted order.
func key(name string, set attribute.Set) string {
	if set.Len() == 0 {
		return name
	}
	return name + "{" + set.Encoded(attribute.DefaultEncoder()) + "}"
}

// lookup returns the series for name and labels, creating the counter
// and its instrument on first use.
func (r *Registry) lookup(name string, set attribute.Set) (*counter, *series) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.counters[name]
	if !ok {
		inst, err := r.meter.Int64Counter(name)
		if err != nil {
			otel.Handle(err)
		}
		c = &counter{inst: inst, series: make(map[string]*series)}
		r.counters[name] = c
	}
	k := key(name, set)
	s, ok := c.series[k]
	if !ok {
		s = &series{attrs: set}
		c.series[k] = s
	}
	return c, s
}

// Inc adds n to the counter name{labels}.
func (r *Registry) Inc(ctx context.Context, name string, labels map[string]string, n int64) {
	if r == nil {
		return
	}
	c, s := r.lookup(name, labelSet(labels))
	s.value.Add(n)
	if c.inst != nil {
		c.inst.Add(ctx, n, metric.WithAttributeSet(s.attrs))
	}
}

// Value returns the current value of a counter, 0 if it was never touched.
func (r *Registry) Value(name string, labels map[string]string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.counters[name]
	if !ok {
		return 0
	}
	if s, ok := c.series[key(name, labelSet(labels))]; ok {
		return s.value.Load()
	}
	return 0
}

// SnapshotJSON maps every series key to its value.
func (r *Registry) SnapshotJSON() map[string]int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int64)
	for _, c := range r.counters {
		for k, s := range c.series {
			out[k] = s.value.Load()
		}
	}
	return out
}

// HandlerJSON serves SnapshotJSON.
func (r *Registry) HandlerJSON(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(r.SnapshotJSON())
}

// StatusClass folds an HTTP status into "2xx"-style buckets.
func StatusClass(code int) string {
	if code < 100 || code >= 600 {
		return "0"
	}
	return strconv.Itoa(code/100) + "xx"
}
