// Package stats records rate limit decisions for observability.
//
// Recording is best-effort: middleware treats a recorder error as
// something to log, never as a reason to fail the request.
package stats

import (
	"context"
	"sync"
	"time"
)

// Event is one rate limit decision. Method and Path are generic strings so
// the same recorder serves HTTP and gRPC traffic.
//
// Keep an eye on cardinality: recording by key or by path without control
// can blow up the number of series in a backing store.
type Event struct {
	Key     string
	Allowed bool

	Method string
	Path   string

	At time.Time
}

// Recorder persists decision events.
type Recorder interface {
	Record(ctx context.Context, ev Event) error
}

// Counters holds allowed/denied totals.
type Counters struct {
	Allowed int64
	Denied  int64
}

// Memory is an in-process Recorder. It never expires data, so it is meant
// for tests, development, and low-cardinality deployments.
type Memory struct {
	mu      sync.Mutex
	total   Counters
	byRoute map[string]Counters
	byKey   map[string]Counters

	trackKeys bool
}

// MemoryOption configures a Memory recorder.
type MemoryOption func(*Memory)

// WithTrackKeys enables per-key counters. Off by default because keys are
// typically client IPs and unbounded.
func WithTrackKeys(track bool) MemoryOption {
	return func(m *Memory) { m.trackKeys = track }
}

// NewMemory creates an in-process recorder.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		byRoute: make(map[string]Counters),
		byKey:   make(map[string]Counters),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Record implements Recorder.
func (m *Memory) Record(_ context.Context, ev Event) error {
	route := ev.Method + " " + ev.Path

	m.mu.Lock()
	defer m.mu.Unlock()

	bump := func(c *Counters) {
		if ev.Allowed {
			c.Allowed++
		} else {
			c.Denied++
		}
	}

	bump(&m.total)

	c := m.byRoute[route]
	bump(&c)
	m.byRoute[route] = c

	if m.trackKeys {
		k := m.byKey[ev.Key]
		bump(&k)
		m.byKey[ev.Key] = k
	}
	return nil
}

// Total returns the overall counters.
func (m *Memory) Total() Counters {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.total
}

// ByRoute returns a copy of the per-route counters.
func (m *Memory) ByRoute() map[string]Counters {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Counters, len(m.byRoute))
	for k, v := range m.byRoute {
		out[k] = v
	}
	return out
}

// ByKey returns a copy of the per-key counters. Empty unless WithTrackKeys
// was enabled.
func (m *Memory) ByKey() map[string]Counters {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Counters, len(m.byKey))
	for k, v := range m.byKey {
		out[k] = v
	}
	return out
}
