// Package metrics keeps in-process operational counters.
package metrics

import (
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

const (
	EventsReceived    = "events_received"
	EventsThrottled   = "events_throttled"
	PipelineSucceeded = "pipeline_succeeded"
	PipelineFailed    = "pipeline_failed"
	InputRejected     = "input_rejected"
	Denials           = "entitlement_denied"
	FreeConsumed      = "free_consumed"
	Logins            = "logins"
	LoginFailures     = "login_failures"
	PurchaseRequests  = "purchase_requests"
	TransportFailures = "transport_failures"
)

// Registry is a set of named monotonic counters. A nil *Registry ignores
// every call.
type Registry struct {
	mu       sync.RWMutex
	counters map[string]*atomic.Int64
}

func New() *Registry {
	return &Registry{counters: make(map[string]*atomic.Int64)}
}

// Key joins a counter name with labels, e.g. Key("pipeline_failed", "audio").
func Key(name string, labels ...string) string {
	if len(labels) == 0 {
		return name
	}
	return name + "." + strings.Join(labels, ".")
}

// Inc adds one to the counter name (with optional labels).
func (r *Registry) Inc(name string, labels ...string) {
	r.Add(Key(name, labels...), 1)
}

func (r *Registry) Add(key string, delta int64) {
	if r == nil {
		return
	}
	r.mu.RLock()
	c, ok := r.counters[key]
	r.mu.RUnlock()
	if !ok {
		r.mu.Lock()
		if c, ok = r.counters[key]; !ok {
			c = new(atomic.Int64)
			r.counters[key] = c
		}
		r.mu.Unlock()
	}
	c.Add(delta)
}

func (r *Registry) Get(key string) int64 {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.counters[key]; ok {
		return c.Load()
	}
	return 0
}

// Snapshot copies every counter.
func (r *Registry) Snapshot() map[string]int64 {
	out := make(map[string]int64)
	if r == nil {
		return out
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for k, c := range r.counters {
		out[k] = c.Load()
	}
	return out
}

// Keys lists counter keys in order.
func (r *Registry) Keys() []string {
	snap := r.Snapshot()
	keys := make([]string, 0, len(snap))
	for k := range snap {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
