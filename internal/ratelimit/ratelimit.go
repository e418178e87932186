// Package ratelimit implements the per-endpoint sliding-window governor
// (C4): the engine-side pre-check that paces calls against the venue
// before the adapter even attempts a request. It is a pure in-memory
// bookkeeping structure (a slice of request timestamps per endpoint
// guarded by a mutex) — no third-party dependency in the pack offers
// anything beyond what stdlib sync/time already provide for this, so this
// package is deliberately stdlib-only (see DESIGN.md).
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Quota is a requests-per-window budget for one endpoint.
type Quota struct {
	RequestsPerWindow int
	WindowSeconds     int
}

const (
	// EndpointOrders is the POST /orders (order placement) key.
	EndpointOrders = "/orders"
	// EndpointOrderByID is the DELETE/GET /orders/{id} key (cancels and
	// status polling); it has its own window at the default 10 req/s quota.
	EndpointOrderByID = "/orders/{id}"
	// EndpointDefault is the fallback bucket for any other endpoint key.
	EndpointDefault = "default"
)

// DefaultQuotas mirrors spec.md §4.4: 15 req/s for /orders, 10 req/s
// otherwise.
func DefaultQuotas() map[string]Quota {
	return map[string]Quota{
		EndpointOrders:    {RequestsPerWindow: 15, WindowSeconds: 1},
		EndpointOrderByID: {RequestsPerWindow: 10, WindowSeconds: 1},
		EndpointDefault:   {RequestsPerWindow: 10, WindowSeconds: 1},
	}
}

type endpointState struct {
	quota        Quota
	requestTimes []time.Time
}

// Governor enforces sliding-window quotas per endpoint. Safe for concurrent
// use across pairs/engines (spec.md §5: "shared across pairs").
type Governor struct {
	mu     sync.Mutex
	quotas map[string]Quota
	states map[string]*endpointState
	now    func() time.Time // overridable for tests
}

// New constructs a Governor. A nil quotas map uses DefaultQuotas().
func New(quotas map[string]Quota) *Governor {
	if quotas == nil {
		quotas = DefaultQuotas()
	}
	return &Governor{
		quotas: quotas,
		states: make(map[string]*endpointState),
		now:    time.Now,
	}
}

func (g *Governor) state(endpoint string) *endpointState {
	if s, ok := g.states[endpoint]; ok {
		return s
	}
	q, ok := g.quotas[endpoint]
	if !ok {
		q = g.quotas[EndpointDefault]
	}
	s := &endpointState{quota: q}
	g.states[endpoint] = s
	return s
}

func (s *endpointState) prune(now time.Time) {
	cutoff := now.Add(-time.Duration(s.quota.WindowSeconds) * time.Second)
	kept := s.requestTimes[:0]
	for _, t := range s.requestTimes {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	s.requestTimes = kept
}

// IsAllowed reports whether a request to endpoint is allowed right now.
func (g *Governor) IsAllowed(endpoint string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	s := g.state(endpoint)
	s.prune(g.now())
	return len(s.requestTimes) < s.quota.RequestsPerWindow
}

// RecordRequest appends a timestamp for endpoint to its sliding window.
func (g *Governor) RecordRequest(endpoint string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s := g.state(endpoint)
	s.requestTimes = append(s.requestTimes, g.now())
}

// TimeUntilAllowed returns how long to wait before the next request to
// endpoint is allowed; 0 if allowed now.
func (g *Governor) TimeUntilAllowed(endpoint string) time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.timeUntilAllowedLocked(endpoint)
}

func (g *Governor) timeUntilAllowedLocked(endpoint string) time.Duration {
	s := g.state(endpoint)
	now := g.now()
	s.prune(now)
	if len(s.requestTimes) < s.quota.RequestsPerWindow {
		return 0
	}
	oldest := s.requestTimes[0]
	for _, t := range s.requestTimes[1:] {
		if t.Before(oldest) {
			oldest = t
		}
	}
	wait := oldest.Add(time.Duration(s.quota.WindowSeconds) * time.Second).Sub(now)
	if wait < 0 {
		return 0
	}
	return wait
}

// WaitIfNeeded blocks (cooperatively, via context) until endpoint is
// allowed or maxWait elapses. Returns true if the caller may proceed (and
// the request has already been recorded), false on timeout.
func (g *Governor) WaitIfNeeded(ctx context.Context, endpoint string, maxWait time.Duration) bool {
	deadline := g.now().Add(maxWait)
	for {
		g.mu.Lock()
		s := g.state(endpoint)
		s.prune(g.now())
		if len(s.requestTimes) < s.quota.RequestsPerWindow {
			s.requestTimes = append(s.requestTimes, g.now())
			g.mu.Unlock()
			return true
		}
		wait := g.timeUntilAllowedLocked(endpoint)
		g.mu.Unlock()

		if g.now().Add(wait).After(deadline) {
			return false
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
	}
}
