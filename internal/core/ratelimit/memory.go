package ratelimit

import (
	"context"
	"sync"
	"time"
)

const sweepEvery = 1024

// MemoryLimiter keeps a sliding window of timestamps per key. State lives for
// the process lifetime.
type MemoryLimiter struct {
	mu     sync.Mutex
	events map[string]*window
	calls  int
	now    func() time.Time
}

// window is one key's history, pruned by the span its last caller asked for.
type window struct {
	ts   []time.Time
	span time.Duration
}

func NewInMemory() *MemoryLimiter {
	return &MemoryLimiter{events: map[string]*window{}, now: time.Now}
}

func (m *MemoryLimiter) Allow(_ context.Context, key string, limit int, span time.Duration) (Decision, error) {
	if err := validate(limit, span); err != nil {
		return Decision{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.calls++
	if m.calls%sweepEvery == 0 {
		m.sweep(now)
	}

	w, ok := m.events[key]
	if !ok {
		w = &window{}
		m.events[key] = w
	}
	w.span = span
	w.ts = prune(w.ts, now.Add(-span))
	if len(w.ts) >= limit {
		return Decision{Allowed: false, RetryAfter: w.ts[0].Add(span).Sub(now)}, nil
	}

	w.ts = append(w.ts, now)
	return Decision{Allowed: true, Remaining: limit - len(w.ts)}, nil
}

// prune drops timestamps at or before cutoff. ts is in ascending order.
func prune(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	return ts[i:]
}

// sweep removes keys with no event inside their own window.
func (m *MemoryLimiter) sweep(now time.Time) {
	for k, w := range m.events {
		if len(prune(w.ts, now.Add(-w.span))) == 0 {
			delete(m.events, k)
		}
	}
}

var _ Limiter = (*MemoryLimiter)(nil)
