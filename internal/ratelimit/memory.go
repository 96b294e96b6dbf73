package ratelimit

import (
	"context"
	"sync"
	"time"
)

type counter struct {
	hits    int64
	resetAt time.Time
}

// MemoryStore keeps counters in process memory. Expired windows are swept
// lazily, at most once per sweepEvery.
type MemoryStore struct {
	mu         sync.Mutex
	counters   map[string]*counter
	now        func() time.Time
	nextSweep  time.Time
	sweepEvery time.Duration
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		counters:   make(map[string]*counter),
		now:        time.Now,
		sweepEvery: time.Minute,
	}
}

func (m *MemoryStore) Increment(_ context.Context, key string, window time.Duration) (int64, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if now.After(m.nextSweep) {
		m.sweepLocked(now)
		m.nextSweep = now.Add(m.sweepEvery)
	}

	c, ok := m.counters[key]
	if !ok || !now.Before(c.resetAt) {
		c = &counter{resetAt: now.Add(window)}
		m.counters[key] = c
	}
	c.hits++

	return c.hits, c.resetAt, nil
}

// sweepLocked drops counters whose window has ended. Caller holds mu.
func (m *MemoryStore) sweepLocked(now time.Time) {
	for k, c := range m.counters {
		if !now.Before(c.resetAt) {
			delete(m.counters, k)
		}
	}
}
