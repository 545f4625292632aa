// Package throttle meters check-ins and votes per vault, claim or recovery. The memory
// throttle counts inside one process; the redis throttle shares counters across replicas.
package throttle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"heirloom/internal/domain"
)

type counter struct {
	used int
	end  time.Time
}

type Memory struct {
	mu       sync.Mutex
	now      func() time.Time
	counters map[domain.ThrottleKey]*counter
	capacity int
}

// NewMemory keeps at most capacity live counters. Each replica meters on its own.
func NewMemory(capacity int, now func() time.Time) *Memory {
	if now == nil {
		now = time.Now
	}
	if capacity <= 0 {
		capacity = 10000
	}
	return &Memory{now: now, counters: make(map[domain.ThrottleKey]*counter), capacity: capacity}
}

func (m *Memory) Charge(_ context.Context, key domain.ThrottleKey, q domain.Quota) (domain.ThrottleVerdict, error) {
	if q.Limit <= 0 {
		return domain.ThrottleVerdict{Allowed: true}, nil
	}
	now := m.now()
	_, end := q.Span(now)

	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.counters[key]
	if !ok || !c.end.Equal(end) {
		if !ok && len(m.counters) >= m.capacity && m.evict(now) == 0 {
			return domain.ThrottleVerdict{}, fmt.Errorf("throttle holds %d live counters", m.capacity)
		}
		c = &counter{end: end}
		m.counters[key] = c
	}
	if c.used >= q.Limit {
		return q.Verdict(c.used+1, now, end), nil
	}
	c.used++
	return q.Verdict(c.used, now, end), nil
}

// evict drops counters whose window has closed and reports how many went.
func (m *Memory) evict(now time.Time) int {
	n := 0
	for k, c := range m.counters {
		if !now.Before(c.end) {
			delete(m.counters, k)
			n++
		}
	}
	return n
}
