// Package lock serializes work on a single vault, claim or recovery. The memory locker covers
// one process; the redis locker covers every replica sharing the redis instance.
package lock

import (
	"context"
	"fmt"
	"sync"

	"heirloom/internal/domain"
)

type entry struct {
	held chan struct{}
	refs int
}

type Memory struct {
	mu   sync.Mutex
	keys map[string]*entry
}

func NewMemory() *Memory {
	return &Memory{keys: make(map[string]*entry)}
}

// Lock blocks until key is free or ctx is done.
func (m *Memory) Lock(ctx context.Context, key string) (func(), error) {
	m.mu.Lock()
	e, ok := m.keys[key]
	if !ok {
		e = &entry{held: make(chan struct{}, 1)}
		m.keys[key] = e
	}
	e.refs++
	m.mu.Unlock()

	select {
	case e.held <- struct{}{}:
	case <-ctx.Done():
		m.release(key, e)
		return nil, fmt.Errorf("%w: lock %s is busy: %w", domain.ErrConflict, key, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.held
			m.release(key, e)
		})
	}, nil
}

func (m *Memory) release(key string, e *entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(m.keys, key)
	}
}
