// Package evidence stores claim evidence blobs. The memory store backs tests and no-db
// mode; the S3 store writes to any S3-compatible bucket.
package evidence

import (
	"context"
	"fmt"
	"io"
	"sync"

	"heirloom/internal/domain"
)

type Object struct {
	MimeType string
	Body     []byte
}

type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]Object
}

func NewMemory() *MemoryStore {
	return &MemoryStore{objects: map[string]Object{}}
}

func (m *MemoryStore) Put(ctx context.Context, key, mimeType string, body io.Reader, size int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	if size >= 0 && int64(len(data)) != size {
		return fmt.Errorf("evidence %s: read %d bytes, expected %d", key, len(data), size)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[key]; ok {
		return fmt.Errorf("%w: evidence %s already stored", domain.ErrConflict, key)
	}
	m.objects[key] = Object{MimeType: mimeType, Body: data}
	return nil
}

func (m *MemoryStore) Get(key string) (Object, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	return obj, ok
}
