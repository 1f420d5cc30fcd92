package audit

import (
	"context"
	"sync"
)

// MemoryBackend keeps entries in process memory only.
type MemoryBackend struct {
	mu      sync.Mutex
	entries []Entry
}

// NewMemoryBackend creates an empty backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

// Load implements Backend.
func (m *MemoryBackend) Load(context.Context) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, len(m.entries))
	for i, e := range m.entries {
		out[i] = e.Clone()
	}
	return out, nil
}

// Append implements Backend.
func (m *MemoryBackend) Append(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e.Clone())
	return nil
}

// Close implements Backend.
func (m *MemoryBackend) Close() error { return nil }
