package testutil

import (
	"context"
	"sync"

	"github.com/roach88/resultexport/internal/model"
)

// MemoryMetadata is an in-memory sequence.MetadataStore.
type MemoryMetadata struct {
	mu      sync.Mutex
	data    map[string]model.DispatchMetadata
	Writes  []model.DispatchMetadata
	ReadErr error
	// WriteErr fails every Write when set.
	WriteErr error
}

// NewMemoryMetadata creates an empty store.
func NewMemoryMetadata() *MemoryMetadata {
	return &MemoryMetadata{data: map[string]model.DispatchMetadata{}}
}

func (m *MemoryMetadata) Read(_ context.Context, key string) (model.DispatchMetadata, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ReadErr != nil {
		return model.DispatchMetadata{}, false, m.ReadErr
	}
	meta, ok := m.data[key]
	return meta, ok, nil
}

func (m *MemoryMetadata) Write(_ context.Context, meta model.DispatchMetadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.WriteErr != nil {
		return m.WriteErr
	}
	m.data[meta.StreamKey] = meta
	m.Writes = append(m.Writes, meta)
	return nil
}

// History returns up to limit successful writes for key, newest first.
func (m *MemoryMetadata) History(_ context.Context, key string, limit int) ([]model.DispatchMetadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ReadErr != nil {
		return nil, m.ReadErr
	}
	out := []model.DispatchMetadata{}
	for i := len(m.Writes) - 1; i >= 0 && len(out) < limit; i-- {
		if m.Writes[i].StreamKey == key {
			out = append(out, m.Writes[i])
		}
	}
	return out, nil
}
