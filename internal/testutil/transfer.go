package testutil

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/roach88/resultexport/internal/transfer"
)

// MemoryTransfer is an in-memory transfer.Client.
type MemoryTransfer struct {
	mu    sync.Mutex
	files map[string][]byte

	// Corrupt, when set, rewrites content returned by GetFile.
	Corrupt   func(path string, content []byte) []byte
	PutErr    error
	GetErr    error
	DeleteErr error

	Puts    []string
	Deleted []string
}

// NewMemoryTransfer creates an empty channel.
func NewMemoryTransfer() *MemoryTransfer {
	return &MemoryTransfer{files: map[string][]byte{}}
}

// Seed stores a file without recording a put.
func (m *MemoryTransfer) Seed(p string, content []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[p] = append([]byte(nil), content...)
}

// File returns the stored content at p.
func (m *MemoryTransfer) File(p string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.files[p]
	return c, ok
}

// Paths returns every stored path in sorted order.
func (m *MemoryTransfer) Paths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.files))
	for p := range m.files {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (m *MemoryTransfer) PutFile(_ context.Context, p string, content []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Puts = append(m.Puts, p)
	if m.PutErr != nil {
		return m.PutErr
	}
	m.files[p] = append([]byte(nil), content...)
	return nil
}

func (m *MemoryTransfer) GetFile(_ context.Context, p string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	c, ok := m.files[p]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", p, transfer.ErrNotFound)
	}
	c = append([]byte(nil), c...)
	if m.Corrupt != nil {
		c = m.Corrupt(p, c)
	}
	return c, nil
}

func (m *MemoryTransfer) ListFiles(_ context.Context, dir, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for p := range m.files {
		if path.Dir(p) == path.Clean(dir) && strings.HasPrefix(path.Base(p), prefix) {
			out = append(out, path.Base(p))
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryTransfer) DeleteFile(_ context.Context, p string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Deleted = append(m.Deleted, p)
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	if _, ok := m.files[p]; !ok {
		return fmt.Errorf("delete %s: %w", p, transfer.ErrNotFound)
	}
	delete(m.files, p)
	return nil
}
