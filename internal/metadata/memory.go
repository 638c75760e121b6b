package metadata

import (
	"context"
	"sort"
	"sync"
)

// Memory is an in-process Store.
type Memory struct {
	mu       sync.RWMutex
	sessions map[string]map[int]Record
	closed   bool
}

// NewMemory returns an empty in-process store.
func NewMemory() *Memory {
	return &Memory{sessions: make(map[string]map[int]Record)}
}

func (m *Memory) Put(ctx context.Context, r Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	s, ok := m.sessions[r.FileHash]
	if !ok {
		s = make(map[int]Record)
		m.sessions[r.FileHash] = s
	}
	s[r.Index] = r
	return nil
}

func (m *Memory) Find(ctx context.Context, fileHash string) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	records := make([]Record, 0, len(m.sessions[fileHash]))
	for _, r := range m.sessions[fileHash] {
		records = append(records, r)
	}
	sortByIndex(records)
	return records, nil
}

func (m *Memory) Delete(ctx context.Context, fileHash string, index int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if s, ok := m.sessions[fileHash]; ok {
		delete(s, index)
		if len(s) == 0 {
			delete(m.sessions, fileHash)
		}
	}
	return nil
}

func (m *Memory) DeleteAll(ctx context.Context, fileHash string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}
	n := len(m.sessions[fileHash])
	delete(m.sessions, fileHash)
	return n, nil
}

func (m *Memory) Sessions(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	hashes := make([]string, 0, len(m.sessions))
	for h := range m.sessions {
		hashes = append(hashes, h)
	}
	sort.Strings(hashes)
	return hashes, nil
}

func (m *Memory) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
