// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu      sync.RWMutex
	index   map[string]ConversationEntry // keyed by conversation ID
	details map[string]CachedDetail      // keyed by conversation ID
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		index:   make(map[string]ConversationEntry),
		details: make(map[string]CachedDetail),
	}
}

// UpsertConversations stores or replaces index rows.
func (m *MockStore) UpsertConversations(ctx context.Context, entries []ConversationEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range entries {
		m.index[e.ID] = e
	}
	return nil
}

// ListConversations returns index rows, newest update first.
func (m *MockStore) ListConversations(ctx context.Context) ([]ConversationEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := make([]ConversationEntry, 0, len(m.index))
	for _, e := range m.index {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].UpdateTime.After(entries[j].UpdateTime)
	})
	return entries, nil
}

// PutDetail stores raw graph JSON.
func (m *MockStore) PutDetail(ctx context.Context, id string, raw []byte, fetchedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Copy to avoid external modification
	buf := make([]byte, len(raw))
	copy(buf, raw)
	m.details[id] = CachedDetail{ID: id, Raw: buf, FetchedAt: fetchedAt}
	return nil
}

// GetDetail returns stored graph JSON.
func (m *MockStore) GetDetail(ctx context.Context, id string) (*CachedDetail, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.details[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := d
	return &out, nil
}

// Invalidate drops cached rows for a conversation.
func (m *MockStore) Invalidate(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.details, id)
	delete(m.index, id)
	return nil
}

// Close is a no-op for the mock.
func (m *MockStore) Close() error {
	return nil
}
