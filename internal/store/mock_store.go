// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite and to inject storage failures

package store

import (
	"context"
	"sort"
	"sync"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu            sync.RWMutex
	conversations map[int64]*Conversation

	// FailWith, when set, is returned (wrapped as a StorageError) by every
	// mutating call. Reads keep working.
	FailWith error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		conversations: make(map[int64]*Conversation),
	}
}

// SetFailure makes subsequent writes fail with err; nil restores normal behavior.
func (m *MockStore) SetFailure(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FailWith = err
}

// Get retrieves a conversation by ID.
func (m *MockStore) Get(ctx context.Context, id int64) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return c.Clone(), nil
}

// Put stores a copy of the conversation, replacing any previous record.
func (m *MockStore) Put(ctx context.Context, c *Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailWith != nil {
		return storageErr("writing conversation", m.FailWith)
	}
	m.conversations[c.ID] = c.Clone()
	return nil
}

// Delete removes a conversation; absent ids are ignored.
func (m *MockStore) Delete(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailWith != nil {
		return storageErr("deleting conversation", m.FailWith)
	}
	delete(m.conversations, id)
	return nil
}

// Clear removes every conversation.
func (m *MockStore) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailWith != nil {
		return storageErr("clearing conversations", m.FailWith)
	}
	m.conversations = make(map[int64]*Conversation)
	return nil
}

// ListByGroup returns copies of the group's conversations, oldest first.
func (m *MockStore) ListByGroup(ctx context.Context, groupID int64) ([]*Conversation, error) {
	return m.Filter(ctx, func(c *Conversation) bool { return c.GroupID == groupID })
}

// CountByGroup counts the group's conversations.
func (m *MockStore) CountByGroup(ctx context.Context, groupID int64) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, c := range m.conversations {
		if c.GroupID == groupID {
			count++
		}
	}
	return count, nil
}

// ListRecent returns up to limit conversations, newest first.
func (m *MockStore) ListRecent(ctx context.Context, limit int) ([]*Conversation, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}

	all, err := m.Filter(ctx, func(*Conversation) bool { return true })
	if err != nil {
		return nil, err
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt != all[j].CreatedAt {
			return all[i].CreatedAt > all[j].CreatedAt
		}
		return all[i].ID > all[j].ID
	})
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// Filter returns copies of matching conversations ordered by CreatedAt ascending.
func (m *MockStore) Filter(ctx context.Context, pred Predicate) ([]*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := make([]*Conversation, 0)
	for _, c := range m.conversations {
		if pred(c) {
			matched = append(matched, c.Clone())
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt != matched[j].CreatedAt {
			return matched[i].CreatedAt < matched[j].CreatedAt
		}
		return matched[i].ID < matched[j].ID
	})
	return matched, nil
}

// Close is a no-op.
func (m *MockStore) Close() error {
	return nil
}

// Ensure MockStore implements Store interface
var _ Store = (*MockStore)(nil)
