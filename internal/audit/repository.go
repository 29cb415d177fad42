package audit

import (
	"context"
	"sync"
	"time"
)

// Store is the append-only persistence sink for audit entries. No update or
// delete operation exists; the log is monotonic.
type Store interface {
	// Append persists one entry.
	Append(ctx context.Context, entry *Entry) error

	// QueryByUser retrieves entries for a user, newest first.
	// limit 0 means no limit.
	QueryByUser(ctx context.Context, userID string, limit int) ([]*Entry, error)

	// QueryByTenant retrieves entries for a tenant within [from, to), newest
	// first. An empty tenantID matches all entries; limit 0 means no limit.
	QueryByTenant(ctx context.Context, tenantID string, from, to time.Time, limit int) ([]*Entry, error)

	// LastChainHash returns the chain hash of the most recent entry, or ""
	// when the store is empty. Used to continue the chain across restarts.
	LastChainHash(ctx context.Context) (string, error)
}

// MemoryStore is an in-memory Store for tests and development.
// Thread-safe via RWMutex.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []*Entry
}

// NewMemoryStore creates an empty in-memory audit store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Append persists one entry.
func (s *MemoryStore) Append(_ context.Context, entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Store a copy to prevent external modification
	stored := *entry
	s.entries = append(s.entries, &stored)
	return nil
}

// QueryByUser retrieves entries for a user, newest first.
func (s *MemoryStore) QueryByUser(_ context.Context, userID string, limit int) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []*Entry
	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i].UserID != userID {
			continue
		}
		entryCopy := *s.entries[i]
		results = append(results, &entryCopy)
		if limit > 0 && len(results) >= limit {
			break
		}
	}
	return results, nil
}

// QueryByTenant retrieves entries for a tenant within [from, to), newest first.
func (s *MemoryStore) QueryByTenant(_ context.Context, tenantID string, from, to time.Time, limit int) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []*Entry
	for i := len(s.entries) - 1; i >= 0; i-- {
		entry := s.entries[i]
		if tenantID != "" && entry.TenantID != tenantID {
			continue
		}
		if entry.Timestamp.Before(from) || !entry.Timestamp.Before(to) {
			continue
		}
		entryCopy := *entry
		results = append(results, &entryCopy)
		if limit > 0 && len(results) >= limit {
			break
		}
	}
	return results, nil
}

// LastChainHash returns the chain hash of the most recent entry.
func (s *MemoryStore) LastChainHash(_ context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.entries) == 0 {
		return "", nil
	}
	last := s.entries[len(s.entries)-1]
	return chainHash(last.ID, last.Checksum), nil
}

// All returns every entry in append order. Test helper.
func (s *MemoryStore) All() []*Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]*Entry, 0, len(s.entries))
	for _, entry := range s.entries {
		entryCopy := *entry
		results = append(results, &entryCopy)
	}
	return results
}
