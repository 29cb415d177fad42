package mfa

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ConfigStore persists MFA configurations.
type ConfigStore interface {
	// Save persists a configuration, assigning an ID when empty, and
	// returns the ID. Saving an existing ID overwrites it.
	Save(ctx context.Context, config *Config) (string, error)

	// Get returns the active configuration for (userID, method), or
	// ErrNotConfigured.
	Get(ctx context.Context, userID string, method Method) (*Config, error)

	// Deactivate marks the configuration for (userID, method) inactive.
	// Configurations are never deleted.
	Deactivate(ctx context.Context, userID string, method Method) error

	// ActiveUserCount counts distinct users with at least one active
	// configuration.
	ActiveUserCount(ctx context.Context) (int, error)
}

// CodeStore holds pending one-time verification codes, hashed, keyed by
// (userID, method). Implementations must make Delete report whether this
// caller removed the code, so concurrent verifications cannot both succeed.
type CodeStore interface {
	// Put stores a code hash with a TTL, superseding any pending code for
	// the same (userID, method).
	Put(ctx context.Context, userID string, method Method, codeHash string, ttl time.Duration) error

	// Get returns the pending unexpired code hash, or ErrNoCode.
	Get(ctx context.Context, userID string, method Method) (string, error)

	// Delete removes the pending code and reports whether it was present.
	Delete(ctx context.Context, userID string, method Method) (bool, error)
}

// MemoryConfigStore is an in-memory ConfigStore for tests and development.
type MemoryConfigStore struct {
	mu      sync.RWMutex
	configs map[string]*Config // keyed by ID
}

// NewMemoryConfigStore creates an empty in-memory config store.
func NewMemoryConfigStore() *MemoryConfigStore {
	return &MemoryConfigStore{configs: make(map[string]*Config)}
}

// Save persists a configuration.
func (s *MemoryConfigStore) Save(_ context.Context, config *Config) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := cloneConfig(config)
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = nowUTC()
	}
	s.configs[stored.ID] = stored
	return stored.ID, nil
}

// Get returns the active configuration for (userID, method).
func (s *MemoryConfigStore) Get(_ context.Context, userID string, method Method) (*Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, config := range s.configs {
		if config.UserID == userID && config.Method == method && config.IsActive {
			return cloneConfig(config), nil
		}
	}
	return nil, ErrNotConfigured
}

// Deactivate marks the configuration for (userID, method) inactive.
func (s *MemoryConfigStore) Deactivate(_ context.Context, userID string, method Method) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, config := range s.configs {
		if config.UserID == userID && config.Method == method && config.IsActive {
			config.IsActive = false
			return nil
		}
	}
	return ErrNotConfigured
}

// ActiveUserCount counts distinct users with at least one active configuration.
func (s *MemoryConfigStore) ActiveUserCount(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make(map[string]struct{})
	for _, config := range s.configs {
		if config.IsActive {
			users[config.UserID] = struct{}{}
		}
	}
	return len(users), nil
}

func cloneConfig(config *Config) *Config {
	clone := *config
	clone.BackupCodeHashes = append([]string(nil), config.BackupCodeHashes...)
	if config.LastUsed != nil {
		lastUsed := *config.LastUsed
		clone.LastUsed = &lastUsed
	}
	return &clone
}

type pendingCode struct {
	hash      string
	expiresAt time.Time
}

// MemoryCodeStore is an in-memory CodeStore for tests and development.
type MemoryCodeStore struct {
	mu    sync.Mutex
	codes map[string]pendingCode
}

// NewMemoryCodeStore creates an empty in-memory code store.
func NewMemoryCodeStore() *MemoryCodeStore {
	return &MemoryCodeStore{codes: make(map[string]pendingCode)}
}

func codeKey(userID string, method Method) string {
	return userID + ":" + string(method)
}

// Put stores a code hash, superseding any pending code for the same key.
func (s *MemoryCodeStore) Put(_ context.Context, userID string, method Method, codeHash string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[codeKey(userID, method)] = pendingCode{hash: codeHash, expiresAt: nowUTC().Add(ttl)}
	return nil
}

// Get returns the pending unexpired code hash.
func (s *MemoryCodeStore) Get(_ context.Context, userID string, method Method) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := codeKey(userID, method)
	code, ok := s.codes[key]
	if !ok {
		return "", ErrNoCode
	}
	if nowUTC().After(code.expiresAt) {
		delete(s.codes, key)
		return "", ErrNoCode
	}
	return code.hash, nil
}

// Delete removes the pending code and reports whether it was present.
func (s *MemoryCodeStore) Delete(_ context.Context, userID string, method Method) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := codeKey(userID, method)
	if _, ok := s.codes[key]; !ok {
		return false, nil
	}
	delete(s.codes, key)
	return true, nil
}
