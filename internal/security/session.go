package security

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrSessionNotFound is returned when a session ID does not resolve.
var ErrSessionNotFound = errors.New("session not found")

// SessionStore persists security sessions.
type SessionStore interface {
	// Create persists a session, assigning an ID when empty.
	Create(ctx context.Context, session *Session) (string, error)

	// Get returns a session by ID, or ErrSessionNotFound.
	Get(ctx context.Context, id string) (*Session, error)

	// Touch updates last_activity for an active session.
	Touch(ctx context.Context, id string) error

	// Invalidate marks a session inactive. Sessions are never deleted.
	Invalidate(ctx context.Context, id string) error

	// InvalidateUser marks every active session for a user inactive and
	// returns how many were affected.
	InvalidateUser(ctx context.Context, userID string) (int, error)
}

// ConsentStore persists privacy consent records.
type ConsentStore interface {
	Create(ctx context.Context, consent *Consent) (string, error)
	// Latest returns the most recent consent for (userID, consentType),
	// or nil when none exists.
	Latest(ctx context.Context, userID, consentType string) (*Consent, error)
}

// TokenHash is the storable digest of a bearer token. Raw tokens are never
// persisted.
func TokenHash(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// MemorySessionStore is an in-memory SessionStore for tests and development.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewMemorySessionStore creates an empty in-memory session store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]*Session)}
}

// Create persists a session.
func (s *MemorySessionStore) Create(_ context.Context, session *Session) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *session
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = nowUTC()
	}
	if stored.LastActivity.IsZero() {
		stored.LastActivity = stored.CreatedAt
	}
	s.sessions[stored.ID] = &stored
	return stored.ID, nil
}

// Get returns a session by ID.
func (s *MemorySessionStore) Get(_ context.Context, id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	sessionCopy := *session
	return &sessionCopy, nil
}

// Touch updates last_activity for an active session.
func (s *MemorySessionStore) Touch(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok || !session.IsActive {
		return ErrSessionNotFound
	}
	session.LastActivity = nowUTC()
	return nil
}

// Invalidate marks a session inactive.
func (s *MemorySessionStore) Invalidate(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	session.IsActive = false
	return nil
}

// InvalidateUser marks every active session for a user inactive.
func (s *MemorySessionStore) InvalidateUser(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, session := range s.sessions {
		if session.UserID == userID && session.IsActive {
			session.IsActive = false
			count++
		}
	}
	return count, nil
}

// MemoryConsentStore is an in-memory ConsentStore for tests and development.
type MemoryConsentStore struct {
	mu       sync.RWMutex
	consents []*Consent
}

// NewMemoryConsentStore creates an empty in-memory consent store.
func NewMemoryConsentStore() *MemoryConsentStore {
	return &MemoryConsentStore{}
}

// Create persists a consent record.
func (s *MemoryConsentStore) Create(_ context.Context, consent *Consent) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *consent
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = nowUTC()
	}
	s.consents = append(s.consents, &stored)
	return stored.ID, nil
}

// Latest returns the most recent consent for (userID, consentType).
func (s *MemoryConsentStore) Latest(_ context.Context, userID, consentType string) (*Consent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := len(s.consents) - 1; i >= 0; i-- {
		consent := s.consents[i]
		if consent.UserID == userID && consent.ConsentType == consentType {
			consentCopy := *consent
			return &consentCopy, nil
		}
	}
	return nil, nil
}
