package risk

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// AttemptStore is the queryable history of login attempts the scorer reads.
type AttemptStore interface {
	// Record persists one attempt and returns its ID.
	Record(ctx context.Context, attempt *Attempt) (string, error)

	// CountFailuresSince counts FAILED_PASSWORD and FAILED_MFA attempts for
	// an email at or after the cutoff.
	CountFailuresSince(ctx context.Context, email string, since time.Time) (int, error)

	// HasSuccess reports whether any successful attempt exists for the exact
	// (email, userAgent) pair.
	HasSuccess(ctx context.Context, email, userAgent string) (bool, error)

	// CountSince counts all attempts at or after the cutoff, optionally
	// restricted to the given statuses (none means all statuses).
	CountSince(ctx context.Context, since time.Time, statuses ...AttemptStatus) (int, error)
}

// IncidentStore persists security incidents.
type IncidentStore interface {
	// Create persists one incident and returns its ID.
	Create(ctx context.Context, incident *Incident) (string, error)

	// CountOpen counts incidents in open or investigating status.
	CountOpen(ctx context.Context, tenantID string) (int, error)
}

// MemoryAttemptStore is an in-memory AttemptStore for tests and development.
// Thread-safe via RWMutex.
type MemoryAttemptStore struct {
	mu       sync.RWMutex
	attempts []*Attempt
}

// NewMemoryAttemptStore creates an empty in-memory attempt store.
func NewMemoryAttemptStore() *MemoryAttemptStore {
	return &MemoryAttemptStore{}
}

// Record persists one attempt.
func (s *MemoryAttemptStore) Record(_ context.Context, attempt *Attempt) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *attempt
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	if stored.Timestamp.IsZero() {
		stored.Timestamp = nowUTC()
	}
	s.attempts = append(s.attempts, &stored)
	return stored.ID, nil
}

// CountFailuresSince counts failed attempts for an email at or after the cutoff.
func (s *MemoryAttemptStore) CountFailuresSince(_ context.Context, email string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, attempt := range s.attempts {
		if attempt.Email != email || attempt.Timestamp.Before(since) {
			continue
		}
		if attempt.Status == StatusFailedPassword || attempt.Status == StatusFailedMFA {
			count++
		}
	}
	return count, nil
}

// HasSuccess reports whether a successful attempt exists for (email, userAgent).
func (s *MemoryAttemptStore) HasSuccess(_ context.Context, email, userAgent string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, attempt := range s.attempts {
		if attempt.Email == email && attempt.UserAgent == userAgent && attempt.Status == StatusSuccess {
			return true, nil
		}
	}
	return false, nil
}

// CountSince counts attempts at or after the cutoff with any of the statuses.
func (s *MemoryAttemptStore) CountSince(_ context.Context, since time.Time, statuses ...AttemptStatus) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, attempt := range s.attempts {
		if attempt.Timestamp.Before(since) {
			continue
		}
		if len(statuses) == 0 {
			count++
			continue
		}
		for _, status := range statuses {
			if attempt.Status == status {
				count++
				break
			}
		}
	}
	return count, nil
}

// MemoryIncidentStore is an in-memory IncidentStore for tests and development.
type MemoryIncidentStore struct {
	mu        sync.RWMutex
	incidents []*Incident
}

// NewMemoryIncidentStore creates an empty in-memory incident store.
func NewMemoryIncidentStore() *MemoryIncidentStore {
	return &MemoryIncidentStore{}
}

// Create persists one incident.
func (s *MemoryIncidentStore) Create(_ context.Context, incident *Incident) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *incident
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	if stored.Status == "" {
		stored.Status = IncidentOpen
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = nowUTC()
	}
	s.incidents = append(s.incidents, &stored)
	return stored.ID, nil
}

// CountOpen counts incidents in open or investigating status.
func (s *MemoryIncidentStore) CountOpen(_ context.Context, tenantID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, incident := range s.incidents {
		if tenantID != "" && incident.TenantID != tenantID {
			continue
		}
		if incident.Status == IncidentOpen || incident.Status == IncidentInvestigating {
			count++
		}
	}
	return count, nil
}

// All returns every incident in creation order. Test helper.
func (s *MemoryIncidentStore) All() []*Incident {
	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]*Incident, 0, len(s.incidents))
	for _, incident := range s.incidents {
		incidentCopy := *incident
		results = append(results, &incidentCopy)
	}
	return results
}
