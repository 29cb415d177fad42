package risk

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// PostgresAttemptStore persists attempts in the login_attempts table.
type PostgresAttemptStore struct {
	db *sql.DB
}

// NewPostgresAttemptStore creates a Postgres-backed attempt store.
func NewPostgresAttemptStore(db *sql.DB) *PostgresAttemptStore {
	return &PostgresAttemptStore{db: db}
}

// Record persists one attempt.
func (s *PostgresAttemptStore) Record(ctx context.Context, attempt *Attempt) (string, error) {
	id := attempt.ID
	if id == "" {
		id = uuid.New().String()
	}
	ts := attempt.Timestamp
	if ts.IsZero() {
		ts = nowUTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO login_attempts (
			id, user_id, email, ip_address, user_agent, status,
			mfa_method, failure_reason, risk_indicators, risk_score, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		id,
		nullString(attempt.UserID),
		attempt.Email,
		attempt.IPAddress,
		attempt.UserAgent,
		string(attempt.Status),
		nullString(attempt.MFAMethod),
		nullString(attempt.FailureReason),
		pq.Array(attempt.RiskIndicators),
		attempt.RiskScore,
		ts,
	)
	if err != nil {
		return "", fmt.Errorf("insert login attempt: %w", err)
	}
	return id, nil
}

// CountFailuresSince counts failed attempts for an email at or after the cutoff.
func (s *PostgresAttemptStore) CountFailuresSince(ctx context.Context, email string, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM login_attempts
		WHERE email = $1 AND created_at >= $2 AND status IN ($3, $4)`,
		email, since, string(StatusFailedPassword), string(StatusFailedMFA),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count failed attempts: %w", err)
	}
	return count, nil
}

// HasSuccess reports whether a successful attempt exists for (email, userAgent).
func (s *PostgresAttemptStore) HasSuccess(ctx context.Context, email, userAgent string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM login_attempts
			WHERE email = $1 AND user_agent = $2 AND status = $3
		)`,
		email, userAgent, string(StatusSuccess),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check known device: %w", err)
	}
	return exists, nil
}

// CountSince counts attempts at or after the cutoff with any of the statuses.
func (s *PostgresAttemptStore) CountSince(ctx context.Context, since time.Time, statuses ...AttemptStatus) (int, error) {
	var (
		count int
		err   error
	)
	if len(statuses) == 0 {
		err = s.db.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM login_attempts WHERE created_at >= $1`,
			since,
		).Scan(&count)
	} else {
		raw := make([]string, len(statuses))
		for i, status := range statuses {
			raw[i] = string(status)
		}
		err = s.db.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM login_attempts
			WHERE created_at >= $1 AND status = ANY($2)`,
			since, pq.Array(raw),
		).Scan(&count)
	}
	if err != nil {
		return 0, fmt.Errorf("count attempts: %w", err)
	}
	return count, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// PostgresIncidentStore persists incidents in the security_incidents table.
type PostgresIncidentStore struct {
	db *sql.DB
}

// NewPostgresIncidentStore creates a Postgres-backed incident store.
func NewPostgresIncidentStore(db *sql.DB) *PostgresIncidentStore {
	return &PostgresIncidentStore{db: db}
}

// Create persists one incident.
func (s *PostgresIncidentStore) Create(ctx context.Context, incident *Incident) (string, error) {
	id := incident.ID
	if id == "" {
		id = uuid.New().String()
	}
	status := incident.Status
	if status == "" {
		status = IncidentOpen
	}
	created := incident.CreatedAt
	if created.IsZero() {
		created = nowUTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO security_incidents (
			id, tenant_id, incident_type, severity, description,
			affected_users, affected_resources, detection_method,
			status, assigned_to, resolution, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		id,
		nullString(incident.TenantID),
		incident.IncidentType,
		incident.Severity,
		incident.Description,
		pq.Array(incident.AffectedUsers),
		pq.Array(incident.AffectedResources),
		incident.DetectionMethod,
		status,
		nullString(incident.AssignedTo),
		nullString(incident.Resolution),
		created,
	)
	if err != nil {
		return "", fmt.Errorf("insert security incident: %w", err)
	}
	return id, nil
}

// CountOpen counts incidents in open or investigating status, optionally
// scoped to a tenant.
func (s *PostgresIncidentStore) CountOpen(ctx context.Context, tenantID string) (int, error) {
	var (
		count int
		err   error
	)
	if tenantID == "" {
		err = s.db.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM security_incidents WHERE status IN ($1, $2)`,
			IncidentOpen, IncidentInvestigating,
		).Scan(&count)
	} else {
		err = s.db.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM security_incidents
			WHERE tenant_id = $1 AND status IN ($2, $3)`,
			tenantID, IncidentOpen, IncidentInvestigating,
		).Scan(&count)
	}
	if err != nil {
		return 0, fmt.Errorf("count open incidents: %w", err)
	}
	return count, nil
}
