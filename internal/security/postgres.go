package security

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// PostgresSessionStore persists sessions in the security_sessions table.
type PostgresSessionStore struct {
	db *sql.DB
}

// NewPostgresSessionStore creates a Postgres-backed session store.
func NewPostgresSessionStore(db *sql.DB) *PostgresSessionStore {
	return &PostgresSessionStore{db: db}
}

// Create persists a session.
func (s *PostgresSessionStore) Create(ctx context.Context, session *Session) (string, error) {
	id := session.ID
	if id == "" {
		id = uuid.New().String()
	}
	created := session.CreatedAt
	if created.IsZero() {
		created = nowUTC()
	}
	lastActivity := session.LastActivity
	if lastActivity.IsZero() {
		lastActivity = created
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO security_sessions (
			id, user_id, tenant_id, token_hash, refresh_token_hash,
			ip_address, user_agent, is_active, created_at, last_activity,
			expires_at, mfa_verified, risk_score
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		id,
		session.UserID,
		nullString(session.TenantID),
		session.TokenHash,
		nullString(session.RefreshTokenHash),
		session.IPAddress,
		session.UserAgent,
		session.IsActive,
		created,
		lastActivity,
		session.ExpiresAt,
		session.MFAVerified,
		session.RiskScore,
	)
	if err != nil {
		return "", fmt.Errorf("insert session: %w", err)
	}
	return id, nil
}

// Get returns a session by ID.
func (s *PostgresSessionStore) Get(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, tenant_id, token_hash, refresh_token_hash,
		       ip_address, user_agent, is_active, created_at, last_activity,
		       expires_at, mfa_verified, risk_score
		FROM security_sessions WHERE id = $1`, id)

	var (
		session          Session
		tenantID         sql.NullString
		refreshTokenHash sql.NullString
	)
	err := row.Scan(
		&session.ID,
		&session.UserID,
		&tenantID,
		&session.TokenHash,
		&refreshTokenHash,
		&session.IPAddress,
		&session.UserAgent,
		&session.IsActive,
		&session.CreatedAt,
		&session.LastActivity,
		&session.ExpiresAt,
		&session.MFAVerified,
		&session.RiskScore,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	session.TenantID = tenantID.String
	session.RefreshTokenHash = refreshTokenHash.String
	return &session, nil
}

// Touch updates last_activity for an active session.
func (s *PostgresSessionStore) Touch(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE security_sessions SET last_activity = $1
		WHERE id = $2 AND is_active`, nowUTC(), id)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	if affected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// Invalidate marks a session inactive.
func (s *PostgresSessionStore) Invalidate(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE security_sessions SET is_active = FALSE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("invalidate session: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("invalidate session: %w", err)
	}
	if affected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// InvalidateUser marks every active session for a user inactive.
func (s *PostgresSessionStore) InvalidateUser(ctx context.Context, userID string) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE security_sessions SET is_active = FALSE
		WHERE user_id = $1 AND is_active`, userID)
	if err != nil {
		return 0, fmt.Errorf("invalidate user sessions: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("invalidate user sessions: %w", err)
	}
	return int(affected), nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// PostgresConsentStore persists consents in the privacy_consents table.
type PostgresConsentStore struct {
	db *sql.DB
}

// NewPostgresConsentStore creates a Postgres-backed consent store.
func NewPostgresConsentStore(db *sql.DB) *PostgresConsentStore {
	return &PostgresConsentStore{db: db}
}

// Create persists a consent record.
func (s *PostgresConsentStore) Create(ctx context.Context, consent *Consent) (string, error) {
	id := consent.ID
	if id == "" {
		id = uuid.New().String()
	}
	created := consent.CreatedAt
	if created.IsZero() {
		created = nowUTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO privacy_consents (
			id, user_id, tenant_id, consent_type, granted, purpose,
			legal_basis, consent_text, ip_address, user_agent, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		id,
		consent.UserID,
		nullString(consent.TenantID),
		consent.ConsentType,
		consent.Granted,
		consent.Purpose,
		nullString(consent.LegalBasis),
		consent.ConsentText,
		nullString(consent.IPAddress),
		nullString(consent.UserAgent),
		created,
	)
	if err != nil {
		return "", fmt.Errorf("insert consent: %w", err)
	}
	return id, nil
}

// Latest returns the most recent consent for (userID, consentType).
func (s *PostgresConsentStore) Latest(ctx context.Context, userID, consentType string) (*Consent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, tenant_id, consent_type, granted, purpose,
		       legal_basis, consent_text, ip_address, user_agent, created_at
		FROM privacy_consents
		WHERE user_id = $1 AND consent_type = $2
		ORDER BY created_at DESC LIMIT 1`, userID, consentType)

	var (
		consent    Consent
		tenantID   sql.NullString
		legalBasis sql.NullString
		ipAddress  sql.NullString
		userAgent  sql.NullString
	)
	err := row.Scan(
		&consent.ID,
		&consent.UserID,
		&tenantID,
		&consent.ConsentType,
		&consent.Granted,
		&consent.Purpose,
		&legalBasis,
		&consent.ConsentText,
		&ipAddress,
		&userAgent,
		&consent.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load consent: %w", err)
	}
	consent.TenantID = tenantID.String
	consent.LegalBasis = legalBasis.String
	consent.IPAddress = ipAddress.String
	consent.UserAgent = userAgent.String
	return &consent, nil
}
