package mfa

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// PostgresConfigStore persists MFA configurations in the mfa_configurations
// table.
type PostgresConfigStore struct {
	db *sql.DB
}

// NewPostgresConfigStore creates a Postgres-backed config store.
func NewPostgresConfigStore(db *sql.DB) *PostgresConfigStore {
	return &PostgresConfigStore{db: db}
}

// Save persists a configuration, assigning an ID when empty.
func (s *PostgresConfigStore) Save(ctx context.Context, config *Config) (string, error) {
	id := config.ID
	if id == "" {
		id = uuid.New().String()
	}
	created := config.CreatedAt
	if created.IsZero() {
		created = nowUTC()
	}

	var lastUsed sql.NullTime
	if config.LastUsed != nil {
		lastUsed = sql.NullTime{Time: *config.LastUsed, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO mfa_configurations (
			id, user_id, method, secret_key, phone_number, email,
			backup_code_hashes, is_primary, is_active, created_at,
			last_used, use_count
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			secret_key = EXCLUDED.secret_key,
			phone_number = EXCLUDED.phone_number,
			email = EXCLUDED.email,
			backup_code_hashes = EXCLUDED.backup_code_hashes,
			is_primary = EXCLUDED.is_primary,
			is_active = EXCLUDED.is_active,
			last_used = EXCLUDED.last_used,
			use_count = EXCLUDED.use_count`,
		id, config.UserID, string(config.Method),
		nullString(config.SecretKey), nullString(config.PhoneNumber), nullString(config.Email),
		pq.Array(config.BackupCodeHashes), config.IsPrimary, config.IsActive,
		created, lastUsed, config.UseCount,
	)
	if err != nil {
		return "", fmt.Errorf("saving mfa configuration: %w", err)
	}
	return id, nil
}

// Get returns the active configuration for (userID, method).
func (s *PostgresConfigStore) Get(ctx context.Context, userID string, method Method) (*Config, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, method, secret_key, phone_number, email,
		       backup_code_hashes, is_primary, is_active, created_at,
		       last_used, use_count
		FROM mfa_configurations
		WHERE user_id = $1 AND method = $2 AND is_active = TRUE
		ORDER BY created_at DESC
		LIMIT 1`,
		userID, string(method),
	)

	var config Config
	var methodStr string
	var secretKey, phoneNumber, email sql.NullString
	var lastUsed sql.NullTime
	err := row.Scan(
		&config.ID, &config.UserID, &methodStr, &secretKey, &phoneNumber, &email,
		pq.Array(&config.BackupCodeHashes), &config.IsPrimary, &config.IsActive,
		&config.CreatedAt, &lastUsed, &config.UseCount,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotConfigured
	}
	if err != nil {
		return nil, fmt.Errorf("loading mfa configuration: %w", err)
	}

	config.Method = Method(methodStr)
	config.SecretKey = secretKey.String
	config.PhoneNumber = phoneNumber.String
	config.Email = email.String
	if lastUsed.Valid {
		t := lastUsed.Time
		config.LastUsed = &t
	}
	return &config, nil
}

// Deactivate marks the configuration for (userID, method) inactive.
func (s *PostgresConfigStore) Deactivate(ctx context.Context, userID string, method Method) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE mfa_configurations
		SET is_active = FALSE
		WHERE user_id = $1 AND method = $2 AND is_active = TRUE`,
		userID, string(method),
	)
	if err != nil {
		return fmt.Errorf("deactivating mfa configuration: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("deactivating mfa configuration: %w", err)
	}
	if affected == 0 {
		return ErrNotConfigured
	}
	return nil
}

// ActiveUserCount counts distinct users with at least one active
// configuration.
func (s *PostgresConfigStore) ActiveUserCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT user_id)
		FROM mfa_configurations
		WHERE is_active = TRUE`,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting mfa users: %w", err)
	}
	return count, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
