package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// PostgresStore implements Store using PostgreSQL. The audit_logs table is
// append-only; this implementation issues no UPDATE or DELETE statements.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Append persists one entry.
func (s *PostgresStore) Append(ctx context.Context, entry *Entry) error {
	oldValues, err := marshalValues(entry.OldValues)
	if err != nil {
		return fmt.Errorf("failed to encode old_values: %w", err)
	}
	newValues, err := marshalValues(entry.NewValues)
	if err != nil {
		return fmt.Errorf("failed to encode new_values: %w", err)
	}

	query := `
		INSERT INTO audit_logs (
			id, tenant_id, user_id, session_id, action, resource_type, resource_id,
			old_values, new_values, ip_address, user_agent, risk_score,
			data_classification, compliance_frameworks, checksum, previous_log_hash,
			created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`

	_, err = s.db.ExecContext(
		ctx,
		query,
		entry.ID,
		nullString(entry.TenantID),
		nullString(entry.UserID),
		nullString(entry.SessionID),
		string(entry.Action),
		entry.ResourceType,
		nullString(entry.ResourceID),
		oldValues,
		newValues,
		nullString(entry.IPAddress),
		nullString(entry.UserAgent),
		entry.RiskScore,
		entry.DataClassification,
		pq.Array(entry.ComplianceFrameworks),
		entry.Checksum,
		nullString(entry.PreviousLogHash),
		entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// QueryByUser retrieves entries for a user, newest first.
func (s *PostgresStore) QueryByUser(ctx context.Context, userID string, limit int) ([]*Entry, error) {
	query := `
		SELECT id, tenant_id, user_id, session_id, action, resource_type, resource_id,
		       old_values, new_values, ip_address, user_agent, risk_score,
		       data_classification, compliance_frameworks, checksum, previous_log_hash,
		       created_at
		FROM audit_logs
		WHERE user_id = $1
		ORDER BY created_at DESC
	`
	args := []any{userID}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries by user: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// QueryByTenant retrieves entries for a tenant within [from, to), newest
// first. An empty tenantID matches all entries; tenant-less rows are stored
// with a NULL tenant_id.
func (s *PostgresStore) QueryByTenant(ctx context.Context, tenantID string, from, to time.Time, limit int) ([]*Entry, error) {
	query := `
		SELECT id, tenant_id, user_id, session_id, action, resource_type, resource_id,
		       old_values, new_values, ip_address, user_agent, risk_score,
		       data_classification, compliance_frameworks, checksum, previous_log_hash,
		       created_at
		FROM audit_logs
		WHERE ($1 = '' OR tenant_id = $1) AND created_at >= $2 AND created_at < $3
		ORDER BY created_at DESC
	`
	args := []any{tenantID, from, to}
	if limit > 0 {
		query += " LIMIT $4"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries by tenant: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// LastChainHash recomputes the chain hash from the most recent row so a new
// Logger can continue the persisted chain after a restart.
func (s *PostgresStore) LastChainHash(ctx context.Context) (string, error) {
	var id, checksum string
	query := `SELECT id, checksum FROM audit_logs ORDER BY created_at DESC LIMIT 1`
	err := s.db.QueryRowContext(ctx, query).Scan(&id, &checksum)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load last chain hash: %w", err)
	}
	return chainHash(id, checksum), nil
}

// scanEntries reads all rows into entries.
func scanEntries(rows *sql.Rows) ([]*Entry, error) {
	var results []*Entry
	for rows.Next() {
		entry := &Entry{}
		var tenantID, userID, sessionID, resourceID, ipAddress, userAgent, previousHash sql.NullString
		var oldValues, newValues []byte
		var frameworks pq.StringArray
		var action string

		err := rows.Scan(
			&entry.ID,
			&tenantID,
			&userID,
			&sessionID,
			&action,
			&entry.ResourceType,
			&resourceID,
			&oldValues,
			&newValues,
			&ipAddress,
			&userAgent,
			&entry.RiskScore,
			&entry.DataClassification,
			&frameworks,
			&entry.Checksum,
			&previousHash,
			&entry.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}

		entry.Action = Action(action)
		entry.TenantID = tenantID.String
		entry.UserID = userID.String
		entry.SessionID = sessionID.String
		entry.ResourceID = resourceID.String
		entry.IPAddress = ipAddress.String
		entry.UserAgent = userAgent.String
		entry.PreviousLogHash = previousHash.String
		entry.ComplianceFrameworks = frameworks

		if err := unmarshalValues(oldValues, &entry.OldValues); err != nil {
			return nil, err
		}
		if err := unmarshalValues(newValues, &entry.NewValues); err != nil {
			return nil, err
		}

		results = append(results, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit entries: %w", err)
	}
	return results, nil
}

// marshalValues encodes an optional values map as JSONB, NULL when empty.
func marshalValues(values map[string]any) (any, error) {
	if len(values) == 0 {
		return nil, nil
	}
	return json.Marshal(values)
}

// unmarshalValues decodes an optional JSONB column.
func unmarshalValues(data []byte, target *map[string]any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("failed to decode values column: %w", err)
	}
	return nil
}

// nullString converts "" to SQL NULL.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
