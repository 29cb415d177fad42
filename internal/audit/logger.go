package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// ErrNilStore is returned when a Logger is constructed without a store.
var ErrNilStore = errors.New("audit store cannot be nil")

// ErrChainBroken is returned by Verify when an entry's checksum or chain
// link does not match its recomputed value.
var ErrChainBroken = errors.New("audit chain verification failed")

// Logger appends hash-chained audit entries to a store.
//
// Chain continuity is owned by one Logger instance: the hash of the most
// recent entry is held in memory and every append reads it, persists the new
// entry, and advances it under a single mutex. Concurrent Log calls are
// therefore serialized; two goroutines can never record the same
// previous-hash and fork the chain.
type Logger struct {
	store   Store
	logger  *slog.Logger
	metrics *Metrics

	mu       sync.Mutex
	lastHash string
}

// LoggerOption configures a Logger.
type LoggerOption func(*Logger)

// WithLogger sets the slog logger used for internal diagnostics.
func WithLogger(l *slog.Logger) LoggerOption {
	return func(al *Logger) { al.logger = l }
}

// WithMetrics attaches Prometheus metrics to the logger.
func WithMetrics(m *Metrics) LoggerOption {
	return func(al *Logger) { al.metrics = m }
}

// NewLogger creates an audit logger over the given store. The chain is
// seeded from the store's last persisted chain hash, so a restart continues
// the existing chain instead of starting a fresh segment; if the store
// cannot report one, the chain starts empty for this process.
func NewLogger(ctx context.Context, store Store, opts ...LoggerOption) (*Logger, error) {
	if store == nil {
		return nil, ErrNilStore
	}

	al := &Logger{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(al)
	}

	lastHash, err := store.LastChainHash(ctx)
	if err != nil {
		al.logger.Warn("could not load last audit chain hash, starting new chain segment", "error", err)
	} else {
		al.lastHash = lastHash
	}

	return al, nil
}

// Log appends one audit entry and returns its ID.
//
// Persistence failures are swallowed: the failure is logged and counted, and
// an empty ID is returned. Audit logging must never abort the caller's
// primary operation, so the only failure signal to the caller is the empty
// ID; operators watch the write-failure counter instead.
func (al *Logger) Log(ctx context.Context, record Record) string {
	entry := &Entry{
		ID:                   uuid.New().String(),
		TenantID:             record.TenantID,
		UserID:               record.UserID,
		SessionID:            record.SessionID,
		Action:               record.Action,
		ResourceType:         record.ResourceType,
		ResourceID:           record.ResourceID,
		OldValues:            record.OldValues,
		NewValues:            record.NewValues,
		IPAddress:            record.IPAddress,
		UserAgent:            record.UserAgent,
		RiskScore:            record.RiskScore,
		DataClassification:   record.DataClassification,
		ComplianceFrameworks: record.ComplianceFrameworks,
		Timestamp:            nowUTC(),
	}
	if entry.DataClassification == "" {
		entry.DataClassification = ClassificationInternal
	}
	if len(entry.ComplianceFrameworks) == 0 {
		entry.ComplianceFrameworks = []string{FrameworkSOC2}
	}

	al.mu.Lock()
	defer al.mu.Unlock()

	entry.PreviousLogHash = al.lastHash
	checksum, err := computeChecksum(entry)
	if err != nil {
		al.logger.Error("audit checksum computation failed", "error", err)
		if al.metrics != nil {
			al.metrics.writeFailures.Inc()
		}
		return ""
	}
	entry.Checksum = checksum

	if err := al.store.Append(ctx, entry); err != nil {
		al.logger.Error("audit log write failed", "action", entry.Action, "error", err)
		if al.metrics != nil {
			al.metrics.writeFailures.Inc()
		}
		return ""
	}

	al.lastHash = chainHash(entry.ID, entry.Checksum)
	if al.metrics != nil {
		al.metrics.entriesTotal.Inc()
	}

	return entry.ID
}

// computeChecksum serializes every entry field except ID, Checksum, and
// Timestamp to canonical JSON (maps marshal with sorted keys) and hashes it.
// PreviousLogHash is included, so the checksum also commits to the entry's
// position in the chain.
func computeChecksum(entry *Entry) (string, error) {
	payload := map[string]any{
		"tenant_id":             entry.TenantID,
		"user_id":               entry.UserID,
		"session_id":            entry.SessionID,
		"action":                string(entry.Action),
		"resource_type":         entry.ResourceType,
		"resource_id":           entry.ResourceID,
		"old_values":            entry.OldValues,
		"new_values":            entry.NewValues,
		"ip_address":            entry.IPAddress,
		"user_agent":            entry.UserAgent,
		"risk_score":            entry.RiskScore,
		"data_classification":   entry.DataClassification,
		"compliance_frameworks": entry.ComplianceFrameworks,
		"previous_log_hash":     entry.PreviousLogHash,
	}

	canonical, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshaling checksum payload: %w", err)
	}

	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// chainHash computes the link value the next entry must carry:
// SHA256(entryID || checksum).
func chainHash(entryID, checksum string) string {
	sum := sha256.Sum256([]byte(entryID + checksum))
	return hex.EncodeToString(sum[:])
}

// VerifyEntry recomputes one entry's checksum. It catches payload edits but
// not reordering; use Verify for that when the full sequence is available.
func VerifyEntry(entry *Entry) error {
	checksum, err := computeChecksum(entry)
	if err != nil {
		return fmt.Errorf("%w: entry %s: %v", ErrChainBroken, entry.ID, err)
	}
	if checksum != entry.Checksum {
		return fmt.Errorf("%w: entry %s has a modified payload", ErrChainBroken, entry.ID)
	}
	return nil
}

// Verify checks a sequence of entries in append order: each entry's checksum
// must match its recomputed value, and each entry after the first must link
// to its predecessor. Entries edited after the fact fail one of the two.
func Verify(entries []*Entry) error {
	for i, entry := range entries {
		if err := VerifyEntry(entry); err != nil {
			return err
		}
		if i > 0 {
			want := chainHash(entries[i-1].ID, entries[i-1].Checksum)
			if entry.PreviousLogHash != want {
				return fmt.Errorf("%w: entry %s does not link to its predecessor", ErrChainBroken, entry.ID)
			}
		}
	}
	return nil
}
