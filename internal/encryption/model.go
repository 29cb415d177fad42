// Package encryption provides field-level encryption for PII data using
// AES-256-GCM with per-field derived keys and versioned master keys.
package encryption

import (
	"errors"
	"fmt"
	"time"
)

// Classification levels for encrypted data, ordered from least to most sensitive.
const (
	ClassificationPublic       = "public"
	ClassificationInternal     = "internal"
	ClassificationConfidential = "confidential"
	ClassificationRestricted   = "restricted"
)

// Algorithm identifies the only cipher this package produces.
const Algorithm = "AES-256-GCM"

// Encryption errors. Callers distinguish key-management failures (fix the
// configuration) from encryption/decryption failures (the data itself).
var (
	// ErrKeyManagement is returned when key material is missing or invalid.
	ErrKeyManagement = errors.New("encryption key management failure")
	// ErrEncrypt is returned when a field cannot be encrypted.
	ErrEncrypt = errors.New("field encryption failed")
	// ErrDecrypt is returned when a field cannot be safely decrypted
	// (malformed ciphertext, authentication failure, or decode failure).
	ErrDecrypt = errors.New("field decryption failed")
)

// EncryptedField is one encrypted value at rest. The shape is a de facto
// on-disk format: EncryptedValue holds base64(salt || nonce || authTag ||
// ciphertext) and must be preserved byte-for-byte by any storage layer.
// Instances are immutable; re-encryption produces a new instance.
type EncryptedField struct {
	EncryptedValue  string    `json:"encrypted_value"`
	EncryptionKeyID string    `json:"encryption_key_id"`
	Algorithm       string    `json:"algorithm"`
	Classification  string    `json:"classification"`
	CreatedAt       time.Time `json:"created_at"`
}

// Map converts the field to a generic map for storage alongside other
// document fields.
func (f *EncryptedField) Map() map[string]any {
	return map[string]any{
		"encrypted_value":   f.EncryptedValue,
		"encryption_key_id": f.EncryptionKeyID,
		"algorithm":         f.Algorithm,
		"classification":    f.Classification,
		"created_at":        f.CreatedAt,
	}
}

// FieldView is the canonical decryption input. Stored records surface
// encrypted fields either as *EncryptedField or as generic maps read back
// from the database; NewFieldView normalizes both shapes at the boundary so
// the cipher only ever sees one.
type FieldView struct {
	EncryptedValue  string
	EncryptionKeyID string
}

// NewFieldView builds a FieldView from an *EncryptedField or a
// map[string]any with the persisted field shape.
func NewFieldView(v any) (FieldView, error) {
	switch field := v.(type) {
	case *EncryptedField:
		if field == nil {
			return FieldView{}, fmt.Errorf("%w: nil encrypted field", ErrDecrypt)
		}
		return FieldView{
			EncryptedValue:  field.EncryptedValue,
			EncryptionKeyID: field.EncryptionKeyID,
		}, nil
	case EncryptedField:
		return FieldView{
			EncryptedValue:  field.EncryptedValue,
			EncryptionKeyID: field.EncryptionKeyID,
		}, nil
	case map[string]any:
		value, ok := field["encrypted_value"].(string)
		if !ok {
			return FieldView{}, fmt.Errorf("%w: missing encrypted_value", ErrDecrypt)
		}
		keyID, ok := field["encryption_key_id"].(string)
		if !ok {
			return FieldView{}, fmt.Errorf("%w: missing encryption_key_id", ErrDecrypt)
		}
		return FieldView{EncryptedValue: value, EncryptionKeyID: keyID}, nil
	default:
		return FieldView{}, fmt.Errorf("%w: unsupported field type %T", ErrDecrypt, v)
	}
}

// nowUTC returns the current time in UTC; all persisted timestamps are UTC.
func nowUTC() time.Time {
	return time.Now().UTC()
}

// looksEncrypted reports whether a map has the persisted encrypted-field shape.
func looksEncrypted(m map[string]any) bool {
	_, hasValue := m["encrypted_value"]
	_, hasKeyID := m["encryption_key_id"]
	return hasValue && hasKeyID
}
