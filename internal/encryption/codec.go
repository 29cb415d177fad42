package encryption

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
)

// maxPlaintextFallbackLen bounds how long a stored value may be before the
// "already plaintext" fallback refuses to surface it verbatim.
const maxPlaintextFallbackLen = 200

// fallbackKeyIDs are tried in order when the stored key identifier fails
// during bulk decryption of legacy records.
var fallbackKeyIDs = []string{"default", "primary", "master", "v1"}

// fieldPlaceholders maps well-known PII field names to human-readable
// placeholders shown when a record cannot be decrypted under any key.
// Fields without an entry get "[ENCRYPTED_<FIELD>]", which operators can
// grep for to find records needing manual remediation.
var fieldPlaceholders = map[string]string{
	"company_name":  "Company Name",
	"email":         "admin@example.com",
	"admin_email":   "admin@example.com",
	"first_name":    "User",
	"last_name":     "Name",
	"address_line1": "Address",
	"city":          "City",
	"phone":         "Phone",
}

// Codec bulk-encrypts and bulk-decrypts the PII fields of a record map.
//
// The read path deliberately degrades instead of failing: it is used in
// list-rendering paths where one corrupt record must not abort an entire
// page of results. The write path has the opposite policy and fails loudly.
type Codec struct {
	cipher *FieldCipher
	logger *slog.Logger
}

// NewCodec creates a Codec around the given cipher.
func NewCodec(cipher *FieldCipher, logger *slog.Logger) *Codec {
	if logger == nil {
		logger = slog.Default()
	}
	return &Codec{cipher: cipher, logger: logger}
}

// EncryptFields returns a copy of record with each named string field
// replaced by its encrypted map form. Missing fields are skipped; any
// encryption failure propagates, since writing undecryptable data is worse
// than failing the write.
func (c *Codec) EncryptFields(record map[string]any, fields []string, classification string) (map[string]any, error) {
	result := copyRecord(record)
	for _, name := range fields {
		value, ok := result[name]
		if !ok {
			continue
		}
		plaintext, ok := value.(string)
		if !ok {
			continue
		}
		field, err := c.cipher.Encrypt(plaintext, classification)
		if err != nil {
			return nil, fmt.Errorf("encrypting field %s: %w", name, err)
		}
		result[name] = field.Map()
	}
	return result, nil
}

// DecryptFields returns a copy of record with each named encrypted field
// replaced by its plaintext. Plain string values pass through unchanged, so
// the operation is idempotent on already-decrypted data. Undecryptable
// fields are replaced with placeholders; this method never returns an error
// for bad data.
func (c *Codec) DecryptFields(record map[string]any, fields []string) map[string]any {
	result := copyRecord(record)

	for _, name := range fields {
		value, ok := result[name]
		if !ok {
			continue
		}

		switch v := value.(type) {
		case map[string]any:
			if !looksEncrypted(v) {
				c.logger.Warn("field has map value without encrypted shape", "field", name)
				result[name] = placeholderFor(name)
				continue
			}
			plaintext, err := c.cipher.DecryptValue(v)
			if err == nil {
				result[name] = plaintext
				continue
			}
			c.logger.Error("failed to decrypt field", "field", name, "error", err)
			if recovered, ok := c.tryFallback(v); ok {
				result[name] = recovered
			} else {
				result[name] = placeholderFor(name)
			}
		case *EncryptedField:
			plaintext, err := c.cipher.DecryptValue(v)
			if err == nil {
				result[name] = plaintext
				continue
			}
			c.logger.Error("failed to decrypt field", "field", name, "error", err)
			if recovered, ok := c.tryFallback(v.Map()); ok {
				result[name] = recovered
			} else {
				result[name] = placeholderFor(name)
			}
		case string:
			// Already plaintext (or a prior placeholder); leave as is.
		default:
			c.logger.Warn("field has unexpected type", "field", name, "type", fmt.Sprintf("%T", value))
		}
	}

	return result
}

// tryFallback applies the bounded recovery strategies for a field that
// failed normal decryption: the stored value may be legacy plaintext that
// was never encrypted, or it may have been written under a key identifier
// that no longer matches.
func (c *Codec) tryFallback(field map[string]any) (string, bool) {
	encryptedValue, _ := field["encrypted_value"].(string)
	originalKeyID, _ := field["encryption_key_id"].(string)

	// Stored plaintext that predates encryption will not decode as base64.
	if encryptedValue != "" {
		if _, err := base64.StdEncoding.DecodeString(encryptedValue); err != nil {
			if len(encryptedValue) < maxPlaintextFallbackLen {
				c.logger.Warn("field appears to be plaintext, not encrypted")
				return encryptedValue, true
			}
			return "", false
		}
	}

	// Retry under alternate legacy key identifiers.
	for _, keyID := range fallbackKeyIDs {
		if keyID == originalKeyID || !c.cipher.keys.Has(keyID) {
			continue
		}
		plaintext, err := c.cipher.Decrypt(FieldView{
			EncryptedValue:  encryptedValue,
			EncryptionKeyID: keyID,
		})
		if err == nil {
			return plaintext, true
		}
	}

	return "", false
}

// placeholderFor returns the substitute value for an unrecoverable field.
func placeholderFor(name string) string {
	if placeholder, ok := fieldPlaceholders[name]; ok {
		return placeholder
	}
	return "[ENCRYPTED_" + strings.ToUpper(name) + "]"
}

// copyRecord makes a shallow copy so callers' records are never mutated.
func copyRecord(record map[string]any) map[string]any {
	result := make(map[string]any, len(record))
	for k, v := range record {
		result[k] = v
	}
	return result
}
