package encryption

import (
	"encoding/base64"
	"testing"
)

func newTestCodec(t *testing.T) (*Codec, *FieldCipher) {
	t.Helper()
	cipher := newTestCipher(t)
	return NewCodec(cipher, nil), cipher
}

func TestCodec_EncryptDecryptRoundTrip(t *testing.T) {
	codec, _ := newTestCodec(t)

	record := map[string]any{
		"company_name":  "Lakeside Amusements",
		"admin_email":   "ops@lakeside.example",
		"machine_count": 42,
	}

	encrypted, err := codec.EncryptFields(record, []string{"company_name", "admin_email"}, ClassificationConfidential)
	if err != nil {
		t.Fatalf("EncryptFields() error = %v", err)
	}

	if _, ok := encrypted["company_name"].(map[string]any); !ok {
		t.Fatalf("company_name = %T, want encrypted map", encrypted["company_name"])
	}
	if encrypted["machine_count"] != 42 {
		t.Errorf("machine_count = %v, want 42 (non-PII fields untouched)", encrypted["machine_count"])
	}

	decrypted := codec.DecryptFields(encrypted, []string{"company_name", "admin_email"})
	if decrypted["company_name"] != "Lakeside Amusements" {
		t.Errorf("company_name = %v, want %q", decrypted["company_name"], "Lakeside Amusements")
	}
	if decrypted["admin_email"] != "ops@lakeside.example" {
		t.Errorf("admin_email = %v, want %q", decrypted["admin_email"], "ops@lakeside.example")
	}
}

func TestCodec_DoesNotMutateInput(t *testing.T) {
	codec, cipher := newTestCodec(t)

	field, err := cipher.Encrypt("original", "")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	record := map[string]any{"phone": field.Map()}

	codec.DecryptFields(record, []string{"phone"})

	if _, ok := record["phone"].(map[string]any); !ok {
		t.Error("DecryptFields() mutated the input record")
	}
}

func TestCodec_PlaintextPassthroughIsIdempotent(t *testing.T) {
	codec, _ := newTestCodec(t)

	record := map[string]any{"admin_email": "already@plain.example"}

	once := codec.DecryptFields(record, []string{"admin_email"})
	twice := codec.DecryptFields(once, []string{"admin_email"})

	if twice["admin_email"] != "already@plain.example" {
		t.Errorf("admin_email = %v, want passthrough unchanged", twice["admin_email"])
	}
}

func TestCodec_CorruptFieldDegradesToPlaceholder(t *testing.T) {
	codec, _ := newTestCodec(t)

	// Valid base64, plausible length, but garbage under every key.
	garbage := base64.StdEncoding.EncodeToString(make([]byte, 64))

	record := map[string]any{
		"email": map[string]any{
			"encrypted_value":   garbage,
			"encryption_key_id": "current",
		},
		"admin_email": map[string]any{
			"encrypted_value":   garbage,
			"encryption_key_id": "current",
		},
		"route_notes": map[string]any{
			"encrypted_value":   garbage,
			"encryption_key_id": "current",
		},
	}

	got := codec.DecryptFields(record, []string{"email", "admin_email", "route_notes"})

	if got["email"] != "admin@example.com" {
		t.Errorf("email = %v, want field-specific placeholder %q", got["email"], "admin@example.com")
	}
	if got["admin_email"] != "admin@example.com" {
		t.Errorf("admin_email = %v, want field-specific placeholder %q", got["admin_email"], "admin@example.com")
	}
	if got["route_notes"] != "[ENCRYPTED_ROUTE_NOTES]" {
		t.Errorf("route_notes = %v, want generic placeholder %q", got["route_notes"], "[ENCRYPTED_ROUTE_NOTES]")
	}
}

func TestCodec_LegacyKeyIDRetry(t *testing.T) {
	oldKey := testKey(t)

	oldStore, err := NewKeyStore(KeyStoreConfig{MasterKey: oldKey}, nil)
	if err != nil {
		t.Fatalf("NewKeyStore() error = %v", err)
	}
	field, err := NewFieldCipher(oldStore).Encrypt("recoverable", "")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	// The record claims an unknown key id, but the old key survives as v1.
	newStore, err := NewKeyStore(KeyStoreConfig{
		MasterKey:      testKey(t),
		HistoricalKeys: map[string]string{"v1": oldKey},
	}, nil)
	if err != nil {
		t.Fatalf("NewKeyStore() error = %v", err)
	}
	codec := NewCodec(NewFieldCipher(newStore), nil)

	record := map[string]any{
		"company_name": map[string]any{
			"encrypted_value":   field.EncryptedValue,
			"encryption_key_id": "v2",
		},
	}

	got := codec.DecryptFields(record, []string{"company_name"})
	if got["company_name"] != "recoverable" {
		t.Errorf("company_name = %v, want %q via v1 retry", got["company_name"], "recoverable")
	}
}

func TestCodec_LegacyPlaintextFallback(t *testing.T) {
	codec, _ := newTestCodec(t)

	// Pre-encryption records stored raw values in the encrypted_value slot.
	record := map[string]any{
		"city": map[string]any{
			"encrypted_value":   "Grand Rapids!",
			"encryption_key_id": "current",
		},
	}

	got := codec.DecryptFields(record, []string{"city"})
	if got["city"] != "Grand Rapids!" {
		t.Errorf("city = %v, want legacy plaintext surfaced", got["city"])
	}
}

func TestCodec_SkipsMissingFields(t *testing.T) {
	codec, _ := newTestCodec(t)

	record := map[string]any{"unrelated": "value"}
	got := codec.DecryptFields(record, []string{"admin_email"})

	if _, present := got["admin_email"]; present {
		t.Error("DecryptFields() invented a value for a missing field")
	}
	if got["unrelated"] != "value" {
		t.Errorf("unrelated = %v, want untouched", got["unrelated"])
	}
}
