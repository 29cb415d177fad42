package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"unicode/utf8"

	"golang.org/x/crypto/pbkdf2"
)

// Wire-format constants. These must match exactly between the encrypt and
// decrypt paths: none of them is stored per field, so changing any of them
// breaks decryption of existing ciphertexts.
const (
	saltSize   = 16
	nonceSize  = 12
	tagSize    = 16
	kdfIters   = 100000
	derivedLen = 32
)

// minEncryptedLen is the smallest valid decoded ciphertext:
// salt + nonce + tag with an empty plaintext.
const minEncryptedLen = saltSize + nonceSize + tagSize

// FieldCipher encrypts and decrypts individual field values. Each encryption
// derives a fresh key from the master key and a random salt via
// PBKDF2-HMAC-SHA256, then seals the plaintext with AES-256-GCM.
type FieldCipher struct {
	keys *KeyStore
}

// NewFieldCipher creates a FieldCipher backed by the given key store.
func NewFieldCipher(keys *KeyStore) *FieldCipher {
	return &FieldCipher{keys: keys}
}

// deriveKey stretches the master key with the per-field salt.
func deriveKey(masterKey, salt []byte) []byte {
	return pbkdf2.Key(masterKey, salt, kdfIters, derivedLen, sha256.New)
}

// Encrypt encrypts plaintext under the current master key and returns a new
// EncryptedField. Two calls with identical plaintext never produce the same
// EncryptedValue: the salt and nonce are freshly random every call.
// Encryption failures always propagate; a silent fallback here would persist
// data that can never be decrypted.
func (c *FieldCipher) Encrypt(plaintext, classification string) (*EncryptedField, error) {
	if classification == "" {
		classification = ClassificationConfidential
	}

	masterKey, err := c.keys.Resolve(CurrentKeyID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncrypt, err)
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("%w: generating salt: %v", ErrEncrypt, err)
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("%w: generating nonce: %v", ErrEncrypt, err)
	}

	block, err := aes.NewCipher(deriveKey(masterKey, salt))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncrypt, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncrypt, err)
	}

	// gcm.Seal appends the tag after the ciphertext; the stored layout is
	// salt || nonce || tag || ciphertext, so split and reorder.
	sealed := gcm.Seal(nil, nonce, []byte(plaintext), nil)
	ciphertext := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]

	combined := make([]byte, 0, saltSize+nonceSize+tagSize+len(ciphertext))
	combined = append(combined, salt...)
	combined = append(combined, nonce...)
	combined = append(combined, tag...)
	combined = append(combined, ciphertext...)

	return &EncryptedField{
		EncryptedValue:  base64.StdEncoding.EncodeToString(combined),
		EncryptionKeyID: CurrentKeyID,
		Algorithm:       Algorithm,
		Classification:  classification,
		CreatedAt:       nowUTC(),
	}, nil
}

// Decrypt recovers the plaintext of an encrypted field. Any failure to
// safely recover the exact plaintext (base64 decode, truncated data,
// authentication-tag mismatch, invalid UTF-8) returns ErrDecrypt; corrupted
// plaintext is never returned silently.
func (c *FieldCipher) Decrypt(view FieldView) (string, error) {
	masterKey, err := c.keys.Resolve(view.EncryptionKeyID)
	if err != nil {
		return "", err
	}

	data, err := base64.StdEncoding.DecodeString(view.EncryptedValue)
	if err != nil {
		return "", fmt.Errorf("%w: invalid base64 encrypted value: %v", ErrDecrypt, err)
	}
	if len(data) < minEncryptedLen {
		return "", fmt.Errorf("%w: encrypted value too short (%d bytes, need at least %d)",
			ErrDecrypt, len(data), minEncryptedLen)
	}

	salt := data[:saltSize]
	nonce := data[saltSize : saltSize+nonceSize]
	tag := data[saltSize+nonceSize : saltSize+nonceSize+tagSize]
	ciphertext := data[saltSize+nonceSize+tagSize:]

	block, err := aes.NewCipher(deriveKey(masterKey, salt))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}

	// Reassemble ciphertext || tag for gcm.Open.
	sealed := make([]byte, 0, len(ciphertext)+tagSize)
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("%w: authentication failed: %v", ErrDecrypt, err)
	}
	if !utf8.Valid(plaintext) {
		return "", fmt.Errorf("%w: plaintext is not valid UTF-8", ErrDecrypt)
	}

	return string(plaintext), nil
}

// DecryptValue normalizes v (either *EncryptedField or a stored map) and
// decrypts it. Use this on single-record paths where failures must propagate.
func (c *FieldCipher) DecryptValue(v any) (string, error) {
	view, err := NewFieldView(v)
	if err != nil {
		return "", err
	}
	return c.Decrypt(view)
}
