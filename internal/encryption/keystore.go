package encryption

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
)

// CurrentKeyID is the key identifier used for all new encryptions.
const CurrentKeyID = "current"

// keySize is the required master key length in bytes (AES-256).
const keySize = 32

// legacyAliases maps key identifiers written by earlier releases to the
// current key. Aliases are only consulted when the stored identifier has no
// verbatim entry in the key set.
var legacyAliases = map[string]string{
	"default": CurrentKeyID,
	"primary": CurrentKeyID,
	"1":       CurrentKeyID,
	"master":  CurrentKeyID,
}

// KeyStoreConfig holds the key material inputs for a KeyStore.
type KeyStoreConfig struct {
	// MasterKey is the base64-encoded 32-byte master key. Required outside
	// development.
	MasterKey string
	// HistoricalKeys maps version identifiers ("v1".."v5") to base64-encoded
	// keys retained for decrypting ciphertexts written before a rotation.
	HistoricalKeys map[string]string
	// Development gates the throwaway-key fallback when MasterKey is empty.
	Development bool
}

// KeyStore resolves key identifiers to raw key material. It is populated
// once at construction and read-only afterward, so it is safe for
// unsynchronized concurrent reads. Keys are never written back to any store.
type KeyStore struct {
	keys map[string][]byte
}

// NewKeyStore loads the master key and any historical key versions.
// A missing master key is fatal outside development; in development a
// throwaway key is generated and logged at WARN so local work can proceed.
func NewKeyStore(cfg KeyStoreConfig, logger *slog.Logger) (*KeyStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	master := cfg.MasterKey
	if master == "" {
		if !cfg.Development {
			return nil, fmt.Errorf("%w: master key not configured", ErrKeyManagement)
		}
		generated := make([]byte, keySize)
		if _, err := rand.Read(generated); err != nil {
			return nil, fmt.Errorf("%w: generating development key: %v", ErrKeyManagement, err)
		}
		master = base64.StdEncoding.EncodeToString(generated)
		logger.Warn("generated throwaway master key for development",
			"key", master)
		logger.Warn("set the master key in configuration for production")
	}

	masterBytes, err := base64.StdEncoding.DecodeString(master)
	if err != nil {
		return nil, fmt.Errorf("%w: master key is not valid base64: %v", ErrKeyManagement, err)
	}
	if len(masterBytes) != keySize {
		return nil, fmt.Errorf("%w: master key must be %d bytes, got %d", ErrKeyManagement, keySize, len(masterBytes))
	}

	keys := map[string][]byte{CurrentKeyID: masterBytes}
	for version, encoded := range cfg.HistoricalKeys {
		if encoded == "" {
			continue
		}
		decoded, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("%w: key %s is not valid base64: %v", ErrKeyManagement, version, err)
		}
		if len(decoded) != keySize {
			return nil, fmt.Errorf("%w: key %s must be %d bytes, got %d", ErrKeyManagement, version, keySize, len(decoded))
		}
		keys[version] = decoded
	}

	logger.Info("loaded encryption keys", "count", len(keys))

	return &KeyStore{keys: keys}, nil
}

// Resolve returns the key material for keyID. Identifiers with no verbatim
// entry fall back through the legacy alias map before failing.
func (s *KeyStore) Resolve(keyID string) ([]byte, error) {
	if key, ok := s.keys[keyID]; ok {
		return key, nil
	}
	if alias, ok := legacyAliases[keyID]; ok {
		if key, ok := s.keys[alias]; ok {
			return key, nil
		}
	}
	return nil, fmt.Errorf("%w: decryption key %q not found", ErrDecrypt, keyID)
}

// Has reports whether keyID resolves verbatim (no alias fallback).
func (s *KeyStore) Has(keyID string) bool {
	_, ok := s.keys[keyID]
	return ok
}

// KeyIDs returns the loaded key identifiers, for diagnostics.
func (s *KeyStore) KeyIDs() []string {
	ids := make([]string, 0, len(s.keys))
	for id := range s.keys {
		ids = append(ids, id)
	}
	return ids
}
