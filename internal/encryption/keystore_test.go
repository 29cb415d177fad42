package encryption

import (
	"encoding/base64"
	"errors"
	"testing"
)

func TestNewKeyStore_RequiresMasterKeyInProduction(t *testing.T) {
	_, err := NewKeyStore(KeyStoreConfig{Development: false}, nil)
	if !errors.Is(err, ErrKeyManagement) {
		t.Errorf("NewKeyStore() error = %v, want ErrKeyManagement", err)
	}
}

func TestNewKeyStore_GeneratesThrowawayKeyInDevelopment(t *testing.T) {
	store, err := NewKeyStore(KeyStoreConfig{Development: true}, nil)
	if err != nil {
		t.Fatalf("NewKeyStore() error = %v", err)
	}
	key, err := store.Resolve(CurrentKeyID)
	if err != nil {
		t.Fatalf("Resolve(current) error = %v", err)
	}
	if len(key) != 32 {
		t.Errorf("generated key length = %d, want 32", len(key))
	}
}

func TestNewKeyStore_RejectsInvalidKeyMaterial(t *testing.T) {
	tests := []struct {
		name string
		cfg  KeyStoreConfig
	}{
		{"not base64", KeyStoreConfig{MasterKey: "%%%not-base64%%%"}},
		{"wrong length", KeyStoreConfig{MasterKey: base64.StdEncoding.EncodeToString([]byte("short"))}},
		{
			"bad historical key",
			KeyStoreConfig{
				MasterKey:      base64.StdEncoding.EncodeToString(make([]byte, 32)),
				HistoricalKeys: map[string]string{"v1": "%%%"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewKeyStore(tt.cfg, nil)
			if !errors.Is(err, ErrKeyManagement) {
				t.Errorf("NewKeyStore() error = %v, want ErrKeyManagement", err)
			}
		})
	}
}

func TestKeyStore_ResolveAliases(t *testing.T) {
	key := base64.StdEncoding.EncodeToString(make([]byte, 32))
	store, err := NewKeyStore(KeyStoreConfig{MasterKey: key}, nil)
	if err != nil {
		t.Fatalf("NewKeyStore() error = %v", err)
	}

	current, err := store.Resolve(CurrentKeyID)
	if err != nil {
		t.Fatalf("Resolve(current) error = %v", err)
	}

	for _, alias := range []string{"default", "primary", "1", "master"} {
		got, err := store.Resolve(alias)
		if err != nil {
			t.Errorf("Resolve(%q) error = %v", alias, err)
			continue
		}
		if string(got) != string(current) {
			t.Errorf("Resolve(%q) returned different key material than current", alias)
		}
	}

	if _, err := store.Resolve("v3"); !errors.Is(err, ErrDecrypt) {
		t.Errorf("Resolve(v3) error = %v, want ErrDecrypt", err)
	}
}

func TestKeyStore_VerbatimBeforeAlias(t *testing.T) {
	masterRaw := make([]byte, 32)
	historicalRaw := make([]byte, 32)
	historicalRaw[0] = 0xFF

	store, err := NewKeyStore(KeyStoreConfig{
		MasterKey: base64.StdEncoding.EncodeToString(masterRaw),
		HistoricalKeys: map[string]string{
			"v1": base64.StdEncoding.EncodeToString(historicalRaw),
		},
	}, nil)
	if err != nil {
		t.Fatalf("NewKeyStore() error = %v", err)
	}

	got, err := store.Resolve("v1")
	if err != nil {
		t.Fatalf("Resolve(v1) error = %v", err)
	}
	if got[0] != 0xFF {
		t.Error("Resolve(v1) did not return the historical key material")
	}
}
