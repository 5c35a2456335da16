package store

import (
	"errors"
	"os"
	"path/filepath"
	"sync"

	"ciphermesh/internal/domain"
)

const keyStoreFilename = "keystore.enc"

// ErrNoKeyStore is returned when no key store has been saved yet.
var ErrNoKeyStore = errors.New("no key store; run init first")

// KeyStoreFile persists the sealed key-store snapshot to disk.
type KeyStoreFile struct {
	dir    string
	params ScryptParams
	mu     sync.Mutex
}

// NewKeyStoreFile returns a KeyStoreFile rooted at dir.
func NewKeyStoreFile(dir string, params ScryptParams) *KeyStoreFile {
	return &KeyStoreFile{dir: dir, params: params}
}

// Exists reports whether a key store has been saved.
func (s *KeyStoreFile) Exists() bool {
	_, err := os.Stat(filepath.Join(s.dir, keyStoreFilename))
	return err == nil
}

// SaveIdentity seals snapshot under passphrase and writes it to disk.
func (s *KeyStoreFile) SaveIdentity(passphrase string, snapshot []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ct, err := seal(passphrase, snapshot, s.params)
	if err != nil {
		return err
	}
	return storeFile(filepath.Join(s.dir, keyStoreFilename), ct)
}

// LoadIdentity reads and unseals the snapshot.
func (s *KeyStoreFile) LoadIdentity(passphrase string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, found, err := loadFile(filepath.Join(s.dir, keyStoreFilename))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNoKeyStore
	}
	return unseal(passphrase, b)
}

// Compile-time assertion that KeyStoreFile implements domain.IdentityStore.
var _ domain.IdentityStore = (*KeyStoreFile)(nil)
