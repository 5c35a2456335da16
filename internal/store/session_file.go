package store

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/scrypt"

	"ciphermesh/internal/crypto"
	"ciphermesh/internal/domain"
)

const (
	sessionsDir  = "sessions"
	saltFilename = "salt"
)

// SessionFileStore persists ratchet session blobs, one sealed file per peer.
// The sealing key is derived once from the passphrase and a per-directory
// salt, so persisting a session costs one AEAD operation.
type SessionFileStore struct {
	dir string
	key [crypto.KeySize]byte
	mu  sync.Mutex
}

// NewSessionFileStore returns a SessionFileStore under dir/sessions.
func NewSessionFileStore(dir, passphrase string, params ScryptParams) (*SessionFileStore, error) {
	root := filepath.Join(dir, sessionsDir)
	if err := os.MkdirAll(root, dirMode); err != nil {
		return nil, err
	}
	salt, found, err := loadFile(filepath.Join(root, saltFilename))
	if err != nil {
		return nil, err
	}
	if !found {
		salt = make([]byte, 16)
		if _, err := rand.Read(salt); err != nil {
			return nil, err
		}
		if err := storeFile(filepath.Join(root, saltFilename), salt); err != nil {
			return nil, err
		}
	}
	k, err := scrypt.Key([]byte(passphrase), salt, params.N, params.R, params.P, crypto.KeySize)
	if err != nil {
		return nil, err
	}
	s := &SessionFileStore{dir: root}
	copy(s.key[:], k)
	crypto.Wipe(k)
	return s, nil
}

func (s *SessionFileStore) path(peer domain.PeerID) string {
	return filepath.Join(s.dir, hex.EncodeToString([]byte(peer))+".session")
}

// Persist seals blob and writes it for peer. The peer ID is bound as
// associated data so files cannot be swapped between peers.
func (s *SessionFileStore) Persist(_ context.Context, peer domain.PeerID, blob []byte) error {
	var nonce [crypto.NonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return err
	}
	ct, tag, err := crypto.Seal(s.key, nonce, blob, []byte(peer))
	if err != nil {
		return err
	}
	out := make([]byte, 0, len(nonce)+len(ct)+len(tag))
	out = append(out, nonce[:]...)
	out = append(out, ct...)
	out = append(out, tag...)

	s.mu.Lock()
	defer s.mu.Unlock()
	return storeFile(s.path(peer), out)
}

// Load returns the session blob for peer and whether one was stored.
func (s *SessionFileStore) Load(_ context.Context, peer domain.PeerID) ([]byte, bool, error) {
	s.mu.Lock()
	b, found, err := loadFile(s.path(peer))
	s.mu.Unlock()
	if err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, nil
	}
	if len(b) < crypto.NonceSize+crypto.TagSize {
		return nil, false, ErrWrongPassphrase
	}
	var nonce [crypto.NonceSize]byte
	copy(nonce[:], b)
	body := b[crypto.NonceSize:]
	split := len(body) - crypto.TagSize
	pt, err := crypto.Open(s.key, nonce, body[:split], body[split:], []byte(peer))
	if err != nil {
		return nil, false, ErrWrongPassphrase
	}
	return pt, true, nil
}

// Delete removes the stored session for peer, if any.
func (s *SessionFileStore) Delete(_ context.Context, peer domain.PeerID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.path(peer))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// Compile-time assertion that SessionFileStore implements domain.SessionStore.
var _ domain.SessionStore = (*SessionFileStore)(nil)
