package identity

import (
	"fmt"
	"unicode"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"ciphermesh/internal/domain"
	"ciphermesh/internal/keystore"
)

const (
	// minPassphraseLength defines the minimum number of characters required for a passphrase.
	minPassphraseLength = 12
)

var (
	// ErrWeakPassphrase is returned when the passphrase fails the strength policy.
	ErrWeakPassphrase = fmt.Errorf(
		"passphrase is too weak (must be at least %d characters and include upper, lower, "+
			"number, and symbol)",
		minPassphraseLength,
	)
)

// Service creates, seals and loads the local key store.
//
// The key store contains:
//   - X25519 identity key pair for Diffie-Hellman (X3DH).
//   - Ed25519 key pair for signing the signed pre-key.
//   - Signed pre-keys and the one-time pre-key pool.
type Service struct {
	store  domain.IdentityStore
	logger log.Logger
}

// New returns an identity service backed by the given store.
func New(s domain.IdentityStore, logger log.Logger) *Service {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Service{store: s, logger: log.With(logger, "component", "identity")}
}

// Create generates a key store for owner with oneTime pre-keys, seals it
// with passphrase and returns it with the identity fingerprint.
func (s *Service) Create(owner domain.PeerID, passphrase string, oneTime int) (*keystore.Store, domain.Fingerprint, error) {
	if !isSecurePassphrase(passphrase) {
		return nil, "", ErrWeakPassphrase
	}
	if owner == "" {
		return nil, "", fmt.Errorf("peer id is required")
	}
	ks, err := keystore.Generate(owner, oneTime, keystore.WithLogger(s.logger))
	if err != nil {
		return nil, "", err
	}
	if err := s.Save(passphrase, ks); err != nil {
		return nil, "", err
	}
	level.Info(s.logger).Log("msg", "identity created", "peer", owner, "fingerprint", ks.Fingerprint())
	return ks, ks.Fingerprint(), nil
}

// Load unseals the key store.
func (s *Service) Load(passphrase string) (*keystore.Store, error) {
	raw, err := s.store.LoadIdentity(passphrase)
	if err != nil {
		return nil, err
	}
	return keystore.Import(raw, keystore.WithLogger(s.logger))
}

// Save seals the current state of ks. Call it after every pool or
// signed pre-key change so consumed keys stay consumed across restarts.
func (s *Service) Save(passphrase string, ks *keystore.Store) error {
	raw, err := ks.Export()
	if err != nil {
		return err
	}
	return s.store.SaveIdentity(passphrase, raw)
}

// Fingerprint returns the fingerprint of the local identity.
func (s *Service) Fingerprint(passphrase string) (domain.Fingerprint, error) {
	ks, err := s.Load(passphrase)
	if err != nil {
		return "", err
	}
	return ks.Fingerprint(), nil
}

// isSecurePassphrase enforces a basic strength policy.
func isSecurePassphrase(passphrase string) bool {
	var hasUpper, hasLower, hasDigit, hasSymbol bool
	if len(passphrase) < minPassphraseLength {
		return false
	}
	for _, r := range passphrase {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r), unicode.IsSymbol(r):
			hasSymbol = true
		}
	}
	return hasUpper && hasLower && hasDigit && hasSymbol
}
