package crypto

import (
	"crypto/sha256"
	"encoding/hex"

	"ciphermesh/internal/domain"
)

// Fingerprint returns a short hex fingerprint of a public key.
//
// It hashes with SHA-256 and truncates to 10 bytes (20 hex chars).
func Fingerprint(pub []byte) string {
	sum := sha256.Sum256(pub)
	return hex.EncodeToString(sum[:10])
}

// FingerprintIdentity fingerprints both halves of an identity so that a
// substituted signing key changes the value shown to users.
func FingerprintIdentity(id domain.IdentityPublic) domain.Fingerprint {
	b := make([]byte, 0, 64)
	b = append(b, id.XPub[:]...)
	b = append(b, id.EdPub[:]...)
	return domain.Fingerprint(Fingerprint(b))
}
