package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/curve25519"

	"ciphermesh/internal/domain"
)

// ErrInvalidKeyMaterial is returned when a Diffie-Hellman input is malformed
// or a low-order point.
var ErrInvalidKeyMaterial = errors.New("invalid key material")

// GenerateX25519 returns a fresh Curve25519 key pair.
// The private key is clamped per RFC 7748.
func GenerateX25519() (priv domain.X25519Private, pub domain.X25519Public, err error) {
	if _, err = rand.Read(priv[:]); err != nil {
		return
	}
	clamp(&priv)
	pub, err = PublicFromPrivate(priv)
	return
}

// GenerateX25519Pair is GenerateX25519 returning a domain.X25519KeyPair.
func GenerateX25519Pair() (domain.X25519KeyPair, error) {
	priv, pub, err := GenerateX25519()
	if err != nil {
		return domain.X25519KeyPair{}, err
	}
	return domain.X25519KeyPair{Priv: priv, Pub: pub}, nil
}

// PublicFromPrivate derives the public half of priv.
func PublicFromPrivate(priv domain.X25519Private) (pub domain.X25519Public, err error) {
	pb, err := curve25519.X25519(priv.Slice(), curve25519.Basepoint)
	if err != nil {
		return pub, err
	}
	copy(pub[:], pb)
	return pub, nil
}

// DH computes X25519 Diffie–Hellman. Zero keys and low-order peer points fail
// with ErrInvalidKeyMaterial.
func DH(priv domain.X25519Private, pub domain.X25519Public) (out [32]byte, err error) {
	if priv.IsZero() || pub.IsZero() {
		return out, ErrInvalidKeyMaterial
	}
	secret, err := curve25519.X25519(priv.Slice(), pub.Slice())
	if err != nil {
		return out, fmt.Errorf("%w: %v", ErrInvalidKeyMaterial, err)
	}
	copy(out[:], secret)
	Wipe(secret)
	return out, nil
}

func clamp(k *domain.X25519Private) {
	kb := k[:]
	kb[0] &= 248
	kb[31] &= 127
	kb[31] |= 64
}
