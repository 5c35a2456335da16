package crypto

import (
	"errors"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	// KeySize is the symmetric key length used throughout the engine.
	KeySize = chacha20poly1305.KeySize
	// NonceSize is the ChaCha20-Poly1305 nonce length.
	NonceSize = chacha20poly1305.NonceSize
	// TagSize is the Poly1305 authentication tag length.
	TagSize = chacha20poly1305.Overhead
)

// ErrOpen is returned when AEAD authentication fails.
var ErrOpen = errors.New("aead: message authentication failed")

// Seal encrypts plaintext under key/nonce with ad bound, and returns the
// ciphertext and tag separately.
func Seal(key [KeySize]byte, nonce [NonceSize]byte, plaintext, ad []byte) (ciphertext, tag []byte, err error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, nil, err
	}
	out := aead.Seal(nil, nonce[:], plaintext, ad)
	split := len(out) - TagSize
	return out[:split:split], out[split:], nil
}

// Open verifies tag over ciphertext and ad and returns the plaintext.
func Open(key [KeySize]byte, nonce [NonceSize]byte, ciphertext, tag, ad []byte) ([]byte, error) {
	if len(tag) != TagSize {
		return nil, ErrOpen
	}
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, err
	}
	sealed := make([]byte, 0, len(ciphertext)+TagSize)
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)
	pt, err := aead.Open(nil, nonce[:], sealed, ad)
	if err != nil {
		return nil, ErrOpen
	}
	return pt, nil
}
