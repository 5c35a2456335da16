package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

// HKDF expands ikm into n bytes with HKDF-SHA256 (RFC 5869).
// A nil salt is treated as a hash-length run of zeros.
func HKDF(ikm, salt, info []byte, n int) []byte {
	out := make([]byte, n)
	r := hkdf.New(sha256.New, ikm, salt, info)
	// hkdf only fails past 255*HashLen bytes.
	if _, err := io.ReadFull(r, out); err != nil {
		panic(err)
	}
	return out
}

// HMAC returns HMAC-SHA256(key, data).
func HMAC(key, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}
