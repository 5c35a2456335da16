// Package crypto exposes the minimal primitives used by the secure-channel
// engine.
//
// Contents
//
//   - X25519 key generation, clamping and Diffie–Hellman (GenerateX25519, DH)
//   - Ed25519 key generation, signing and verification (GenerateEd25519,
//     SignEd25519, VerifyEd25519)
//   - HKDF-SHA256 and HMAC-SHA256 (HKDF, HMAC)
//   - ChaCha20-Poly1305 with a detached tag (Seal, Open)
//   - Best-effort memory wiping for sensitive byte slices (Wipe)
//   - Short public-key fingerprints for display/logging (Fingerprint)
//
// # Notes
//
// Key material uses fixed-size array types defined in internal/domain to
// avoid accidental reallocations. DH rejects zero and low-order inputs with
// ErrInvalidKeyMaterial.
package crypto
