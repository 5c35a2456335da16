// Package envelope defines the wire unit exchanged between peers and the
// codec that seals plaintext into it and opens it again.
//
// An Envelope is a tagged variant. Kind is the explicit discriminant and
// exactly one payload field matches it:
//
//	KindHandshake  HandshakeInit: X3DH parameters plus the first Message
//	KindMessage    Message: ratchet header, ciphertext and detached tag
//
// Envelopes are CBOR encoded with integer keys and a version field.
package envelope
