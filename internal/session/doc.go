// Package session owns the live ratchet sessions of one peer, keyed by the
// remote peer's ID.
//
// At most one session exists per remote peer. A second handshake with the
// same peer does not replace a live session; the caller must Reset first.
// Sessions can be serialized to opaque blobs and, when a SessionStore is
// configured, persisted and lazily reloaded by Lookup.
package session
