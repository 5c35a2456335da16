// Package store provides persistence for ciphermesh.
//
// It contains concrete implementations of the domain storage interfaces.
// File stores keep data under the configured home directory, write through
// a temp file and rename, and lock internally. Secrets never touch disk
// unsealed.
//
// The package includes:
//   - KeyStoreFile: the key-store snapshot sealed under a passphrase
//   - SessionFileStore: sealed ratchet session blobs, one file per peer
//   - PeerFileStore: identity keys of peers we have handshaken with
//   - RedisSessionStore: ratchet session blobs in Redis
package store
