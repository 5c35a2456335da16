// Package prekey keeps the local pre-keys published in the peer directory.
//
// It registers the signed bundle with a batch of one-time keys, tops the
// pool up, and rotates the signed pre-key, sealing the key store after each
// change.
package prekey
