// Package identity manages creation, sealing and loading of the local key
// store.
//
// It enforces passphrase policy, generates the identity and initial pre-keys
// through the keystore package, and persists the sealed snapshot via the
// domain.IdentityStore.
package identity
