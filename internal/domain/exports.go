package domain

import (
	interfaces "ciphermesh/internal/domain/interfaces"
	types "ciphermesh/internal/domain/types"
)

// Type aliases expose domain types from the types subpackage for compact imports.
type (
	PeerID              = types.PeerID
	Fingerprint         = types.Fingerprint
	SignedPreKeyID      = types.SignedPreKeyID
	OneTimePreKeyID     = types.OneTimePreKeyID
	Identity            = types.Identity
	IdentityPublic      = types.IdentityPublic
	X25519KeyPair       = types.X25519KeyPair
	OneTimePreKeyPair   = types.OneTimePreKeyPair
	OneTimePreKeyPublic = types.OneTimePreKeyPublic
	SignedPreKeyPair    = types.SignedPreKeyPair
	PreKeyBundle        = types.PreKeyBundle
	BundleUpload        = types.BundleUpload
	PreKeyMessage       = types.PreKeyMessage
	Inbound             = types.Inbound
	DecryptedMessage    = types.DecryptedMessage
	X25519Public        = types.X25519Public
	X25519Private       = types.X25519Private
	Ed25519Public       = types.Ed25519Public
	Ed25519Private      = types.Ed25519Private
)

// Interface aliases expose domain interfaces from the interfaces subpackage.
type (
	IdentityStore = interfaces.IdentityStore
	SessionStore  = interfaces.SessionStore
	PeerDirectory = interfaces.PeerDirectory
	Transport     = interfaces.Transport
)
