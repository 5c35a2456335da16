package types

// OneTimePreKeyPair is the full (private+public) one-time pre-key stored locally.
type OneTimePreKeyPair struct {
	ID   OneTimePreKeyID `cbor:"1,keyasint" json:"id"`
	Priv X25519Private   `cbor:"2,keyasint" json:"priv"`
	Pub  X25519Public    `cbor:"3,keyasint" json:"pub"`
}

// OneTimePreKeyPublic is only the public half (sent in bundles).
type OneTimePreKeyPublic struct {
	ID  OneTimePreKeyID `cbor:"1,keyasint" json:"id"`
	Pub X25519Public    `cbor:"2,keyasint" json:"pub"`
}

// SignedPreKeyPair is a medium-term pre-key with the identity signature over
// its public half.
type SignedPreKeyPair struct {
	ID        SignedPreKeyID `cbor:"1,keyasint" json:"id"`
	Priv      X25519Private  `cbor:"2,keyasint" json:"priv"`
	Pub       X25519Public   `cbor:"3,keyasint" json:"pub"`
	Signature []byte         `cbor:"4,keyasint" json:"signature"`
	CreatedAt int64          `cbor:"5,keyasint" json:"created_at"`
}

// PreKeyBundle is the publishable key material a handshake initiator needs.
// OneTimePreKey is nil when the pool was exhausted at issue time.
type PreKeyBundle struct {
	PeerID                PeerID               `json:"peer_id"`
	IdentityKey           X25519Public         `json:"identity_key"`
	SigningKey            Ed25519Public        `json:"signing_key"`
	SignedPreKeyID        SignedPreKeyID       `json:"signed_pre_key_id"`
	SignedPreKey          X25519Public         `json:"signed_pre_key"`
	SignedPreKeySignature []byte               `json:"signed_pre_key_signature"`
	OneTimePreKey         *OneTimePreKeyPublic `json:"one_time_pre_key,omitempty"`
}

// BundleUpload is what a peer registers with its directory: the signed part of
// the bundle plus a batch of one-time keys, handed out at most one per fetch.
type BundleUpload struct {
	PreKeyBundle
	OneTimePreKeys []OneTimePreKeyPublic `json:"one_time_pre_keys,omitempty"`
}

// PreKeyMessage carries the X3DH handshake parameters in the first envelope
// an initiator sends.
type PreKeyMessage struct {
	InitiatorIdentityKey X25519Public    `cbor:"1,keyasint" json:"initiator_identity_key"`
	InitiatorSigningKey  Ed25519Public   `cbor:"2,keyasint" json:"initiator_signing_key"`
	EphemeralKey         X25519Public    `cbor:"3,keyasint" json:"ephemeral_key"`
	SignedPreKeyID       SignedPreKeyID  `cbor:"4,keyasint" json:"signed_pre_key_id"`
	OneTimePreKeyID      OneTimePreKeyID `cbor:"5,keyasint,omitempty" json:"one_time_pre_key_id,omitempty"`
}
