package types

// Identity holds a peer's long-term X25519 and Ed25519 keys.
type Identity struct {
	XPub   X25519Public   `cbor:"1,keyasint" json:"xpub"`
	XPriv  X25519Private  `cbor:"2,keyasint" json:"xpriv"`
	EdPub  Ed25519Public  `cbor:"3,keyasint" json:"edpub"`
	EdPriv Ed25519Private `cbor:"4,keyasint" json:"edpriv"`
}

// Public returns the shareable half of the identity.
func (id Identity) Public() IdentityPublic {
	return IdentityPublic{XPub: id.XPub, EdPub: id.EdPub}
}

// IdentityPublic is the public half of an Identity.
type IdentityPublic struct {
	XPub  X25519Public  `cbor:"1,keyasint" json:"xpub"`
	EdPub Ed25519Public `cbor:"2,keyasint" json:"edpub"`
}
