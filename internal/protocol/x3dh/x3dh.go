package x3dh

import (
	"bytes"
	"errors"
	"fmt"

	"ciphermesh/internal/crypto"
	"ciphermesh/internal/domain"
)

const (
	// SharedSecretSize is the length of the derived secret.
	SharedSecretSize = 32

	kdfInfo = "ciphermesh-x3dh"
)

var (
	// ErrInvalidSignature is returned when the signed pre-key does not verify
	// against the bundle's signing key.
	ErrInvalidSignature = errors.New("x3dh: invalid signed pre-key signature")
	// ErrHandshakeIncomplete is returned when required key material is absent.
	ErrHandshakeIncomplete = errors.New("x3dh: handshake incomplete")
	// ErrInvalidKeyMaterial is returned when a DH input is not a usable point.
	ErrInvalidKeyMaterial = crypto.ErrInvalidKeyMaterial
)

// Result is the outcome of a completed handshake on either side.
type Result struct {
	SharedSecret   []byte
	AssociatedData []byte

	PeerIdentity domain.IdentityPublic

	// Initiator side: the responder's signed pre-key, used as the first peer
	// ratchet key, and the parameters echoed in the PreKeyMessage.
	PeerRatchetKey  domain.X25519Public
	EphemeralKey    domain.X25519Public
	SignedPreKeyID  domain.SignedPreKeyID
	OneTimePreKeyID domain.OneTimePreKeyID

	// Responder side: the signed pre-key pair, used as the first local
	// ratchet key pair.
	LocalRatchetKey domain.X25519KeyPair
}

// Initiator reports whether r was produced by Initiate.
func (r Result) Initiator() bool { return !r.PeerRatchetKey.IsZero() }

// PreKeyMessage returns the parameters the responder needs to mirror the
// initiator's computation.
func (r Result) PreKeyMessage(local domain.IdentityPublic) domain.PreKeyMessage {
	return domain.PreKeyMessage{
		InitiatorIdentityKey: local.XPub,
		InitiatorSigningKey:  local.EdPub,
		EphemeralKey:         r.EphemeralKey,
		SignedPreKeyID:       r.SignedPreKeyID,
		OneTimePreKeyID:      r.OneTimePreKeyID,
	}
}

// Wipe zeroes the shared secret.
func (r *Result) Wipe() {
	crypto.Wipe(r.SharedSecret)
	crypto.Wipe(r.LocalRatchetKey.Priv[:])
}

// Initiate runs X3DH as the initiator against bundle.
func Initiate(local domain.Identity, bundle domain.PreKeyBundle) (Result, error) {
	if local.XPriv.IsZero() {
		return Result{}, fmt.Errorf("%w: no local identity", ErrHandshakeIncomplete)
	}
	if bundle.IdentityKey.IsZero() || bundle.SigningKey.IsZero() || bundle.SignedPreKey.IsZero() ||
		len(bundle.SignedPreKeySignature) == 0 || bundle.SignedPreKeyID == "" {
		return Result{}, fmt.Errorf("%w: bundle for %q lacks identity or signed pre-key", ErrHandshakeIncomplete, bundle.PeerID)
	}
	if !VerifySPK(bundle.SigningKey, bundle.SignedPreKey, bundle.SignedPreKeySignature) {
		return Result{}, ErrInvalidSignature
	}

	ephPriv, ephPub, err := crypto.GenerateX25519()
	if err != nil {
		return Result{}, err
	}
	defer crypto.Wipe(ephPriv[:])

	var opk *domain.X25519Public
	var opkID domain.OneTimePreKeyID
	if bundle.OneTimePreKey != nil {
		if bundle.OneTimePreKey.ID == "" {
			return Result{}, fmt.Errorf("%w: one-time pre-key without id", ErrHandshakeIncomplete)
		}
		opk = &bundle.OneTimePreKey.Pub
		opkID = bundle.OneTimePreKey.ID
	}

	secret, err := InitiatorRoot(local.XPriv, ephPriv, bundle.IdentityKey, bundle.SignedPreKey, opk)
	if err != nil {
		return Result{}, err
	}
	return Result{
		SharedSecret:    secret,
		AssociatedData:  AssociatedData(local.XPub, bundle.IdentityKey),
		PeerIdentity:    domain.IdentityPublic{XPub: bundle.IdentityKey, EdPub: bundle.SigningKey},
		PeerRatchetKey:  bundle.SignedPreKey,
		EphemeralKey:    ephPub,
		SignedPreKeyID:  bundle.SignedPreKeyID,
		OneTimePreKeyID: opkID,
	}, nil
}

// Respond mirrors Initiate on the responder side given the resolved pre-key
// pairs. opk must be non-nil exactly when msg names a one-time pre-key.
func Respond(
	local domain.Identity,
	spk domain.SignedPreKeyPair,
	opk *domain.OneTimePreKeyPair,
	msg domain.PreKeyMessage,
) (Result, error) {
	if local.XPriv.IsZero() || spk.Priv.IsZero() {
		return Result{}, fmt.Errorf("%w: no local identity or signed pre-key", ErrHandshakeIncomplete)
	}
	if msg.InitiatorIdentityKey.IsZero() || msg.EphemeralKey.IsZero() {
		return Result{}, fmt.Errorf("%w: missing initiator identity or ephemeral key", ErrHandshakeIncomplete)
	}
	if (msg.OneTimePreKeyID != "") != (opk != nil) {
		return Result{}, fmt.Errorf("%w: one-time pre-key %q not resolved", ErrHandshakeIncomplete, msg.OneTimePreKeyID)
	}

	var opkPriv *domain.X25519Private
	if opk != nil {
		opkPriv = &opk.Priv
	}
	secret, err := ResponderRoot(local.XPriv, spk.Priv, opkPriv, msg.InitiatorIdentityKey, msg.EphemeralKey)
	if err != nil {
		return Result{}, err
	}
	return Result{
		SharedSecret:    secret,
		AssociatedData:  AssociatedData(msg.InitiatorIdentityKey, local.XPub),
		PeerIdentity:    domain.IdentityPublic{XPub: msg.InitiatorIdentityKey, EdPub: msg.InitiatorSigningKey},
		SignedPreKeyID:  spk.ID,
		OneTimePreKeyID: msg.OneTimePreKeyID,
		LocalRatchetKey: domain.X25519KeyPair{Priv: spk.Priv, Pub: spk.Pub},
	}, nil
}

// InitiatorRoot derives the shared secret for the initiator.
func InitiatorRoot(
	ourIDPriv domain.X25519Private,
	ourEphPriv domain.X25519Private,
	peerIDPub domain.X25519Public,
	peerSPK domain.X25519Public,
	peerOPK *domain.X25519Public,
) ([]byte, error) {
	in := []dhPair{
		{&ourIDPriv, peerSPK},    // DH(IKA, SPKB)
		{&ourEphPriv, peerIDPub}, // DH(EKA, IKB)
		{&ourEphPriv, peerSPK},   // DH(EKA, SPKB)
	}
	if peerOPK != nil {
		in = append(in, dhPair{&ourEphPriv, *peerOPK}) // DH(EKA, OPKB)
	}
	parts := make([][32]byte, len(in))
	if err := dhInto(parts, in); err != nil {
		return nil, err
	}
	return deriveSecret(parts), nil
}

// ResponderRoot derives the shared secret for the responder.
func ResponderRoot(
	ourIDPriv domain.X25519Private,
	ourSPKPriv domain.X25519Private,
	ourOPKPriv *domain.X25519Private,
	peerIDPub domain.X25519Public,
	peerEphPub domain.X25519Public,
) ([]byte, error) {
	in := []dhPair{
		{&ourSPKPriv, peerIDPub},  // DH(SPKB, IKA)
		{&ourIDPriv, peerEphPub},  // DH(IKB, EKA)
		{&ourSPKPriv, peerEphPub}, // DH(SPKB, EKA)
	}
	if ourOPKPriv != nil {
		in = append(in, dhPair{ourOPKPriv, peerEphPub}) // DH(OPKB, EKA)
	}
	parts := make([][32]byte, len(in))
	if err := dhInto(parts, in); err != nil {
		return nil, err
	}
	return deriveSecret(parts), nil
}

type dhPair struct {
	priv *domain.X25519Private
	pub  domain.X25519Public
}

// dhInto writes DH(in[i]) into out[i]. On error every output is wiped.
func dhInto(out [][32]byte, in []dhPair) error {
	for i, p := range in {
		dh, err := crypto.DH(*p.priv, p.pub)
		if err != nil {
			wipeAll(out)
			return err
		}
		out[i] = dh
	}
	return nil
}

func wipeAll(parts [][32]byte) {
	for i := range parts {
		crypto.Wipe32(&parts[i])
	}
}

// VerifySPK checks the signed pre-key signature.
func VerifySPK(edPub domain.Ed25519Public, spk domain.X25519Public, sig []byte) bool {
	return crypto.VerifyEd25519(edPub, spk.Slice(), sig)
}

// AssociatedData binds both identity keys, initiator first.
func AssociatedData(initiator, responder domain.X25519Public) []byte {
	ad := make([]byte, 0, 64)
	ad = append(ad, initiator[:]...)
	return append(ad, responder[:]...)
}

// deriveSecret runs F || DH1 || ... || DHn through HKDF, where F is 32 0xFF
// bytes for domain separation from other uses of the curve.
func deriveSecret(parts [][32]byte) []byte {
	ikm := make([]byte, 0, 32*(len(parts)+1))
	ikm = append(ikm, bytes.Repeat([]byte{0xFF}, 32)...)
	for i := range parts {
		ikm = append(ikm, parts[i][:]...)
		crypto.Wipe32(&parts[i])
	}
	secret := crypto.HKDF(ikm, nil, []byte(kdfInfo), SharedSecretSize)
	crypto.Wipe(ikm)
	return secret
}
