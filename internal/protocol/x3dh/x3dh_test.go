package x3dh_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"ciphermesh/internal/domain"
	"ciphermesh/internal/keystore"
	"ciphermesh/internal/protocol/x3dh"
)

func newStores(t *testing.T, opks int) (alice, bob *keystore.Store) {
	t.Helper()
	alice, err := keystore.Generate("alice", 0)
	require.NoError(t, err)
	bob, err = keystore.Generate("bob", opks)
	require.NoError(t, err)
	return alice, bob
}

func TestHandshake_WithOneTimePreKey(t *testing.T) {
	alice, bob := newStores(t, 1)
	bundle, err := bob.PublishBundle()
	require.NoError(t, err)
	require.NotNil(t, bundle.OneTimePreKey)

	hs, err := x3dh.NewEngine(alice, nil).Initiate(bundle)
	require.NoError(t, err)
	require.Len(t, hs.SharedSecret, x3dh.SharedSecretSize)
	require.True(t, hs.Initiator())

	resp, err := x3dh.NewEngine(bob, nil).Respond(hs.PreKeyMessage(alice.Identity().Public()))
	require.NoError(t, err)
	require.False(t, resp.Initiator())

	require.Equal(t, hs.SharedSecret, resp.SharedSecret)
	require.Equal(t, hs.AssociatedData, resp.AssociatedData)
	require.Equal(t, bundle.SignedPreKey, resp.LocalRatchetKey.Pub)
	require.Equal(t, alice.Identity().Public(), resp.PeerIdentity)
}

func TestHandshake_WithoutOneTimePreKey(t *testing.T) {
	alice, bob := newStores(t, 0)
	bundle, err := bob.PublishBundle()
	require.ErrorIs(t, err, keystore.ErrKeyExhausted)
	require.Nil(t, bundle.OneTimePreKey)

	hs, err := x3dh.Initiate(alice.Identity(), bundle)
	require.NoError(t, err)
	require.Empty(t, hs.OneTimePreKeyID)

	resp, err := x3dh.NewEngine(bob, nil).Respond(hs.PreKeyMessage(alice.Identity().Public()))
	require.NoError(t, err)
	require.Equal(t, hs.SharedSecret, resp.SharedSecret)
}

func TestRespond_ConsumesOneTimePreKeyOnce(t *testing.T) {
	alice, bob := newStores(t, 1)
	bundle, err := bob.PublishBundle()
	require.NoError(t, err)

	hs, err := x3dh.Initiate(alice.Identity(), bundle)
	require.NoError(t, err)
	msg := hs.PreKeyMessage(alice.Identity().Public())

	eng := x3dh.NewEngine(bob, nil)
	_, err = eng.Respond(msg)
	require.NoError(t, err)

	_, err = eng.Respond(msg)
	require.ErrorIs(t, err, x3dh.ErrHandshakeIncomplete)
	require.ErrorIs(t, err, keystore.ErrUnknownOneTimePreKey)
}

func TestInitiate_DifferentEphemeralsGiveDifferentSecrets(t *testing.T) {
	alice, bob := newStores(t, 0)
	bundle, _ := bob.PublishBundle()

	a, err := x3dh.Initiate(alice.Identity(), bundle)
	require.NoError(t, err)
	b, err := x3dh.Initiate(alice.Identity(), bundle)
	require.NoError(t, err)

	require.NotEqual(t, a.EphemeralKey, b.EphemeralKey)
	require.NotEqual(t, a.SharedSecret, b.SharedSecret)
	require.Equal(t, a.AssociatedData, b.AssociatedData)
}

func TestInitiate_RejectsBadSignature(t *testing.T) {
	alice, bob := newStores(t, 1)
	bundle, err := bob.PublishBundle()
	require.NoError(t, err)

	bundle.SignedPreKeySignature[0] ^= 0x01
	_, err = x3dh.Initiate(alice.Identity(), bundle)
	require.ErrorIs(t, err, x3dh.ErrInvalidSignature)

	// A signature from a different signing key also fails.
	mallory, err := keystore.Generate("mallory", 0)
	require.NoError(t, err)
	good, _ := bob.PublishBundle()
	good.SigningKey = mallory.Identity().EdPub
	_, err = x3dh.Initiate(alice.Identity(), good)
	require.ErrorIs(t, err, x3dh.ErrInvalidSignature)
}

func TestInitiate_MissingMaterial(t *testing.T) {
	alice, bob := newStores(t, 0)
	bundle, _ := bob.PublishBundle()

	cases := map[string]func(b *domain.PreKeyBundle){
		"no identity":      func(b *domain.PreKeyBundle) { b.IdentityKey = domain.X25519Public{} },
		"no signed prekey": func(b *domain.PreKeyBundle) { b.SignedPreKey = domain.X25519Public{} },
		"no signature":     func(b *domain.PreKeyBundle) { b.SignedPreKeySignature = nil },
		"no spk id":        func(b *domain.PreKeyBundle) { b.SignedPreKeyID = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			b := bundle
			b.SignedPreKeySignature = append([]byte(nil), bundle.SignedPreKeySignature...)
			mutate(&b)
			_, err := x3dh.Initiate(alice.Identity(), b)
			require.ErrorIs(t, err, x3dh.ErrHandshakeIncomplete)
		})
	}
}

func TestRespond_MissingEphemeral(t *testing.T) {
	alice, bob := newStores(t, 0)
	bundle, _ := bob.PublishBundle()
	hs, err := x3dh.Initiate(alice.Identity(), bundle)
	require.NoError(t, err)

	msg := hs.PreKeyMessage(alice.Identity().Public())
	msg.EphemeralKey = domain.X25519Public{}
	spk, err := bob.SignedPreKey(msg.SignedPreKeyID)
	require.NoError(t, err)
	_, err = x3dh.Respond(bob.Identity(), spk, nil, msg)
	require.ErrorIs(t, err, x3dh.ErrHandshakeIncomplete)
}

func TestRespond_LowOrderEphemeralKeepsOneTimePreKey(t *testing.T) {
	alice, bob := newStores(t, 1)
	bundle, err := bob.PublishBundle()
	require.NoError(t, err)
	hs, err := x3dh.Initiate(alice.Identity(), bundle)
	require.NoError(t, err)

	msg := hs.PreKeyMessage(alice.Identity().Public())
	msg.EphemeralKey = domain.X25519Public{1}
	_, err = x3dh.NewEngine(bob, nil).Respond(msg)
	require.ErrorIs(t, err, x3dh.ErrInvalidKeyMaterial)

	// The one-time key was not burned by the rejected attempt.
	_, err = bob.ConsumeOneTimePreKey(bundle.OneTimePreKey.ID)
	require.NoError(t, err)
}

func TestRespond_UnknownSignedPreKey(t *testing.T) {
	alice, bob := newStores(t, 0)
	bundle, _ := bob.PublishBundle()
	hs, err := x3dh.Initiate(alice.Identity(), bundle)
	require.NoError(t, err)

	msg := hs.PreKeyMessage(alice.Identity().Public())
	msg.SignedPreKeyID = "spk-missing"
	_, err = x3dh.NewEngine(bob, nil).Respond(msg)
	require.ErrorIs(t, err, x3dh.ErrHandshakeIncomplete)
	require.ErrorIs(t, err, keystore.ErrUnknownSignedPreKey)
}
