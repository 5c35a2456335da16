package envelope_test

import (
	"context"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/require"

	"ciphermesh/internal/envelope"
	"ciphermesh/internal/keystore"
	"ciphermesh/internal/protocol/ratchet"
	"ciphermesh/internal/protocol/x3dh"
	"ciphermesh/internal/session"
)

// pair returns codecs for alice and bob with an established session each way.
func pair(t *testing.T) (alice, bob *envelope.Codec, pk x3dh.Result) {
	t.Helper()
	aks, err := keystore.Generate("alice", 0)
	require.NoError(t, err)
	bks, err := keystore.Generate("bob", 1)
	require.NoError(t, err)
	bundle, err := bks.PublishBundle()
	require.NoError(t, err)

	a, err := x3dh.Initiate(aks.Identity(), bundle)
	require.NoError(t, err)
	b, err := x3dh.NewEngine(bks, nil).Respond(a.PreKeyMessage(aks.Identity().Public()))
	require.NoError(t, err)

	am := session.NewManager()
	_, _, err = am.GetOrCreate("bob", a)
	require.NoError(t, err)
	bm := session.NewManager()
	_, _, err = bm.GetOrCreate("alice", b)
	require.NoError(t, err)
	return envelope.NewCodec(am, nil, nil), envelope.NewCodec(bm, nil, nil), a
}

func TestCodec_SealOpenBytes(t *testing.T) {
	ctx := context.Background()
	alice, bob, _ := pair(t)

	data, err := alice.SealBytes(ctx, "bob", []byte("hello bob"))
	require.NoError(t, err)
	pt, err := bob.OpenBytes(ctx, "alice", data)
	require.NoError(t, err)
	require.Equal(t, "hello bob", string(pt))

	reply, err := bob.SealBytes(ctx, "alice", []byte("hi alice"))
	require.NoError(t, err)
	pt, err = alice.OpenBytes(ctx, "bob", reply)
	require.NoError(t, err)
	require.Equal(t, "hi alice", string(pt))
}

func TestCodec_SealRequiresSession(t *testing.T) {
	alice, _, _ := pair(t)
	_, err := alice.Seal(context.Background(), "carol", []byte("x"))
	require.ErrorIs(t, err, session.ErrSessionNotFound)
}

func TestCodec_OpenTamperedIsNonDestructive(t *testing.T) {
	ctx := context.Background()
	alice, bob, _ := pair(t)

	env, err := alice.Seal(ctx, "bob", []byte("payload"))
	require.NoError(t, err)

	bad := env
	msg := *env.Message
	msg.Ciphertext = append([]byte(nil), msg.Ciphertext...)
	msg.Ciphertext[0] ^= 0x01
	bad.Message = &msg
	_, err = bob.Open(ctx, "alice", bad)
	require.ErrorIs(t, err, ratchet.ErrAuthenticationFailed)

	pt, err := bob.Open(ctx, "alice", env)
	require.NoError(t, err)
	require.Equal(t, "payload", string(pt))
}

func TestCodec_OpenRejectsHandshakeEnvelope(t *testing.T) {
	ctx := context.Background()
	alice, bob, a := pair(t)

	env, err := alice.Seal(ctx, "bob", []byte("first"))
	require.NoError(t, err)
	hs := envelope.NewHandshake(a.PreKeyMessage(a.PeerIdentity), env.Message.Ratchet())
	_, err = bob.Open(ctx, "alice", hs)
	require.ErrorIs(t, err, envelope.ErrMalformed)
}

func TestEncodeDecode_Handshake(t *testing.T) {
	alice, _, a := pair(t)
	env, err := alice.Seal(context.Background(), "bob", []byte("first"))
	require.NoError(t, err)

	hs := envelope.NewHandshake(a.PreKeyMessage(a.PeerIdentity), env.Message.Ratchet())
	data, err := envelope.Encode(hs)
	require.NoError(t, err)

	got, err := envelope.Decode(data)
	require.NoError(t, err)
	require.Equal(t, envelope.KindHandshake, got.Kind)
	require.Nil(t, got.Message)
	require.Equal(t, hs.Handshake.PreKey, got.Handshake.PreKey)
	require.Equal(t, env.Message.Header, got.Handshake.Message.Header)
	require.Equal(t, env.Message.AuthTag, got.Handshake.Message.AuthTag)
}

func TestDecode_Rejects(t *testing.T) {
	alice, _, _ := pair(t)
	env, err := alice.Seal(context.Background(), "bob", []byte("x"))
	require.NoError(t, err)

	unknown := env
	unknown.Kind = 9
	raw, err := cbor.Marshal(unknown)
	require.NoError(t, err)
	_, err = envelope.Decode(raw)
	require.ErrorIs(t, err, envelope.ErrUnknownKind)

	mismatch := env
	mismatch.Kind = envelope.KindHandshake
	raw, err = cbor.Marshal(mismatch)
	require.NoError(t, err)
	_, err = envelope.Decode(raw)
	require.ErrorIs(t, err, envelope.ErrMalformed)

	oldVersion := env
	oldVersion.Version = 0
	_, err = envelope.Encode(oldVersion)
	require.ErrorIs(t, err, envelope.ErrMalformed)

	shortTag := *env.Message
	shortTag.AuthTag = shortTag.AuthTag[:8]
	_, err = envelope.Encode(envelope.Envelope{Version: envelope.Version, Kind: envelope.KindMessage, Message: &shortTag})
	require.ErrorIs(t, err, envelope.ErrMalformed)

	_, err = envelope.Decode([]byte("not cbor at all"))
	require.ErrorIs(t, err, envelope.ErrMalformed)

	extra, err := cbor.Marshal(map[int]any{1: 1, 2: 2, 4: env.Message, 99: "x"})
	require.NoError(t, err)
	_, err = envelope.Decode(extra)
	require.ErrorIs(t, err, envelope.ErrMalformed)
}
