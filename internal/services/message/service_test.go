package message_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"ciphermesh/internal/domain"
	"ciphermesh/internal/envelope"
	"ciphermesh/internal/keystore"
	"ciphermesh/internal/protocol/ratchet"
	"ciphermesh/internal/protocol/x3dh"
	"ciphermesh/internal/relay"
	"ciphermesh/internal/services/handshake"
	"ciphermesh/internal/services/message"
	"ciphermesh/internal/session"
	"ciphermesh/internal/store"
)

const pass = "Correct-Horse-42"

var fastScrypt = store.ScryptParams{N: 1 << 10, R: 8, P: 1}

type peer struct {
	id       domain.PeerID
	ks       *keystore.Store
	dir      string
	client   *relay.Client
	sessions *session.Manager
	hs       *handshake.Service
	msgs     *message.Service
}

func newPeer(t *testing.T, base string, id domain.PeerID) *peer {
	t.Helper()
	ks, err := keystore.Generate(id, 4)
	require.NoError(t, err)
	p := &peer{id: id, ks: ks, dir: t.TempDir(), client: relay.NewClient(base, id)}

	up, err := ks.DirectoryBundle(4)
	require.NoError(t, err)
	require.NoError(t, p.client.PublishBundle(context.Background(), up))
	p.start(t)
	return p
}

// start builds the session layer over the peer's on-disk session store, as
// a process restart would. wrap, when set, decorates that store.
func (p *peer) start(t *testing.T, wrap ...func(domain.SessionStore) domain.SessionStore) {
	t.Helper()
	fs, err := store.NewSessionFileStore(p.dir, pass, fastScrypt)
	require.NoError(t, err)
	var st domain.SessionStore = fs
	for _, w := range wrap {
		st = w(st)
	}
	p.sessions = session.NewManager(session.WithStore(st))
	p.hs = handshake.New(x3dh.NewEngine(p.ks, nil), p.ks.Identity().Public(), p.sessions, p.client, nil, nil, nil)
	p.msgs = message.New(envelope.NewCodec(p.sessions, nil, nil), p.hs, p.sessions, p.client,
		message.WithPersistence(), message.WithMaxAuthFailures(3))
}

// brokenStore fails every write.
type brokenStore struct {
	domain.SessionStore
	err error
}

func (b brokenStore) Persist(context.Context, domain.PeerID, []byte) error { return b.err }

func newRelay(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(relay.NewServer().Handler())
	t.Cleanup(srv.Close)
	return srv.URL
}

func texts(msgs []domain.DecryptedMessage) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, string(m.Plaintext))
	}
	return out
}

func TestSendReceive_Conversation(t *testing.T) {
	ctx := context.Background()
	base := newRelay(t)
	alice := newPeer(t, base, "alice")
	bob := newPeer(t, base, "bob")

	require.NoError(t, alice.msgs.Send(ctx, "bob", []byte("m1")))
	require.NoError(t, alice.msgs.Send(ctx, "bob", []byte("m2")))

	got, err := bob.msgs.Receive(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, []string{"m1", "m2"}, texts(got))
	require.Equal(t, domain.PeerID("alice"), got[0].From)

	require.NoError(t, bob.msgs.Send(ctx, "alice", []byte("r1")))
	got, err = alice.msgs.Receive(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, []string{"r1"}, texts(got))

	// Everything handled was acked.
	left, err := bob.client.FetchMessages(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, left)
}

func TestSessionsSurviveRestart(t *testing.T) {
	ctx := context.Background()
	base := newRelay(t)
	alice := newPeer(t, base, "alice")
	bob := newPeer(t, base, "bob")

	require.NoError(t, alice.msgs.Send(ctx, "bob", []byte("before")))
	_, err := bob.msgs.Receive(ctx, 10)
	require.NoError(t, err)

	alice.start(t)
	bob.start(t)
	require.False(t, bob.sessions.Has("alice"))

	require.NoError(t, alice.msgs.Send(ctx, "bob", []byte("after")))
	got, err := bob.msgs.Receive(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, []string{"after"}, texts(got))
}

func TestReceive_DropsMalformed(t *testing.T) {
	ctx := context.Background()
	base := newRelay(t)
	alice := newPeer(t, base, "alice")
	bob := newPeer(t, base, "bob")

	require.NoError(t, alice.client.Deliver(ctx, "bob", []byte("not an envelope")))
	require.NoError(t, alice.msgs.Send(ctx, "bob", []byte("hello")))

	got, err := bob.msgs.Receive(ctx, 10)
	require.ErrorIs(t, err, envelope.ErrMalformed)
	require.Equal(t, []string{"hello"}, texts(got))

	left, err := bob.client.FetchMessages(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, left)
}

func TestReceive_DropsMessagesWithoutSession(t *testing.T) {
	ctx := context.Background()
	base := newRelay(t)
	alice := newPeer(t, base, "alice")
	bob := newPeer(t, base, "bob")
	carol := newPeer(t, base, "carol")

	require.NoError(t, alice.msgs.Send(ctx, "bob", []byte("one")))
	_, err := bob.msgs.Receive(ctx, 10)
	require.NoError(t, err)

	// bob forgets alice while she keeps sending on the old session.
	require.NoError(t, bob.msgs.ResetSession(ctx, "alice"))
	require.NoError(t, alice.msgs.Send(ctx, "bob", []byte("stale")))
	require.NoError(t, carol.msgs.Send(ctx, "bob", []byte("from carol")))

	got, err := bob.msgs.Receive(ctx, 10)
	require.ErrorIs(t, err, session.ErrSessionNotFound)
	require.Equal(t, []string{"from carol"}, texts(got))
	require.Equal(t, domain.PeerID("carol"), got[0].From)

	// Nothing is left to block later receives.
	left, err := bob.client.FetchMessages(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, left)

	require.NoError(t, carol.msgs.Send(ctx, "bob", []byte("again")))
	got, err = bob.msgs.Receive(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, []string{"again"}, texts(got))
}

func TestReceive_MessageBeforeHandshake(t *testing.T) {
	ctx := context.Background()
	base := newRelay(t)
	alice := newPeer(t, base, "alice")
	bob := newPeer(t, base, "bob")

	// The follow-up overtakes the handshake on its way to bob.
	hs, err := alice.hs.BeginSession(ctx, "bob", []byte("first"))
	require.NoError(t, err)
	require.NoError(t, alice.msgs.Send(ctx, "bob", []byte("second")))
	data, err := envelope.Encode(hs)
	require.NoError(t, err)
	require.NoError(t, alice.client.Deliver(ctx, "bob", data))

	got, err := bob.msgs.Receive(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, []string{"first", "second"}, texts(got))

	left, err := bob.client.FetchMessages(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, left)
}

func TestReceive_ReturnsPlaintextWhenSaveFails(t *testing.T) {
	ctx := context.Background()
	base := newRelay(t)
	alice := newPeer(t, base, "alice")
	bob := newPeer(t, base, "bob")

	errDisk := errors.New("disk full")
	bob.start(t, func(st domain.SessionStore) domain.SessionStore {
		return brokenStore{SessionStore: st, err: errDisk}
	})

	require.NoError(t, alice.msgs.Send(ctx, "bob", []byte("m1")))
	got, err := bob.msgs.Receive(ctx, 10)
	require.ErrorIs(t, err, message.ErrNotPersisted)
	require.ErrorIs(t, err, errDisk)
	require.Equal(t, []string{"m1"}, texts(got))

	left, err := bob.client.FetchMessages(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, left)
}

// detachedFetch fetches regardless of the caller's context.
type detachedFetch struct{ *relay.Client }

func (d detachedFetch) FetchMessages(_ context.Context, limit int) ([]domain.Inbound, error) {
	return d.Client.FetchMessages(context.Background(), limit)
}

func TestReceive_StopsWhenCancelled(t *testing.T) {
	base := newRelay(t)
	alice := newPeer(t, base, "alice")
	bob := newPeer(t, base, "bob")
	require.NoError(t, alice.msgs.Send(context.Background(), "bob", []byte("m1")))

	svc := message.New(envelope.NewCodec(bob.sessions, nil, nil), bob.hs, bob.sessions, detachedFetch{bob.client})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	got, err := svc.Receive(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, got)
	require.False(t, bob.sessions.Has("alice"))

	left, err := bob.client.FetchMessages(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, left, 1)
}

func TestHandleEnvelope_Desynchronized(t *testing.T) {
	ctx := context.Background()
	base := newRelay(t)
	alice := newPeer(t, base, "alice")
	bob := newPeer(t, base, "bob")

	require.NoError(t, alice.msgs.Send(ctx, "bob", []byte("hi")))
	_, err := bob.msgs.Receive(ctx, 10)
	require.NoError(t, err)

	env, err := alice.msgs.Seal(ctx, "bob", []byte("payload"))
	require.NoError(t, err)
	good, err := envelope.Encode(env)
	require.NoError(t, err)
	env.Message.AuthTag[0] ^= 0x01
	bad, err := envelope.Encode(env)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err = bob.msgs.HandleEnvelope(ctx, "alice", bad)
		require.ErrorIs(t, err, ratchet.ErrAuthenticationFailed)
		require.NotErrorIs(t, err, message.ErrDesynchronized)
	}
	_, err = bob.msgs.HandleEnvelope(ctx, "alice", bad)
	require.ErrorIs(t, err, message.ErrDesynchronized)
	require.ErrorIs(t, err, ratchet.ErrAuthenticationFailed)

	// The session is untouched and a valid message still opens.
	require.True(t, bob.sessions.Has("alice"))
	pt, err := bob.msgs.HandleEnvelope(ctx, "alice", good)
	require.NoError(t, err)
	require.Equal(t, "payload", string(pt))

	// Success clears the count.
	env2, err := alice.msgs.Seal(ctx, "bob", []byte("next"))
	require.NoError(t, err)
	env2.Message.AuthTag[0] ^= 0x01
	bad2, err := envelope.Encode(env2)
	require.NoError(t, err)
	_, err = bob.msgs.HandleEnvelope(ctx, "alice", bad2)
	require.NotErrorIs(t, err, message.ErrDesynchronized)
}

func TestResetSession_AllowsNewHandshake(t *testing.T) {
	ctx := context.Background()
	base := newRelay(t)
	alice := newPeer(t, base, "alice")
	bob := newPeer(t, base, "bob")

	require.NoError(t, alice.msgs.Send(ctx, "bob", []byte("one")))
	_, err := bob.msgs.Receive(ctx, 10)
	require.NoError(t, err)

	require.NoError(t, alice.msgs.ResetSession(ctx, "bob"))
	require.NoError(t, bob.msgs.ResetSession(ctx, "alice"))

	require.NoError(t, alice.msgs.Send(ctx, "bob", []byte("two")))
	got, err := bob.msgs.Receive(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, []string{"two"}, texts(got))
}
