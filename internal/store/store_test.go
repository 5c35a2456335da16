package store_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"ciphermesh/internal/domain"
	"ciphermesh/internal/store"
)

// Cheap scrypt cost for tests.
var testScrypt = store.ScryptParams{N: 1 << 10, R: 8, P: 1}

func TestKeyStoreFile_SaveLoad_OK(t *testing.T) {
	home := t.TempDir()
	var ids domain.IdentityStore = store.NewKeyStoreFile(home, testScrypt)

	snapshot := []byte("key store snapshot bytes")
	require.NoError(t, ids.SaveIdentity("pass", snapshot))

	got, err := ids.LoadIdentity("pass")
	require.NoError(t, err)
	require.Equal(t, snapshot, got)

	raw, err := os.ReadFile(filepath.Join(home, "keystore.enc"))
	require.NoError(t, err)
	require.NotContains(t, string(raw), "snapshot bytes")
}

func TestKeyStoreFile_WrongPassphrase_Fails(t *testing.T) {
	home := t.TempDir()
	ids := store.NewKeyStoreFile(home, testScrypt)
	require.False(t, ids.Exists())

	_, err := ids.LoadIdentity("correct")
	require.ErrorIs(t, err, store.ErrNoKeyStore)

	require.NoError(t, ids.SaveIdentity("correct", []byte{1, 2, 3}))
	require.True(t, ids.Exists())
	_, err = ids.LoadIdentity("wrong")
	require.ErrorIs(t, err, store.ErrWrongPassphrase)
}

func TestSessionFileStore_PersistLoadDelete(t *testing.T) {
	ctx := context.Background()
	home := t.TempDir()
	s, err := store.NewSessionFileStore(home, "pass", testScrypt)
	require.NoError(t, err)

	_, found, err := s.Load(ctx, "bob")
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, s.Persist(ctx, "bob", []byte("session-blob")))
	got, found, err := s.Load(ctx, "bob")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("session-blob"), got)

	// A second store over the same directory reuses the salt.
	again, err := store.NewSessionFileStore(home, "pass", testScrypt)
	require.NoError(t, err)
	got, found, err = again.Load(ctx, "bob")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("session-blob"), got)

	wrong, err := store.NewSessionFileStore(home, "other", testScrypt)
	require.NoError(t, err)
	_, _, err = wrong.Load(ctx, "bob")
	require.ErrorIs(t, err, store.ErrWrongPassphrase)

	require.NoError(t, s.Delete(ctx, "bob"))
	require.NoError(t, s.Delete(ctx, "bob"))
	_, found, err = s.Load(ctx, "bob")
	require.NoError(t, err)
	require.False(t, found)
}

func TestSessionFileStore_BindsPeer(t *testing.T) {
	ctx := context.Background()
	home := t.TempDir()
	s, err := store.NewSessionFileStore(home, "pass", testScrypt)
	require.NoError(t, err)
	require.NoError(t, s.Persist(ctx, "bob", []byte("bob-session")))

	dir := filepath.Join(home, "sessions")
	bobFile := filepath.Join(dir, "626f62.session") // hex("bob")

	require.NoError(t, s.Persist(ctx, "carol", []byte("placeholder")))
	raw, err := os.ReadFile(bobFile)
	require.NoError(t, err)
	// Overwrite carol's file with bob's ciphertext.
	carolPath := filepath.Join(dir, "6361726f6c.session")
	require.NoError(t, os.WriteFile(carolPath, raw, 0o600))
	_, _, err = s.Load(ctx, "carol")
	require.ErrorIs(t, err, store.ErrWrongPassphrase)
}

func TestPeerFileStore_RecordsIdentity(t *testing.T) {
	s := store.NewPeerFileStore(t.TempDir())

	_, ok, err := s.LoadPeer("bob")
	require.NoError(t, err)
	require.False(t, ok)

	id := domain.IdentityPublic{XPub: domain.X25519Public{1}, EdPub: domain.Ed25519Public{2}}
	_, existed, err := s.SavePeer("bob", id)
	require.NoError(t, err)
	require.False(t, existed)

	rec, ok, err := s.LoadPeer("bob")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, id, rec.Identity)
	require.NotEmpty(t, rec.Fingerprint)

	changed := domain.IdentityPublic{XPub: domain.X25519Public{9}, EdPub: domain.Ed25519Public{2}}
	prev, existed, err := s.SavePeer("bob", changed)
	require.NoError(t, err)
	require.True(t, existed)
	require.Equal(t, id, prev.Identity)
}

func TestRedisSessionStore(t *testing.T) {
	addr := os.Getenv("CIPHERMESH_TEST_REDIS")
	if addr == "" {
		t.Skip("CIPHERMESH_TEST_REDIS not set")
	}
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(ctx).Err())

	s := store.NewRedisSessionStore(client, domain.PeerID("alice-"+t.Name()), 0)
	t.Cleanup(func() { _ = s.Delete(ctx, "bob") })

	_, found, err := s.Load(ctx, "bob")
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, s.Persist(ctx, "bob", []byte{0, 1, 2}))
	got, found, err := s.Load(ctx, "bob")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte{0, 1, 2}, got)

	require.NoError(t, s.Delete(ctx, "bob"))
	_, found, err = s.Load(ctx, "bob")
	require.NoError(t, err)
	require.False(t, found)
}
