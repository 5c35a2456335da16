package prekey_test

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"ciphermesh/internal/relay"
	"ciphermesh/internal/services/identity"
	"ciphermesh/internal/services/prekey"
	"ciphermesh/internal/store"
)

const pass = "Correct-Horse-42"

func setup(t *testing.T, oneTime, batch int) (*prekey.Service, *identity.Service, *relay.Client) {
	t.Helper()
	srv := httptest.NewServer(relay.NewServer().Handler())
	t.Cleanup(srv.Close)

	ids := identity.New(store.NewKeyStoreFile(t.TempDir(), store.ScryptParams{N: 1 << 10, R: 8, P: 1}), nil)
	ks, _, err := ids.Create("bob", pass, oneTime)
	require.NoError(t, err)
	return prekey.New(ks, ids, relay.NewClient(srv.URL, "bob"), batch, nil), ids, relay.NewClient(srv.URL, "alice")
}

func TestRegister_HandsOutEachKeyOnce(t *testing.T) {
	ctx := context.Background()
	svc, ids, alice := setup(t, 3, 2)

	n, err := svc.Register(ctx, pass)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		b, err := alice.FetchBundle(ctx, "bob")
		require.NoError(t, err)
		require.NotNil(t, b.OneTimePreKey)
		require.False(t, seen[string(b.OneTimePreKey.ID)])
		seen[string(b.OneTimePreKey.ID)] = true
	}
	b, err := alice.FetchBundle(ctx, "bob")
	require.NoError(t, err)
	require.Nil(t, b.OneTimePreKey)

	// Issued keys stay issued across a reload.
	ks, err := ids.Load(pass)
	require.NoError(t, err)
	require.Equal(t, 1, ks.Available())
}

func TestRegister_ExhaustedPoolStillRegisters(t *testing.T) {
	ctx := context.Background()
	svc, _, alice := setup(t, 0, 5)

	n, err := svc.Register(ctx, pass)
	require.NoError(t, err)
	require.Zero(t, n)

	b, err := alice.FetchBundle(ctx, "bob")
	require.NoError(t, err)
	require.Nil(t, b.OneTimePreKey)
	require.NotEmpty(t, b.SignedPreKeyID)
}

func TestReplenish(t *testing.T) {
	ctx := context.Background()
	svc, _, alice := setup(t, 1, 5)

	_, err := svc.Register(ctx, pass)
	require.NoError(t, err)
	n, err := svc.Replenish(ctx, pass, 3)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	for i := 0; i < 4; i++ {
		b, err := alice.FetchBundle(ctx, "bob")
		require.NoError(t, err)
		require.NotNil(t, b.OneTimePreKey)
	}
}

func TestRotateSignedPreKey(t *testing.T) {
	ctx := context.Background()
	svc, ids, alice := setup(t, 0, 1)

	_, err := svc.Register(ctx, pass)
	require.NoError(t, err)
	before, err := alice.FetchBundle(ctx, "bob")
	require.NoError(t, err)

	id, err := svc.RotateSignedPreKey(ctx, pass)
	require.NoError(t, err)
	require.NotEqual(t, before.SignedPreKeyID, id)

	after, err := alice.FetchBundle(ctx, "bob")
	require.NoError(t, err)
	require.Equal(t, id, after.SignedPreKeyID)
	require.Equal(t, before.IdentityKey, after.IdentityKey)

	ks, err := ids.Load(pass)
	require.NoError(t, err)
	_, err = ks.SignedPreKey(before.SignedPreKeyID)
	require.NoError(t, err)
}
