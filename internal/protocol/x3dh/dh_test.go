package x3dh

import (
	"testing"

	"github.com/stretchr/testify/require"

	"ciphermesh/internal/crypto"
	"ciphermesh/internal/domain"
)

func TestDHInto_WipesEarlierOutputsOnError(t *testing.T) {
	a, _, err := crypto.GenerateX25519()
	require.NoError(t, err)
	_, bPub, err := crypto.GenerateX25519()
	require.NoError(t, err)

	out := make([][32]byte, 2)
	err = dhInto(out, []dhPair{
		{&a, bPub},
		{&a, domain.X25519Public{}},
	})
	require.Error(t, err)
	require.Equal(t, [32]byte{}, out[0])
	require.Equal(t, [32]byte{}, out[1])
}

func TestInitiatorRoot_RejectsLowOrderOneTimeKey(t *testing.T) {
	a, _, err := crypto.GenerateX25519()
	require.NoError(t, err)
	e, _, err := crypto.GenerateX25519()
	require.NoError(t, err)
	_, idPub, err := crypto.GenerateX25519()
	require.NoError(t, err)
	_, spkPub, err := crypto.GenerateX25519()
	require.NoError(t, err)

	var zero domain.X25519Public
	secret, err := InitiatorRoot(a, e, idPub, spkPub, &zero)
	require.Error(t, err)
	require.Nil(t, secret)
}
