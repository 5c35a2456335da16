package interfaces

import (
	"context"

	domaintypes "ciphermesh/internal/domain/types"
)

// IdentityStore persists the sealed key-store snapshot under a passphrase.
type IdentityStore interface {
	SaveIdentity(passphrase string, snapshot []byte) error
	LoadIdentity(passphrase string) ([]byte, error)
}

// SessionStore keeps serialized ratchet sessions between process restarts.
type SessionStore interface {
	Persist(ctx context.Context, peer domaintypes.PeerID, blob []byte) error
	Load(ctx context.Context, peer domaintypes.PeerID) ([]byte, bool, error)
	Delete(ctx context.Context, peer domaintypes.PeerID) error
}
