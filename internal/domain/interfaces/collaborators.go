package interfaces

import (
	"context"

	domaintypes "ciphermesh/internal/domain/types"
)

// PeerDirectory resolves and publishes pre-key bundles.
type PeerDirectory interface {
	FetchBundle(ctx context.Context, peer domaintypes.PeerID) (domaintypes.PreKeyBundle, error)
	PublishBundle(ctx context.Context, upload domaintypes.BundleUpload) error
}

// Transport moves opaque envelope bytes between peers.
type Transport interface {
	Deliver(ctx context.Context, to domaintypes.PeerID, data []byte) error
	FetchMessages(ctx context.Context, limit int) ([]domaintypes.Inbound, error)
	AckMessages(ctx context.Context, count int) error
}
