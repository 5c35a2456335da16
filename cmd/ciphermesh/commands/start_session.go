package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"ciphermesh/internal/app"
	"ciphermesh/internal/domain"
	"ciphermesh/internal/envelope"
)

// startSessionCmd performs the X3DH handshake against a peer's pre-key bundle,
// persists the new session and delivers the handshake envelope.
func startSessionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start-session <peer> <first-message>",
		Short: "Establish a secure session with a peer",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			peer := peerID(args[0])
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				env, err := a.Handshakes.BeginSession(ctx, peer, []byte(args[1]))
				if err != nil {
					return fmt.Errorf("starting session with %q: %w", peer, err)
				}
				if err := deliver(ctx, a, peer, env); err != nil {
					return errors.Join(err, a.Handshakes.ResetSession(ctx, peer))
				}
				rec, _, _ := a.Peers.LoadPeer(peer)
				fmt.Fprintf(cmd.OutOrStdout(), "Session created with %s. Peer fingerprint: %s\n", peer, rec.Fingerprint)
				return nil
			})
		},
	}
}

func deliver(ctx context.Context, a *app.App, peer domain.PeerID, env envelope.Envelope) error {
	data, err := envelope.Encode(env)
	if err != nil {
		return err
	}
	if err := a.Sessions.Persist(ctx, peer); err != nil {
		return err
	}
	return a.Relay.Deliver(ctx, peer, data)
}
