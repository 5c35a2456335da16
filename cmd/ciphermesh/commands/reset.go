package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"ciphermesh/internal/app"
	"ciphermesh/internal/domain"
)

func resetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset <peer>",
		Short: "Discard the session with a peer so the next message re-handshakes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				if err := a.Messages.ResetSession(ctx, peerID(args[0])); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Session with %s reset\n", args[0])
				return nil
			})
		},
	}
}

func peerID(s string) domain.PeerID {
	return domain.PeerID(strings.TrimSpace(s))
}
