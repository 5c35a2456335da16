package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"ciphermesh/internal/app"
)

// send <peer> <message>: encrypt and send a message to <peer>, starting a
// session first if there is none.
func sendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <peer> <message>",
		Short: "Encrypt and send a message to a peer",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				if err := a.Messages.Send(ctx, peerID(args[0]), []byte(args[1])); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "sent")
				return nil
			})
		},
	}
}
