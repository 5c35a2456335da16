package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"ciphermesh/internal/app"
	"ciphermesh/internal/services/message"
)

// recv: fetch and decrypt queued messages.
func recvCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "recv",
		Short: "Fetch and decrypt your queued messages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				msgs, err := a.Messages.Receive(ctx, limit)
				out := cmd.OutOrStdout()
				for _, m := range msgs {
					ts := time.Unix(m.Timestamp, 0).Format(time.RFC3339)
					fmt.Fprintf(out, "%s [%s] %s\n", ts, m.From, string(m.Plaintext))
				}
				if errors.Is(err, message.ErrDesynchronized) {
					fmt.Fprintln(cmd.ErrOrStderr(), "a session looks desynchronized; run `ciphermesh reset <peer>` and start a new one")
				}
				return err
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", cfg.FetchLimit, "maximum envelopes to fetch")
	return cmd
}
