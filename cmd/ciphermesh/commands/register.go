package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"ciphermesh/internal/app"
)

func registerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "register",
		Short: "Publish your pre-key bundle to the relay",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				n, err := a.Prekeys.Register(ctx, passphrase)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Registered with relay (%d one-time pre-keys, %d left locally)\n", n, a.Keys.Available())
				return nil
			})
		},
	}
}

func replenishCmd() *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "replenish",
		Short: "Generate fresh one-time pre-keys and publish them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				n, err := a.Prekeys.Replenish(ctx, passphrase, count)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Published %d one-time pre-keys\n", n)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&count, "count", 50, "one-time pre-keys to generate")
	return cmd
}

func rotateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rotate-spk",
		Short: "Replace the signed pre-key and publish the new bundle",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				id, err := a.Prekeys.RotateSignedPreKey(ctx, passphrase)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Signed pre-key rotated: %s\n", id)
				return nil
			})
		},
	}
}
