package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func initCmd() *cobra.Command {
	var oneTime int
	cmd := &cobra.Command{
		Use:   "init <peer-id>",
		Short: "Generate identity keys and store them securely",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if passphrase == "" {
				return fmt.Errorf("passphrase required (-p)")
			}
			if wire.KeyStore.Exists() {
				return fmt.Errorf("a key store already exists in %s", cfg.Home)
			}
			_, fp, err := wire.Identity.Create(peerID(args[0]), passphrase, oneTime)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Identity created.\nFingerprint: %s\n", fp)
			return nil
		},
	}
	cmd.Flags().IntVar(&oneTime, "one-time", 100, "one-time pre-keys to generate")
	return cmd
}
