package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func fingerprintCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fingerprint [peer]",
		Short: "Print the identity fingerprint, or the recorded fingerprint of a peer",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if len(args) == 1 {
				rec, ok, err := wire.Peers.LoadPeer(peerID(args[0]))
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("no recorded identity for %q", args[0])
				}
				fmt.Fprintf(out, "%s: %s (first seen %s)\n", rec.PeerID, rec.Fingerprint, rec.FirstSeen.Format("2006-01-02"))
				return nil
			}
			fp, err := wire.Identity.Fingerprint(passphrase)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Fingerprint: %s\n", fp)
			return nil
		},
	}
	return cmd
}
