package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"ciphermesh/internal/app"
)

var (
	cfg        = app.DefaultConfig()
	passphrase string
	wire       *app.Wire
)

// Execute runs the CLI until ctx is cancelled.
func Execute(ctx context.Context) error {
	root := &cobra.Command{
		Use:           "ciphermesh",
		Short:         "End-to-end encrypted messaging over X3DH and the double ratchet",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			w, err := app.NewWire(cfg)
			if err != nil {
				return err
			}
			wire = w
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&cfg.Home, "home", cfg.Home, "config dir (env "+app.EnvHome+")")
	pf.StringVarP(&passphrase, "passphrase", "p", "", "passphrase protecting the key store")
	pf.StringVar(&cfg.RelayURL, "relay", cfg.RelayURL, "relay base URL (env "+app.EnvRelay+")")
	pf.StringVar(&cfg.RedisAddr, "redis", cfg.RedisAddr, "store sessions in this Redis instead of --home (env "+app.EnvRedis+")")
	pf.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn, error or none (env "+app.EnvLogLevel+")")
	pf.IntVar(&cfg.MaxSkippedKeys, "max-skipped", cfg.MaxSkippedKeys, "skipped message keys kept per session")
	pf.Uint32Var(&cfg.MaxChainGap, "max-gap", cfg.MaxChainGap, "largest counter jump accepted in one message")
	pf.IntVar(&cfg.MaxAuthFailures, "max-auth-failures", cfg.MaxAuthFailures, "consecutive failures before a session is reported desynchronized")
	pf.IntVar(&cfg.OneTimePreKeyBatch, "prekey-batch", cfg.OneTimePreKeyBatch, "one-time pre-keys uploaded per registration")

	root.AddCommand(
		initCmd(),
		fingerprintCmd(),
		registerCmd(),
		replenishCmd(),
		rotateCmd(),
		startSessionCmd(),
		sendCmd(),
		recvCmd(),
		resetCmd(),
	)
	return root.ExecuteContext(ctx)
}

// withApp unlocks the key store, runs fn and seals everything again.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) (err error) {
	if passphrase == "" {
		return fmt.Errorf("passphrase required (-p)")
	}
	ctx := cmd.Context()
	a, err := wire.Open(ctx, passphrase)
	if err != nil {
		return err
	}
	defer func() {
		// Persist even when ctx was cancelled mid-command.
		if cerr := a.Close(context.WithoutCancel(ctx)); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}()
	return fn(ctx, a)
}
