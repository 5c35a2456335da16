package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"ciphermesh/internal/logging"
	"ciphermesh/internal/metrics"
	"ciphermesh/internal/relay"
)

const shutdownTimeout = 10 * time.Second

func main() {
	var (
		addr       string
		logLevel   string
		rateLimit  int
		rateWindow time.Duration
	)
	cmd := &cobra.Command{
		Use:          "relay",
		Short:        "Run the ciphermesh bundle directory and mailbox relay",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logging.New(os.Stderr, logLevel)
			if err != nil {
				return err
			}

			reg := prometheus.NewRegistry()
			reg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)
			srv := relay.NewServer(
				relay.WithServerLogger(logger),
				relay.WithServerMetrics(metrics.New(reg), reg),
				relay.WithRateLimit(rateLimit, rateWindow),
			)

			hs := &http.Server{
				Addr:              addr,
				Handler:           srv.Handler(),
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       30 * time.Second,
				WriteTimeout:      30 * time.Second,
				IdleTimeout:       2 * time.Minute,
			}

			errc := make(chan error, 1)
			go func() {
				level.Info(logger).Log("msg", "relay listening", "addr", addr)
				errc <- hs.ListenAndServe()
			}()

			select {
			case err := <-errc:
				return err
			case <-cmd.Context().Done():
			}
			level.Info(logger).Log("msg", "shutting down")
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := hs.Shutdown(ctx); err != nil {
				return err
			}
			if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "debug, info, warn, error or none")
	cmd.Flags().IntVar(&rateLimit, "rate-limit", 0, "requests per window per client IP (0 disables)")
	cmd.Flags().DurationVar(&rateWindow, "rate-window", time.Minute, "rate limit window")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := cmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
