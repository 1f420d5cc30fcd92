package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/Mindburn-Labs/munin/pkg/api"
	"github.com/Mindburn-Labs/munin/pkg/pipeline"
)

func (a *app) serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Serve the simulation and authorization API until interrupted.

Examples:
  munin serve --config munin.yaml
  MUNIN_LEDGER_BACKEND=sqlite MUNIN_LEDGER_PATH=audit.db munin serve --addr :9090`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if addr == "" {
				addr = a.cfg.Server.Addr
			}

			svc, closeAll, err := pipeline.FromConfig(ctx, a.cfg)
			if err != nil {
				return err
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := closeAll(shutdownCtx); err != nil {
					slog.Error("shutdown", "error", err)
				}
			}()

			limiter := api.NewIPRateLimiter(a.cfg.Server.RequestsPerSecond, a.cfg.Server.Burst)
			return api.NewServer(svc, limiter).ListenAndServe(ctx, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default server.addr)")
	return cmd
}
