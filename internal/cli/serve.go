package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/bulkforce/internal/rest"
	"github.com/JonMunkholm/bulkforce/internal/web"
)

func newServeCmd(g *globals) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve loads, queries and deletes over HTTP",
		Long: `Starts the HTTP API. On SIGINT or SIGTERM the server stops accepting
requests, waits up to SERVER_SHUTDOWN_TIMEOUT for in-flight batches and
async runs so their jobs get closed, then exits.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.loadConfig(cmd)
			if err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.Server.Addr()
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, appOptions{maxConcurrent: -1})
			if err != nil {
				return err
			}
			defer a.Close()

			server := web.NewServer(a.service, cfg.Server,
				web.WithDeleter(a.deleter(rest.DefaultWorkers), a.auth),
				web.WithLogger(a.logger),
			)

			errCh := make(chan error, 1)
			go func() { errCh <- server.Start(addr) }()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			a.logger.Info("shutting down...")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
			defer cancel()

			if status := a.limiter.Status(); status.Active > 0 {
				a.logger.Info("waiting for batches to complete", "active", status.Active)
				if err := a.limiter.WaitForDrain(shutdownCtx); err != nil {
					a.logger.Warn("batches did not complete in time", "error", err)
				}
			}
			if err := server.Shutdown(shutdownCtx); err != nil {
				a.logger.Error("shutdown error", "error", err)
				return err
			}
			a.logger.Info("server stopped")
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default SERVER_HOST:SERVER_PORT)")
	return cmd
}
