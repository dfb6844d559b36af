package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/gcslaoli/watermark-guard-go/internal/server"
)

func newServeCmd() *cobra.Command {
	var (
		tile tileFlags
		addr string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve watermark tiles and a demo page over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			logger := loggerFromContext(ctx)
			cfg := configFromContext(ctx)

			text, opts := tile.resolve(cmd, cfg)
			if err := opts.Validate(); err != nil {
				return err
			}
			if !cmd.Flags().Changed("addr") {
				addr = cfg.Server.Addr
			}

			store, err := openAlarmLog(cfg)
			if err != nil {
				return err
			}
			if store != nil {
				defer store.Close()
			}

			srv := &http.Server{
				Addr: addr,
				Handler: server.New(server.Config{
					Text:    text,
					Options: opts,
					Alarms:  store,
					Logger:  logger,
				}),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("listening", "addr", addr)
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			logger.Info("shutting down")
			return srv.Shutdown(shutdownCtx)
		},
	}

	addTileFlags(cmd, &tile)
	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	return cmd
}
