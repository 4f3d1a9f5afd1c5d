package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/corelay-dev/corelay/pkg/hub"
	"github.com/corelay-dev/corelay/pkg/store"
)

func serveCmd() *cobra.Command {
	var (
		port     string
		serverID string
		binary   bool
		debug    bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay server",
		Long: `Run the relay server: websocket endpoint, REST surface, and the
replication subscription. Configuration comes from CORELAY_* environment
variables; flags override the environment.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := hub.ConfigFromEnv()
			if port != "" {
				cfg.Port = port
			}
			if serverID != "" {
				cfg.ServerID = serverID
			}
			if cmd.Flags().Changed("binary") {
				cfg.BinaryProtocol = binary
			}

			logger := newLogger(debug)
			slog.SetDefault(logger)

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			st, err := store.NewClient(ctx, store.Options{
				Host:     cfg.RedisHost,
				Port:     cfg.RedisPort,
				Password: cfg.RedisPassword,
			}, logger)
			if err != nil {
				return err
			}

			h := hub.New(cfg, st, logger)

			errc := make(chan error, 1)
			go func() { errc <- h.Run(ctx) }()

			select {
			case err := <-errc:
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancelShutdown()
			return h.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVarP(&port, "port", "p", "", "Listen port (overrides CORELAY_SERVER_PORT)")
	cmd.Flags().StringVar(&serverID, "server-id", "", "Server id (overrides CORELAY_SERVER_ID)")
	cmd.Flags().BoolVar(&binary, "binary", false, "Use the binary wire protocol")
	cmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging")

	return cmd
}

func newLogger(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}
