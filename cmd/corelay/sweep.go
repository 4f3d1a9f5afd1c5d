package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/corelay-dev/corelay/pkg/hub"
	"github.com/corelay-dev/corelay/pkg/store"
)

func sweepCmd() *cobra.Command {
	var (
		once     bool
		interval time.Duration
		debug    bool
	)

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete stale rooms from the store",
		Long: `Delete rooms that have no participants or that no live socket
references. Runs on an interval by default; use --once for a single pass,
for example from a cron job. Servers running with a sweep interval of their
own do not need this command.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := hub.ConfigFromEnv()
			if interval == 0 {
				interval = cfg.StaleRoomSweepInterval
			}

			logger := newLogger(debug).With("component", "sweeper")
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
			defer st.Close()

			sweep := func() {
				removed, err := st.RemoveStaleRooms(ctx)
				if err != nil {
					logger.Error("sweep failed", "error", err)
					return
				}
				logger.Info("sweep complete", "removed", len(removed))
			}

			sweep()
			if once {
				return nil
			}

			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					sweep()
				}
			}
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "Run a single sweep and exit")
	cmd.Flags().DurationVar(&interval, "interval", 0, "Sweep interval (default CORELAY_STALE_ROOM_SWEEP_INTERVAL)")
	cmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging")

	return cmd
}
