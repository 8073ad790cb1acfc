package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/funnyzak/replaytap/internal/capture"
	"github.com/funnyzak/replaytap/internal/config"
	"github.com/funnyzak/replaytap/internal/logger"
	"github.com/funnyzak/replaytap/internal/server"
	"github.com/funnyzak/replaytap/internal/storage"
	"github.com/funnyzak/replaytap/pkg/flow"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newReplayCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "replay <capture>...",
		Short: "Replay capture files once and exit",
		Long: `Replay every flow in the given capture files, in order, and exit when the
queue is empty. The admin API is not started. The command exits non-zero when
any replay failed.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, v)
			if err != nil {
				return err
			}
			cfg.API.Enable = false
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			log := logger.NewLogger(&cfg.Log, &cfg.Output)
			srv, err := server.New(cfg, log)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			stats, err := srv.RunOnce(ctx, args)
			if err != nil && ctx.Err() == nil {
				return err
			}
			log.Info("Client replay finished",
				"completed", stats.Completed,
				"failed", stats.Failed,
				"killed", stats.Killed,
			)
			if stats.Failed > 0 {
				return fmt.Errorf("%d replay(s) failed", stats.Failed)
			}
			return ctx.Err()
		},
	}
}

func newImportCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "import <capture>...",
		Short: "Import capture files into the capture database",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, v)
			if err != nil {
				return err
			}
			if cfg.Storage.Path == "" {
				return storage.ErrEmptyPath
			}
			log := logger.NewLogger(&cfg.Log, &cfg.Output)

			n, err := importCaptures(cmd.Context(), log, &cfg.Storage, args)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d flow(s) into %s\n", n, cfg.Storage.Path)
			return nil
		},
	}
}

func importCaptures(ctx context.Context, log logger.Logger, cfg *config.StorageConfig, paths []string) (int, error) {
	flows, err := capture.NewReader(log).ReadFlowsFromPaths(paths)
	if err != nil {
		return 0, err
	}

	store, err := storage.New(cfg, log)
	if err != nil {
		return 0, fmt.Errorf("open capture database: %w", err)
	}
	defer store.Close()

	for i, f := range flows {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		if _, err := store.Record(flow.ToRecord(f)); err != nil {
			return i, fmt.Errorf("import flow %s: %w", f.ID, err)
		}
	}
	log.Info("Captures imported", "flows", len(flows), "path", cfg.Path)
	return len(flows), nil
}
