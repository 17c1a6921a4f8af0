package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/go-voice-tts/internal/server"
)

const startupHealthTimeout = 30 * time.Second

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the voice TTS HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			logger := slog.Default()

			deps, err := buildRuntime(cfg, logger)
			if err != nil {
				return err
			}
			defer func() { _ = deps.Close() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := checkEngine(ctx, deps.engine.Health); err != nil {
				return err
			}

			logger.Info("starting server",
				slog.String("listen_addr", cfg.Server.ListenAddr),
				slog.String("engine", describeEngine(cfg.Engine)),
				slog.String("samples_dir", cfg.Paths.SamplesDir),
				slog.String("output_dir", cfg.Paths.OutputDir),
				slog.Int("keep_outputs", cfg.Paths.KeepOutputs),
				slog.Int("workers", cfg.Server.Workers),
			)

			srv := server.New(cfg, deps.svc,
				server.WithLogger(logger),
				server.WithHealthCheck(deps.engine.Health),
			)

			return srv.Start(ctx)
		},
	}

	return cmd
}

// checkEngine refuses to serve when the engine cannot be reached.
func checkEngine(ctx context.Context, health server.HealthFunc) error {
	ctx, cancel := context.WithTimeout(ctx, startupHealthTimeout)
	defer cancel()

	if err := health(ctx); err != nil {
		return fmt.Errorf("engine is not ready: %w", err)
	}
	return nil
}
