package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/go-voice-tts/internal/audio"
	"github.com/example/go-voice-tts/internal/config"
	"github.com/example/go-voice-tts/internal/doctor"
)

const doctorProbeTimeout = 15 * time.Second

func newDoctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check ffmpeg, the synthesis engine and data directories",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}
			return runDoctor(cmd.Context(), cfg, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	return cmd
}

func runDoctor(ctx context.Context, cfg config.Config, stdout, stderr io.Writer) error {
	backend, err := config.NormalizeBackend(cfg.Engine.Backend)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(stdout, "backend: %s\n", backend)

	dcfg := doctor.Config{
		FFmpegVersion: func() (string, error) {
			return probeFFmpegVersion(ctx, cfg.Audio.FFmpegPath)
		},
		Engine: describeEngine(cfg.Engine),
		EngineHealth: func() (string, error) {
			return probeEngine(ctx, cfg.Engine)
		},
		WritableDirs: []string{cfg.Paths.SamplesDir, cfg.Paths.OutputDir},
	}

	result := doctor.Run(dcfg, stdout)

	if result.Failed() {
		for _, f := range result.Failures() {
			_, _ = fmt.Fprintf(stderr, "FAIL: %s\n", f)
		}

		return errors.New("doctor checks failed")
	}

	_, _ = fmt.Fprintln(stdout, "doctor checks passed")

	return nil
}

func probeFFmpegVersion(ctx context.Context, path string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, doctorProbeTimeout)
	defer cancel()

	return audio.FFmpegTranscoder{Path: path}.Version(ctx)
}

// probeEngine builds a throwaway engine and runs its health check.
func probeEngine(ctx context.Context, cfg config.EngineConfig) (string, error) {
	eng, err := newEngine(cfg, slog.Default())
	if err != nil {
		return "", err
	}
	defer func() { _ = eng.Close() }()

	ctx, cancel := context.WithTimeout(ctx, doctorProbeTimeout)
	defer cancel()

	if err := eng.Health(ctx); err != nil {
		return "", err
	}
	return "ok", nil
}
