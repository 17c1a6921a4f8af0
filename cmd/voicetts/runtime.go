package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/example/go-voice-tts/internal/audio"
	"github.com/example/go-voice-tts/internal/config"
	"github.com/example/go-voice-tts/internal/engine"
	"github.com/example/go-voice-tts/internal/samples"
	"github.com/example/go-voice-tts/internal/synth"
)

// runtimeDeps is everything a command needs to serve or run synthesis.
type runtimeDeps struct {
	engine     engine.Engine
	transcoder audio.FFmpegTranscoder
	store      *samples.Store
	svc        *synth.Service
}

// newEngine is swapped in tests.
var newEngine = engine.New

// buildRuntime constructs the engine, normalizer, sample store and
// orchestrator from cfg. The engine is created once and shared.
func buildRuntime(cfg config.Config, logger *slog.Logger) (*runtimeDeps, error) {
	if logger == nil {
		logger = slog.Default()
	}

	eng, err := newEngine(cfg.Engine, logger)
	if err != nil {
		return nil, fmt.Errorf("create engine: %w", err)
	}

	transcoder := audio.FFmpegTranscoder{Path: cfg.Audio.FFmpegPath}
	normalizer := audio.NewNormalizer(transcoder)

	store, err := samples.NewStore(cfg.Paths.SamplesDir, normalizer)
	if err != nil {
		return nil, errors.Join(err, eng.Close())
	}

	svc, err := synth.New(eng, store, normalizer,
		synth.WithOutputDir(cfg.Paths.OutputDir),
		synth.WithOutputRetention(cfg.Paths.KeepOutputs),
		synth.WithLanguage(cfg.Engine.Language),
		synth.WithLogger(logger),
	)
	if err != nil {
		return nil, errors.Join(err, eng.Close())
	}

	return &runtimeDeps{
		engine:     eng,
		transcoder: transcoder,
		store:      store,
		svc:        svc,
	}, nil
}

func (r *runtimeDeps) Close() error {
	return r.engine.Close()
}

// describeEngine names the configured backend for logs and doctor output.
func describeEngine(cfg config.EngineConfig) string {
	backend, err := config.NormalizeBackend(cfg.Backend)
	if err != nil {
		return cfg.Backend
	}
	if backend == config.BackendCLI {
		exe := cfg.CLIPath
		if exe == "" {
			exe = "pocket-tts"
		}
		return "engine (cli " + exe + ")"
	}
	return "engine (http " + cfg.URL + ")"
}
