// Package engine is the boundary to the speech-synthesis model. The model
// runs out of process; this package speaks to it either over HTTP (an
// inference sidecar) or through the pocket-tts command line.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/example/go-voice-tts/internal/config"
)

// ErrEngine marks failures reported by, or while talking to, the synthesis
// engine.
var ErrEngine = errors.New("synthesis engine failure")

// SpeakerEmbedding is an engine-produced voice representation. Callers treat
// it as opaque and hand it back to the engine that produced it.
type SpeakerEmbedding struct {
	Values []float32 `json:"values,omitempty"`
	Shape  []int64   `json:"shape,omitempty"`
	// Raw carries serialized embeddings for engines that exchange files
	// (e.g. a .safetensors voice export).
	Raw []byte `json:"raw,omitempty"`
}

// Empty reports whether the embedding carries no data.
func (e SpeakerEmbedding) Empty() bool {
	return len(e.Values) == 0 && len(e.Raw) == 0
}

// Conditioning is the full conditioning dictionary handed to Prepare.
type Conditioning struct {
	Text          string           `json:"text"`
	Language      string           `json:"language"`
	Speaker       SpeakerEmbedding `json:"speaker"`
	Emotion       []float64        `json:"emotion"`
	VQScore8      []float64        `json:"vqscore_8"`
	FMax          int              `json:"fmax"`
	PitchStd      float64          `json:"pitch_std"`
	SpeakingRate  float64          `json:"speaking_rate"`
	DNSMOSOverall float64          `json:"dnsmos_ovrl"`
	SpeakerNoised bool             `json:"speaker_noised"`
}

// Prepared is engine-side conditioning ready for generation.
type Prepared struct {
	// Payload is the engine's own representation, passed back verbatim.
	Payload json.RawMessage
	// Source is the dictionary the conditioning was prepared from.
	Source Conditioning
}

// Codes are the intermediate audio codes produced by Generate.
type Codes struct {
	Frames [][]int64 `json:"codes,omitempty"`
	// Raw holds engines that skip the code stage and emit audio directly.
	Raw []byte `json:"-"`
}

// Waveform is decoded mono audio.
type Waveform struct {
	Samples    []float32
	SampleRate int
}

// Engine is the synthesis model contract: embed a voice, prepare
// conditioning, generate codes, decode them to audio.
type Engine interface {
	Embed(ctx context.Context, wav []byte, sampleRate int) (SpeakerEmbedding, error)
	Prepare(ctx context.Context, cond Conditioning) (Prepared, error)
	Generate(ctx context.Context, prepared Prepared) (Codes, error)
	Decode(ctx context.Context, codes Codes) (Waveform, error)
	Health(ctx context.Context) error
	Close() error
}

// New builds the engine selected by cfg.Backend.
func New(cfg config.EngineConfig, logger *slog.Logger) (Engine, error) {
	backend, err := config.NormalizeBackend(cfg.Backend)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	switch backend {
	case config.BackendHTTP:
		return NewHTTPEngine(cfg.URL, cfg.Timeout(), logger)
	case config.BackendCLI:
		return NewCLIEngine(CLIOptions{
			ExecutablePath: cfg.CLIPath,
			ConfigPath:     cfg.CLIConfigPath,
			Quiet:          cfg.Quiet,
			Logger:         logger,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported engine backend %q", backend)
	}
}

// engineError wraps err as an ErrEngine while keeping it (and any context
// error inside it) reachable through errors.Is.
func engineError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrEngine, op, err)
}

func engineErrorf(op, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrEngine, op, strings.TrimSpace(fmt.Sprintf(format, args...)))
}
