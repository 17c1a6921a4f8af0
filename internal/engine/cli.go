package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	pockettts "github.com/MeKo-Christian/go-call-pocket-tts"
)

const defaultPocketTTS = "pocket-tts"

// CLIOptions configures a CLIEngine.
type CLIOptions struct {
	// ExecutablePath defaults to "pocket-tts" on PATH.
	ExecutablePath string
	ConfigPath     string
	Quiet          bool
	// ScratchDir holds temporary voice files; defaults to os.TempDir().
	ScratchDir string
	Logger     *slog.Logger
}

// exportVoiceFunc matches pockettts.ExportVoice.
type exportVoiceFunc func(ctx context.Context, audioPath, outPath string, opts *pockettts.ExportVoiceOptions) error

// runFunc runs exe with args, feeding stdin, and returns stdout.
type runFunc func(ctx context.Context, exe string, args []string, stdin io.Reader) ([]byte, error)

// CLIEngine drives the pocket-tts command line. Speaker embeddings are
// exported voice files; generation emits audio directly, so Codes carry WAV
// bytes and Decode only parses them.
type CLIEngine struct {
	exe        string
	configPath string
	quiet      bool
	scratchDir string
	log        *slog.Logger

	exportVoice exportVoiceFunc
	run         runFunc
}

// NewCLIEngine returns an engine backed by the pocket-tts CLI.
func NewCLIEngine(opts CLIOptions) *CLIEngine {
	exe := strings.TrimSpace(opts.ExecutablePath)
	if exe == "" {
		exe = defaultPocketTTS
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &CLIEngine{
		exe:         exe,
		configPath:  opts.ConfigPath,
		quiet:       opts.Quiet,
		scratchDir:  opts.ScratchDir,
		log:         logger,
		exportVoice: pockettts.ExportVoice,
		run:         runCommand,
	}
}

// Embed exports a voice file from the reference audio. The sample rate is
// carried in the WAV header and needs no separate argument.
func (c *CLIEngine) Embed(ctx context.Context, wav []byte, sampleRate int) (SpeakerEmbedding, error) {
	if len(wav) == 0 {
		return SpeakerEmbedding{}, engineErrorf("embed", "empty audio")
	}

	dir, err := os.MkdirTemp(c.scratchDir, "voicetts-embed-*")
	if err != nil {
		return SpeakerEmbedding{}, fmt.Errorf("create embed scratch dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(dir) }()

	audioPath := filepath.Join(dir, "speaker.wav")
	outPath := filepath.Join(dir, "speaker.safetensors")
	if err := os.WriteFile(audioPath, wav, 0o600); err != nil {
		return SpeakerEmbedding{}, fmt.Errorf("write speaker audio: %w", err)
	}

	var stderr bytes.Buffer
	err = c.exportVoice(ctx, audioPath, outPath, &pockettts.ExportVoiceOptions{
		Config:         c.configPath,
		Quiet:          c.quiet,
		ExecutablePath: c.exe,
		LogWriter:      &stderr,
	})
	if err != nil {
		var notFound *pockettts.ErrExecutableNotFound
		if errors.As(err, &notFound) {
			return SpeakerEmbedding{}, engineError("embed", fmt.Errorf("pocket-tts not available: %w", err))
		}
		return SpeakerEmbedding{}, c.commandError(ctx, "embed", err, stderr.String())
	}

	raw, err := os.ReadFile(outPath)
	if err != nil {
		return SpeakerEmbedding{}, engineError("embed: read exported voice", err)
	}
	if len(raw) == 0 {
		return SpeakerEmbedding{}, engineErrorf("embed", "pocket-tts exported an empty voice file")
	}

	c.log.DebugContext(ctx, "voice exported",
		slog.Int("sample_rate", sampleRate),
		slog.Int("voice_bytes", len(raw)),
	)

	return SpeakerEmbedding{Raw: raw}, nil
}

// Prepare keeps the dictionary for Generate. pocket-tts only consumes the
// text and the voice; the remaining fields are ignored.
func (c *CLIEngine) Prepare(ctx context.Context, cond Conditioning) (Prepared, error) {
	if len(cond.Speaker.Raw) == 0 {
		return Prepared{}, engineErrorf("prepare", "speaker embedding was not produced by the cli backend")
	}

	c.log.DebugContext(ctx, "cli backend ignores emotion and prosody conditioning",
		slog.String("language", cond.Language),
	)

	return Prepared{Source: cond}, nil
}

// Generate runs `pocket-tts generate` with the exported voice and returns the
// synthesized WAV as raw codes.
func (c *CLIEngine) Generate(ctx context.Context, prepared Prepared) (Codes, error) {
	cond := prepared.Source

	dir, err := os.MkdirTemp(c.scratchDir, "voicetts-generate-*")
	if err != nil {
		return Codes{}, fmt.Errorf("create generate scratch dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(dir) }()

	voicePath := filepath.Join(dir, "voice.safetensors")
	if err := os.WriteFile(voicePath, cond.Speaker.Raw, 0o600); err != nil {
		return Codes{}, fmt.Errorf("write voice file: %w", err)
	}

	args := []string{"generate", "--text", "-", "--output-path", "-", "--voice", voicePath}
	if c.configPath != "" {
		args = append(args, "--config", c.configPath)
	}
	if c.quiet {
		args = append(args, "--quiet")
	}

	out, err := c.run(ctx, c.exe, args, strings.NewReader(cond.Text))
	if err != nil {
		return Codes{}, c.commandError(ctx, "generate", err, "")
	}
	if len(out) == 0 {
		return Codes{}, engineErrorf("generate", "pocket-tts produced no audio")
	}

	return Codes{Raw: out}, nil
}

// Decode parses the WAV emitted by Generate.
func (c *CLIEngine) Decode(_ context.Context, codes Codes) (Waveform, error) {
	if len(codes.Raw) == 0 {
		return Waveform{}, engineErrorf("decode", "cli backend can only decode its own audio output")
	}
	return waveformFromWAV("decode", codes.Raw)
}

// Health runs `pocket-tts --version`.
func (c *CLIEngine) Health(ctx context.Context) error {
	_, err := c.Version(ctx)
	return err
}

// Version returns the output of `pocket-tts --version`.
func (c *CLIEngine) Version(ctx context.Context) (string, error) {
	out, err := c.run(ctx, c.exe, []string{"--version"}, nil)
	if err != nil {
		return "", c.commandError(ctx, "health", err, "")
	}
	return strings.TrimSpace(string(out)), nil
}

// Close is a no-op; every call owns its subprocess.
func (c *CLIEngine) Close() error { return nil }

// commandError converts a subprocess failure into an ErrEngine, preferring the
// context error when the call was cancelled.
func (c *CLIEngine) commandError(ctx context.Context, op string, err error, stderr string) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return engineError(op, ctxErr)
	}

	var execErr *exec.Error
	if errors.As(err, &execErr) {
		return engineError(op, fmt.Errorf("%s not available: %w", c.exe, err))
	}

	if msg := strings.TrimSpace(stderr); msg != "" {
		return engineErrorf(op, "%v: %s", err, msg)
	}
	return engineError(op, err)
}

func runCommand(ctx context.Context, exe string, args []string, stdin io.Reader) ([]byte, error) {
	cmd := exec.CommandContext(ctx, exe, args...)
	if stdin != nil {
		cmd.Stdin = stdin
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%w: %s", err, lastLine(msg))
		}
		return nil, err
	}

	return stdout.Bytes(), nil
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

// String describes the engine for logs.
func (c *CLIEngine) String() string {
	return "pocket-tts(" + strconv.Quote(c.exe) + ")"
}
