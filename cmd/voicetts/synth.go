package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/example/go-voice-tts/internal/conditioning"
	"github.com/example/go-voice-tts/internal/synth"
)

type synthFlags struct {
	text      string
	out       string
	sample    string
	audioFile string
	emotions  map[string]string

	vqScore       float64
	fmax          int
	pitchStd      float64
	speakingRate  float64
	dnsmosOverall float64
	speakerNoised bool
}

// generator is the part of synth.Service the command drives.
type generator interface {
	Generate(ctx context.Context, req synth.Request) (*synth.Result, error)
}

func newSynthCmd() *cobra.Command {
	var f synthFlags

	cmd := &cobra.Command{
		Use:   "synth",
		Short: "Synthesize text in a reference voice to WAV",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			text, err := readSynthText(f.text, cmd.InOrStdin())
			if err != nil {
				return err
			}

			req, err := buildSynthRequest(cmd.Flags(), f, text)
			if err != nil {
				return err
			}

			// --out is the only copy the command keeps.
			cfg.Paths.KeepOutputs = 0

			deps, err := buildRuntime(cfg, slog.Default())
			if err != nil {
				return err
			}
			defer func() { _ = deps.Close() }()

			return runSynth(cmd.Context(), deps.svc, req, f.out, cmd.OutOrStdout())
		},
	}

	defaults := conditioning.DefaultProsody()

	cmd.Flags().StringVar(&f.text, "text", "", "Text to synthesize (if empty, read from stdin)")
	cmd.Flags().StringVar(&f.out, "out", "out.wav", "Output WAV path ('-' for stdout)")
	cmd.Flags().StringVar(&f.sample, "sample", "", "Stored sample name to use as the reference voice")
	cmd.Flags().StringVar(&f.audioFile, "audio-file", "", "Reference audio file (used when --sample is empty)")
	cmd.Flags().StringToStringVar(&f.emotions, "emotion", nil,
		"Emotion weight as name=value (repeatable; "+strings.Join(conditioning.EmotionNames[:], "|")+")")
	cmd.Flags().Float64Var(&f.vqScore, "vq-score", defaults.VQScore, "Voice quality score")
	cmd.Flags().IntVar(&f.fmax, "fmax", defaults.FMax, "Maximum frequency in Hz")
	cmd.Flags().Float64Var(&f.pitchStd, "pitch-std", defaults.PitchStd, "Pitch standard deviation")
	cmd.Flags().Float64Var(&f.speakingRate, "speaking-rate", defaults.SpeakingRate, "Speaking rate")
	cmd.Flags().Float64Var(&f.dnsmosOverall, "dnsmos-ovrl", defaults.DNSMOSOverall, "Target DNSMOS overall score")
	cmd.Flags().BoolVar(&f.speakerNoised, "speaker-noised", defaults.SpeakerNoised, "Treat the speaker reference as noisy")

	return cmd
}

// buildSynthRequest maps the command flags onto a synthesis request. Only
// flags the user set override the conditioning defaults.
func buildSynthRequest(fs *pflag.FlagSet, f synthFlags, text string) (synth.Request, error) {
	req := synth.Request{Text: text}

	names := make([]string, 0, len(f.emotions))
	for name := range f.emotions {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		raw := f.emotions[name]
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return synth.Request{}, fmt.Errorf("invalid --emotion %s=%s: not a finite number", name, raw)
		}
		if !req.Emotion.Set(strings.ToLower(name), v) {
			return synth.Request{}, fmt.Errorf("unknown emotion %q (want one of %s)",
				name, strings.Join(conditioning.EmotionNames[:], ", "))
		}
	}

	for _, p := range []struct {
		flag string
		val  float64
		dst  **float64
	}{
		{"vq-score", f.vqScore, &req.Prosody.VQScore},
		{"pitch-std", f.pitchStd, &req.Prosody.PitchStd},
		{"speaking-rate", f.speakingRate, &req.Prosody.SpeakingRate},
		{"dnsmos-ovrl", f.dnsmosOverall, &req.Prosody.DNSMOSOverall},
	} {
		if !fs.Changed(p.flag) {
			continue
		}
		if math.IsNaN(p.val) || math.IsInf(p.val, 0) {
			return synth.Request{}, fmt.Errorf("invalid --%s: not a finite number", p.flag)
		}
		v := p.val
		*p.dst = &v
	}
	if fs.Changed("fmax") {
		v := f.fmax
		req.Prosody.FMax = &v
	}
	if fs.Changed("speaker-noised") {
		v := f.speakerNoised
		req.Prosody.SpeakerNoised = &v
	}

	var upload *synth.InlineSource
	if f.sample == "" && f.audioFile != "" {
		data, err := os.ReadFile(f.audioFile)
		if err != nil {
			return synth.Request{}, fmt.Errorf("read reference audio: %w", err)
		}
		upload = &synth.InlineSource{Filename: filepath.Base(f.audioFile), Data: data}
	}
	req.Source = synth.SourceFrom(f.sample, upload)
	if req.Source == nil {
		return synth.Request{}, errors.New("either --sample or --audio-file must be provided")
	}

	return req, nil
}

func runSynth(ctx context.Context, gen generator, req synth.Request, out string, stdout io.Writer) error {
	res, err := gen.Generate(ctx, req)
	if err != nil {
		return mapSynthError(err)
	}

	slog.Debug("synthesis finished", slog.String("request_id", res.RequestID), slog.Int("wav_bytes", len(res.WAV)))

	return writeSynthOutput(out, res.WAV, stdout)
}

// mapSynthError keeps the internal cause, which is useful on a terminal,
// and prefixes the failure kind.
func mapSynthError(err error) error {
	return fmt.Errorf("synth failed (%s): %w", synth.KindOf(err), err)
}

func writeSynthOutput(outPath string, wavData []byte, stdout io.Writer) error {
	if outPath == "-" {
		if stdout == nil {
			return errors.New("stdout writer is nil")
		}
		_, err := stdout.Write(wavData)
		return err
	}
	return os.WriteFile(outPath, wavData, 0o644)
}

func readSynthText(text string, stdin io.Reader) (string, error) {
	if strings.TrimSpace(text) != "" {
		return text, nil
	}

	b, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	input := strings.TrimSpace(string(b))
	if input == "" {
		return "", errors.New("either provide --text or pipe text on stdin")
	}
	return input, nil
}
