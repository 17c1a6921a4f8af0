// Package synth orchestrates voice-conditioned synthesis: it resolves the
// reference voice, asks the engine for a speaker embedding, builds the
// conditioning record, runs generation and keeps a bounded history of the
// resulting WAV files.
package synth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/go-voice-tts/internal/audio"
	"github.com/example/go-voice-tts/internal/conditioning"
	"github.com/example/go-voice-tts/internal/engine"
	"github.com/example/go-voice-tts/internal/samples"
)

// SampleStore is the subset of samples.Store the service needs.
type SampleStore interface {
	Put(ctx context.Context, name string, raw io.Reader, ext string) (string, error)
	Resolve(name string) (string, error)
	List() ([]samples.Sample, error)
}

// Normalizer converts in-memory uploaded audio into canonical WAV. ext is
// the original file extension, used as a format hint.
type Normalizer interface {
	Normalize(ctx context.Context, data []byte, ext string) ([]byte, error)
}

// DefaultKeepOutputs is how many generated files stay in the output
// directory when no retention is configured.
const DefaultKeepOutputs = 16

// Request is one synthesis request.
type Request struct {
	Text     string
	Source   AudioSource
	Emotion  conditioning.EmotionInput
	Prosody  conditioning.ProsodyInput
	Language string
}

// Result describes a finished synthesis. Path is empty when output
// retention is disabled.
type Result struct {
	RequestID  string
	Path       string
	WAV        []byte
	SampleRate int
}

type options struct {
	outputDir string
	keep      int
	language  string
	logger    *slog.Logger
	newID     func() string
}

// Option configures a Service.
type Option func(*options)

// WithOutputDir sets where generated audio is kept.
func WithOutputDir(dir string) Option {
	return func(o *options) { o.outputDir = dir }
}

// WithOutputRetention keeps at most n generated files in the output
// directory, newest first. Zero disables writing them at all.
func WithOutputRetention(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.keep = n
		}
	}
}

// WithLanguage sets the language used when a request does not name one.
func WithLanguage(lang string) Option {
	return func(o *options) { o.language = lang }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithIDGenerator replaces the request ID source.
func WithIDGenerator(fn func() string) Option {
	return func(o *options) { o.newID = fn }
}

// Service runs synthesis requests against an injected engine.
type Service struct {
	engine     engine.Engine
	store      SampleStore
	normalizer Normalizer
	outputDir  string
	keep       int
	language   string
	log        *slog.Logger
	newID      func() string

	pruneMu sync.Mutex
}

// New builds a Service and creates its output directory.
func New(eng engine.Engine, store SampleStore, normalizer Normalizer, optFns ...Option) (*Service, error) {
	if eng == nil {
		return nil, errors.New("synthesis engine is required")
	}
	if store == nil {
		return nil, errors.New("sample store is required")
	}
	if normalizer == nil {
		return nil, errors.New("audio normalizer is required")
	}

	opts := options{
		outputDir: filepath.Join(os.TempDir(), "voicetts"),
		keep:      DefaultKeepOutputs,
		language:  conditioning.DefaultLanguage,
		logger:    slog.Default(),
		newID:     uuid.NewString,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	if err := os.MkdirAll(opts.outputDir, 0o750); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	return &Service{
		engine:     eng,
		store:      store,
		normalizer: normalizer,
		outputDir:  opts.outputDir,
		keep:       opts.keep,
		language:   opts.language,
		log:        opts.logger,
		newID:      opts.newID,
	}, nil
}

// OutputDir returns the directory generated files are written to.
func (s *Service) OutputDir() string { return s.outputDir }

// Generate synthesizes req.Text in the voice of req.Source. Unless retention
// is disabled the result is also written to <output_dir>/<request-id>.wav and
// older files beyond the retention limit are removed.
func (s *Service) Generate(ctx context.Context, req Request) (*Result, error) {
	id := s.newID()
	log := s.log.With(slog.String("request_id", id))

	if req.Text == "" {
		return nil, &Error{Kind: KindValidation, Message: "text must not be empty", Err: conditioning.ErrValidation}
	}
	if req.Source == nil {
		return nil, &Error{Kind: KindBadRequest, Message: "either sample_name or audio_file must be provided"}
	}

	start := time.Now()

	speakerWAV, err := s.speakerAudio(ctx, req.Source)
	if err != nil {
		return nil, err
	}

	embedding, err := s.engine.Embed(ctx, speakerWAV, audio.CanonicalSampleRate)
	if err != nil {
		return nil, fail(KindEngine, "speaker embedding failed", err)
	}

	language := req.Language
	if language == "" {
		language = s.language
	}
	rec, err := conditioning.Build(req.Text, embedding, req.Emotion, req.Prosody, language)
	if err != nil {
		return nil, fail(KindValidation, "invalid conditioning", err)
	}

	wave, err := s.run(ctx, rec)
	if err != nil {
		return nil, err
	}

	data, err := audio.EncodeWAV(wave.Samples, wave.SampleRate)
	if err != nil {
		return nil, fail(KindInternal, "could not encode audio", err)
	}

	outPath, err := s.keepOutput(ctx, id, data)
	if err != nil {
		return nil, fail(KindInternal, "could not store generated audio", err)
	}

	log.DebugContext(ctx, "synthesis pipeline finished",
		slog.Int("text_len", len(req.Text)),
		slog.Int("sample_rate", wave.SampleRate),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()),
	)

	return &Result{
		RequestID:  id,
		Path:       outPath,
		WAV:        data,
		SampleRate: wave.SampleRate,
	}, nil
}

// run drives prepare, generate and decode. There is no retry.
func (s *Service) run(ctx context.Context, rec conditioning.Record) (engine.Waveform, error) {
	prepared, err := s.engine.Prepare(ctx, rec.Dict())
	if err != nil {
		return engine.Waveform{}, fail(KindEngine, "speech engine rejected conditioning", err)
	}

	codes, err := s.engine.Generate(ctx, prepared)
	if err != nil {
		return engine.Waveform{}, fail(KindEngine, "speech generation failed", err)
	}

	wave, err := s.engine.Decode(ctx, codes)
	if err != nil {
		return engine.Waveform{}, fail(KindEngine, "audio decoding failed", err)
	}
	if len(wave.Samples) == 0 || wave.SampleRate <= 0 {
		return engine.Waveform{}, &Error{
			Kind:    KindEngine,
			Message: "speech engine returned no audio",
			Err:     engine.ErrEngine,
		}
	}

	return wave, nil
}

// speakerAudio returns canonical WAV bytes for the source.
func (s *Service) speakerAudio(ctx context.Context, src AudioSource) ([]byte, error) {
	switch src := src.(type) {
	case NamedSource:
		path, err := s.store.Resolve(src.Name)
		if err != nil {
			if errors.Is(err, samples.ErrNotFound) {
				msg := fmt.Sprintf("sample %q not found", samples.SanitizeName(src.Name))
				return nil, &Error{Kind: KindNotFound, Message: msg, Err: err}
			}
			return nil, fail(KindInternal, "could not open sample", err)
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fail(KindInternal, "could not read sample", err)
		}
		return data, nil

	case InlineSource:
		if len(src.Data) == 0 {
			return nil, &Error{Kind: KindBadRequest, Message: "uploaded audio file is empty"}
		}

		data, err := s.normalizer.Normalize(ctx, src.Data, filepath.Ext(src.Filename))
		if err != nil {
			return nil, fail(KindDecode, "could not decode uploaded audio", err)
		}
		return data, nil

	default:
		return nil, &Error{Kind: KindBadRequest, Message: "either sample_name or audio_file must be provided"}
	}
}

// keepOutput writes data as <id>.wav and prunes the oldest generated files
// beyond the retention limit. It returns the written path, or "" when
// retention is disabled.
func (s *Service) keepOutput(ctx context.Context, id string, data []byte) (string, error) {
	if s.keep == 0 {
		return "", nil
	}

	s.pruneMu.Lock()
	defer s.pruneMu.Unlock()

	name := id + ".wav"
	outPath := filepath.Join(s.outputDir, name)
	if err := audio.WriteFileAtomic(outPath, data); err != nil {
		return "", err
	}

	if err := s.pruneOutputs(name); err != nil {
		s.log.WarnContext(ctx, "output retention sweep failed", slog.String("error", err.Error()))
	}

	return outPath, nil
}

// pruneOutputs removes generated files beyond the retention limit, oldest
// first. keepName is the file just written and always survives.
func (s *Service) pruneOutputs(keepName string) error {
	entries, err := os.ReadDir(s.outputDir)
	if err != nil {
		return err
	}

	type output struct {
		name    string
		modTime time.Time
	}
	var others []output
	for _, e := range entries {
		name := e.Name()
		if !e.Type().IsRegular() || name == keepName || strings.HasPrefix(name, ".") || filepath.Ext(name) != ".wav" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		others = append(others, output{name: name, modTime: info.ModTime()})
	}

	if len(others) < s.keep {
		return nil
	}

	sort.Slice(others, func(i, j int) bool {
		if !others[i].modTime.Equal(others[j].modTime) {
			return others[i].modTime.After(others[j].modTime)
		}
		return others[i].name > others[j].name
	})

	var errs []error
	for _, o := range others[s.keep-1:] {
		if err := os.Remove(filepath.Join(s.outputDir, o.name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// UploadSample stores reference audio under name and returns the sanitized
// key it was stored as.
func (s *Service) UploadSample(ctx context.Context, name, filename string, r io.Reader) (string, error) {
	if r == nil {
		return "", &Error{Kind: KindBadRequest, Message: "audio_file is required"}
	}

	key, err := s.store.Put(ctx, name, r, filepath.Ext(filename))
	if err != nil {
		if KindOf(err) == KindDecode {
			return "", &Error{Kind: KindDecode, Message: "could not decode uploaded audio", Err: err}
		}
		return "", fail(KindInternal, "could not store sample", err)
	}

	s.log.InfoContext(ctx, "sample stored",
		slog.String("sample_name", key),
		slog.String("filename", filepath.Base(filename)),
	)

	return key, nil
}

// ListSamples returns the stored samples sorted by name.
func (s *Service) ListSamples() ([]samples.Sample, error) {
	list, err := s.store.List()
	if err != nil {
		return nil, fail(KindInternal, "could not list samples", err)
	}
	return list, nil
}
