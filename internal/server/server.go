package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"mime"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/example/go-voice-tts/internal/conditioning"
	"github.com/example/go-voice-tts/internal/config"
	"github.com/example/go-voice-tts/internal/samples"
	"github.com/example/go-voice-tts/internal/synth"
)

// ParseLogLevel converts a case-insensitive level string to slog.Level.
// An empty string returns slog.LevelInfo. Unknown strings return an error.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q (want debug|info|warn|error)", s)
	}
}

// Synthesizer is the orchestration served over HTTP.
type Synthesizer interface {
	Generate(ctx context.Context, req synth.Request) (*synth.Result, error)
	UploadSample(ctx context.Context, name, filename string, r io.Reader) (string, error)
	ListSamples() ([]samples.Sample, error)
}

// HealthFunc reports whether the synthesis engine is usable.
type HealthFunc func(ctx context.Context) error

const (
	outputFilename     = "output.wav"
	multipartMemory    = 8 << 20
	healthProbeTimeout = 5 * time.Second
)

// ---------------------------------------------------------------------------
// Functional options
// ---------------------------------------------------------------------------

type options struct {
	maxTextBytes   int
	maxUploadBytes int64
	workers        int
	requestTimeout time.Duration
	logger         *slog.Logger
	health         HealthFunc
}

func defaultOptions() options {
	return options{
		maxTextBytes:   4096,
		maxUploadBytes: 32 << 20,
		workers:        2,
		requestTimeout: 300 * time.Second,
		logger:         slog.Default(),
	}
}

// Option configures the HTTP handler.
type Option func(*options)

// WithMaxTextBytes sets the maximum allowed text length in bytes.
func WithMaxTextBytes(n int) Option {
	return func(o *options) { o.maxTextBytes = n }
}

// WithMaxUploadBytes bounds request bodies carrying audio uploads.
func WithMaxUploadBytes(n int64) Option {
	return func(o *options) { o.maxUploadBytes = n }
}

// WithWorkers sets the maximum number of concurrent synthesis calls.
// Zero disables throttling.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// WithRequestTimeout sets the per-request deadline.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *options) { o.requestTimeout = d }
}

// WithLogger sets the slog.Logger used for request logging.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithHealthCheck makes /health report engine availability.
func WithHealthCheck(fn HealthFunc) Option {
	return func(o *options) { o.health = fn }
}

// ---------------------------------------------------------------------------
// handler
// ---------------------------------------------------------------------------

type handler struct {
	svc  Synthesizer
	opts options
	sem  chan struct{} // semaphore for worker pool
	log  *slog.Logger
}

// NewHandler returns an http.Handler serving the voice synthesis API.
func NewHandler(svc Synthesizer, optFns ...Option) http.Handler {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	h := &handler{
		svc:  svc,
		opts: opts,
		log:  opts.logger,
	}
	if opts.workers > 0 {
		h.sem = make(chan struct{}, opts.workers)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/api/samples/", h.handleSamples)
	mux.HandleFunc("/api/upload-sample/", h.handleUpload)
	mux.HandleFunc("/api/generate-audio/", h.handleGenerate)
	return mux
}

func buildVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]string{
		"status":  "ok",
		"version": buildVersion(),
	}
	if h.opts.health == nil {
		writeJSON(w, http.StatusOK, body)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), healthProbeTimeout)
	defer cancel()

	if err := h.opts.health(ctx); err != nil {
		h.log.WarnContext(r.Context(), "engine health check failed", slog.String("error", err.Error()))
		body["status"] = "degraded"
		body["engine"] = "unavailable"
		writeJSON(w, http.StatusServiceUnavailable, body)
		return
	}

	body["engine"] = "ok"
	writeJSON(w, http.StatusOK, body)
}

func (h *handler) handleSamples(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, synth.KindBadRequest, "method not allowed")
		return
	}

	list, err := h.svc.ListSamples()
	if err != nil {
		h.writeFailure(w, r, err, slog.String("op", "list_samples"))
		return
	}
	if list == nil {
		list = []samples.Sample{}
	}
	writeJSON(w, http.StatusOK, list)
}

type uploadResponse struct {
	Message    string `json:"message"`
	SampleName string `json:"sample_name"`
}

func (h *handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, synth.KindBadRequest, "method not allowed")
		return
	}

	if !h.parseForm(w, r) {
		return
	}

	if !r.Form.Has("sample_name") {
		writeError(w, http.StatusBadRequest, synth.KindValidation, "sample_name is required")
		return
	}
	name := r.Form.Get("sample_name")

	file, header, err := r.FormFile("audio_file")
	if err != nil {
		writeError(w, http.StatusBadRequest, synth.KindBadRequest, "audio_file is required")
		return
	}
	defer func() { _ = file.Close() }()

	ctx, cancel := h.requestContext(r)
	defer cancel()

	start := time.Now()
	key, err := h.svc.UploadSample(ctx, name, header.Filename, file)
	if err != nil {
		h.writeFailure(w, r, err,
			slog.String("op", "upload_sample"),
			slog.String("sample_name", samples.SanitizeName(name)),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
		return
	}

	h.log.InfoContext(r.Context(), "sample uploaded",
		slog.String("sample_name", key),
		slog.Int64("upload_bytes", header.Size),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()),
	)

	writeJSON(w, http.StatusOK, uploadResponse{
		Message:    "Sample uploaded and converted successfully",
		SampleName: key,
	})
}

func (h *handler) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, synth.KindBadRequest, "method not allowed")
		return
	}

	if !h.parseForm(w, r) {
		return
	}

	req, upload, err := parseGenerateRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, synth.KindValidation, err.Error())
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, synth.KindValidation, "text is required")
		return
	}
	if len(req.Text) > h.opts.maxTextBytes {
		writeError(w, http.StatusRequestEntityTooLarge, synth.KindValidation,
			fmt.Sprintf("text exceeds maximum size of %d bytes", h.opts.maxTextBytes))
		return
	}

	sampleName := r.Form.Get("sample_name")
	req.Source = synth.SourceFrom(sampleName, upload)

	// Acquire a worker slot, honouring cancellation while waiting.
	if h.sem != nil {
		select {
		case h.sem <- struct{}{}:
		case <-r.Context().Done():
			writeError(w, http.StatusServiceUnavailable, synth.KindTimeout, "request cancelled while waiting for worker")
			return
		}
		defer func() { <-h.sem }()
	}

	ctx, cancel := h.requestContext(r)
	defer cancel()

	start := time.Now()
	res, err := h.svc.Generate(ctx, req)
	durationMS := time.Since(start).Milliseconds()

	if err != nil {
		h.writeFailure(w, r, err,
			slog.String("op", "generate"),
			slog.String("sample_name", sampleName),
			slog.Int("text_len", len(req.Text)),
			slog.Int64("duration_ms", durationMS),
		)
		return
	}

	h.log.InfoContext(r.Context(), "synthesis complete",
		slog.String("request_id", res.RequestID),
		slog.String("sample_name", sampleName),
		slog.Int("text_len", len(req.Text)),
		slog.Int64("duration_ms", durationMS),
		slog.Int("wav_bytes", len(res.WAV)),
	)

	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Disposition", `attachment; filename="`+outputFilename+`"`)
	w.Header().Set("X-Request-ID", res.RequestID)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(res.WAV)
}

func (h *handler) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	if h.opts.requestTimeout <= 0 {
		return context.WithCancel(r.Context())
	}
	return context.WithTimeout(r.Context(), h.opts.requestTimeout)
}

// parseForm parses query, urlencoded and multipart bodies with the upload
// limit applied. It writes the error response and returns false on failure.
func (h *handler) parseForm(w http.ResponseWriter, r *http.Request) bool {
	if r.Body != nil {
		r.Body = http.MaxBytesReader(w, r.Body, h.opts.maxUploadBytes)
	}

	var err error
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		err = r.ParseMultipartForm(multipartMemory)
	} else {
		err = r.ParseForm()
	}
	if err == nil {
		return true
	}

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, synth.KindBadRequest,
			fmt.Sprintf("request body exceeds maximum size of %d bytes", h.opts.maxUploadBytes))
		return false
	}
	writeError(w, http.StatusBadRequest, synth.KindBadRequest, "malformed request body")
	return false
}

// parseGenerateRequest reads text, emotion and prosody fields and an optional
// audio_file upload. Unparseable numbers or booleans are errors.
func parseGenerateRequest(r *http.Request) (synth.Request, *synth.InlineSource, error) {
	req := synth.Request{Text: r.Form.Get("text")}

	for _, name := range conditioning.EmotionNames {
		v, ok, err := formFloat(r, name)
		if err != nil {
			return synth.Request{}, nil, err
		}
		if ok {
			req.Emotion.Set(name, v)
		}
	}

	floats := []struct {
		name string
		dst  **float64
	}{
		{"vq_score", &req.Prosody.VQScore},
		{"pitch_std", &req.Prosody.PitchStd},
		{"speaking_rate", &req.Prosody.SpeakingRate},
		{"dnsmos_ovrl", &req.Prosody.DNSMOSOverall},
	}
	for _, f := range floats {
		v, ok, err := formFloat(r, f.name)
		if err != nil {
			return synth.Request{}, nil, err
		}
		if ok {
			*f.dst = &v
		}
	}

	if raw := strings.TrimSpace(r.Form.Get("fmax")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return synth.Request{}, nil, fmt.Errorf("invalid value for fmax: %q is not an integer", raw)
		}
		req.Prosody.FMax = &v
	}

	if raw := strings.TrimSpace(r.Form.Get("speaker_noised")); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return synth.Request{}, nil, fmt.Errorf("invalid value for speaker_noised: %q is not a boolean", raw)
		}
		req.Prosody.SpeakerNoised = &v
	}

	upload, err := formUpload(r)
	if err != nil {
		return synth.Request{}, nil, err
	}

	return req, upload, nil
}

func formFloat(r *http.Request, name string) (float64, bool, error) {
	raw := strings.TrimSpace(r.Form.Get(name))
	if raw == "" {
		return 0, false, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false, fmt.Errorf("invalid value for %s: %q is not a finite number", name, raw)
	}
	return v, true, nil
}

func formUpload(r *http.Request) (*synth.InlineSource, error) {
	if r.MultipartForm == nil || len(r.MultipartForm.File["audio_file"]) == 0 {
		return nil, nil
	}

	fh := r.MultipartForm.File["audio_file"][0]
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("could not read audio_file: %w", err)
	}
	defer func() { _ = f.Close() }()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("could not read audio_file: %w", err)
	}

	return &synth.InlineSource{Filename: fh.Filename, Data: data}, nil
}

// statusForKind maps a failure kind onto an HTTP status.
func statusForKind(k synth.Kind) int {
	switch k {
	case synth.KindValidation, synth.KindBadRequest:
		return http.StatusBadRequest
	case synth.KindNotFound:
		return http.StatusNotFound
	case synth.KindDecode:
		return http.StatusUnsupportedMediaType
	case synth.KindEngine:
		return http.StatusBadGateway
	case synth.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// writeFailure logs err with its internal detail and writes the public
// message only.
func (h *handler) writeFailure(w http.ResponseWriter, r *http.Request, err error, attrs ...slog.Attr) {
	kind := synth.KindOf(err)
	if kind == "" {
		kind = synth.KindInternal
	}
	status := statusForKind(kind)

	attrs = append(attrs,
		slog.String("kind", string(kind)),
		slog.Int("status", status),
		slog.String("error", err.Error()),
	)
	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	h.log.LogAttrs(r.Context(), level, "request failed", attrs...)

	writeError(w, status, kind, synth.PublicMessage(err))
}

type errorResponse struct {
	Error string     `json:"error"`
	Kind  synth.Kind `json:"kind"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind synth.Kind, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Kind: kind})
}

// ---------------------------------------------------------------------------
// Server
// ---------------------------------------------------------------------------

// Server wires the HTTP handler into a net/http.Server with graceful shutdown.
type Server struct {
	cfg             config.Config
	svc             Synthesizer
	opts            []Option
	shutdownTimeout time.Duration
}

// New returns a Server for svc. Limits come from cfg; opts are applied after
// them.
func New(cfg config.Config, svc Synthesizer, opts ...Option) *Server {
	shutdown := time.Duration(cfg.Server.ShutdownTimeout) * time.Second
	if shutdown <= 0 {
		shutdown = 30 * time.Second
	}
	return &Server{
		cfg:             cfg,
		svc:             svc,
		opts:            opts,
		shutdownTimeout: shutdown,
	}
}

// WithShutdownTimeout overrides the graceful-shutdown drain period.
func (s *Server) WithShutdownTimeout(d time.Duration) *Server {
	s.shutdownTimeout = d
	return s
}

// Handler builds the HTTP handler from the server configuration.
func (s *Server) Handler() http.Handler {
	handlerOpts := []Option{
		WithWorkers(s.cfg.Server.Workers),
		WithMaxTextBytes(s.cfg.Server.MaxTextBytes),
		WithMaxUploadBytes(s.cfg.Server.MaxUploadBytes),
		WithRequestTimeout(time.Duration(s.cfg.Server.RequestTimeout) * time.Second),
	}
	return NewHandler(s.svc, append(handlerOpts, s.opts...)...)
}

func (s *Server) Start(ctx context.Context) error {
	if s.svc == nil {
		return errors.New("server requires a synthesizer")
	}

	httpServer := &http.Server{
		Addr:              s.cfg.Server.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http listen: %w", err)
	}
}

// ProbeHTTP checks a running server's /health endpoint.
func ProbeHTTP(ctx context.Context, addr string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+"/health", http.NoBody)
	if err != nil {
		return err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected health status: %s", resp.Status)
	}
	return nil
}
