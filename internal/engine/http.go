package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/example/go-voice-tts/internal/audio"
)

// Sidecar endpoints.
const (
	apiHealth           = "/health"
	apiSpeakerEmbedding = "/v1/speaker-embedding"
	apiConditioning     = "/v1/conditioning"
	apiGenerate         = "/v1/generate"
	apiDecode           = "/v1/decode"
)

const (
	headerContentType = "Content-Type"
	headerAccept      = "Accept"
	contentTypeJSON   = "application/json"
	contentTypeWAV    = "audio/wav"

	// maxErrorBody bounds how much of a failed response is read for diagnostics.
	maxErrorBody = 4 << 10
)

// SidecarError is the structured error body returned by the sidecar.
type SidecarError struct {
	Detail    string `json:"detail"`
	ErrorCode string `json:"error_code,omitempty"`
}

type conditioningResponse struct {
	Conditioning json.RawMessage `json:"conditioning"`
}

type generateRequest struct {
	Conditioning json.RawMessage `json:"conditioning"`
}

// HTTPEngine talks to a model inference sidecar over HTTP.
type HTTPEngine struct {
	httpClient *http.Client
	baseURL    string
	log        *slog.Logger
}

// NewHTTPEngine returns an engine for the sidecar at baseURL. timeout bounds
// every call; zero leaves calls bounded only by their context.
func NewHTTPEngine(baseURL string, timeout time.Duration, logger *slog.Logger) (*HTTPEngine, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid engine url %q", baseURL)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &HTTPEngine{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(u.String(), "/"),
		log:        logger,
	}, nil
}

// Embed posts canonical WAV bytes and returns the speaker embedding.
func (e *HTTPEngine) Embed(ctx context.Context, wav []byte, sampleRate int) (SpeakerEmbedding, error) {
	if len(wav) == 0 {
		return SpeakerEmbedding{}, engineErrorf("embed", "empty audio")
	}

	endpoint := apiSpeakerEmbedding + "?sample_rate=" + strconv.Itoa(sampleRate)

	var emb SpeakerEmbedding
	if err := e.doJSON(ctx, "embed", endpoint, contentTypeWAV, bytes.NewReader(wav), &emb); err != nil {
		return SpeakerEmbedding{}, err
	}
	if emb.Empty() {
		return SpeakerEmbedding{}, engineErrorf("embed", "engine returned an empty embedding")
	}

	return emb, nil
}

// Prepare sends the conditioning dictionary and keeps the engine's reply
// as an opaque payload for Generate.
func (e *HTTPEngine) Prepare(ctx context.Context, cond Conditioning) (Prepared, error) {
	body, err := json.Marshal(cond)
	if err != nil {
		return Prepared{}, fmt.Errorf("marshal conditioning: %w", err)
	}

	var resp conditioningResponse
	if err := e.doJSON(ctx, "prepare", apiConditioning, contentTypeJSON, bytes.NewReader(body), &resp); err != nil {
		return Prepared{}, err
	}
	if len(resp.Conditioning) == 0 || string(resp.Conditioning) == "null" {
		return Prepared{}, engineErrorf("prepare", "engine returned no conditioning")
	}

	return Prepared{Payload: resp.Conditioning, Source: cond}, nil
}

// Generate produces audio codes for prepared conditioning.
func (e *HTTPEngine) Generate(ctx context.Context, prepared Prepared) (Codes, error) {
	body, err := json.Marshal(generateRequest{Conditioning: prepared.Payload})
	if err != nil {
		return Codes{}, fmt.Errorf("marshal generate request: %w", err)
	}

	var codes Codes
	if err := e.doJSON(ctx, "generate", apiGenerate, contentTypeJSON, bytes.NewReader(body), &codes); err != nil {
		return Codes{}, err
	}
	if len(codes.Frames) == 0 {
		return Codes{}, engineErrorf("generate", "engine returned no codes")
	}

	return codes, nil
}

// Decode turns codes into a mono waveform at the engine's output rate.
func (e *HTTPEngine) Decode(ctx context.Context, codes Codes) (Waveform, error) {
	body, err := json.Marshal(codes)
	if err != nil {
		return Waveform{}, fmt.Errorf("marshal codes: %w", err)
	}

	resp, err := e.post(ctx, "decode", apiDecode, contentTypeJSON, contentTypeWAV, bytes.NewReader(body))
	if err != nil {
		return Waveform{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Waveform{}, engineError("decode: read audio", err)
	}

	return waveformFromWAV("decode", data)
}

// Health checks the sidecar's health endpoint.
func (e *HTTPEngine) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+apiHealth, http.NoBody)
	if err != nil {
		return fmt.Errorf("create health request: %w", err)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return engineError("health", fmt.Errorf("engine at %s unreachable: %w", e.baseURL, err))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return engineErrorf("health", "unexpected status %s", resp.Status)
	}

	return nil
}

// Close releases idle connections.
func (e *HTTPEngine) Close() error {
	e.httpClient.CloseIdleConnections()
	return nil
}

func (e *HTTPEngine) doJSON(ctx context.Context, op, endpoint, contentType string, body io.Reader, out any) error {
	resp, err := e.post(ctx, op, endpoint, contentType, contentTypeJSON, body)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return engineError(op+": decode response", err)
	}

	return nil
}

// post sends a request and returns the response only for 200 OK; any other
// status is turned into an ErrEngine carrying the sidecar's diagnostics.
func (e *HTTPEngine) post(ctx context.Context, op, endpoint, contentType, accept string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", op, err)
	}
	req.Header.Set(headerContentType, contentType)
	req.Header.Set(headerAccept, accept)

	start := time.Now()
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, engineError(op, err)
	}

	e.log.DebugContext(ctx, "engine call",
		slog.String("op", op),
		slog.Int("status", resp.StatusCode),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()),
	)

	if resp.StatusCode != http.StatusOK {
		defer func() { _ = resp.Body.Close() }()
		return nil, parseSidecarError(op, resp)
	}

	return resp, nil
}

func parseSidecarError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var se SidecarError
	if err := json.Unmarshal(body, &se); err == nil && se.Detail != "" {
		if se.ErrorCode != "" {
			return engineErrorf(op, "%s: %s (code: %s)", resp.Status, se.Detail, se.ErrorCode)
		}
		return engineErrorf(op, "%s: %s", resp.Status, se.Detail)
	}

	return engineErrorf(op, "%s: %s", resp.Status, string(body))
}

// waveformFromWAV decodes engine WAV output into a mono waveform.
func waveformFromWAV(op string, data []byte) (Waveform, error) {
	pcm, err := audio.DecodeWAV(data)
	if err != nil {
		if errors.Is(err, audio.ErrDecode) {
			return Waveform{}, engineErrorf(op, "engine returned unreadable audio: %v", err)
		}
		return Waveform{}, engineError(op, err)
	}
	if pcm.Frames() == 0 {
		return Waveform{}, engineErrorf(op, "engine returned empty audio")
	}

	return Waveform{
		Samples:    audio.Downmix(pcm.Samples, pcm.Channels),
		SampleRate: pcm.SampleRate,
	}, nil
}
