package engine

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/example/go-voice-tts/internal/audio"
)

// fakeSidecar serves the sidecar protocol with canned answers and records
// what it received.
type fakeSidecar struct {
	t *testing.T

	gotSampleRate string
	gotWAV        []byte
	gotCond       Conditioning
	gotGenerate   string
	gotCodes      Codes

	failPath   string
	failStatus int
	failBody   string
	delay      time.Duration
}

func (f *fakeSidecar) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-r.Context().Done():
			return
		}
	}

	if r.URL.Path == f.failPath {
		w.WriteHeader(f.failStatus)
		_, _ = io.WriteString(w, f.failBody)
		return
	}

	switch r.URL.Path {
	case apiHealth:
		w.WriteHeader(http.StatusOK)
	case apiSpeakerEmbedding:
		f.gotSampleRate = r.URL.Query().Get("sample_rate")
		f.gotWAV, _ = io.ReadAll(r.Body)
		writeTestJSON(w, SpeakerEmbedding{Values: []float32{0.1, 0.2}, Shape: []int64{1, 2}})
	case apiConditioning:
		if err := json.NewDecoder(r.Body).Decode(&f.gotCond); err != nil {
			f.t.Errorf("decode conditioning: %v", err)
		}
		writeTestJSON(w, map[string]any{"conditioning": map[string]any{"handle": "c-1"}})
	case apiGenerate:
		body, _ := io.ReadAll(r.Body)
		f.gotGenerate = string(body)
		writeTestJSON(w, Codes{Frames: [][]int64{{1, 2, 3}, {4, 5, 6}}})
	case apiDecode:
		if err := json.NewDecoder(r.Body).Decode(&f.gotCodes); err != nil {
			f.t.Errorf("decode codes: %v", err)
		}
		wav, err := audio.EncodeWAV(make([]float32, 4410), 44100)
		if err != nil {
			f.t.Errorf("encode wav: %v", err)
		}
		w.Header().Set(headerContentType, contentTypeWAV)
		_, _ = w.Write(wav)
	default:
		http.NotFound(w, r)
	}
}

func writeTestJSON(w http.ResponseWriter, v any) {
	w.Header().Set(headerContentType, contentTypeJSON)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestHTTPEngine(t *testing.T, sidecar *fakeSidecar) *HTTPEngine {
	t.Helper()

	sidecar.t = t
	srv := httptest.NewServer(sidecar)
	t.Cleanup(srv.Close)

	e, err := NewHTTPEngine(srv.URL+"/", 5*time.Second, nil)
	if err != nil {
		t.Fatalf("NewHTTPEngine: %v", err)
	}
	t.Cleanup(func() { _ = e.Close() })

	return e
}

func TestNewHTTPEngine_RejectsBadURL(t *testing.T) {
	for _, raw := range []string{"", "localhost:7000", "://nope"} {
		if _, err := NewHTTPEngine(raw, time.Second, nil); err == nil {
			t.Errorf("NewHTTPEngine(%q) = nil error; want error", raw)
		}
	}
}

func TestHTTPEngine_FullPipeline(t *testing.T) {
	sidecar := &fakeSidecar{}
	e := newTestHTTPEngine(t, sidecar)
	ctx := context.Background()

	emb, err := e.Embed(ctx, []byte("RIFF....WAVE"), 16000)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if sidecar.gotSampleRate != "16000" {
		t.Errorf("sample_rate = %q; want 16000", sidecar.gotSampleRate)
	}
	if string(sidecar.gotWAV) != "RIFF....WAVE" {
		t.Errorf("embed body = %q", sidecar.gotWAV)
	}
	if len(emb.Values) != 2 {
		t.Fatalf("embedding values = %v; want 2 values", emb.Values)
	}

	cond := Conditioning{
		Text:         "hello",
		Language:     "en-us",
		Speaker:      emb,
		Emotion:      []float64{1, 0, 0, 0, 0, 0, 0, 0},
		VQScore8:     []float64{0.78, 0.78, 0.78, 0.78, 0.78, 0.78, 0.78, 0.78},
		FMax:         24000,
		PitchStd:     45,
		SpeakingRate: 15,
	}
	prepared, err := e.Prepare(ctx, cond)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if sidecar.gotCond.Text != "hello" || sidecar.gotCond.FMax != 24000 || len(sidecar.gotCond.VQScore8) != 8 {
		t.Errorf("sidecar received conditioning %+v", sidecar.gotCond)
	}

	codes, err := e.Generate(ctx, prepared)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !strings.Contains(sidecar.gotGenerate, `"handle":"c-1"`) {
		t.Errorf("generate body = %s; want prepared payload passed back", sidecar.gotGenerate)
	}
	if len(codes.Frames) != 2 {
		t.Fatalf("codes frames = %d; want 2", len(codes.Frames))
	}

	wave, err := e.Decode(ctx, codes)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(sidecar.gotCodes.Frames) != 2 {
		t.Errorf("decode received %d frames; want 2", len(sidecar.gotCodes.Frames))
	}
	if wave.SampleRate != 44100 || len(wave.Samples) != 4410 {
		t.Errorf("waveform = %d samples @ %d Hz; want 4410 @ 44100", len(wave.Samples), wave.SampleRate)
	}
}

func TestHTTPEngine_Health(t *testing.T) {
	e := newTestHTTPEngine(t, &fakeSidecar{})
	if err := e.Health(context.Background()); err != nil {
		t.Fatalf("Health: %v", err)
	}

	down := newTestHTTPEngine(t, &fakeSidecar{failPath: apiHealth, failStatus: http.StatusServiceUnavailable})
	err := down.Health(context.Background())
	if !errors.Is(err, ErrEngine) {
		t.Fatalf("Health() = %v; want ErrEngine", err)
	}
}

func TestHTTPEngine_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	e, err := NewHTTPEngine(url, time.Second, nil)
	if err != nil {
		t.Fatalf("NewHTTPEngine: %v", err)
	}

	_, err = e.Embed(context.Background(), []byte("x"), 16000)
	if !errors.Is(err, ErrEngine) {
		t.Fatalf("Embed() = %v; want ErrEngine", err)
	}
}

func TestHTTPEngine_StructuredErrors(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantText string
	}{
		{
			name:     "json detail with code",
			body:     `{"detail":"model not loaded","error_code":"E_MODEL"}`,
			wantText: "model not loaded (code: E_MODEL)",
		},
		{
			name:     "json detail only",
			body:     `{"detail":"out of memory"}`,
			wantText: "out of memory",
		},
		{
			name:     "plain text body",
			body:     "upstream exploded",
			wantText: "upstream exploded",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestHTTPEngine(t, &fakeSidecar{
				failPath:   apiConditioning,
				failStatus: http.StatusInternalServerError,
				failBody:   tt.body,
			})

			_, err := e.Prepare(context.Background(), Conditioning{Text: "hi"})
			if !errors.Is(err, ErrEngine) {
				t.Fatalf("Prepare() = %v; want ErrEngine", err)
			}
			if !strings.Contains(err.Error(), tt.wantText) {
				t.Errorf("error %q does not contain %q", err, tt.wantText)
			}
		})
	}
}

func TestHTTPEngine_EmptyResponsesAreEngineErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case apiSpeakerEmbedding:
			writeTestJSON(w, SpeakerEmbedding{})
		case apiConditioning:
			writeTestJSON(w, map[string]any{"conditioning": nil})
		case apiGenerate:
			writeTestJSON(w, Codes{})
		case apiDecode:
			_, _ = w.Write([]byte("not a wav"))
		}
	}))
	t.Cleanup(srv.Close)

	e, err := NewHTTPEngine(srv.URL, time.Second, nil)
	if err != nil {
		t.Fatalf("NewHTTPEngine: %v", err)
	}
	ctx := context.Background()

	if _, err := e.Embed(ctx, []byte("x"), 16000); !errors.Is(err, ErrEngine) {
		t.Errorf("Embed() = %v; want ErrEngine", err)
	}
	if _, err := e.Prepare(ctx, Conditioning{}); !errors.Is(err, ErrEngine) {
		t.Errorf("Prepare() = %v; want ErrEngine", err)
	}
	if _, err := e.Generate(ctx, Prepared{Payload: []byte(`{}`)}); !errors.Is(err, ErrEngine) {
		t.Errorf("Generate() = %v; want ErrEngine", err)
	}
	if _, err := e.Decode(ctx, Codes{Frames: [][]int64{{1}}}); !errors.Is(err, ErrEngine) {
		t.Errorf("Decode() = %v; want ErrEngine", err)
	}
}

func TestHTTPEngine_EmbedRejectsEmptyAudio(t *testing.T) {
	e := newTestHTTPEngine(t, &fakeSidecar{})

	_, err := e.Embed(context.Background(), nil, 16000)
	if !errors.Is(err, ErrEngine) {
		t.Fatalf("Embed(nil) = %v; want ErrEngine", err)
	}
}

func TestHTTPEngine_ContextDeadlineIsVisible(t *testing.T) {
	e := newTestHTTPEngine(t, &fakeSidecar{delay: time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := e.Generate(ctx, Prepared{Payload: []byte(`{}`)})
	if !errors.Is(err, ErrEngine) {
		t.Fatalf("Generate() = %v; want ErrEngine", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Generate() = %v; want context.DeadlineExceeded in chain", err)
	}
}
