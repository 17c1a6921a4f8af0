package server_test

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/example/go-voice-tts/internal/samples"
	"github.com/example/go-voice-tts/internal/server"
	"github.com/example/go-voice-tts/internal/synth"
)

// blockingSynthesizer waits for the request context to end.
type blockingSynthesizer struct {
	stubSynthesizer
}

func (b *blockingSynthesizer) Generate(ctx context.Context, _ synth.Request) (*synth.Result, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// countingSynthesizer runs hooks around each Generate call.
type countingSynthesizer struct {
	onEnter func()
	onExit  func()
	wav     []byte
}

func (c *countingSynthesizer) Generate(_ context.Context, _ synth.Request) (*synth.Result, error) {
	c.onEnter()
	defer c.onExit()
	return &synth.Result{RequestID: "req", WAV: c.wav}, nil
}

func (c *countingSynthesizer) UploadSample(context.Context, string, string, io.Reader) (string, error) {
	return "", nil
}

func (c *countingSynthesizer) ListSamples() ([]samples.Sample, error) { return nil, nil }

func TestGenerate_OversizedTextRejectedAs413(t *testing.T) {
	stub := &stubSynthesizer{}
	h := server.NewHandler(stub, server.WithMaxTextBytes(10))

	params := url.Values{"text": {strings.Repeat("x", 11)}, "sample_name": {"alice"}}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, generateURL(params), nil))

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("want 413, got %d", rec.Code)
	}
	decodeError(t, rec)
	if stub.calls != 0 {
		t.Error("synthesizer called for oversized text")
	}
}

func TestGenerate_TextAtExactLimitIsAccepted(t *testing.T) {
	h := server.NewHandler(&stubSynthesizer{wav: []byte("RIFF")}, server.WithMaxTextBytes(5))

	params := url.Values{"text": {"hello"}, "sample_name": {"alice"}}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, generateURL(params), nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("want 200 for exactly-limit text, got %d", rec.Code)
	}
}

func TestUpload_OversizedBodyRejectedAs413(t *testing.T) {
	stub := &stubSynthesizer{uploadKey: "alice"}
	h := server.NewHandler(stub, server.WithMaxUploadBytes(1024))

	body, contentType := multipartBody(t, map[string]string{"sample_name": "alice"}, "a.wav", bytes.Repeat([]byte{0}, 4096))
	req := httptest.NewRequest(http.MethodPost, "/api/upload-sample/", body)
	req.Header.Set("Content-Type", contentType)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("want 413, got %d", rec.Code)
	}
	decodeError(t, rec)
}

func TestGenerate_RequestTimeoutCancelsInFlight(t *testing.T) {
	h := server.NewHandler(
		&blockingSynthesizer{},
		server.WithRequestTimeout(20*time.Millisecond),
	)

	params := url.Values{"text": {"Hello."}, "sample_name": {"alice"}}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, generateURL(params), nil))

	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("want 504 on timeout, got %d", rec.Code)
	}
	if kind := decodeError(t, rec)["kind"]; kind != "timeout" {
		t.Errorf("kind = %q; want timeout", kind)
	}
}

func TestGenerate_ConcurrencyThrottling(t *testing.T) {
	const workers = 2
	const totalRequests = 5

	var (
		mu         sync.Mutex
		peak       int
		current    int32
		entered    = make(chan struct{}, totalRequests)
		releaseAll = make(chan struct{})
	)
	counting := &countingSynthesizer{
		onEnter: func() {
			n := int(atomic.AddInt32(&current, 1))

			mu.Lock()
			if n > peak {
				peak = n
			}
			mu.Unlock()
			entered <- struct{}{}
			<-releaseAll
		},
		onExit: func() { atomic.AddInt32(&current, -1) },
		wav:    []byte("RIFF"),
	}

	h := server.NewHandler(counting, server.WithWorkers(workers))

	var wg sync.WaitGroup
	codes := make([]int, totalRequests)
	for i := range totalRequests {
		wg.Add(1)

		go func(idx int) {
			defer wg.Done()

			params := url.Values{"text": {"Hi."}, "sample_name": {"alice"}}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, generateURL(params), nil))
			codes[idx] = rec.Code
		}(i)
	}

	// Wait until the pool is saturated, then give the rest a chance to
	// (incorrectly) get in.
	for range workers {
		<-entered
	}
	time.Sleep(50 * time.Millisecond)
	close(releaseAll)
	wg.Wait()

	if peak > workers {
		t.Errorf("peak concurrency = %d; want <= %d", peak, workers)
	}
	for i, code := range codes {
		if code != http.StatusOK {
			t.Errorf("request %d: status %d; want 200", i, code)
		}
	}
}
