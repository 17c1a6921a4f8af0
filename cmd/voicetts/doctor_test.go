package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/example/go-voice-tts/internal/config"
)

// fakeFFmpeg writes a script that answers -version like ffmpeg.
func fakeFFmpeg(t *testing.T, banner string) string {
	t.Helper()

	script := filepath.Join(t.TempDir(), "ffmpeg")
	body := "#!/bin/sh\necho '" + banner + "'\necho 'built with gcc'\n"
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return script
}

func doctorConfig(t *testing.T) config.Config {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Paths.SamplesDir = filepath.Join(t.TempDir(), "samples")
	cfg.Paths.OutputDir = filepath.Join(t.TempDir(), "out")
	cfg.Audio.FFmpegPath = fakeFFmpeg(t, "ffmpeg version 6.1.1 Copyright (c) 2000-2023")
	return cfg
}

func TestRunDoctor_AllPass(t *testing.T) {
	useFakeEngine(t, &fakeEngine{})
	cfg := doctorConfig(t)

	var stdout, stderr bytes.Buffer
	if err := runDoctor(context.Background(), cfg, &stdout, &stderr); err != nil {
		t.Fatalf("runDoctor: %v\nstdout:\n%s\nstderr:\n%s", err, stdout.String(), stderr.String())
	}

	out := stdout.String()
	for _, want := range []string{"backend: http", "ffmpeg: ffmpeg version 6.1.1", "engine (http ", "doctor checks passed"} {
		if !strings.Contains(out, want) {
			t.Errorf("stdout missing %q:\n%s", want, out)
		}
	}
}

func TestRunDoctor_ReportsFailures(t *testing.T) {
	useFakeEngine(t, &fakeEngine{healthErr: errors.New("connection refused")})
	cfg := doctorConfig(t)
	cfg.Audio.FFmpegPath = "/nonexistent/ffmpeg"

	var stdout, stderr bytes.Buffer
	err := runDoctor(context.Background(), cfg, &stdout, &stderr)
	if err == nil {
		t.Fatal("expected doctor failure")
	}

	failures := stderr.String()
	if !strings.Contains(failures, "FAIL: ffmpeg") {
		t.Errorf("stderr missing ffmpeg failure:\n%s", failures)
	}
	if !strings.Contains(failures, "connection refused") {
		t.Errorf("stderr missing engine failure:\n%s", failures)
	}
}

func TestRunDoctor_InvalidBackend(t *testing.T) {
	cfg := doctorConfig(t)
	cfg.Engine.Backend = "grpc"

	if err := runDoctor(context.Background(), cfg, &bytes.Buffer{}, &bytes.Buffer{}); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestProbeFFmpegVersion_MissingExecutable(t *testing.T) {
	if _, err := probeFFmpegVersion(context.Background(), "/nonexistent/ffmpeg-binary"); err == nil {
		t.Fatal("expected error for missing executable")
	}
}

func TestProbeFFmpegVersion_FirstLineOnly(t *testing.T) {
	got, err := probeFFmpegVersion(context.Background(), fakeFFmpeg(t, "ffmpeg version 7.0"))
	if err != nil {
		t.Fatalf("probeFFmpegVersion: %v", err)
	}
	if got != "ffmpeg version 7.0" {
		t.Errorf("version = %q", got)
	}
}
