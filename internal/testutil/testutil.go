// Package testutil provides shared skip helpers and WAV assertions for tests.
//
// Each Require helper calls t.Skip with a clear human-readable reason when the
// named prerequisite is absent, so integration tests remain runnable in
// partial environments without failing noisily.
//
// Typical usage:
//
//	func TestMyIntegration(t *testing.T) {
//	    testutil.RequireFFmpeg(t)
//	    ...
//	}
package testutil

import (
	"os"
	"os/exec"
	"testing"
)

// RequireFFmpeg skips the test if the ffmpeg binary is not found in PATH or
// at the path given by the VOICETTS_AUDIO_FFMPEG_PATH environment variable.
func RequireFFmpeg(tb testing.TB) {
	tb.Helper()

	exe := os.Getenv("VOICETTS_AUDIO_FFMPEG_PATH")
	if exe == "" {
		exe = "ffmpeg"
	}

	_, err := exec.LookPath(exe)
	if err != nil {
		tb.Skipf("ffmpeg not available (%q not in PATH); set VOICETTS_AUDIO_FFMPEG_PATH to override", exe)
	}
}

// RequirePocketTTS skips the test if the pocket-tts binary is not found in
// PATH or the path given by the VOICETTS_ENGINE_CLI_PATH environment variable.
func RequirePocketTTS(tb testing.TB) {
	tb.Helper()

	exe := os.Getenv("VOICETTS_ENGINE_CLI_PATH")
	if exe == "" {
		exe = "pocket-tts"
	}

	_, err := exec.LookPath(exe)
	if err != nil {
		tb.Skipf("pocket-tts binary not available (%q not in PATH); set VOICETTS_ENGINE_CLI_PATH to override", exe)
	}
}
