package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"strconv"
	"strings"
)

// Transcoder converts an audio file the native decoders cannot read into
// WAV bytes.
type Transcoder interface {
	Transcode(ctx context.Context, inputPath string) ([]byte, error)
}

// FFmpegTranscoder shells out to ffmpeg. It asks ffmpeg for the canonical
// format directly; the native conform step is then a no-op.
type FFmpegTranscoder struct {
	// Path is the ffmpeg executable. Empty means "ffmpeg" on PATH.
	Path string
}

// Transcode runs ffmpeg on inputPath and returns canonical WAV bytes written
// to its stdout.
func (f FFmpegTranscoder) Transcode(ctx context.Context, inputPath string) ([]byte, error) {
	exe := f.Path
	if exe == "" {
		exe = "ffmpeg"
	}

	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-nostdin",
		"-i", inputPath,
		"-vn",
		"-ar", strconv.Itoa(CanonicalSampleRate),
		"-ac", strconv.Itoa(CanonicalChannels),
		"-c:a", "pcm_s16le",
		"-f", "wav",
		"pipe:1",
	}

	// #nosec G204 -- ffmpeg path comes from operator configuration, the input path from the service itself.
	cmd := exec.CommandContext(ctx, exe, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		var notFound *exec.Error
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("ffmpeg not available (%q): %w", exe, err)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, fmt.Errorf("%w: ffmpeg: %s", ErrDecode, msg)
	}

	return patchStreamedWAVSizes(stdout.Bytes()), nil
}

// Version returns the first line of `ffmpeg -version`.
func (f FFmpegTranscoder) Version(ctx context.Context) (string, error) {
	exe := f.Path
	if exe == "" {
		exe = "ffmpeg"
	}

	out, err := exec.CommandContext(ctx, exe, "-version").Output()
	if err != nil {
		return "", fmt.Errorf("%s -version failed: %w", exe, err)
	}

	line, _, _ := strings.Cut(string(out), "\n")
	return strings.TrimSpace(line), nil
}

// patchStreamedWAVSizes rewrites the RIFF and data chunk sizes of a WAV that
// was written to a pipe. ffmpeg cannot seek back on a pipe and leaves them
// as 0xFFFFFFFF (or 0), which the RIFF reader would otherwise trust.
func patchStreamedWAVSizes(data []byte) []byte {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return data
	}

	binary.LittleEndian.PutUint32(data[4:8], uint32(len(data)-8))

	offset := 12
	for offset+8 <= len(data) {
		id := string(data[offset : offset+4])
		size := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		if id == "data" {
			binary.LittleEndian.PutUint32(data[offset+4:offset+8], uint32(len(data)-offset-8))
			return data
		}

		offset += 8 + size
		if size%2 != 0 {
			offset++
		}
	}

	return data
}
