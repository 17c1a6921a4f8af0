package audio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Container identifies a sniffed audio container.
type Container string

const (
	ContainerWAV     Container = "wav"
	ContainerMP3     Container = "mp3"
	ContainerUnknown Container = ""
)

// Normalizer converts arbitrary uploaded audio into CanonicalSampleRate,
// mono, 16-bit PCM WAV. WAV and MP3 are decoded natively; anything else is
// handed to the Transcoder.
type Normalizer struct {
	transcoder Transcoder
}

// NewNormalizer returns a Normalizer that falls back to t for containers the
// native decoders do not handle. t may be nil, in which case such inputs fail
// with ErrDecode.
func NewNormalizer(t Transcoder) *Normalizer {
	return &Normalizer{transcoder: t}
}

// NormalizeFile reads inputPath, converts it to canonical WAV and writes the
// result to outputPath. The input file is never modified.
func (n *Normalizer) NormalizeFile(ctx context.Context, inputPath, outputPath string) error {
	wavBytes, err := n.Canonicalize(ctx, inputPath)
	if err != nil {
		return err
	}

	return WriteFileAtomic(outputPath, wavBytes)
}

// Canonicalize reads inputPath and returns canonical WAV bytes. A WAV that is
// already canonical is returned unchanged.
func (n *Normalizer) Canonicalize(ctx context.Context, inputPath string) ([]byte, error) {
	data, err := os.ReadFile(inputPath)
	if err != nil {
		return nil, fmt.Errorf("read audio input: %w", err)
	}

	return n.canonicalize(ctx, data, filepath.Ext(inputPath), func() (string, func(), error) {
		return inputPath, func() {}, nil
	})
}

// Normalize is the in-memory form of Canonicalize. ext is the original file
// extension, used as a format hint when the data has to be transcoded.
func (n *Normalizer) Normalize(ctx context.Context, data []byte, ext string) ([]byte, error) {
	return n.canonicalize(ctx, data, ext, func() (string, func(), error) {
		return spill(data, ext)
	})
}

// spillFunc provides a file path holding the input for the transcoder and a
// cleanup to call once it is no longer needed.
type spillFunc func() (string, func(), error)

func (n *Normalizer) canonicalize(ctx context.Context, data []byte, ext string, toFile spillFunc) ([]byte, error) {
	if Sniff(data) == ContainerWAV && CheckCanonical(data) == nil {
		return data, nil
	}

	pcm, err := n.decode(ctx, data, ext, toFile)
	if err != nil {
		return nil, err
	}

	samples, err := Conform(pcm)
	if err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: no audio samples in input", ErrDecode)
	}

	return EncodeCanonicalWAV(samples)
}

func (n *Normalizer) decode(ctx context.Context, data []byte, ext string, toFile spillFunc) (*PCM, error) {
	var nativeErr error

	switch Sniff(data) {
	case ContainerWAV:
		pcm, err := DecodeWAV(data)
		if err == nil {
			return pcm, nil
		}
		// Compressed WAV payloads (ADPCM, mu-law, ...) go to the transcoder.
		nativeErr = err
	case ContainerMP3:
		pcm, err := DecodeMP3(data)
		if err == nil {
			return pcm, nil
		}
		nativeErr = err
	}

	if n.transcoder == nil {
		if nativeErr != nil {
			return nil, nativeErr
		}
		return nil, fmt.Errorf("%w: unsupported audio container %q", ErrDecode, ext)
	}

	inputPath, cleanup, err := toFile()
	if err != nil {
		return nil, err
	}
	defer cleanup()

	wavBytes, err := n.transcoder.Transcode(ctx, inputPath)
	if err != nil {
		if errors.Is(err, ErrDecode) || ctx.Err() != nil {
			return nil, err
		}
		return nil, fmt.Errorf("transcode: %w", err)
	}

	return DecodeWAV(wavBytes)
}

// spill writes data to a temporary file so an external transcoder can read
// it. The extension is kept as a format hint.
func spill(data []byte, ext string) (string, func(), error) {
	ext = strings.TrimPrefix(ext, ".")
	pattern := "voicetts-audio-*"
	if ext != "" && !strings.ContainsAny(ext, `/\`) {
		pattern += "." + ext
	}

	f, err := os.CreateTemp("", pattern)
	if err != nil {
		return "", nil, fmt.Errorf("create transcode input: %w", err)
	}
	name := f.Name()
	cleanup := func() { _ = os.Remove(name) }

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		cleanup()
		return "", nil, fmt.Errorf("write transcode input: %w", err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("close transcode input: %w", err)
	}

	return name, cleanup, nil
}

// Sniff identifies the container from its leading magic bytes.
func Sniff(data []byte) Container {
	switch {
	case len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE":
		return ContainerWAV
	case len(data) >= 3 && string(data[0:3]) == "ID3":
		return ContainerMP3
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0 && data[1]&0x06 != 0:
		// MPEG audio frame sync with a non-reserved layer; AAC ADTS uses
		// layer bits 00 and is left to the transcoder.
		return ContainerMP3
	default:
		return ContainerUnknown
	}
}

// WriteFileAtomic writes data to a temporary file next to path and renames it
// into place, so readers never observe a partially written file.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename into place: %w", err)
	}

	return nil
}
