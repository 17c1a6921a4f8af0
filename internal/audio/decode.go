package audio

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/cwbudde/wav"
)

// Canonical WAV format consumed by speaker embedding and generation.
const (
	CanonicalSampleRate = 16000
	CanonicalChannels   = 1
	CanonicalBitDepth   = 16
)

var (
	// ErrDecode is returned when an input container or codec cannot be parsed.
	ErrDecode = errors.New("audio decode failed")

	// ErrFormatMismatch is returned when a decoded WAV does not match the canonical format.
	ErrFormatMismatch = errors.New("WAV format mismatch")
)

// PCM is decoded audio: interleaved float32 samples in [-1, 1].
type PCM struct {
	Samples    []float32
	SampleRate int
	Channels   int
}

// Frames returns the number of sample frames (samples per channel).
func (p *PCM) Frames() int {
	if p.Channels <= 0 {
		return 0
	}
	return len(p.Samples) / p.Channels
}

// DecodeWAV decodes WAV bytes of any PCM sample rate, channel count and bit
// depth into interleaved float32 samples.
func DecodeWAV(data []byte) (*PCM, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty WAV input", ErrDecode)
	}

	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%w: invalid WAV file", ErrDecode)
	}
	if dec.NumChans == 0 || dec.SampleRate == 0 {
		return nil, fmt.Errorf("%w: WAV header declares %d channels at %d Hz", ErrDecode, dec.NumChans, dec.SampleRate)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("%w: reading PCM data: %v", ErrDecode, err)
	}

	return &PCM{
		Samples:    buf.Data,
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
	}, nil
}

// CheckCanonical reports whether data is a WAV file already in the canonical
// 16 kHz, mono, 16-bit format. It only reads the header.
func CheckCanonical(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: empty WAV input", ErrDecode)
	}

	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return fmt.Errorf("%w: invalid WAV file", ErrDecode)
	}

	if dec.SampleRate != CanonicalSampleRate {
		return fmt.Errorf("%w: sample rate %d, want %d", ErrFormatMismatch, dec.SampleRate, CanonicalSampleRate)
	}
	if dec.NumChans != CanonicalChannels {
		return fmt.Errorf("%w: channels %d, want %d", ErrFormatMismatch, dec.NumChans, CanonicalChannels)
	}
	if dec.BitDepth != CanonicalBitDepth {
		return fmt.Errorf("%w: bit depth %d, want %d", ErrFormatMismatch, dec.BitDepth, CanonicalBitDepth)
	}

	return nil
}
