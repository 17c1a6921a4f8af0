package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/hajimehoshi/go-mp3"
)

// mp3Channels is fixed by go-mp3: output is always 16-bit little-endian stereo.
const mp3Channels = 2

// DecodeMP3 decodes an MPEG-1/2 Layer III stream into interleaved stereo PCM.
func DecodeMP3(data []byte) (*PCM, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty MP3 input", ErrDecode)
	}

	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: mp3: %v", ErrDecode, err)
	}

	raw, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("%w: mp3 stream: %v", ErrDecode, err)
	}

	n := len(raw) / 2
	n -= n % mp3Channels
	samples := make([]float32, n)
	for i := range n {
		v := int16(binary.LittleEndian.Uint16(raw[i*2:]))
		samples[i] = float32(v) / 32768
	}

	return &PCM{
		Samples:    samples,
		SampleRate: dec.SampleRate(),
		Channels:   mp3Channels,
	}, nil
}
