package audio

import (
	"fmt"
	"math"

	"github.com/cwbudde/algo-dsp/dsp/resample"
)

// Downmix averages interleaved multi-channel samples into a mono signal.
// Mono input is returned as a copy.
func Downmix(samples []float32, channels int) []float32 {
	if channels <= 1 {
		out := make([]float32, len(samples))
		copy(out, samples)
		return out
	}

	frames := len(samples) / channels
	out := make([]float32, frames)
	scale := 1 / float32(channels)
	for f := range frames {
		var sum float32
		base := f * channels
		for c := range channels {
			sum += samples[base+c]
		}
		out[f] = sum * scale
	}

	return out
}

// Resample converts mono samples from one sample rate to another with a
// polyphase FIR resampler. The filter delay is removed, so the output is
// time-aligned with the input and holds round(len*toRate/fromRate) samples.
func Resample(samples []float32, fromRate, toRate int) ([]float32, error) {
	if fromRate <= 0 || toRate <= 0 {
		return nil, fmt.Errorf("%w: cannot resample %d Hz to %d Hz", ErrDecode, fromRate, toRate)
	}
	if fromRate == toRate || len(samples) == 0 {
		out := make([]float32, len(samples))
		copy(out, samples)
		return out, nil
	}

	r, err := resample.NewForRates(float64(fromRate), float64(toRate),
		resample.WithQuality(resample.QualityBalanced))
	if err != nil {
		return nil, fmt.Errorf("%w: resampler: %v", ErrDecode, err)
	}
	up, down := r.Ratio()

	want := (len(samples)*up + down/2) / down
	if want < 1 {
		want = 1
	}

	// Group delay of the linear-phase prototype, in output samples.
	delay := int(math.Round(float64(len(r.Prototype())-1) / float64(2*down)))

	// Trailing silence flushes the last delay outputs out of the filter.
	pad := ((delay+1)*down+up-1)/up + 1
	in := make([]float64, len(samples)+pad)
	for i, v := range samples {
		in[i] = float64(v)
	}
	y := r.Process(in)

	out := make([]float32, want)
	for i := range out {
		if j := i + delay; j < len(y) {
			out[i] = float32(y[j])
		}
	}

	return out, nil
}

// Conform downmixes and resamples decoded PCM into canonical mono samples at
// CanonicalSampleRate.
func Conform(pcm *PCM) ([]float32, error) {
	mono := Downmix(pcm.Samples, pcm.Channels)
	return Resample(mono, pcm.SampleRate, CanonicalSampleRate)
}
