// Package conditioning assembles the per-request conditioning record handed
// to the synthesis engine: text, language, speaker embedding, emotion mix and
// prosody controls, with defaults filled in for everything left unset.
package conditioning

import (
	"errors"
	"fmt"
	"strings"

	"github.com/example/go-voice-tts/internal/engine"
)

// DefaultLanguage is used when no language is given.
const DefaultLanguage = "en-us"

// ErrValidation is returned when a record cannot be built from the inputs.
var ErrValidation = errors.New("invalid conditioning input")

// Emotion indices within an EmotionVector.
const (
	Happiness = iota
	Sadness
	Disgust
	Fear
	Surprise
	Anger
	Other
	Neutral

	emotionCount
)

// EmotionNames lists the emotion dimensions in vector order.
var EmotionNames = [emotionCount]string{
	"happiness", "sadness", "disgust", "fear", "surprise", "anger", "other", "neutral",
}

// EmotionVector weights the eight emotion dimensions. Values are passed
// through unchanged; they are neither clamped nor normalized.
type EmotionVector [emotionCount]float64

// DefaultEmotion is fully neutral.
func DefaultEmotion() EmotionVector {
	var v EmotionVector
	v[Neutral] = 1.0
	return v
}

// EmotionInput carries optional per-dimension overrides. Nil fields keep
// their default.
type EmotionInput struct {
	Happiness *float64
	Sadness   *float64
	Disgust   *float64
	Fear      *float64
	Surprise  *float64
	Anger     *float64
	Other     *float64
	Neutral   *float64
}

// Resolve applies the overrides to DefaultEmotion.
func (in EmotionInput) Resolve() EmotionVector {
	v := DefaultEmotion()
	for i, p := range in.fields() {
		if *p != nil {
			v[i] = **p
		}
	}
	return v
}

// Set assigns the override for the named dimension. It reports false for an
// unknown name.
func (in *EmotionInput) Set(name string, value float64) bool {
	for i, n := range EmotionNames {
		if n == name {
			*in.fields()[i] = &value
			return true
		}
	}
	return false
}

func (in *EmotionInput) fields() [emotionCount]**float64 {
	return [emotionCount]**float64{
		&in.Happiness, &in.Sadness, &in.Disgust, &in.Fear,
		&in.Surprise, &in.Anger, &in.Other, &in.Neutral,
	}
}

// ProsodyParams are the voice-quality and delivery controls.
type ProsodyParams struct {
	VQScore       float64
	FMax          int
	PitchStd      float64
	SpeakingRate  float64
	DNSMOSOverall float64
	SpeakerNoised bool
}

// DefaultProsody returns the stock delivery settings.
func DefaultProsody() ProsodyParams {
	return ProsodyParams{
		VQScore:       0.78,
		FMax:          24000,
		PitchStd:      45.0,
		SpeakingRate:  15.0,
		DNSMOSOverall: 4.0,
		SpeakerNoised: false,
	}
}

// ProsodyInput carries optional overrides; nil fields keep their default.
type ProsodyInput struct {
	VQScore       *float64
	FMax          *int
	PitchStd      *float64
	SpeakingRate  *float64
	DNSMOSOverall *float64
	SpeakerNoised *bool
}

// Resolve applies the overrides to DefaultProsody.
func (in ProsodyInput) Resolve() ProsodyParams {
	p := DefaultProsody()
	if in.VQScore != nil {
		p.VQScore = *in.VQScore
	}
	if in.FMax != nil {
		p.FMax = *in.FMax
	}
	if in.PitchStd != nil {
		p.PitchStd = *in.PitchStd
	}
	if in.SpeakingRate != nil {
		p.SpeakingRate = *in.SpeakingRate
	}
	if in.DNSMOSOverall != nil {
		p.DNSMOSOverall = *in.DNSMOSOverall
	}
	if in.SpeakerNoised != nil {
		p.SpeakerNoised = *in.SpeakerNoised
	}
	return p
}

// Record is the fully resolved conditioning for one synthesis request.
type Record struct {
	Text     string
	Language string
	Speaker  engine.SpeakerEmbedding
	Emotion  EmotionVector
	Prosody  ProsodyParams
}

// Build resolves the inputs into a Record. It fails only when the text is
// missing or the speaker embedding is empty. Whitespace-only text is passed
// through to the engine.
func Build(
	text string,
	speaker engine.SpeakerEmbedding,
	emotion EmotionInput,
	prosody ProsodyInput,
	language string,
) (Record, error) {
	if text == "" {
		return Record{}, fmt.Errorf("%w: text must not be empty", ErrValidation)
	}
	if speaker.Empty() {
		return Record{}, fmt.Errorf("%w: speaker embedding is empty", ErrValidation)
	}

	language = strings.TrimSpace(language)
	if language == "" {
		language = DefaultLanguage
	}

	return Record{
		Text:     text,
		Language: language,
		Speaker:  speaker,
		Emotion:  emotion.Resolve(),
		Prosody:  prosody.Resolve(),
	}, nil
}

// VQScore8 broadcasts the scalar voice-quality score to the eight-band form
// the engine expects.
func (r Record) VQScore8() []float64 {
	out := make([]float64, 8)
	for i := range out {
		out[i] = r.Prosody.VQScore
	}
	return out
}

// Dict renders the record as the engine's conditioning dictionary.
func (r Record) Dict() engine.Conditioning {
	return engine.Conditioning{
		Text:          r.Text,
		Language:      r.Language,
		Speaker:       r.Speaker,
		Emotion:       append([]float64(nil), r.Emotion[:]...),
		VQScore8:      r.VQScore8(),
		FMax:          r.Prosody.FMax,
		PitchStd:      r.Prosody.PitchStd,
		SpeakingRate:  r.Prosody.SpeakingRate,
		DNSMOSOverall: r.Prosody.DNSMOSOverall,
		SpeakerNoised: r.Prosody.SpeakerNoised,
	}
}
