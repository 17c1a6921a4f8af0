package synth

import (
	"context"
	"errors"

	"github.com/example/go-voice-tts/internal/audio"
	"github.com/example/go-voice-tts/internal/conditioning"
	"github.com/example/go-voice-tts/internal/engine"
	"github.com/example/go-voice-tts/internal/samples"
)

// Kind classifies a request failure.
type Kind string

const (
	KindValidation Kind = "validation"
	KindBadRequest Kind = "bad_request"
	KindNotFound   Kind = "not_found"
	KindDecode     Kind = "decode"
	KindEngine     Kind = "engine"
	KindTimeout    Kind = "timeout"
	KindInternal   Kind = "internal"
)

// Error is a classified request failure. Message is safe to show to
// clients; Err carries the internal cause for logs.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf classifies err. A nil error has no kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return classify(err)
}

// PublicMessage returns the client-facing message for err.
func PublicMessage(err error) string {
	var se *Error
	if errors.As(err, &se) {
		return se.Message
	}
	switch classify(err) {
	case KindValidation:
		return "invalid request"
	case KindNotFound:
		return "sample not found"
	case KindDecode:
		return "could not decode audio"
	case KindEngine:
		return "speech engine failed"
	case KindTimeout:
		return "request timed out"
	default:
		return "internal error"
	}
}

func classify(err error) Kind {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return KindTimeout
	case errors.Is(err, conditioning.ErrValidation):
		return KindValidation
	case errors.Is(err, samples.ErrNotFound):
		return KindNotFound
	case errors.Is(err, audio.ErrDecode):
		return KindDecode
	case errors.Is(err, engine.ErrEngine):
		return KindEngine
	default:
		return KindInternal
	}
}

// fail wraps err with a public message. Errors that are already classified
// pass through; a recognized sentinel decides the kind, otherwise fallback
// does.
func fail(fallback Kind, msg string, err error) error {
	var se *Error
	if errors.As(err, &se) {
		return err
	}

	kind := classify(err)
	switch kind {
	case KindInternal:
		kind = fallback
	case KindTimeout:
		msg = "request timed out"
	}

	return &Error{Kind: kind, Message: msg, Err: err}
}
