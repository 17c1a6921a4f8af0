package synth

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/example/go-voice-tts/internal/audio"
	"github.com/example/go-voice-tts/internal/conditioning"
	"github.com/example/go-voice-tts/internal/engine"
	"github.com/example/go-voice-tts/internal/samples"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, ""},
		{"classified", &Error{Kind: KindNotFound, Message: "x"}, KindNotFound},
		{"wrapped classified", fmt.Errorf("outer: %w", &Error{Kind: KindDecode}), KindDecode},
		{"validation", fmt.Errorf("x: %w", conditioning.ErrValidation), KindValidation},
		{"not found", fmt.Errorf("x: %w", samples.ErrNotFound), KindNotFound},
		{"decode", fmt.Errorf("x: %w", audio.ErrDecode), KindDecode},
		{"engine", fmt.Errorf("x: %w", engine.ErrEngine), KindEngine},
		{"deadline", context.DeadlineExceeded, KindTimeout},
		{"engine deadline", fmt.Errorf("%w: %w", engine.ErrEngine, context.DeadlineExceeded), KindTimeout},
		{"cancelled", context.Canceled, KindTimeout},
		{"other", errors.New("disk on fire"), KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %q; want %q", got, tt.want)
			}
		})
	}
}

func TestFail(t *testing.T) {
	inner := &Error{Kind: KindNotFound, Message: "sample missing"}
	if got := fail(KindInternal, "ignored", inner); got != error(inner) {
		t.Errorf("fail() rewrapped an already classified error: %v", got)
	}

	err := fail(KindEngine, "generation failed", errors.New("exit status 1"))
	if KindOf(err) != KindEngine || PublicMessage(err) != "generation failed" {
		t.Errorf("fail() = kind %q, message %q", KindOf(err), PublicMessage(err))
	}

	err = fail(KindEngine, "generation failed", context.DeadlineExceeded)
	if KindOf(err) != KindTimeout || PublicMessage(err) != "request timed out" {
		t.Errorf("fail(deadline) = kind %q, message %q", KindOf(err), PublicMessage(err))
	}

	err = fail(KindInternal, "store failed", fmt.Errorf("%w: bad header", audio.ErrDecode))
	if KindOf(err) != KindDecode {
		t.Errorf("fail(decode) kind = %q; want decode", KindOf(err))
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("cause")
	err := &Error{Kind: KindInternal, Message: "msg", Err: cause}

	if !errors.Is(err, cause) {
		t.Error("errors.Is(err, cause) = false")
	}
	if err.Error() != "msg: cause" {
		t.Errorf("Error() = %q", err.Error())
	}
	if (&Error{Message: "plain"}).Error() != "plain" {
		t.Error("Error() without cause should be the message")
	}
}

func TestPublicMessage_UnclassifiedErrorsAreGeneric(t *testing.T) {
	err := errors.New("open /data/samples/x.wav: permission denied")
	if got := PublicMessage(err); got != "internal error" {
		t.Errorf("PublicMessage() = %q; want generic message", got)
	}
}

func TestSourceFrom(t *testing.T) {
	upload := &InlineSource{Filename: "a.wav", Data: []byte("x")}

	if got := SourceFrom("alice", upload); got != (NamedSource{Name: "alice"}) {
		t.Errorf("SourceFrom(name, upload) = %#v; want NamedSource", got)
	}
	got, ok := SourceFrom("", upload).(InlineSource)
	if !ok || got.Filename != "a.wav" {
		t.Errorf("SourceFrom(\"\", upload) = %#v; want InlineSource", got)
	}
	if got := SourceFrom("", nil); got != nil {
		t.Errorf("SourceFrom(\"\", nil) = %#v; want nil", got)
	}
}
