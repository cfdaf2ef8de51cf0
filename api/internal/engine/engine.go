// Package engine wraps OCR and speech-to-text backends into adapters that
// never fail with anything but a *Failure.
//
// A backend implements Recognizer or Transcriber and may return any error or
// even panic; Adapter bounds each call with a timeout and maps every failure
// mode into a Failure with a Reason from a closed set.
package engine

import (
	"context"
	"errors"
	"fmt"

	"media-relay/api/internal/media"
)

var (
	// ErrUnsupportedFormat is returned by backends that cannot read the input.
	ErrUnsupportedFormat = errors.New("unsupported media format")
	// ErrEmptyInput marks zero-length input.
	ErrEmptyInput = errors.New("empty input")
)

type ownerKey struct{}

// WithOwner records on ctx the user whose artifact is being analysed, for
// backends that forward it.
func WithOwner(ctx context.Context, owner media.UserID) context.Context {
	return context.WithValue(ctx, ownerKey{}, owner)
}

// OwnerFrom returns the user set by WithOwner, or 0.
func OwnerFrom(ctx context.Context) media.UserID {
	owner, _ := ctx.Value(ownerKey{}).(media.UserID)
	return owner
}

// Recognition is a successful OCR result. Confidence is in [0,1]; 0 means the
// backend did not report one.
type Recognition struct {
	Text       string
	Confidence float64
}

type Transcription struct {
	Text string
}

// Recognizer is an OCR backend.
type Recognizer interface {
	Name() string
	Recognize(ctx context.Context, image []byte) (Recognition, error)
}

// Transcriber is a speech-to-text backend.
type Transcriber interface {
	Name() string
	Transcribe(ctx context.Context, audio []byte) (Transcription, error)
}

type Reason string

const (
	ReasonEngine      Reason = "engine error"
	ReasonCrashed     Reason = "engine crashed"
	ReasonUnsupported Reason = "unsupported format"
	ReasonEmpty       Reason = "empty input"
	ReasonTimeout     Reason = "timeout"
)

// Failure is the only error type the adapters return.
type Failure struct {
	Reason Reason
	Err    error
}

func (f *Failure) Error() string { return f.Detail() }

func (f *Failure) Unwrap() error { return f.Err }

// Detail is the operator-facing description. Timeouts, empty input and
// unsupported formats are reported by reason alone.
func (f *Failure) Detail() string {
	switch f.Reason {
	case ReasonTimeout, ReasonEmpty, ReasonUnsupported:
		return string(f.Reason)
	}
	if f.Err == nil {
		return string(f.Reason)
	}
	return fmt.Sprintf("%s: %v", f.Reason, f.Err)
}

// classify maps a backend error to a Failure. ctx is the invocation context,
// already carrying the adapter deadline.
func classify(ctx context.Context, err error) *Failure {
	var f *Failure
	switch {
	case errors.As(err, &f):
		return f
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
		return &Failure{Reason: ReasonTimeout, Err: err}
	case errors.Is(err, ErrUnsupportedFormat):
		return &Failure{Reason: ReasonUnsupported, Err: err}
	case errors.Is(err, ErrEmptyInput):
		return &Failure{Reason: ReasonEmpty, Err: err}
	default:
		return &Failure{Reason: ReasonEngine, Err: err}
	}
}
