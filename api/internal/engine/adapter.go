package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const (
	DefaultOCRTimeout = 30 * time.Second
	DefaultSTTTimeout = 120 * time.Second
)

// Adapter runs backends with a deadline and no retries.
type Adapter struct {
	OCR        Recognizer
	STT        Transcriber
	OCRTimeout time.Duration
	STTTimeout time.Duration

	// Preprocess, if set, transforms image bytes before OCR. It runs
	// under OCRTimeout together with the backend.
	Preprocess func([]byte) []byte

	Logger *slog.Logger
}

// RunOCR returns the recognized text or a *Failure.
func (a *Adapter) RunOCR(ctx context.Context, image []byte) (Recognition, error) {
	if a.OCR == nil {
		return Recognition{}, &Failure{Reason: ReasonEngine, Err: fmt.Errorf("no OCR engine configured")}
	}
	if len(image) == 0 {
		return Recognition{}, &Failure{Reason: ReasonEmpty}
	}
	recognize := a.OCR.Recognize
	if prep := a.Preprocess; prep != nil {
		// Preprocessing decodes untrusted images, so it shares the
		// backend's deadline and panic recovery.
		recognize = func(ctx context.Context, b []byte) (Recognition, error) {
			return a.OCR.Recognize(ctx, prep(b))
		}
	}
	res, err := invoke(ctx, orDefault(a.OCRTimeout, DefaultOCRTimeout), image, recognize)
	a.log(ctx, "ocr", a.OCR.Name(), err)
	return res, err
}

// RunTranscription returns the transcript or a *Failure.
func (a *Adapter) RunTranscription(ctx context.Context, audio []byte) (Transcription, error) {
	if a.STT == nil {
		return Transcription{}, &Failure{Reason: ReasonEngine, Err: fmt.Errorf("no transcription engine configured")}
	}
	if len(audio) == 0 {
		return Transcription{}, &Failure{Reason: ReasonEmpty}
	}
	res, err := invoke(ctx, orDefault(a.STTTimeout, DefaultSTTTimeout), audio, a.STT.Transcribe)
	a.log(ctx, "transcribe", a.STT.Name(), err)
	return res, err
}

func (a *Adapter) log(ctx context.Context, op, name string, err error) {
	if err == nil {
		return
	}
	logger := a.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.WarnContext(ctx, "engine failure", "op", op, "engine", name, "detail", err.Error())
}

func orDefault(d, def time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return def
}

type result[T any] struct {
	val T
	err error
}

// invoke calls fn in its own goroutine so that a backend ignoring ctx cannot
// hold the caller past the deadline, and a panicking backend becomes a
// ReasonCrashed failure.
func invoke[T any](ctx context.Context, timeout time.Duration, in []byte, fn func(context.Context, []byte) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ch := make(chan result[T], 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				var zero T
				ch <- result[T]{val: zero, err: &Failure{Reason: ReasonCrashed, Err: fmt.Errorf("panic: %v", p)}}
			}
		}()
		v, err := fn(ctx, in)
		ch <- result[T]{val: v, err: err}
	}()

	var zero T
	select {
	case r := <-ch:
		if r.err != nil {
			return zero, classify(ctx, r.err)
		}
		return r.val, nil
	case <-ctx.Done():
		return zero, classify(ctx, ctx.Err())
	}
}
