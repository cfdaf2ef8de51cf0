package engine

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"runtime"
	"testing"
	"time"
)

type fakeOCR struct {
	fn  func(ctx context.Context, image []byte) (Recognition, error)
	got []byte
}

func (f *fakeOCR) Name() string { return "fake" }

func (f *fakeOCR) Recognize(ctx context.Context, image []byte) (Recognition, error) {
	f.got = image
	return f.fn(ctx, image)
}

type fakeSTT func(ctx context.Context, audio []byte) (Transcription, error)

func (fakeSTT) Name() string { return "fake" }

func (f fakeSTT) Transcribe(ctx context.Context, audio []byte) (Transcription, error) {
	return f(ctx, audio)
}

func TestRunOCRSuccess(t *testing.T) {
	a := &Adapter{OCR: &fakeOCR{fn: func(context.Context, []byte) (Recognition, error) {
		return Recognition{Text: "HELLO", Confidence: 0.93}, nil
	}}}
	got, err := a.RunOCR(context.Background(), []byte("img"))
	if err != nil {
		t.Fatalf("RunOCR: %v", err)
	}
	if got.Text != "HELLO" || got.Confidence != 0.93 {
		t.Errorf("RunOCR = %+v", got)
	}
}

func TestRunOCRFailureReasons(t *testing.T) {
	tests := []struct {
		name       string
		input      []byte
		fn         func(ctx context.Context, image []byte) (Recognition, error)
		timeout    time.Duration
		wantReason Reason
		wantDetail string
	}{
		{
			name:       "empty input",
			input:      nil,
			fn:         func(context.Context, []byte) (Recognition, error) { return Recognition{Text: "never"}, nil },
			wantReason: ReasonEmpty,
			wantDetail: "empty input",
		},
		{
			name:       "backend error",
			input:      []byte("x"),
			fn:         func(context.Context, []byte) (Recognition, error) { return Recognition{}, errors.New("status 500") },
			wantReason: ReasonEngine,
			wantDetail: "engine error: status 500",
		},
		{
			name:  "unsupported format",
			input: []byte("x"),
			fn: func(context.Context, []byte) (Recognition, error) {
				return Recognition{}, ErrUnsupportedFormat
			},
			wantReason: ReasonUnsupported,
			wantDetail: "unsupported format",
		},
		{
			name:  "panic",
			input: []byte("x"),
			fn: func(context.Context, []byte) (Recognition, error) {
				panic("tesseract exploded")
			},
			wantReason: ReasonCrashed,
			wantDetail: "engine crashed: panic: tesseract exploded",
		},
		{
			name:    "backend honours deadline",
			input:   []byte("x"),
			timeout: 20 * time.Millisecond,
			fn: func(ctx context.Context, _ []byte) (Recognition, error) {
				<-ctx.Done()
				return Recognition{}, ctx.Err()
			},
			wantReason: ReasonTimeout,
			wantDetail: "timeout",
		},
		{
			name:    "backend ignores deadline",
			input:   []byte("x"),
			timeout: 20 * time.Millisecond,
			fn: func(context.Context, []byte) (Recognition, error) {
				time.Sleep(time.Second)
				return Recognition{Text: "late"}, nil
			},
			wantReason: ReasonTimeout,
			wantDetail: "timeout",
		},
		{
			name:  "backend returns failure",
			input: []byte("x"),
			fn: func(context.Context, []byte) (Recognition, error) {
				return Recognition{}, &Failure{Reason: ReasonTimeout}
			},
			wantReason: ReasonTimeout,
			wantDetail: "timeout",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &Adapter{OCR: &fakeOCR{fn: tt.fn}, OCRTimeout: tt.timeout}
			start := time.Now()
			_, err := a.RunOCR(context.Background(), tt.input)
			if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
				t.Errorf("RunOCR took %v", elapsed)
			}
			var f *Failure
			if !errors.As(err, &f) {
				t.Fatalf("err = %v (%T), want *Failure", err, err)
			}
			if f.Reason != tt.wantReason {
				t.Errorf("reason = %q, want %q", f.Reason, tt.wantReason)
			}
			if f.Detail() != tt.wantDetail {
				t.Errorf("detail = %q, want %q", f.Detail(), tt.wantDetail)
			}
		})
	}
}

func TestRunOCRPreprocess(t *testing.T) {
	ocr := &fakeOCR{fn: func(context.Context, []byte) (Recognition, error) { return Recognition{Text: "ok"}, nil }}
	a := &Adapter{
		OCR:        ocr,
		Preprocess: func(b []byte) []byte { return append([]byte("pre:"), b...) },
	}
	if _, err := a.RunOCR(context.Background(), []byte("img")); err != nil {
		t.Fatalf("RunOCR: %v", err)
	}
	if string(ocr.got) != "pre:img" {
		t.Errorf("engine saw %q", ocr.got)
	}
}

func TestRunTranscription(t *testing.T) {
	a := &Adapter{STT: fakeSTT(func(_ context.Context, audio []byte) (Transcription, error) {
		return Transcription{Text: "said " + string(audio)}, nil
	})}
	got, err := a.RunTranscription(context.Background(), []byte("hi"))
	if err != nil {
		t.Fatalf("RunTranscription: %v", err)
	}
	if got.Text != "said hi" {
		t.Errorf("text = %q", got.Text)
	}

	a.STTTimeout = 10 * time.Millisecond
	a.STT = fakeSTT(func(ctx context.Context, _ []byte) (Transcription, error) {
		<-ctx.Done()
		return Transcription{}, ctx.Err()
	})
	_, err = a.RunTranscription(context.Background(), []byte("hi"))
	var f *Failure
	if !errors.As(err, &f) || f.Detail() != "timeout" {
		t.Fatalf("err = %v, want timeout failure", err)
	}
}

func TestAdapterWithoutEngines(t *testing.T) {
	a := &Adapter{}
	if _, err := a.RunOCR(context.Background(), []byte("x")); err == nil {
		t.Error("RunOCR without engine succeeded")
	}
	if _, err := a.RunTranscription(context.Background(), []byte("x")); err == nil {
		t.Error("RunTranscription without engine succeeded")
	}
}

func TestPrepareImage(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			c := color.RGBA{R: 200, G: 200, B: 200, A: 255}
			if x == 4 {
				c = color.RGBA{R: 40, G: 40, B: 40, A: 255}
			}
			src.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, src); err != nil {
		t.Fatal(err)
	}

	out := PrepareImage(buf.Bytes())
	img, err := png.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("output is not a PNG: %v", err)
	}
	g, ok := img.(*image.Gray)
	if !ok {
		t.Fatalf("output is %T, want *image.Gray", img)
	}
	if g.Bounds().Dx() != 8 || g.Bounds().Dy() != 8 {
		t.Errorf("bounds = %v", g.Bounds())
	}
	// the dark stripe must get darker relative to the background
	if dark, light := g.GrayAt(4, 4).Y, g.GrayAt(1, 4).Y; dark >= light || dark > 40 {
		t.Errorf("contrast not enhanced: dark=%d light=%d", dark, light)
	}
}

func TestPrepareImagePassesThroughGarbage(t *testing.T) {
	in := []byte("not an image")
	if out := PrepareImage(in); !bytes.Equal(out, in) {
		t.Errorf("PrepareImage changed undecodable input")
	}
}

func TestScaleDownNN(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 4, 4))
	for i := range src.Pix {
		src.Pix[i] = uint8(i)
	}
	dst := scaleDownNN(src, 2, 2)
	want := []uint8{0, 2, 8, 10}
	for i, v := range want {
		if dst.Pix[i] != v {
			t.Fatalf("pix = %v, want %v", dst.Pix, want)
		}
	}
}

func TestRunOCRPreprocessUnderDeadline(t *testing.T) {
	ocr := &fakeOCR{fn: func(context.Context, []byte) (Recognition, error) {
		return Recognition{Text: "late"}, nil
	}}
	a := &Adapter{
		OCR:        ocr,
		OCRTimeout: 50 * time.Millisecond,
		Preprocess: func(b []byte) []byte {
			time.Sleep(time.Second)
			return b
		},
	}

	start := time.Now()
	_, err := a.RunOCR(context.Background(), []byte("img"))
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("RunOCR took %v, want the 50ms deadline to apply", elapsed)
	}
	var f *Failure
	if !errors.As(err, &f) || f.Reason != ReasonTimeout {
		t.Fatalf("err = %v, want timeout failure", err)
	}
}

func TestRunOCRPreprocessPanic(t *testing.T) {
	a := &Adapter{
		OCR: &fakeOCR{fn: func(context.Context, []byte) (Recognition, error) {
			return Recognition{Text: "unreached"}, nil
		}},
		Preprocess: func([]byte) []byte { panic("bad image") },
	}
	_, err := a.RunOCR(context.Background(), []byte("img"))
	var f *Failure
	if !errors.As(err, &f) || f.Reason != ReasonCrashed {
		t.Fatalf("err = %v, want crashed failure", err)
	}
}

// hugePNG returns a tiny PNG whose header declares w x h pixels.
func hugePNG(t *testing.T, w, h uint32) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, 1, 1))); err != nil {
		t.Fatal(err)
	}
	b := buf.Bytes()
	// signature(8) length(4) "IHDR"(4) width(4) height(4) ... crc at 29
	binary.BigEndian.PutUint32(b[16:], w)
	binary.BigEndian.PutUint32(b[20:], h)
	binary.BigEndian.PutUint32(b[29:], crc32.ChecksumIEEE(b[12:29]))
	return b
}

func TestPrepareImageRefusesHugeDimensions(t *testing.T) {
	in := hugePNG(t, 12000, 12000)
	if _, err := png.DecodeConfig(bytes.NewReader(in)); err != nil {
		t.Fatalf("crafted header does not parse: %v", err)
	}

	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)
	start := time.Now()
	out := PrepareImage(in)
	elapsed := time.Since(start)
	runtime.ReadMemStats(&after)

	if !bytes.Equal(out, in) {
		t.Error("oversized image should pass through unchanged")
	}
	if alloc := after.TotalAlloc - before.TotalAlloc; alloc > 16<<20 {
		t.Errorf("allocated %d bytes for an image that should not be decoded", alloc)
	}
	if elapsed > 200*time.Millisecond {
		t.Errorf("PrepareImage took %v", elapsed)
	}
}

func TestRunOCRHugeImageReachesEngineUnchanged(t *testing.T) {
	in := hugePNG(t, 8000, 8000)
	ocr := &fakeOCR{fn: func(context.Context, []byte) (Recognition, error) {
		return Recognition{Text: "ok"}, nil
	}}
	a := &Adapter{OCR: ocr, OCRTimeout: 50 * time.Millisecond, Preprocess: PrepareImage}
	if _, err := a.RunOCR(context.Background(), in); err != nil {
		t.Fatalf("RunOCR: %v", err)
	}
	if !bytes.Equal(ocr.got, in) {
		t.Error("engine should receive the original bytes")
	}
}
