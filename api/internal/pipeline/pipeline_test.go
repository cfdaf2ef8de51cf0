package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"media-relay/api/internal/artifact"
	"media-relay/api/internal/engine"
	"media-relay/api/internal/media"
	"media-relay/api/internal/session"
)

type fakeOCR struct {
	text   string
	err    error
	delay  time.Duration
	seen   [][]byte
	owners []media.UserID
}

func (f *fakeOCR) Name() string { return "fake-ocr" }

func (f *fakeOCR) Recognize(ctx context.Context, image []byte) (engine.Recognition, error) {
	f.seen = append(f.seen, image)
	f.owners = append(f.owners, engine.OwnerFrom(ctx))
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return engine.Recognition{}, ctx.Err()
		}
	}
	return engine.Recognition{Text: f.text, Confidence: 0.93}, f.err
}

type fakeSTT struct {
	text string
	err  error
}

func (f *fakeSTT) Name() string { return "fake-stt" }

func (f *fakeSTT) Transcribe(context.Context, []byte) (engine.Transcription, error) {
	return engine.Transcription{Text: f.text}, f.err
}

type brokenStore struct{}

func (brokenStore) Get(context.Context, media.ArtifactID) (media.Artifact, bool, error) {
	return media.Artifact{}, false, errors.New("disk on fire")
}

func setup(t *testing.T, ocr *fakeOCR, stt *fakeSTT) (*Pipeline, *artifact.MemoryStore) {
	t.Helper()
	store := artifact.NewMemoryStore()
	a := &engine.Adapter{OCR: ocr, STT: stt, OCRTimeout: 50 * time.Millisecond}
	return New(store, a), store
}

func put(t *testing.T, s artifact.Store, kind media.Kind, data string) media.ArtifactID {
	t.Helper()
	id, err := s.Put(context.Background(), kind, 7, []byte(data))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	return id
}

func TestRun(t *testing.T) {
	ctx := context.Background()

	t.Run("ocr before any photo", func(t *testing.T) {
		p, _ := setup(t, &fakeOCR{text: "never"}, &fakeSTT{})
		got := p.Run(ctx, OCR, session.State{})
		if diff := cmp.Diff(Outcome(NoArtifact{Kind: media.Photo}), got); diff != "" {
			t.Errorf("outcome mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("ocr success", func(t *testing.T) {
		ocr := &fakeOCR{text: "ABC"}
		p, store := setup(t, ocr, &fakeSTT{})
		id := put(t, store, media.Photo, "P1")
		got := p.Run(ctx, OCR, session.State{LastPhoto: id})
		if diff := cmp.Diff(Outcome(Success{Text: "ABC"}), got); diff != "" {
			t.Errorf("outcome mismatch (-want +got):\n%s", diff)
		}
		if len(ocr.seen) != 1 || string(ocr.seen[0]) != "P1" {
			t.Errorf("engine saw %q", ocr.seen)
		}
	})

	t.Run("ocr timeout", func(t *testing.T) {
		p, store := setup(t, &fakeOCR{text: "late", delay: time.Second}, &fakeSTT{})
		id := put(t, store, media.Photo, "P1")
		got := p.Run(ctx, OCR, session.State{LastPhoto: id})
		if diff := cmp.Diff(Outcome(EngineFailure{Kind: media.Photo, Detail: "timeout"}), got); diff != "" {
			t.Errorf("outcome mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("transcribe without voice", func(t *testing.T) {
		p, store := setup(t, &fakeOCR{}, &fakeSTT{text: "hi"})
		photo := put(t, store, media.Photo, "P1")
		got := p.Run(ctx, Transcribe, session.State{LastPhoto: photo})
		if diff := cmp.Diff(Outcome(NoArtifact{Kind: media.Voice}), got); diff != "" {
			t.Errorf("outcome mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("transcribe success trims", func(t *testing.T) {
		p, store := setup(t, &fakeOCR{}, &fakeSTT{text: "  hello world \n"})
		id := put(t, store, media.Voice, "V1")
		got := p.Run(ctx, Transcribe, session.State{LastVoice: id})
		if diff := cmp.Diff(Outcome(Success{Text: "hello world"}), got); diff != "" {
			t.Errorf("outcome mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("transcribe engine error", func(t *testing.T) {
		p, store := setup(t, &fakeOCR{}, &fakeSTT{err: engine.ErrUnsupportedFormat})
		id := put(t, store, media.Voice, "V1")
		got := p.Run(ctx, Transcribe, session.State{LastVoice: id})
		if diff := cmp.Diff(Outcome(EngineFailure{Kind: media.Voice, Detail: "unsupported format"}), got); diff != "" {
			t.Errorf("outcome mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("dangling id", func(t *testing.T) {
		p, _ := setup(t, &fakeOCR{text: "x"}, &fakeSTT{})
		got := p.Run(ctx, OCR, session.State{LastPhoto: "gone"})
		if diff := cmp.Diff(Outcome(EngineFailure{Kind: media.Photo, Detail: DetailArtifactMissing}), got); diff != "" {
			t.Errorf("outcome mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("kind mismatch is missing", func(t *testing.T) {
		p, store := setup(t, &fakeOCR{text: "x"}, &fakeSTT{})
		voice := put(t, store, media.Voice, "V1")
		got := p.Run(ctx, OCR, session.State{LastPhoto: voice})
		if diff := cmp.Diff(Outcome(EngineFailure{Kind: media.Photo, Detail: DetailArtifactMissing}), got); diff != "" {
			t.Errorf("outcome mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestStoreErrorIsEngineFailure(t *testing.T) {
	p := New(brokenStore{}, &engine.Adapter{OCR: &fakeOCR{}})
	got := p.Run(context.Background(), OCR, session.State{LastPhoto: "a"})
	f, ok := got.(EngineFailure)
	if !ok || f.Kind != media.Photo || f.Detail != "artifact store: disk on fire" {
		t.Errorf("got %#v", got)
	}
}

func TestExecuteUsesResolvedID(t *testing.T) {
	ctx := context.Background()
	ocr := &fakeOCR{text: "first"}
	p, store := setup(t, ocr, &fakeSTT{})
	table := session.NewTable()

	first := put(t, store, media.Photo, "P1")
	table.Record(1, media.Photo, first)

	target, out := Resolve(OCR, table.Get(1))
	if out != nil {
		t.Fatalf("Resolve: %#v", out)
	}

	// a newer photo lands before the engine runs
	second := put(t, store, media.Photo, "P2")
	table.Record(1, media.Photo, second)

	p.Execute(ctx, target)
	if len(ocr.seen) != 1 || string(ocr.seen[0]) != "P1" {
		t.Errorf("engine saw %q, want P1", ocr.seen)
	}
	if id, _ := session.LastOf(table.Get(1), media.Photo); id != second {
		t.Errorf("session last photo = %s, want %s", id, second)
	}
}

func TestCommandKind(t *testing.T) {
	if OCR.Kind() != media.Photo || Transcribe.Kind() != media.Voice {
		t.Fatal("command kinds")
	}
	defer func() {
		if recover() == nil {
			t.Error("Kind on unknown command did not panic")
		}
	}()
	Command(99).Kind()
}

func TestExecutePassesOwnerToEngine(t *testing.T) {
	ocr := &fakeOCR{text: "x"}
	p, store := setup(t, ocr, &fakeSTT{})
	id := put(t, store, media.Photo, "P1")

	if got := p.Run(context.Background(), OCR, session.State{LastPhoto: id}); got != (Success{Text: "x"}) {
		t.Fatalf("Run = %#v", got)
	}
	if diff := cmp.Diff([]media.UserID{7}, ocr.owners); diff != "" {
		t.Errorf("owners (-want +got):\n%s", diff)
	}
}
