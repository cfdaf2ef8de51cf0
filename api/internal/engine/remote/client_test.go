package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/go-chi/chi/v5"

	"media-relay/api/internal/engine"
)

func newServer(t *testing.T, register func(r chi.Router)) *Client {
	t.Helper()
	r := chi.NewRouter()
	register(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return New(srv.URL + "/")
}

func TestRecognizeUploadsThenAnalyses(t *testing.T) {
	var uploaded []byte
	c := newServer(t, func(r chi.Router) {
		r.Post("/photos/upload", func(w http.ResponseWriter, r *http.Request) {
			f, _, err := r.FormFile("file")
			if err != nil {
				t.Errorf("form file: %v", err)
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			defer f.Close()
			uploaded, _ = io.ReadAll(f)
			_ = json.NewEncoder(w).Encode(map[string]string{"photo_id": "p-1", "filename": "photo.jpg"})
		})
		r.Get("/photos/{id}/analyse/ocr", func(w http.ResponseWriter, r *http.Request) {
			if id := chi.URLParam(r, "id"); id != "p-1" {
				t.Errorf("id = %q", id)
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"photo_id": "p-1", "text": " ABC\n", "confidence": 0.75})
		})
	})

	got, err := c.Recognize(context.Background(), []byte("imagebytes"))
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if got.Text != "ABC" || got.Confidence != 0.75 {
		t.Errorf("got %+v", got)
	}
	if string(uploaded) != "imagebytes" {
		t.Errorf("uploaded %q", uploaded)
	}
}

func TestTranscribeUploadsThenTranscribes(t *testing.T) {
	c := newServer(t, func(r chi.Router) {
		r.Post("/audio/upload", func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]string{"audio_id": "a-9"})
		})
		r.Get("/audio/{id}/transcribe", func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]string{"audio_id": chi.URLParam(r, "id"), "text": "hello there"})
		})
	})
	got, err := c.Transcribe(context.Background(), []byte("OggS"))
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got.Text != "hello there" {
		t.Errorf("text = %q", got.Text)
	}
}

func TestServiceFailureKeepsReason(t *testing.T) {
	c := newServer(t, func(r chi.Router) {
		r.Post("/photos/upload", func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]string{"photo_id": "p-1"})
		})
		r.Get("/photos/{id}/analyse/ocr", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "timeout", "reason": "timeout"})
		})
	})
	_, err := c.Recognize(context.Background(), []byte("x"))
	var f *engine.Failure
	if !errors.As(err, &f) {
		t.Fatalf("err = %v, want *engine.Failure", err)
	}
	if f.Reason != engine.ReasonTimeout || f.Detail() != "timeout" {
		t.Errorf("failure = %+v", f)
	}
}

func TestServiceErrorWithoutReason(t *testing.T) {
	c := newServer(t, func(r chi.Router) {
		r.Post("/audio/upload", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(map[string]string{"detail": "Audio not found"})
		})
	})
	_, err := c.Transcribe(context.Background(), []byte("x"))
	if err == nil || !strings.Contains(err.Error(), "repl 404: Audio not found") {
		t.Fatalf("err = %v", err)
	}
	var f *engine.Failure
	if errors.As(err, &f) {
		t.Errorf("unexpected failure %+v", f)
	}
}

func TestEmptyUploadID(t *testing.T) {
	c := newServer(t, func(r chi.Router) {
		r.Post("/photos/upload", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{}`))
		})
	})
	if _, err := c.Recognize(context.Background(), []byte("x")); err == nil {
		t.Fatal("expected error for missing photo_id")
	}
}

func TestHealth(t *testing.T) {
	c := newServer(t, func(r chi.Router) {
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"status":"ok"}`))
		})
	})
	status, err := c.Health(context.Background())
	if err != nil || status != "ok" {
		t.Errorf("Health = %q, %v", status, err)
	}

	down := New("http://127.0.0.1:1")
	if _, err := down.Health(context.Background()); err == nil {
		t.Error("expected error from unreachable service")
	}
}

// photoService is a fake service that keeps uploads in memory and counts
// upload requests.
type photoService struct {
	mu     sync.Mutex
	blobs  map[string]string
	owners []string

	uploads atomic.Int32
}

func (p *photoService) register(r chi.Router) {
	p.blobs = make(map[string]string)
	r.Post("/photos/upload", func(w http.ResponseWriter, r *http.Request) {
		f, _, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer f.Close()
		data, _ := io.ReadAll(f)

		n := p.uploads.Add(1)
		id := "p-" + strconv.Itoa(int(n))
		p.mu.Lock()
		p.blobs[id] = string(data)
		p.owners = append(p.owners, r.FormValue("owner"))
		p.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]string{"photo_id": id})
	})
	r.Get("/photos/{id}/analyse/ocr", func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		data, ok := p.blobs[chi.URLParam(r, "id")]
		p.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(map[string]string{"detail": "Photo not found"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"text": strings.ToUpper(data)})
	})
}

func (p *photoService) sentOwners() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.owners...)
}

func (p *photoService) drop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	clear(p.blobs)
}

func TestRecognizeUploadsOncePerBlob(t *testing.T) {
	svc := &photoService{}
	c := newServer(t, svc.register)
	ctx := engine.WithOwner(context.Background(), 42)

	for i := 0; i < 5; i++ {
		got, err := c.Recognize(ctx, []byte("same"))
		if err != nil || got.Text != "SAME" {
			t.Fatalf("call %d: %+v, %v", i, got, err)
		}
	}
	if n := svc.uploads.Load(); n != 1 {
		t.Errorf("uploads = %d, want 1", n)
	}
	if owners := svc.sentOwners(); len(owners) != 1 || owners[0] != "42" {
		t.Errorf("owners sent = %q", owners)
	}

	if _, err := c.Recognize(ctx, []byte("other")); err != nil {
		t.Fatal(err)
	}
	// same bytes from another user are a separate service artifact
	if _, err := c.Recognize(engine.WithOwner(context.Background(), 7), []byte("same")); err != nil {
		t.Fatal(err)
	}
	if n := svc.uploads.Load(); n != 3 {
		t.Errorf("uploads = %d, want 3", n)
	}
}

func TestRecognizeReuploadsAfterNotFound(t *testing.T) {
	svc := &photoService{}
	c := newServer(t, svc.register)
	ctx := context.Background()

	if _, err := c.Recognize(ctx, []byte("abc")); err != nil {
		t.Fatal(err)
	}
	svc.drop()

	got, err := c.Recognize(ctx, []byte("abc"))
	if err != nil || got.Text != "ABC" {
		t.Fatalf("Recognize after drop = %+v, %v", got, err)
	}
	if n := svc.uploads.Load(); n != 2 {
		t.Errorf("uploads = %d, want 2", n)
	}
	if owners := svc.sentOwners(); owners[0] != "" {
		t.Errorf("owner sent without one on ctx: %q", owners[0])
	}
}

func TestRecognizeConcurrentCallersShareUpload(t *testing.T) {
	svc := &photoService{}
	c := newServer(t, svc.register)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Recognize(context.Background(), []byte("shared")); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()
	if n := svc.uploads.Load(); n != 1 {
		t.Errorf("uploads = %d, want 1", n)
	}
}

func TestAnalyseErrorIsStatusError(t *testing.T) {
	c := newServer(t, func(r chi.Router) {
		r.Post("/photos/upload", func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]string{"photo_id": "p-1"})
		})
		r.Get("/photos/{id}/analyse/ocr", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]string{"detail": "store failed"})
		})
	})
	_, err := c.Recognize(context.Background(), []byte("x"))
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusInternalServerError || se.Msg != "store failed" {
		t.Fatalf("err = %#v", err)
	}
}

func TestRememberEvictsOldest(t *testing.T) {
	c := New("http://unused")
	for i := 0; i < maxCachedIDs+3; i++ {
		c.remember(strconv.Itoa(i), "id")
	}
	if len(c.ids) != maxCachedIDs || len(c.order) != maxCachedIDs {
		t.Fatalf("cache size = %d/%d", len(c.ids), len(c.order))
	}
	if _, ok := c.lookup("0"); ok {
		t.Error("oldest key survived eviction")
	}
	c.forget(c.order[0])
	if len(c.ids) != maxCachedIDs-1 || len(c.order) != maxCachedIDs-1 {
		t.Errorf("forget left %d/%d", len(c.ids), len(c.order))
	}
}
