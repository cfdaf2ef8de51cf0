// Package handle is the HTTP API of the processing service: uploads land in
// the artifact store, analysis runs the engine adapters on stored bytes.
package handle

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"media-relay/api/internal/artifact"
	"media-relay/api/internal/pipeline"
)

// maxUpload caps multipart bodies.
const maxUpload = 32 << 20

type Handle struct {
	store   artifact.Store
	engines pipeline.Engines
	logger  *slog.Logger
}

func New(store artifact.Store, engines pipeline.Engines, logger *slog.Logger) *Handle {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handle{
		store:   store,
		engines: engines,
		logger:  logger,
	}
}

func (h *Handle) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/health", h.Health)
	r.Post("/photos/upload", h.UploadPhoto)
	r.Get("/photos/{id}/analyse/ocr", h.AnalyseOCR)
	r.Post("/audio/upload", h.UploadAudio)
	r.Get("/audio/{id}/transcribe", h.Transcribe)
	return r
}

func (h *Handle) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeDetail mirrors the {"detail": ...} body clients already parse.
func writeDetail(w http.ResponseWriter, code int, detail string) {
	writeJSON(w, code, map[string]string{"detail": detail})
}
