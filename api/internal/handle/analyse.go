package handle

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"media-relay/api/internal/engine"
	"media-relay/api/internal/media"
)

type OCRResponse struct {
	PhotoID    string  `json:"photo_id"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence,omitempty"`
}

type TranscribeResponse struct {
	AudioID string `json:"audio_id"`
	Text    string `json:"text"`
}

// ErrorResponse is returned with 502 when an engine fails.
type ErrorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func (h *Handle) AnalyseOCR(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	a, ok := h.load(w, r, media.ArtifactID(id), media.Photo, "Photo not found")
	if !ok {
		return
	}
	res, err := h.engines.RunOCR(engine.WithOwner(r.Context(), a.Owner), a.Data)
	if err != nil {
		h.engineError(w, r, media.Photo, id, err)
		return
	}
	writeJSON(w, http.StatusOK, OCRResponse{PhotoID: id, Text: res.Text, Confidence: res.Confidence})
}

func (h *Handle) Transcribe(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	a, ok := h.load(w, r, media.ArtifactID(id), media.Voice, "Audio not found")
	if !ok {
		return
	}
	res, err := h.engines.RunTranscription(engine.WithOwner(r.Context(), a.Owner), a.Data)
	if err != nil {
		h.engineError(w, r, media.Voice, id, err)
		return
	}
	writeJSON(w, http.StatusOK, TranscribeResponse{AudioID: id, Text: res.Text})
}

func (h *Handle) load(w http.ResponseWriter, r *http.Request, id media.ArtifactID, kind media.Kind, notFound string) (media.Artifact, bool) {
	a, ok, err := h.store.Get(r.Context(), id)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "store get failed", "id", id, "err", err)
		writeDetail(w, http.StatusInternalServerError, "store failed")
		return media.Artifact{}, false
	}
	// фото нельзя транскрибировать и наоборот
	if !ok || a.Kind != kind {
		writeDetail(w, http.StatusNotFound, notFound)
		return media.Artifact{}, false
	}
	return a, true
}

func (h *Handle) engineError(w http.ResponseWriter, r *http.Request, kind media.Kind, id string, err error) {
	resp := ErrorResponse{Error: err.Error()}
	var f *engine.Failure
	if errors.As(err, &f) {
		resp.Error = f.Detail()
		resp.Reason = string(f.Reason)
	}
	h.logger.WarnContext(r.Context(), "engine failed", "kind", kind, "id", id, "detail", resp.Error)
	writeJSON(w, http.StatusBadGateway, resp)
}
