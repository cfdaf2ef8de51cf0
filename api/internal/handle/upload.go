package handle

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"media-relay/api/internal/media"
)

type UploadResponse struct {
	PhotoID  string `json:"photo_id,omitempty"`
	AudioID  string `json:"audio_id,omitempty"`
	Filename string `json:"filename"`
}

func (h *Handle) UploadPhoto(w http.ResponseWriter, r *http.Request) {
	h.upload(w, r, media.Photo)
}

func (h *Handle) UploadAudio(w http.ResponseWriter, r *http.Request) {
	h.upload(w, r, media.Voice)
}

func (h *Handle) upload(w http.ResponseWriter, r *http.Request, kind media.Kind) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUpload)
	if err := r.ParseMultipartForm(maxUpload); err != nil {
		writeDetail(w, http.StatusBadRequest, "bad multipart: "+err.Error())
		return
	}
	f, hdr, err := r.FormFile("file")
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "file is required")
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "read file: "+err.Error())
		return
	}
	if len(data) == 0 {
		writeDetail(w, http.StatusBadRequest, "file is empty")
		return
	}

	var owner media.UserID
	if s := strings.TrimSpace(r.FormValue("owner")); s != "" {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			writeDetail(w, http.StatusBadRequest, "bad owner")
			return
		}
		owner = media.UserID(n)
	}

	id, err := h.store.Put(r.Context(), kind, owner, data)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "store put failed", "kind", kind, "err", err)
		writeDetail(w, http.StatusInternalServerError, "store failed")
		return
	}
	h.logger.InfoContext(r.Context(), "upload stored", "kind", kind, "id", id, "owner", owner, "bytes", len(data))

	resp := UploadResponse{Filename: hdr.Filename}
	if kind == media.Voice {
		resp.AudioID = string(id)
	} else {
		resp.PhotoID = string(id)
	}
	writeJSON(w, http.StatusOK, resp)
}
