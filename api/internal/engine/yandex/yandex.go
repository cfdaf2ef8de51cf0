package yandex

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"media-relay/api/internal/engine"
	"media-relay/api/internal/util"
)

const recognizeURL = "https://ocr.api.cloud.yandex.net/ocr/v1/recognizeText"

// Engine is the Yandex Vision OCR backend.
type Engine struct {
	tokens   *tokenSource
	folderID string
	langs    []string
	model    string
	url      string
	httpc    *http.Client
}

var _ engine.Recognizer = (*Engine)(nil)

func New(oauth2Token, folderID string, langs []string) *Engine {
	if len(langs) == 0 {
		langs = []string{"en", "ru"}
	}
	httpc := &http.Client{Timeout: 60 * time.Second}
	return &Engine{
		tokens:   newTokenSource(httpc, oauth2Token),
		folderID: folderID,
		langs:    langs,
		model:    "page",
		url:      recognizeURL,
		httpc:    httpc,
	}
}

func (e *Engine) Name() string { return "yandex" }

type request struct {
	Content       string   `json:"content"`
	MimeType      string   `json:"mimeType,omitempty"`      // "JPEG" | "PNG" | "PDF"
	LanguageCodes []string `json:"languageCodes,omitempty"` // ["ru","en"]
	Model         string   `json:"model,omitempty"`         // e.g. "handwritten", "page"
}

type textAnnotation struct {
	FullText string `json:"fullText,omitempty"`
	Blocks   []struct {
		Lines []struct {
			Text string `json:"text,omitempty"`
		} `json:"lines,omitempty"`
	} `json:"blocks,omitempty"`
}

type response struct {
	Result *struct {
		TextAnnotation *textAnnotation `json:"textAnnotation,omitempty"`
	} `json:"result,omitempty"`
}

func (e *Engine) Recognize(ctx context.Context, image []byte) (engine.Recognition, error) {
	mime := util.SniffMimeForOCR(image)
	if mime == "" {
		return engine.Recognition{}, engine.ErrUnsupportedFormat
	}
	payload, _ := json.Marshal(request{
		Content:       base64.StdEncoding.EncodeToString(image),
		MimeType:      mime,
		LanguageCodes: e.langs,
		Model:         e.model,
	})

	resp, err := e.do(ctx, payload)
	if err != nil {
		return engine.Recognition{}, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		// один ретрай с новым IAM-токеном
		resp.Body.Close()
		e.tokens.Invalidate()
		if resp, err = e.do(ctx, payload); err != nil {
			return engine.Recognition{}, err
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		x, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return engine.Recognition{}, fmt.Errorf("yandex ocr %d: %s", resp.StatusCode, strings.TrimSpace(string(x)))
	}

	var out response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return engine.Recognition{}, err
	}
	return engine.Recognition{Text: out.text()}, nil
}

func (e *Engine) do(ctx context.Context, payload []byte) (*http.Response, error) {
	iamToken, err := e.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+iamToken)
	req.Header.Set("x-folder-id", e.folderID)
	return e.httpc.Do(req)
}

// text prefers fullText and falls back to joining block lines.
func (r *response) text() string {
	if r == nil || r.Result == nil || r.Result.TextAnnotation == nil {
		return ""
	}
	ta := r.Result.TextAnnotation
	if t := strings.TrimSpace(ta.FullText); t != "" {
		return t
	}
	var lines []string
	for _, b := range ta.Blocks {
		for _, l := range b.Lines {
			if s := strings.TrimSpace(l.Text); s != "" {
				lines = append(lines, s)
			}
		}
	}
	return strings.Join(lines, "\n")
}
