// Package openai reads images with a vision chat model and transcribes
// audio with the Whisper endpoint.
package openai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"media-relay/api/internal/engine"
	"media-relay/api/internal/util"
)

const defaultBaseURL = "https://api.openai.com/v1"

type Engine struct {
	APIKey          string
	Model           string
	TranscribeModel string

	baseURL string
	httpc   *http.Client
}

var (
	_ engine.Recognizer  = (*Engine)(nil)
	_ engine.Transcriber = (*Engine)(nil)
)

func New(key, model, transcribeModel string) *Engine {
	if model == "" {
		model = "gpt-4o-mini"
	}
	if transcribeModel == "" {
		transcribeModel = "whisper-1"
	}
	return &Engine{
		APIKey:          strings.TrimSpace(key),
		Model:           model,
		TranscribeModel: transcribeModel,
		baseURL:         defaultBaseURL,
		httpc:           &http.Client{Timeout: 5 * time.Minute},
	}
}

func (e *Engine) Name() string { return "openai" }

func (e *Engine) GetModel() string { return e.Model }

const ocrSystem = `You are an OCR module. Extract ALL text visible on the image verbatim:
keep line breaks, order, punctuation and the original language. Do not translate,
summarize or explain. If there is no text, return an empty string.
Return only JSON: {"text": string, "confidence": number between 0 and 1}`

func (e *Engine) Recognize(ctx context.Context, image []byte) (engine.Recognition, error) {
	if e.APIKey == "" {
		return engine.Recognition{}, errors.New("OPENAI_API_KEY is empty")
	}
	mime := util.SniffImageMIME(image)
	if mime == "" {
		return engine.Recognition{}, engine.ErrUnsupportedFormat
	}
	dataURL := "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(image)

	body := map[string]any{
		"model": e.Model,
		"messages": []any{
			map[string]any{"role": "system", "content": ocrSystem},
			map[string]any{
				"role": "user",
				"content": []any{
					map[string]any{"type": "text", "text": "Extract the text from this image."},
					map[string]any{"type": "image_url", "image_url": map[string]any{"url": dataURL, "detail": "high"}},
				},
			},
		},
		"temperature":     0,
		"response_format": map[string]any{"type": "json_object"},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return engine.Recognition{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return engine.Recognition{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	var raw struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := e.do(req, "ocr", &raw); err != nil {
		return engine.Recognition{}, err
	}
	if len(raw.Choices) == 0 {
		return engine.Recognition{}, fmt.Errorf("openai ocr: empty response")
	}
	out := util.StripCodeFences(raw.Choices[0].Message.Content)

	var r struct {
		Text       string  `json:"text"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(out), &r); err != nil {
		// модель ответила текстом, а не JSON
		return engine.Recognition{Text: strings.TrimSpace(out)}, nil
	}
	conf := r.Confidence
	if conf < 0 || conf > 1 {
		conf = 0
	}
	return engine.Recognition{Text: strings.TrimSpace(r.Text), Confidence: conf}, nil
}

var audioExt = map[string]string{
	"audio/ogg":  "ogg",
	"audio/flac": "flac",
	"audio/wav":  "wav",
	"audio/mpeg": "mp3",
	"audio/mp4":  "m4a",
}

func (e *Engine) Transcribe(ctx context.Context, audio []byte) (engine.Transcription, error) {
	if e.APIKey == "" {
		return engine.Transcription{}, errors.New("OPENAI_API_KEY is empty")
	}
	mime := util.SniffAudioMIME(audio)
	ext, ok := audioExt[mime]
	if !ok {
		return engine.Transcription{}, engine.ErrUnsupportedFormat
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	_ = mw.WriteField("model", e.TranscribeModel)
	_ = mw.WriteField("response_format", "json")
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="voice.%s"`, ext))
	h.Set("Content-Type", mime)
	part, err := mw.CreatePart(h)
	if err != nil {
		return engine.Transcription{}, err
	}
	if _, err := part.Write(audio); err != nil {
		return engine.Transcription{}, err
	}
	if err := mw.Close(); err != nil {
		return engine.Transcription{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/audio/transcriptions", &body)
	if err != nil {
		return engine.Transcription{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out struct {
		Text string `json:"text"`
	}
	if err := e.do(req, "transcribe", &out); err != nil {
		return engine.Transcription{}, err
	}
	return engine.Transcription{Text: strings.TrimSpace(out.Text)}, nil
}

func (e *Engine) do(req *http.Request, op string, out any) error {
	req.Header.Set("Authorization", "Bearer "+e.APIKey)
	resp, err := e.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		x, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("openai %s %d: %s", op, resp.StatusCode, strings.TrimSpace(string(x)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
