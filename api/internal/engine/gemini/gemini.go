package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"media-relay/api/internal/engine"
	"media-relay/api/internal/util"
)

// Engine serves both OCR and transcription through a Gemini model.
type Engine struct {
	APIKey string
	Model  string
}

var (
	_ engine.Recognizer  = (*Engine)(nil)
	_ engine.Transcriber = (*Engine)(nil)
)

func New(apiKey, model string) *Engine {
	return &Engine{
		APIKey: strings.TrimSpace(apiKey),
		Model:  strings.TrimSpace(model),
	}
}

func (e *Engine) Name() string     { return "gemini" }
func (e *Engine) GetModel() string { return e.Model }

const ocrInstruction = `You are an OCR module. Extract ALL text visible on the image verbatim:
keep line breaks, order, punctuation and the original language. Do not translate,
summarize or explain. If there is no text, return an empty string.
Return STRICT JSON: {"text": string, "confidence": number between 0 and 1}`

const sttInstruction = `You are a speech-to-text module. Transcribe the audio verbatim in the
language that is spoken. Do not translate or summarize. If there is no speech,
return an empty string.
Return STRICT JSON: {"text": string}`

type reply struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

func (e *Engine) Recognize(ctx context.Context, image []byte) (engine.Recognition, error) {
	mime := util.SniffImageMIME(image)
	if mime == "" {
		return engine.Recognition{}, engine.ErrUnsupportedFormat
	}
	r, err := e.generate(ctx, ocrInstruction, "Extract the text from this image.", mime, image)
	if err != nil {
		return engine.Recognition{}, err
	}
	return engine.Recognition{Text: strings.TrimSpace(r.Text), Confidence: clamp01(r.Confidence)}, nil
}

func (e *Engine) Transcribe(ctx context.Context, audio []byte) (engine.Transcription, error) {
	mime := util.SniffAudioMIME(audio)
	if mime == "" {
		return engine.Transcription{}, engine.ErrUnsupportedFormat
	}
	r, err := e.generate(ctx, sttInstruction, "Transcribe this recording.", mime, audio)
	if err != nil {
		return engine.Transcription{}, err
	}
	return engine.Transcription{Text: strings.TrimSpace(r.Text)}, nil
}

func (e *Engine) generate(ctx context.Context, system, user, mime string, data []byte) (reply, error) {
	if e.APIKey == "" {
		return reply{}, errors.New("GEMINI_API_KEY is empty")
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(e.APIKey))
	if err != nil {
		return reply{}, err
	}
	defer cl.Close()

	m := cl.GenerativeModel(e.Model)
	if m == nil {
		return reply{}, fmt.Errorf("gemini: model is nil")
	}
	// Возвращаем строго JSON
	m.GenerationConfig = genai.GenerationConfig{
		Temperature:      ptrFloat32(0),
		ResponseMIMEType: "application/json",
	}
	m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}

	resp, err := m.GenerateContent(ctx, genai.Text(user), genai.Blob{MIMEType: mime, Data: data})
	if err != nil {
		return reply{}, err
	}
	txt := firstText(resp)
	if txt == "" {
		return reply{}, fmt.Errorf("gemini: empty response")
	}
	return parseReply(txt), nil
}

// parseReply tolerates models that answer with prose instead of JSON.
func parseReply(txt string) reply {
	txt = util.StripCodeFences(txt)
	var r reply
	if err := json.Unmarshal([]byte(txt), &r); err != nil {
		return reply{Text: txt}
	}
	return r
}

func firstText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	for _, c := range resp.Candidates {
		if c.Content == nil {
			continue
		}
		for _, p := range c.Content.Parts {
			if t, ok := p.(genai.Text); ok {
				return string(t)
			}
		}
	}
	return ""
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

func ptrFloat32(v float32) *float32 { return &v }
