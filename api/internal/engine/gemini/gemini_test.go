package gemini

import (
	"context"
	"errors"
	"testing"

	"github.com/google/generative-ai-go/genai"

	"media-relay/api/internal/engine"
)

func TestParseReply(t *testing.T) {
	tests := []struct {
		in   string
		want reply
	}{
		{`{"text":"HELLO","confidence":0.93}`, reply{Text: "HELLO", Confidence: 0.93}},
		{"```json\n{\"text\":\"fenced\"}\n```", reply{Text: "fenced"}},
		{"just prose", reply{Text: "just prose"}},
	}
	for _, tt := range tests {
		if got := parseReply(tt.in); got != tt.want {
			t.Errorf("parseReply(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}

func TestFirstText(t *testing.T) {
	resp := &genai.GenerateContentResponse{Candidates: []*genai.Candidate{
		{Content: nil},
		{Content: &genai.Content{Parts: []genai.Part{genai.Blob{MIMEType: "x"}, genai.Text("second")}}},
	}}
	if got := firstText(resp); got != "second" {
		t.Errorf("firstText = %q", got)
	}
	if got := firstText(nil); got != "" {
		t.Errorf("firstText(nil) = %q", got)
	}
}

func TestRejectsUnknownFormats(t *testing.T) {
	e := New("key", "gemini-2.5-flash")
	if _, err := e.Recognize(context.Background(), []byte("plain text")); !errors.Is(err, engine.ErrUnsupportedFormat) {
		t.Errorf("Recognize err = %v", err)
	}
	if _, err := e.Transcribe(context.Background(), []byte("plain text")); !errors.Is(err, engine.ErrUnsupportedFormat) {
		t.Errorf("Transcribe err = %v", err)
	}
}

func TestMissingKey(t *testing.T) {
	e := New("", "gemini-2.5-flash")
	_, err := e.Recognize(context.Background(), []byte{0xFF, 0xD8, 0xFF})
	if err == nil || err.Error() != "GEMINI_API_KEY is empty" {
		t.Errorf("err = %v", err)
	}
}

func TestClamp01(t *testing.T) {
	for in, want := range map[float64]float64{-1: 0, 0.5: 0.5, 7: 1} {
		if got := clamp01(in); got != want {
			t.Errorf("clamp01(%v) = %v", in, got)
		}
	}
}
