// Package speech transcribes voice clips with Google Cloud Speech-to-Text.
package speech

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/auth/credentials"
	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/api/option"

	"media-relay/api/internal/engine"
	"media-relay/api/internal/util"
)

// recognizer is the subset of *speech.Client the engine uses.
type recognizer interface {
	Recognize(ctx context.Context, req *speechpb.RecognizeRequest, opts ...gax.CallOption) (*speechpb.RecognizeResponse, error)
	Close() error
}

// Engine represents a [engine.Transcriber] backed by the Speech-to-Text API.
type Engine struct {
	client   recognizer
	language string
}

var _ engine.Transcriber = (*Engine)(nil)

// New creates an [Engine] using application default credentials.
func New(ctx context.Context, language string) (*Engine, error) {
	creds, err := credentials.DetectDefault(&credentials.DetectOptions{
		Scopes: speech.DefaultAuthScopes(),
	})
	if err != nil {
		return nil, fmt.Errorf("get credentials for speech: %w", err)
	}
	client, err := speech.NewClient(ctx, option.WithAuthCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("create gRPC speech client: %w", err)
	}
	if language == "" {
		language = "en-US"
	}
	return &Engine{client: client, language: language}, nil
}

func (e *Engine) Name() string { return "speech" }

func (e *Engine) Close() error { return e.client.Close() }

// Transcribe sends the clip for synchronous recognition and joins the best
// alternative of every result.
func (e *Engine) Transcribe(ctx context.Context, audio []byte) (engine.Transcription, error) {
	config, err := e.config(audio)
	if err != nil {
		return engine.Transcription{}, err
	}
	resp, err := e.client.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: config,
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: audio},
		},
	})
	if err != nil {
		return engine.Transcription{}, err
	}

	var parts []string
	for _, result := range resp.GetResults() {
		alts := result.GetAlternatives()
		if len(alts) == 0 {
			continue
		}
		if t := strings.TrimSpace(alts[0].GetTranscript()); t != "" {
			parts = append(parts, t)
		}
	}
	return engine.Transcription{Text: strings.Join(parts, " ")}, nil
}

// config picks the encoding from the container. Telegram voice messages are
// Opus in Ogg at 48 kHz.
func (e *Engine) config(audio []byte) (*speechpb.RecognitionConfig, error) {
	cfg := &speechpb.RecognitionConfig{
		LanguageCode:               e.language,
		EnableAutomaticPunctuation: true,
	}
	switch util.SniffAudioMIME(audio) {
	case "audio/ogg":
		cfg.Encoding = speechpb.RecognitionConfig_OGG_OPUS
		cfg.SampleRateHertz = 48000
	case "audio/flac":
		cfg.Encoding = speechpb.RecognitionConfig_FLAC
	case "audio/wav":
		cfg.Encoding = speechpb.RecognitionConfig_LINEAR16
	default:
		return nil, engine.ErrUnsupportedFormat
	}
	return cfg, nil
}
