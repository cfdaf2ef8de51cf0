package dispatch

import (
	"fmt"

	"media-relay/api/internal/engine"
	"media-relay/api/internal/media"
	"media-relay/api/internal/pipeline"
	"media-relay/api/internal/util"
)

// maxMessageLen keeps replies under Telegram's 4096 limit.
const maxMessageLen = 3900

const HelpText = "Available commands:\n\n" +
	"/hello - check if the REPL service is up\n" +
	"/ocr - extract text from your last uploaded photo\n" +
	"/transcribe - transcribe your last voice message\n" +
	"/help - show this help message\n" +
	"/start - show this help message\n\n" +
	"To use OCR: send a photo, then run /ocr\n" +
	"To transcribe: send a voice message, then run /transcribe"

func startText() string { return "Hello! " + HelpText }

func unknownCommandText(name string) string {
	return fmt.Sprintf("Unknown command /%s.\n\n%s", name, HelpText)
}

func healthText(status string, err error) string {
	if err != nil {
		return fmt.Sprintf("REPL service is unreachable: %v", err)
	}
	return "REPL service is up. Status: " + status
}

func uploadedText(kind media.Kind, id media.ArtifactID) string {
	if kind == media.Voice {
		return fmt.Sprintf("Voice message uploaded. ID: %s\n\nUse /transcribe to transcribe it.", id)
	}
	return fmt.Sprintf("Photo uploaded. ID: %s\n\nUse /ocr to extract text from this photo.", id)
}

func uploadFailedText(kind media.Kind, err error) string {
	if kind == media.Voice {
		return fmt.Sprintf("Failed to upload voice message: %v", err)
	}
	return fmt.Sprintf("Failed to upload photo: %v", err)
}

// render is the only place an Outcome becomes text.
func render(cmd pipeline.Command, out pipeline.Outcome) string {
	switch o := out.(type) {
	case pipeline.Success:
		if o.Text == "" {
			if cmd == pipeline.Transcribe {
				return "No speech detected."
			}
			return "No text found in the image."
		}
		return util.Truncate(o.Text, maxMessageLen)
	case pipeline.NoArtifact:
		if o.Kind == media.Voice {
			return "No voice message uploaded yet. Send a voice message first."
		}
		return "No photo uploaded yet. Send a photo first."
	case pipeline.EngineFailure:
		prefix := "OCR failed"
		if o.Kind == media.Voice {
			prefix = "Transcription failed"
		}
		if publicDetail(o.Detail) {
			return prefix + ": " + o.Detail
		}
		return prefix + ". Please try again later."
	default:
		panic(fmt.Sprintf("dispatch: unhandled outcome %T", out))
	}
}

// publicDetail reports whether a failure detail is safe to show to users.
// Backend error strings stay in the logs.
func publicDetail(d string) bool {
	switch d {
	case string(engine.ReasonTimeout), string(engine.ReasonEmpty), string(engine.ReasonUnsupported), pipeline.DetailArtifactMissing:
		return true
	}
	return false
}
