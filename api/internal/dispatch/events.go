package dispatch

import (
	"context"
	"strings"

	"media-relay/api/internal/media"
)

// Event is one inbound transport event: PhotoUpload, VoiceUpload or Command.
type Event interface {
	from() media.UserID
}

// Loader fetches the uploaded bytes. It runs inside the user's queue, so a
// slow download never reorders that user's events.
type Loader func(ctx context.Context) ([]byte, error)

// Bytes is a Loader for data already in memory.
func Bytes(b []byte) Loader {
	return func(context.Context) ([]byte, error) { return b, nil }
}

type PhotoUpload struct {
	User media.UserID
	Chat int64
	Load Loader
}

type VoiceUpload struct {
	User media.UserID
	Chat int64
	Load Loader
}

type Command struct {
	User media.UserID
	Chat int64
	Name string // без слэша, например "ocr"
}

func (e PhotoUpload) from() media.UserID { return e.User }
func (e VoiceUpload) from() media.UserID { return e.User }
func (e Command) from() media.UserID     { return e.User }

type CommandKind int

const (
	CmdUnknown CommandKind = iota
	CmdStart
	CmdHelp
	CmdHello
	CmdOCR
	CmdTranscribe
)

// ParseCommand accepts "ocr", "/ocr", "/ocr@SomeBot" and ignores arguments.
func ParseCommand(s string) CommandKind {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, " \t\n"); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimPrefix(s, "/")
	if i := strings.IndexByte(s, '@'); i >= 0 {
		s = s[:i]
	}
	switch strings.ToLower(s) {
	case "start":
		return CmdStart
	case "help":
		return CmdHelp
	case "hello":
		return CmdHello
	case "ocr":
		return CmdOCR
	case "transcribe":
		return CmdTranscribe
	}
	return CmdUnknown
}
