// Package telegram adapts Telegram updates to dispatcher events and sends
// replies back.
package telegram

import (
	"context"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"media-relay/api/internal/dispatch"
	"media-relay/api/internal/media"
)

// FileURLer resolves a Telegram file id to a download URL. *tgbotapi.BotAPI
// implements it.
type FileURLer interface {
	GetFileDirectURL(fileID string) (string, error)
}

// Submitter accepts events. *dispatch.Dispatcher implements it.
type Submitter interface {
	Submit(ctx context.Context, ev dispatch.Event)
}

type Router struct {
	Files      FileURLer
	Dispatcher Submitter
	Logger     *slog.Logger
}

// HandleUpdate converts upd and hands it to the dispatcher. Updates that are
// neither commands nor media are ignored.
func (r *Router) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	ev, ok := ToEvent(upd, r.Files)
	if !ok {
		return
	}
	r.logger().DebugContext(ctx, "update", "update_id", upd.UpdateID, "event", eventName(ev))
	r.Dispatcher.Submit(ctx, ev)
}

func (r *Router) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

// ToEvent maps a message to a dispatcher event. Bytes are not downloaded
// here: the event carries a loader that runs in the user's queue.
func ToEvent(upd tgbotapi.Update, files FileURLer) (dispatch.Event, bool) {
	msg := upd.Message
	if msg == nil || msg.Chat == nil {
		return nil, false
	}
	chat := msg.Chat.ID
	// в каналах From пустой, тогда ключом служит чат
	user := media.UserID(chat)
	if msg.From != nil {
		user = media.UserID(msg.From.ID)
	}

	switch {
	case msg.IsCommand():
		return dispatch.Command{User: user, Chat: chat, Name: msg.Command()}, true
	case len(msg.Photo) > 0:
		// берём самое большое превью
		ph := msg.Photo[len(msg.Photo)-1]
		return dispatch.PhotoUpload{User: user, Chat: chat, Load: fileLoader(files, ph.FileID)}, true
	case msg.Document != nil && strings.HasPrefix(msg.Document.MimeType, "image/"):
		return dispatch.PhotoUpload{User: user, Chat: chat, Load: fileLoader(files, msg.Document.FileID)}, true
	case msg.Voice != nil:
		return dispatch.VoiceUpload{User: user, Chat: chat, Load: fileLoader(files, msg.Voice.FileID)}, true
	case msg.Audio != nil:
		return dispatch.VoiceUpload{User: user, Chat: chat, Load: fileLoader(files, msg.Audio.FileID)}, true
	}
	return nil, false
}

func eventName(ev dispatch.Event) string {
	switch e := ev.(type) {
	case dispatch.PhotoUpload:
		return "photo"
	case dispatch.VoiceUpload:
		return "voice"
	case dispatch.Command:
		return "/" + e.Name
	}
	return "unknown"
}
