package telegram

import (
	"log/slog"
	"net/http"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// WebhookPath is the secret path for the bot's webhook.
func WebhookPath(token string) string {
	return "/webhook/" + shortHash(token)
}

// RegisterWebhook points Telegram at baseURL+path, dropping pending updates.
func RegisterWebhook(bot *tgbotapi.BotAPI, baseURL, path string) error {
	public := strings.TrimRight(baseURL, "/") + path
	wh, err := tgbotapi.NewWebhook(public)
	if err != nil {
		return err
	}
	wh.DropPendingUpdates = true
	_, err = bot.Request(wh)
	return err
}

// WebhookHandler decodes an update from the request body and passes it on.
// Telegram only needs a fast 200; the dispatcher does the work.
func WebhookHandler(bot *tgbotapi.BotAPI, handle func(tgbotapi.Update), logger *slog.Logger) http.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		upd, err := bot.HandleUpdate(r)
		if err != nil {
			logger.Warn("webhook: bad update", "err", err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		handle(*upd)
		w.WriteHeader(http.StatusOK)
	}
}

func shortHash(s string) string {
	// лёгкий хэш для пути вебхука (не крипто, но стабильно для токена)
	h := uint64(1469598103934665603)
	const prime = 1099511628211
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= prime
	}
	const hexdigits = "0123456789abcdef"
	out := make([]byte, 16)
	for i := 15; i >= 0; i-- {
		out[i] = hexdigits[h&0xF]
		h >>= 4
	}
	return string(out)
}
