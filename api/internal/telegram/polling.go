package telegram

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Updater is the long-polling side of *tgbotapi.BotAPI.
type Updater interface {
	GetUpdates(config tgbotapi.UpdateConfig) ([]tgbotapi.Update, error)
}

var reRetryAfter = regexp.MustCompile(`(?i)retry after\s+(\d+)`)

func retryDelayFromError(err error) time.Duration {
	if err == nil {
		return 0
	}
	s := strings.ToLower(err.Error())
	if strings.Contains(s, "too many requests") { // HTTP 429 от Telegram
		if m := reRetryAfter.FindStringSubmatch(s); len(m) == 2 {
			if n, _ := strconv.Atoi(m[1]); n > 0 {
				return time.Duration(n) * time.Second
			}
		}
		return 3 * time.Second
	}
	var ne net.Error
	if errors.As(err, &ne) {
		if ne.Timeout() {
			return 2 * time.Second
		}
	}
	return 1 * time.Second
}

// Poller is a long-polling loop with rate-limit aware backoff. It never
// exits on transport errors, only when ctx is done.
type Poller struct {
	Bot     Updater
	Timeout int // long polling timeout, seconds
	Logger  *slog.Logger

	BaseDelay time.Duration
	MaxDelay  time.Duration
	Idle      time.Duration
}

func (p *Poller) Run(ctx context.Context, handle func(tgbotapi.Update)) {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	baseDelay := orDuration(p.BaseDelay, 1*time.Second)
	maxDelay := orDuration(p.MaxDelay, 15*time.Second)
	idle := orDuration(p.Idle, 200*time.Millisecond)
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 30
	}

	offset := 0
	for {
		if ctx.Err() != nil {
			logger.Info("polling: context cancelled")
			return
		}

		u := tgbotapi.NewUpdate(offset)
		u.Timeout = timeout

		updates, err := p.Bot.GetUpdates(u)
		if err != nil {
			d := retryDelayFromError(err)
			if d < baseDelay {
				d = baseDelay
			}
			if d > maxDelay {
				d = maxDelay
			}
			logger.Warn("polling error", "err", err, "retry_in", d)
			sleep(ctx, d)
			continue
		}

		for _, upd := range updates {
			if upd.UpdateID >= offset {
				offset = upd.UpdateID + 1
			}
			handle(upd)
		}

		if len(updates) == 0 {
			sleep(ctx, idle)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func orDuration(d, def time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return def
}
