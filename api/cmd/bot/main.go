package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/go-chi/chi/v5"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/sync/errgroup"

	"media-relay/api/internal/app"
	"media-relay/api/internal/artifact"
	"media-relay/api/internal/config"
	"media-relay/api/internal/dispatch"
	"media-relay/api/internal/httpserver"
	"media-relay/api/internal/pipeline"
	"media-relay/api/internal/session"
	"media-relay/api/internal/telegram"
)

func main() {
	if err := run(); err != nil {
		slog.Error("bot stopped", "err", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(config.RoleBot)
	if err != nil {
		return err
	}
	logger := app.NewLogger(cfg, os.Stderr)
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := app.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer res.Close()

	// --- Telegram bot ---
	bot, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		return err
	}
	bot.Debug = false
	logger.Info("authorized", "bot", bot.Self.UserName)

	var health dispatch.HealthChecker
	if res.Remote != nil {
		health = res.Remote
	} else {
		// движки локальные, отвечаем за себя
		health = dispatch.HealthFunc(func(ctx context.Context) (string, error) {
			if err := res.Ping(ctx); err != nil {
				return "", err
			}
			return "ok (local engines)", nil
		})
	}

	d := dispatch.New(dispatch.Options{
		Store:    res.Store,
		Sessions: session.NewTable(),
		Pipeline: pipeline.New(res.Store, res.Engines),
		Health:   health,
		Sender:   &telegram.Sender{Bot: bot},
		Logger:   logger,
	})
	router := &telegram.Router{Files: bot, Dispatcher: d, Logger: logger}
	handle := func(upd tgbotapi.Update) { router.HandleUpdate(ctx, upd) }

	mux := chi.NewRouter()
	mux.Get("/healthz", httpserver.Healthz(res.Ping))

	g, gctx := errgroup.WithContext(ctx)

	// --- Choose mode: Webhook vs Polling ---
	if webhookURL := strings.TrimSpace(cfg.WebhookURL); webhookURL != "" {
		path := telegram.WebhookPath(bot.Token)
		if err := telegram.RegisterWebhook(bot, webhookURL, path); err != nil {
			return err
		}
		mux.Post(path, telegram.WebhookHandler(bot, handle, logger))
		logger.Info("webhook mode", "path", path)
	} else {
		// вебхук мог остаться от прошлого запуска, getUpdates с ним не работает
		if _, err := bot.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
			logger.Warn("delete webhook", "err", err)
		}
		poller := &telegram.Poller{Bot: bot, Logger: logger}
		g.Go(func() error {
			poller.Run(gctx, handle)
			return nil
		})
		logger.Info("polling mode")
	}

	g.Go(func() error {
		return httpserver.Run(gctx, net.JoinHostPort("0.0.0.0", cfg.Port), mux, logger)
	})

	if p, ok := res.Store.(artifact.Purger); ok && cfg.ArtifactRetention > 0 {
		g.Go(func() error {
			artifact.RunJanitor(gctx, p, cfg.ArtifactRetention, 0, logger)
			return nil
		})
	}

	err = g.Wait()
	d.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
