// Package app builds the store, engines and logger both binaries share.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"media-relay/api/internal/artifact"
	"media-relay/api/internal/config"
	"media-relay/api/internal/engine"
	"media-relay/api/internal/engine/gemini"
	"media-relay/api/internal/engine/openai"
	"media-relay/api/internal/engine/remote"
	"media-relay/api/internal/engine/speech"
	"media-relay/api/internal/engine/yandex"
)

// NewLogger installs a text handler on w at the configured level and
// returns it.
func NewLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: cfg.Level()}))
	slog.SetDefault(logger)
	return logger
}

type Resources struct {
	Store   artifact.Store
	Engines *engine.Adapter
	// Remote is set when at least one engine forwards to the processing
	// service.
	Remote *remote.Client

	closers []func() error
}

// Ping checks the store when it supports it.
func (r *Resources) Ping(ctx context.Context) error {
	if p, ok := r.Store.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Close releases everything Open acquired, last opened first.
func (r *Resources) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		errs = append(errs, r.closers[i]())
	}
	r.closers = nil
	return errors.Join(errs...)
}

func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Resources, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Resources{}

	store, closeStore, err := OpenStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	r.Store = store
	if closeStore != nil {
		r.closers = append(r.closers, closeStore)
	}

	if err := r.openEngines(ctx, cfg, logger); err != nil {
		_ = r.Close()
		return nil, err
	}
	return r, nil
}

func OpenStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (artifact.Store, func() error, error) {
	switch cfg.ArtifactStore {
	case "", "memory":
		return artifact.NewMemoryStore(), nil, nil
	case "dir":
		s, err := artifact.OpenDir(cfg.ArtifactDir)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("artifact store", "kind", "dir", "root", cfg.ArtifactDir)
		return s, nil, nil
	case "sqlite":
		s, err := artifact.OpenSQLite(ctx, cfg.ArtifactDir)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("artifact store", "kind", "sqlite", "dir", cfg.ArtifactDir)
		return s, s.Close, nil
	case "postgres":
		s, err := artifact.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("db connected", "dsn", config.SafeDSNSummary(cfg.DatabaseURL))
		return s, s.Close, nil
	case "gcs":
		s, err := artifact.NewGCSStore(ctx, cfg.GCSBucket, "")
		if err != nil {
			return nil, nil, err
		}
		logger.Info("artifact store", "kind", "gcs", "bucket", cfg.GCSBucket)
		return s, s.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown artifact store %q", cfg.ArtifactStore)
}

func (r *Resources) openEngines(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	a := &engine.Adapter{
		OCRTimeout: cfg.OCRTimeout,
		STTTimeout: cfg.STTTimeout,
		Logger:     logger,
	}

	var gem *gemini.Engine
	geminiEngine := func() *gemini.Engine {
		if gem == nil {
			gem = gemini.New(cfg.GeminiAPIKey, cfg.GeminiModel)
		}
		return gem
	}
	var oai *openai.Engine
	openaiEngine := func() *openai.Engine {
		if oai == nil {
			oai = openai.New(cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.OpenAISTTModel)
		}
		return oai
	}
	remoteClient := func() *remote.Client {
		if r.Remote == nil {
			r.Remote = remote.New(cfg.ReplURL)
		}
		return r.Remote
	}

	switch cfg.OCREngine {
	case "remote":
		// препроцессинг делает сам сервис
		a.OCR = remoteClient()
	case "gemini":
		a.OCR = geminiEngine()
	case "openai":
		a.OCR = openaiEngine()
	case "yandex":
		a.OCR = yandex.New(cfg.YCOAuthToken, cfg.YCFolderID, cfg.OCRLangs)
	default:
		return fmt.Errorf("unknown OCR engine %q", cfg.OCREngine)
	}
	if cfg.OCREngine != "remote" && cfg.OCRPreprocess {
		a.Preprocess = engine.PrepareImage
	}

	switch cfg.STTEngine {
	case "remote":
		a.STT = remoteClient()
	case "gemini":
		a.STT = geminiEngine()
	case "openai":
		a.STT = openaiEngine()
	case "speech":
		s, err := speech.New(ctx, cfg.STTLanguage)
		if err != nil {
			return err
		}
		r.closers = append(r.closers, s.Close)
		a.STT = s
	default:
		return fmt.Errorf("unknown STT engine %q", cfg.STTEngine)
	}

	logger.Info("engines", "ocr", a.OCR.Name(), "stt", a.STT.Name(), "preprocess", a.Preprocess != nil)
	r.Engines = a
	return nil
}
