package main

import (
	"context"
	"errors"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"media-relay/api/internal/app"
	"media-relay/api/internal/artifact"
	"media-relay/api/internal/config"
	"media-relay/api/internal/handle"
	"media-relay/api/internal/httpserver"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: heredoc.Doc(`
		Run the HTTP API.

		Routes:
		  GET  /health
		  POST /photos/upload            multipart "file", optional "owner"
		  GET  /photos/{id}/analyse/ocr
		  POST /audio/upload             multipart "file", optional "owner"
		  GET  /audio/{id}/transcribe
	`),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(config.RoleService)
		if err != nil {
			return err
		}
		if port, _ := cmd.Flags().GetString("port"); port != "" {
			cfg.Port = port
		}
		logger := app.NewLogger(cfg, os.Stderr)
		if err := cfg.Validate(); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		res, err := app.Open(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer res.Close()

		h := handle.New(res.Store, res.Engines, logger)
		mux := chi.NewRouter()
		mux.Get("/healthz", httpserver.Healthz(res.Ping))
		mux.Mount("/", h.Routes())

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return httpserver.Run(gctx, net.JoinHostPort("0.0.0.0", cfg.Port), mux, logger)
		})
		if p, ok := res.Store.(artifact.Purger); ok && cfg.ArtifactRetention > 0 {
			g.Go(func() error {
				artifact.RunJanitor(gctx, p, cfg.ArtifactRetention, 0, logger)
				return nil
			})
		}
		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().String("port", "", "listen port (overrides PORT)")
	rootCmd.AddCommand(serveCmd)
}
