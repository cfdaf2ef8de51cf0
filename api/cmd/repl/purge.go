package main

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/spf13/cobra"

	"media-relay/api/internal/app"
	"media-relay/api/internal/artifact"
	"media-relay/api/internal/config"
)

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete stored artifacts older than a given age",
	Long: heredoc.Doc(`
		Delete stored artifacts older than a given age, once.

		Examples:
		  repl purge --older-than 72h
		  ARTIFACT_STORE=sqlite ARTIFACT_DIR=/var/lib/relay repl purge --older-than 168h
	`),
	RunE: func(cmd *cobra.Command, args []string) error {
		olderThan, _ := cmd.Flags().GetDuration("older-than")
		if olderThan <= 0 {
			return fmt.Errorf("--older-than is required and must be positive")
		}

		cfg, err := config.Load(config.RoleService)
		if err != nil {
			return err
		}
		if cfg.ArtifactStore == "memory" {
			return fmt.Errorf("purge needs a persistent ARTIFACT_STORE, got memory")
		}

		logger := slog.New(slog.NewTextHandler(io.Discard, nil))
		store, closeStore, err := app.OpenStore(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		if closeStore != nil {
			defer closeStore()
		}
		p, ok := store.(artifact.Purger)
		if !ok {
			return fmt.Errorf("store %q cannot purge", cfg.ArtifactStore)
		}

		n, err := p.PurgeOlderThan(cmd.Context(), olderThan)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "purged %d artifacts older than %s\n", n, olderThan.Round(time.Second))
		return nil
	},
}

func init() {
	purgeCmd.Flags().Duration("older-than", 0, "maximum artifact age to keep, e.g. 72h")
	rootCmd.AddCommand(purgeCmd)
}
