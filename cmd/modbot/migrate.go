package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/whisper/modbot/internal/archive"
	"github.com/whisper/modbot/internal/config"
)

var migrateCmd = &cobra.Command{
	Use:       "migrate [up|down]",
	Short:     "Apply or roll back the archive schema",
	Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"up", "down"},
	RunE: func(cmd *cobra.Command, args []string) error {
		up := len(args) == 0 || args[0] == "up"

		logger, err := newLogger()
		if err != nil {
			return err
		}
		defer logger.Sync() //nolint:errcheck

		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		if cfg.Database.URL == "" {
			return errors.New("database.url is not set")
		}

		if err := archive.Migrate(cfg.Database.URL, up); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		logger.Info("migration complete", zap.Bool("up", up))
		return nil
	},
}
