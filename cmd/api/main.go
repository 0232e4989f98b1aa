package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"backoffice/api/internal/config"
	"backoffice/api/internal/logging"
	"backoffice/api/internal/store"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "backoffice-api",
	Short: "Back office API for the marketing site",
	Long: `backoffice-api serves the admin and public APIs of the marketing site:
news, careers, complaints and the expense approval workflow.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml); environment variables override it")
	rootCmd.AddCommand(serveCmd, migrateCmd, escalateCmd, userCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// cliEnv holds what every subcommand needs: validated config, a logger and
// an open database.
type cliEnv struct {
	cfg    config.Config
	logger *zap.Logger
	db     *sql.DB
}

func openEnv(ctx context.Context) (*cliEnv, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		_ = logger.Sync()
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	return &cliEnv{cfg: cfg, logger: logger, db: db}, nil
}

func (r *cliEnv) Close() {
	_ = r.db.Close()
	_ = r.logger.Sync()
}
