/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hirelab/assessor/config"
	"github.com/hirelab/assessor/internal/db"
	"github.com/hirelab/assessor/internal/store"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "assessor",
	Short: "Assessment service for candidate screening",
	Long: `assessor issues assessment invites, runs timed candidate attempts,
executes code submissions in a sandbox and bills companies per completed
assessment.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging(config.LoadConfig())
	},
}

// Execute adds all child commands to the root command and runs it until an
// interrupt or SIGTERM cancels its context.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func setupLogging(cfg config.Config) {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.LogLevel)))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	if cfg.Env == config.EnvDev {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}

// openStore connects to postgres for commands that work on the database
// directly.
func openStore(ctx context.Context, cfg config.Config) (*sql.DB, *store.Store, error) {
	conn, err := db.Open(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return conn, store.New(conn), nil
}
