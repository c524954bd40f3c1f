package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/jacokyle01/puzzle-miner/config"
)

// app is the state shared by every subcommand once the root has loaded
// configuration.
type app struct {
	envFile  string
	logLevel string

	cfg    config.Config
	logger *slog.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:           "puzzle-miner",
		Short:         "Mine training puzzles from played chess games",
		Long:          "puzzle-miner replays games against a UCI engine, classifies every move and extracts the mistakes as puzzles.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
	}

	cmd.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	cmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level override (debug|info|warn|error)")

	cmd.AddCommand(newServerCommand(a))
	cmd.AddCommand(newWorkerCommand(a))
	cmd.AddCommand(newExtractCommand(a))
	return cmd
}

func (a *app) load() error {
	if a.envFile != "" {
		if err := godotenv.Load(a.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("loading %s: %w", a.envFile, err)
		}
	}
	if a.logLevel != "" {
		os.Setenv("PUZZLER_LOG_LEVEL", a.logLevel)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(a.logger)
	return nil
}
