package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zoom-jaredallen/bolt-diy-zoom-sub000/internal/config"
	"github.com/zoom-jaredallen/bolt-diy-zoom-sub000/internal/observability"
)

var (
	configFile string
	verbose    bool
	logFormat  string

	cfg    *config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "planrun",
	Short: "planrun - automated multi-step plan execution",
	Long: `planrun executes approved multi-step plans under safety limits:
a step ceiling, a token budget, an error threshold, per-step timeouts,
and confirmation gates for dangerous actions.`,
	PersistentPreRunE: setup,
	SilenceUsage:      true,
	SilenceErrors:     true,
}

// Execute runs the root command with signal handling.
func Execute(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return rootCmd.ExecuteContext(ctx)
}

// setup loads configuration and builds the logger before any command runs.
func setup(cmd *cobra.Command, args []string) error {
	loaded, err := config.NewLoader().LoadWithDefaults(configFile)
	if err != nil {
		return err
	}
	cfg = loaded

	level := cfg.Logging.Level
	if verbose {
		level = "debug"
	}
	format := cfg.Logging.Format
	if logFormat != "" {
		format = logFormat
	}

	// Logs go to stderr; progress rendering owns stdout.
	logger, err = observability.NewLogger(os.Stderr, level, format)
	return err
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log output format (text or json)")

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newValidateCmd())
}
