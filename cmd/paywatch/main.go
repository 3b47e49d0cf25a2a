// Command paywatch watches Solana receiving addresses and settles invoices
// whose reference appears in a payment memo. It loads configuration, validates
// it, wires dependencies, sets up signal handling, and runs the selected
// subcommand.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/paywatch/internal/app"
	"github.com/alanyoungcy/paywatch/internal/config"
)

var version = "dev"

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:           "paywatch",
		Short:         "Reconcile invoices against on-chain Solana payments",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("PAYWATCH_CONFIG"), "path to a TOML configuration file; defaults and environment only when empty")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(invoiceCmd())
	rootCmd.AddCommand(watermarkCmd())
	rootCmd.AddCommand(eventsCmd())
	rootCmd.AddCommand(configCmd())

	// Setup signal handling for graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		stop()
		os.Exit(1)
	}
}

// loadConfig reads and validates the configuration, then installs the JSON
// logger at the configured level. One-shot commands log to stderr so their
// output on stdout stays parseable.
func loadConfig(logOut io.Writer) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config %s: %w", configPath, err)
	}
	logger := newLogger(logOut, cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// newApp loads the configuration and builds the application.
func newApp(logOut io.Writer) (*app.App, *slog.Logger, error) {
	cfg, logger, err := loadConfig(logOut)
	if err != nil {
		return nil, nil, err
	}
	return app.New(cfg, logger), logger, nil
}

func newLogger(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: lvl,
	}))
	slog.SetDefault(logger)
	return logger
}
