// Package main is the entry point for the newsletter digester.
package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/shineum/newsletter-digest/internal/config"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("failed to read .env file", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	err := newRootCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "newsletter-digest",
		Short: "Summarize newsletter emails and publish the briefings",
		Long: `newsletter-digest searches a Gmail mailbox for newsletters, enriches short
ones with the linked article, asks an LLM for a markdown briefing and
publishes it to Notion, a directory, stdout or email. Handled messages are
labeled so they are never processed twice.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML configuration file (optional)")

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Process the current candidates once and exit",
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := loadConfig(configPath)
				if err != nil {
					return err
				}
				return runOnce(cmd.Context(), cfg)
			},
		},
		newPollCommand(&configPath),
		newAuthCommand(&configPath),
	)

	return root
}

func newPollCommand(configPath *string) *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "poll",
		Short: "Process candidates on the configured interval until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if interval > 0 {
				cfg.Poller.Interval = interval
			}
			return poll(cmd.Context(), cfg)
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 0, "override POLL_INTERVAL")
	return cmd
}

func newAuthCommand(configPath *string) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Authorize Gmail access and store the OAuth token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfigUnvalidated(*configPath)
			if err != nil {
				return err
			}
			return authorize(cmd.Context(), cfg, listen, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "127.0.0.1:0", "loopback address for the OAuth redirect")
	return cmd
}

// loadConfig loads configuration from the specified path (YAML + env override)
// or from environment variables only if no path is given, sets up logging
// and validates the result.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := loadConfigUnvalidated(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		return nil, err
	}
	return cfg, nil
}

func loadConfigUnvalidated(path string) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path != "" {
		cfg, err = config.LoadFromFile(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		return nil, err
	}
	setupLogger(cfg.Logging.Level)
	return cfg, nil
}

// setupLogger configures the global slog logger with JSON output and the
// specified log level. Logs go to stderr so the stdout publisher's output
// stays readable.
func setupLogger(level string) {
	var logLevel slog.Level

	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}
