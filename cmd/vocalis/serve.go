package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/vocalis/internal/app"
	"github.com/MrWong99/vocalis/internal/config"
)

const shutdownTimeout = 15 * time.Second

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the job API until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			sigCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			reg := config.NewRegistry()
			registerBuiltinRecognizers(reg)

			slog.Info("vocalis starting",
				"config", ctx.configFlag,
				"listen_addr", cfg.Server.ListenAddr,
				"log_level", cfg.Server.LogLevel,
				"recognizer", cfg.Recognizer.Name,
				"fallbacks", len(cfg.Recognizer.Fallbacks),
			)

			application, err := app.New(sigCtx, cfg, app.WithRegistry(reg))
			if err != nil {
				return fmt.Errorf("initialise application: %w", err)
			}

			if ctx.configFlag != "" {
				w, err := config.NewWatcher(ctx.configFlag, func(_, _ *config.Config, d config.ConfigDiff) {
					applyReload(ctx.level, d)
				})
				if err != nil {
					slog.Warn("config watcher disabled", "err", err)
				} else {
					go w.Run(sigCtx)
				}
			}

			slog.Info("server ready, press Ctrl+C to shut down")
			runErr := application.Run(sigCtx)
			if runErr != nil && !errors.Is(runErr, context.Canceled) {
				slog.Error("run error", "err", runErr)
			}

			slog.Info("shutdown signal received, stopping")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := application.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("shutdown: %w", err)
			}
			slog.Info("goodbye")
			return runErr
		},
	}
}

// applyReload applies the parts of a config change that take effect while
// running and reports the rest.
func applyReload(level *slog.LevelVar, d config.ConfigDiff) {
	if d.LogLevelChanged {
		level.Set(slogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changed, restart required to apply", "sections", d.RestartRequired)
	}
}
