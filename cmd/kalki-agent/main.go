// Command kalki-agent watches the Kalki resolution contract for requests
// assigned to this agent, resolves them from external evidence and commits
// the outcome on-chain. It can also register the agent or print its stats.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/sajjadsiam/kalki-protocol/internal/app"
	"github.com/sajjadsiam/kalki-protocol/internal/config"
)

func main() {
	flags := pflag.NewFlagSet("kalki-agent", pflag.ExitOnError)
	configPath := flags.StringP("config", "c", "config.toml", "path to configuration file")
	mode := flags.StringP("mode", "m", "", "run mode: agent, register or stats (overrides config)")
	stake := flags.String("stake", "", "BNB to stake in register mode (overrides agent.register_stake)")
	_ = flags.Parse(os.Args[1:])

	logger := newLogger("info")
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	if *mode != "" {
		cfg.Mode = strings.ToLower(*mode)
	}
	if *stake != "" {
		cfg.Agent.RegisterStake = *stake
	}

	logger = newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Debug("configuration", slog.Any("config", config.RedactedConfig(cfg)))

	application := app.New(cfg, logger)
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("exited with error", slog.String("error", err.Error()))
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		application.Close()
		os.Exit(1)
	}
	logger.Info("kalki agent stopped")
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
