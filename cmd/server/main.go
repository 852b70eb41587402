package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/remodash/backend/internal/infrastructure/config"
	"github.com/remodash/backend/internal/infrastructure/logging"
	"github.com/remodash/backend/internal/infrastructure/server"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	flags := pflag.NewFlagSet("server", pflag.ContinueOnError)
	flags.StringVar(&cfg.Server.Port, "port", cfg.Server.Port, "server port")
	flags.StringVar(&cfg.Server.Host, "host", cfg.Server.Host, "listen host")
	flags.StringVar(&cfg.Terminal.Shell, "shell", cfg.Terminal.Shell, "preferred shell (default: $SHELL, then fallbacks)")
	flags.StringVar(&cfg.Terminal.Mode, "mode", cfg.Terminal.Mode, "process adapter: auto, pty or pipe")
	flags.StringVar(&cfg.Terminal.StatePath, "state", cfg.Terminal.StatePath, "session metadata file (empty disables persistence)")
	var dev bool
	flags.BoolVar(&dev, "dev", false, "development logging (console, debug level)")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	// LOG_DEV switches the encoding but keeps LOG_LEVEL.
	logCfg := logging.Config{Level: cfg.Logging.Level, Development: cfg.Logging.Development}
	if dev {
		logCfg = logging.DevelopmentConfig()
		cfg.Logging.Development = true
	}
	logger, err := logging.New(logCfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	srv, err := server.NewServer(cfg, logger)
	if err != nil {
		logger.Error("Failed to create server", zap.Error(err))
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		logger.Error("Server error", zap.Error(err))
		return err
	}
	logger.Info("Server stopped")
	return nil
}
