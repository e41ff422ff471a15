package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/JakeFAU/note-autopublisher/internal/config"
	"github.com/JakeFAU/note-autopublisher/internal/jobs"
	"github.com/JakeFAU/note-autopublisher/internal/logging"
	"github.com/JakeFAU/note-autopublisher/internal/server"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	once := flag.Bool("once", false, "Run a single publish cycle and exit")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.NewWithLevel(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	zap.ReplaceGlobals(logger)

	os.Exit(run(&cfg, logger, *once))
}

func run(cfg *config.Config, logger *zap.Logger, once bool) int {
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := server.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("build failed", zap.Error(err))
		return 1
	}

	if once {
		result, err := app.RunOnce(ctx)
		if err != nil {
			logger.Error("publish cycle failed", zap.Error(err))
			return 1
		}
		if err := json.NewEncoder(os.Stdout).Encode(result); err != nil {
			logger.Warn("write result failed", zap.Error(err))
		}
		if result.Status == jobs.RunFailed {
			return 1
		}
		return 0
	}

	if err := app.Run(ctx); err != nil {
		logger.Error("server exited", zap.Error(err))
		return 1
	}
	return 0
}
