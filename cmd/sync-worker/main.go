package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"

	"github.com/BearBump/BostaSync/config"
)

func main() {
	cfg, err := config.LoadConfig(os.Getenv("configPath"))
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}

	swaggerPath := cfg.Sync.SwaggerPath
	if swaggerPath == "" {
		swaggerPath = os.Getenv("swaggerPath")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := RunSyncWorker(ctx, cfg, defaultWorkerFactories(), swaggerPath); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("sync worker stopped", "error", err.Error())
		cancel()
		os.Exit(1)
	}
	slog.Info("sync worker stopped")
}
