package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"ragline/internal/app"
	"ragline/internal/config"
	"ragline/internal/logger"
)

func main() {
	log := logger.New(os.Stdout, slog.LevelInfo)
	slog.SetDefault(log)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		slog.Error("application exited with error", "error", err)
		os.Exit(1)
	}
}

// run starts the API and the enabled NSQ workers and blocks until ctx ends
// or one of them fails.
func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	deps, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		return err
	}
	defer deps.DB.Close()
	defer deps.NSQProducer.Stop()

	application, err := app.New(cfg, deps, deps.NSQProducer, log)
	if err != nil {
		return err
	}
	defer application.Close()

	g, ctx := errgroup.WithContext(ctx)
	if cfg.EnableAPI {
		g.Go(func() error { return application.Run(ctx) })
	}
	if cfg.EnableIngestWorker || cfg.EnablePersistWorker {
		g.Go(func() error { return application.RunConsumers(ctx) })
	}
	return g.Wait()
}
