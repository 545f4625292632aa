package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"heirloom/internal/app"
	"heirloom/internal/config"
	httpinfra "heirloom/internal/infra/http"
	"heirloom/internal/logging"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		logging.New(os.Stderr, "info", "json").Error(context.Background(), "load .env", "err", err)
		os.Exit(1)
	}
	cfg := config.FromEnv()
	log := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat).With("service", "heirloomd")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := app.Open(ctx, cfg, log)
	if err != nil {
		log.Error(ctx, "failed to init runtime", "err", err)
		os.Exit(1)
	}
	defer rt.Close()

	go app.RunSweeper(ctx, rt.Services, cfg.SweepInterval(), cfg.SweepBatchSize, log.With("component", "sweeper"))

	srv := httpinfra.NewServer(cfg, httpinfra.ServerDeps{
		Services: rt.Services,
		Health:   rt.Ping,
		Throttle: rt.Throttle,
		Logger:   log.With("component", "http"),
	})
	if err := srv.Run(ctx); err != nil {
		log.Error(ctx, "server exited", "err", err)
		os.Exit(1)
	}
}
