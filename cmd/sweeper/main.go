package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/example/clean-matching/internal/app"
	"github.com/example/clean-matching/internal/config"
	"github.com/example/clean-matching/internal/logging"
	"github.com/example/clean-matching/internal/points"
	"github.com/example/clean-matching/internal/subscription"
	"github.com/example/clean-matching/internal/sweeper"
)

func main() {
	_ = godotenv.Load()
	once := pflag.Bool("once", false, "run every sweep once and exit")
	pflag.Parse()

	cfg, err := config.LoadServerConfig()
	if err != nil {
		logging.NewLogger("info").Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	log := logging.Component(logging.NewLogger(cfg.LogLevel), "sweeper")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	in, err := app.Open(ctx, cfg, log)
	if err != nil {
		log.Error("startup failed", "err", err)
		os.Exit(1)
	}
	defer in.Close()

	notifier, closeNotifier := in.Notifier(cfg)
	defer closeNotifier()

	subs := subscription.NewService(in.Store, in.Policy, in.Clock, log)
	runner := &sweeper.Runner{
		Sweeper: sweeper.New(in.Store, subs, points.NewSQLLedger(in.Store.DB(), in.Clock), notifier, in.Policy, in.Clock, log),
		Hourly:  cfg.HourlySweepEvery,
		Daily:   cfg.DailySweepEvery,
		Log:     log,
	}
	if in.Redis != nil {
		runner.Locker = sweeper.NewRedisLocker(in.Redis)
	} else {
		log.Warn("no REDIS_ADDR; sweeps are not coordinated across instances")
	}

	if *once {
		for _, r := range runner.RunAll(ctx) {
			log.Info("sweep finished", "sweep", r.Sweep, "processed", r.Processed, "failed", r.Failed)
		}
		return
	}
	log.Info("sweeper started", "hourly", cfg.HourlySweepEvery, "daily", cfg.DailySweepEvery)
	if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("sweeper stopped", "err", err)
		os.Exit(1)
	}
}
