package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"github.com/example/clean-matching/internal/app"
	"github.com/example/clean-matching/internal/config"
	"github.com/example/clean-matching/internal/dispatch"
	"github.com/example/clean-matching/internal/geo"
	"github.com/example/clean-matching/internal/geocode"
	httpapi "github.com/example/clean-matching/internal/http"
	"github.com/example/clean-matching/internal/logging"
	"github.com/example/clean-matching/internal/marketplace"
	"github.com/example/clean-matching/internal/matcher"
	"github.com/example/clean-matching/internal/points"
	"github.com/example/clean-matching/internal/quota"
	"github.com/example/clean-matching/internal/rooms"
	"github.com/example/clean-matching/internal/subscription"
	"github.com/example/clean-matching/internal/sweeper"
)

const geocodeCacheTTL = 24 * time.Hour

func main() {
	_ = godotenv.Load()
	withSweeper := pflag.Bool("with-sweeper", false, "run the lifecycle sweeper inside the API process")
	pflag.Parse()

	cfg, err := config.LoadServerConfig()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	log := logging.NewLogger(cfg.LogLevel)
	if cfg.JWTSecret == "" {
		log.Error("JWT_SECRET is required")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	in, err := app.Open(ctx, cfg, log)
	if err != nil {
		log.Error("startup failed", "err", err)
		os.Exit(1)
	}
	defer in.Close()

	ws := dispatch.NewWSRegistry()
	notifier, closeNotifier := in.Notifier(cfg, ws)
	defer closeNotifier()

	var resolver geocode.Resolver = geocode.None{}
	if cfg.GeocoderURL != "" {
		var cache geocode.Cache = geocode.NewMemoryCache(geocodeCacheTTL, in.Clock)
		if in.Redis != nil {
			cache = geocode.NewRedisCache(in.Redis, geocodeCacheTTL, logging.Component(log, "geocode"))
		}
		resolver = geocode.NewCachedResolver(geocode.NewHTTPClient(cfg.GeocoderURL), cache, logging.Component(log, "geocode"))
	}

	var (
		locator matcher.Locator = in.Store
		index   marketplace.ProviderIndex
	)
	if in.Redis != nil {
		rl := geo.NewRedisLocator(in.Redis, cfg.RedisGeoKey, in.Store)
		if err := seedLocator(ctx, in, rl); err != nil {
			log.Warn("seeding provider locations failed", "err", err)
		}
		locator, index = rl, rl
	}

	subs := subscription.NewService(in.Store, in.Policy, in.Clock, logging.Component(log, "subscription"))
	ledger := quota.NewLedger(in.Store, subs, in.Policy, in.Clock, logging.Component(log, "quota"))
	pts := points.NewSQLLedger(in.Store.DB(), in.Clock)
	market := marketplace.NewService(in.Store, marketplace.Deps{
		Matcher:  &matcher.Service{Locator: locator, Directory: in.Store, Policy: in.Policy},
		Quota:    ledger,
		Trials:   subs,
		Geocoder: resolver,
		Points:   pts,
		Rooms:    rooms.NewSQLProvisioner(in.Store.DB(), in.Clock),
		Notifier: notifier,
		Index:    index,
		Policy:   in.Policy,
		Clock:    in.Clock,
		Log:      logging.Component(log, "marketplace"),
	})

	api := httpapi.NewServer(&httpapi.Server{
		Market: market,
		Subs:   subs,
		Quota:  ledger,
		Policy: in.Policy,
		Store:  in.Store,
		WSReg:  ws,
		Auth:   httpapi.NewAuthenticator(cfg.JWTSecret),
		Clock:  in.Clock,
	}, logging.Component(log, "http"))

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	go serveMetrics(cfg.MetricsAddr, log)
	go reloadOnHangup(ctx, in.Policy, log)

	if *withSweeper {
		runner := &sweeper.Runner{
			Sweeper: sweeper.New(in.Store, subs, pts, notifier, in.Policy, in.Clock, logging.Component(log, "sweeper")),
			Hourly:  cfg.HourlySweepEvery,
			Daily:   cfg.DailySweepEvery,
			Log:     logging.Component(log, "sweeper"),
		}
		if in.Redis != nil {
			runner.Locker = sweeper.NewRedisLocker(in.Redis)
		}
		go func() {
			if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("sweeper stopped", "err", err)
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("clean-matching listening", "addr", cfg.HTTPAddr, "db", cfg.DBDriver, "redis", in.Redis != nil, "kafka", len(cfg.KafkaBrokers) > 0)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed", "err", err)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "err", err)
		}
		log.Info("server stopped")
	}
}

// seedLocator loads every approved provider into the geo set so a fresh
// Redis answers queries before profiles change.
func seedLocator(ctx context.Context, in *app.Infra, rl *geo.RedisLocator) error {
	providers, err := in.Store.ApprovedProviders(ctx)
	if err != nil {
		return err
	}
	for _, p := range providers {
		if err := rl.Index(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

func serveMetrics(addr string, log *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Warn("metrics server stopped", "err", err)
	}
}

// reloadOnHangup re-reads the policy file on SIGHUP.
func reloadOnHangup(ctx context.Context, policy *config.PolicyStore, log *slog.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := policy.Reload(); err != nil {
				log.Error("policy reload failed", "err", err)
				continue
			}
			log.Info("policy reloaded")
		}
	}
}
