// Package app assembles the shared infrastructure the binaries start from.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/clean-matching/internal/clock"
	"github.com/example/clean-matching/internal/config"
	"github.com/example/clean-matching/internal/dispatch"
	"github.com/example/clean-matching/internal/storage"
)

// Infra is what every binary needs: the database, the policy and optionally
// a Redis client.
type Infra struct {
	Store  *storage.Store
	Policy *config.PolicyStore
	Redis  *redis.Client
	Clock  clock.Clock
	Log    *slog.Logger
}

// Open connects to the database, migrates it when configured and pings
// Redis when an address is set.
func Open(ctx context.Context, cfg config.ServerConfig, log *slog.Logger) (*Infra, error) {
	policy, err := config.NewPolicyStore(cfg.PolicyFile, log)
	if err != nil {
		return nil, err
	}
	st, err := storage.Open(ctx, cfg.DBDriver, cfg.DBDSN, cfg.DBMaxOpenConns)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.DBDriver, err)
	}
	if cfg.RunMigrations {
		if err := st.Migrate(ctx); err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	in := &Infra{Store: st, Policy: policy, Clock: clock.Real(), Log: log}
	if cfg.RedisAddr != "" {
		rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := rc.Ping(pctx).Err(); err != nil {
			_ = rc.Close()
			_ = st.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		in.Redis = rc
	}
	return in, nil
}

func (in *Infra) Close() {
	if in.Redis != nil {
		_ = in.Redis.Close()
	}
	_ = in.Store.Close()
}

// DeliveryChannels are the channels that reach a user directly: the inbox
// row, the push gateway when configured, and the log.
func (in *Infra) DeliveryChannels(cfg config.ServerConfig) []dispatch.Channel {
	chans := []dispatch.Channel{dispatch.StoreChannel{Store: in.Store}}
	if cfg.PushEndpoint != "" {
		chans = append(chans, dispatch.NewPushDispatcher(cfg.PushEndpoint, cfg.PushKey))
	}
	return append(chans, dispatch.LogChannel{Log: in.Log})
}

// Notifier publishes to Kafka when brokers are configured and leaves
// delivery to the consumer; otherwise it delivers in-process. extra channels
// (the websocket registry) are always attached.
func (in *Infra) Notifier(cfg config.ServerConfig, extra ...dispatch.Channel) (*dispatch.Fanout, func()) {
	var chans []dispatch.Channel
	closer := func() {}
	if len(cfg.KafkaBrokers) > 0 {
		w := dispatch.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic)
		chans = append(chans, dispatch.NewKafkaPublisher(w))
		closer = func() { _ = w.Close() }
	} else {
		chans = in.DeliveryChannels(cfg)
	}
	chans = append(chans, extra...)
	return dispatch.NewFanout(in.Clock, in.Log, chans...), closer
}
