package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"
	"github.com/spf13/pflag"

	"github.com/example/clean-matching/internal/app"
	"github.com/example/clean-matching/internal/config"
	"github.com/example/clean-matching/internal/dispatch"
	"github.com/example/clean-matching/internal/logging"
	"github.com/example/clean-matching/internal/models"
)

var (
	msgsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_consumed_total",
		Help: "Total notification messages consumed",
	})
	msgsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_invalid_total",
		Help: "Total invalid messages received",
	})
	deliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "consumer_deliveries_total",
		Help: "Notification deliveries, by channel and outcome",
	}, []string{"channel", "outcome"})
)

func init() {
	prometheus.MustRegister(msgsConsumed, msgsInvalid, deliveries)
}

func main() {
	_ = godotenv.Load()
	attempts := pflag.Int("attempts", 3, "delivery attempts per channel")
	retryDelay := pflag.Duration("retry-delay", 200*time.Millisecond, "initial delay between delivery attempts")
	pflag.Parse()

	cfg, err := config.LoadServerConfig()
	if err != nil {
		logging.NewLogger("info").Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	log := logging.Component(logging.NewLogger(cfg.LogLevel), "consumer")
	if len(cfg.KafkaBrokers) == 0 {
		log.Error("KAFKA_BROKERS is required")
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
	channels := in.DeliveryChannels(cfg)

	// metrics and health
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) })
		mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			if err := in.Store.Ping(r.Context()); err != nil {
				http.Error(w, "db not ready", 503)
				return
			}
			w.WriteHeader(200)
			w.Write([]byte("ready"))
		})
		log.Info("metrics/health listening", "addr", cfg.MetricsAddr)
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
			log.Warn("metrics server stopped", "err", err)
		}
	}()

	r := kafka.NewReader(kafka.ReaderConfig{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic, GroupID: cfg.KafkaGroup, MinBytes: 1, MaxBytes: 10e6})
	defer func() { _ = r.Close() }()

	log.Info("consumer listening", "topic", cfg.KafkaTopic, "brokers", cfg.KafkaBrokers, "group", cfg.KafkaGroup)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Info("shutting down consumer")
				return
			}
			log.Warn("kafka fetch error", "err", err, "backoff", backoff)
			time.Sleep(backoff)
			backoff = min(backoff*2, maxBackoff)
			continue
		}
		backoff = time.Second
		msgsConsumed.Inc()

		n, err := decodeNotification(m.Value)
		if err != nil {
			msgsInvalid.Inc()
			log.Warn("invalid message", "offset", m.Offset, "err", err)
		} else {
			for _, ch := range channels {
				outcome := "ok"
				if err := deliverWithRetry(ctx, ch, n, *attempts, *retryDelay); err != nil {
					outcome = "failed"
					log.Warn("delivery failed", "channel", ch.Name(), "notification_id", n.ID, "user_id", n.UserID, "err", err)
				}
				deliveries.WithLabelValues(ch.Name(), outcome).Inc()
			}
		}
		if err := r.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			log.Warn("commit failed", "offset", m.Offset, "err", err)
		}
	}
}

func decodeNotification(b []byte) (models.Notification, error) {
	var n models.Notification
	if err := json.Unmarshal(b, &n); err != nil {
		return n, err
	}
	if n.ID == "" || n.UserID == "" {
		return n, errors.New("notification without id or user_id")
	}
	return n, nil
}

// deliverWithRetry sends n over ch, doubling delay between failed attempts.
// Channels are idempotent on the notification id, so a retry after a lost
// acknowledgement is harmless.
func deliverWithRetry(ctx context.Context, ch dispatch.Channel, n models.Notification, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = ch.Send(ctx, n); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}
