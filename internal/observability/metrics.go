package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "clean_matching"

var (
	RequestsCreated = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "requests_created_total", Help: "Total cleaning requests created"})
	OffersSubmitted = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "offers_submitted_total", Help: "Total offers submitted"})
	OffersAccepted  = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "offers_accepted_total", Help: "Total offers accepted into engagements"})
	OffersRejected  = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "offers_rejected_total", Help: "Offers rejected, by reason"},
		[]string{"reason"},
	)
	OfferDenied = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "offer_denied_total", Help: "Offer submissions refused, by error code"},
		[]string{"code"},
	)
	QuotaUsed = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "quota_used_ratio",
			Help:      "Share of the daily offer limit used after each submission",
			Buckets:   []float64{0.1, 0.25, 0.5, 0.75, 0.9, 1},
		},
		[]string{"tier"},
	)
	CandidatesFound = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "match_candidates",
		Help:      "Candidates returned per request",
		Buckets:   []float64{0, 1, 2, 5, 10, 20, 50, 100},
	})
	MatchLatency = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "match_latency_seconds", Help: "Candidate matching latency seconds"})

	SweepProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "sweep_processed_total", Help: "Items transitioned by sweeps"},
		[]string{"sweep"},
	)
	SweepFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "sweep_failed_total", Help: "Items a sweep failed to transition"},
		[]string{"sweep"},
	)
	NotifyErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "notify_errors_total", Help: "Notification delivery failures, by channel"},
		[]string{"channel"},
	)
	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "ws_connections", Help: "Open websocket connections"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
