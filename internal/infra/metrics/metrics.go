package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	BotSendErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bot_send_errors_total",
		Help: "Failed Telegram send attempts",
	})
	MessageChunksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "message_chunks_total",
		Help: "Outbound message chunks sent",
	})
	SequenceStepsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sequence_steps_total",
		Help: "Follow-up sequence steps by outcome",
	}, []string{"kind", "outcome"})
	SequencesActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sequences_active",
		Help: "Follow-up sequences currently pending",
	})
	BroadcastRecipientsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "broadcast_recipients_total",
		Help: "Broadcast deliveries by status",
	}, []string{"status"})
	LessonDeliveriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lesson_deliveries_total",
		Help: "Daily lessons dispatched by the scheduler",
	})
	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Duration of outbound network requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"component", "operation", "target", "status"})
	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Count of outbound network requests",
	}, []string{"component", "operation", "target", "status"})
)

// MustRegister registers all metrics.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		BotSendErrors,
		MessageChunksTotal,
		SequenceStepsTotal,
		SequencesActive,
		BroadcastRecipientsTotal,
		LessonDeliveriesTotal,
		NetworkRequestDuration,
		NetworkRequestTotal,
	)
}

// StartServer runs an HTTP server exposing /metrics.
func StartServer(ctx context.Context, logger zerolog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownTimeout, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownTimeout); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: graceful shutdown failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics: server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: server stopped")
		}
	}()
}

// ObserveNetworkRequest records the duration and status of a network request.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}

// ObserveSequenceStep records the outcome of one follow-up step.
func ObserveSequenceStep(kind, outcome string) {
	if kind == "" {
		kind = "unknown"
	}
	SequenceStepsTotal.WithLabelValues(kind, outcome).Inc()
}
