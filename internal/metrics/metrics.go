// Package metrics exposes the service's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionsActive tracks currently open client sessions.
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voicegate_sessions_active",
		Help: "Number of currently active voice sessions.",
	})

	// SessionsTotal counts sessions by model id.
	SessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicegate_sessions_total",
		Help: "Total voice sessions started, by model.",
	}, []string{"model"})

	// AudioChunksForwarded counts inbound chunks that passed every guard.
	AudioChunksForwarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicegate_audio_chunks_forwarded_total",
		Help: "Inbound audio chunks forwarded to a driver, by model.",
	}, []string{"model"})

	// AudioChunksDropped counts guard rejections by reason.
	AudioChunksDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicegate_audio_chunks_dropped_total",
		Help: "Inbound audio chunks dropped before reaching a driver, by reason.",
	}, []string{"reason"})

	// DriverErrors counts error events surfaced by vendor drivers.
	DriverErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicegate_driver_errors_total",
		Help: "Driver error events, by model and error code.",
	}, []string{"model", "code"})

	// RateLimitCloses counts connections closed for sustained abuse.
	RateLimitCloses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voicegate_rate_limit_closes_total",
		Help: "Connections closed after exceeding the hard chunk rate limit.",
	})
)

// Drop reasons for AudioChunksDropped.
const (
	DropOversized   = "oversized"
	DropOutOfOrder  = "out_of_order"
	DropRateLimited = "rate_limited"
)
