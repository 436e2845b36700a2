// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	SongRequests       *prometheus.CounterVec // origin, outcome
	SkipsPerformed     prometheus.Counter
	VoteSkipSessions   prometheus.Counter
	VoteSkipTimeouts   prometheus.Counter
	RedemptionsSettled *prometheus.CounterVec // result
	TokenRefreshes     *prometheus.CounterVec // provider, outcome
	CooldownRejections prometheus.Counter

	// Gauges
	UsersOnCooldownGauge prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		SongRequests = promauto.NewCounterVec(prometheus.CounterOpts{Name: "songtender_requests_total", Help: "Song requests handled, by origin and outcome"}, []string{"origin", "outcome"})
		SkipsPerformed = promauto.NewCounter(prometheus.CounterOpts{Name: "songtender_skips_total", Help: "Tracks skipped (direct or vote)"})
		VoteSkipSessions = promauto.NewCounter(prometheus.CounterOpts{Name: "songtender_voteskip_sessions_total", Help: "Vote-skip sessions opened"})
		VoteSkipTimeouts = promauto.NewCounter(prometheus.CounterOpts{Name: "songtender_voteskip_timeouts_total", Help: "Vote-skip sessions that timed out below quorum"})
		RedemptionsSettled = promauto.NewCounterVec(prometheus.CounterOpts{Name: "songtender_redemptions_settled_total", Help: "Channel point redemptions settled, by result"}, []string{"result"})
		TokenRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{Name: "songtender_token_refreshes_total", Help: "OAuth token refreshes, by provider and outcome"}, []string{"provider", "outcome"})
		CooldownRejections = promauto.NewCounter(prometheus.CounterOpts{Name: "songtender_cooldown_rejections_total", Help: "Requests rejected by the per-user cooldown"})
		UsersOnCooldownGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "songtender_users_on_cooldown", Help: "Users currently inside a cooldown window"})
	})
}

// CountRequest records a handled song request when metrics are initialized.
func CountRequest(origin, outcome string) {
	if SongRequests != nil {
		SongRequests.WithLabelValues(origin, outcome).Inc()
	}
}

// CountSettlement records a settlement result when metrics are initialized.
func CountSettlement(result string) {
	if RedemptionsSettled != nil {
		RedemptionsSettled.WithLabelValues(result).Inc()
	}
}

// Correlation ID helpers ----------------------------------------------------

type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns the correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with a corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
