package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kirillkom/self-correcting-rag/internal/core/domain"
)

// EpisodeMetrics exports control loop, fusion cache, path failure and
// circuit breaker telemetry.
type EpisodeMetrics struct {
	service string

	episodesTotal     *prometheus.CounterVec
	episodeIterations *prometheus.HistogramVec
	episodeQuality    *prometheus.HistogramVec
	episodeDuration   *prometheus.HistogramVec
	strategyAttempts  *prometheus.CounterVec
	pathFailuresTotal *prometheus.CounterVec
	cacheLookupsTotal *prometheus.CounterVec
	breakerState      *prometheus.GaugeVec
}

func NewEpisodeMetrics(service string, registry prometheus.Registerer) *EpisodeMetrics {
	episodesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rag",
			Subsystem: "episode",
			Name:      "total",
			Help:      "Completed episodes by outcome.",
		},
		[]string{"service", "status"},
	)
	episodeIterations := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rag",
			Subsystem: "episode",
			Name:      "iterations",
			Help:      "Retrieve and review iterations used per episode.",
			Buckets:   []float64{1, 2, 3, 4, 5, 6, 8, 10},
		},
		[]string{"service"},
	)
	episodeQuality := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rag",
			Subsystem: "episode",
			Name:      "final_quality",
			Help:      "Reviewer score of the record used for the answer.",
			Buckets:   []float64{0, 0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1},
		},
		[]string{"service"},
	)
	episodeDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rag",
			Subsystem: "episode",
			Name:      "duration_seconds",
			Help:      "Episode wall time in seconds.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 60, 120},
		},
		[]string{"service"},
	)
	strategyAttempts := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rag",
			Subsystem: "episode",
			Name:      "strategy_attempts_total",
			Help:      "Retrieval attempts by strategy.",
		},
		[]string{"service", "strategy"},
	)
	pathFailuresTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rag",
			Subsystem: "fusion",
			Name:      "path_failures_total",
			Help:      "Retrieval path failures and timeouts.",
		},
		[]string{"service", "path"},
	)
	cacheLookupsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rag",
			Subsystem: "fusion",
			Name:      "cache_lookups_total",
			Help:      "Fusion result cache lookups by result.",
		},
		[]string{"service", "result"},
	)
	breakerState := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "rag",
			Subsystem: "resilience",
			Name:      "breaker_state",
			Help:      "Circuit breaker state per operation (0 closed, 1 half-open, 2 open).",
		},
		[]string{"service", "operation"},
	)

	registry.MustRegister(
		episodesTotal,
		episodeIterations,
		episodeQuality,
		episodeDuration,
		strategyAttempts,
		pathFailuresTotal,
		cacheLookupsTotal,
		breakerState,
	)

	return &EpisodeMetrics{
		service:           service,
		episodesTotal:     episodesTotal,
		episodeIterations: episodeIterations,
		episodeQuality:    episodeQuality,
		episodeDuration:   episodeDuration,
		strategyAttempts:  strategyAttempts,
		pathFailuresTotal: pathFailuresTotal,
		cacheLookupsTotal: cacheLookupsTotal,
		breakerState:      breakerState,
	}
}

func (m *EpisodeMetrics) ObserveEpisode(event domain.EpisodeEvent, err error) {
	m.episodesTotal.WithLabelValues(m.service, episodeStatus(event, err)).Inc()
	for _, strategy := range event.Strategies {
		m.strategyAttempts.WithLabelValues(m.service, string(strategy)).Inc()
	}
	if event.IterationsUsed > 0 {
		m.episodeIterations.WithLabelValues(m.service).Observe(float64(event.IterationsUsed))
	}
	if err == nil {
		m.episodeQuality.WithLabelValues(m.service).Observe(event.FinalQuality)
	}
	if d := event.FinishedAt.Sub(event.StartedAt); d > 0 {
		m.episodeDuration.WithLabelValues(m.service).Observe(d.Seconds())
	}
}

func (m *EpisodeMetrics) ObservePathFailure(path domain.Path) {
	m.pathFailuresTotal.WithLabelValues(m.service, string(path)).Inc()
}

func (m *EpisodeMetrics) ObserveCache(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookupsTotal.WithLabelValues(m.service, result).Inc()
}

// BreakerStateChanged matches resilience.StateListener.
func (m *EpisodeMetrics) BreakerStateChanged(operation, _, to string) {
	value := 0.0
	switch to {
	case "half-open":
		value = 1
	case "open":
		value = 2
	}
	m.breakerState.WithLabelValues(m.service, operation).Set(value)
}

func episodeStatus(event domain.EpisodeEvent, err error) string {
	switch {
	case err == nil && event.Degraded:
		return "degraded"
	case err == nil:
		return "approved"
	case errors.Is(err, domain.ErrSynthesisFailure):
		return "synthesis_failure"
	case errors.Is(err, domain.ErrConfiguration):
		return "configuration_error"
	case errors.Is(err, domain.ErrInvalidInput):
		return "invalid_input"
	default:
		return "error"
	}
}
