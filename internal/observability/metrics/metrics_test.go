package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/kirillkom/self-correcting-rag/internal/core/domain"
)

func TestObserveEpisodeCountsOutcomes(t *testing.T) {
	m := NewEpisodeMetrics("rag-api", NewRegistry())
	started := time.Now()

	m.ObserveEpisode(domain.EpisodeEvent{
		IterationsUsed: 2,
		FinalQuality:   0.8,
		Strategies:     []domain.Strategy{domain.StrategyHybrid, domain.StrategyVectorOnly},
		StartedAt:      started,
		FinishedAt:     started.Add(time.Second),
	}, nil)
	m.ObserveEpisode(domain.EpisodeEvent{IterationsUsed: 3, Degraded: true}, nil)
	m.ObserveEpisode(domain.EpisodeEvent{}, domain.WrapError(domain.ErrSynthesisFailure, "synthesize", errors.New("boom")))

	if got := testutil.ToFloat64(m.episodesTotal.WithLabelValues("rag-api", "approved")); got != 1 {
		t.Fatalf("expected 1 approved episode, got %v", got)
	}
	if got := testutil.ToFloat64(m.episodesTotal.WithLabelValues("rag-api", "degraded")); got != 1 {
		t.Fatalf("expected 1 degraded episode, got %v", got)
	}
	if got := testutil.ToFloat64(m.episodesTotal.WithLabelValues("rag-api", "synthesis_failure")); got != 1 {
		t.Fatalf("expected 1 synthesis failure, got %v", got)
	}
	if got := testutil.ToFloat64(m.strategyAttempts.WithLabelValues("rag-api", "vector_only")); got != 1 {
		t.Fatalf("expected 1 vector_only attempt, got %v", got)
	}
}

func TestPathFailureCacheAndBreakerMetrics(t *testing.T) {
	m := NewEpisodeMetrics("rag-api", NewRegistry())

	m.ObservePathFailure(domain.PathGraph)
	m.ObserveCache(true)
	m.ObserveCache(false)
	m.ObserveCache(false)
	m.BreakerStateChanged("ollama.generate", "closed", "open")

	if got := testutil.ToFloat64(m.pathFailuresTotal.WithLabelValues("rag-api", "graph")); got != 1 {
		t.Fatalf("expected 1 graph failure, got %v", got)
	}
	if got := testutil.ToFloat64(m.cacheLookupsTotal.WithLabelValues("rag-api", "miss")); got != 2 {
		t.Fatalf("expected 2 cache misses, got %v", got)
	}
	if got := testutil.ToFloat64(m.breakerState.WithLabelValues("rag-api", "ollama.generate")); got != 2 {
		t.Fatalf("expected open breaker gauge 2, got %v", got)
	}
}

func TestHTTPMiddlewareRecordsRequests(t *testing.T) {
	registry := NewRegistry()
	m := NewHTTPServerMetrics("rag-api", registry)
	handler := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/episodes/ep-1", nil))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/unknown/path", nil))

	if got := testutil.ToFloat64(m.requestTotal.WithLabelValues("418", "get", "/v1/episodes/{episode_id}")); got != 1 {
		t.Fatalf("expected 1 request recorded, got %v", got)
	}
	if got := testutil.ToFloat64(m.requestTotal.WithLabelValues("418", "get", "other")); got != 1 {
		t.Fatalf("expected unknown paths to collapse into other, got %v", got)
	}
	if got := testutil.ToFloat64(m.requestInFlight); got != 0 {
		t.Fatalf("expected no in-flight requests after completion, got %v", got)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "rag_http_requests_total") {
		t.Fatalf("expected exposition to contain request counter")
	}
}
