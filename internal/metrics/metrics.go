// ABOUTME: Prometheus collectors for the ingestion and derived-knowledge pipeline
// ABOUTME: Every method is nil-safe so engines run unchanged without a registry
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chatlake"

// Metrics owns a private registry and the pipeline collectors
type Metrics struct {
	registry *prometheus.Registry

	conversations    *prometheus.CounterVec
	messages         *prometheus.CounterVec
	artifactFailures prometheus.Counter
	embeddings       *prometheus.CounterVec
	suggestions      prometheus.Counter
	similarityEdges  prometheus.Counter
	driftWindows     prometheus.Counter
	runDuration      *prometheus.HistogramVec
}

// New creates a registry with every collector registered
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		conversations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversations_total",
			Help:      "Conversations seen during import, by outcome.",
		}, []string{"outcome"}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Messages seen during import, by outcome.",
		}, []string{"outcome"}),
		artifactFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "artifact_failures_total",
			Help:      "Malformed entries and unreadable artifacts.",
		}),
		embeddings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embeddings_total",
			Help:      "Embedding cache lookups, by outcome.",
		}, []string{"outcome"}),
		suggestions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "suggestions_created_total",
			Help:      "Project suggestions emitted by clustering runs.",
		}),
		similarityEdges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "similarity_edges_total",
			Help:      "Similarity edges written.",
		}),
		driftWindows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "drift_windows_total",
			Help:      "Drift metrics written.",
		}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Inference run wall time, by run type and final status.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}, []string{"type", "status"}),
	}

	m.registry.MustRegister(
		m.conversations,
		m.messages,
		m.artifactFailures,
		m.embeddings,
		m.suggestions,
		m.similarityEdges,
		m.driftWindows,
		m.runDuration,
	)
	return m
}

// Registry exposes the underlying registry for scraping and tests
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Conversation records one conversation sighting
func (m *Metrics) Conversation(created bool) {
	if m == nil {
		return
	}
	m.conversations.WithLabelValues(outcome(created, "created", "duplicate")).Inc()
}

// Messages records a conversation's message writes
func (m *Metrics) Messages(inserted, duplicates int) {
	if m == nil {
		return
	}
	if inserted > 0 {
		m.messages.WithLabelValues("inserted").Add(float64(inserted))
	}
	if duplicates > 0 {
		m.messages.WithLabelValues("duplicate").Add(float64(duplicates))
	}
}

// ArtifactFailure records one recorded failure
func (m *Metrics) ArtifactFailure() {
	if m == nil {
		return
	}
	m.artifactFailures.Inc()
}

// Embedding outcomes
const (
	EmbeddingGenerated     = "generated"
	EmbeddingCacheHit      = "cache_hit"
	EmbeddingProviderError = "provider_error"
)

// Embedding records one cache lookup outcome
func (m *Metrics) Embedding(result string) {
	if m == nil {
		return
	}
	m.embeddings.WithLabelValues(result).Inc()
}

// SuggestionsCreated adds n emitted suggestions
func (m *Metrics) SuggestionsCreated(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.suggestions.Add(float64(n))
}

// SimilarityEdges adds n written edges
func (m *Metrics) SimilarityEdges(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.similarityEdges.Add(float64(n))
}

// DriftWindows adds n written drift metrics
func (m *Metrics) DriftWindows(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.driftWindows.Add(float64(n))
}

// ObserveRun records a finished run's duration
func (m *Metrics) ObserveRun(runType, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.runDuration.WithLabelValues(runType, status).Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func outcome(ok bool, yes, no string) string {
	if ok {
		return yes
	}
	return no
}
