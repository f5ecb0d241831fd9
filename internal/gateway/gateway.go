// Package gateway is the HTTP surface of the relay: the native two-leg chat
// endpoint, the OpenAI-compatible entry point, health and metrics.
package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/thinkrelay/reasoning-gateway/internal/config"
	"github.com/thinkrelay/reasoning-gateway/internal/monitoring"
)

// Request modes, as labeled in metrics and telemetry.
const (
	modeBlocking  = "blocking"
	modeStreaming = "streaming"
)

// Target provider names accepted in the X-Target-Model header and the
// compat model map.
const (
	targetAnthropic = "anthropic"
	targetOpenAI    = "openai"
)

// Gateway holds the request-independent state shared by all handlers.
type Gateway struct {
	cfg      *config.Config
	metrics  *monitoring.Metrics
	tracker  *monitoring.Tracker
	tokens   *monitoring.TokenEstimator
	registry *prometheus.Registry
}

// New wires a gateway from its long-lived collaborators. tracker may be nil
// when telemetry is disabled.
func New(cfg *config.Config, registry *prometheus.Registry, metrics *monitoring.Metrics,
	tracker *monitoring.Tracker) *Gateway {
	return &Gateway{
		cfg:      cfg,
		metrics:  metrics,
		tracker:  tracker,
		tokens:   monitoring.NewTokenEstimator(),
		registry: registry,
	}
}

// Router builds the route table.
func (g *Gateway) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", g.handleHealth)
	r.Method(http.MethodGet, "/metrics",
		promhttp.HandlerFor(g.registry, promhttp.HandlerOpts{}))

	r.Post("/", g.handleChat)
	r.Post("/v1/chat", g.handleChat)
	r.Post("/v1/chat/completions", g.handleCompletions)
	return r
}

func (g *Gateway) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// record finishes one request's bookkeeping: the request counter and, when
// tracking is enabled, a persisted event row.
func (g *Gateway) record(requestID, mode, target, outcome, errorKind string,
	reasoningTokens, answerTokens int, start time.Time) {
	g.metrics.RecordRequest(mode, target, outcome)
	g.tracker.Record(monitoring.RequestEvent{
		RequestID:       requestID,
		Timestamp:       time.Now().UTC(),
		Mode:            mode,
		Target:          target,
		Outcome:         outcome,
		ErrorKind:       errorKind,
		ReasoningTokens: reasoningTokens,
		AnswerTokens:    answerTokens,
		Latency:         time.Since(start),
	})
}
