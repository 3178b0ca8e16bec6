package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/specforge/specforge/pkg/config"
	"github.com/specforge/specforge/pkg/injection"
	"github.com/specforge/specforge/pkg/logger"
	"github.com/specforge/specforge/pkg/pipeline"
	"github.com/specforge/specforge/pkg/ratelimit"
)

// Version is reported by the health endpoint; set from main at build time.
var Version = "dev"

// ModelBackend is the provider client surface the gateway needs: stage
// invocation plus a configuration probe for the 503 gate.
type ModelBackend interface {
	pipeline.ModelClient
	Configured() bool
}

// Server routes stage requests into the orchestrator and bridges its
// progress events onto a websocket. It keeps no per-round state.
type Server struct {
	cfg      *config.Config
	client   ModelBackend
	tools    pipeline.ToolRunner
	store    pipeline.TemplateStore
	events   *pipeline.Broadcaster
	limiter  *ratelimit.Limiter
	detector *injection.Detector
	http     *http.Server
}

// NewServer wires the gateway. events may be nil when no live progress
// stream is wanted.
func NewServer(cfg *config.Config, client ModelBackend, toolRunner pipeline.ToolRunner, store pipeline.TemplateStore, events *pipeline.Broadcaster) *Server {
	if events == nil {
		events = pipeline.NewBroadcaster()
	}
	return &Server{
		cfg:    cfg,
		client: client,
		tools:  toolRunner,
		store:  store,
		events: events,
		limiter: ratelimit.NewLimiter(ratelimit.Config{
			Enabled:           cfg.RateLimits.Enabled,
			RequestsPerMinute: cfg.RateLimits.RequestsPerMinute,
			Burst:             cfg.RateLimits.Burst,
		}),
		detector: injection.NewDetector(),
	}
}

// Handler builds the route table. Health stays public; everything else sits
// behind bearer auth.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/pipeline", s.handlePipeline)
	mux.HandleFunc("GET /api/events", s.handleEvents)
	mux.HandleFunc("GET /health", s.handleHealth)

	return authMiddleware(s.cfg.Gateway.APIKey, []string{"/health"}, mux)
}

// Start begins serving on the configured host:port without blocking.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Gateway.Host, s.cfg.Gateway.Port)
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.InfoCF("gateway", "HTTP server starting", map[string]any{"addr": addr})
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.ErrorCF("gateway", "HTTP server error", map[string]any{"error": err.Error()})
		}
	}()
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Version: Version})
}
