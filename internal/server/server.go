// Package server provides the HTTP dispatcher (C8) for the NDW generation
// gateway: prefetch-first /generate, NDJSON streaming, prefetch admin
// endpoints, and diagnostics.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ndwlabs/ndw-gateway/internal/category"
	"github.com/ndwlabs/ndw-gateway/internal/config"
	"github.com/ndwlabs/ndw-gateway/internal/generate"
	"github.com/ndwlabs/ndw-gateway/internal/metrics"
	"github.com/ndwlabs/ndw-gateway/internal/prefetch"
	"github.com/ndwlabs/ndw-gateway/internal/provider"
	"github.com/ndwlabs/ndw-gateway/internal/ratelimit"
	"github.com/ndwlabs/ndw-gateway/internal/topup"
)

// Server is the HTTP server for the NDW gateway.
type Server struct {
	cfg       *config.ServerConfig
	prefetch  PrefetchConfig
	logger    *zap.Logger
	server    *http.Server
	providers []provider.Client
	queue     *prefetch.Queue
	rotator   *category.Rotator
	engine    *generate.Engine
	scheduler *topup.Scheduler
	bucket    *ratelimit.Bucket
	counter   *metrics.Counter
	stub      provider.Client
	reviewOn  bool
}

// PrefetchConfig carries the top-up tuning knobs the dispatcher consults
// directly (low-water trigger, serve delay) without needing the whole
// config.Config.
type PrefetchConfig struct {
	LowWater     int
	ServeDelayMS int
}

// New constructs a Server from its fully-wired dependencies.
func New(
	cfg *config.ServerConfig,
	prefetchCfg PrefetchConfig,
	logger *zap.Logger,
	providers []provider.Client,
	queue *prefetch.Queue,
	rotator *category.Rotator,
	engine *generate.Engine,
	scheduler *topup.Scheduler,
	bucket *ratelimit.Bucket,
	counter *metrics.Counter,
	reviewOn bool,
) *Server {
	return &Server{
		cfg:       cfg,
		prefetch:  prefetchCfg,
		logger:    logger,
		providers: providers,
		queue:     queue,
		rotator:   rotator,
		engine:    engine,
		scheduler: scheduler,
		bucket:    bucket,
		counter:   counter,
		stub:      provider.NewStubClient("offline-stub", true),
		reviewOn:  reviewOn,
	}
}

// Router builds the chi router. Exposed separately from Start so tests can
// drive it with httptest without binding a real socket.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(90 * time.Second))
	r.Use(middleware.Compress(5))

	r.Post("/generate", s.handleGenerate)
	r.Post("/generate/stream", s.handleGenerateStream)
	r.Post("/prefetch/fill", s.handlePrefetchFill)
	r.Get("/prefetch/status", s.handlePrefetchStatus)
	r.Get("/prefetch/previews", s.handlePrefetchPreviews)
	r.Post("/prefetch/take", s.handlePrefetchTake)
	r.Post("/validate", s.handleValidate)
	r.Get("/metrics/total", s.handleMetricsTotal)
	r.Get("/llm/status", s.handleLLMStatus)
	r.Get("/llm/probe", s.handleLLMProbe)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Get("/health", s.handleHealth)

	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Router(),
	}
	s.logger.Info("starting ndw gateway", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server and the background scheduler.
func (s *Server) Stop(ctx context.Context) error {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) configuredProviders() []provider.Client {
	out := make([]provider.Client, 0, len(s.providers))
	for _, p := range s.providers {
		if p.Configured() {
			out = append(out, p)
		}
	}
	return out
}

func (s *Server) anyProviderConfigured() bool {
	return len(s.configuredProviders()) > 0
}
