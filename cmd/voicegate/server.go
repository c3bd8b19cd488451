package main

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/voicegate/api/handlers"
	"github.com/BaSui01/voicegate/config"
	"github.com/BaSui01/voicegate/internal/metrics"
	"github.com/BaSui01/voicegate/internal/pool"
	"github.com/BaSui01/voicegate/internal/server"
	"github.com/BaSui01/voicegate/internal/telemetry"
	"github.com/BaSui01/voicegate/session"
	"github.com/BaSui01/voicegate/stage"
	"github.com/BaSui01/voicegate/transport"
	"github.com/BaSui01/voicegate/types"
)

// Server wires the gateway together: stage pool, session manager,
// WebSocket and REST transports, and the metrics listener.
type Server struct {
	cfg       *config.Config
	logger    *zap.Logger
	providers *telemetry.Providers

	collector *metrics.Collector
	pool      *pool.Pool
	sessions  *session.Manager

	httpManager    *server.Manager
	metricsManager *server.Manager
	metricsHandler http.Handler

	limiterCancel context.CancelFunc
	shutdownOnce  sync.Once
}

// NewServer builds all components from configuration. Nothing starts
// listening until Start is called.
func NewServer(cfg *config.Config, logger *zap.Logger, providers *telemetry.Providers) (*Server, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	collector := metrics.NewCollector("voicegate", registry, logger)

	factory, err := buildStageFactory(cfg.Stage)
	if err != nil {
		return nil, err
	}

	stagePool := pool.New(pool.Config{
		Capacity: map[stage.Kind]int{
			stage.KindRecognizer:  cfg.Pool.Recognizers,
			stage.KindGenerator:   cfg.Pool.Generators,
			stage.KindSynthesizer: cfg.Pool.Synthesizers,
		},
		AcquireTimeout: cfg.Pool.AcquireTimeout,
		Prewarm:        cfg.Pool.Prewarm,
	}, factory, logger)

	sessions := session.NewManager(session.Config{
		MaxSessions:   cfg.Session.MaxSessions,
		IdleTimeout:   cfg.Session.IdleTimeout,
		IdleAction:    session.IdleAction(cfg.Session.IdleAction),
		CheckInterval: cfg.Session.CheckInterval,
		DrainTimeout:  cfg.Session.DrainTimeout,
		HistoryLimit:  cfg.Session.HistoryLimit,
	}, stagePool, collector, logger)

	srv := &Server{
		cfg:       cfg,
		logger:    logger,
		providers: providers,
		collector: collector,
		pool:      stagePool,
		sessions:  sessions,
	}
	srv.metricsHandler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	return srv, nil
}

// buildStageFactory selects the stage backend. Only the simulated
// backend ships today; real engine adapters plug in here.
func buildStageFactory(cfg config.StageConfig) (pool.Factory, error) {
	switch cfg.Backend {
	case "", "sim":
		return stage.SimFactory(stage.SimConfig{Latency: cfg.Latency}), nil
	default:
		return nil, fmt.Errorf("unknown stage backend %q", cfg.Backend)
	}
}

// Start prewarms the pool and brings up the API and metrics listeners.
func (s *Server) Start() error {
	if err := s.pool.Prewarm(s.cfg.Pool.Prewarm); err != nil {
		return fmt.Errorf("prewarm stage pool: %w", err)
	}

	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("start http server: %w", err)
	}
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("start metrics server: %w", err)
	}

	s.logger.Info("voicegate started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.Int("max_sessions", s.cfg.Session.MaxSessions))
	return nil
}

func (s *Server) startHTTPServer() error {
	agents := &transport.StaticResolver{
		Default: s.defaultAgent(),
	}

	mux := http.NewServeMux()

	ws := transport.NewHandler(s.sessions, agents, s.logger)
	mux.Handle("/api/v1/ws", ws)

	sessionAPI := handlers.NewSessionHandler(s.sessions, agents, s.logger)
	sessionAPI.Register(mux)

	health := handlers.NewHealthHandler(Version, s.logger)
	health.RegisterCheck(handlers.CheckFunc{
		CheckName: "stage_pool",
		Fn: func(ctx context.Context) error {
			stats := s.pool.Stats()
			if stats[stage.KindGenerator].Cap <= 0 {
				return fmt.Errorf("generator pool has no capacity")
			}
			return nil
		},
	})
	mux.HandleFunc("GET /health", health.HandleHealth)
	mux.HandleFunc("GET /healthz", health.HandleHealth)
	mux.HandleFunc("GET /ready", health.HandleReady)
	mux.HandleFunc("GET /readyz", health.HandleReady)
	mux.HandleFunc("GET /version", func(w http.ResponseWriter, r *http.Request) {
		handlers.WriteSuccess(w, map[string]string{
			"version":    Version,
			"build_time": BuildTime,
			"git_commit": GitCommit,
		})
	})

	limiterCtx, cancel := context.WithCancel(context.Background())
	s.limiterCancel = cancel

	middlewares := []Middleware{
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
	}
	if s.cfg.Server.RateLimit > 0 {
		middlewares = append(middlewares,
			RateLimiter(limiterCtx, s.cfg.Server.RateLimit, s.cfg.Server.RateBurst, s.logger))
	}
	if s.cfg.Telemetry.Enabled {
		middlewares = append(middlewares, OTelTracing(s.cfg.Telemetry.ServiceName))
	}
	handler := Chain(mux, middlewares...)

	s.httpManager = server.NewManager(handler, server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}, s.logger.With(zap.String("listener", "api")))

	return s.httpManager.Start()
}

func (s *Server) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", s.metricsHandler)

	s.metricsManager = server.NewManager(mux, server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    10 * time.Second,
		IdleTimeout:     60 * time.Second,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: 5 * time.Second,
	}, s.logger.With(zap.String("listener", "metrics")))

	return s.metricsManager.Start()
}

func (s *Server) defaultAgent() types.AgentConfig {
	return types.AgentConfig{
		ID:               s.cfg.Agent.ID,
		Name:             s.cfg.Agent.Name,
		Instructions:     s.cfg.Agent.Instructions,
		ContextModifiers: s.cfg.Agent.ContextModifiers,
	}
}

// WaitForShutdown blocks until the API listener stops, either by
// signal or listener error, then tears everything down in order.
func (s *Server) WaitForShutdown() {
	s.httpManager.WaitForShutdown()
	s.Shutdown()
}

// Shutdown stops accepting new work, ends every session, drains the
// stage pool, and flushes telemetry. Safe to call more than once.
func (s *Server) Shutdown() {
	s.shutdownOnce.Do(func() {
		s.logger.Info("shutting down voicegate")
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
		defer cancel()

		if s.limiterCancel != nil {
			s.limiterCancel()
		}
		if s.httpManager != nil {
			if err := s.httpManager.Shutdown(ctx); err != nil {
				s.logger.Warn("http shutdown", zap.Error(err))
			}
		}
		s.sessions.Close()
		if err := s.pool.Drain(ctx); err != nil {
			s.logger.Warn("pool drain", zap.Error(err))
		}
		if s.metricsManager != nil {
			if err := s.metricsManager.Shutdown(ctx); err != nil {
				s.logger.Warn("metrics shutdown", zap.Error(err))
			}
		}
		if s.providers != nil {
			if err := s.providers.Shutdown(ctx); err != nil {
				s.logger.Warn("telemetry shutdown", zap.Error(err))
			}
		}
		s.logger.Info("voicegate stopped")
	})
}
