// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrator provides the GraphQL shaping proxy as an embeddable
// service.
//
// # Description
//
// The orchestrator wires the shaping pipeline to HTTP. It owns the
// lifecycle of every long-running component:
//
//	             ┌────────────── errgroup ──────────────┐
//	Run(ctx) ───►│ http.Server   config.Watcher          │
//	             └──────────────────────────────────────┘
//	                  │               │
//	                  ▼               ▼
//	          handlers.GraphQL   policy.Update
//	                  │
//	                  ▼
//	          shaper.Shaper ──► ledger.MemoryStore ──► persist.Flusher ──► persist.Backend
//
// # Usage
//
//	cfg, _ := config.Load("gqlshape.yaml")
//	svc, err := orchestrator.New(cfg, orchestrator.Options{ConfigPath: "gqlshape.yaml"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := svc.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/gqlshape/pkg/config"
	"github.com/AleutianAI/gqlshape/services/orchestrator/backend"
	"github.com/AleutianAI/gqlshape/services/orchestrator/handlers"
	"github.com/AleutianAI/gqlshape/services/orchestrator/middleware"
	"github.com/AleutianAI/gqlshape/services/orchestrator/observability"
	"github.com/AleutianAI/gqlshape/services/orchestrator/routes"
	"github.com/AleutianAI/gqlshape/services/shaper"
	"github.com/AleutianAI/gqlshape/services/shaper/ledger"
	"github.com/AleutianAI/gqlshape/services/shaper/persist"
	"github.com/AleutianAI/gqlshape/services/shaper/policy"
)

// serviceName identifies the proxy in traces and logs.
const serviceName = "gqlshape"

// flushTimeout bounds a single snapshot write.
const flushTimeout = 30 * time.Second

// =============================================================================
// Service Interface
// =============================================================================

// Service is the running proxy.
type Service interface {
	// Run serves until ctx is cancelled or the listener fails, then shuts
	// down gracefully and flushes the ledger. It releases all resources
	// on return and must be called at most once.
	Run(ctx context.Context) error

	// Router returns the HTTP handler, for tests and embedding.
	Router() *gin.Engine

	// Shaper returns the shaping pipeline.
	Shaper() *shaper.Shaper

	// Close releases resources without serving. Only needed when Run is
	// never called.
	Close() error
}

// Options holds optional collaborators for New.
type Options struct {
	// ConfigPath enables hot reload of the policy section when non-empty.
	ConfigPath string

	// Lookup resolves environment overrides on reload. Nil uses none.
	Lookup config.LookupFunc

	// Logger is the service logger. Nil uses slog.Default().
	Logger *slog.Logger

	// Listener overrides the port from the config. Used by tests.
	Listener net.Listener
}

// =============================================================================
// Service Implementation
// =============================================================================

type service struct {
	config        config.Config
	opts          Options
	logger        *slog.Logger
	router        *gin.Engine
	registry      *prometheus.Registry
	metrics       *observability.Metrics
	persistence   persist.Backend
	store         *ledger.MemoryStore
	flusher       *persist.Flusher
	policy        *policy.Policy
	shaper        *shaper.Shaper
	client        *backend.Client
	watcher       *config.Watcher
	tracerCleanup func(context.Context)
	restored      int
}

// New creates the proxy service.
//
// # Description
//
// Applies defaults, validates cfg, installs the tracer, opens persistence
// and restores the ledger from it, then builds the router. A ledger that
// cannot be loaded is replaced with an empty one; a persistence backend
// that cannot be opened is an error.
//
// # Inputs
//
//   - cfg: Proxy configuration. Zero fields take their defaults.
//   - opts: Optional collaborators.
//
// # Outputs
//
//   - Service: Ready to Run.
//   - error: Invalid config, tracer or persistence failure.
func New(cfg config.Config, opts Options) (Service, error) {
	s := &service{
		config: applyConfigDefaults(cfg),
		opts:   opts,
		logger: opts.Logger,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	if err := s.config.Validate(); err != nil {
		return nil, err
	}

	cleanup, err := s.initTracer()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	s.tracerCleanup = cleanup

	if s.config.Metrics.Enabled {
		s.initMetrics()
	}

	if err := s.initLedger(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize ledger: %w", err)
	}

	s.client = backend.New(backend.Config{
		URL:     s.config.Backend.URL,
		Timeout: s.config.Backend.Timeout,
	})

	if opts.ConfigPath != "" {
		s.initWatcher()
	}

	s.initRouter()
	return s, nil
}

// Run implements Service.
func (s *service) Run(ctx context.Context) error {
	defer s.cleanup()

	ln := s.opts.Listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", fmt.Sprintf(":%d", s.config.Server.Port))
		if err != nil {
			return fmt.Errorf("failed to listen: %w", err)
		}
	}

	if err := s.flusher.Start(ctx); err != nil {
		ln.Close()
		return fmt.Errorf("failed to start ledger flusher: %w", err)
	}

	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("GraphQL shaping proxy started",
		"addr", ln.Addr().String(),
		"backend", s.config.Backend.URL,
		"persistence", s.persistence.String(),
		"restored_entries", s.restored,
		"surface_header", s.config.Surface.Header,
		"min_observations", s.config.Policy.MinObservations,
		"threshold", s.config.Policy.Threshold)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
		defer cancel()
		s.logger.Info("shutting down GraphQL shaping proxy")
		return srv.Shutdown(shutdownCtx)
	})
	if s.watcher != nil {
		g.Go(func() error { return s.watcher.Run(gctx) })
	}

	runErr := g.Wait()

	stopCtx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	if err := s.flusher.Stop(stopCtx); err != nil {
		s.logger.Error("final ledger flush failed", "error", err)
		runErr = errors.Join(runErr, err)
	}
	return runErr
}

// Router implements Service.
func (s *service) Router() *gin.Engine {
	return s.router
}

// Shaper implements Service.
func (s *service) Shaper() *shaper.Shaper {
	return s.shaper
}

// Close implements Service.
func (s *service) Close() error {
	s.cleanup()
	return nil
}

// =============================================================================
// Initialization
// =============================================================================

// applyConfigDefaults fills zero-valued fields from config.DefaultConfig.
//
// Booleans are left as given: a zero Config means metrics off and
// unsynced badger writes.
func applyConfigDefaults(cfg config.Config) config.Config {
	def := config.DefaultConfig()

	if cfg.Server.Port == 0 {
		cfg.Server.Port = def.Server.Port
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = def.Server.ShutdownTimeout
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = def.Server.MaxBodyBytes
	}
	if cfg.Backend.URL == "" {
		cfg.Backend.URL = def.Backend.URL
	}
	if cfg.Backend.Timeout == 0 {
		cfg.Backend.Timeout = def.Backend.Timeout
	}
	if cfg.Surface.Header == "" {
		cfg.Surface.Header = def.Surface.Header
	}
	if cfg.Surface.Default == "" {
		cfg.Surface.Default = def.Surface.Default
	}
	if cfg.Policy.MinObservations == 0 {
		cfg.Policy.MinObservations = def.Policy.MinObservations
	}
	// zero is outside the valid (0, 1) range, so it can only mean unset
	if cfg.Policy.Threshold == 0 {
		cfg.Policy.Threshold = def.Policy.Threshold
	}
	if cfg.Persistence.Driver == "" {
		cfg.Persistence.Driver = def.Persistence.Driver
	}
	if cfg.Persistence.Path == "" && cfg.Persistence.Driver == persist.DriverFile {
		cfg.Persistence.Path = def.Persistence.Path
	}
	if cfg.Tracing.Exporter == "" {
		cfg.Tracing.Exporter = def.Tracing.Exporter
	}
	if cfg.Tracing.SampleRatio == 0 {
		cfg.Tracing.SampleRatio = def.Tracing.SampleRatio
	}
	return cfg
}

func (s *service) initMetrics() {
	s.registry = prometheus.NewRegistry()
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.metrics = observability.NewMetrics(s.registry)
	s.logger.Info("Initialized Prometheus metrics")
}

// initLedger opens persistence, restores the ledger and builds the shaper.
func (s *service) initLedger() error {
	b, err := persist.Open(persist.Config{
		Driver:     s.config.Persistence.Driver,
		Path:       s.config.Persistence.Path,
		SyncWrites: s.config.Persistence.SyncWrites,
		GCInterval: s.config.Persistence.GCInterval,
		Logger:     s.logger,
	})
	if err != nil {
		return err
	}
	s.persistence = b

	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	snap := persist.LoadOrEmpty(ctx, b, s.logger)
	s.restored = snap.Len()

	s.store = ledger.NewMemoryStore(snap)
	s.flusher = persist.NewFlusher(s.store, b, persist.FlusherConfig{
		Interval: s.config.Persistence.FlushInterval,
		Timeout:  flushTimeout,
		Observer: s.metrics.ObserveFlush,
	}, s.logger)

	s.policy = policy.New(policyConfig(s.config.Policy))
	s.shaper = shaper.New(s.store, s.policy, s.flusher, s.logger)
	return nil
}

// initWatcher enables policy hot reload. Failure only disables reload.
func (s *service) initWatcher() {
	w, err := config.NewWatcher(s.opts.ConfigPath, s.opts.Lookup, s.applyReload, s.logger)
	if err != nil {
		s.logger.Warn("config hot reload disabled",
			"path", s.opts.ConfigPath,
			"error", err)
		return
	}
	s.watcher = w
}

// applyReload applies the hot-reloadable sections of a new config.
func (s *service) applyReload(cfg config.Config) {
	next := policyConfig(cfg.Policy)
	if next == s.policy.Config() {
		return
	}
	if err := s.policy.Update(next); err != nil {
		s.logger.Warn("ignoring invalid policy reload", "error", err)
		return
	}
	s.logger.Info("admission policy updated",
		"min_observations", next.MinObservations,
		"threshold", next.Threshold)
}

func (s *service) initRouter() {
	s.router = gin.New()
	s.router.Use(
		gin.Recovery(),
		otelgin.Middleware(serviceName),
		middleware.RequestID(),
		middleware.Surface(s.config.Surface.Header, s.config.Surface.Default),
	)

	opts := routes.Options{
		GraphQL: handlers.NewGraphQLHandler(s.shaper, s.client, s.metrics, s.logger, s.config.Server.MaxBodyBytes),
		Ledger:  handlers.NewLedgerHandler(s.shaper),
	}
	if s.registry != nil {
		opts.Gatherer = s.registry
	}
	routes.SetupRoutes(s.router, opts)
}

// cleanup releases persistence, the watcher and the tracer. Safe to call twice.
func (s *service) cleanup() {
	if s.watcher != nil {
		_ = s.watcher.Close()
		s.watcher = nil
	}
	if s.persistence != nil {
		if err := s.persistence.Close(); err != nil {
			s.logger.Warn("persistence close error", "error", err)
		}
		s.persistence = nil
	}
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
		s.tracerCleanup = nil
	}
}

func policyConfig(c config.PolicyConfig) policy.Config {
	return policy.Config{
		MinObservations: c.MinObservations,
		Threshold:       c.Threshold,
	}
}

var _ Service = (*service)(nil)
