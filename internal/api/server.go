// Package api exposes the analysis operations over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"token-risk-lab/internal/domain"
	"token-risk-lab/internal/observability"
)

// Service is the subset of the orchestrator the transport needs.
type Service interface {
	Submit(ctx context.Context, address string, chainID int64) (*domain.AnalysisTask, error)
	Status(ctx context.Context, taskID string) (*domain.AnalysisTask, error)
	Result(ctx context.Context, taskID string) (*domain.FinalAnalysis, error)
	History(ctx context.Context, address string, chainID int64, limit int) ([]*domain.FinalAnalysis, error)
}

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

// Options configures the server. Only Service is required.
type Options struct {
	Service Service
	Logger  zerolog.Logger

	// Gatherer backs GET /metrics; the route is absent when nil.
	Gatherer prometheus.Gatherer

	// Checks are run by GET /health, keyed by dependency name.
	Checks map[string]HealthCheck

	// PollInterval is how often a websocket stream re-reads task status.
	PollInterval time.Duration

	Debug bool
}

// Server is the HTTP transport.
type Server struct {
	engine *gin.Engine
	svc    Service
	log    zerolog.Logger
	checks map[string]HealthCheck
	poll   time.Duration
	now    func() time.Time
}

// NewServer builds the gin engine and registers every route.
func NewServer(opts Options) *Server {
	if opts.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}

	s := &Server{
		engine: gin.New(),
		svc:    opts.Service,
		log:    opts.Logger,
		checks: opts.Checks,
		poll:   opts.PollInterval,
		now:    time.Now,
	}
	s.engine.Use(gin.Recovery(), requestLogger(s.log))

	s.engine.GET("/health", s.health)
	if opts.Gatherer != nil {
		s.engine.GET("/metrics", gin.WrapH(observability.Handler(opts.Gatherer)))
	}

	v1 := s.engine.Group("/api/v1")
	{
		v1.POST("/analysis", s.submit)
		v1.GET("/analysis/:id/status", s.status)
		v1.GET("/analysis/:id/results", s.results)
		v1.GET("/analysis/:id/ws", s.stream)
		v1.GET("/tokens/:chain/:address/history", s.history)
	}
	return s
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.log.Info().Msg("http server stopped")
	return nil
}

func (s *Server) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	code := http.StatusOK
	status := "healthy"
	checks := gin.H{"api": "ok"}
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			checks[name] = err.Error()
			code = http.StatusServiceUnavailable
			status = "degraded"
			continue
		}
		checks[name] = "ok"
	}

	c.JSON(code, gin.H{
		"status":    status,
		"timestamp": s.now().UTC(),
		"checks":    checks,
	})
}

func requestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		ev := log.Debug()
		if c.Writer.Status() >= http.StatusInternalServerError {
			ev = log.Warn()
		}
		ev.Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}
