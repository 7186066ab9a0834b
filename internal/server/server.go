// Package server provides the HTTP server hosting the diagnostics routes.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/container-resource-predictor/fleet-diagnostics/internal/metrics"
)

// Config configures a Server.
type Config struct {
	Name string
	Addr string
	// Production switches gin to release mode.
	Production bool
	Metrics    *metrics.Metrics
	// Gatherer backs /metrics. Nil uses the default gatherer.
	Gatherer        prometheus.Gatherer
	ShutdownTimeout time.Duration
}

// Server wraps an HTTP server with the standard endpoints.
type Server struct {
	router          *gin.Engine
	server          *http.Server
	metrics         *metrics.Metrics
	name            string
	ready           atomic.Bool
	shutdownTimeout time.Duration
}

// New creates a server with /health, /ready and /metrics registered.
func New(cfg Config) *Server {
	if cfg.Production {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}

	s := &Server{
		router:          router,
		name:            cfg.Name,
		metrics:         cfg.Metrics,
		shutdownTimeout: cfg.ShutdownTimeout,
		server: &http.Server{
			Addr:              cfg.Addr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
	}

	metricsHandler := promhttp.Handler()
	if cfg.Gatherer != nil {
		metricsHandler = promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})
	}

	s.router.GET("/health", s.healthHandler)
	s.router.GET("/ready", s.readyHandler)
	s.router.GET("/metrics", gin.WrapH(metricsHandler))

	return s
}

func (s *Server) healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"component": s.name,
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) readyHandler(c *gin.Context) {
	status := http.StatusOK
	if !s.ready.Load() {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"ready":     s.ready.Load(),
		"component": s.name,
		"timestamp": time.Now().UTC(),
	})
}

// Router returns the underlying gin router for adding routes.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setReady(ready bool) {
	s.ready.Store(ready)
	if s.metrics == nil {
		return
	}
	if ready {
		s.metrics.SetReady()
	} else {
		s.metrics.SetNotReady()
	}
}

// Serve accepts connections on l until ctx is done, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting HTTP server", "component", s.name, "addr", l.Addr().String())
		errCh <- s.server.Serve(l)
	}()
	s.setReady(true)

	select {
	case err := <-errCh:
		s.setReady(false)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutting down HTTP server", "component", s.name)
	s.setReady(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return err
	}

	slog.Info("HTTP server stopped", "component", s.name)
	return nil
}

// ListenAndServe listens on the configured address and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context) error {
	l, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, l)
}

// requestLogger logs every request once it has been handled.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		level := slog.LevelInfo
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		slog.Log(c.Request.Context(), level, "HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"peer", c.ClientIP(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}
