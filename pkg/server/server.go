// Package server exposes the tool registry over HTTP.
//
// Routes:
//
//	GET  /v1/tools        tool descriptors with JSON schemas
//	POST /v1/tools/:name  execute a tool; the body is its JSON arguments
//	GET  /v1/sessions     live sessions
//	GET  /healthz         liveness and pool counts
//	GET  /metrics         Prometheus exposition
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/entrhq/browserd/pkg/browser"
	"github.com/entrhq/browserd/pkg/browsererr"
	"github.com/entrhq/browserd/pkg/config"
	"github.com/entrhq/browserd/pkg/logging"
	"github.com/entrhq/browserd/pkg/tools"
)

// Backend is the session view the server reports on.
type Backend interface {
	ListSessions() []browser.SessionInfo
	Stats() browser.Stats
}

// Server is the HTTP transport.
type Server struct {
	cfg      config.ServerConfig
	tools    *tools.Registry
	backend  Backend
	gatherer prometheus.Gatherer
	logger   *zap.Logger
	router   *gin.Engine
	now      func() time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithGatherer sets the registry served on /metrics. Defaults to the
// Prometheus default gatherer.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// New builds the router.
func New(cfg config.ServerConfig, reg *tools.Registry, backend Backend, opts ...Option) *Server {
	s := &Server{
		cfg:      cfg,
		tools:    reg,
		backend:  backend,
		gatherer: prometheus.DefaultGatherer,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.Component(s.logger, "http_server")
	s.router = s.routes()
	return s
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(recovery(s.logger), requestLogger(s.logger))

	r.GET("/healthz", s.health)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	v1 := r.Group("/v1")
	if s.cfg.RateLimit.Enabled {
		v1.Use(rateLimit(s.cfg.RateLimit, s.now))
	}
	v1.GET("/tools", s.listTools)
	v1.POST("/tools/:name", s.executeTool)
	v1.GET("/sessions", s.listSessions)
	return r
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on cfg.Addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	s.logger.Info("http server stopped")
	return nil
}

func (s *Server) health(c *gin.Context) {
	stats := s.backend.Stats()
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"run_id":    logging.RunID(),
		"sessions":  stats.Sessions,
		"processes": stats.Pool.Processes,
		"reaper":    stats.Reaper,
	})
}

func (s *Server) listTools(c *gin.Context) {
	list := s.tools.List()
	c.JSON(http.StatusOK, gin.H{"tools": list, "count": len(list)})
}

func (s *Server) listSessions(c *gin.Context) {
	sessions := s.backend.ListSessions()
	c.JSON(http.StatusOK, gin.H{"sessions": sessions, "count": len(sessions)})
}

func (s *Server) executeTool(c *gin.Context) {
	name := c.Param("name")
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	result, err := s.tools.Execute(c.Request.Context(), name, body)
	if err != nil {
		status, payload := errorResponse(err)
		if status >= http.StatusInternalServerError {
			s.logger.Warn("tool failed", zap.String("tool", name), zap.Error(err))
		}
		c.JSON(status, payload)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tool": name, "result": result})
}

// errorResponse maps a tool failure onto an HTTP status and body.
func errorResponse(err error) (int, gin.H) {
	var (
		unknown *tools.UnknownToolError
		argErr  *tools.ArgumentError
		typed   *browsererr.Error
	)
	switch {
	case errors.As(err, &unknown):
		return http.StatusNotFound, gin.H{"error": "unknown_tool", "message": err.Error()}
	case errors.As(err, &argErr):
		return http.StatusBadRequest, gin.H{"error": "invalid_arguments", "message": argErr.Reason}
	case errors.As(err, &typed):
		return StatusFor(typed.Kind), gin.H(typed.ToMap())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, gin.H{"error": "timeout", "message": err.Error()}
	default:
		return http.StatusInternalServerError, gin.H{"error": browsererr.GenericAutomationFailure.String(), "message": err.Error()}
	}
}

// StatusFor returns the HTTP status for an error kind.
func StatusFor(k browsererr.Kind) int {
	switch k {
	case browsererr.SessionNotFound, browsererr.ElementNotFound:
		return http.StatusNotFound
	case browsererr.CapacityExceeded:
		return http.StatusTooManyRequests
	case browsererr.InvalidURL, browsererr.InvalidSelector:
		return http.StatusBadRequest
	case browsererr.ElementNotInteractable:
		return http.StatusConflict
	case browsererr.NavigationFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
