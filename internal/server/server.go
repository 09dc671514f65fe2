// Package server exposes the evaluation engine over HTTP.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"partnerscope/internal/common/config"
	apperrors "partnerscope/internal/common/errors"
	"partnerscope/internal/common/logger"
	"partnerscope/internal/session"
)

// Server wires the session manager to the HTTP surface.
type Server struct {
	cfg     *config.Config
	manager *session.Manager
	logger  logger.Logger
	engine  *gin.Engine
	http    *http.Server
}

func New(cfg *config.Config, manager *session.Manager, log logger.Logger) *Server {
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:     cfg,
		manager: manager,
		logger:  log.With(map[string]interface{}{"component": "http-server"}),
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), s.requestLogger())
	s.registerRoutes(engine)
	s.engine = engine

	s.http = &http.Server{
		Addr:        cfg.Server.Address,
		Handler:     engine,
		ReadTimeout: config.GetDuration(cfg.Server.ReadTimeout),
	}
	return s
}

func (s *Server) registerRoutes(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) { c.String(http.StatusOK, "OK") })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/dimensions", s.handleDimensions)

	r.POST("/session", s.handleCreateSession)
	r.GET("/session/:id", s.handleGetSession)
	r.DELETE("/session/:id", s.handleDeleteSession)

	r.POST("/evaluation/chat", s.handleChat)
	r.POST("/evaluation/strategy/propose", s.dispatchHandler(session.ActionProposeStrategy))
	r.POST("/evaluation/strategy/modify", s.dispatchHandler(session.ActionModifyStrategy))
	r.POST("/evaluation/strategy/confirm", s.dispatchHandler(session.ActionConfirmStrategy))
	r.POST("/evaluation/run", s.dispatchHandler(session.ActionConfirmAndRun))
	r.POST("/evaluation/refine", s.dispatchHandler(session.ActionRefineResults))
	r.POST("/evaluation/exclude", s.dispatchHandler(session.ActionExclude))
	r.POST("/evaluation/adjust-weight", s.dispatchHandler(session.ActionAdjustWeight))
	r.POST("/evaluation/undo", s.dispatchHandler(session.ActionUndo))
	r.POST("/evaluation/reset", s.dispatchHandler(session.ActionReset))

	r.POST("/compare/evaluate", s.dispatchHandler(session.ActionEvaluateExternal))

	r.GET("/search/stream", s.handleSearchStream)
	r.GET("/costs/stream", s.handleCostStream)
}

// Run blocks serving HTTP until the listener fails or Shutdown is called.
func (s *Server) Run() error {
	s.logger.Info("http server listening", map[string]interface{}{"address": s.cfg.Server.Address})
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests within the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	timeout := config.GetDuration(s.cfg.Server.ShutdownTimeout)
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return s.http.Shutdown(shutdownCtx)
}

// Engine exposes the router for httptest in package tests.
func (s *Server) Engine() *gin.Engine { return s.engine }

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("request", map[string]interface{}{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		})
	}
}

// writeError maps any error onto the standard payload and status.
func (s *Server) writeError(c *gin.Context, err error) {
	status, payload := apperrors.ToHTTPPayload(err)
	if status >= http.StatusInternalServerError {
		s.logger.WithError(err).Error("request failed", map[string]interface{}{
			"path": c.Request.URL.Path,
		})
	}
	c.JSON(status, payload)
}
