// Package api serves the REST and websocket surface of the matcher.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/clinical-trial-matcher/internal/app"
	"github.com/clinical-trial-matcher/internal/domain"
	"github.com/clinical-trial-matcher/internal/middleware"
	"github.com/clinical-trial-matcher/pkg/resilience"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Version is reported by the health endpoint
const Version = "1.0.0"

// Server represents the HTTP server
type Server struct {
	app    *app.App
	config domain.ServerConfig
	router *gin.Engine
	server *http.Server
	logger *logrus.Logger
}

// NewServer creates a new HTTP server instance
func NewServer(a *app.App) *Server {
	cfg := a.Config

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	binding.Validator = structValidator{}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.RequestLogger(a.Logger))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CORS(cfg.Server.AllowedOrigins))

	server := &Server{
		app:    a,
		config: cfg.Server,
		router: router,
		logger: a.Logger,
	}
	server.setupRoutes()
	return server
}

// Handler exposes the router
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", addr).Info("HTTP server listening")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("starting server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.app.Registry, promhttp.HandlerOpts{})))

	v1 := s.router.Group("/api/v1")
	v1.Use(middleware.Throttle(s.config.ClientRate, s.config.ClientBurst))
	{
		v1.POST("/match", s.handleMatch)
		v1.GET("/match/stream", s.handleMatchStream)
		v1.GET("/matches/:request_id", s.handleGetMatchHistory)
		v1.POST("/trials/search", s.handleSearchTrials)
		v1.GET("/trials/:nct_id", s.handleGetTrial)
		v1.POST("/subscriptions", s.handleCreateSubscription)
		v1.GET("/subscriptions/:id", s.handleGetSubscription)
		v1.DELETE("/subscriptions/:id", s.handleCancelSubscription)
		v1.GET("/upstreams", s.handleUpstreams)
	}
}

// handleHealth reports backing service checks and breaker states
func (s *Server) handleHealth(c *gin.Context) {
	checks := s.app.Health(c.Request.Context())
	breakers := map[string]string{}
	status := "healthy"
	for _, u := range s.app.Upstreams() {
		breakers[u.Upstream] = u.Breaker.State
		if u.Breaker.State == resilience.StateOpen {
			status = "degraded"
		}
	}
	code := http.StatusOK
	for _, v := range checks {
		if v != "healthy" {
			status = "unhealthy"
			code = http.StatusServiceUnavailable
		}
	}

	c.JSON(code, gin.H{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"version":   Version,
		"checks":    checks,
		"breakers":  breakers,
	})
}

// handleUpstreams returns breaker, limiter and cache snapshots
func (s *Server) handleUpstreams(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"upstreams": s.app.Upstreams()})
}

func requestID(c *gin.Context) string {
	return c.GetString(middleware.RequestIDKey)
}
