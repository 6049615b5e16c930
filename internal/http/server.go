// Package http binds the lifecycle operations to a JSON HTTP API.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/collectiond/internal/auth"
	"github.com/fyrsmithlabs/collectiond/internal/lifecycle"
	"github.com/fyrsmithlabs/collectiond/internal/logging"
)

// Server provides the collectiond HTTP endpoints.
type Server struct {
	echo    *echo.Echo
	coord   *lifecycle.Coordinator
	authn   auth.Authenticator
	metrics *HTTPMetrics
	logger  *zap.Logger
	config  *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
	// RateLimit is requests per second per client IP; 0 disables limiting.
	RateLimit      float64
	RateBurst      int
	MaxUploadBytes int64
}

// NewServer creates a new HTTP server.
func NewServer(coord *lifecycle.Coordinator, authn auth.Authenticator, logger *zap.Logger, cfg *Config) (*Server, error) {
	if coord == nil {
		return nil, fmt.Errorf("coordinator cannot be nil")
	}
	if authn == nil {
		return nil, fmt.Errorf("authenticator cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 8080,
		}
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 50 << 20
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:    e,
		coord:   coord,
		authn:   authn,
		metrics: NewHTTPMetrics(logger),
		logger:  logger,
		config:  cfg,
	}
	e.HTTPErrorHandler = s.errorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(s.requestContext)
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})
	e.Use(s.metrics.MetricsMiddleware())
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = int(cfg.RateLimit) + 1
		}
		e.Use(middleware.RateLimiter(middleware.NewRateLimiterMemoryStoreWithConfig(
			middleware.RateLimiterMemoryStoreConfig{
				Rate:      rate.Limit(cfg.RateLimit),
				Burst:     burst,
				ExpiresIn: 3 * time.Minute,
			},
		)))
	}

	s.registerRoutes()

	return s, nil
}

// requestContext copies the request id into the request context so that
// downstream loggers pick it up.
func (s *Server) requestContext(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := c.Response().Header().Get(echo.HeaderXRequestID)
		if id != "" {
			req := c.Request()
			c.SetRequest(req.WithContext(logging.WithRequestID(req.Context(), id)))
		}
		return next(c)
	}
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1", auth.Middleware(s.authn))

	v1.POST("/collections", s.handleCreateCollection)
	v1.GET("/collections", s.handleListCollections)
	v1.GET("/collections/:id", s.handleGetCollection)
	v1.PATCH("/collections/:id", s.handleUpdateCollection)
	v1.DELETE("/collections/:id", s.handleDeleteCollection)
	v1.GET("/collections/:id/stats", s.handleCollectionStats)

	docs := v1.Group("/collections/:id/documents")
	docs.POST("", s.handleUploadDocuments, middleware.BodyLimit(strconv.FormatInt(s.config.MaxUploadBytes, 10)+"B"))
	docs.GET("", s.handleListDocuments)
	docs.DELETE("/:file_id", s.handleDeleteDocument)
	docs.POST("/search", s.handleSearch)

	files := v1.Group("/collections/:id/files")
	files.GET("", s.handleListFiles)
	files.GET("/:file_id", s.handleGetFile)
	files.PATCH("/:file_id", s.handleUpdateFile)
	files.GET("/:file_id/download", s.handleDownload)

	v1.GET("/files", s.handleListUserFiles)
	v1.GET("/files/stats", s.handleUserStats)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	err := s.echo.Start(addr)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
