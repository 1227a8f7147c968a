// Package server provides the HTTP surface of the gateway.
package server

import (
	"context"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"modelgate/internal/core"
	"modelgate/internal/dispatch"
)

// DefaultBodySizeLimit caps inbound request bodies at 10MB.
const DefaultBodySizeLimit int64 = 10 * 1024 * 1024

// Config holds server configuration options.
type Config struct {
	MasterKey      string // Optional: master key for authentication
	MetricsEnabled bool   // Whether to expose the Prometheus endpoint
	BodySizeLimit  int64  // Max request body size in bytes (default: 10MB)
}

// Server wraps the Echo server.
type Server struct {
	echo    *echo.Echo
	handler *Handler
}

// New creates a new HTTP server around the dispatcher.
func New(d *dispatch.Dispatcher, cfg *Config) *Server {
	e := echo.New()
	e.HideBanner = true

	handler := NewHandler(d)

	e.Use(middleware.Recover())
	e.Use(correlationMiddleware())

	bodySizeLimit := DefaultBodySizeLimit
	if cfg != nil && cfg.BodySizeLimit > 0 {
		bodySizeLimit = cfg.BodySizeLimit
	}
	e.Use(middleware.BodyLimit(strconv.FormatInt(bodySizeLimit, 10)))

	if cfg != nil && cfg.MasterKey != "" {
		e.Use(authMiddleware(cfg.MasterKey, []string{"/health", "/metrics"}))
	}

	e.GET("/health", handler.Health)
	if cfg != nil && cfg.MetricsEnabled {
		e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	}

	e.POST("/v1/chat", handler.Chat)

	return &Server{
		echo:    e,
		handler: handler,
	}
}

// correlationMiddleware attaches a correlation ID to every request context,
// honoring an inbound X-Request-ID when present.
func correlationMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := c.Request().Header.Get("X-Request-ID")
			if id == "" {
				id = uuid.New().String()
			}
			ctx := core.WithCorrelationID(c.Request().Context(), id)
			c.SetRequest(c.Request().WithContext(ctx))
			c.Response().Header().Set("X-Request-ID", id)
			return next(c)
		}
	}
}

// Start starts the HTTP server on the given address.
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// ServeHTTP implements http.Handler, allowing Server to be used with httptest.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
