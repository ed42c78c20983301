package server

import (
	"context"
	"net/http"
	"path"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// defaultBodyLimit bounds request bodies; generation requests are small
// JSON documents plus a handful of reference image URLs.
const defaultBodyLimit = "1M"

// Server wraps the Echo server
type Server struct {
	echo    *echo.Echo
	handler *Handler
}

// Config holds server configuration options
type Config struct {
	MetricsEnabled  bool   // Whether to expose Prometheus metrics endpoint
	MetricsEndpoint string // HTTP path for metrics endpoint (default: /metrics)
}

// New creates a new HTTP server
func New(svc Service, cfg *Config) *Server {
	e := echo.New()
	e.HideBanner = true

	handler := NewHandler(svc)

	// Global middleware stack (order matters)
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit(defaultBodyLimit))

	// Public routes
	e.GET("/health", handler.Health)
	if cfg != nil && cfg.MetricsEnabled {
		metricsPath := "/metrics"
		if cfg.MetricsEndpoint != "" {
			// Normalize path to prevent traversal attacks
			metricsPath = path.Clean(cfg.MetricsEndpoint)
		}
		e.GET(metricsPath, echo.WrapHandler(promhttp.Handler()))
	}

	// API routes
	e.POST("/v1/generations", handler.Generate)
	e.GET("/v1/generations/:provider/:id", handler.GetStatus)
	e.DELETE("/v1/generations/:provider/:id", handler.Cancel)

	e.GET("/v1/providers", handler.ListProviders)
	e.GET("/v1/providers/:provider/capabilities", handler.GetCapabilities)
	e.GET("/v1/providers/:provider/quota", handler.GetQuota)
	e.GET("/v1/providers/:provider/metrics", handler.GetMetrics)
	e.GET("/v1/providers/:provider/sla", handler.GetSLA)
	e.GET("/v1/metrics/providers", handler.ListMetrics)

	e.GET("/v1/cache/stats", handler.CacheStats)
	e.DELETE("/v1/cache", handler.ClearCache)

	e.GET("/v1/health/status", handler.HealthStatus)
	e.GET("/v1/health/report", handler.UptimeReport)

	return &Server{
		echo:    e,
		handler: handler,
	}
}

// Start starts the HTTP server on the given address
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// ServeHTTP implements the http.Handler interface, allowing Server to be used with httptest
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
