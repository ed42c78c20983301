// Package server provides HTTP handlers and server setup for the video
// generation gateway.
package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"vidgate/internal/cache"
	"vidgate/internal/core"
	"vidgate/internal/health"
)

// Service is the application surface the HTTP layer exposes.
type Service interface {
	Generate(ctx context.Context, req *core.GenerationRequest, preferred, userID string) (*core.GenerationResult, bool, error)
	GetStatus(ctx context.Context, provider, id string) (*core.GenerationResult, error)
	Cancel(ctx context.Context, provider, id string) (bool, error)
	AvailableProviders() []string
	GetProviderCapabilities(provider string) (core.Capabilities, error)
	GetProviderQuota(provider, userID string) (core.Quota, error)
	GetProviderMetrics(provider string) (core.ProviderMetrics, error)
	AllProviderMetrics() []core.ProviderMetrics
	CacheStats(ctx context.Context) (cache.Stats, error)
	ClearCache(ctx context.Context, provider string) error
	HealthStatus(provider string) health.CheckResult
	AllHealthStatuses() []health.CheckResult
	UptimeReport(hours int) health.UptimeReport
	SLAReport(provider string, hours int) (health.SLAReport, error)
}

// Handler holds the HTTP handlers
type Handler struct {
	svc Service
}

// NewHandler creates a new handler backed by the given service
func NewHandler(svc Service) *Handler {
	return &Handler{svc: svc}
}

// generateRequest is the POST /v1/generations body.
type generateRequest struct {
	core.GenerationRequest
	PreferredProvider string `json:"preferred_provider,omitempty"`
}

// generateResponse wraps a result with cache provenance.
type generateResponse struct {
	*core.GenerationResult
	Cached bool `json:"cached"`
}

// Generate handles POST /v1/generations
func (h *Handler) Generate(c echo.Context) error {
	var req generateRequest
	if err := c.Bind(&req); err != nil {
		return handleError(c, core.NewInvalidRequestError("invalid request body: "+err.Error()))
	}

	result, cached, err := h.svc.Generate(c.Request().Context(), &req.GenerationRequest, req.PreferredProvider, req.UserID())
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(http.StatusOK, generateResponse{GenerationResult: result, Cached: cached})
}

// GetStatus handles GET /v1/generations/:provider/:id
func (h *Handler) GetStatus(c echo.Context) error {
	result, err := h.svc.GetStatus(c.Request().Context(), c.Param("provider"), c.Param("id"))
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// Cancel handles DELETE /v1/generations/:provider/:id
func (h *Handler) Cancel(c echo.Context) error {
	cancelled, err := h.svc.Cancel(c.Request().Context(), c.Param("provider"), c.Param("id"))
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"cancelled": cancelled})
}

// ListProviders handles GET /v1/providers
func (h *Handler) ListProviders(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string][]string{
		"providers": h.svc.AvailableProviders(),
	})
}

// GetCapabilities handles GET /v1/providers/:provider/capabilities
func (h *Handler) GetCapabilities(c echo.Context) error {
	caps, err := h.svc.GetProviderCapabilities(c.Param("provider"))
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(http.StatusOK, caps)
}

// GetQuota handles GET /v1/providers/:provider/quota
func (h *Handler) GetQuota(c echo.Context) error {
	userID := c.QueryParam("user_id")
	if userID == "" {
		return handleError(c, core.NewInvalidRequestError("user_id query parameter is required"))
	}
	quota, err := h.svc.GetProviderQuota(c.Param("provider"), userID)
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(http.StatusOK, quota)
}

// GetMetrics handles GET /v1/providers/:provider/metrics
func (h *Handler) GetMetrics(c echo.Context) error {
	metrics, err := h.svc.GetProviderMetrics(c.Param("provider"))
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(http.StatusOK, metrics)
}

// ListMetrics handles GET /v1/metrics/providers
func (h *Handler) ListMetrics(c echo.Context) error {
	return c.JSON(http.StatusOK, h.svc.AllProviderMetrics())
}

// GetSLA handles GET /v1/providers/:provider/sla
func (h *Handler) GetSLA(c echo.Context) error {
	hours := queryInt(c, "hours", 24)
	report, err := h.svc.SLAReport(c.Param("provider"), hours)
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(http.StatusOK, report)
}

// CacheStats handles GET /v1/cache/stats
func (h *Handler) CacheStats(c echo.Context) error {
	stats, err := h.svc.CacheStats(c.Request().Context())
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(http.StatusOK, stats)
}

// ClearCache handles DELETE /v1/cache
func (h *Handler) ClearCache(c echo.Context) error {
	if err := h.svc.ClearCache(c.Request().Context(), c.QueryParam("provider")); err != nil {
		return handleError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// HealthStatus handles GET /v1/health/status
func (h *Handler) HealthStatus(c echo.Context) error {
	if provider := c.QueryParam("provider"); provider != "" {
		return c.JSON(http.StatusOK, h.svc.HealthStatus(provider))
	}
	return c.JSON(http.StatusOK, h.svc.AllHealthStatuses())
}

// UptimeReport handles GET /v1/health/report
func (h *Handler) UptimeReport(c echo.Context) error {
	return c.JSON(http.StatusOK, h.svc.UptimeReport(queryInt(c, "hours", 24)))
}

// Health handles GET /health
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func queryInt(c echo.Context, name string, fallback int) int {
	if raw := c.QueryParam(name); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

// handleError converts dispatch errors to appropriate HTTP responses
func handleError(c echo.Context, err error) error {
	var dispatchErr *core.DispatchError
	if errors.As(err, &dispatchErr) {
		return c.JSON(dispatchErr.HTTPStatusCode(), dispatchErr.ToJSON())
	}

	// Fallback for unexpected errors
	return c.JSON(http.StatusInternalServerError, map[string]interface{}{
		"error": map[string]interface{}{
			"type":    "internal_error",
			"message": "an unexpected error occurred",
		},
	})
}
