// Package stability provides the Stability video generation adapter.
//
// Stability is the fixed-duration tier: every render is a 4-second clip and
// in-flight generations cannot be cancelled.
package stability

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"vidgate/internal/core"
	"vidgate/internal/httpclient"
	"vidgate/internal/providers"
	"vidgate/internal/ratelimit"
)

const (
	providerName   = "stability"
	defaultBaseURL = "https://api.stability.ai/v2beta"

	renderFactor = 12
)

// DefaultHealthURL is the endpoint the health monitor probes for Stability.
const DefaultHealthURL = defaultBaseURL + "/health"

func init() {
	providers.Register(providerName, func(cfg providers.Config) (core.VideoProvider, error) {
		p, err := New(cfg.APIKey)
		if err != nil {
			return nil, err
		}
		if cfg.BaseURL != "" {
			p.SetBaseURL(cfg.BaseURL)
		}
		return p, nil
	})
	providers.RegisterHealthEndpoint(providerName, DefaultHealthURL)
}

var capabilities = core.Capabilities{
	MaxDurationSeconds: 4,
	SupportedAspectRatios: []core.AspectRatio{
		core.Aspect16x9, core.Aspect9x16, core.Aspect1x1,
	},
	CostPerSecond: 0.05,
}

var limits = ratelimit.Limits{
	RequestsPerMinute: 30,
	RequestsPerHour:   300,
	RequestsPerDay:    1000,
	CostCeiling:       150,
}

// Provider implements core.VideoProvider for Stability.
type Provider struct {
	httpClient  *http.Client
	apiKey      string
	baseURL     string
	limiter     *ratelimit.Limiter
	unavailable atomic.Bool
}

// New creates a Stability adapter. The credential shape check is advisory
// only.
func New(apiKey string) (*Provider, error) {
	if apiKey == "" {
		return nil, core.NewInvalidCredentialError(providerName, "api key must not be empty")
	}
	if len(apiKey) < 32 {
		slog.Warn("credential is shorter than expected for a stability key",
			"provider", providerName)
	}
	return &Provider{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		httpClient: httpclient.NewDefaultHTTPClient(),
		limiter:    ratelimit.New(limits),
	}, nil
}

// SetBaseURL allows configuring a custom base URL for the provider.
func (p *Provider) SetBaseURL(url string) { p.baseURL = url }

func (p *Provider) Name() string      { return providerName }
func (p *Provider) IsAvailable() bool { return !p.unavailable.Load() }
func (p *Provider) MaxDuration() int  { return capabilities.MaxDurationSeconds }

func (p *Provider) SupportedAspectRatios() []core.AspectRatio {
	return capabilities.SupportedAspectRatios
}

func (p *Provider) CostPerSecond() float64                  { return capabilities.CostPerSecond }
func (p *Provider) CheckRateLimit(userID string) bool       { return p.limiter.Allow(userID) }
func (p *Provider) RemainingQuota(userID string) core.Quota { return p.limiter.Remaining(userID) }

// stabilityRequest is the Stability generation wire format.
type stabilityRequest struct {
	Prompt      string `json:"prompt"`
	AspectRatio string `json:"aspect_ratio"`
	Seed        *int64 `json:"seed,omitempty"`
	Image       string `json:"image,omitempty"`
	Motion      *int   `json:"motion_bucket_id,omitempty"`
}

// stabilityResponse covers both the 202 submission response and the polled
// result: submission carries only id, a finished poll carries the artifact.
type stabilityResponse struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	VideoURL     string `json:"video_url"`
	ThumbnailURL string `json:"thumbnail_url"`
	FinishReason string `json:"finish_reason"`
	Errors       []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// mapStatus maps Stability's native status vocabulary (and the implicit
// statuses carried by HTTP codes) to the canonical set.
func mapStatus(native string, httpStatus int) core.GenerationStatus {
	switch {
	case native == "complete" || httpStatus == http.StatusOK && native == "":
		return core.StatusCompleted
	case native == "in-progress" || httpStatus == http.StatusAccepted:
		return core.StatusProcessing
	case native == "queued":
		return core.StatusQueued
	default:
		return core.StatusFailed
	}
}

func (p *Provider) toResult(wire *stabilityResponse, httpStatus int, req *core.GenerationRequest) *core.GenerationResult {
	now := time.Now()
	result := &core.GenerationResult{
		ID:        wire.ID,
		Provider:  providerName,
		Status:    mapStatus(wire.Status, httpStatus),
		CreatedAt: now,
	}

	switch result.Status {
	case core.StatusQueued, core.StatusProcessing:
		result.Progress = 25
		eta := now.Add(time.Duration(capabilities.MaxDurationSeconds*renderFactor) * time.Second)
		result.EstimatedCompletion = &eta
	case core.StatusCompleted:
		result.Progress = 100
		result.CompletedAt = &now
		result.Payload = &core.ResultPayload{
			VideoURL:     wire.VideoURL,
			ThumbnailURL: wire.ThumbnailURL,
			Metadata: core.ResultMetadata{
				DurationSeconds: capabilities.MaxDurationSeconds,
				Format:          "mp4",
			},
		}
		if req != nil {
			result.Payload.Metadata.Cost = core.EstimateCost(req, capabilities.CostPerSecond)
		}
	case core.StatusFailed:
		msg := wire.FinishReason
		if len(wire.Errors) > 0 {
			msg = wire.Errors[0].Message
		}
		result.Error = &core.ResultError{
			Message:   msg,
			Code:      "GENERATION_FAILED",
			Retryable: wire.FinishReason != "CONTENT_FILTERED",
		}
	}
	return result
}

func failedResult(derr *core.DispatchError) *core.GenerationResult {
	return &core.GenerationResult{
		ID:        uuid.NewString(),
		Provider:  providerName,
		Status:    core.StatusFailed,
		Error:     derr.ToResultError(),
		CreatedAt: time.Now(),
	}
}

// Generate validates, charges quota, and submits a render.
func (p *Provider) Generate(ctx context.Context, req *core.GenerationRequest) (*core.GenerationResult, error) {
	if err := core.ValidateRequest(req, capabilities); err != nil {
		return nil, err
	}

	cost := core.EstimateCost(req, capabilities.CostPerSecond)
	p.limiter.Record(req.UserID(), cost)

	wireReq := &stabilityRequest{
		Prompt:      req.Prompt,
		AspectRatio: string(req.Settings.AspectRatio),
		Seed:        req.Settings.Seed,
		Motion:      req.Settings.MotionIntensity,
	}
	if len(req.ReferenceImages) > 0 {
		wireReq.Image = req.ReferenceImages[0]
	}

	body, err := json.Marshal(wireReq)
	if err != nil {
		return failedResult(core.NewProviderError(providerName, "failed to marshal request", false, err)), nil
	}

	wire, httpStatus, derr := p.do(ctx, http.MethodPost, p.baseURL+"/image-to-video", bytes.NewReader(body))
	if derr != nil {
		return failedResult(derr), nil
	}
	return p.toResult(wire, httpStatus, req), nil
}

// GetStatus re-checks an in-flight generation.
func (p *Provider) GetStatus(ctx context.Context, id string) (*core.GenerationResult, error) {
	wire, httpStatus, derr := p.do(ctx, http.MethodGet, p.baseURL+"/image-to-video/result/"+id, nil)
	if derr != nil {
		return failedResult(derr), nil
	}
	if wire.ID == "" {
		wire.ID = id
	}
	return p.toResult(wire, httpStatus, nil), nil
}

// Cancel is unsupported on the fixed-duration tier and always reports false.
func (p *Provider) Cancel(_ context.Context, _ string) (bool, error) {
	return false, nil
}

// do performs one API call and decodes the response.
func (p *Provider) do(ctx context.Context, method, url string, body io.Reader) (*stabilityResponse, int, *core.DispatchError) {
	httpReq, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, 0, core.NewProviderError(providerName, "failed to create request", false, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, 0, core.NewProviderError(providerName, "failed to reach provider: "+err.Error(), true, err)
	}
	defer func() {
		_ = resp.Body.Close() //nolint:errcheck
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, core.NewProviderError(providerName, "failed to read response", true, err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		p.unavailable.Store(true)
		slog.Error("credential rejected, marking provider unavailable", "provider", providerName)
	}
	if resp.StatusCode >= 300 {
		return nil, resp.StatusCode, core.ParseProviderError(providerName, resp.StatusCode, respBody, nil)
	}

	var wire stabilityResponse
	if err := json.Unmarshal(respBody, &wire); err != nil {
		return nil, resp.StatusCode, core.NewProviderError(providerName, "failed to decode response", false, err)
	}
	return &wire, resp.StatusCode, nil
}
