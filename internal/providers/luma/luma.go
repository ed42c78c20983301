// Package luma provides the Luma Dream Machine video generation adapter.
package luma

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"vidgate/internal/core"
	"vidgate/internal/httpclient"
	"vidgate/internal/providers"
	"vidgate/internal/ratelimit"
)

const (
	providerName   = "luma"
	defaultBaseURL = "https://api.lumalabs.ai/dream-machine/v1"

	renderFactor = 10
)

// DefaultHealthURL is the endpoint the health monitor probes for Luma.
const DefaultHealthURL = defaultBaseURL + "/ping"

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
	MaxDurationSeconds: 9,
	SupportedAspectRatios: []core.AspectRatio{
		core.Aspect16x9, core.Aspect9x16, core.Aspect1x1,
		core.Aspect4x3, core.Aspect21x9,
	},
	CostPerSecond: 0.20,
}

var limits = ratelimit.Limits{
	RequestsPerMinute: 12,
	RequestsPerHour:   120,
	RequestsPerDay:    480,
	CostCeiling:       300,
}

// Provider implements core.VideoProvider for Luma.
type Provider struct {
	httpClient  *http.Client
	apiKey      string
	baseURL     string
	limiter     *ratelimit.Limiter
	unavailable atomic.Bool
}

// New creates a Luma adapter. The credential shape check is advisory only.
func New(apiKey string) (*Provider, error) {
	if apiKey == "" {
		return nil, core.NewInvalidCredentialError(providerName, "api key must not be empty")
	}
	if !strings.HasPrefix(apiKey, "luma-") {
		slog.Warn("credential does not match the expected key shape",
			"provider", providerName, "expected_prefix", "luma-")
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

// lumaRequest is the Luma generation wire format. Reference images become
// keyframe anchors.
type lumaRequest struct {
	Prompt      string         `json:"prompt"`
	AspectRatio string         `json:"aspect_ratio"`
	Duration    string         `json:"duration"` // e.g. "5s"
	Loop        bool           `json:"loop"`
	Keyframes   map[string]any `json:"keyframes,omitempty"`
}

// lumaGeneration is the Luma generation object shared by create and status.
type lumaGeneration struct {
	ID     string `json:"id"`
	State  string `json:"state"`
	Assets struct {
		Video     string `json:"video"`
		Thumbnail string `json:"thumbnail"`
	} `json:"assets"`
	FailureReason string `json:"failure_reason"`
}

// mapState maps Luma's native state vocabulary to the canonical set.
func mapState(native string) core.GenerationStatus {
	switch native {
	case "queued":
		return core.StatusQueued
	case "dreaming":
		return core.StatusProcessing
	case "completed":
		return core.StatusCompleted
	default:
		return core.StatusFailed
	}
}

func (p *Provider) toResult(gen *lumaGeneration, req *core.GenerationRequest) *core.GenerationResult {
	now := time.Now()
	result := &core.GenerationResult{
		ID:        gen.ID,
		Provider:  providerName,
		Status:    mapState(gen.State),
		CreatedAt: now,
	}

	switch result.Status {
	case core.StatusQueued:
		result.Progress = 0
	case core.StatusProcessing:
		// Luma reports no numeric progress while dreaming.
		result.Progress = 50
	case core.StatusCompleted:
		result.Progress = 100
		result.CompletedAt = &now
		result.Payload = &core.ResultPayload{
			VideoURL:     gen.Assets.Video,
			ThumbnailURL: gen.Assets.Thumbnail,
			Metadata:     core.ResultMetadata{Format: "mp4"},
		}
		if req != nil {
			result.Payload.Metadata.DurationSeconds = req.Settings.DurationSeconds
			result.Payload.Metadata.Cost = core.EstimateCost(req, capabilities.CostPerSecond)
		}
	case core.StatusFailed:
		result.Error = &core.ResultError{
			Message:   gen.FailureReason,
			Code:      "GENERATION_FAILED",
			Retryable: !strings.Contains(strings.ToLower(gen.FailureReason), "moderation"),
		}
	}

	if result.Status == core.StatusQueued || result.Status == core.StatusProcessing {
		if req != nil {
			eta := now.Add(time.Duration(req.Settings.DurationSeconds*renderFactor) * time.Second)
			result.EstimatedCompletion = &eta
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

// Generate validates, charges quota, and submits a generation.
func (p *Provider) Generate(ctx context.Context, req *core.GenerationRequest) (*core.GenerationResult, error) {
	if err := core.ValidateRequest(req, capabilities); err != nil {
		return nil, err
	}

	cost := core.EstimateCost(req, capabilities.CostPerSecond)
	p.limiter.Record(req.UserID(), cost)

	wireReq := &lumaRequest{
		Prompt:      req.Prompt,
		AspectRatio: string(req.Settings.AspectRatio),
		Duration:    fmt.Sprintf("%ds", req.Settings.DurationSeconds),
	}
	if len(req.ReferenceImages) > 0 {
		wireReq.Keyframes = map[string]any{
			"frame0": map[string]string{"type": "image", "url": req.ReferenceImages[0]},
		}
	}

	body, err := json.Marshal(wireReq)
	if err != nil {
		return failedResult(core.NewProviderError(providerName, "failed to marshal request", false, err)), nil
	}

	gen, derr := p.doGeneration(ctx, http.MethodPost, p.baseURL+"/generations", bytes.NewReader(body))
	if derr != nil {
		return failedResult(derr), nil
	}
	return p.toResult(gen, req), nil
}

// GetStatus re-checks an in-flight generation.
func (p *Provider) GetStatus(ctx context.Context, id string) (*core.GenerationResult, error) {
	gen, derr := p.doGeneration(ctx, http.MethodGet, p.baseURL+"/generations/"+id, nil)
	if derr != nil {
		return failedResult(derr), nil
	}
	return p.toResult(gen, nil), nil
}

// Cancel asks Luma to stop an in-flight generation.
func (p *Provider) Cancel(ctx context.Context, id string) (bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete, p.baseURL+"/generations/"+id, nil)
	if err != nil {
		return false, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return false, nil
	}
	defer func() {
		_ = resp.Body.Close() //nolint:errcheck
	}()
	return resp.StatusCode < 300, nil
}

// doGeneration performs one API call and decodes the generation object.
func (p *Provider) doGeneration(ctx context.Context, method, url string, body io.Reader) (*lumaGeneration, *core.DispatchError) {
	httpReq, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, core.NewProviderError(providerName, "failed to create request", false, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, core.NewProviderError(providerName, "failed to reach provider: "+err.Error(), true, err)
	}
	defer func() {
		_ = resp.Body.Close() //nolint:errcheck
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, core.NewProviderError(providerName, "failed to read response", true, err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		p.unavailable.Store(true)
		slog.Error("credential rejected, marking provider unavailable", "provider", providerName)
	}
	if resp.StatusCode >= 300 {
		return nil, core.ParseProviderError(providerName, resp.StatusCode, respBody, nil)
	}

	var gen lumaGeneration
	if err := json.Unmarshal(respBody, &gen); err != nil {
		return nil, core.NewProviderError(providerName, "failed to decode response", false, err)
	}
	if gen.ID == "" {
		return nil, core.NewProviderError(providerName, "response missing generation id", false, nil)
	}
	return &gen, nil
}
