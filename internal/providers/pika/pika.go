// Package pika provides the Pika video generation adapter.
//
// Pika's status payloads are loosely shaped (fields move between nesting
// levels across API revisions), so responses are read with gjson paths
// rather than a fixed struct.
package pika

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"vidgate/internal/core"
	"vidgate/internal/httpclient"
	"vidgate/internal/providers"
	"vidgate/internal/ratelimit"
)

const (
	providerName   = "pika"
	defaultBaseURL = "https://api.pika.art/v1"

	renderFactor = 6
)

// DefaultHealthURL is the endpoint the health monitor probes for Pika.
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
	MaxDurationSeconds: 10,
	SupportedAspectRatios: []core.AspectRatio{
		core.Aspect16x9, core.Aspect9x16, core.Aspect1x1,
	},
	CostPerSecond: 0.10,
}

var limits = ratelimit.Limits{
	RequestsPerMinute: 20,
	RequestsPerHour:   200,
	RequestsPerDay:    600,
	CostCeiling:       250,
}

// Provider implements core.VideoProvider for Pika.
type Provider struct {
	httpClient  *http.Client
	apiKey      string
	baseURL     string
	limiter     *ratelimit.Limiter
	unavailable atomic.Bool
}

// New creates a Pika adapter. The credential shape check is advisory only.
func New(apiKey string) (*Provider, error) {
	if apiKey == "" {
		return nil, core.NewInvalidCredentialError(providerName, "api key must not be empty")
	}
	if !strings.HasPrefix(apiKey, "pk-") {
		slog.Warn("credential does not match the expected key shape",
			"provider", providerName, "expected_prefix", "pk-")
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

// pikaRequest is the Pika generation wire format.
type pikaRequest struct {
	Prompt      string   `json:"prompt"`
	Duration    int      `json:"duration"`
	AspectRatio string   `json:"aspect_ratio"`
	Style       string   `json:"style,omitempty"`
	Camera      string   `json:"camera,omitempty"`
	FPS         int      `json:"fps,omitempty"`
	ImageURLs   []string `json:"image_urls,omitempty"`
}

// mapStatus maps Pika's native status vocabulary to the canonical set.
func mapStatus(native string) core.GenerationStatus {
	switch native {
	case "pending", "queued":
		return core.StatusQueued
	case "generating":
		return core.StatusProcessing
	case "finished":
		return core.StatusCompleted
	default: // failed, expired, unknown
		return core.StatusFailed
	}
}

// toResult builds a canonical result from a Pika payload. The video URL has
// appeared as both video.url and result_url across API revisions; gjson
// lets us accept either.
func (p *Provider) toResult(body []byte, req *core.GenerationRequest) *core.GenerationResult {
	now := time.Now()
	doc := gjson.ParseBytes(body)
	if data := doc.Get("data"); data.Exists() {
		doc = data
	}

	result := &core.GenerationResult{
		ID:        doc.Get("job_id").String(),
		Provider:  providerName,
		Status:    mapStatus(doc.Get("status").String()),
		Progress:  int(doc.Get("progress").Int()),
		CreatedAt: now,
	}
	if result.ID == "" {
		result.ID = doc.Get("id").String()
	}

	switch result.Status {
	case core.StatusQueued, core.StatusProcessing:
		if req != nil {
			eta := now.Add(time.Duration(req.Settings.DurationSeconds*renderFactor) * time.Second)
			result.EstimatedCompletion = &eta
		}
	case core.StatusCompleted:
		result.Progress = 100
		result.CompletedAt = &now
		videoURL := doc.Get("video.url").String()
		if videoURL == "" {
			videoURL = doc.Get("result_url").String()
		}
		result.Payload = &core.ResultPayload{
			VideoURL:     videoURL,
			ThumbnailURL: doc.Get("video.thumbnail_url").String(),
			Metadata: core.ResultMetadata{
				Format:        "mp4",
				FPS:           int(doc.Get("video.fps").Int()),
				FileSizeBytes: doc.Get("video.size_bytes").Int(),
			},
		}
		if req != nil {
			result.Payload.Metadata.DurationSeconds = req.Settings.DurationSeconds
			result.Payload.Metadata.Cost = core.EstimateCost(req, capabilities.CostPerSecond)
		}
	case core.StatusFailed:
		native := doc.Get("status").String()
		result.Error = &core.ResultError{
			Message:   doc.Get("error").String(),
			Code:      strings.ToUpper(native),
			Retryable: native != "expired",
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

// Generate validates, charges quota, and submits a generation job.
func (p *Provider) Generate(ctx context.Context, req *core.GenerationRequest) (*core.GenerationResult, error) {
	if err := core.ValidateRequest(req, capabilities); err != nil {
		return nil, err
	}

	cost := core.EstimateCost(req, capabilities.CostPerSecond)
	p.limiter.Record(req.UserID(), cost)

	wireReq := &pikaRequest{
		Prompt:      req.Prompt,
		Duration:    req.Settings.DurationSeconds,
		AspectRatio: string(req.Settings.AspectRatio),
		Style:       req.Settings.Style,
		Camera:      req.Settings.CameraMovement,
		FPS:         req.Settings.FrameRate,
		ImageURLs:   req.ReferenceImages,
	}
	body, err := json.Marshal(wireReq)
	if err != nil {
		return failedResult(core.NewProviderError(providerName, "failed to marshal request", false, err)), nil
	}

	respBody, derr := p.do(ctx, http.MethodPost, p.baseURL+"/generate", bytes.NewReader(body))
	if derr != nil {
		return failedResult(derr), nil
	}
	return p.toResult(respBody, req), nil
}

// GetStatus re-checks an in-flight generation.
func (p *Provider) GetStatus(ctx context.Context, id string) (*core.GenerationResult, error) {
	respBody, derr := p.do(ctx, http.MethodGet, p.baseURL+"/jobs/"+id, nil)
	if derr != nil {
		return failedResult(derr), nil
	}
	return p.toResult(respBody, nil), nil
}

// Cancel asks Pika to stop an in-flight job.
func (p *Provider) Cancel(ctx context.Context, id string) (bool, error) {
	respBody, derr := p.do(ctx, http.MethodPost, p.baseURL+"/jobs/"+id+"/cancel", nil)
	if derr != nil {
		return false, nil
	}
	return gjson.GetBytes(respBody, "cancelled").Bool(), nil
}

// do performs one API call and returns the raw response body.
func (p *Provider) do(ctx context.Context, method, url string, body io.Reader) ([]byte, *core.DispatchError) {
	httpReq, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, core.NewProviderError(providerName, "failed to create request", false, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-API-Key", p.apiKey)

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
	return respBody, nil
}
