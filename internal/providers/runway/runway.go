// Package runway provides the Runway video generation adapter.
package runway

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
	providerName   = "runway"
	defaultBaseURL = "https://api.dev.runwayml.com/v1"

	// Wall-clock seconds of render time per second of output, used for the
	// completion estimate.
	renderFactor = 8
)

// DefaultHealthURL is the endpoint the health monitor probes for Runway.
const DefaultHealthURL = defaultBaseURL + "/health"

func init() {
	// Self-register with the factory
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
		core.Aspect4x3, core.Aspect3x4, core.Aspect21x9,
	},
	CostPerSecond: 0.25,
}

// limits is Runway's static per-user rate policy.
var limits = ratelimit.Limits{
	RequestsPerMinute: 10,
	RequestsPerHour:   100,
	RequestsPerDay:    400,
	CostCeiling:       500,
}

// Provider implements core.VideoProvider for Runway.
type Provider struct {
	httpClient  *http.Client
	apiKey      string
	baseURL     string
	limiter     *ratelimit.Limiter
	unavailable atomic.Bool
}

// New creates a Runway adapter. Fails only on an empty credential; a key
// that does not match Runway's usual shape is accepted with a warning.
func New(apiKey string) (*Provider, error) {
	if apiKey == "" {
		return nil, core.NewInvalidCredentialError(providerName, "api key must not be empty")
	}
	if !strings.HasPrefix(apiKey, "key_") {
		slog.Warn("credential does not match the expected key shape",
			"provider", providerName, "expected_prefix", "key_")
	}
	return &Provider{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		httpClient: httpclient.NewDefaultHTTPClient(),
		limiter:    ratelimit.New(limits),
	}, nil
}

// SetBaseURL allows configuring a custom base URL for the provider.
func (p *Provider) SetBaseURL(url string) {
	p.baseURL = url
}

// Name returns the provider identifier.
func (p *Provider) Name() string { return providerName }

// IsAvailable reports whether the adapter considers itself dispatchable.
// The flag drops when the remote rejects the credential.
func (p *Provider) IsAvailable() bool { return !p.unavailable.Load() }

// MaxDuration returns the longest clip Runway renders, in seconds.
func (p *Provider) MaxDuration() int { return capabilities.MaxDurationSeconds }

// SupportedAspectRatios returns Runway's fixed ratio set.
func (p *Provider) SupportedAspectRatios() []core.AspectRatio {
	return capabilities.SupportedAspectRatios
}

// CostPerSecond returns Runway's base per-second rate.
func (p *Provider) CostPerSecond() float64 { return capabilities.CostPerSecond }

// CheckRateLimit reports whether the user has quota left.
func (p *Provider) CheckRateLimit(userID string) bool { return p.limiter.Allow(userID) }

// RemainingQuota reports the user's remaining daily requests and cost.
func (p *Provider) RemainingQuota(userID string) core.Quota { return p.limiter.Remaining(userID) }

// runwayRequest is the Runway task creation wire format.
type runwayRequest struct {
	PromptText  string   `json:"promptText"`
	Duration    int      `json:"duration"`
	Ratio       string   `json:"ratio"`
	Seed        *int64   `json:"seed,omitempty"`
	Motion      *int     `json:"motionScore,omitempty"`
	ImagePrompt []string `json:"imagePrompt,omitempty"`
	Watermark   bool     `json:"watermark"`
}

// runwayTask is the Runway task wire format shared by create and status.
type runwayTask struct {
	ID       string   `json:"id"`
	Status   string   `json:"status"`
	Progress float64  `json:"progress"`
	Output   []string `json:"output"`
	Failure  string   `json:"failure"`
	Code     string   `json:"failureCode"`
}

func toRunwayRequest(req *core.GenerationRequest) *runwayRequest {
	return &runwayRequest{
		PromptText:  req.Prompt,
		Duration:    req.Settings.DurationSeconds,
		Ratio:       string(req.Settings.AspectRatio),
		Seed:        req.Settings.Seed,
		Motion:      req.Settings.MotionIntensity,
		ImagePrompt: req.ReferenceImages,
	}
}

// mapStatus maps Runway's native status vocabulary to the canonical set.
func mapStatus(native string) core.GenerationStatus {
	switch native {
	case "PENDING", "THROTTLED":
		return core.StatusQueued
	case "RUNNING":
		return core.StatusProcessing
	case "SUCCEEDED":
		return core.StatusCompleted
	default:
		return core.StatusFailed
	}
}

func (p *Provider) toResult(task *runwayTask, req *core.GenerationRequest) *core.GenerationResult {
	now := time.Now()
	result := &core.GenerationResult{
		ID:        task.ID,
		Provider:  providerName,
		Status:    mapStatus(task.Status),
		Progress:  int(task.Progress * 100),
		CreatedAt: now,
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
		payload := &core.ResultPayload{Metadata: core.ResultMetadata{Format: "mp4"}}
		if len(task.Output) > 0 {
			payload.VideoURL = task.Output[0]
		}
		if len(task.Output) > 1 {
			payload.ThumbnailURL = task.Output[1]
		}
		if req != nil {
			payload.Metadata.DurationSeconds = req.Settings.DurationSeconds
			payload.Metadata.Cost = core.EstimateCost(req, capabilities.CostPerSecond)
		}
		result.Payload = payload
	case core.StatusFailed:
		result.Error = &core.ResultError{
			Message:   task.Failure,
			Code:      task.Code,
			Retryable: task.Status == "CANCELLED" || strings.HasPrefix(task.Code, "INTERNAL"),
		}
	}
	return result
}

// failedResult wraps a dispatch error into the failed result the contract
// requires instead of propagating remote failures.
func failedResult(derr *core.DispatchError) *core.GenerationResult {
	return &core.GenerationResult{
		ID:        uuid.NewString(),
		Provider:  providerName,
		Status:    core.StatusFailed,
		Error:     derr.ToResultError(),
		CreatedAt: time.Now(),
	}
}

// Generate validates, charges quota, and submits a generation task. Remote
// failures come back as a failed result, never as an error.
func (p *Provider) Generate(ctx context.Context, req *core.GenerationRequest) (*core.GenerationResult, error) {
	if err := core.ValidateRequest(req, capabilities); err != nil {
		return nil, err
	}

	// Quota is charged only on the path that dispatches.
	cost := core.EstimateCost(req, capabilities.CostPerSecond)
	p.limiter.Record(req.UserID(), cost)

	body, err := json.Marshal(toRunwayRequest(req))
	if err != nil {
		return failedResult(core.NewProviderError(providerName, "failed to marshal request", false, err)), nil
	}

	task, derr := p.doTaskRequest(ctx, http.MethodPost, p.baseURL+"/image_to_video", bytes.NewReader(body))
	if derr != nil {
		return failedResult(derr), nil
	}
	return p.toResult(task, req), nil
}

// GetStatus re-checks an in-flight generation.
func (p *Provider) GetStatus(ctx context.Context, id string) (*core.GenerationResult, error) {
	task, derr := p.doTaskRequest(ctx, http.MethodGet, p.baseURL+"/tasks/"+id, nil)
	if derr != nil {
		return failedResult(derr), nil
	}
	return p.toResult(task, nil), nil
}

// Cancel asks Runway to stop an in-flight task. Best effort; the remote
// call's outcome maps directly to the returned bool.
func (p *Provider) Cancel(ctx context.Context, id string) (bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete, p.baseURL+"/tasks/"+id, nil)
	if err != nil {
		return false, err
	}
	p.setHeaders(httpReq)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return false, nil
	}
	defer func() {
		_ = resp.Body.Close() //nolint:errcheck
	}()
	return resp.StatusCode < 300, nil
}

func (p *Provider) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("X-Runway-Version", "2024-11-06")
}

// doTaskRequest performs one API call and decodes the task payload.
func (p *Provider) doTaskRequest(ctx context.Context, method, url string, body io.Reader) (*runwayTask, *core.DispatchError) {
	httpReq, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, core.NewProviderError(providerName, "failed to create request", false, err)
	}
	p.setHeaders(httpReq)

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

	var task runwayTask
	if err := json.Unmarshal(respBody, &task); err != nil {
		return nil, core.NewProviderError(providerName, "failed to decode response", false, err)
	}
	if task.ID == "" {
		return nil, core.NewProviderError(providerName, fmt.Sprintf("response missing task id: %s", respBody), false, nil)
	}
	return &task, nil
}
