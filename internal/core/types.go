// Package core defines the canonical types, provider contract, and error
// taxonomy shared by every part of the video dispatch layer.
package core

import (
	"time"
)

// GenerationStatus is the canonical status every provider's native status
// vocabulary is mapped into.
type GenerationStatus string

const (
	StatusQueued     GenerationStatus = "queued"
	StatusProcessing GenerationStatus = "processing"
	StatusCompleted  GenerationStatus = "completed"
	StatusFailed     GenerationStatus = "failed"
)

// AspectRatio identifies an output frame shape. Providers support different
// subsets of these.
type AspectRatio string

const (
	Aspect16x9 AspectRatio = "16:9"
	Aspect9x16 AspectRatio = "9:16"
	Aspect1x1  AspectRatio = "1:1"
	Aspect4x3  AspectRatio = "4:3"
	Aspect3x4  AspectRatio = "3:4"
	Aspect21x9 AspectRatio = "21:9"
)

// AspectRatios lists every ratio the dispatch layer understands. Requests
// outside this set are rejected before provider compatibility is considered.
var AspectRatios = []AspectRatio{Aspect16x9, Aspect9x16, Aspect1x1, Aspect4x3, Aspect3x4, Aspect21x9}

// Valid reports whether the ratio is one the dispatch layer understands.
func (a AspectRatio) Valid() bool {
	for _, r := range AspectRatios {
		if a == r {
			return true
		}
	}
	return false
}

// Quality is the requested render tier. It scales provider cost via
// CostMultiplier.
type Quality string

const (
	QualityDraft    Quality = "draft"
	QualityStandard Quality = "standard"
	QualityHigh     Quality = "high"
	QualityPremium  Quality = "premium"
)

// CostMultiplier returns the quality scaling factor applied to a provider's
// per-second rate. Unknown values are billed at the standard rate.
func (q Quality) CostMultiplier() float64 {
	switch q {
	case QualityDraft:
		return 0.5
	case QualityHigh:
		return 1.5
	case QualityPremium:
		return 2.0
	default:
		return 1.0
	}
}

// Valid reports whether q is one of the four known tiers. An empty quality
// is valid and treated as standard.
func (q Quality) Valid() bool {
	switch q {
	case "", QualityDraft, QualityStandard, QualityHigh, QualityPremium:
		return true
	}
	return false
}

// GenerationSettings are the render parameters of a request. Duration and
// AspectRatio participate in provider compatibility; the rest are passed
// through to whichever provider is selected.
type GenerationSettings struct {
	DurationSeconds int         `json:"duration_seconds"`
	AspectRatio     AspectRatio `json:"aspect_ratio"`
	Quality         Quality     `json:"quality,omitempty"`
	Style           string      `json:"style,omitempty"`
	Seed            *int64      `json:"seed,omitempty"`
	MotionIntensity *int        `json:"motion_intensity,omitempty"`
	CameraMovement  string      `json:"camera_movement,omitempty"`
	FrameRate       int         `json:"frame_rate,omitempty"`
}

// RequestMetadata carries caller identity and scheduling hints. UserID is
// required by every adapter before dispatch.
type RequestMetadata struct {
	UserID    string `json:"user_id"`
	ProjectID string `json:"project_id,omitempty"`
	Priority  int    `json:"priority,omitempty"`
}

// GenerationRequest is the canonical generation request. It is immutable
// once issued; adapters translate it to their provider's wire format.
type GenerationRequest struct {
	Prompt          string             `json:"prompt"`
	Settings        GenerationSettings `json:"settings"`
	ReferenceImages []string           `json:"reference_images,omitempty"`
	Metadata        *RequestMetadata   `json:"metadata,omitempty"`
}

// UserID returns the requesting user, or "" when no metadata is attached.
func (r *GenerationRequest) UserID() string {
	if r.Metadata == nil {
		return ""
	}
	return r.Metadata.UserID
}

// ResultMetadata describes the produced video file.
type ResultMetadata struct {
	DurationSeconds  int     `json:"duration_seconds"`
	Resolution       string  `json:"resolution,omitempty"`
	FPS              int     `json:"fps,omitempty"`
	FileSizeBytes    int64   `json:"file_size_bytes,omitempty"`
	Format           string  `json:"format,omitempty"`
	GenerationTimeMs int64   `json:"generation_time_ms,omitempty"`
	Cost             float64 `json:"cost,omitempty"`
}

// ResultPayload is present only on completed results.
type ResultPayload struct {
	VideoURL     string         `json:"video_url"`
	ThumbnailURL string         `json:"thumbnail_url,omitempty"`
	Metadata     ResultMetadata `json:"metadata"`
}

// ResultError is the structured failure attached to failed results.
// Retryable signals whether an out-of-band retry against the same provider
// could plausibly succeed; the dispatcher advances to the next candidate
// either way.
type ResultError struct {
	Message   string `json:"message"`
	Code      string `json:"code,omitempty"`
	Retryable bool   `json:"retryable"`
}

// GenerationResult is produced once per adapter invocation and never mutated
// afterwards; a status re-check yields a new result object.
type GenerationResult struct {
	ID                  string           `json:"id"`
	Provider            string           `json:"provider"`
	Status              GenerationStatus `json:"status"`
	Progress            int              `json:"progress"`
	Payload             *ResultPayload   `json:"payload,omitempty"`
	Error               *ResultError     `json:"error,omitempty"`
	EstimatedCompletion *time.Time       `json:"estimated_completion,omitempty"`
	CreatedAt           time.Time        `json:"created_at"`
	CompletedAt         *time.Time       `json:"completed_at,omitempty"`
}

// Capabilities is a provider's static capability table.
type Capabilities struct {
	MaxDurationSeconds    int           `json:"max_duration_seconds"`
	SupportedAspectRatios []AspectRatio `json:"supported_aspect_ratios"`
	CostPerSecond         float64       `json:"cost_per_second"`
}

// Supports reports whether the ratio appears in the capability table.
func (c Capabilities) Supports(ratio AspectRatio) bool {
	for _, r := range c.SupportedAspectRatios {
		if r == ratio {
			return true
		}
	}
	return false
}

// Quota is what remains of a user's allowance against one provider.
// Values are clamped at zero.
type Quota struct {
	RequestsRemaining int     `json:"requests_remaining"`
	CostRemaining     float64 `json:"cost_remaining"`
}

// ProviderMetrics is the dispatcher's running account of one provider.
// Uptime is always SuccessfulRequests/TotalRequests and stays in [0,1].
type ProviderMetrics struct {
	Provider                string    `json:"provider"`
	TotalRequests           int64     `json:"total_requests"`
	SuccessfulRequests      int64     `json:"successful_requests"`
	FailedRequests          int64     `json:"failed_requests"`
	AverageGenerationTimeMs float64   `json:"average_generation_time_ms"`
	Uptime                  float64   `json:"uptime"`
	UpdatedAt               time.Time `json:"updated_at"`
}
